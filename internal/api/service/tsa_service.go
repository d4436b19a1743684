// Package service runs the time-stamp pipeline on behalf of the HTTP layer and the CLI.
package service

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/remiblancher/qtsa/internal/api/dto"
	"github.com/remiblancher/qtsa/internal/api/middleware"
	"github.com/remiblancher/qtsa/internal/metrics"
	"github.com/remiblancher/qtsa/internal/tsa"
)

// TSAService issues time-stamp tokens and reports on the signing identity.
type TSAService struct {
	builder *tsa.Builder
	version string
	log     logrus.FieldLogger
}

// NewTSAService creates a new TSAService.
func NewTSAService(builder *tsa.Builder, version string, log logrus.FieldLogger) *TSAService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TSAService{builder: builder, version: version, log: log}
}

// Issue runs the token pipeline for body at genTime. Every outcome is
// logged and counted; the caller only maps the Result to a reply.
func (s *TSAService) Issue(ctx context.Context, body []byte, genTime time.Time) tsa.Result {
	res := s.builder.IssueAt(body, genTime)

	fields := logrus.Fields{
		"request_id": middleware.RequestIDFromContext(ctx),
		"gen_time":   genTime.Unix(),
	}
	if !res.OK() {
		var be *tsa.BuildError
		reason := metrics.OutcomeSigningError
		if errors.As(res.Err, &be) {
			reason = be.Reason()
			fields["stage"] = be.Stage.String()
		}
		fields["reason"] = reason
		s.log.WithFields(fields).WithError(res.Err).Warn("time-stamp request refused")
		metrics.ObserveOutcome(reason)
		return res
	}

	digest := tsa.HashName(res.Digest)
	fields["digest"] = digest
	fields["serial"] = res.Token.SerialNumber().String()
	fields["cert_req"] = res.Request.CertReq
	if res.Request.Nonce != nil {
		fields["nonce"] = res.Request.Nonce.String()
	}
	s.log.WithFields(fields).Info("time-stamp token issued")
	metrics.ObserveOutcome(metrics.OutcomeGranted)
	metrics.ObserveToken(digest)
	return res
}

// Health summarizes the responder configuration.
func (s *TSAService) Health() dto.HealthResponse {
	id := s.builder.Identity()
	digests := make([]string, 0, len(s.builder.Digests()))
	for _, h := range s.builder.Digests() {
		digests = append(digests, tsa.HashName(h))
	}
	status := "ok"
	if !id.HasTimeStampingEKU() {
		status = "degraded"
	}
	return dto.HealthResponse{
		Status:  status,
		Version: s.version,
		Signer: &dto.SignerInfo{
			CertChainItem: certItem(id.Certificate()),
			Algorithm:     id.Algorithm(),
			TimeStamping:  id.HasTimeStampingEKU(),
		},
		Digests: digests,
		Policy:  s.builder.Policy().String(),
	}
}

// Ready reports whether tokens signed at now would carry a usable certificate.
func (s *TSAService) Ready(now time.Time) dto.ReadyResponse {
	cert := s.builder.Identity().Certificate()
	checks := map[string]bool{
		"signer_loaded": cert != nil,
		"signer_valid":  cert != nil && !now.Before(cert.NotBefore) && !now.After(cert.NotAfter),
	}
	ready := true
	for _, ok := range checks {
		ready = ready && ok
	}
	return dto.ReadyResponse{Ready: ready, Checks: checks}
}

// Info describes a DER TimeStampResp or a bare DER token.
func Info(data []byte) (*dto.TSAInfo, error) {
	token, status, err := parseReplyOrToken(data)
	if err != nil {
		return nil, err
	}
	info, err := tokenInfo(token)
	if err != nil {
		return nil, err
	}
	info.Status = status
	return info, nil
}

// Verify checks a DER TimeStampResp or bare token against config. Verification
// failures are reported in the response; only unreadable input is an error.
func Verify(data []byte, config *tsa.VerifyConfig) (*dto.TSAVerifyResponse, error) {
	token, _, err := parseReplyOrToken(data)
	if err != nil {
		return nil, err
	}

	result, err := tsa.Verify(token.SignedData, config)
	if err != nil {
		return &dto.TSAVerifyResponse{
			Valid:  false,
			Errors: []string{err.Error()},
		}, nil
	}

	resp := &dto.TSAVerifyResponse{Valid: result.Verified}
	if resp.Info, err = tokenInfo(result.Token); err != nil {
		return nil, err
	}
	if result.SignerCert != nil {
		item := certItem(result.SignerCert)
		resp.Info.TSACertificate = &item
	}

	if config != nil && (len(config.Data) > 0 || len(config.Hash) > 0) && !result.HashMatch {
		resp.Valid = false
		resp.Errors = append(resp.Errors, "hash mismatch: timestamped hash does not match provided data")
	}
	return resp, nil
}

// parseReplyOrToken accepts either encoding, trying TimeStampResp first.
func parseReplyOrToken(data []byte) (*tsa.Token, string, error) {
	if resp, err := tsa.ParseResponse(data); err == nil {
		if resp.Token == nil {
			return nil, resp.StatusString(), fmt.Errorf("%w: %s (%s)", tsa.ErrInvalidResponse, resp.StatusString(), resp.FailureString())
		}
		return resp.Token, resp.StatusString(), nil
	}
	token, err := tsa.ParseToken(data)
	if err != nil {
		return nil, "", err
	}
	return token, "", nil
}

func tokenInfo(token *tsa.Token) (*dto.TSAInfo, error) {
	if token == nil || token.Info == nil {
		return nil, fmt.Errorf("%w: no TSTInfo", tsa.ErrInvalidToken)
	}
	hashAlg, _ := token.HashAlgorithm()

	info := &dto.TSAInfo{
		Time:          token.GenTime().UTC().Format(time.RFC3339),
		Serial:        hex.EncodeToString(token.SerialNumber().Bytes()),
		Policy:        token.Policy().String(),
		HashAlgorithm: tsa.HashName(hashAlg),
		Hash:          hex.EncodeToString(token.HashedMessage()),
		Ordering:      token.Info.Ordering,
	}
	if token.Info.Nonce != nil {
		info.Nonce = token.Info.Nonce.String()
	}
	certs, err := token.Certificates()
	if err != nil {
		return nil, err
	}
	info.Certificates = len(certs)
	return info, nil
}

func certItem(cert *x509.Certificate) dto.CertChainItem {
	if cert == nil {
		return dto.CertChainItem{}
	}
	return dto.CertChainItem{
		Subject:  cert.Subject.String(),
		Issuer:   cert.Issuer.String(),
		Serial:   hex.EncodeToString(cert.SerialNumber.Bytes()),
		NotAfter: cert.NotAfter.UTC().Format(time.RFC3339),
	}
}

// Package tsa implements the RFC 3161 Time-Stamp Protocol token pipeline.
package tsa

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/remiblancher/qtsa/internal/cms"
)

// DefaultPolicy is the policy OID attached to every issued token.
var DefaultPolicy = asn1.ObjectIdentifier{1, 2, 3, 4}

// TSTInfo represents the timestamp token info (RFC 3161 Section 2.4.2).
type TSTInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint MessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time        `asn1:"generalized"`
	Accuracy       Accuracy         `asn1:"optional"`
	Ordering       bool             `asn1:"optional,default:false"`
	Nonce          *big.Int         `asn1:"optional"`
	TSA            asn1.RawValue    `asn1:"optional,tag:0"`
	Extensions     []pkix.Extension `asn1:"optional,tag:1"`
}

// Accuracy represents the accuracy of the timestamp (RFC 3161 Section 2.4.2).
// Tokens issued here leave it absent; it is decoded from foreign tokens.
type Accuracy struct {
	Seconds int `asn1:"optional"`
	Millis  int `asn1:"optional,tag:0"`
	Micros  int `asn1:"optional,tag:1"`
}

// TokenConfig contains options for creating a timestamp token.
type TokenConfig struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer
	Chain       []*x509.Certificate
	Policy      asn1.ObjectIdentifier
	GenTime     time.Time
	// DigestAlg signs the token and hashes the ESS certificate id.
	DigestAlg crypto.Hash
}

// Token represents a complete timestamp token.
type Token struct {
	Info       *TSTInfo
	SignedData []byte // CMS SignedData containing the TSTInfo
}

// CreateToken creates a timestamp token from a request.
func CreateToken(req *TimeStampReq, config *TokenConfig, serialGen SerialGenerator) (*Token, error) {
	if config.Certificate == nil {
		return nil, fmt.Errorf("certificate is required")
	}
	if config.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if len(config.Policy) == 0 {
		return nil, fmt.Errorf("policy OID is required")
	}
	if config.DigestAlg == 0 {
		return nil, fmt.Errorf("digest algorithm is required")
	}

	serial, err := serialGen.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	genTime := config.GenTime.UTC().Truncate(time.Second)
	tstInfo := TSTInfo{
		Version:        1,
		Policy:         config.Policy,
		MessageImprint: req.MessageImprint,
		SerialNumber:   serial,
		GenTime:        genTime,
		Nonce:          req.Nonce,
	}

	tstInfoDER, err := asn1.Marshal(tstInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TSTInfo: %w", err)
	}

	// Certificates travel only when the client asked for them. The
	// signing-time attribute is left to the host clock; only genTime
	// carries the requested time.
	signedData, err := cms.Sign(tstInfoDER, &cms.SignerConfig{
		Certificate:        config.Certificate,
		Signer:             config.Signer,
		DigestAlg:          config.DigestAlg,
		ContentType:        cms.OIDTSTInfo,
		IncludeCerts:       req.CertReq,
		Chain:              config.Chain,
		SigningCertificate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SignedData: %w", err)
	}

	return &Token{
		Info:       &tstInfo,
		SignedData: signedData,
	}, nil
}

// ParseToken parses a DER-encoded timestamp token (CMS SignedData).
func ParseToken(data []byte) (*Token, error) {
	signedData, err := cms.ParseSignedData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !signedData.EncapContentInfo.EContentType.Equal(cms.OIDTSTInfo) {
		return nil, fmt.Errorf("%w: unexpected encapsulated content type: %v",
			ErrInvalidToken, signedData.EncapContentInfo.EContentType)
	}

	var tstInfo TSTInfo
	rest, err := asn1.Unmarshal(signedData.Content(), &tstInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse TSTInfo: %v", ErrInvalidToken, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after TSTInfo", ErrInvalidToken)
	}

	return &Token{
		Info:       &tstInfo,
		SignedData: data,
	}, nil
}

// GenTime returns the generation time of the token.
func (t *Token) GenTime() time.Time {
	if t.Info == nil {
		return time.Time{}
	}
	return t.Info.GenTime
}

// SerialNumber returns the serial number of the token.
func (t *Token) SerialNumber() *big.Int {
	if t.Info == nil {
		return nil
	}
	return t.Info.SerialNumber
}

// Policy returns the policy OID of the token.
func (t *Token) Policy() asn1.ObjectIdentifier {
	if t.Info == nil {
		return nil
	}
	return t.Info.Policy
}

// HashAlgorithm returns the hash algorithm used in the message imprint.
func (t *Token) HashAlgorithm() (crypto.Hash, error) {
	if t.Info == nil {
		return 0, fmt.Errorf("no TSTInfo")
	}
	return ResolveDigest(t.Info.MessageImprint.HashAlgorithm)
}

// HashedMessage returns the hashed message from the message imprint.
func (t *Token) HashedMessage() []byte {
	if t.Info == nil {
		return nil
	}
	return t.Info.MessageImprint.HashedMessage
}

// Certificates returns the certificates embedded in the token, signer first
// for tokens issued here.
func (t *Token) Certificates() ([]*x509.Certificate, error) {
	sd, err := cms.ParseSignedData(t.SignedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	certs, err := sd.Certificates.Parse()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return certs, nil
}

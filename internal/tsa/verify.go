package tsa

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/remiblancher/qtsa/internal/cms"
)

// VerifyConfig contains options for verifying a timestamp token.
type VerifyConfig struct {
	// Roots is the pool of trusted CA certificates
	Roots *x509.CertPool
	// Intermediates is the pool of intermediate CA certificates
	Intermediates *x509.CertPool
	// CurrentTime is the time to use for chain verification (default: now)
	CurrentTime time.Time
	// Certificates are used to find the signer when the token carries none
	Certificates []*x509.Certificate
	// Data is the original data that was timestamped (optional)
	Data []byte
	// Hash is the hash of the original data (alternative to Data)
	Hash []byte
}

// VerifyResult contains the result of token verification.
type VerifyResult struct {
	// Token is the parsed timestamp token
	Token *Token
	// SignerCert is the certificate that signed the token
	SignerCert *x509.Certificate
	// Verified is true if the signature is valid
	Verified bool
	// HashMatch is true if the data hash matches (only if Data or Hash provided)
	HashMatch bool
}

// Verify verifies a timestamp token.
func Verify(tokenData []byte, config *VerifyConfig) (*VerifyResult, error) {
	if config == nil {
		config = &VerifyConfig{}
	}

	token, err := ParseToken(tokenData)
	if err != nil {
		return nil, err
	}

	cmsResult, err := cms.Verify(tokenData, &cms.VerifyConfig{Certificates: config.Certificates})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	signerCert := cmsResult.SignerCert

	if err := verifyTSAEKU(signerCert); err != nil {
		return nil, err
	}

	if err := verifySigningCertificate(tokenData, signerCert); err != nil {
		return nil, err
	}

	if config.Roots != nil {
		if err := verifyCertChain(signerCert, cmsResult.Certificates, config); err != nil {
			return nil, fmt.Errorf("%w: certificate chain: %v", ErrVerificationFailed, err)
		}
	}

	result := &VerifyResult{
		Token:      token,
		SignerCert: signerCert,
		Verified:   true,
	}

	if len(config.Data) > 0 || len(config.Hash) > 0 {
		hashMatch, err := verifyDataHash(token, config)
		if err != nil {
			return nil, err
		}
		result.HashMatch = hashMatch
	}

	return result, nil
}

// verifyTSAEKU checks that the certificate has the timeStamping EKU.
func verifyTSAEKU(cert *x509.Certificate) error {
	for _, eku := range cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageTimeStamping {
			return nil
		}
	}
	return fmt.Errorf("%w: certificate does not have timeStamping EKU", ErrVerificationFailed)
}

// verifySigningCertificate checks the ESS attribute names the signer certificate.
func verifySigningCertificate(tokenData []byte, cert *x509.Certificate) error {
	sd, err := cms.ParseSignedData(tokenData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	attrs := sd.SignerInfos[0].SignedAttrs

	for _, attr := range attrs {
		if !attr.Type.Equal(cms.OIDSigningCertificate) && !attr.Type.Equal(cms.OIDSigningCertificateV2) {
			continue
		}
		alg, certHash, err := cms.ESSCertHash(attr)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCertificateBinding, err)
		}
		h := alg.New()
		h.Write(cert.Raw)
		if !bytes.Equal(h.Sum(nil), certHash) {
			return ErrCertificateBinding
		}
		return nil
	}
	return fmt.Errorf("%w: no signing certificate attribute", ErrCertificateBinding)
}

func verifyCertChain(cert *x509.Certificate, embedded []*x509.Certificate, config *VerifyConfig) error {
	intermediates := config.Intermediates
	if intermediates == nil {
		intermediates = x509.NewCertPool()
	}
	for _, c := range embedded {
		if !c.Equal(cert) {
			intermediates.AddCert(c)
		}
	}
	opts := x509.VerifyOptions{
		Roots:         config.Roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
	}
	if !config.CurrentTime.IsZero() {
		opts.CurrentTime = config.CurrentTime
	}

	_, err := cert.Verify(opts)
	return err
}

// verifyDataHash verifies that the token's message imprint matches the data.
func verifyDataHash(token *Token, config *VerifyConfig) (bool, error) {
	if token.Info == nil {
		return false, fmt.Errorf("%w: no TSTInfo in token", ErrInvalidToken)
	}

	expectedHash := config.Hash
	if len(expectedHash) == 0 && len(config.Data) > 0 {
		hashAlg, err := token.HashAlgorithm()
		if err != nil {
			return false, err
		}
		h := hashAlg.New()
		h.Write(config.Data)
		expectedHash = h.Sum(nil)
	}

	if len(expectedHash) == 0 {
		return false, fmt.Errorf("no data or hash provided for verification")
	}

	return bytes.Equal(token.Info.MessageImprint.HashedMessage, expectedHash), nil
}

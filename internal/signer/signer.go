// Package signer provides the time-stamping identity: the signing
// certificate, its private key and the issuing chain.
package signer

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/remiblancher/qtsa/internal/cms"
)

var (
	// ErrInvalidCertificate indicates the signing certificate is missing or unparsable.
	ErrInvalidCertificate = errors.New("invalid signing certificate")

	// ErrInvalidKey indicates the private key is missing or unparsable.
	ErrInvalidKey = errors.New("invalid private key")

	// ErrKeyMismatch indicates the private key does not belong to the certificate.
	ErrKeyMismatch = errors.New("private key does not match certificate")
)

// Identity is an immutable signing identity shared by all requests.
type Identity struct {
	cert  *x509.Certificate
	key   crypto.Signer
	chain []*x509.Certificate
}

// Config locates identity material on disk. Empty paths select the embedded material.
type Config struct {
	Certificate string
	Key         string
	Chain       string
	Passphrase  []byte
}

// New builds an Identity and checks that key matches cert.
func New(cert *x509.Certificate, key crypto.Signer, chain []*x509.Certificate) (*Identity, error) {
	if cert == nil {
		return nil, fmt.Errorf("%w: certificate is required", ErrInvalidCertificate)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidKey)
	}
	if err := matchKey(cert, key.Public()); err != nil {
		return nil, err
	}
	return &Identity{cert: cert, key: key, chain: chain}, nil
}

// FromPEM parses an identity from PEM encoded certificate, key and chain.
func FromPEM(certPEM, keyPEM, chainPEM, passphrase []byte) (*Identity, error) {
	certs, err := ParseCertificates(certPEM)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no certificate found", ErrInvalidCertificate)
	}
	key, err := ParsePrivateKey(keyPEM, passphrase)
	if err != nil {
		return nil, err
	}
	// Extra certificates after the leaf are treated as chain.
	chain := certs[1:]
	if len(chainPEM) > 0 {
		extra, err := ParseCertificates(chainPEM)
		if err != nil {
			return nil, err
		}
		chain = append(chain, extra...)
	}
	return New(certs[0], key, chain)
}

// Embedded returns the identity compiled into the binary.
func Embedded() (*Identity, error) {
	return FromPEM(embeddedCert, embeddedKey, embeddedChain, nil)
}

// Load returns the identity described by cfg, falling back to the embedded
// material when no certificate or key path is set.
func Load(cfg Config) (*Identity, error) {
	if cfg.Certificate == "" && cfg.Key == "" {
		if cfg.Chain != "" {
			return nil, fmt.Errorf("signer chain set without certificate and key")
		}
		return Embedded()
	}
	if cfg.Certificate == "" || cfg.Key == "" {
		return nil, fmt.Errorf("signer certificate and key must be set together")
	}

	certPEM, err := os.ReadFile(cfg.Certificate)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	var chainPEM []byte
	if cfg.Chain != "" {
		if chainPEM, err = os.ReadFile(cfg.Chain); err != nil {
			return nil, fmt.Errorf("failed to read chain: %w", err)
		}
	}
	return FromPEM(certPEM, keyPEM, chainPEM, cfg.Passphrase)
}

// Certificate returns the signing certificate.
func (id *Identity) Certificate() *x509.Certificate { return id.cert }

// Signer returns the private key.
func (id *Identity) Signer() crypto.Signer { return id.key }

// Chain returns the certificates attached after the signing certificate.
func (id *Identity) Chain() []*x509.Certificate { return id.chain }

// HasTimeStampingEKU reports whether the certificate allows time-stamping.
func (id *Identity) HasTimeStampingEKU() bool {
	for _, eku := range id.cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageTimeStamping {
			return true
		}
	}
	return false
}

// Algorithm describes the key for logs.
func (id *Identity) Algorithm() string {
	if id.cert.PublicKeyAlgorithm != x509.UnknownPublicKeyAlgorithm {
		return id.cert.PublicKeyAlgorithm.String()
	}
	return fmt.Sprintf("%T", id.key.Public())
}

type equaler interface {
	Equal(crypto.PublicKey) bool
}

func matchKey(cert *x509.Certificate, pub crypto.PublicKey) error {
	certPub := cert.PublicKey
	if certPub == nil {
		var err error
		if certPub, err = cms.ParsePQCPublicKey(cert.RawSubjectPublicKeyInfo); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
		}
	}
	eq, ok := pub.(equaler)
	if !ok {
		return fmt.Errorf("%w: %T cannot be compared", ErrKeyMismatch, pub)
	}
	if !eq.Equal(certPub) {
		return ErrKeyMismatch
	}
	return nil
}

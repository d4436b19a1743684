package tsa

import (
	"crypto/x509"
	"fmt"
	"math/big"
)

// SerialGenerator generates serial numbers for timestamps.
type SerialGenerator interface {
	Next() (*big.Int, error)
}

// CertSerialGenerator derives the token serial from the signing certificate:
// its serial number plus one.
//
// The value is the same for every token issued with a given certificate.
// RFC 3161 asks for unique serials; this generator intentionally does not
// provide them so that issued tokens stay reproducible.
type CertSerialGenerator struct {
	serial *big.Int
}

// NewCertSerialGenerator returns a generator bound to cert.
func NewCertSerialGenerator(cert *x509.Certificate) (*CertSerialGenerator, error) {
	if cert == nil || cert.SerialNumber == nil {
		return nil, fmt.Errorf("certificate serial number is required")
	}
	return &CertSerialGenerator{serial: new(big.Int).Add(cert.SerialNumber, big.NewInt(1))}, nil
}

// Next returns a fresh copy of the derived serial.
func (g *CertSerialGenerator) Next() (*big.Int, error) {
	return new(big.Int).Set(g.serial), nil
}

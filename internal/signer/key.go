package signer

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// ParsePrivateKey decodes the first PEM block of data into a crypto.Signer.
//
// Supported block types are PKCS#8 "PRIVATE KEY", SEC1 "EC PRIVATE KEY",
// PKCS#1 "RSA PRIVATE KEY" and the raw "ML-DSA-{44,65,87} PRIVATE KEY" encodings.
// Legacy encrypted PEM blocks are decrypted with passphrase.
func ParsePrivateKey(data, passphrase []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
	}

	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("%w: private key is encrypted but no passphrase provided", ErrInvalidKey)
		}
		var err error
		keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decrypt private key: %v", ErrInvalidKey, err)
		}
	}

	var priv crypto.PrivateKey
	var err error

	switch block.Type {
	case "PRIVATE KEY":
		priv, err = x509.ParsePKCS8PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		priv, err = x509.ParseECPrivateKey(keyBytes)
	case "RSA PRIVATE KEY":
		priv, err = x509.ParsePKCS1PrivateKey(keyBytes)
	case "ML-DSA-44 PRIVATE KEY":
		k := new(mldsa44.PrivateKey)
		priv, err = k, k.UnmarshalBinary(keyBytes)
	case "ML-DSA-65 PRIVATE KEY":
		k := new(mldsa65.PrivateKey)
		priv, err = k, k.UnmarshalBinary(keyBytes)
	case "ML-DSA-87 PRIVATE KEY":
		k := new(mldsa87.PrivateKey)
		priv, err = k, k.UnmarshalBinary(keyBytes)
	default:
		return nil, fmt.Errorf("%w: unknown PEM type %q", ErrInvalidKey, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidKey, block.Type, err)
	}

	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a signer", ErrInvalidKey, priv)
	}
	return signer, nil
}

// ParseCertificates decodes every CERTIFICATE block in data, in order.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for rest := data; len(rest) > 0; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

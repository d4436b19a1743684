package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// VerifyConfig contains options for verifying a CMS signature.
type VerifyConfig struct {
	// Roots is the pool of trusted CA certificates
	Roots *x509.CertPool
	// Intermediates is the pool of intermediate CA certificates
	Intermediates *x509.CertPool
	// CurrentTime is the time to use for chain verification (default: now)
	CurrentTime time.Time
	// Certificates are candidate signer certificates used when the
	// SignedData carries no certificate set.
	Certificates []*x509.Certificate
}

// VerifyResult contains the result of signature verification.
type VerifyResult struct {
	SignerCert  *x509.Certificate
	Content     []byte
	SigningTime time.Time
	ContentType asn1.ObjectIdentifier
	DigestAlg   crypto.Hash
	// Certificates is the certificate set embedded in the SignedData.
	Certificates []*x509.Certificate
}

// Verify verifies a CMS SignedData signature over its encapsulated content.
func Verify(signedDataDER []byte, config *VerifyConfig) (*VerifyResult, error) {
	if config == nil {
		config = &VerifyConfig{}
	}

	signedData, err := ParseSignedData(signedDataDER)
	if err != nil {
		return nil, err
	}
	if len(signedData.SignerInfos) != 1 {
		return nil, fmt.Errorf("expected exactly one signer info, got %d", len(signedData.SignerInfos))
	}
	signerInfo := signedData.SignerInfos[0]

	embedded, err := signedData.Certificates.Parse()
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificates: %w", err)
	}

	signerCert, err := findSignerCert(&signerInfo, append(embedded, config.Certificates...))
	if err != nil {
		return nil, err
	}

	if config.Roots != nil {
		if err := verifyCertChain(signerCert, embedded, config); err != nil {
			return nil, fmt.Errorf("certificate chain verification failed: %w", err)
		}
	}

	content := signedData.Content()
	hashAlg, err := verifySignature(&signerInfo, signerCert, content)
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}

	return &VerifyResult{
		SignerCert:   signerCert,
		Content:      content,
		SigningTime:  extractSigningTime(signerInfo.SignedAttrs),
		ContentType:  signedData.EncapContentInfo.EContentType,
		DigestAlg:    hashAlg,
		Certificates: embedded,
	}, nil
}

// findSignerCert matches the SignerInfo's issuer and serial against candidates.
func findSignerCert(si *SignerInfo, candidates []*x509.Certificate) (*x509.Certificate, error) {
	sid := si.SID
	for _, c := range candidates {
		if c.SerialNumber.Cmp(sid.SerialNumber) == 0 && bytes.Equal(c.RawIssuer, sid.Issuer.FullBytes) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no signer certificate found in SignedData")
}

func verifyCertChain(cert *x509.Certificate, embedded []*x509.Certificate, config *VerifyConfig) error {
	intermediates := config.Intermediates
	if intermediates == nil {
		intermediates = x509.NewCertPool()
	}
	for _, c := range embedded {
		if c != cert {
			intermediates.AddCert(c)
		}
	}
	opts := x509.VerifyOptions{
		Roots:         config.Roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if !config.CurrentTime.IsZero() {
		opts.CurrentTime = config.CurrentTime
	}
	_, err := cert.Verify(opts)
	return err
}

func verifySignature(signerInfo *SignerInfo, cert *x509.Certificate, content []byte) (crypto.Hash, error) {
	hashAlg, err := HashFromOID(signerInfo.DigestAlgorithm.Algorithm)
	if err != nil {
		return 0, err
	}

	if len(signerInfo.SignedAttrs) == 0 {
		return hashAlg, verifySignatureBytes(content, signerInfo.Signature, cert, hashAlg)
	}

	contentDigest, err := computeDigest(content, hashAlg)
	if err != nil {
		return 0, fmt.Errorf("failed to compute content digest: %w", err)
	}
	raw, ok := FindAttribute(signerInfo.SignedAttrs, OIDMessageDigest)
	if !ok {
		return 0, fmt.Errorf("no message digest attribute found")
	}
	var md []byte
	if _, err := asn1.Unmarshal(raw.FullBytes, &md); err != nil {
		return 0, fmt.Errorf("failed to parse message digest: %w", err)
	}
	if !bytes.Equal(md, contentDigest) {
		return 0, fmt.Errorf("message digest mismatch")
	}

	signedAttrsDER, err := MarshalSignedAttrs(signerInfo.SignedAttrs)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal signed attributes: %w", err)
	}
	return hashAlg, verifySignatureBytes(signedAttrsDER, signerInfo.Signature, cert, hashAlg)
}

// verifySignatureBytes checks signature over data with the certificate's key.
// RSA and ECDSA are verified directly so that MD5 and SHA-1 tokens, which
// crypto/x509 refuses, can still be checked.
func verifySignatureBytes(data, signature []byte, cert *x509.Certificate, hashAlg crypto.Hash) error {
	pubKey := cert.PublicKey
	if pubKey == nil {
		// crypto/x509 leaves PublicKey nil for algorithms it does not know.
		var err error
		if pubKey, err = ParsePQCPublicKey(cert.RawSubjectPublicKeyInfo); err != nil {
			return err
		}
	}

	switch pub := pubKey.(type) {
	case *ecdsa.PublicKey:
		digest, err := computeDigest(data, hashAlg)
		if err != nil {
			return err
		}
		if !ecdsa.VerifyASN1(pub, digest, signature) {
			return fmt.Errorf("ECDSA signature verification failed")
		}
		return nil

	case ed25519.PublicKey:
		if !ed25519.Verify(pub, data, signature) {
			return fmt.Errorf("Ed25519 signature verification failed")
		}
		return nil

	case *rsa.PublicKey:
		digest, err := computeDigest(data, hashAlg)
		if err != nil {
			return err
		}
		if err := rsa.VerifyPKCS1v15(pub, hashAlg, digest, signature); err != nil {
			return fmt.Errorf("RSA signature verification failed: %w", err)
		}
		return nil

	case *mldsa44.PublicKey:
		return checkPQC(mldsa44.Verify(pub, data, nil, signature))
	case *mldsa65.PublicKey:
		return checkPQC(mldsa65.Verify(pub, data, nil, signature))
	case *mldsa87.PublicKey:
		return checkPQC(mldsa87.Verify(pub, data, nil, signature))

	default:
		return fmt.Errorf("unsupported public key type for verification: %T", pub)
	}
}

type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// ParsePQCPublicKey decodes an ML-DSA SubjectPublicKeyInfo.
func ParsePQCPublicKey(spkiDER []byte) (crypto.PublicKey, error) {
	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(spkiDER, &spki); err != nil {
		return nil, fmt.Errorf("failed to parse public key info: %w", err)
	}
	raw := spki.PublicKey.RightAlign()
	oid := spki.Algorithm.Algorithm
	switch {
	case oid.Equal(OIDMLDSA44):
		pub := new(mldsa44.PublicKey)
		return pub, pub.UnmarshalBinary(raw)
	case oid.Equal(OIDMLDSA65):
		pub := new(mldsa65.PublicKey)
		return pub, pub.UnmarshalBinary(raw)
	case oid.Equal(OIDMLDSA87):
		pub := new(mldsa87.PublicKey)
		return pub, pub.UnmarshalBinary(raw)
	default:
		return nil, fmt.Errorf("unsupported public key algorithm: %v", oid)
	}
}

func checkPQC(ok bool) error {
	if !ok {
		return fmt.Errorf("ML-DSA signature verification failed")
	}
	return nil
}

// extractSigningTime extracts the signing time from signed attributes.
func extractSigningTime(attrs []Attribute) time.Time {
	raw, ok := FindAttribute(attrs, OIDSigningTime)
	if !ok {
		return time.Time{}
	}
	var t time.Time
	if _, err := asn1.Unmarshal(raw.FullBytes, &t); err != nil {
		return time.Time{}
	}
	return t
}

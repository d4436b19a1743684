package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	_ "crypto/md5" // registers crypto.MD5
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha1" // registers crypto.SHA1
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// SignerConfig contains options for signing.
type SignerConfig struct {
	Certificate  *x509.Certificate
	Signer       crypto.Signer
	DigestAlg    crypto.Hash
	SigningTime  time.Time
	ContentType  asn1.ObjectIdentifier
	IncludeCerts bool

	// Chain is appended to the certificate set after Certificate when IncludeCerts is set.
	Chain []*x509.Certificate

	// SigningCertificate adds the ESS signing-certificate attribute hashed with DigestAlg.
	SigningCertificate bool
}

// Sign creates a CMS SignedData structure wrapped in a ContentInfo.
func Sign(content []byte, config *SignerConfig) ([]byte, error) {
	if config.Certificate == nil {
		return nil, fmt.Errorf("certificate is required")
	}
	if config.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if config.DigestAlg == 0 {
		config.DigestAlg = crypto.SHA256
	}
	if config.SigningTime.IsZero() {
		config.SigningTime = time.Now().UTC()
	}
	if len(config.ContentType) == 0 {
		config.ContentType = OIDData
	}

	digest, err := computeDigest(content, config.DigestAlg)
	if err != nil {
		return nil, fmt.Errorf("failed to compute digest: %w", err)
	}

	// Resolve the signature algorithm before doing any signing work so
	// an impossible key/digest pairing fails fast.
	digestAlgID := DigestAlgorithmIdentifier(config.DigestAlg)
	sigAlgID, err := SignatureAlgorithmIdentifier(config.Signer.Public(), config.DigestAlg)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature algorithm: %w", err)
	}

	signedAttrs, err := buildSignedAttrs(config, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to build signed attributes: %w", err)
	}

	signedAttrsDER, err := MarshalSignedAttrs(signedAttrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed attributes: %w", err)
	}

	signature, err := signData(signedAttrsDER, config.Signer, config.DigestAlg)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	signerInfo := SignerInfo{
		Version: 1,
		SID: IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: config.Certificate.RawIssuer},
			SerialNumber: config.Certificate.SerialNumber,
		},
		DigestAlgorithm:    digestAlgID,
		SignedAttrs:        signedAttrs,
		SignatureAlgorithm: sigAlgID,
		Signature:          signature,
	}

	encap, err := NewEncapsulatedContentInfo(config.ContentType, content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content: %w", err)
	}

	signedData := SignedData{
		Version:          1,
		DigestAlgorithms: []pkix.AlgorithmIdentifier{digestAlgID},
		EncapContentInfo: encap,
		SignerInfos:      []SignerInfo{signerInfo},
	}

	if config.IncludeCerts {
		certs := append([]*x509.Certificate{config.Certificate}, config.Chain...)
		signedData.Certificates = NewRawCertificates(certs...)
	}

	signedDataDER, err := asn1.Marshal(signedData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SignedData: %w", err)
	}

	contentInfo := ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: signedDataDER},
	}

	return asn1.Marshal(contentInfo)
}

func buildSignedAttrs(config *SignerConfig, digest []byte) ([]Attribute, error) {
	ctAttr, err := NewContentTypeAttr(config.ContentType)
	if err != nil {
		return nil, err
	}

	stAttr, err := NewSigningTimeAttr(config.SigningTime)
	if err != nil {
		return nil, err
	}

	mdAttr, err := NewMessageDigestAttr(digest)
	if err != nil {
		return nil, err
	}

	attrs := []Attribute{ctAttr, stAttr, mdAttr}
	if config.SigningCertificate {
		scAttr, err := NewSigningCertificateAttr(config.Certificate, config.DigestAlg)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, scAttr)
	}

	// Verifiers re-encode the SET OF in DER order before checking the signature.
	if err := SortAttributes(attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

func computeDigest(data []byte, alg crypto.Hash) ([]byte, error) {
	switch alg {
	case crypto.MD5, crypto.SHA1, crypto.SHA256, crypto.SHA384, crypto.SHA512:
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %v", alg)
	}
	h := alg.New()
	h.Write(data)
	return h.Sum(nil), nil
}

func signData(data []byte, signer crypto.Signer, digestAlg crypto.Hash) ([]byte, error) {
	switch signer.Public().(type) {
	case *ecdsa.PublicKey, *rsa.PublicKey:
		digest, err := computeDigest(data, digestAlg)
		if err != nil {
			return nil, err
		}
		return signer.Sign(rand.Reader, digest, digestAlg)
	default:
		// Ed25519 and ML-DSA sign the message itself (pure mode).
		return signer.Sign(rand.Reader, data, crypto.Hash(0))
	}
}

// DigestAlgorithmIdentifier returns the AlgorithmIdentifier for a digest.
// Parameters are left absent, which RFC 5754 recommends for SHA-2.
func DigestAlgorithmIdentifier(alg crypto.Hash) pkix.AlgorithmIdentifier {
	switch alg {
	case crypto.MD5:
		return pkix.AlgorithmIdentifier{Algorithm: OIDMD5}
	case crypto.SHA1:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA1}
	case crypto.SHA384:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA384}
	case crypto.SHA512:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA512}
	default:
		return pkix.AlgorithmIdentifier{Algorithm: OIDSHA256}
	}
}

// HashFromOID maps a digest algorithm OID to its crypto.Hash.
func HashFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDMD5):
		return crypto.MD5, nil
	case oid.Equal(OIDSHA1):
		return crypto.SHA1, nil
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("unsupported hash algorithm: %v", oid)
	}
}

// SignatureAlgorithmIdentifier picks the signature algorithm for a key and digest.
func SignatureAlgorithmIdentifier(pub crypto.PublicKey, digestAlg crypto.Hash) (pkix.AlgorithmIdentifier, error) {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		switch digestAlg {
		case crypto.SHA1:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA1}, nil
		case crypto.SHA256:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA256}, nil
		case crypto.SHA384:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA384}, nil
		case crypto.SHA512:
			return pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA512}, nil
		default:
			return pkix.AlgorithmIdentifier{}, fmt.Errorf("unsupported ECDSA digest: %v", digestAlg)
		}
	case ed25519.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDEd25519}, nil
	case *rsa.PublicKey:
		// PKCS#1 v1.5 identifiers carry an explicit NULL parameter.
		params := asn1.NullRawValue
		switch digestAlg {
		case crypto.MD5:
			return pkix.AlgorithmIdentifier{Algorithm: OIDMD5WithRSA, Parameters: params}, nil
		case crypto.SHA1:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA1WithRSA, Parameters: params}, nil
		case crypto.SHA256:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA256WithRSA, Parameters: params}, nil
		case crypto.SHA384:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA384WithRSA, Parameters: params}, nil
		case crypto.SHA512:
			return pkix.AlgorithmIdentifier{Algorithm: OIDSHA512WithRSA, Parameters: params}, nil
		default:
			return pkix.AlgorithmIdentifier{}, fmt.Errorf("unsupported RSA digest: %v", digestAlg)
		}
	case *mldsa44.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDMLDSA44}, nil
	case *mldsa65.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDMLDSA65}, nil
	case *mldsa87.PublicKey:
		return pkix.AlgorithmIdentifier{Algorithm: OIDMLDSA87}, nil
	default:
		return pkix.AlgorithmIdentifier{}, fmt.Errorf("unsupported public key type: %T", pub)
	}
}

package cms

import (
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// directoryNameTag is the GeneralName CHOICE tag for directoryName [4].
var directoryNameTag = cbasn1.Tag(4).ContextSpecific().Constructed()

// NewSigningCertificateAttr builds the ESS attribute binding the signature to cert.
//
// SHA-1 produces a SigningCertificate (RFC 2634) with an ESSCertID; every other digest
// produces a SigningCertificateV2 (RFC 5035) whose hashAlgorithm is omitted for SHA-256,
// its DEFAULT value.
func NewSigningCertificateAttr(cert *x509.Certificate, alg crypto.Hash) (Attribute, error) {
	if cert == nil {
		return Attribute{}, fmt.Errorf("certificate is required")
	}
	certHash, err := computeDigest(cert.Raw, alg)
	if err != nil {
		return Attribute{}, fmt.Errorf("failed to hash signing certificate: %w", err)
	}

	oid := OIDSigningCertificateV2
	if alg == crypto.SHA1 {
		oid = OIDSigningCertificate
	}

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) { // SigningCertificate(V2)
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) { // certs
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) { // ESSCertID(v2)
				if alg != crypto.SHA1 && alg != crypto.SHA256 {
					b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1ObjectIdentifier(DigestAlgorithmIdentifier(alg).Algorithm)
					})
				}
				b.AddASN1OctetString(certHash)
				addIssuerSerial(b, cert)
			})
		})
	})

	der, err := b.Bytes()
	if err != nil {
		return Attribute{}, fmt.Errorf("failed to encode signing certificate: %w", err)
	}
	return NewRawAttribute(oid, der), nil
}

// addIssuerSerial writes IssuerSerial { issuer GeneralNames, serialNumber }.
func addIssuerSerial(b *cryptobyte.Builder, cert *x509.Certificate) {
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) { // GeneralNames
			b.AddASN1(directoryNameTag, func(b *cryptobyte.Builder) {
				b.AddBytes(cert.RawIssuer)
			})
		})
		b.AddASN1BigInt(cert.SerialNumber)
	})
}

// ESSCertHash extracts the first certificate hash and its algorithm from a
// SigningCertificate or SigningCertificateV2 attribute value.
func ESSCertHash(attr Attribute) (crypto.Hash, []byte, error) {
	if len(attr.Values) == 0 {
		return 0, nil, fmt.Errorf("empty signing certificate attribute")
	}
	input := cryptobyte.String(attr.Values[0].FullBytes)

	var signingCert, certs, certID cryptobyte.String
	if !input.ReadASN1(&signingCert, cbasn1.SEQUENCE) ||
		!signingCert.ReadASN1(&certs, cbasn1.SEQUENCE) ||
		!certs.ReadASN1(&certID, cbasn1.SEQUENCE) {
		return 0, nil, fmt.Errorf("malformed signing certificate attribute")
	}

	alg := crypto.SHA1
	if attr.Type.Equal(OIDSigningCertificateV2) {
		alg = crypto.SHA256
		if certID.PeekASN1Tag(cbasn1.SEQUENCE) {
			var algID cryptobyte.String
			var oid asn1.ObjectIdentifier
			if !certID.ReadASN1(&algID, cbasn1.SEQUENCE) || !algID.ReadASN1ObjectIdentifier(&oid) {
				return 0, nil, fmt.Errorf("malformed ESSCertIDv2 hash algorithm")
			}
			h, err := HashFromOID(oid)
			if err != nil {
				return 0, nil, err
			}
			alg = h
		}
	}

	var certHash []byte
	if !certID.ReadASN1Bytes(&certHash, cbasn1.OCTET_STRING) {
		return 0, nil, fmt.Errorf("malformed ESS certificate hash")
	}
	return alg, certHash, nil
}

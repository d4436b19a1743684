package cms

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"sort"
	"time"
)

// ContentInfo represents the top-level CMS structure (RFC 5652 Section 3).
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

// SignedData represents CMS SignedData (RFC 5652 Section 5).
type SignedData struct {
	Version          int
	DigestAlgorithms []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     RawCertificates `asn1:"optional,tag:0"`
	CRLs             []asn1.RawValue `asn1:"optional,set,tag:1"`
	SignerInfos      []SignerInfo    `asn1:"set"`
}

// RawCertificates carries the IMPLICIT [0] CertificateSet. Raw holds the
// complete element, tag included, as encoding/asn1 expects for RawContent.
type RawCertificates struct {
	Raw asn1.RawContent
}

// Parse returns the certificates of the set in encoding order.
func (c RawCertificates) Parse() ([]*x509.Certificate, error) {
	if len(c.Raw) == 0 {
		return nil, nil
	}
	var set asn1.RawValue
	if _, err := asn1.Unmarshal(c.Raw, &set); err != nil {
		return nil, fmt.Errorf("failed to parse certificate set: %w", err)
	}
	return x509.ParseCertificates(set.Bytes)
}

// NewRawCertificates encodes certs as a certificate set, skipping nil entries.
func NewRawCertificates(certs ...*x509.Certificate) RawCertificates {
	var buf bytes.Buffer
	for _, c := range certs {
		if c != nil {
			buf.Write(c.Raw)
		}
	}
	if buf.Len() == 0 {
		return RawCertificates{}
	}
	raw, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: buf.Bytes()})
	if err != nil {
		return RawCertificates{}
	}
	return RawCertificates{Raw: raw}
}

// EncapsulatedContentInfo represents the content being signed (RFC 5652 Section 5.2).
// EContent holds the complete [0] element; encoding/asn1 does not add the
// explicit tag to a RawValue when marshalling.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// NewEncapsulatedContentInfo wraps content as [0] EXPLICIT OCTET STRING.
func NewEncapsulatedContentInfo(contentType asn1.ObjectIdentifier, content []byte) (EncapsulatedContentInfo, error) {
	inner, err := asn1.Marshal(content)
	if err != nil {
		return EncapsulatedContentInfo{}, err
	}
	return EncapsulatedContentInfo{
		EContentType: contentType,
		EContent:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: inner},
	}, nil
}

// SignerInfo contains the signature and related info (RFC 5652 Section 5.3).
type SignerInfo struct {
	Version            int
	SID                IssuerAndSerialNumber // SignerIdentifier CHOICE, issuerAndSerialNumber arm
	DigestAlgorithm    pkix.AlgorithmIdentifier
	SignedAttrs        []Attribute `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      []Attribute `asn1:"optional,tag:1"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute represents a CMS attribute (RFC 5652 Section 5.3).
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// NewAttribute creates a new attribute with a single value.
func NewAttribute(oid asn1.ObjectIdentifier, value interface{}) (Attribute, error) {
	encoded, err := asn1.Marshal(value)
	if err != nil {
		return Attribute{}, err
	}
	return NewRawAttribute(oid, encoded), nil
}

// NewRawAttribute creates an attribute from an already DER-encoded value.
func NewRawAttribute(oid asn1.ObjectIdentifier, der []byte) Attribute {
	return Attribute{
		Type:   oid,
		Values: []asn1.RawValue{{FullBytes: der}},
	}
}

// NewContentTypeAttr creates a content-type attribute.
func NewContentTypeAttr(contentType asn1.ObjectIdentifier) (Attribute, error) {
	return NewAttribute(OIDContentType, contentType)
}

// NewMessageDigestAttr creates a message-digest attribute.
func NewMessageDigestAttr(digest []byte) (Attribute, error) {
	return NewAttribute(OIDMessageDigest, digest)
}

// NewSigningTimeAttr creates a signing-time attribute.
// encoding/asn1 switches to GeneralizedTime outside 1950-2049, as RFC 5652 requires.
func NewSigningTimeAttr(t time.Time) (Attribute, error) {
	return NewAttribute(OIDSigningTime, t.UTC())
}

// FindAttribute returns the first value of the attribute with the given type.
func FindAttribute(attrs []Attribute, oid asn1.ObjectIdentifier) (asn1.RawValue, bool) {
	for _, attr := range attrs {
		if attr.Type.Equal(oid) && len(attr.Values) > 0 {
			return attr.Values[0], true
		}
	}
	return asn1.RawValue{}, false
}

// SortAttributes orders attributes by their DER encoding, as required for a DER SET OF.
func SortAttributes(attrs []Attribute) error {
	encoded := make([][]byte, len(attrs))
	for i, attr := range attrs {
		der, err := asn1.Marshal(attr)
		if err != nil {
			return fmt.Errorf("failed to marshal attribute %v: %w", attr.Type, err)
		}
		encoded[i] = der
	}
	idx := make([]int, len(attrs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return bytes.Compare(encoded[idx[a]], encoded[idx[b]]) < 0
	})
	sorted := make([]Attribute, len(attrs))
	for i, j := range idx {
		sorted[i] = attrs[j]
	}
	copy(attrs, sorted)
	return nil
}

// MarshalSignedAttrs marshals signed attributes for signing.
// Per RFC 5652, signed attributes must be DER-encoded as a SET OF.
func MarshalSignedAttrs(attrs []Attribute) ([]byte, error) {
	// Marshal as IMPLICIT SET (tag 0x31 for SET OF)
	encoded, err := asn1.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	// Replace the SEQUENCE tag (0x30) with SET tag (0x31)
	if len(encoded) > 0 && encoded[0] == 0x30 {
		encoded[0] = 0x31
	}
	return encoded, nil
}

// ParseSignedData unwraps a DER ContentInfo carrying SignedData.
func ParseSignedData(der []byte) (*SignedData, error) {
	var contentInfo ContentInfo
	rest, err := asn1.Unmarshal(der, &contentInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ContentInfo: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("trailing data after ContentInfo")
	}
	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("unexpected content type: %v", contentInfo.ContentType)
	}

	var signedData SignedData
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &signedData); err != nil {
		return nil, fmt.Errorf("failed to parse SignedData: %w", err)
	}
	return &signedData, nil
}

// Content returns the encapsulated content octets.
func (sd *SignedData) Content() []byte {
	econtent := sd.EncapContentInfo.EContent
	if econtent.Class == asn1.ClassUniversal && econtent.Tag == asn1.TagOctetString {
		return econtent.Bytes
	}
	var content []byte
	if _, err := asn1.Unmarshal(econtent.Bytes, &content); err != nil {
		return econtent.Bytes
	}
	return content
}

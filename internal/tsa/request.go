package tsa

import (
	"crypto"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// TimeStampReq represents a timestamp request (RFC 3161 Section 2.4.1).
type TimeStampReq struct {
	Version        int
	MessageImprint MessageImprint
	ReqPolicy      asn1.ObjectIdentifier `asn1:"optional"`
	Nonce          *big.Int              `asn1:"optional"`
	CertReq        bool                  `asn1:"optional,default:false"`
	Extensions     []pkix.Extension      `asn1:"optional,tag:0"`
}

// MessageImprint contains the hash of the data to be timestamped.
type MessageImprint struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashedMessage []byte
}

// ParseRequest decodes a DER TimeStampReq and checks its structure.
// Every failure wraps ErrMalformedRequest. The digest is resolved separately.
func ParseRequest(data []byte) (*TimeStampReq, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty request", ErrMalformedRequest)
	}

	var req TimeStampReq
	rest, err := asn1.Unmarshal(data, &req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after TimeStampReq", ErrMalformedRequest)
	}

	if req.Version != 1 {
		return nil, fmt.Errorf("%w: unsupported TSP version %d", ErrMalformedRequest, req.Version)
	}
	if len(req.MessageImprint.HashAlgorithm.Algorithm) == 0 {
		return nil, fmt.Errorf("%w: missing message imprint algorithm", ErrMalformedRequest)
	}
	if len(req.Extensions) > 0 {
		return nil, fmt.Errorf("%w: extensions are not supported", ErrMalformedRequest)
	}

	return &req, nil
}

// checkImprintLength verifies the hashed message has the digest's output size.
func (r *TimeStampReq) checkImprintLength(h crypto.Hash) error {
	if got, want := len(r.MessageImprint.HashedMessage), h.Size(); got != want {
		return fmt.Errorf("%w: hash length mismatch: got %d, expected %d", ErrMalformedRequest, got, want)
	}
	return nil
}

// NewMessageImprint creates a MessageImprint from a hash.
func NewMessageImprint(hash crypto.Hash, digest []byte) MessageImprint {
	return MessageImprint{
		HashAlgorithm: hashAlgorithmIdentifier(hash),
		HashedMessage: digest,
	}
}

// CreateRequest creates a new TimeStampReq for the given data.
func CreateRequest(data []byte, hashAlg crypto.Hash, nonce *big.Int, certReq bool) (*TimeStampReq, error) {
	if !hashAlg.Available() {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedDigest, hashAlg)
	}
	h := hashAlg.New()
	h.Write(data)

	return &TimeStampReq{
		Version:        1,
		MessageImprint: NewMessageImprint(hashAlg, h.Sum(nil)),
		Nonce:          nonce,
		CertReq:        certReq,
	}, nil
}

// Marshal encodes the TimeStampReq as DER.
func (r *TimeStampReq) Marshal() ([]byte, error) {
	return asn1.Marshal(*r)
}

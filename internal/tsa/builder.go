package tsa

import (
	"crypto"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/remiblancher/qtsa/internal/signer"
)

// Stage is a state of the per-request token pipeline.
type Stage int

// Pipeline stages in the order they are reached.
const (
	StageStart Stage = iota
	StageRequestDecoded
	StageDigestResolved
	StageIdentityBound
	StageSigned
	StageEncoded
	StageFailed
)

// String implements fmt.Stringer.
func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageRequestDecoded:
		return "request_decoded"
	case StageDigestResolved:
		return "digest_resolved"
	case StageIdentityBound:
		return "identity_bound"
	case StageSigned:
		return "signed"
	case StageEncoded:
		return "encoded"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Result is the outcome of one pipeline run.
//
// On success Stage is StageEncoded and Response holds the DER TimeStampResp.
// On failure Stage is StageFailed and Err is a *BuildError.
type Result struct {
	Stage    Stage
	Response []byte
	Token    *Token
	Request  *TimeStampReq
	Digest   crypto.Hash
	Err      error
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	Identity *signer.Identity

	// Policy defaults to DefaultPolicy.
	Policy asn1.ObjectIdentifier

	// Digests defaults to AcceptedDigests.
	Digests []crypto.Hash

	// Serials defaults to a CertSerialGenerator over the identity certificate.
	Serials SerialGenerator
}

// Builder turns TimeStampReq bodies into signed TimeStampResp bytes.
// It holds no per-request state and is safe for concurrent use.
type Builder struct {
	identity *signer.Identity
	policy   asn1.ObjectIdentifier
	digests  []crypto.Hash
	serials  SerialGenerator
}

// NewBuilder validates cfg and fills in defaults.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Identity == nil {
		return nil, fmt.Errorf("signing identity is required")
	}
	b := &Builder{
		identity: cfg.Identity,
		policy:   cfg.Policy,
		digests:  cfg.Digests,
		serials:  cfg.Serials,
	}
	if len(b.policy) == 0 {
		b.policy = DefaultPolicy
	}
	if len(b.digests) == 0 {
		b.digests = AcceptedDigests
	}
	if b.serials == nil {
		gen, err := NewCertSerialGenerator(cfg.Identity.Certificate())
		if err != nil {
			return nil, err
		}
		b.serials = gen
	}
	return b, nil
}

// Identity returns the signing identity shared by every request.
func (b *Builder) Identity() *signer.Identity { return b.identity }

// Policy returns the policy OID stamped on tokens.
func (b *Builder) Policy() asn1.ObjectIdentifier { return b.policy }

// Digests returns the accepted message imprint digests.
func (b *Builder) Digests() []crypto.Hash { return b.digests }

// Build runs the pipeline for one request body at the time given by ts.
func (b *Builder) Build(body []byte, ts TimeSource) Result {
	res := Result{Stage: StageStart}

	// Start -> RequestDecoded
	req, err := ParseRequest(body)
	if err != nil {
		return res.fail(StageRequestDecoded, err)
	}
	if len(req.ReqPolicy) > 0 && !req.ReqPolicy.Equal(b.policy) {
		return res.fail(StageRequestDecoded, fmt.Errorf("%w: unaccepted policy %v", ErrMalformedRequest, req.ReqPolicy))
	}
	res.Request = req
	res.Stage = StageRequestDecoded

	// RequestDecoded -> DigestResolved
	digest, err := resolveDigest(req.MessageImprint.HashAlgorithm, b.digests)
	if err != nil {
		return res.fail(StageDigestResolved, err)
	}
	if err := req.checkImprintLength(digest); err != nil {
		return res.fail(StageDigestResolved, err)
	}
	res.Digest = digest
	res.Stage = StageDigestResolved

	// DigestResolved -> IdentityBound
	config := &TokenConfig{
		Certificate: b.identity.Certificate(),
		Signer:      b.identity.Signer(),
		Chain:       b.identity.Chain(),
		Policy:      b.policy,
		GenTime:     ts.Now(),
		DigestAlg:   digest,
	}
	res.Stage = StageIdentityBound

	// IdentityBound -> Signed
	token, err := CreateToken(req, config, b.serials)
	if err != nil {
		return res.fail(StageSigned, fmt.Errorf("%w: %v", ErrSigning, err))
	}
	res.Token = token
	res.Stage = StageSigned

	// Signed -> Encoded
	der, err := NewGrantedResponse(token).Marshal()
	if err != nil {
		return res.fail(StageEncoded, fmt.Errorf("%w: %v", ErrSigning, err))
	}
	res.Response = der
	res.Stage = StageEncoded
	return res
}

func (r Result) fail(stage Stage, err error) Result {
	r.Stage = StageFailed
	r.Err = &BuildError{Stage: stage, Err: err}
	return r
}

// OK reports whether the pipeline produced a response.
func (r Result) OK() bool {
	return r.Stage == StageEncoded && r.Err == nil
}

// IssueAt is a convenience wrapper building a token for a fixed time.
func (b *Builder) IssueAt(body []byte, t time.Time) Result {
	return b.Build(body, FixedTime(t))
}

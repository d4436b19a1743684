package tsa

import (
	"errors"
	"fmt"
)

// Sentinel errors for TSA operations.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrMalformedRequest indicates the body is not an acceptable TimeStampReq.
	ErrMalformedRequest = errors.New("malformed timestamp request")

	// ErrUnsupportedDigest indicates the message imprint names a digest outside the allow-list.
	ErrUnsupportedDigest = errors.New("unsupported digest algorithm")

	// ErrSigning indicates token assembly, signing or encoding failed.
	ErrSigning = errors.New("timestamp signing failed")

	// ErrInvalidResponse indicates the timestamp response is malformed.
	ErrInvalidResponse = errors.New("invalid timestamp response")

	// ErrInvalidToken indicates the timestamp token is invalid.
	ErrInvalidToken = errors.New("invalid timestamp token")

	// ErrVerificationFailed indicates timestamp verification failed.
	ErrVerificationFailed = errors.New("timestamp verification failed")

	// ErrHashMismatch indicates the message imprint does not match the data.
	ErrHashMismatch = errors.New("message imprint mismatch")

	// ErrCertificateBinding indicates the ESS signing-certificate attribute does not match the signer.
	ErrCertificateBinding = errors.New("signing certificate binding mismatch")
)

// BuildError records the pipeline transition that failed and why.
type BuildError struct {
	Stage Stage // Transition being attempted
	Err   error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	return fmt.Sprintf("tsa build %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *BuildError) Unwrap() error { return e.Err }

// Reason returns a short label for logs and metrics.
func (e *BuildError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrMalformedRequest):
		return "malformed_request"
	case errors.Is(e.Err, ErrUnsupportedDigest):
		return "unsupported_digest"
	default:
		return "signing_error"
	}
}

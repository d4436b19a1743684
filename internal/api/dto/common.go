// Package dto provides the JSON shapes served by the responder and printed by the CLI.
package dto

// HealthResponse represents the health check response.
type HealthResponse struct {
	// Status is "ok" or "degraded".
	Status string `json:"status"`

	// Version is the server version.
	Version string `json:"version"`

	// Signer describes the identity tokens are signed with.
	Signer *SignerInfo `json:"signer,omitempty"`

	// Digests lists the accepted message imprint algorithms.
	Digests []string `json:"digests,omitempty"`

	// Policy is the policy OID stamped on every token.
	Policy string `json:"policy,omitempty"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	// Ready indicates if the server is ready to accept requests.
	Ready bool `json:"ready"`

	// Checks lists individual readiness checks.
	Checks map[string]bool `json:"checks,omitempty"`
}

// SignerInfo describes the signing certificate.
type SignerInfo struct {
	CertChainItem

	// Algorithm is the signature algorithm of the signing key.
	Algorithm string `json:"algorithm"`

	// TimeStamping reports whether the certificate carries the timeStamping EKU.
	TimeStamping bool `json:"time_stamping"`
}

// CertChainItem summarizes one certificate.
type CertChainItem struct {
	// Subject is the certificate subject.
	Subject string `json:"subject"`

	// Issuer is the certificate issuer.
	Issuer string `json:"issuer"`

	// Serial is the serial number (hex).
	Serial string `json:"serial"`

	// NotAfter is the expiration timestamp.
	NotAfter string `json:"not_after"`
}

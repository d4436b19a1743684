package dto

// TSAVerifyResponse represents the result of timestamp verification.
type TSAVerifyResponse struct {
	// Valid indicates if the timestamp is valid.
	Valid bool `json:"valid"`

	// Errors lists verification errors.
	Errors []string `json:"errors,omitempty"`

	// Info contains timestamp information.
	Info *TSAInfo `json:"info,omitempty"`
}

// TSAInfo contains timestamp information.
type TSAInfo struct {
	// Status is the PKIStatus of the reply, empty for a bare token.
	Status string `json:"status,omitempty"`

	// Time is the timestamp time.
	Time string `json:"time"`

	// Serial is the timestamp serial number.
	Serial string `json:"serial"`

	// Policy is the TSA policy OID.
	Policy string `json:"policy"`

	// HashAlgorithm is the hash algorithm used.
	HashAlgorithm string `json:"hash_algorithm"`

	// Hash is the timestamped hash (hex).
	Hash string `json:"hash"`

	// Nonce is the nonce (if present).
	Nonce string `json:"nonce,omitempty"`

	// Certificates counts the certificates embedded in the token.
	Certificates int `json:"certificates"`

	// TSACertificate contains TSA certificate info.
	TSACertificate *CertChainItem `json:"tsa_certificate,omitempty"`

	// Ordering indicates if ordering is guaranteed.
	Ordering bool `json:"ordering"`
}

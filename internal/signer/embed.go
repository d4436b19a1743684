package signer

import _ "embed"

// Default signing material: a 4096-bit RSA time-stamping identity valid
// from 2000 to 2099 and the CA certificate that issued it.
var (
	//go:embed certs/tsa.crt
	embeddedCert []byte

	//go:embed certs/tsa.key
	embeddedKey []byte

	//go:embed certs/chain.crt
	embeddedChain []byte
)

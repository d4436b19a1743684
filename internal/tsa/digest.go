package tsa

import (
	"bytes"
	"crypto"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"

	"github.com/remiblancher/qtsa/internal/cms"
)

// AcceptedDigests is the default message imprint allow-list.
var AcceptedDigests = []crypto.Hash{
	crypto.MD5,
	crypto.SHA1,
	crypto.SHA256,
	crypto.SHA384,
	crypto.SHA512,
}

// ResolveDigest maps an imprint AlgorithmIdentifier to a crypto.Hash in AcceptedDigests.
func ResolveDigest(alg pkix.AlgorithmIdentifier) (crypto.Hash, error) {
	return resolveDigest(alg, AcceptedDigests)
}

func resolveDigest(alg pkix.AlgorithmIdentifier, accepted []crypto.Hash) (crypto.Hash, error) {
	// Parameters must be absent or NULL.
	if p := alg.Parameters.FullBytes; len(p) > 0 && !bytes.Equal(p, asn1.NullBytes) {
		return 0, fmt.Errorf("%w: unexpected parameters for %v", ErrUnsupportedDigest, alg.Algorithm)
	}
	h, err := cms.HashFromOID(alg.Algorithm)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedDigest, alg.Algorithm)
	}
	for _, a := range accepted {
		if a == h {
			return h, nil
		}
	}
	return 0, fmt.Errorf("%w: %v not accepted", ErrUnsupportedDigest, h)
}

func hashAlgorithmIdentifier(h crypto.Hash) pkix.AlgorithmIdentifier {
	return cms.DigestAlgorithmIdentifier(h)
}

// ParseHashName maps a command-line digest name such as "sha256" or "SHA-256".
func ParseHashName(name string) (crypto.Hash, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "md5":
		return crypto.MD5, nil
	case "sha1":
		return crypto.SHA1, nil
	case "sha256":
		return crypto.SHA256, nil
	case "sha384":
		return crypto.SHA384, nil
	case "sha512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDigest, name)
	}
}

// HashName returns the lower-case label used in logs and metrics.
func HashName(h crypto.Hash) string {
	switch h {
	case crypto.MD5:
		return "md5"
	case crypto.SHA1:
		return "sha1"
	case crypto.SHA256:
		return "sha256"
	case crypto.SHA384:
		return "sha384"
	case crypto.SHA512:
		return "sha512"
	default:
		return "unknown"
	}
}

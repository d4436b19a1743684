package tsa

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/remiblancher/qtsa/internal/cms"
	"github.com/remiblancher/qtsa/internal/signer"
)

var (
	testNotBefore = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	testNotAfter  = time.Date(2099, 12, 31, 23, 59, 59, 0, time.UTC)
	testGenTime   = time.Unix(1700000000, 0).UTC()
)

// testTSA bundles a CA, a TSA certificate issued by it, and the signing identity.
type testTSA struct {
	caCert   *x509.Certificate
	cert     *x509.Certificate
	key      *ecdsa.PrivateKey
	identity *signer.Identity
}

// newTestTSA creates an ECDSA P-256 CA and a TSA leaf with the timeStamping EKU.
func newTestTSA(t testing.TB, ekus ...x509.ExtKeyUsage) *testTSA {
	t.Helper()

	if len(ekus) == 0 {
		ekus = []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping}
	}

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate CA key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test TSA Root"},
		NotBefore:             testNotBefore,
		NotAfter:              testNotAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("Failed to create CA certificate: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("Failed to parse CA certificate: %v", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate TSA key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(0x1000),
		Subject:      pkix.Name{CommonName: "Test TSA"},
		NotBefore:    testNotBefore,
		NotAfter:     testNotAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  ekus,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		t.Fatalf("Failed to create TSA certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse TSA certificate: %v", err)
	}

	id, err := signer.New(cert, key, []*x509.Certificate{caCert})
	if err != nil {
		t.Fatalf("signer.New failed: %v", err)
	}

	return &testTSA{caCert: caCert, cert: cert, key: key, identity: id}
}

// newTestBuilder creates a Builder over a fresh ECDSA test TSA.
func newTestBuilder(t *testing.T) (*Builder, *testTSA) {
	t.Helper()
	tsa := newTestTSA(t)
	b, err := NewBuilder(BuilderConfig{Identity: tsa.identity})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	return b, tsa
}

// newEmbeddedBuilder creates a Builder over the built-in RSA identity.
func newEmbeddedBuilder(t *testing.T) *Builder {
	t.Helper()
	id, err := signer.Embedded()
	if err != nil {
		t.Fatalf("signer.Embedded failed: %v", err)
	}
	b, err := NewBuilder(BuilderConfig{Identity: id})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	return b
}

// marshalRequest encodes a TimeStampReq for data.
func marshalRequest(t *testing.T, data []byte, hash crypto.Hash, nonce *big.Int, certReq bool) []byte {
	t.Helper()
	req, err := CreateRequest(data, hash, nonce, certReq)
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	der, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return der
}

// mustMarshal encodes an arbitrary TimeStampReq.
func mustMarshal(t *testing.T, req TimeStampReq) []byte {
	t.Helper()
	der, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return der
}

// buildOK runs the pipeline and fails the test unless it succeeds.
func buildOK(t *testing.T, b *Builder, body []byte, at time.Time) Result {
	t.Helper()
	res := b.IssueAt(body, at)
	if !res.OK() {
		t.Fatalf("Build failed at %v: %v", res.Stage, res.Err)
	}
	return res
}

// tstInfoDER returns the encapsulated TSTInfo of a built token.
func tstInfoDER(t *testing.T, res Result) []byte {
	t.Helper()
	sd, err := cms.ParseSignedData(res.Token.SignedData)
	if err != nil {
		t.Fatalf("ParseSignedData failed: %v", err)
	}
	content := sd.Content()
	if len(content) == 0 {
		t.Fatal("token carries no TSTInfo")
	}
	return content
}

package main

import (
	"crypto"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/pflag"

	"github.com/remiblancher/qtsa/internal/api/dto"
	"github.com/remiblancher/qtsa/internal/config"
	"github.com/remiblancher/qtsa/internal/tsa"
)

// =============================================================================
// Request Tests
// =============================================================================

func TestF_Request_WithCertificates(t *testing.T) {
	tc := newTestContext(t)
	srv := tc.startResponder(config.DefaultBodyBufferSize)
	dataPath := tc.writeFile("data.txt", "time-stamp me")
	replyPath := tc.path("data.tsr")

	out, err := executeCommand(rootCmd, "request",
		"--url", srv.URL+"/1700000000",
		"--cert",
		"-o", replyPath,
		dataPath,
	)
	if err != nil {
		t.Fatalf("request failed: %v\n%s", err, out)
	}
	assertContains(t, out, "2023-11-14T22:13:20Z")
	assertContains(t, out, "Certificates: 2")
	assertContains(t, out, "Policy:       1.2.3.4")

	reply, err := os.ReadFile(replyPath)
	if err != nil {
		t.Fatalf("reply not written: %v", err)
	}
	resp, err := tsa.ParseResponse(reply)
	if err != nil || !resp.IsGranted() {
		t.Fatalf("ParseResponse = %v, %v", resp, err)
	}
}

func TestF_Request_SHA1WithoutNonce(t *testing.T) {
	tc := newTestContext(t)
	srv := tc.startResponder(config.DefaultBodyBufferSize)
	replyPath, _ := tc.requestReply(srv, "legacy", "--hash", "sha1", "--nonce=false")

	reply, _ := os.ReadFile(replyPath)
	resp, err := tsa.ParseResponse(reply)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if resp.Token.Info.Nonce != nil {
		t.Errorf("Nonce = %v, want absent", resp.Token.Info.Nonce)
	}
	if h, _ := resp.Token.HashAlgorithm(); h != crypto.SHA1 {
		t.Errorf("HashAlgorithm = %v", h)
	}
}

func TestF_Request_Refused(t *testing.T) {
	tc := newTestContext(t)
	srv := tc.startResponder(config.DefaultBodyBufferSize, crypto.SHA256)
	dataPath := tc.writeFile("data.txt", "refused")

	_, err := executeCommand(rootCmd, "request",
		"--url", srv.URL+"/1700000000",
		"--hash", "sha512",
		"-o", tc.path("data.tsr"),
		dataPath,
	)
	if err == nil {
		t.Fatal("request should fail when the responder answers with the usage text")
	}
	assertContains(t, err.Error(), "signtool.exe /tr")
	if _, statErr := os.Stat(tc.path("data.tsr")); !os.IsNotExist(statErr) {
		t.Error("no reply should be written for a refused request")
	}
}

func TestF_Request_BodyTooLarge(t *testing.T) {
	tc := newTestContext(t)
	srv := tc.startResponder(16)
	dataPath := tc.writeFile("data.txt", "too big for sixteen bytes")

	_, err := executeCommand(rootCmd, "request",
		"--url", srv.URL+"/1700000000",
		"-o", tc.path("data.tsr"),
		dataPath,
	)
	if err == nil {
		t.Fatal("request should fail on 500")
	}
	assertContains(t, err.Error(), "500")
}

func TestF_Request_UnsupportedHash(t *testing.T) {
	tc := newTestContext(t)
	dataPath := tc.writeFile("data.txt", "x")

	_, err := executeCommand(rootCmd, "request",
		"--url", "http://127.0.0.1:1/1",
		"--hash", "sha3-256",
		"-o", tc.path("data.tsr"),
		dataPath,
	)
	if !errors.Is(err, tsa.ErrUnsupportedDigest) {
		t.Errorf("err = %v, want ErrUnsupportedDigest", err)
	}
}

// =============================================================================
// Verify Tests
// =============================================================================

func TestF_Verify_WithEmbeddedCertificates(t *testing.T) {
	tc := newTestContext(t)
	srv := tc.startResponder(config.DefaultBodyBufferSize)
	replyPath, dataPath := tc.requestReply(srv, "verify me", "--cert")

	out, err := executeCommand(rootCmd, "verify", replyPath, "--data", dataPath)
	if err != nil {
		t.Fatalf("verify failed: %v\n%s", err, out)
	}
	assertContains(t, out, "Status:     VALID")
	assertContains(t, out, "Data Match: YES")
}

func TestF_Verify_BuiltinTrust(t *testing.T) {
	tc := newTestContext(t)
	srv := tc.startResponder(config.DefaultBodyBufferSize)
	replyPath, _ := tc.requestReply(srv, "no certificates")

	if _, err := executeCommand(rootCmd, "verify", replyPath); err == nil {
		t.Fatal("verify should fail without any signer certificate")
	}
	resetFlags()

	out, err := executeCommand(rootCmd, "verify", replyPath, "--builtin", "--json")
	if err != nil {
		t.Fatalf("verify --builtin failed: %v\n%s", err, out)
	}
	var resp dto.TSAVerifyResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !resp.Valid || resp.Info == nil || resp.Info.Certificates != 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestF_Verify_DataMismatch(t *testing.T) {
	tc := newTestContext(t)
	srv := tc.startResponder(config.DefaultBodyBufferSize)
	replyPath, _ := tc.requestReply(srv, "original", "--cert")
	other := tc.writeFile("other.txt", "tampered")

	out, err := executeCommand(rootCmd, "verify", replyPath, "--data", other)
	if !errors.Is(err, tsa.ErrHashMismatch) {
		t.Fatalf("err = %v, want ErrHashMismatch", err)
	}
	assertContains(t, out, "Data Match: NO")
}

func TestF_Verify_MissingFile(t *testing.T) {
	newTestContext(t)
	if _, err := executeCommand(rootCmd, "verify", "/nonexistent/reply.tsr"); err == nil {
		t.Fatal("verify should fail for a missing file")
	}
}

// =============================================================================
// Info Tests
// =============================================================================

func TestF_Info_Text(t *testing.T) {
	tc := newTestContext(t)
	srv := tc.startResponder(config.DefaultBodyBufferSize)
	replyPath, _ := tc.requestReply(srv, "info")

	out, err := executeCommand(rootCmd, "info", replyPath)
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	assertContains(t, out, "Status:       granted")
	assertContains(t, out, "Gen Time:     2023-11-14T22:13:20Z")
	assertContains(t, out, "Hash Alg:     sha256")
	assertContains(t, out, "Nonce:")
}

func TestF_Info_JSON(t *testing.T) {
	tc := newTestContext(t)
	srv := tc.startResponder(config.DefaultBodyBufferSize)
	replyPath, _ := tc.requestReply(srv, "json", "--cert", "--hash", "sha384")

	out, err := executeCommand(rootCmd, "info", replyPath, "--json")
	if err != nil {
		t.Fatalf("info failed: %v", err)
	}
	var info dto.TSAInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if info.HashAlgorithm != "sha384" || info.Certificates != 2 || info.Policy != "1.2.3.4" {
		t.Errorf("info = %+v", info)
	}
}

func TestF_Info_Garbage(t *testing.T) {
	tc := newTestContext(t)
	path := tc.writeFile("garbage.tsr", "not DER")

	if _, err := executeCommand(rootCmd, "info", path); err == nil {
		t.Fatal("info should fail for garbage input")
	}
}

// =============================================================================
// Serve Configuration Tests
// =============================================================================

func newServeFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	f := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	addServeFlags(f, config.Default())
	if err := f.Parse(args); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return f
}

func TestU_LoadServeConfig_Defaults(t *testing.T) {
	cfg, err := loadServeConfig("", newServeFlags(t))
	if err != nil {
		t.Fatalf("loadServeConfig failed: %v", err)
	}
	if cfg.Server.Listen != ":8318" || cfg.Server.BodyBufferSize != config.DefaultBodyBufferSize {
		t.Errorf("Server = %+v", cfg.Server)
	}
}

func TestU_LoadServeConfig_Precedence(t *testing.T) {
	tc := newTestContext(t)
	path := tc.writeFile("qtsa.yaml", `
server:
  listen: "127.0.0.1:7000"
  max_connections: 8
  shutdown_timeout: 4s
log:
  level: warn
`)
	t.Setenv("QTSA_SERVER_MAX_CONNECTIONS", "16")
	t.Setenv("QTSA_LOG_LEVEL", "error")

	cfg, err := loadServeConfig(path, newServeFlags(t, "--log-level", "debug"))
	if err != nil {
		t.Fatalf("loadServeConfig failed: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:7000" {
		t.Errorf("Listen = %q, want file value", cfg.Server.Listen)
	}
	if cfg.Server.MaxConnections != 16 {
		t.Errorf("MaxConnections = %d, want env value", cfg.Server.MaxConnections)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want flag value", cfg.Log.Level)
	}
	if cfg.Server.ShutdownTimeout != 4*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.Server.ShutdownTimeout)
	}
}

func TestU_LoadServeConfig_Invalid(t *testing.T) {
	if _, err := loadServeConfig("", newServeFlags(t, "--cert", "tsa.crt")); err == nil {
		t.Error("a certificate without key should be rejected")
	}
	if _, err := loadServeConfig("/nonexistent/qtsa.yaml", newServeFlags(t)); err == nil {
		t.Error("a missing config file should be rejected")
	}
}

func TestU_NewResponder(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	cfg := config.Default()

	if _, err := newResponder(cfg, log); err != nil {
		t.Fatalf("newResponder failed: %v", err)
	}
	var loaded bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "signing identity loaded" {
			loaded = entry.Data["source"] == "built-in"
		}
	}
	if !loaded {
		t.Errorf("identity load not logged with the built-in source: %+v", hook.AllEntries())
	}

	cfg.Signer.Certificate = "/nonexistent/tsa.crt"
	cfg.Signer.Key = "/nonexistent/tsa.key"
	if _, err := newResponder(cfg, log); err == nil {
		t.Error("newResponder should fail for missing identity files")
	}
}

package main

import (
	"bytes"
	"crypto"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/cobra"

	"github.com/remiblancher/qtsa/internal/api/router"
	"github.com/remiblancher/qtsa/internal/api/service"
	"github.com/remiblancher/qtsa/internal/signer"
	"github.com/remiblancher/qtsa/internal/tsa"
)

// executeCommand executes a Cobra command with the given args and returns output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err = root.Execute()
	return buf.String(), err
}

// resetFlags resets all command flags to their default values.
func resetFlags() {
	requestURL = ""
	requestHash = "sha256"
	requestCert = false
	requestNonce = true
	requestOutput = ""
	requestTimeout = 30 * time.Second

	verifyData = ""
	verifyCA = ""
	verifySigner = ""
	verifyBuiltin = false
	verifyJSON = false

	infoJSON = false

	serveConfigPath = ""
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
}

// newTestContext creates a new test context with a temp directory.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	resetFlags()
	return &testContext{t: t, tempDir: t.TempDir()}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		tc.t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// startResponder serves the full router with the built-in identity.
// digests restricts the accepted imprint algorithms when set.
func (tc *testContext) startResponder(bodyLimit int64, digests ...crypto.Hash) *httptest.Server {
	tc.t.Helper()
	id, err := signer.Embedded()
	if err != nil {
		tc.t.Fatalf("Embedded failed: %v", err)
	}
	b, err := tsa.NewBuilder(tsa.BuilderConfig{Identity: id, Digests: digests})
	if err != nil {
		tc.t.Fatalf("NewBuilder failed: %v", err)
	}
	log, _ := logtest.NewNullLogger()
	srv := httptest.NewServer(router.New(&router.Config{
		Service:        service.NewTSAService(b, "test", log),
		BodyBufferSize: bodyLimit,
		Log:            log,
	}))
	tc.t.Cleanup(srv.Close)
	return srv
}

// requestReply time-stamps content through the CLI and returns the reply path.
func (tc *testContext) requestReply(srv *httptest.Server, content string, extra ...string) (replyPath, dataPath string) {
	tc.t.Helper()
	dataPath = tc.writeFile("data.txt", content)
	replyPath = tc.path("data.tsr")
	args := append([]string{"request", "--url", srv.URL + "/1700000000", "-o", replyPath}, extra...)
	args = append(args, dataPath)
	if out, err := executeCommand(rootCmd, args...); err != nil {
		tc.t.Fatalf("request failed: %v\n%s", err, out)
	}
	resetFlags()
	return replyPath, dataPath
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("output does not contain %q:\n%s", substr, s)
	}
}

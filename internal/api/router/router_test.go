package router

import (
	"bytes"
	"crypto"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/remiblancher/qtsa/internal/api/middleware"
	"github.com/remiblancher/qtsa/internal/api/service"
	"github.com/remiblancher/qtsa/internal/signer"
	"github.com/remiblancher/qtsa/internal/tsa"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	id, err := signer.Embedded()
	if err != nil {
		t.Fatalf("Embedded failed: %v", err)
	}
	b, err := tsa.NewBuilder(tsa.BuilderConfig{Identity: id})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	log, _ := logtest.NewNullLogger()
	return New(&Config{
		Service:        service.NewTSAService(b, "test", log),
		BodyBufferSize: 16 * 1024,
		Log:            log,
	})
}

func TestF_Router_Routes(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name        string
		method      string
		target      string
		wantStatus  int
		contentType string
	}{
		{"usage", http.MethodGet, "/1700000000", http.StatusOK, "text/plain"},
		{"health", http.MethodGet, "/health", http.StatusOK, "application/json"},
		{"ready", http.MethodGet, "/ready", http.StatusOK, "application/json"},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "text/plain"},
		{"openapi", http.MethodGet, "/openapi.yaml", http.StatusOK, "application/yaml"},
		{"unknown", http.MethodGet, "/nope", http.StatusNotFound, ""},
		{"nested time", http.MethodGet, "/1/2", http.StatusNotFound, ""},
		{"put time", http.MethodPut, "/1700000000", http.StatusNotFound, ""},
		{"post health", http.MethodPost, "/health", http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("%s %s status = %d, want %d", tt.method, tt.target, rec.Code, tt.wantStatus)
			}
			if tt.contentType != "" && !strings.HasPrefix(rec.Header().Get("Content-Type"), tt.contentType) {
				t.Errorf("Content-Type = %q, want %s", rec.Header().Get("Content-Type"), tt.contentType)
			}
			if rec.Header().Get(middleware.RequestIDHeader) == "" {
				t.Error("request id header missing")
			}
		})
	}
}

func TestF_Router_IssuesAndCounts(t *testing.T) {
	r := newTestRouter(t)

	req, _ := tsa.CreateRequest([]byte("routed"), crypto.SHA384, nil, false)
	body, _ := req.Marshal()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/42", bytes.NewReader(body)))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/timestamp-reply" {
		t.Fatalf("status = %d, Content-Type = %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `qtsa_responder_tokens_total{digest="sha384"}`) {
		t.Error("issued token was not counted")
	}
}

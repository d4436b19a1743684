// Package router provides HTTP routing configuration using Chi.
package router

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/remiblancher/qtsa/internal/api/handler"
	"github.com/remiblancher/qtsa/internal/api/middleware"
	"github.com/remiblancher/qtsa/internal/api/service"
	"github.com/remiblancher/qtsa/internal/metrics"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Config holds router configuration.
type Config struct {
	Service        *service.TSAService
	BodyBufferSize int64
	Log            logrus.FieldLogger
}

// New creates a new Chi router with all routes configured.
//
// Time-stamp requests on /<seconds> are answered by middleware ahead of the
// routing table, so every other route only sees requests it declined.
func New(cfg *Config) http.Handler {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recoverer(log))

	tsaHandler := handler.NewTSAHandler(cfg.Service, cfg.BodyBufferSize, log)
	r.Use(tsaHandler.Middleware)

	healthHandler := handler.NewHealthHandler(cfg.Service)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// OpenAPI spec
	r.Get("/openapi.yaml", serveOpenAPISpec)

	return r
}

// serveOpenAPISpec serves the OpenAPI specification file.
func serveOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapiSpec)
}

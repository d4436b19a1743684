// Package server provides HTTP server configuration and lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/remiblancher/qtsa/internal/config"
)

// Server represents the HTTP server.
type Server struct {
	cfg     config.ServerConfig
	version string
	srv     *http.Server
	log     logrus.FieldLogger
}

// New creates a new Server serving handler.
func New(cfg config.ServerConfig, handler http.Handler, version string, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:     cfg,
		version: version,
		log:     log,
		srv: &http.Server{
			Addr:         cfg.Listen,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	errChan := make(chan error, 1)
	go func() {
		if s.tlsEnabled() {
			errChan <- s.srv.ServeTLS(ln, s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			errChan <- s.srv.Serve(ln)
		}
	}()

	s.logStartup(ln.Addr())

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.log.WithField("cause", context.Cause(ctx)).Info("shutting down")
		return s.shutdown()
	}
}

// shutdown gracefully stops the server.
func (s *Server) shutdown() error {
	ctx := context.Background()
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.log.Info("server stopped gracefully")
	return nil
}

func (s *Server) tlsEnabled() bool {
	return s.cfg.TLSCert != "" && s.cfg.TLSKey != ""
}

// logStartup logs server startup information.
func (s *Server) logStartup(addr net.Addr) {
	scheme := "http"
	if s.tlsEnabled() {
		scheme = "https"
	}
	s.log.WithFields(logrus.Fields{
		"version":         s.version,
		"address":         fmt.Sprintf("%s://%s", scheme, addr),
		"body_buffer":     s.cfg.BodyBufferSize,
		"max_connections": s.cfg.MaxConnections,
	}).Info("time-stamp responder listening")
}

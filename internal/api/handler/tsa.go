package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/remiblancher/qtsa/internal/api/middleware"
	"github.com/remiblancher/qtsa/internal/api/service"
	"github.com/remiblancher/qtsa/internal/metrics"
	"github.com/remiblancher/qtsa/internal/tsa"
)

// Media types of the RFC 3161 HTTP transport.
const (
	ContentTypeQuery = "application/timestamp-query"
	ContentTypeReply = "application/timestamp-reply"
)

// ErrBodyUnavailable is returned when a POST body is empty, too large for the
// body buffer or could not be read in full.
var ErrBodyUnavailable = errors.New("request body unavailable")

// TSAHandler answers GET and POST requests on /<seconds> paths.
type TSAHandler struct {
	service *service.TSAService
	maxBody int64
	log     logrus.FieldLogger
}

// NewTSAHandler creates a new TSAHandler. maxBody bounds the buffered request body.
func NewTSAHandler(tsaService *service.TSAService, maxBody int64, log logrus.FieldLogger) *TSAHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TSAHandler{service: tsaService, maxBody: maxBody, log: log}
}

// Claims reports whether r is a time-stamp request this handler answers.
func Claims(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		return false
	}
	_, err := tsa.ParseTimePath(r.URL.Path)
	return err == nil
}

// Middleware serves claimed requests and passes every other request to next unchanged.
func (h *TSAHandler) Middleware(next http.Handler) http.Handler {
	claimed := metrics.Instrument(h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Claims(r) {
			next.ServeHTTP(w, r)
			return
		}
		claimed.ServeHTTP(w, r)
	})
}

// ServeHTTP handles GET and POST /<seconds>.
func (h *TSAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	genTime, err := tsa.ParseTimePath(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer metrics.ObserveDuration(r.Method, time.Now())

	switch r.Method {
	case http.MethodGet:
		metrics.ObserveOutcome(metrics.OutcomeUsage)
		h.usage(w, r)
	case http.MethodPost:
		h.sign(w, r, genTime)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (h *TSAHandler) sign(w http.ResponseWriter, r *http.Request, genTime time.Time) {
	body, err := h.readBody(w, r)
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"request_id":     middleware.RequestIDFromContext(r.Context()),
			"content_length": r.ContentLength,
			"limit":          h.maxBody,
		}).WithError(err).Error("failed to read time-stamp request body")
		metrics.ObserveOutcome(metrics.OutcomeBodyUnavailable)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	res := h.service.Issue(r.Context(), body, genTime)
	if !res.OK() {
		h.usage(w, r)
		return
	}

	w.Header().Set("Content-Type", ContentTypeReply)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Response)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Response)
}

// readBody buffers the whole body in memory, refusing anything over maxBody.
func (h *TSAHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, fmt.Errorf("%w: empty body", ErrBodyUnavailable)
	}
	if r.ContentLength > h.maxBody {
		return nil, fmt.Errorf("%w: %d bytes exceed the %d byte buffer", ErrBodyUnavailable, r.ContentLength, h.maxBody)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: body exceeds the %d byte buffer", ErrBodyUnavailable, h.maxBody)
		}
		return nil, fmt.Errorf("%w: %v", ErrBodyUnavailable, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrBodyUnavailable)
	}
	return body, nil
}

// usage writes the signtool hint pointing back at the requested URL.
func (h *TSAHandler) usage(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	banner := "signtool.exe /tr " + scheme + "://" + r.Host + r.URL.Path + " /td <sha1|sha256> <...>"

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Length", strconv.Itoa(len(banner)))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, banner)
}

// Package metrics exposes the responder's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/docker/go-metrics"
)

// Request outcomes recorded by ObserveOutcome.
const (
	OutcomeGranted           = "granted"
	OutcomeUsage             = "usage"
	OutcomeMalformedRequest  = "malformed_request"
	OutcomeUnsupportedDigest = "unsupported_digest"
	OutcomeSigningError      = "signing_error"
	OutcomeBodyUnavailable   = "body_unavailable"
)

var (
	requestsCounter  metrics.LabeledCounter
	tokensCounter    metrics.LabeledCounter
	requestDurations metrics.LabeledTimer
	httpMetrics      []*metrics.HTTPMetric
)

func init() {
	ns := metrics.NewNamespace("qtsa", "responder", nil)
	requestsCounter = ns.NewLabeledCounter("requests", "The number of time-stamp requests by outcome", "outcome")
	for _, o := range []string{
		OutcomeGranted,
		OutcomeUsage,
		OutcomeMalformedRequest,
		OutcomeUnsupportedDigest,
		OutcomeSigningError,
		OutcomeBodyUnavailable,
	} {
		requestsCounter.WithValues(o).Inc(0)
	}
	tokensCounter = ns.NewLabeledCounter("tokens", "The number of issued time-stamp tokens by imprint digest", "digest")
	requestDurations = ns.NewLabeledTimer("request_duration", "The number of seconds it takes to answer each time-stamp request", "method")
	metrics.Register(ns)

	// The generic HTTP metrics reuse names like requests_total, so they get their own subsystem.
	httpNs := metrics.NewNamespace("qtsa", "http", nil)
	httpMetrics = httpNs.NewDefaultHttpMetrics("tsa")
	metrics.Register(httpNs)
}

// ObserveOutcome counts one handled request.
func ObserveOutcome(outcome string) {
	requestsCounter.WithValues(outcome).Inc()
}

// ObserveToken counts one issued token.
func ObserveToken(digest string) {
	tokensCounter.WithValues(digest).Inc()
}

// ObserveDuration records the time spent answering a request.
func ObserveDuration(method string, start time.Time) {
	requestDurations.WithValues(method).UpdateSince(start)
}

// Instrument wraps h with the generic HTTP request, size and latency metrics.
func Instrument(h http.Handler) http.Handler {
	return metrics.InstrumentHandler(httpMetrics, h)
}

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return metrics.Handler()
}

package fetchgate

import (
	"net/http"
	"time"
)

// Outcome describes how a dispatched request ended. It is a closed set of
// variants decided once at the downloader boundary so the rest of the
// engine is a simple switch rather than open-ended response introspection.
type Outcome interface {
	outcome()
}

// CleanResponse is a response not classified as backoff-worthy.
type CleanResponse struct {
	Status  int
	Headers http.Header

	// Latency is the observed download latency, used by latency-feedback
	// controllers. Zero when unknown.
	Latency time.Duration
}

// BackoffResponse is a response whose status code is in the configured
// backoff set (e.g. 429, 503). Headers are retained so Retry-After and
// rate-limit-reset hints can be honored.
type BackoffResponse struct {
	Status  int
	Headers http.Header
}

// BackoffException is a transport failure of a kind in the configured
// backoff set (e.g. "timeout", "connection-refused").
type BackoffException struct {
	Kind string
}

// Cancelled reports that the request was aborted externally. It releases
// the reservation without feeding backoff or rampup state.
type Cancelled struct{}

func (CleanResponse) outcome()    {}
func (BackoffResponse) outcome()  {}
func (BackoffException) outcome() {}
func (Cancelled) outcome()        {}

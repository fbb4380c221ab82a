package throttle

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fwojciec/fetchgate"
)

// Classifier decides the Outcome variant for a downloader result once, at
// the boundary, using the configured backoff sets. Everything downstream
// is a closed switch over the variant.
type Classifier struct {
	codes map[int]struct{}
	kinds map[string]struct{}
}

// NewClassifier builds a classifier from the configured backoff sets.
func NewClassifier(cfg *fetchgate.Config) *Classifier {
	c := &Classifier{
		codes: make(map[int]struct{}, len(cfg.Backoff.HTTPCodes)),
		kinds: make(map[string]struct{}, len(cfg.Backoff.Exceptions)),
	}
	for _, code := range cfg.Backoff.HTTPCodes {
		c.codes[code] = struct{}{}
	}
	for _, kind := range cfg.Backoff.Exceptions {
		c.kinds[kind] = struct{}{}
	}
	return c
}

// Response classifies a completed download. A status code in the backoff
// set wins over any success interpretation, since under-throttling is
// costlier than over-throttling.
func (c *Classifier) Response(status int, headers http.Header, latency time.Duration) fetchgate.Outcome {
	if _, ok := c.codes[status]; ok {
		return fetchgate.BackoffResponse{Status: status, Headers: headers}
	}
	return fetchgate.CleanResponse{Status: status, Headers: headers, Latency: latency}
}

// Exception classifies a transport failure. Kinds outside the backoff set
// count as clean feedback: the request failed but the server gave no
// signal to slow down.
func (c *Classifier) Exception(kind string) fetchgate.Outcome {
	if _, ok := c.kinds[kind]; ok {
		return fetchgate.BackoffException{Kind: kind}
	}
	return fetchgate.CleanResponse{}
}

// retryAfterFloor extracts an explicit minimum delay from Retry-After or a
// rate-limit-reset header. Returns zero when no usable hint is present.
func retryAfterFloor(headers http.Header, now time.Time) time.Duration {
	var floor time.Duration
	if v := headers.Get("Retry-After"); v != "" {
		if d, ok := parseRetryAfter(v, now); ok && d > floor {
			floor = d
		}
	}
	for _, name := range []string{"RateLimit-Reset", "X-RateLimit-Reset"} {
		v := headers.Get(name)
		if v == "" {
			continue
		}
		if d, ok := parseReset(v, now); ok && d > floor {
			floor = d
		}
	}
	return floor
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	if sec, err := strconv.ParseFloat(v, 64); err == nil {
		if sec < 0 {
			return 0, false
		}
		return time.Duration(sec * float64(time.Second)), true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			return 0, false
		}
		return d, true
	}
	return 0, false
}

// parseReset handles both delta-seconds and unix-timestamp forms. Values
// large enough to be a unix timestamp are interpreted relative to now.
func parseReset(v string, now time.Time) (time.Duration, bool) {
	sec, err := strconv.ParseFloat(v, 64)
	if err != nil || sec < 0 {
		return 0, false
	}
	if sec > 1e9 {
		d := time.Unix(int64(sec), 0).Sub(now)
		if d < 0 {
			return 0, false
		}
		return d, true
	}
	return time.Duration(sec * float64(time.Second)), true
}

// actualCost reads the configured cost header for quota reconciliation.
func actualCost(headers http.Header, name string) (float64, bool) {
	if name == "" || headers == nil {
		return 0, false
	}
	v := headers.Get(name)
	if v == "" {
		return 0, false
	}
	cost, err := strconv.ParseFloat(v, 64)
	if err != nil || cost < 0 {
		return 0, false
	}
	return cost, true
}

package throttle

import (
	"math"
	"time"

	"github.com/fwojciec/fetchgate"
)

// Compile-time interface verification.
var _ fetchgate.Controller = (*BackoffPolicy)(nil)
var _ fetchgate.Controller = (*AutoPolicy)(nil)

// BackoffPolicy is the default controller: multiplicative delay increase
// on backoff feedback, concurrency shrink once delay is saturated, and one
// division step back toward nominal per eligible window.
type BackoffPolicy struct{}

// NewBackoffPolicy returns the default backoff controller.
func NewBackoffPolicy() *BackoffPolicy {
	return &BackoffPolicy{}
}

// Backoff multiplies the delay by the scope's factor, bounded by
// [MinDelay, MaxDelay]. A Retry-After or rate-limit-reset floor overrides
// the multiplicative result when larger. Once delay-only backoff is
// saturated at MaxDelay, further events shrink the concurrency limit as a
// second line of defense.
func (p *BackoffPolicy) Backoff(s fetchgate.ScopeStatus, floor time.Duration) fetchgate.ScopeUpdate {
	c := s.Concurrency
	if s.Delay >= s.MaxDelay {
		c = int(math.Floor(float64(c) * s.ConcurrencyDecreaseFactor))
		if c < 1 {
			c = 1
		}
	}

	d := time.Duration(float64(s.Delay) * s.Factor)
	if d < s.MinDelay {
		d = s.MinDelay
	}
	if floor > d {
		d = floor
	}
	if d > s.MaxDelay {
		d = s.MaxDelay
	}
	return fetchgate.ScopeUpdate{Delay: d, Concurrency: c}
}

// Clean leaves the throttle state unchanged; recovery happens through
// window-gated rampup, not per-response.
func (p *BackoffPolicy) Clean(s fetchgate.ScopeStatus) fetchgate.ScopeUpdate {
	return fetchgate.ScopeUpdate{Delay: s.Delay, Concurrency: s.Concurrency}
}

// Rampup divides the delay by the scope's factor, never past the nominal
// delay. Once the delay is back at nominal, the concurrency limit is
// restored step by step.
func (p *BackoffPolicy) Rampup(s fetchgate.ScopeStatus) fetchgate.ScopeUpdate {
	d := time.Duration(float64(s.Delay) / s.Factor)
	if d < s.BaseDelay {
		d = s.BaseDelay
	}
	c := s.Concurrency
	if d <= s.BaseDelay && c < s.BaseConcurrency {
		c = int(math.Ceil(float64(c) / s.ConcurrencyDecreaseFactor))
		if c > s.BaseConcurrency {
			c = s.BaseConcurrency
		}
	}
	return fetchgate.ScopeUpdate{Delay: d, Concurrency: c}
}

// AutoPolicy adds latency feedback on clean responses: the delay moves
// toward latency divided by the target concurrency, averaged with the
// previous delay. Backoff and rampup behave like BackoffPolicy.
type AutoPolicy struct {
	backoff BackoffPolicy

	// TargetConcurrency is the average number of requests the engine
	// should keep in flight against a scope.
	TargetConcurrency float64
}

// NewAutoPolicy returns a latency-feedback controller targeting the given
// average concurrency per scope.
func NewAutoPolicy(targetConcurrency float64) *AutoPolicy {
	if targetConcurrency <= 0 {
		targetConcurrency = 1
	}
	return &AutoPolicy{TargetConcurrency: targetConcurrency}
}

// Backoff behaves like BackoffPolicy.Backoff.
func (p *AutoPolicy) Backoff(s fetchgate.ScopeStatus, floor time.Duration) fetchgate.ScopeUpdate {
	return p.backoff.Backoff(s, floor)
}

// Clean moves the delay halfway toward the latency-derived target. The
// result never drops below the nominal delay and is capped at MaxDelay.
func (p *AutoPolicy) Clean(s fetchgate.ScopeStatus) fetchgate.ScopeUpdate {
	if s.Latency <= 0 {
		return fetchgate.ScopeUpdate{Delay: s.Delay, Concurrency: s.Concurrency}
	}
	target := time.Duration(float64(s.Latency) / p.TargetConcurrency)
	d := (s.Delay + target) / 2
	if d < s.BaseDelay {
		d = s.BaseDelay
	}
	if d > s.MaxDelay {
		d = s.MaxDelay
	}
	return fetchgate.ScopeUpdate{Delay: d, Concurrency: s.Concurrency}
}

// Rampup behaves like BackoffPolicy.Rampup.
func (p *AutoPolicy) Rampup(s fetchgate.ScopeStatus) fetchgate.ScopeUpdate {
	return p.backoff.Rampup(s)
}

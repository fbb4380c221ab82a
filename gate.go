package fetchgate

import (
	"context"
	"time"
)

// DecisionKind classifies an admission decision.
type DecisionKind int

const (
	// Admitted means the request may be dispatched now; a reservation was
	// taken in every scope.
	Admitted DecisionKind = iota

	// Delayed means the request must wait for a known duration (delay or
	// quota window reset) before it can be admitted.
	Delayed

	// Blocked means the request is waiting on a concurrency slot, which
	// frees only on a future release event, not a timer.
	Blocked
)

// String returns a human-readable name for the decision kind.
func (k DecisionKind) String() string {
	switch k {
	case Admitted:
		return "admitted"
	case Delayed:
		return "delayed"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a non-blocking admission attempt.
type Decision struct {
	Kind DecisionKind

	// Wait is the time until the request could be re-attempted. Set for
	// Delayed decisions; zero for Blocked (no fixed wait exists).
	Wait time.Duration

	// Reason names the most restrictive scope and constraint for Delayed
	// and Blocked decisions.
	Reason string

	// Reservation is the claim taken across all scopes. Set only for
	// Admitted decisions. It must be released exactly once via
	// Gate.Report.
	Reservation Reservation
}

// Reservation is the atomic claim of one concurrency (and quota) unit in
// every scope a request needs. A reservation, once taken, must be released
// exactly once via Gate.Report, on every exit path including errors and
// cancellation.
type Reservation interface {
	// Request returns the admitted request.
	Request() *Request

	// Scopes returns the names of the scopes holding the reservation.
	// Feedback is routed to these scopes, not re-resolved from the URL.
	Scopes() []string
}

// Gate decides, for every candidate request, whether it may be dispatched
// now and how long it must otherwise wait.
type Gate interface {
	// TryAdmit attempts admission without blocking.
	TryAdmit(req *Request) Decision

	// Admit blocks until the request is admitted or ctx is done. A parked
	// request holds no scope state and can be cancelled at any time via
	// ctx without affecting other requests.
	Admit(ctx context.Context, req *Request) (Reservation, error)

	// Report finalizes a reservation with the outcome produced
	// downstream, releasing the concurrency units and feeding the
	// backoff state of every scope the reservation holds.
	Report(res Reservation, outcome Outcome)
}

// Resolver maps a request to the set of scope names (and quota weight per
// scope) it belongs to.
type Resolver interface {
	// Resolve returns the scope assignment for the request. Resolution
	// happens once per logical request; the result is carried across
	// redirects rather than re-derived.
	Resolve(req *Request) (ScopeAssignment, error)
}

// ScopeStatus is an immutable snapshot of one scope's throttle state,
// handed to a Controller when feedback arrives.
type ScopeStatus struct {
	Name string

	// Delay is the current inter-request delay.
	Delay time.Duration

	// BaseDelay is the configured nominal delay the scope ramps back
	// toward.
	BaseDelay time.Duration

	// MinDelay and MaxDelay bound the current delay.
	MinDelay time.Duration
	MaxDelay time.Duration

	// Concurrency is the current concurrency limit; BaseConcurrency is
	// the configured limit it can be restored to.
	Concurrency     int
	BaseConcurrency int

	// Factor and ConcurrencyDecreaseFactor are the scope's configured
	// backoff dynamics.
	Factor                    float64
	ConcurrencyDecreaseFactor float64

	// WindowBackoffs counts backoff events in the window being
	// evaluated.
	WindowBackoffs int

	// Latency is the observed download latency for the event being
	// reported, zero if unknown.
	Latency time.Duration
}

// ScopeUpdate is the adjustment a Controller returns. The gate clamps the
// delay to [MinDelay, MaxDelay] and the concurrency to
// [1, BaseConcurrency] before applying it, and applies it as a single
// atomic step.
type ScopeUpdate struct {
	Delay       time.Duration
	Concurrency int
}

// Controller adjusts a scope's throttle state in response to feedback.
// Implementations are pure: they receive a snapshot and return the desired
// new state, which keeps every mutation a single atomic step inside the
// gate.
type Controller interface {
	// Backoff handles a backoff-worthy event. floor is an explicit
	// minimum delay extracted from Retry-After or a rate-limit-reset
	// header, zero if absent.
	Backoff(s ScopeStatus, floor time.Duration) ScopeUpdate

	// Clean handles a response not classified as backoff-worthy.
	Clean(s ScopeStatus) ScopeUpdate

	// Rampup is invoked at a window boundary when the closing window's
	// backoff count is at or below the configured target. It moves the
	// scope one step back toward nominal.
	Rampup(s ScopeStatus) ScopeUpdate
}

// RobotsPolicy exposes robots.txt crawl-delay declarations. The engine
// only reads it; fetching and parsing robots.txt happens elsewhere.
type RobotsPolicy interface {
	// CrawlDelay returns the declared crawl delay for a host, if any.
	CrawlDelay(host string) (time.Duration, bool)
}

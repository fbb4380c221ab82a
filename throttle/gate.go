// Package throttle implements the adaptive admission gate: multi-scope
// AND-admission with atomic reservations, feedback-driven backoff, and
// window-gated rampup.
package throttle

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fwojciec/fetchgate"
	"github.com/fwojciec/fetchgate/bloom"
	"github.com/fwojciec/fetchgate/publicsuffix"
	"golang.org/x/time/rate"
)

// Compile-time interface verification.
var _ fetchgate.Gate = (*Gate)(nil)

// reservation is the engine's claim across all of a request's scopes.
type reservation struct {
	req      *fetchgate.Request
	weights  fetchgate.ScopeAssignment
	scopes   []string
	at       time.Time
	released bool // guarded by the gate mutex
}

func (r *reservation) Request() *fetchgate.Request { return r.req }

func (r *reservation) Scopes() []string { return append([]string(nil), r.scopes...) }

// admitResult is delivered to a parked waiter when the pump resolves it.
type admitResult struct {
	res *reservation
	err error
}

// Options configures optional gate collaborators. The zero value selects
// defaults: real clock, host-based resolver, BackoffPolicy, no robots
// policy, no journal, discarded logs.
type Options struct {
	Clock      clock.Clock
	Resolver   fetchgate.Resolver
	Controller fetchgate.Controller
	Robots     fetchgate.RobotsPolicy
	Journal    fetchgate.Journal
	Logger     *slog.Logger
}

// Gate is the admission gate. It owns all scope state; external code only
// reads and reserves through TryAdmit/Admit and adjusts through Report,
// which is the discipline that keeps the invariants enforceable.
type Gate struct {
	cfg        *fetchgate.Config
	clock      clock.Clock
	resolver   fetchgate.Resolver
	controller fetchgate.Controller
	robots     fetchgate.RobotsPolicy
	journal    fetchgate.Journal
	logger     *slog.Logger
	global     *rate.Limiter

	mu        sync.Mutex
	scopes    map[string]*scopeState
	waiters   waitHeap
	seq       uint64
	timer     *clock.Timer
	lastSweep time.Time
	warned    *bloom.Filter
	admits    uint64
	releases  uint64
}

// New creates a gate for the given configuration. Configuration errors
// fail fast here with a diagnostic naming the offending scope and setting.
func New(cfg *fetchgate.Config, opts Options) (*Gate, error) {
	if cfg == nil {
		cfg = fetchgate.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Gate{
		cfg:        cfg,
		clock:      opts.Clock,
		resolver:   opts.Resolver,
		controller: opts.Controller,
		robots:     opts.Robots,
		journal:    opts.Journal,
		logger:     opts.Logger,
		scopes:     make(map[string]*scopeState),
		warned:     bloom.NewFilter(1024, 0.001),
	}
	if g.clock == nil {
		g.clock = clock.New()
	}
	if g.resolver == nil {
		g.resolver = publicsuffix.NewHostResolver()
	}
	if g.controller == nil {
		g.controller = NewBackoffPolicy()
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.GlobalRPS > 0 {
		g.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), 1)
	}
	g.lastSweep = g.clock.Now()
	return g, nil
}

// Close stops the gate's wake-up timer. Parked requests are not resumed
// after Close; cancel them via their contexts.
func (g *Gate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	return nil
}

// TryAdmit attempts admission without blocking or parking.
func (g *Gate) TryAdmit(req *fetchgate.Request) fetchgate.Decision {
	if err := req.Validate(); err != nil {
		return fetchgate.Decision{Kind: fetchgate.Blocked, Reason: fetchgate.ErrorMessage(err)}
	}
	weights := g.assignment(req)

	g.mu.Lock()
	now := g.clock.Now()
	w := newWaiter(req, weights, 0, now)
	dec, _, err := g.evaluateLocked(w, now)
	g.mu.Unlock()

	if err != nil {
		dec = fetchgate.Decision{Kind: fetchgate.Blocked, Reason: fetchgate.ErrorMessage(err)}
	}
	g.journalAdmission(req, w.scopes, dec, now)
	return dec
}

// Admit blocks until the request is admitted or ctx is done. The request
// is resolved to scopes exactly once, before parking; the resolved
// assignment is recorded on the request so redirect hops of the same
// logical request reuse it instead of re-resolving the changed URL.
func (g *Gate) Admit(ctx context.Context, req *fetchgate.Request) (fetchgate.Reservation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	weights := g.assignment(req)

	g.mu.Lock()
	now := g.clock.Now()
	g.seq++
	w := newWaiter(req, weights, g.seq, now)
	dec, res, err := g.evaluateLocked(w, now)
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}
	if dec.Kind == fetchgate.Admitted {
		g.mu.Unlock()
		g.journalAdmission(req, w.scopes, dec, now)
		return res, nil
	}
	w.quotaShare = g.quotaShareLocked(w)
	heap.Push(&g.waiters, w)
	for _, name := range w.scopes {
		if s := g.scopes[name]; s != nil {
			s.waiters++
		}
	}
	g.armTimerLocked(now)
	g.mu.Unlock()

	select {
	case r := <-w.ch:
		if r.err != nil {
			return nil, r.err
		}
		g.journalAdmission(req, w.scopes, fetchgate.Decision{Kind: fetchgate.Admitted}, r.res.at)
		return r.res, nil
	case <-ctx.Done():
		g.mu.Lock()
		select {
		case r := <-w.ch:
			// Admitted between ctx firing and us taking the lock; the
			// reservation must still be released exactly once.
			g.mu.Unlock()
			if r.res != nil {
				g.Report(r.res, fetchgate.Cancelled{})
			}
			return nil, ctx.Err()
		default:
		}
		g.removeWaiterLocked(w)
		g.armTimerLocked(g.clock.Now())
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Report finalizes a reservation with its outcome: concurrency units are
// released in every scope, backoff or clean feedback is applied, the
// quota ledger is reconciled, and parked requests are re-evaluated.
// Reporting a reservation twice is a programming error and panics, since
// it would corrupt concurrency accounting.
func (g *Gate) Report(res fetchgate.Reservation, outcome fetchgate.Outcome) {
	r, ok := res.(*reservation)
	if !ok || r == nil {
		panic("throttle: Report called with a foreign reservation")
	}

	g.mu.Lock()
	if r.released {
		g.mu.Unlock()
		panic(fmt.Sprintf("throttle: reservation for request %s released twice", r.req.ID))
	}
	r.released = true
	now := g.clock.Now()

	var slowest time.Duration
	for _, name := range r.scopes {
		s := g.scopes[name]
		if s == nil {
			// In-flight scopes are never evicted; a missing scope means
			// the accounting was corrupted elsewhere.
			g.mu.Unlock()
			panic(fmt.Sprintf("throttle: release for unknown scope %q", name))
		}
		if s.inUse <= 0 {
			g.mu.Unlock()
			panic(fmt.Sprintf("throttle: unmatched release for scope %q", name))
		}
		s.inUse--
		s.lastTouch = now
		s.roll(now, g.controller)

		weight := r.weights[name]
		switch o := outcome.(type) {
		case fetchgate.Cancelled:
			// Release only; no backoff or rampup feedback.
		case fetchgate.BackoffResponse:
			s.windowBackoffs++
			s.lastBackoff = now
			s.cleanStreak = 0
			s.apply(g.controller.Backoff(s.status(s.windowBackoffs, 0), retryAfterFloor(o.Headers, now)))
			s.holdUntil(now.Add(s.delay))
			if cost, ok := actualCost(o.Headers, g.cfg.QuotaCostHeader); ok {
				s.reconcileQuota(cost, weight)
			}
		case fetchgate.BackoffException:
			s.windowBackoffs++
			s.lastBackoff = now
			s.cleanStreak = 0
			s.apply(g.controller.Backoff(s.status(s.windowBackoffs, 0), 0))
			s.holdUntil(now.Add(s.delay))
		case fetchgate.CleanResponse:
			s.cleanStreak++
			s.apply(g.controller.Clean(s.status(s.windowBackoffs, o.Latency)))
			if cost, ok := actualCost(o.Headers, g.cfg.QuotaCostHeader); ok {
				s.reconcileQuota(cost, weight)
			}
		}
		if s.delay > slowest {
			slowest = s.delay
		}
	}
	g.releases++
	g.pumpLocked(now)
	g.mu.Unlock()

	g.journalFeedback(r, outcome, slowest, now)
}

// assignment returns the request's scope weights: the explicit attachment
// when present, the resolver's answer otherwise, and a raw-host fallback
// when resolution fails. A derived assignment is written back onto the
// request, so the scopes stick to the logical request across redirects
// instead of being re-derived from the changed URL. Resolution failures
// are logged once per distinct failure kind and never fatal.
func (g *Gate) assignment(req *fetchgate.Request) fetchgate.ScopeAssignment {
	if req.Scopes != nil {
		return req.Scopes.Clone()
	}
	a := g.resolve(req)
	req.Scopes = a.Clone()
	return a
}

func (g *Gate) resolve(req *fetchgate.Request) fetchgate.ScopeAssignment {
	a, err := g.resolver.Resolve(req)
	if err == nil && a != nil {
		return a
	}
	if err != nil && g.warnOnce("resolve:"+fetchgate.ErrorCode(err)) {
		g.logger.Warn("scope resolution failed, falling back to raw host",
			"url", req.URL,
			"error", err,
		)
	}
	host := rawHost(req.URL)
	if host == "" {
		return fetchgate.ScopeAssignment{}
	}
	return fetchgate.ScopeAssignment{host: 1}
}

// evaluateLocked runs the admission algorithm for one waiter. When every
// scope has a free concurrency unit, its delay has elapsed, and quota
// remains, it reserves all scopes atomically and returns Admitted. A
// non-nil error means the request can never be admitted (weight exceeds a
// scope's total quota).
func (g *Gate) evaluateLocked(w *waiter, now time.Time) (fetchgate.Decision, *reservation, error) {
	states := make([]*scopeState, len(w.scopes))
	for i, name := range w.scopes {
		states[i] = g.scopeLocked(name, now)
	}

	var wait time.Duration
	var reason string
	slotless := ""
	for i, name := range w.scopes {
		s := states[i]
		s.roll(now, g.controller)
		weight := w.weights[name]

		if s.set.Quota > 0 && weight > s.set.Quota {
			return fetchgate.Decision{}, nil, fetchgate.Errorf(fetchgate.EINVALID,
				"scope %q: weight %v exceeds quota %v", name, weight, s.set.Quota)
		}
		if s.inUse >= s.limit && slotless == "" {
			slotless = fmt.Sprintf("scope %q: no concurrency slot", name)
		}
		if _, earliest := s.earliestSlot(); earliest.After(now) {
			if d := earliest.Sub(now); d > wait {
				wait = d
				reason = fmt.Sprintf("scope %q: delay not elapsed", name)
			}
		}
		if s.set.Quota > 0 && s.quotaUsed+weight > s.set.Quota {
			if d := s.quotaStart.Add(s.set.Window).Sub(now); d > wait {
				wait = d
				reason = fmt.Sprintf("scope %q: quota exhausted", name)
			}
		}
	}

	// A slot's next-dispatch time is a lower bound on the next admission
	// even while the slot is occupied, so any timed constraint yields
	// Delayed. Blocked means the wait has no known bound: only a release
	// can free the scope.
	if wait > 0 {
		w.wakeAt = now.Add(wait)
		return fetchgate.Decision{Kind: fetchgate.Delayed, Wait: wait, Reason: reason}, nil, nil
	}
	if slotless != "" {
		w.wakeAt = time.Time{}
		return fetchgate.Decision{Kind: fetchgate.Blocked, Reason: slotless}, nil, nil
	}
	if g.global != nil {
		rsv := g.global.ReserveN(now, 1)
		if d := rsv.DelayFrom(now); d > 0 {
			rsv.CancelAt(now)
			w.wakeAt = now.Add(d)
			return fetchgate.Decision{Kind: fetchgate.Delayed, Wait: d, Reason: "global dispatch ceiling"}, nil, nil
		}
	}

	// All checks passed; reserving every scope cannot fail partway.
	for i, name := range w.scopes {
		states[i].reserve(now, w.weights[name])
	}
	g.admits++
	w.wakeAt = time.Time{}
	res := &reservation{
		req:     w.req,
		weights: w.weights,
		scopes:  append([]string(nil), w.scopes...),
		at:      now,
	}
	return fetchgate.Decision{Kind: fetchgate.Admitted, Reservation: res}, res, nil
}

// scopeLocked returns the scope state, creating it on first reference.
// Creation applies any robots Crawl-Delay declaration: declared values
// override defaults (with a one-time warning on disagreement) but lose to
// explicit per-scope configuration.
func (g *Gate) scopeLocked(name string, now time.Time) *scopeState {
	if s, ok := g.scopes[name]; ok {
		return s
	}
	set := g.cfg.ScopeSettings(name)
	s := newScopeState(name, set, now)
	if g.cfg.Robots.Obey && g.robots != nil {
		if cd, ok := g.robots.CrawlDelay(name); ok && cd > 0 {
			if capd := time.Duration(g.cfg.Robots.MaxDelay * float64(time.Second)); cd > capd {
				cd = capd
			}
			disagrees := set.Delay != cd || set.Concurrency != 1
			if set.Explicit {
				if disagrees && g.warnOnceLocked("robots:"+name) {
					g.logger.Warn("explicit scope settings differ from robots crawl-delay; explicit settings win",
						"scope", name,
						"crawl_delay", cd,
						"configured_delay", set.Delay,
					)
				}
			} else {
				if disagrees && g.warnOnceLocked("robots:"+name) {
					g.logger.Warn("robots crawl-delay overrides default scope settings",
						"scope", name,
						"crawl_delay", cd,
						"default_delay", set.Delay,
					)
				}
				s.forceCrawlDelay(cd)
			}
		}
	}
	g.scopes[name] = s
	return s
}

// pumpLocked re-evaluates parked waiters in admission order after a
// release, a timer fire, or a quota window reset. Waiters are offered
// slots highest-priority first (with the quota-share tie-break), never
// simply FIFO, so a freed slot cannot cause priority inversion.
func (g *Gate) pumpLocked(now time.Time) {
	if len(g.waiters) > 0 {
		// Quota availability may have changed; refresh the tie-break.
		for _, w := range g.waiters {
			w.quotaShare = g.quotaShareLocked(w)
		}
		heap.Init(&g.waiters)
	}

	var parked []*waiter
	for g.waiters.Len() > 0 {
		w, _ := heap.Pop(&g.waiters).(*waiter)
		dec, res, err := g.evaluateLocked(w, now)
		switch {
		case err != nil:
			g.detachLocked(w)
			w.ch <- admitResult{err: err}
		case dec.Kind == fetchgate.Admitted:
			g.detachLocked(w)
			w.ch <- admitResult{res: res}
		default:
			parked = append(parked, w)
		}
	}
	for _, w := range parked {
		heap.Push(&g.waiters, w)
	}
	g.sweepLocked(now)
	g.armTimerLocked(now)
}

// detachLocked drops a resolved waiter's per-scope bookkeeping.
func (g *Gate) detachLocked(w *waiter) {
	for _, name := range w.scopes {
		if s := g.scopes[name]; s != nil && s.waiters > 0 {
			s.waiters--
		}
	}
}

func (g *Gate) removeWaiterLocked(w *waiter) {
	if w.index >= 0 {
		heap.Remove(&g.waiters, w.index)
	}
	g.detachLocked(w)
}

// quotaShareLocked computes the largest fraction of any touched scope's
// currently available quota this waiter would consume.
func (g *Gate) quotaShareLocked(w *waiter) float64 {
	share := 0.0
	for _, name := range w.scopes {
		s := g.scopes[name]
		if s == nil || s.set.Quota <= 0 {
			continue
		}
		avail := s.quotaAvailable()
		if avail <= 0 {
			return math.MaxFloat64
		}
		if f := w.weights[name] / avail; f > share {
			share = f
		}
	}
	return share
}

// armTimerLocked schedules the next wake-up at the earliest timed
// constraint among parked waiters. Waiters blocked purely on a
// concurrency slot carry no timer; a release event resumes them.
func (g *Gate) armTimerLocked(now time.Time) {
	var earliest time.Time
	for _, w := range g.waiters {
		if w.wakeAt.IsZero() {
			continue
		}
		if earliest.IsZero() || w.wakeAt.Before(earliest) {
			earliest = w.wakeAt
		}
	}
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	if earliest.IsZero() {
		return
	}
	d := earliest.Sub(now)
	if d < 0 {
		d = 0
	}
	g.timer = g.clock.AfterFunc(d, g.onTimer)
}

func (g *Gate) onTimer() {
	g.mu.Lock()
	g.pumpLocked(g.clock.Now())
	g.mu.Unlock()
}

// sweepLocked evicts scopes that have had no in-flight requests and no
// waiters for the idle TTL. Sweeps run at most once per TTL.
func (g *Gate) sweepLocked(now time.Time) {
	ttl := time.Duration(g.cfg.IdleTTL * float64(time.Second))
	if now.Sub(g.lastSweep) < ttl {
		return
	}
	g.lastSweep = now
	for name, s := range g.scopes {
		if s.idle(now, ttl) {
			delete(g.scopes, name)
		}
	}
}

func (g *Gate) warnOnce(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.warnOnceLocked(key)
}

func (g *Gate) warnOnceLocked(key string) bool {
	return g.warned.Once(key)
}

func (g *Gate) journalAdmission(req *fetchgate.Request, scopes []string, dec fetchgate.Decision, at time.Time) {
	if g.journal == nil {
		return
	}
	rec := &fetchgate.AdmissionRecord{
		RequestID: req.ID,
		Scopes:    scopes,
		Kind:      dec.Kind,
		Wait:      dec.Wait,
		At:        at,
	}
	if err := g.journal.RecordAdmission(context.Background(), rec); err != nil {
		g.logger.Warn("journal admission record failed", "error", err)
	}
}

func (g *Gate) journalFeedback(r *reservation, outcome fetchgate.Outcome, slowest time.Duration, at time.Time) {
	if g.journal == nil {
		return
	}
	rec := &fetchgate.FeedbackRecord{
		RequestID: r.req.ID,
		Scopes:    r.scopes,
		Outcome:   outcomeName(outcome),
		Delay:     slowest,
		At:        at,
	}
	switch o := outcome.(type) {
	case fetchgate.CleanResponse:
		rec.Status = o.Status
	case fetchgate.BackoffResponse:
		rec.Status = o.Status
	}
	if err := g.journal.RecordFeedback(context.Background(), rec); err != nil {
		g.logger.Warn("journal feedback record failed", "error", err)
	}
}

func outcomeName(o fetchgate.Outcome) string {
	switch o.(type) {
	case fetchgate.CleanResponse:
		return "clean"
	case fetchgate.BackoffResponse:
		return "backoff-response"
	case fetchgate.BackoffException:
		return "backoff-exception"
	case fetchgate.Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// rawHost extracts the host (with port, unmodified) for the resolution
// fallback scope.
func rawHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Stats summarizes gate activity. Over any finite run with all outcomes
// reported, Admits equals Releases plus in-flight reservations.
type Stats struct {
	Admits   uint64
	Releases uint64
	Scopes   int
	Waiting  int
}

// Stats returns a snapshot of gate counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Admits:   g.admits,
		Releases: g.releases,
		Scopes:   len(g.scopes),
		Waiting:  len(g.waiters),
	}
}

// ScopeInfo is a read-only snapshot of one scope's throttle state.
type ScopeInfo struct {
	Name           string
	Delay          time.Duration
	Concurrency    int
	InUse          int
	Waiters        int
	WindowBackoffs int
	CleanStreak    int
	QuotaLimit     float64
	QuotaUsed      float64
}

// ScopeInfos returns snapshots of all live scopes, sorted by name.
func (g *Gate) ScopeInfos() []ScopeInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	infos := make([]ScopeInfo, 0, len(g.scopes))
	for _, s := range g.scopes {
		infos = append(infos, ScopeInfo{
			Name:           s.name,
			Delay:          s.delay,
			Concurrency:    s.limit,
			InUse:          s.inUse,
			Waiters:        s.waiters,
			WindowBackoffs: s.windowBackoffs,
			CleanStreak:    s.cleanStreak,
			QuotaLimit:     s.set.Quota,
			QuotaUsed:      s.quotaUsed,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

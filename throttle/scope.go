package throttle

import (
	"math/rand"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fwojciec/fetchgate"
)

// scopeState holds the mutable throttle state for one named scope. All
// access happens under the gate mutex; the state is never exposed for
// direct external mutation.
type scopeState struct {
	name string
	set  fetchgate.ScopeSettings

	// base and baseConc are the nominal settings the scope ramps back
	// toward. A robots Crawl-Delay declaration may raise base above the
	// configured delay and force baseConc to 1.
	base     time.Duration
	baseConc int

	delay time.Duration
	limit int
	inUse int

	// slots holds the next allowed dispatch time per concurrency unit.
	// len(slots) == limit.
	slots []time.Time

	// rng drives jitter. Seeded from the scope name so jitter sequences
	// are reproducible per scope.
	rng *rand.Rand

	windowStart    time.Time
	windowBackoffs int
	lastBackoff    time.Time
	cleanStreak    int

	quotaUsed  float64
	quotaStart time.Time // zero until the first debit of the window

	waiters   int
	lastTouch time.Time
}

func newScopeState(name string, set fetchgate.ScopeSettings, now time.Time) *scopeState {
	return &scopeState{
		name:        name,
		set:         set,
		base:        set.Delay,
		baseConc:    set.Concurrency,
		delay:       set.Delay,
		limit:       set.Concurrency,
		slots:       make([]time.Time, set.Concurrency),
		rng:         rand.New(rand.NewSource(int64(xxhash.Sum64String(name)))),
		windowStart: now,
		lastTouch:   now,
	}
}

// forceCrawlDelay applies a robots Crawl-Delay declaration: concurrency is
// forced to 1 and both the nominal and current delay to d.
func (s *scopeState) forceCrawlDelay(d time.Duration) {
	s.base = d
	s.delay = d
	s.baseConc = 1
	s.resize(1)
}

// roll advances the rampup and quota windows to now. At each elapsed
// window boundary whose backoff count is at or below the configured
// target, the scope takes one rampup step toward nominal. The quota ledger
// resets one window after its first debit.
func (s *scopeState) roll(now time.Time, ctrl fetchgate.Controller) {
	if s.set.Window > 0 {
		// Fast-forward when there is nothing to ramp up, so a long-idle
		// scope does not iterate window by window.
		if s.windowBackoffs == 0 && s.delay <= s.base && s.limit >= s.baseConc {
			if elapsed := now.Sub(s.windowStart); elapsed >= s.set.Window {
				s.windowStart = s.windowStart.Add(elapsed - elapsed%s.set.Window)
			}
		}
		for now.Sub(s.windowStart) >= s.set.Window {
			backoffs := s.windowBackoffs
			s.windowStart = s.windowStart.Add(s.set.Window)
			s.windowBackoffs = 0
			if backoffs > s.set.RampupBackoffTarget {
				continue
			}
			if s.delay <= s.base && s.limit >= s.baseConc {
				continue
			}
			s.apply(ctrl.Rampup(s.status(backoffs, 0)))
		}
	}
	if s.set.Quota > 0 && !s.quotaStart.IsZero() && now.Sub(s.quotaStart) >= s.set.Window {
		s.quotaUsed = 0
		s.quotaStart = time.Time{}
	}
}

// apply installs a controller update as a single atomic step, clamped to
// the scope's invariants: delay within [min(base, MinDelay), MaxDelay],
// concurrency within [1, baseConc] and never below the in-use count.
func (s *scopeState) apply(u fetchgate.ScopeUpdate) {
	d := u.Delay
	lo := s.set.MinDelay
	if s.base < lo {
		lo = s.base
	}
	if d < lo {
		d = lo
	}
	if d > s.set.MaxDelay {
		d = s.set.MaxDelay
	}
	s.delay = d

	c := u.Concurrency
	if c < 1 {
		c = 1
	}
	if c > s.baseConc {
		c = s.baseConc
	}
	if c < s.inUse {
		// A shrink below the in-use count would violate the concurrency
		// invariant; it completes as in-flight requests drain.
		c = s.inUse
	}
	if c != s.limit {
		s.resize(c)
	}
}

func (s *scopeState) resize(limit int) {
	if limit < len(s.slots) {
		// Keep the most constrained slots.
		sort.Slice(s.slots, func(i, j int) bool { return s.slots[i].After(s.slots[j]) })
		s.slots = s.slots[:limit]
	}
	for len(s.slots) < limit {
		s.slots = append(s.slots, time.Time{})
	}
	s.limit = limit
}

// earliestSlot returns the concurrency unit that frees soonest.
func (s *scopeState) earliestSlot() (int, time.Time) {
	idx := 0
	earliest := s.slots[0]
	for i, t := range s.slots {
		if t.Before(earliest) {
			idx = i
			earliest = t
		}
	}
	return idx, earliest
}

// reserve claims one concurrency unit (and quota weight) and records the
// jittered next-dispatch time for the chosen slot.
func (s *scopeState) reserve(now time.Time, weight float64) {
	idx, _ := s.earliestSlot()
	s.slots[idx] = now.Add(s.effectiveDelay())
	s.inUse++
	s.lastTouch = now
	if s.set.Quota > 0 {
		if s.quotaStart.IsZero() {
			s.quotaStart = now
		}
		s.quotaUsed += weight
	}
}

// effectiveDelay draws a fresh jitter factor for this dispatch.
func (s *scopeState) effectiveDelay() time.Duration {
	j := s.set.Jitter
	if j.IsZero() || j.Low == j.High && j.Low == 1 {
		return s.delay
	}
	f := j.Low + s.rng.Float64()*(j.High-j.Low)
	return time.Duration(float64(s.delay) * f)
}

// holdUntil raises every slot's next-dispatch time to at least t. Backoff
// feedback re-anchors the scope's slots so the new delay takes effect from
// the moment of the signal, not from the last dispatch.
func (s *scopeState) holdUntil(t time.Time) {
	for i, at := range s.slots {
		if at.Before(t) {
			s.slots[i] = t
		}
	}
}

// reconcileQuota replaces the pre-debited estimate with the actual cost
// reported by the server. A reconciliation arriving after the quota window
// already reset is dropped rather than charged to the new window.
func (s *scopeState) reconcileQuota(actual, estimate float64) {
	if s.set.Quota <= 0 || s.quotaStart.IsZero() {
		return
	}
	s.quotaUsed += actual - estimate
	if s.quotaUsed < 0 {
		s.quotaUsed = 0
	}
}

// quotaAvailable returns the remaining quota in the current window.
func (s *scopeState) quotaAvailable() float64 {
	return s.set.Quota - s.quotaUsed
}

// idle reports whether the scope can be evicted.
func (s *scopeState) idle(now time.Time, ttl time.Duration) bool {
	return s.inUse == 0 && s.waiters == 0 && now.Sub(s.lastTouch) >= ttl
}

func (s *scopeState) status(windowBackoffs int, latency time.Duration) fetchgate.ScopeStatus {
	return fetchgate.ScopeStatus{
		Name:                      s.name,
		Delay:                     s.delay,
		BaseDelay:                 s.base,
		MinDelay:                  s.set.MinDelay,
		MaxDelay:                  s.set.MaxDelay,
		Concurrency:               s.limit,
		BaseConcurrency:           s.baseConc,
		Factor:                    s.set.Factor,
		ConcurrencyDecreaseFactor: s.set.ConcurrencyDecreaseFactor,
		WindowBackoffs:            windowBackoffs,
		Latency:                   latency,
	}
}

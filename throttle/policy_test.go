package throttle_test

import (
	"testing"
	"time"

	"github.com/fwojciec/fetchgate"
	"github.com/fwojciec/fetchgate/throttle"
	"github.com/stretchr/testify/assert"
)

func status() fetchgate.ScopeStatus {
	return fetchgate.ScopeStatus{
		Name:                      "s.example.com",
		Delay:                     time.Second,
		BaseDelay:                 time.Second,
		MinDelay:                  time.Second,
		MaxDelay:                  300 * time.Second,
		Concurrency:               8,
		BaseConcurrency:           8,
		Factor:                    2,
		ConcurrencyDecreaseFactor: 0.5,
	}
}

func TestBackoffPolicy_Backoff(t *testing.T) {
	t.Parallel()

	p := throttle.NewBackoffPolicy()

	t.Run("multiplies delay by factor", func(t *testing.T) {
		t.Parallel()

		u := p.Backoff(status(), 0)

		assert.Equal(t, 2*time.Second, u.Delay)
		assert.Equal(t, 8, u.Concurrency)
	})

	t.Run("retry-after floor overrides a smaller result", func(t *testing.T) {
		t.Parallel()

		u := p.Backoff(status(), 30*time.Second)

		assert.Equal(t, 30*time.Second, u.Delay)
	})

	t.Run("smaller floor loses to the multiplicative result", func(t *testing.T) {
		t.Parallel()

		s := status()
		s.Delay = 20 * time.Second

		u := p.Backoff(s, 30*time.Second)

		assert.Equal(t, 40*time.Second, u.Delay)
	})

	t.Run("capped at max delay", func(t *testing.T) {
		t.Parallel()

		s := status()
		s.Delay = 200 * time.Second

		u := p.Backoff(s, 0)

		assert.Equal(t, 300*time.Second, u.Delay)
	})

	t.Run("saturated delay shrinks concurrency", func(t *testing.T) {
		t.Parallel()

		s := status()
		s.Delay = 300 * time.Second

		u := p.Backoff(s, 0)

		assert.Equal(t, 300*time.Second, u.Delay)
		assert.Equal(t, 4, u.Concurrency)
	})

	t.Run("concurrency never drops below one", func(t *testing.T) {
		t.Parallel()

		s := status()
		s.Delay = 300 * time.Second
		s.Concurrency = 1

		u := p.Backoff(s, 0)

		assert.Equal(t, 1, u.Concurrency)
	})
}

func TestBackoffPolicy_Clean(t *testing.T) {
	t.Parallel()

	p := throttle.NewBackoffPolicy()
	s := status()
	s.Delay = 16 * time.Second

	u := p.Clean(s)

	// Recovery happens via window-gated rampup, never per response.
	assert.Equal(t, 16*time.Second, u.Delay)
	assert.Equal(t, 8, u.Concurrency)
}

func TestBackoffPolicy_Rampup(t *testing.T) {
	t.Parallel()

	p := throttle.NewBackoffPolicy()

	t.Run("divides delay by factor", func(t *testing.T) {
		t.Parallel()

		s := status()
		s.Delay = 8 * time.Second

		u := p.Rampup(s)

		assert.Equal(t, 4*time.Second, u.Delay)
		assert.Equal(t, 8, u.Concurrency)
	})

	t.Run("never ramps below the nominal delay", func(t *testing.T) {
		t.Parallel()

		s := status()
		s.Delay = 1500 * time.Millisecond

		u := p.Rampup(s)

		assert.Equal(t, time.Second, u.Delay)
	})

	t.Run("restores concurrency once delay is nominal", func(t *testing.T) {
		t.Parallel()

		s := status()
		s.Delay = time.Second
		s.Concurrency = 2

		u := p.Rampup(s)

		assert.Equal(t, time.Second, u.Delay)
		assert.Equal(t, 4, u.Concurrency)
	})

	t.Run("restored concurrency capped at base", func(t *testing.T) {
		t.Parallel()

		s := status()
		s.Delay = time.Second
		s.Concurrency = 6

		u := p.Rampup(s)

		assert.Equal(t, 8, u.Concurrency)
	})
}

func TestAutoPolicy_Clean(t *testing.T) {
	t.Parallel()

	t.Run("moves delay halfway toward latency over target", func(t *testing.T) {
		t.Parallel()

		p := throttle.NewAutoPolicy(1)
		s := status()
		s.Delay = time.Second
		s.Latency = 4 * time.Second

		u := p.Clean(s)

		assert.Equal(t, 2500*time.Millisecond, u.Delay)
	})

	t.Run("target concurrency divides the latency", func(t *testing.T) {
		t.Parallel()

		p := throttle.NewAutoPolicy(2)
		s := status()
		s.Delay = time.Second
		s.Latency = 2 * time.Second

		u := p.Clean(s)

		assert.Equal(t, time.Second, u.Delay)
	})

	t.Run("never drops below the nominal delay", func(t *testing.T) {
		t.Parallel()

		p := throttle.NewAutoPolicy(1)
		s := status()
		s.Delay = time.Second
		s.Latency = 50 * time.Millisecond

		u := p.Clean(s)

		assert.Equal(t, time.Second, u.Delay)
	})

	t.Run("unknown latency leaves state unchanged", func(t *testing.T) {
		t.Parallel()

		p := throttle.NewAutoPolicy(1)
		s := status()
		s.Delay = 4 * time.Second

		u := p.Clean(s)

		assert.Equal(t, 4*time.Second, u.Delay)
	})
}

func TestAutoPolicy_BackoffMatchesDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := throttle.NewAutoPolicy(2)

	u := p.Backoff(status(), 30*time.Second)

	assert.Equal(t, 30*time.Second, u.Delay)
}

func TestNewAutoPolicy_NonPositiveTargetDefaultsToOne(t *testing.T) {
	t.Parallel()

	p := throttle.NewAutoPolicy(0)

	assert.Equal(t, 1.0, p.TargetConcurrency)
}

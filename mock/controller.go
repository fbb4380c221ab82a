package mock

import (
	"time"

	"github.com/fwojciec/fetchgate"
)

var _ fetchgate.Controller = (*Controller)(nil)

// Controller is a mock implementation of fetchgate.Controller.
type Controller struct {
	BackoffFn func(s fetchgate.ScopeStatus, floor time.Duration) fetchgate.ScopeUpdate
	CleanFn   func(s fetchgate.ScopeStatus) fetchgate.ScopeUpdate
	RampupFn  func(s fetchgate.ScopeStatus) fetchgate.ScopeUpdate
}

func (c *Controller) Backoff(s fetchgate.ScopeStatus, floor time.Duration) fetchgate.ScopeUpdate {
	return c.BackoffFn(s, floor)
}

func (c *Controller) Clean(s fetchgate.ScopeStatus) fetchgate.ScopeUpdate {
	return c.CleanFn(s)
}

func (c *Controller) Rampup(s fetchgate.ScopeStatus) fetchgate.ScopeUpdate {
	return c.RampupFn(s)
}

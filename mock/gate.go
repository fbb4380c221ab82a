package mock

import (
	"context"

	"github.com/fwojciec/fetchgate"
)

var _ fetchgate.Gate = (*Gate)(nil)

// Gate is a mock implementation of fetchgate.Gate.
type Gate struct {
	TryAdmitFn func(req *fetchgate.Request) fetchgate.Decision
	AdmitFn    func(ctx context.Context, req *fetchgate.Request) (fetchgate.Reservation, error)
	ReportFn   func(res fetchgate.Reservation, outcome fetchgate.Outcome)
}

func (g *Gate) TryAdmit(req *fetchgate.Request) fetchgate.Decision {
	return g.TryAdmitFn(req)
}

func (g *Gate) Admit(ctx context.Context, req *fetchgate.Request) (fetchgate.Reservation, error) {
	return g.AdmitFn(ctx, req)
}

func (g *Gate) Report(res fetchgate.Reservation, outcome fetchgate.Outcome) {
	g.ReportFn(res, outcome)
}

var _ fetchgate.Reservation = (*Reservation)(nil)

// Reservation is a mock implementation of fetchgate.Reservation.
type Reservation struct {
	RequestFn func() *fetchgate.Request
	ScopesFn  func() []string
}

func (r *Reservation) Request() *fetchgate.Request { return r.RequestFn() }

func (r *Reservation) Scopes() []string { return r.ScopesFn() }

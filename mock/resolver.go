package mock

import (
	"github.com/fwojciec/fetchgate"
)

var _ fetchgate.Resolver = (*Resolver)(nil)

// Resolver is a mock implementation of fetchgate.Resolver.
type Resolver struct {
	ResolveFn func(req *fetchgate.Request) (fetchgate.ScopeAssignment, error)
}

func (r *Resolver) Resolve(req *fetchgate.Request) (fetchgate.ScopeAssignment, error) {
	return r.ResolveFn(req)
}

package slog

import (
	"log/slog"
	"sync"

	"github.com/fwojciec/fetchgate"
	"github.com/fwojciec/fetchgate/bloom"
)

// Ensure LoggingResolver implements fetchgate.Resolver.
var _ fetchgate.Resolver = (*LoggingResolver)(nil)

// LoggingResolver wraps a Resolver, logging failures once per distinct
// failure kind. Repeated failures of the same kind stay quiet so a broken
// URL pattern cannot flood the log during a large crawl.
type LoggingResolver struct {
	next   fetchgate.Resolver
	logger *slog.Logger

	mu     sync.Mutex
	warned *bloom.Filter
}

// NewLoggingResolver creates a new LoggingResolver.
func NewLoggingResolver(next fetchgate.Resolver, logger *slog.Logger) *LoggingResolver {
	return &LoggingResolver{
		next:   next,
		logger: logger,
		warned: bloom.NewFilter(1024, 0.001),
	}
}

// Resolve delegates to the wrapped resolver.
func (r *LoggingResolver) Resolve(req *fetchgate.Request) (fetchgate.ScopeAssignment, error) {
	a, err := r.next.Resolve(req)
	if err != nil {
		r.mu.Lock()
		first := r.warned.Once(fetchgate.ErrorCode(err) + ":" + fetchgate.ErrorMessage(err))
		r.mu.Unlock()
		if first {
			r.logger.Warn("scope resolution failed",
				"url", req.URL,
				"error", err,
			)
		}
		return nil, err
	}
	return a, nil
}

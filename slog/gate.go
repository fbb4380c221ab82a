// Package slog provides logging decorators for fetchgate services.
package slog

import (
	"context"
	"log/slog"
	"time"

	"github.com/fwojciec/fetchgate"
)

// Ensure LoggingGate implements fetchgate.Gate.
var _ fetchgate.Gate = (*LoggingGate)(nil)

// LoggingGate wraps a Gate with debug logging for admission decisions and
// reported outcomes.
type LoggingGate struct {
	next   fetchgate.Gate
	logger *slog.Logger
}

// NewLoggingGate creates a new LoggingGate.
func NewLoggingGate(next fetchgate.Gate, logger *slog.Logger) *LoggingGate {
	return &LoggingGate{next: next, logger: logger}
}

// TryAdmit delegates to the wrapped gate and logs the decision.
func (g *LoggingGate) TryAdmit(req *fetchgate.Request) fetchgate.Decision {
	dec := g.next.TryAdmit(req)
	g.logger.Debug("admission attempt",
		"request", req.ID,
		"decision", dec.Kind.String(),
		"wait", dec.Wait,
		"reason", dec.Reason,
	)
	return dec
}

// Admit delegates to the wrapped gate and logs the wait and outcome.
func (g *LoggingGate) Admit(ctx context.Context, req *fetchgate.Request) (fetchgate.Reservation, error) {
	begin := time.Now()
	res, err := g.next.Admit(ctx, req)
	if err != nil {
		g.logger.Debug("admission aborted",
			"request", req.ID,
			"waited", time.Since(begin),
			"error", err,
		)
		return nil, err
	}
	g.logger.Debug("admitted",
		"request", req.ID,
		"scopes", res.Scopes(),
		"waited", time.Since(begin),
	)
	return res, nil
}

// Report delegates to the wrapped gate and logs the outcome.
func (g *LoggingGate) Report(res fetchgate.Reservation, outcome fetchgate.Outcome) {
	g.next.Report(res, outcome)
	g.logger.Debug("feedback reported",
		"request", res.Request().ID,
		"scopes", res.Scopes(),
		"outcome", outcomeName(outcome),
	)
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

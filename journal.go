package fetchgate

import (
	"context"
	"time"
)

// AdmissionRecord describes one admission decision for the journal.
type AdmissionRecord struct {
	RequestID string
	Scopes    []string
	Kind      DecisionKind
	Wait      time.Duration
	At        time.Time
}

// FeedbackRecord describes one reported outcome for the journal.
type FeedbackRecord struct {
	RequestID string
	Scopes    []string
	Outcome   string // "clean", "backoff-response", "backoff-exception", "cancelled"
	Status    int
	Delay     time.Duration // current delay of the slowest scope after the update
	At        time.Time
}

// Journal records admission and feedback events for post-crawl analysis.
// It is an observability sink: scope state itself is process-lifetime and
// is never rebuilt from the journal.
type Journal interface {
	RecordAdmission(ctx context.Context, rec *AdmissionRecord) error
	RecordFeedback(ctx context.Context, rec *FeedbackRecord) error
	Close() error
}

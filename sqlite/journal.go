package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/fwojciec/fetchgate"
)

// Compile-time interface verification.
var _ fetchgate.Journal = (*Journal)(nil)

// Journal implements fetchgate.Journal using SQLite. It records admission
// decisions and reported outcomes for post-crawl throttle analysis; the
// engine never reads it back.
type Journal struct {
	db *DB
}

// NewJournal creates a new Journal backed by db.
func NewJournal(db *DB) *Journal {
	return &Journal{db: db}
}

// RecordAdmission inserts one admission decision.
func (j *Journal) RecordAdmission(ctx context.Context, rec *fetchgate.AdmissionRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO admissions (request_id, scopes, kind, wait_ms, at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.RequestID, strings.Join(rec.Scopes, ","), rec.Kind.String(),
		rec.Wait.Milliseconds(), rec.At.UTC().Format(time.RFC3339Nano))
	return err
}

// RecordFeedback inserts one reported outcome.
func (j *Journal) RecordFeedback(ctx context.Context, rec *fetchgate.FeedbackRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO feedback (request_id, scopes, outcome, status, delay_ms, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.RequestID, strings.Join(rec.Scopes, ","), rec.Outcome, rec.Status,
		rec.Delay.Milliseconds(), rec.At.UTC().Format(time.RFC3339Nano))
	return err
}

// Close is a no-op; the underlying DB is owned and closed by the caller.
func (j *Journal) Close() error {
	return nil
}

// OutcomeCounts returns the number of feedback records per outcome.
func (j *Journal) OutcomeCounts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM feedback GROUP BY outcome
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// AdmissionCounts returns the number of admission records per decision kind.
func (j *Journal) AdmissionCounts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM admissions GROUP BY kind
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

package mock

import (
	"context"

	"github.com/fwojciec/fetchgate"
)

var _ fetchgate.Journal = (*Journal)(nil)

// Journal is a mock implementation of fetchgate.Journal.
type Journal struct {
	RecordAdmissionFn func(ctx context.Context, rec *fetchgate.AdmissionRecord) error
	RecordFeedbackFn  func(ctx context.Context, rec *fetchgate.FeedbackRecord) error
	CloseFn           func() error
}

func (j *Journal) RecordAdmission(ctx context.Context, rec *fetchgate.AdmissionRecord) error {
	return j.RecordAdmissionFn(ctx, rec)
}

func (j *Journal) RecordFeedback(ctx context.Context, rec *fetchgate.FeedbackRecord) error {
	return j.RecordFeedbackFn(ctx, rec)
}

func (j *Journal) Close() error {
	return j.CloseFn()
}

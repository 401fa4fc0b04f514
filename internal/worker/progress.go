package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

type ProgressStore interface {
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error
	UpdateAnimationProgress(ctx context.Context, id uuid.UUID, progress int) error
}

type ProgressCache interface {
	PublishProgress(ctx context.Context, jobID uuid.UUID, percent int) error
}

// ProgressReporter writes render progress to the job, its animation and the cache.
type ProgressReporter struct {
	store  ProgressStore
	cache  ProgressCache
	logger *slog.Logger
}

func NewProgressReporter(store ProgressStore, cache ProgressCache, logger *slog.Logger) *ProgressReporter {
	return &ProgressReporter{store: store, cache: cache, logger: logger}
}

func (r *ProgressReporter) ReportProgress(ctx context.Context, jobID uuid.UUID, animationID *uuid.UUID, percent int) error {
	var errs []error
	if err := r.store.UpdateJobProgress(ctx, jobID, percent); err != nil {
		errs = append(errs, err)
	}
	if animationID != nil {
		if err := r.store.UpdateAnimationProgress(ctx, *animationID, percent); err != nil {
			errs = append(errs, err)
		}
	}
	if r.cache != nil {
		if err := r.cache.PublishProgress(ctx, jobID, percent); err != nil {
			r.logger.Debug("progress cache write failed", "job_id", jobID.String(), "error", err)
		}
	}
	return errors.Join(errs...)
}

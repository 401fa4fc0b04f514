// Package worker claims render jobs one at a time and drives them through the
// render pipeline.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/bobarin/composer/internal/models"
)

const (
	backfillBatch  = 5
	// watchdogGrace is how long a timed-out job gets to unwind before the
	// process exits regardless.
	watchdogGrace  = 30 * time.Second
	cleanupTimeout = 30 * time.Second
)

type Store interface {
	FetchOldestQueued(ctx context.Context) (*models.Job, error)
	ClaimJob(ctx context.Context, id uuid.UUID) (bool, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.JobStatus) (bool, error)
	FailJob(ctx context.Context, id uuid.UUID, message string) error
	FailAnimation(ctx context.Context, id uuid.UUID) error
	RequeueStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error)
	ListAnimationsMissingThumbnail(ctx context.Context, limit int) ([]models.Animation, error)
}

// Waiter blocks between polls; a wake-up may end the wait early.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) (bool, error)
}

type Processor interface {
	Process(ctx context.Context, task *Task) error
}

type Backfiller interface {
	BackfillThumbnail(ctx context.Context, anim models.Animation, scratchDir string) error
}

type Config struct {
	PollInterval     time.Duration
	JobTimeout       time.Duration
	StaleJobAge      time.Duration
	StaleJobSchedule string
	ScratchDir       string
}

// Snapshot describes the job currently being rendered.
type Snapshot struct {
	JobID     uuid.UUID `json:"job_id"`
	ProjectID uuid.UUID `json:"project_id"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
}

type Worker struct {
	cfg       Config
	store     Store
	waiter    Waiter
	processor Processor
	backfill  Backfiller
	logger    *slog.Logger
	exit      func(code int)

	mu      sync.Mutex
	current *Task
	// animations whose backfill failed; not retried until restart
	skipBackfill map[uuid.UUID]bool
}

func New(cfg Config, store Store, waiter Waiter, processor Processor, backfill Backfiller, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:          cfg,
		store:        store,
		waiter:       waiter,
		processor:    processor,
		backfill:     backfill,
		logger:       logger,
		exit:         os.Exit,
		skipBackfill: make(map[uuid.UUID]bool),
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	scheduler := cron.New()
	if w.cfg.StaleJobSchedule != "" {
		if _, err := scheduler.AddFunc(w.cfg.StaleJobSchedule, func() { w.recoverStale(ctx) }); err != nil {
			return fmt.Errorf("invalid stale job schedule %q: %w", w.cfg.StaleJobSchedule, err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	w.logger.Info("worker started", "poll_interval", w.cfg.PollInterval, "job_timeout", w.cfg.JobTimeout)
	w.recoverStale(ctx)

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker shutting down")
			return nil
		}

		processed, err := w.processNext(ctx)
		if err != nil {
			w.logger.Error("poll failed", "error", err)
		}
		if processed {
			continue
		}

		w.idle(ctx)

		if _, err := w.waiter.Wait(ctx, w.cfg.PollInterval); err != nil && ctx.Err() == nil {
			w.logger.Warn("wake-up wait failed, sleeping", "error", err)
			sleep(ctx, w.cfg.PollInterval)
		}
	}
}

// processNext claims and runs the oldest queued job. It reports whether a job ran.
func (w *Worker) processNext(ctx context.Context) (bool, error) {
	job, err := w.store.FetchOldestQueued(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	claimed, err := w.store.ClaimJob(ctx, job.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		w.logger.Debug("job claimed by another worker", "job_id", job.ID.String())
		return false, nil
	}

	task := newTask(ctx, job, w.cfg.JobTimeout)
	w.run(ctx, task)
	return true, nil
}

func (w *Worker) run(ctx context.Context, task *Task) {
	defer task.Cancel()
	job := task.Job
	logger := w.logger.With("job_id", job.ID.String(), "project_id", job.ProjectID.String())

	w.setCurrent(task)
	defer w.setCurrent(nil)

	watchdog := time.AfterFunc(time.Until(task.Deadline)+watchdogGrace, func() {
		logger.Error("job did not stop after deadline, exiting")
		w.exit(1)
	})
	defer watchdog.Stop()

	logger.Info("job claimed", "deadline", task.Deadline)
	err := w.processor.Process(task.Context(), task)

	switch {
	case err == nil:
		logger.Info("job completed", "elapsed", time.Since(task.StartedAt).Round(time.Second))

	case task.Expired():
		// Leave the row in processing; stale recovery requeues it once a
		// supervisor has restarted the worker.
		logger.Error("job exceeded deadline, exiting", "timeout", w.cfg.JobTimeout, "error", err)
		w.exit(1)

	case ctx.Err() != nil:
		w.requeue(logger, job.ID)

	default:
		logger.Error("job failed", "error", err)
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if ferr := w.store.FailJob(fctx, job.ID, err.Error()); ferr != nil {
			logger.Error("failed to record job failure", "error", ferr)
		}
		if job.AnimationID != nil {
			if ferr := w.store.FailAnimation(fctx, *job.AnimationID); ferr != nil {
				logger.Warn("failed to mirror failure to animation", "animation_id", job.AnimationID.String(), "error", ferr)
			}
		}
	}
}

// requeue hands an interrupted job back on shutdown.
func (w *Worker) requeue(logger *slog.Logger, id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	ok, err := w.store.TransitionStatus(ctx, id, models.JobStatusProcessing, models.JobStatusQueued)
	switch {
	case err != nil:
		logger.Error("failed to requeue interrupted job", "error", err)
	case ok:
		logger.Info("requeued interrupted job")
	}
}

// idle backfills at most one missing animation thumbnail.
func (w *Worker) idle(ctx context.Context) {
	if w.backfill == nil {
		return
	}

	anims, err := w.store.ListAnimationsMissingThumbnail(ctx, backfillBatch)
	if err != nil {
		w.logger.Warn("failed to list animations for thumbnail backfill", "error", err)
		return
	}

	for _, anim := range anims {
		if w.skipBackfill[anim.ID] {
			continue
		}
		if err := w.backfill.BackfillThumbnail(ctx, anim, w.cfg.ScratchDir); err != nil {
			w.logger.Warn("thumbnail backfill failed", "animation_id", anim.ID.String(), "error", err)
			w.skipBackfill[anim.ID] = true
		}
		return
	}
}

func (w *Worker) recoverStale(ctx context.Context) {
	n, err := w.store.RequeueStaleJobs(ctx, w.cfg.StaleJobAge)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("stale job recovery failed", "error", err)
		}
		return
	}
	if n > 0 {
		w.logger.Warn("requeued stale jobs", "count", n, "older_than", w.cfg.StaleJobAge)
	}
}

func (w *Worker) setCurrent(t *Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = t
}

// Current returns the job being rendered, if any.
func (w *Worker) Current() (Snapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return Snapshot{}, false
	}
	return Snapshot{
		JobID:     w.current.Job.ID,
		ProjectID: w.current.Job.ProjectID,
		StartedAt: w.current.StartedAt,
		Deadline:  w.current.Deadline,
	}, true
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

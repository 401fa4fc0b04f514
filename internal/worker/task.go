package worker

import (
	"context"
	"errors"
	"time"

	"github.com/bobarin/composer/internal/models"
)

// Task is one claimed job with its own deadline and cancellation.
type Task struct {
	Job       *models.Job
	StartedAt time.Time
	Deadline  time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func newTask(parent context.Context, job *models.Job, timeout time.Duration) *Task {
	ctx, cancel := context.WithTimeout(parent, timeout)
	deadline, _ := ctx.Deadline()
	return &Task{
		Job:       job,
		StartedAt: time.Now(),
		Deadline:  deadline,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (t *Task) Context() context.Context {
	return t.ctx
}

// Cancel stops the task's work. Safe to call more than once.
func (t *Task) Cancel() {
	t.cancel()
}

// Expired reports whether the task ran past its deadline.
func (t *Task) Expired() bool {
	return errors.Is(t.ctx.Err(), context.DeadlineExceeded)
}

// Package queue carries worker wake-ups and a progress cache over redis.
// The render_jobs table stays the source of truth; redis only shortens the
// idle wait and gives the UI a cheap progress read.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	WakeKey           = "render:wake"
	progressKeyPrefix = "render:progress:"
	progressTTL       = 10 * time.Minute
)

// Queue is safe to use with a nil client, in which case Wait degrades to a timer
// and the other calls are no-ops.
type Queue struct {
	client *redis.Client
}

// New connects to redisURL. An empty URL yields a timer-only Queue.
func New(redisURL string) (*Queue, error) {
	if redisURL == "" {
		return &Queue{}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Enabled() bool {
	return q.client != nil
}

func (q *Queue) Close() error {
	if q.client == nil {
		return nil
	}
	return q.client.Close()
}

// Wait blocks for up to d or until another process calls Wake. It returns
// true when woken early.
func (q *Queue) Wait(ctx context.Context, d time.Duration) (bool, error) {
	if q.client == nil {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
			return false, nil
		}
	}

	_, err := q.client.BLPop(ctx, d, WakeKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("failed to wait for wake-up: %w", err)
	}
	return true, nil
}

// Wake nudges one idle worker to poll now.
func (q *Queue) Wake(ctx context.Context) error {
	if q.client == nil {
		return nil
	}
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, WakeKey, time.Now().Unix())
	// Bound the list so wake-ups with no listener do not pile up.
	pipe.LTrim(ctx, WakeKey, -16, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to wake workers: %w", err)
	}
	return nil
}

func ProgressKey(jobID uuid.UUID) string {
	return progressKeyPrefix + jobID.String()
}

func (q *Queue) PublishProgress(ctx context.Context, jobID uuid.UUID, percent int) error {
	if q.client == nil {
		return nil
	}
	if err := q.client.Set(ctx, ProgressKey(jobID), percent, progressTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache progress: %w", err)
	}
	return nil
}

// GetProgress returns the cached progress for a job, if any.
func (q *Queue) GetProgress(ctx context.Context, jobID uuid.UUID) (int, bool, error) {
	if q.client == nil {
		return 0, false, nil
	}
	val, err := q.client.Get(ctx, ProgressKey(jobID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read progress: %w", err)
	}
	p, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("invalid cached progress %q: %w", val, err)
	}
	return p, true, nil
}

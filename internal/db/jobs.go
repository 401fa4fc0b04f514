package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/composer/internal/models"
)

const jobColumns = `
	id, project_id, animation_id, status, progress, COALESCE(title, ''),
	COALESCE(speed, 1), COALESCE(trim_start, 0), COALESCE(trim_end, 0),
	default_loop_count, overlay_config, visualizer_config,
	output_url, thumbnail_url, duration, error_message,
	started_at, finished_at, created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	err := row.Scan(
		&job.ID, &job.ProjectID, &job.AnimationID, &job.Status, &job.Progress, &job.Title,
		&job.Speed, &job.TrimStart, &job.TrimEnd,
		&job.DefaultLoopCount, &job.Overlays, &job.Visualizer,
		&job.OutputURL, &job.ThumbnailURL, &job.Duration, &job.ErrorMessage,
		&job.StartedAt, &job.FinishedAt, &job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// FetchOldestQueued returns the oldest queued job, or nil when the queue is empty.
func (db *DB) FetchOldestQueued(ctx context.Context) (*models.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM render_jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT 1
	`

	job, err := scanJob(db.QueryRowContext(ctx, query, models.JobStatusQueued))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch queued job: %w", err)
	}
	return job, nil
}

func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM render_jobs WHERE id = $1`

	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// TransitionStatus moves a job from one status to another only if it is
// still in from. It reports whether this call made the change.
func (db *DB) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.JobStatus) (bool, error) {
	query := `UPDATE render_jobs SET status = $1 WHERE id = $2 AND status = $3`

	res, err := db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition job %s: %w", id, err)
	}
	return affectedOne(res)
}

// ClaimJob takes ownership of a queued job. False means another worker won.
func (db *DB) ClaimJob(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE render_jobs
		SET status = $1, progress = 0, started_at = $2, finished_at = NULL, error_message = NULL
		WHERE id = $3 AND status = $4
	`

	res, err := db.ExecContext(ctx, query, models.JobStatusProcessing, time.Now(), id, models.JobStatusQueued)
	if err != nil {
		return false, fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	return affectedOne(res)
}

func (db *DB) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error {
	query := `UPDATE render_jobs SET progress = $1 WHERE id = $2 AND status = $3`
	if _, err := db.ExecContext(ctx, query, progress, id, models.JobStatusProcessing); err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// CompleteJob is the single terminal update for a successful render.
func (db *DB) CompleteJob(ctx context.Context, id uuid.UUID, result models.JobResult) error {
	query := `
		UPDATE render_jobs
		SET status = $1, progress = 100, output_url = $2, thumbnail_url = NULLIF($3, ''),
			duration = $4, finished_at = $5, error_message = NULL
		WHERE id = $6
	`

	_, err := db.ExecContext(ctx, query,
		models.JobStatusDone, result.OutputURL, result.ThumbnailURL,
		result.Duration, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

func (db *DB) FailJob(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE render_jobs
		SET status = $1, error_message = $2, finished_at = $3
		WHERE id = $4
	`

	if _, err := db.ExecContext(ctx, query, models.JobStatusError, truncateMessage(message), time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// RequeueStaleJobs returns processing jobs started before olderThan to the
// queue. These belong to workers that died mid-render.
func (db *DB) RequeueStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE render_jobs
		SET status = $1, progress = 0
		WHERE status = $2 AND started_at < $3
	`

	res, err := db.ExecContext(ctx, query, models.JobStatusQueued, models.JobStatusProcessing, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) CountJobsByStatus(ctx context.Context) ([]models.StatusCount, error) {
	query := `SELECT status, COUNT(*) FROM render_jobs GROUP BY status ORDER BY status`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	var counts []models.StatusCount
	for rows.Next() {
		var c models.StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

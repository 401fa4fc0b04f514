package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bobarin/composer/internal/models"
)

func (db *DB) UpdateAnimationProgress(ctx context.Context, id uuid.UUID, progress int) error {
	query := `UPDATE animations SET render_progress = $1, render_status = $2 WHERE id = $3`
	if _, err := db.ExecContext(ctx, query, progress, models.JobStatusProcessing, id); err != nil {
		return fmt.Errorf("failed to update animation progress: %w", err)
	}
	return nil
}

// UpdateAnimationResult mirrors a finished render onto its animation.
func (db *DB) UpdateAnimationResult(ctx context.Context, id uuid.UUID, result models.JobResult) error {
	query := `
		UPDATE animations
		SET render_status = $1, render_progress = 100, video_url = $2,
			thumbnail_url = COALESCE(NULLIF($3, ''), thumbnail_url), duration = $4
		WHERE id = $5
	`

	_, err := db.ExecContext(ctx, query, models.JobStatusDone, result.OutputURL, result.ThumbnailURL, result.Duration, id)
	if err != nil {
		return fmt.Errorf("failed to update animation: %w", err)
	}
	return nil
}

// FailAnimation marks a linked animation as failed unless a render already
// finished it.
func (db *DB) FailAnimation(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE animations SET render_status = $1 WHERE id = $2 AND render_status <> $3`
	if _, err := db.ExecContext(ctx, query, models.JobStatusError, id, models.JobStatusDone); err != nil {
		return fmt.Errorf("failed to mark animation failed: %w", err)
	}
	return nil
}

func (db *DB) IncrementAnimationUsage(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE animations SET usage_count = COALESCE(usage_count, 0) + 1 WHERE id = $1`
	if _, err := db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment animation usage: %w", err)
	}
	return nil
}

// IncrementMusicUsage bumps each listed track once, even if a track appears
// in the playlist several times.
func (db *DB) IncrementMusicUsage(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}

	query := `UPDATE music_tracks SET usage_count = COALESCE(usage_count, 0) + 1 WHERE id = ANY($1::uuid[])`
	if _, err := db.ExecContext(ctx, query, pq.Array(strs)); err != nil {
		return fmt.Errorf("failed to increment music usage: %w", err)
	}
	return nil
}

// ListAnimationsMissingThumbnail returns rendered animations that never got a thumbnail.
func (db *DB) ListAnimationsMissingThumbnail(ctx context.Context, limit int) ([]models.Animation, error) {
	query := `
		SELECT id, video_url, thumbnail_url
		FROM animations
		WHERE video_url IS NOT NULL AND video_url <> '' AND thumbnail_url IS NULL
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query animations: %w", err)
	}
	defer rows.Close()

	var out []models.Animation
	for rows.Next() {
		var a models.Animation
		if err := rows.Scan(&a.ID, &a.VideoURL, &a.ThumbnailURL); err != nil {
			return nil, fmt.Errorf("failed to scan animation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (db *DB) SetAnimationThumbnail(ctx context.Context, id uuid.UUID, url string) error {
	query := `UPDATE animations SET thumbnail_url = $1 WHERE id = $2`
	if _, err := db.ExecContext(ctx, query, url, id); err != nil {
		return fmt.Errorf("failed to set animation thumbnail: %w", err)
	}
	return nil
}

package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bobarin/composer/internal/models"
)

// GetTimelineAssets returns a job's visual sequence in play order.
func (db *DB) GetTimelineAssets(ctx context.Context, jobID uuid.UUID) ([]models.TimelineAsset, error) {
	query := `
		SELECT id, job_id, position, type, url, duration, loop_count
		FROM render_job_assets
		WHERE job_id = $1
		ORDER BY position
	`

	rows, err := db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline assets: %w", err)
	}
	defer rows.Close()

	var assets []models.TimelineAsset
	for rows.Next() {
		var a models.TimelineAsset
		if err := rows.Scan(&a.ID, &a.JobID, &a.Position, &a.Type, &a.URL, &a.Duration, &a.LoopCount); err != nil {
			return nil, fmt.Errorf("failed to scan timeline asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// GetJobMusicTracks returns a job's playlist in play order.
func (db *DB) GetJobMusicTracks(ctx context.Context, jobID uuid.UUID) ([]models.MusicTrack, error) {
	query := `
		SELECT t.id, COALESCE(t.title, ''), t.url, t.duration, m.position
		FROM render_job_music m
		JOIN music_tracks t ON t.id = m.track_id
		WHERE m.job_id = $1
		ORDER BY m.position
	`

	rows, err := db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query music tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.MusicTrack
	for rows.Next() {
		var t models.MusicTrack
		if err := rows.Scan(&t.ID, &t.Title, &t.URL, &t.Duration, &t.Position); err != nil {
			return nil, fmt.Errorf("failed to scan music track: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

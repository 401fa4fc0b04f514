// Package finalize publishes a finished render and propagates its result.
package finalize

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/storage"
)

// Thumbnail timestamps, tried in order.
var thumbnailOffsets = []float64{1, 0}

type Store interface {
	CompleteJob(ctx context.Context, id uuid.UUID, result models.JobResult) error
	UpdateAnimationResult(ctx context.Context, id uuid.UUID, result models.JobResult) error
	IncrementAnimationUsage(ctx context.Context, id uuid.UUID) error
	IncrementMusicUsage(ctx context.Context, ids []uuid.UUID) error
	SetAnimationThumbnail(ctx context.Context, id uuid.UUID, url string) error
}

type Media interface {
	ExtractFrame(ctx context.Context, src, dst string, at float64) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

type Finalizer struct {
	store    Store
	uploader storage.Uploader
	media    Media
	logger   *slog.Logger
}

func New(store Store, uploader storage.Uploader, media Media, logger *slog.Logger) *Finalizer {
	return &Finalizer{store: store, uploader: uploader, media: media, logger: logger}
}

type Input struct {
	Job        *models.Job
	OutputPath string
	// PlannedDuration is used when the output cannot be probed.
	PlannedDuration float64
	MusicTrackIDs   []uuid.UUID
	ScratchDir      string
}

// Finalize uploads the output and writes the terminal job update. Only the
// upload and that update can fail it; everything after is best-effort.
func (f *Finalizer) Finalize(ctx context.Context, in Input) (models.JobResult, error) {
	job := in.Job
	logger := f.logger.With("job_id", job.ID.String())

	outputURL, err := f.uploader.UploadFile(ctx, storage.RenderKey(job.ProjectID, job.ID, "video.mp4"), in.OutputPath, "video/mp4")
	if err != nil {
		return models.JobResult{}, fmt.Errorf("failed to upload render: %w", err)
	}
	logger.Info("uploaded render", "url", outputURL)

	duration := in.PlannedDuration
	if probed, err := f.media.ProbeDuration(ctx, in.OutputPath); err != nil {
		logger.Warn("failed to probe output duration, using planned duration", "error", err)
	} else if probed > 0 {
		duration = probed
	}

	thumbKey := storage.RenderKey(job.ProjectID, job.ID, "thumbnail.jpg")
	thumbURL, err := f.thumbnail(ctx, in.OutputPath, filepath.Join(in.ScratchDir, "thumbnail.jpg"), thumbKey)
	if err != nil {
		logger.Warn("thumbnail generation failed", "error", err)
	}

	result := models.JobResult{OutputURL: outputURL, ThumbnailURL: thumbURL, Duration: duration}
	if err := f.store.CompleteJob(ctx, job.ID, result); err != nil {
		return result, err
	}

	if job.AnimationID != nil {
		if err := f.store.UpdateAnimationResult(ctx, *job.AnimationID, result); err != nil {
			logger.Warn("failed to mirror result to animation", "animation_id", job.AnimationID.String(), "error", err)
		}
	}

	f.incrementUsage(ctx, logger, job, in.MusicTrackIDs)
	return result, nil
}

func (f *Finalizer) incrementUsage(ctx context.Context, logger *slog.Logger, job *models.Job, trackIDs []uuid.UUID) {
	if job.AnimationID != nil {
		if err := f.store.IncrementAnimationUsage(ctx, *job.AnimationID); err != nil {
			logger.Warn("failed to increment animation usage", "error", err)
		}
	}

	ids := lo.Uniq(trackIDs)
	if len(ids) == 0 {
		return
	}
	if err := f.store.IncrementMusicUsage(ctx, ids); err != nil {
		logger.Warn("failed to increment music usage", "tracks", len(ids), "error", err)
	}
}

// thumbnail grabs a frame from src, trying each offset, and uploads it.
func (f *Finalizer) thumbnail(ctx context.Context, src, framePath, key string) (string, error) {
	var lastErr error
	for _, at := range thumbnailOffsets {
		if err := f.media.ExtractFrame(ctx, src, framePath, at); err != nil {
			lastErr = err
			continue
		}
		url, err := f.uploader.UploadFile(ctx, key, framePath, "image/jpeg")
		if err != nil {
			return "", fmt.Errorf("failed to upload thumbnail: %w", err)
		}
		return url, nil
	}
	return "", fmt.Errorf("failed to extract frame: %w", lastErr)
}

// BackfillThumbnail creates the missing thumbnail for an already rendered animation.
func (f *Finalizer) BackfillThumbnail(ctx context.Context, anim models.Animation, scratchDir string) error {
	framePath := filepath.Join(scratchDir, "backfill-"+anim.ID.String()+".jpg")
	key := path.Join("thumbnails", "animations", anim.ID.String()+".jpg")

	url, err := f.thumbnail(ctx, anim.VideoURL, framePath, key)
	if err != nil {
		return err
	}
	if err := f.store.SetAnimationThumbnail(ctx, anim.ID, url); err != nil {
		return err
	}
	f.logger.Info("backfilled animation thumbnail", "animation_id", anim.ID.String())
	return nil
}

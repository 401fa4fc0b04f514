package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/bobarin/composer/internal/fetcher"
	"github.com/bobarin/composer/internal/filtergraph"
	"github.com/bobarin/composer/internal/finalize"
	"github.com/bobarin/composer/internal/graph"
	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/render"
	"github.com/bobarin/composer/internal/timeline"
)

type AssetStore interface {
	GetTimelineAssets(ctx context.Context, jobID uuid.UUID) ([]models.TimelineAsset, error)
	GetJobMusicTracks(ctx context.Context, jobID uuid.UUID) ([]models.MusicTrack, error)
}

type Fetcher interface {
	FetchAll(ctx context.Context, reqs []fetcher.Request) error
	Fetch(ctx context.Context, rawURL, dest string) error
	ResolveFont(ctx context.Context, projectID uuid.UUID, name, scratchDir string) string
}

type Media interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	JobDir(jobID string) (string, error)
	CleanupJobDir(jobID string)
}

type Merger interface {
	Merge(ctx context.Context, tracks []string, outPath string) (string, error)
}

type Executor interface {
	Execute(ctx context.Context, req render.Request) (render.Result, error)
}

type Finalizer interface {
	Finalize(ctx context.Context, in finalize.Input) (models.JobResult, error)
}

// Pipeline renders one claimed job: fetch, merge, plan, build, execute, finalize.
type Pipeline struct {
	store      AssetStore
	fetcher    Fetcher
	media      Media
	merger     Merger
	serializer *filtergraph.Serializer
	executor   Executor
	finalizer  Finalizer
	format     graph.Format
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewPipeline(
	store AssetStore,
	f Fetcher,
	media Media,
	merger Merger,
	serializer *filtergraph.Serializer,
	executor Executor,
	finalizer Finalizer,
	format graph.Format,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		store:      store,
		fetcher:    f,
		media:      media,
		merger:     merger,
		serializer: serializer,
		executor:   executor,
		finalizer:  finalizer,
		format:     format,
		validate:   validator.New(),
		logger:     logger,
	}
}

func (p *Pipeline) Process(ctx context.Context, task *Task) error {
	job := task.Job
	logger := p.logger.With("job_id", job.ID.String())

	scratch, err := p.media.JobDir(job.ID.String())
	if err != nil {
		return err
	}
	defer p.media.CleanupJobDir(job.ID.String())

	assets, err := p.store.GetTimelineAssets(ctx, job.ID)
	if err != nil {
		return err
	}
	tracks, err := p.store.GetJobMusicTracks(ctx, job.ID)
	if err != nil {
		return err
	}

	visuals, err := p.fetchVisuals(ctx, logger, assets, scratch)
	if err != nil {
		return err
	}

	music := p.fetchMusic(ctx, logger, tracks, scratch)
	audioPath, err := p.merger.Merge(ctx, lo.Map(music, func(t timeline.Track, _ int) string { return t.Path }), filepath.Join(scratch, "audio.m4a"))
	if err != nil {
		return err
	}

	plan := timeline.Calculate(timeline.Params{
		Assets:           visuals,
		Tracks:           music,
		AudioPath:        audioPath,
		Speed:            job.SpeedOrDefault(),
		DefaultLoopCount: lo.FromPtr(job.DefaultLoopCount),
		TrimStart:        job.TrimStart,
		TrimEnd:          job.TrimEnd,
	})
	logger.Info("render plan",
		"target", plan.TargetDuration,
		"pass", plan.PassDuration,
		"repeats", plan.RepeatCount,
		"output", plan.OutputDuration,
		"speed", plan.Speed,
		"music_driven", plan.MusicDriven,
	)

	opts, err := p.graphOptions(ctx, logger, job, plan, scratch)
	if err != nil {
		return err
	}

	args, err := p.serializer.Args(graph.Build(plan, opts))
	if err != nil {
		return fmt.Errorf("failed to serialize graph: %w", err)
	}

	outPath := filepath.Join(scratch, "output.mp4")
	if _, err := p.executor.Execute(ctx, render.Request{
		JobID:       job.ID,
		AnimationID: job.AnimationID,
		Args:        args,
		Duration:    plan.OutputDuration,
		OutputPath:  outPath,
	}); err != nil {
		return err
	}

	_, err = p.finalizer.Finalize(ctx, finalize.Input{
		Job:             job,
		OutputPath:      outPath,
		PlannedDuration: timeline.TruncateSeconds(plan.OutputDuration),
		MusicTrackIDs:   lo.Map(tracks, func(t models.MusicTrack, _ int) uuid.UUID { return t.ID }),
		ScratchDir:      scratch,
	})
	return err
}

// fetchVisuals downloads the timeline. Any failure is fatal.
func (p *Pipeline) fetchVisuals(ctx context.Context, logger *slog.Logger, assets []models.TimelineAsset, scratch string) ([]timeline.Asset, error) {
	reqs := make([]fetcher.Request, len(assets))
	for i, a := range assets {
		reqs[i] = fetcher.Request{
			URL:  a.URL,
			Dest: filepath.Join(scratch, fmt.Sprintf("asset-%03d%s", i, extension(a.URL, defaultExt(a.Type)))),
		}
	}
	if err := p.fetcher.FetchAll(ctx, reqs); err != nil {
		return nil, fmt.Errorf("failed to fetch timeline assets: %w", err)
	}

	out := make([]timeline.Asset, len(assets))
	for i, a := range assets {
		out[i] = timeline.Asset{
			Path:      reqs[i].Dest,
			Type:      a.Type,
			Duration:  lo.FromPtr(a.Duration),
			LoopCount: lo.FromPtr(a.LoopCount),
		}
		if a.Type == models.AssetTypeVideo && out[i].Duration <= 0 {
			d, err := p.media.ProbeDuration(ctx, reqs[i].Dest)
			if err != nil {
				logger.Warn("failed to probe clip duration, using default", "asset_id", a.ID.String(), "error", err)
				continue
			}
			out[i].Duration = d
		}
	}
	return out, nil
}

// fetchMusic downloads the playlist in order, skipping tracks that fail.
func (p *Pipeline) fetchMusic(ctx context.Context, logger *slog.Logger, tracks []models.MusicTrack, scratch string) []timeline.Track {
	var out []timeline.Track
	for i, t := range tracks {
		dest := filepath.Join(scratch, fmt.Sprintf("track-%03d%s", i, extension(t.URL, ".mp3")))
		if err := p.fetcher.Fetch(ctx, t.URL, dest); err != nil {
			logger.Warn("skipping music track", "track_id", t.ID.String(), "error", err)
			continue
		}
		out = append(out, timeline.Track{Path: dest, Duration: t.Duration})
	}
	return out
}

func defaultExt(t models.AssetType) string {
	if t == models.AssetTypeVideo {
		return ".mp4"
	}
	return ".png"
}

// extension returns the file extension of a URL path, or fallback.
func extension(rawURL, fallback string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 5 {
		return fallback
	}
	return ext
}

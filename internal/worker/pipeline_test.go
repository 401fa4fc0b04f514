package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/composer/internal/fetcher"
	"github.com/bobarin/composer/internal/filtergraph"
	"github.com/bobarin/composer/internal/finalize"
	"github.com/bobarin/composer/internal/graph"
	"github.com/bobarin/composer/internal/logging"
	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/render"
	"github.com/bobarin/composer/internal/timeline"
)

type fakeAssets struct {
	assets []models.TimelineAsset
	tracks []models.MusicTrack
}

func (f *fakeAssets) GetTimelineAssets(context.Context, uuid.UUID) ([]models.TimelineAsset, error) {
	return f.assets, nil
}

func (f *fakeAssets) GetJobMusicTracks(context.Context, uuid.UUID) ([]models.MusicTrack, error) {
	return f.tracks, nil
}

type fakeFetcher struct {
	failURLs map[string]bool
	fetched  []string
	font     string
}

func (f *fakeFetcher) FetchAll(ctx context.Context, reqs []fetcher.Request) error {
	for _, r := range reqs {
		if err := f.Fetch(ctx, r.URL, r.Dest); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL, _ string) error {
	if f.failURLs[rawURL] {
		return fetcher.ErrAssetTooSmall
	}
	f.fetched = append(f.fetched, rawURL)
	return nil
}

func (f *fakeFetcher) ResolveFont(context.Context, uuid.UUID, string, string) string {
	return f.font
}

type fakeMedia struct {
	dir     string
	probe   float64
	cleaned bool
}

func (m *fakeMedia) ProbeDuration(context.Context, string) (float64, error) {
	if m.probe == 0 {
		return 0, errors.New("no ffprobe")
	}
	return m.probe, nil
}

func (m *fakeMedia) JobDir(string) (string, error) { return m.dir, nil }

func (m *fakeMedia) CleanupJobDir(string) { m.cleaned = true }

type fakeMerger struct {
	tracks []string
}

func (m *fakeMerger) Merge(_ context.Context, tracks []string, out string) (string, error) {
	m.tracks = tracks
	if len(tracks) == 0 {
		return "", nil
	}
	return out, nil
}

type fakeExecutor struct {
	req *render.Request
	err error
}

func (e *fakeExecutor) Execute(_ context.Context, req render.Request) (render.Result, error) {
	e.req = &req
	return render.Result{Elapsed: req.Duration}, e.err
}

type fakeFinalizer struct {
	in *finalize.Input
}

func (f *fakeFinalizer) Finalize(_ context.Context, in finalize.Input) (models.JobResult, error) {
	f.in = &in
	return models.JobResult{OutputURL: "https://cdn/x.mp4", Duration: in.PlannedDuration}, nil
}

type pipelineFixture struct {
	assets    *fakeAssets
	fetcher   *fakeFetcher
	media     *fakeMedia
	merger    *fakeMerger
	executor  *fakeExecutor
	finalizer *fakeFinalizer
	pipeline  *Pipeline
}

func newFixture(t *testing.T) *pipelineFixture {
	f := &pipelineFixture{
		assets:    &fakeAssets{},
		fetcher:   &fakeFetcher{failURLs: map[string]bool{}, font: "/fonts/DejaVuSans-Bold.ttf"},
		media:     &fakeMedia{dir: t.TempDir()},
		merger:    &fakeMerger{},
		executor:  &fakeExecutor{},
		finalizer: &fakeFinalizer{},
	}
	f.pipeline = NewPipeline(f.assets, f.fetcher, f.media, f.merger,
		filtergraph.New(filtergraph.DefaultEncoding()), f.executor, f.finalizer,
		graph.Format{Width: 1280, Height: 720, FPS: 30}, logging.Discard())
	return f
}

func ptr[T any](v T) *T { return &v }

func planFor(duration float64) timeline.Plan {
	return timeline.Plan{TargetDuration: duration, OutputDuration: duration, Speed: 1, RepeatCount: 1}
}

func twoAssets() []models.TimelineAsset {
	return []models.TimelineAsset{
		{ID: uuid.New(), Type: models.AssetTypeVideo, URL: "https://cdn/a.mp4", Duration: ptr(5.0), LoopCount: ptr(2)},
		{ID: uuid.New(), Type: models.AssetTypeImage, URL: "https://cdn/b.jpg", Duration: ptr(10.0)},
	}
}

func runJob(t *testing.T, f *pipelineFixture, job *models.Job) error {
	t.Helper()
	task := newTask(context.Background(), job, time.Minute)
	defer task.Cancel()
	return f.pipeline.Process(task.Context(), task)
}

func TestPipelineMusicDrivesDuration(t *testing.T) {
	f := newFixture(t)
	f.assets.assets = twoAssets()
	t1, t2 := uuid.New(), uuid.New()
	f.assets.tracks = []models.MusicTrack{
		{ID: t1, URL: "https://cdn/t1.mp3", Duration: ptr(30.0)},
		{ID: t2, URL: "https://cdn/t2.mp3", Duration: ptr(45.0)},
	}

	job := &models.Job{ID: uuid.New(), ProjectID: uuid.New(), Speed: 2}
	if err := runJob(t, f, job); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if f.executor.req == nil || f.executor.req.Duration != 75 {
		t.Fatalf("executor request = %+v, want duration 75", f.executor.req)
	}
	args := strings.Join(f.executor.req.Args, " ")
	if !strings.Contains(args, "-filter_complex") || !strings.Contains(args, "-c:a") {
		t.Errorf("args missing graph or audio codec: %s", args)
	}
	// 20s pass at 2x covers 10s, so 8 passes for 75s, each with two inputs.
	if got := strings.Count(args, " -i "); got != 8*2+1 {
		t.Errorf("input count = %d, want %d", got, 8*2+1)
	}
	if len(f.merger.tracks) != 2 {
		t.Errorf("merged tracks = %v", f.merger.tracks)
	}
	if f.finalizer.in == nil || len(f.finalizer.in.MusicTrackIDs) != 2 || f.finalizer.in.PlannedDuration != 75 {
		t.Errorf("finalize input = %+v", f.finalizer.in)
	}
	if !f.media.cleaned {
		t.Error("scratch dir not cleaned")
	}
}

func TestPipelineSkipsFailedTrack(t *testing.T) {
	f := newFixture(t)
	f.assets.assets = twoAssets()
	f.assets.tracks = []models.MusicTrack{
		{ID: uuid.New(), URL: "https://cdn/t1.mp3", Duration: ptr(30.0)},
		{ID: uuid.New(), URL: "https://cdn/broken.mp3", Duration: ptr(45.0)},
	}
	f.fetcher.failURLs["https://cdn/broken.mp3"] = true

	if err := runJob(t, f, &models.Job{ID: uuid.New()}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if f.executor.req.Duration != 30 {
		t.Errorf("duration = %v, want 30 from the surviving track", f.executor.req.Duration)
	}
	if len(f.finalizer.in.MusicTrackIDs) != 2 {
		t.Error("usage counters should cover every referenced track")
	}
}

func TestPipelineVisualFetchFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.assets.assets = twoAssets()
	f.fetcher.failURLs["https://cdn/b.jpg"] = true

	err := runJob(t, f, &models.Job{ID: uuid.New()})
	if !errors.Is(err, fetcher.ErrAssetTooSmall) {
		t.Fatalf("error = %v, want ErrAssetTooSmall", err)
	}
	if f.executor.req != nil {
		t.Error("render must not start after a failed asset fetch")
	}
}

func TestPipelineSilentNoMusic(t *testing.T) {
	f := newFixture(t)
	f.assets.assets = twoAssets()

	if err := runJob(t, f, &models.Job{ID: uuid.New(), Speed: 0.5}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if f.executor.req.Duration != 40 {
		t.Errorf("duration = %v, want 20s pass / 0.5", f.executor.req.Duration)
	}
	if !strings.Contains(strings.Join(f.executor.req.Args, " "), "-an") {
		t.Error("silent render should disable audio")
	}
}

func TestPipelineProbesUnknownClipDuration(t *testing.T) {
	f := newFixture(t)
	f.media.probe = 12
	f.assets.assets = []models.TimelineAsset{{ID: uuid.New(), Type: models.AssetTypeVideo, URL: "https://cdn/c.mov"}}

	if err := runJob(t, f, &models.Job{ID: uuid.New()}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if f.executor.req.Duration != 12 {
		t.Errorf("duration = %v, want probed 12", f.executor.req.Duration)
	}
}

func TestPipelineEncoderErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.assets.assets = twoAssets()
	f.executor.err = render.ErrEncoderFailed

	if err := runJob(t, f, &models.Job{ID: uuid.New()}); !errors.Is(err, render.ErrEncoderFailed) {
		t.Fatalf("error = %v", err)
	}
	if f.finalizer.in != nil {
		t.Error("finalizer must not run after encoder failure")
	}
}

func TestGraphOptionsOverlays(t *testing.T) {
	f := newFixture(t)
	scratch := f.media.dir
	job := &models.Job{
		ID:        uuid.New(),
		ProjectID: uuid.New(),
		Overlays: models.NewJSON(models.OverlayConfig{
			Title: models.TitleConfig{Enabled: true, Text: "Night Drive", Start: 0, Duration: 4, Fade: 1},
			Items: []models.OverlayItem{
				{Type: models.OverlayTypeText, Text: "it's 100% live", Position: "bottom-left", Start: 2, Duration: 3, Fade: 1},
				{Type: models.OverlayTypeText, Text: "never shown", Start: 1, Duration: 0},
				{Type: models.OverlayTypeImage, URL: "https://cdn/logo.png", Position: "middle", Start: 0, Duration: 5},
				{Type: models.OverlayTypeImage, URL: "https://cdn/missing.png", Start: 0, Duration: 5},
				{Type: models.OverlayTypeImage, URL: "https://cdn/badge.png", Start: 0, Duration: 5, Width: 200},
			},
		}),
		Title: "ignored when overlays exist",
	}
	f.fetcher.failURLs["https://cdn/missing.png"] = true

	opts, err := f.pipeline.graphOptions(context.Background(), logging.Discard(), job, planFor(60), scratch)
	if err != nil {
		t.Fatalf("graphOptions() error = %v", err)
	}

	if len(opts.Elements) != 3 {
		t.Fatalf("elements = %d, want title + text + badge", len(opts.Elements))
	}
	title := opts.Elements[0].Text
	if title == nil || title.Position != "center" || title.FontFile != "/fonts/DejaVuSans-Bold.ttf" {
		t.Errorf("title element = %+v", title)
	}
	text := opts.Elements[1].Text
	if text == nil || text.Window != (graph.Window{Start: 2, Duration: 3, Fade: 1}) {
		t.Fatalf("text element = %+v", text)
	}
	content, err := os.ReadFile(text.TextFile)
	if err != nil || string(content) != "it's 100% live" {
		t.Errorf("text file = %q, %v", content, err)
	}
	badge := opts.Elements[2].Image
	if badge == nil || badge.Width != 200 || badge.Position != "top-right" || filepath.Dir(badge.Path) != scratch {
		t.Errorf("image element = %+v", badge)
	}
	if opts.LegacyTitle != nil {
		t.Error("legacy title must not be used when overlays are configured")
	}
}

func TestGraphOptionsLegacyTitle(t *testing.T) {
	f := newFixture(t)
	job := &models.Job{ID: uuid.New(), Title: "My Mix"}

	opts, err := f.pipeline.graphOptions(context.Background(), logging.Discard(), job, planFor(30), f.media.dir)
	if err != nil {
		t.Fatalf("graphOptions() error = %v", err)
	}
	if opts.LegacyTitle == nil || opts.LegacyTitle.Text != "My Mix" {
		t.Fatalf("legacy title = %+v", opts.LegacyTitle)
	}
	if len(opts.Elements) != 0 {
		t.Error("legacy jobs have no overlay elements")
	}
}

func TestGraphOptionsVisualizerNeedsAudio(t *testing.T) {
	f := newFixture(t)
	job := &models.Job{ID: uuid.New(), Visualizer: models.NewJSON(models.VisualizerConfig{Enabled: true, Style: models.VisualizerBar})}

	silent := planFor(30)
	opts, _ := f.pipeline.graphOptions(context.Background(), logging.Discard(), job, silent, f.media.dir)
	if opts.Visualizer != nil {
		t.Error("visualizer should be dropped without audio")
	}

	withAudio := planFor(30)
	withAudio.AudioPath = "audio.m4a"
	opts, _ = f.pipeline.graphOptions(context.Background(), logging.Discard(), job, withAudio, f.media.dir)
	if opts.Visualizer == nil || opts.Visualizer.Style != models.VisualizerBar {
		t.Errorf("visualizer = %+v", opts.Visualizer)
	}
}

func TestExtension(t *testing.T) {
	tests := []struct{ url, want string }{
		{"https://cdn/a/clip.MOV?token=x", ".mov"},
		{"https://cdn/a/noext", ".png"},
		{"https://cdn/a/weird.longextension", ".png"},
	}
	for _, tt := range tests {
		if got := extension(tt.url, ".png"); got != tt.want {
			t.Errorf("extension(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/composer/internal/api"
	"github.com/bobarin/composer/internal/audio"
	"github.com/bobarin/composer/internal/config"
	"github.com/bobarin/composer/internal/db"
	"github.com/bobarin/composer/internal/fetcher"
	"github.com/bobarin/composer/internal/filtergraph"
	"github.com/bobarin/composer/internal/finalize"
	"github.com/bobarin/composer/internal/graph"
	"github.com/bobarin/composer/internal/logging"
	"github.com/bobarin/composer/internal/queue"
	"github.com/bobarin/composer/internal/render"
	"github.com/bobarin/composer/internal/services"
	"github.com/bobarin/composer/internal/storage"
	"github.com/bobarin/composer/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting composer worker")

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("connected to database")

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer q.Close()
	if q.Enabled() {
		logger.Info("connected to redis, wake-ups enabled")
	} else {
		logger.Info("no REDIS_URL set, polling only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uploader, err := newUploader(ctx, cfg, logging.WithComponent(logger, "storage"))
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	ffmpegSvc := services.NewFFmpegService(cfg.FFmpegPath, cfg.FFprobePath, cfg.ScratchDir, logging.WithComponent(logger, "ffmpeg"))
	ffmpegSvc.SweepScratch()

	assetFetcher := fetcher.New(fetcher.Config{
		PublicURLPrefix: uploader.PublicURL(""),
		LocalRoot:       cfg.StorageLocalRoot,
		MinBytes:        cfg.AssetMinBytes,
		Concurrency:     cfg.FetchConcurrency,
	}, database, logging.WithComponent(logger, "fetcher"))

	executor := render.NewExecutor(render.Config{
		FFmpegPath:       cfg.FFmpegPath,
		ProgressInterval: cfg.ProgressInterval,
	}, worker.NewProgressReporter(database, q, logger), logging.WithComponent(logger, "executor"))

	finalizer := finalize.New(database, uploader, ffmpegSvc, logging.WithComponent(logger, "finalizer"))

	pipeline := worker.NewPipeline(
		database,
		assetFetcher,
		ffmpegSvc,
		audio.NewMerger(ffmpegSvc, logging.WithComponent(logger, "merger")),
		filtergraph.New(filtergraph.DefaultEncoding()),
		executor,
		finalizer,
		graph.Format{Width: cfg.RenderWidth, Height: cfg.RenderHeight, FPS: cfg.RenderFPS},
		logger,
	)

	w := worker.New(worker.Config{
		PollInterval:     cfg.PollInterval,
		JobTimeout:       cfg.JobTimeout,
		StaleJobAge:      cfg.StaleJobAge(),
		StaleJobSchedule: cfg.StaleJobSchedule,
		ScratchDir:       cfg.ScratchDir,
	}, database, q, pipeline, finalizer, logging.WithComponent(logger, "coordinator"))

	apiLogger := logging.WithComponent(logger, "api")
	router := api.NewRouter(api.NewHandler(database, q, w, apiLogger), api.RouterConfig{
		BackendAPIKey:  cfg.BackendAPIKey,
		AllowedOrigins: cfg.AllowedOrigins(),
		Logger:         apiLogger,
	})
	if cfg.BackendAPIKey == "" {
		logger.Warn("no BACKEND_API_KEY set, admin routes are unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("status API listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	workerDone := make(chan error, 1)
	go func() { workerDone <- w.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-workerDone:
		if err != nil {
			logger.Error("worker stopped", "error", err)
		}
		stop()
	}

	// The worker requeues an in-flight job before Run returns.
	select {
	case <-workerDone:
	case <-time.After(45 * time.Second):
		logger.Warn("worker did not stop in time")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("worker exited")
}

func newUploader(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Uploader, error) {
	if cfg.StorageBackend == "s3" {
		return storage.NewS3(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicURL:       cfg.S3PublicURL,
		}, logger)
	}
	return storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket, logger), nil
}

package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const maxStderrBytes = 8 * 1024 // tail of stderr kept for diagnostics

// FFmpegService runs short ffmpeg/ffprobe commands and owns the scratch directory.
// Long renders with progress supervision go through package render instead.
type FFmpegService struct {
	ffmpegPath  string
	ffprobePath string
	scratchRoot string
	logger      *slog.Logger
}

func NewFFmpegService(ffmpegPath, ffprobePath, scratchRoot string, logger *slog.Logger) *FFmpegService {
	return &FFmpegService{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		scratchRoot: scratchRoot,
		logger:      logger,
	}
}

// FFmpegPath is the encoder binary used by all commands.
func (s *FFmpegService) FFmpegPath() string {
	return s.ffmpegPath
}

// Run executes ffmpeg with args and returns the stderr tail in the error on failure.
func (s *FFmpegService) Run(ctx context.Context, args []string) error {
	start := time.Now()
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	err := cmd.Run()
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		s.logger.Warn("ffmpeg command failed",
			"exit_code", exitCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return fmt.Errorf("ffmpeg exited %d: %s", exitCode, strings.TrimSpace(stderrBuf.String()))
	}
	return nil
}

// ProbeDuration returns a media file's duration in seconds using ffprobe.
func (s *FFmpegService) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, s.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseProbeDuration(string(output))
}

func parseProbeDuration(output string) (float64, error) {
	value := strings.TrimSpace(output)
	if value == "" || value == "N/A" {
		return 0, fmt.Errorf("duration unavailable")
	}
	d, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return d, nil
}

// ExtractFrame writes the frame at the given second of src to dst as an image.
func (s *FFmpegService) ExtractFrame(ctx context.Context, src, dst string, at float64) error {
	return s.Run(ctx, FrameArgs(src, dst, at))
}

// FrameArgs builds the single-frame extraction command.
func FrameArgs(src, dst string, at float64) []string {
	return ffmpeg.Input(src, ffmpeg.KwArgs{"ss": strconv.FormatFloat(at, 'f', -1, 64)}).
		Output(dst, ffmpeg.KwArgs{"vframes": 1, "q:v": 2}).
		OverWriteOutput().
		GetArgs()
}

// JobDir creates the scratch directory for one job.
func (s *FFmpegService) JobDir(jobID string) (string, error) {
	dir := filepath.Join(s.scratchRoot, jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return dir, nil
}

// CleanupJobDir removes a job's scratch directory.
func (s *FFmpegService) CleanupJobDir(jobID string) {
	if err := os.RemoveAll(filepath.Join(s.scratchRoot, jobID)); err != nil {
		s.logger.Warn("failed to remove scratch dir", "job_id", jobID, "error", err)
	}
}

// SweepScratch removes directories left behind by a previous process.
func (s *FFmpegService) SweepScratch() {
	entries, err := os.ReadDir(s.scratchRoot)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = os.RemoveAll(filepath.Join(s.scratchRoot, e.Name()))
		}
	}
	if len(entries) > 0 {
		s.logger.Info("swept scratch directory", "entries", len(entries))
	}
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}

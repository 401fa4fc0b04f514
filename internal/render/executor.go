// Package render supervises the encoder process for one composition.
package render

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/composer/internal/timeline"
)

// ErrEncoderFailed wraps any encoder exit that is not a success.
var ErrEncoderFailed = errors.New("encoder failed")

const (
	stderrTailLines = 20
	// cutoverMargin is how close to the target the encoder may get before it is
	// asked to finish.
	cutoverMargin   = 0.5
	progressTimeout = 10 * time.Second
)

// ProgressSink persists render progress for a job and its linked animation.
type ProgressSink interface {
	ReportProgress(ctx context.Context, jobID uuid.UUID, animationID *uuid.UUID, percent int) error
}

type Config struct {
	FFmpegPath       string
	ProgressInterval time.Duration
	// KillGrace is how long the encoder gets to exit after the interrupt.
	KillGrace time.Duration
}

type Executor struct {
	cfg    Config
	sink   ProgressSink
	logger *slog.Logger
	now    func() time.Time
}

func NewExecutor(cfg Config, sink ProgressSink, logger *slog.Logger) *Executor {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 2 * time.Second
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 10 * time.Second
	}
	return &Executor{cfg: cfg, sink: sink, logger: logger, now: time.Now}
}

// Request is one encoder run.
type Request struct {
	JobID       uuid.UUID
	AnimationID *uuid.UUID
	Args        []string // inputs, graph, maps and codecs
	Duration    float64  // hard output cap in seconds
	OutputPath  string
}

type Result struct {
	Elapsed     float64 // last encoded timestamp seen
	Interrupted bool    // finished through the forced cutover
	WallTime    time.Duration
}

// CommandArgs is the full argument list for a request.
func CommandArgs(req Request) []string {
	d := timeline.TruncateSeconds(req.Duration)
	args := []string{"-hide_banner", "-nostdin", "-y"}
	args = append(args, req.Args...)
	return append(args, "-t", strconv.FormatFloat(d, 'f', 2, 64), req.OutputPath)
}

// Execute runs the encoder, streaming progress and forcing a graceful finish
// once the encoded time reaches the target.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	target := timeline.TruncateSeconds(req.Duration)
	logger := e.logger.With("job_id", req.JobID.String())

	cmd := exec.CommandContext(ctx, e.cfg.FFmpegPath, CommandArgs(req)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to open encoder stderr: %w", err)
	}

	logger.Info("starting encoder", "target_seconds", target)
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start encoder: %w", err)
	}

	progress, published := e.startProgressPublisher(ctx, req)
	gate := &throttle{interval: e.cfg.ProgressInterval, now: e.now}
	tail := newLineTail(stderrTailLines)

	var (
		result    Result
		killTimer *time.Timer
		killed    atomic.Bool
	)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLinesWithCR)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		elapsed, ok := ParseProgressTime(line)
		if !ok {
			tail.add(line)
			continue
		}
		result.Elapsed = elapsed

		if gate.ready() {
			select {
			case progress <- Percent(elapsed, target):
			default:
			}
		}

		if !result.Interrupted && elapsed >= target-cutoverMargin {
			result.Interrupted = true
			logger.Info("target duration reached, interrupting encoder", "elapsed", elapsed)
			if err := cmd.Process.Signal(os.Interrupt); err != nil {
				logger.Warn("failed to interrupt encoder", "error", err)
			}
			proc := cmd.Process
			killTimer = time.AfterFunc(e.cfg.KillGrace, func() {
				logger.Warn("encoder did not exit after interrupt, killing")
				killed.Store(true)
				_ = proc.Kill()
			})
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("error reading encoder output", "error", err)
	}

	waitErr := cmd.Wait()
	if killTimer != nil {
		killTimer.Stop()
	}
	close(progress)
	<-published
	result.WallTime = time.Since(start)

	if waitErr == nil {
		logger.Info("encoder finished", "elapsed", result.Elapsed, "wall_ms", result.WallTime.Milliseconds())
		return result, nil
	}

	if ctx.Err() != nil {
		return result, fmt.Errorf("encoder cancelled: %w", ctx.Err())
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	if result.Interrupted && exitErr != nil && isInterruptExit(exitErr) {
		logger.Info("encoder finished after interrupt", "exit_code", exitCode, "elapsed", result.Elapsed)
		return result, nil
	}

	if killed.Load() {
		return result, fmt.Errorf("%w: killed after %s interrupt grace: %s", ErrEncoderFailed, e.cfg.KillGrace, tail.String())
	}

	return result, fmt.Errorf("%w: exit code %d: %s", ErrEncoderFailed, exitCode, tail.String())
}

// isInterruptExit matches how ffmpeg exits after SIGINT: 255 from its own
// handler, 130 from a wrapper shell, or death by SIGINT itself. Any other
// signal, SIGKILL included, leaves the container unfinished.
func isInterruptExit(exitErr *exec.ExitError) bool {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal() == syscall.SIGINT
	}
	code := exitErr.ExitCode()
	return code == 255 || code == 130
}

// startProgressPublisher persists progress off the render path. Sends are
// non-blocking so a slow store never stalls the encoder's stderr. The returned
// done channel closes once the last queued value has been written.
func (e *Executor) startProgressPublisher(ctx context.Context, req Request) (chan int, <-chan struct{}) {
	ch := make(chan int, 1)
	done := make(chan struct{})
	if e.sink == nil {
		go func() {
			defer close(done)
			for range ch {
			}
		}()
		return ch, done
	}

	go func() {
		defer close(done)
		for pct := range ch {
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), progressTimeout)
			if err := e.sink.ReportProgress(pctx, req.JobID, req.AnimationID, pct); err != nil {
				e.logger.Warn("failed to persist progress", "job_id", req.JobID.String(), "error", err)
			}
			cancel()
		}
	}()
	return ch, done
}

// Package fetcher brings remote and co-located media into job scratch space.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobarin/composer/internal/storage"
)

// ErrAssetTooSmall marks a download below the minimum size, which almost
// always means a truncated transfer or an error page.
var ErrAssetTooSmall = errors.New("asset too small")

// ErrOutsideRoot rejects a file URL that does not point under LocalRoot.
var ErrOutsideRoot = errors.New("local path outside storage root")

const downloadTimeout = 10 * time.Minute

type Config struct {
	// PublicURLPrefix is the public URL of the storage bucket root. URLs under it
	// are read from LocalRoot when LocalRoot is set.
	PublicURLPrefix string
	LocalRoot       string
	MinBytes        int64
	Concurrency     int
}

type Fetcher struct {
	cfg    Config
	client *http.Client
	fonts  FontStore
	logger *slog.Logger
	exists func(path string) bool
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, fonts FontStore, logger *slog.Logger) *Fetcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 3
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		fonts:  fonts,
		logger: logger,
		exists: fileExists,
		sleep:  sleepCtx,
	}
}

// Request asks for URL to be written to Dest.
type Request struct {
	URL  string
	Dest string
}

// FetchAll fetches requests in parallel and fails on the first error.
func (f *Fetcher) FetchAll(ctx context.Context, reqs []Request) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)

	for _, r := range reqs {
		r := r
		g.Go(func() error {
			return f.Fetch(gctx, r.URL, r.Dest)
		})
	}
	return g.Wait()
}

// Fetch writes the asset at rawURL to dest and validates its size.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dest, err)
	}

	start := time.Now()
	local, ok := f.localSource(rawURL)
	if !ok && isFileURL(rawURL) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, rawURL)
	}
	if ok {
		if err := copyFile(local, dest); err != nil {
			return fmt.Errorf("failed to copy %s: %w", local, err)
		}
		f.logger.Debug("copied co-located asset", "src", local, "dest", dest)
	} else {
		if err := f.download(ctx, rawURL, dest); err != nil {
			return err
		}
		f.logger.Debug("downloaded asset", "url", rawURL, "dest", dest, "ms", time.Since(start).Milliseconds())
	}

	return f.validate(rawURL, dest)
}

func (f *Fetcher) validate(rawURL, dest string) error {
	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", dest, err)
	}
	if info.Size() < f.cfg.MinBytes {
		_ = os.Remove(dest)
		return fmt.Errorf("%w: %s is %d bytes (minimum %d)", ErrAssetTooSmall, rawURL, info.Size(), f.cfg.MinBytes)
	}
	return nil
}

func isFileURL(rawURL string) bool {
	return strings.HasPrefix(strings.ToLower(rawURL), "file:")
}

// localSource maps a URL to a file on this host when one is available. Both
// file URLs and public storage URLs must resolve under LocalRoot.
func (f *Fetcher) localSource(rawURL string) (string, bool) {
	if isFileURL(rawURL) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", false
		}
		return f.underRoot(u.Path)
	}

	if f.cfg.PublicURLPrefix == "" || !strings.HasPrefix(rawURL, f.cfg.PublicURLPrefix) {
		return "", false
	}

	key := strings.TrimPrefix(rawURL, f.cfg.PublicURLPrefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	if unescaped, err := url.PathUnescape(key); err == nil {
		key = unescaped
	}

	if f.cfg.LocalRoot == "" {
		return "", false
	}
	local := filepath.Join(filepath.Clean(f.cfg.LocalRoot), filepath.FromSlash(key))
	local, ok := f.underRoot(local)
	if !ok || !f.exists(local) {
		return "", false
	}
	return local, true
}

// underRoot cleans path and accepts it only when it lies inside LocalRoot.
func (f *Fetcher) underRoot(path string) (string, bool) {
	if f.cfg.LocalRoot == "" || path == "" {
		return "", false
	}
	root := filepath.Clean(f.cfg.LocalRoot)
	local := filepath.Clean(filepath.FromSlash(path))
	if !strings.HasPrefix(local, root+string(filepath.Separator)) {
		return "", false
	}
	return local, true
}

// download GETs rawURL into dest with retries on transient failures.
func (f *Fetcher) download(ctx context.Context, rawURL, dest string) error {
	var lastErr error
	for attempt := 0; attempt <= storage.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := storage.RetryDelay(attempt)
			f.logger.Warn("retrying download", "url", rawURL, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := f.sleep(ctx, delay); err != nil {
				return fmt.Errorf("download cancelled: %w", err)
			}
		}

		retry, err := f.get(ctx, rawURL, dest)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return lastErr
		}
	}
	return fmt.Errorf("download failed after %d attempts: %w", storage.MaxRetries+1, lastErr)
}

func (f *Fetcher) get(ctx context.Context, rawURL, dest string) (retry bool, err error) {
	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return storage.IsRetryableError(err), fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return storage.IsRetryableStatus(resp.StatusCode),
			fmt.Errorf("download %s failed with status %d: %s", rawURL, resp.StatusCode, storage.Truncate(string(body), 200))
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return true, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return false, fmt.Errorf("failed to move %s: %w", tmp, err)
	}
	return false, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

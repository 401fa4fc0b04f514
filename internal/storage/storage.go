// Package storage publishes rendered files to object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
)

// Upload timeout per attempt; renders can run to hundreds of MB.
const uploadTimeout = 15 * time.Minute

// Uploader stores a local file under key and returns its public URL.
type Uploader interface {
	UploadFile(ctx context.Context, key, localPath, contentType string) (string, error)
	PublicURL(key string) string
}

// RenderKey is the object key for a job's output file.
func RenderKey(projectID, jobID uuid.UUID, filename string) string {
	return path.Join("renders", projectID.String(), jobID.String(), filename)
}

// Supabase uploads to a Supabase Storage bucket.
type Supabase struct {
	url        string
	serviceKey string
	bucket     string
	client     *http.Client
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewSupabase(url, serviceKey, bucket string, logger *slog.Logger) *Supabase {
	return &Supabase{
		url:        url,
		serviceKey: serviceKey,
		bucket:     bucket,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
		sleep:  sleepCtx,
	}
}

// UploadFile streams localPath to the bucket with retries and exponential
// backoff. Uses PUT with Content-Length and x-upsert so reruns overwrite.
func (s *Supabase) UploadFile(ctx context.Context, key, localPath, contentType string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat file %s: %w", localPath, err)
	}

	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.bucket, key)

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryDelay(attempt)
			s.logger.Warn("retrying upload", "key", key, "attempt", attempt, "max", MaxRetries, "delay", delay)
			if err := s.sleep(ctx, delay); err != nil {
				return "", fmt.Errorf("upload cancelled: %w", err)
			}
		}

		retry, err := s.put(ctx, url, localPath, info.Size(), contentType)
		if err == nil {
			if attempt > 0 {
				s.logger.Info("upload succeeded after retry", "key", key, "attempt", attempt+1)
			}
			return s.PublicURL(key), nil
		}
		lastErr = err
		if !retry {
			return "", lastErr
		}
		s.logger.Warn("upload attempt failed", "key", key, "attempt", attempt+1, "error", err)
	}

	return "", fmt.Errorf("upload failed after %d attempts: %w", MaxRetries+1, lastErr)
}

// put performs one attempt. The file is reopened each time so a retry never
// sends a partially consumed body.
func (s *Supabase) put(ctx context.Context, url, localPath string, size int64, contentType string) (retry bool, err error) {
	f, err := os.Open(localPath)
	if err != nil {
		return false, fmt.Errorf("failed to open file %s: %w", localPath, err)
	}
	defer f.Close()

	uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(uploadCtx, http.MethodPut, url, f)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return IsRetryableError(err), fmt.Errorf("failed to upload: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return false, nil
	}
	return IsRetryableStatus(resp.StatusCode), fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, Truncate(string(body), 500))
}

// PublicURL returns the public URL for key. With an empty key it is the
// prefix shared by every object in the bucket.
func (s *Supabase) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.bucket, key)
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

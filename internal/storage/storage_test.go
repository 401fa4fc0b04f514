package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/composer/internal/logging"
)

func newTestSupabase(url string) *Supabase {
	s := NewSupabase(url, "service-key", "renders", logging.Discard())
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSupabaseUploadFile(t *testing.T) {
	var gotBody, gotAuth, gotUpsert, gotPath string
	var gotLen int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotLen = r.ContentLength
		gotAuth = r.Header.Get("Authorization")
		gotUpsert = r.Header.Get("x-upsert")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSupabase(srv.URL)
	url, err := s.UploadFile(context.Background(), "renders/a/out.mp4", writeTemp(t, "video-bytes"), "video/mp4")
	if err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}

	if gotBody != "video-bytes" || gotLen != int64(len("video-bytes")) {
		t.Errorf("body = %q (len %d)", gotBody, gotLen)
	}
	if gotAuth != "Bearer service-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotUpsert != "true" {
		t.Errorf("x-upsert = %q", gotUpsert)
	}
	if gotPath != "/storage/v1/object/renders/renders/a/out.mp4" {
		t.Errorf("path = %q", gotPath)
	}
	if want := srv.URL + "/storage/v1/object/public/renders/renders/a/out.mp4"; url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
}

func TestSupabaseUploadRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if string(b) != "payload" {
			t.Errorf("attempt %d body = %q", atomic.LoadInt32(&calls)+1, b)
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := newTestSupabase(srv.URL)
	if _, err := s.UploadFile(context.Background(), "k", writeTemp(t, "payload"), "video/mp4"); err != nil {
		t.Fatalf("UploadFile() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestSupabaseUploadStopsOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := newTestSupabase(srv.URL)
	_, err := s.UploadFile(context.Background(), "k", writeTemp(t, "x"), "video/mp4")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("error = %v, want 401", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSupabaseUploadGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newTestSupabase(srv.URL)
	_, err := s.UploadFile(context.Background(), "k", writeTemp(t, "x"), "video/mp4")
	if err == nil || !strings.Contains(err.Error(), "after 5 attempts") {
		t.Fatalf("error = %v", err)
	}
	if calls != MaxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, MaxRetries+1)
	}
}

func TestSupabaseUploadMissingFile(t *testing.T) {
	s := newTestSupabase("http://127.0.0.1:1")
	if _, err := s.UploadFile(context.Background(), "k", filepath.Join(t.TempDir(), "nope"), "video/mp4"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRenderKey(t *testing.T) {
	p := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	j := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	want := "renders/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222/video.mp4"
	if got := RenderKey(p, j, "video.mp4"); got != want {
		t.Errorf("RenderKey() = %q", got)
	}
}

func TestRetryDelay(t *testing.T) {
	for attempt := 1; attempt <= 8; attempt++ {
		d := RetryDelay(attempt)
		base := time.Second << (attempt - 1)
		if base > maxRetryDelay {
			base = maxRetryDelay
		}
		if d < base || d > base+base/4 {
			t.Errorf("RetryDelay(%d) = %v, want in [%v, %v]", attempt, d, base, base+base/4)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryableStatus(http.StatusTooManyRequests) || IsRetryableStatus(http.StatusNotFound) {
		t.Error("IsRetryableStatus misclassified")
	}
	if IsRetryableError(nil) {
		t.Error("nil should not be retryable")
	}
	if !IsRetryableError(io.ErrUnexpectedEOF) {
		t.Error("unexpected EOF should be retryable")
	}
}

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewWithoutRedis(t *testing.T) {
	q, err := New("")
	if err != nil {
		t.Fatalf("New(\"\") error = %v", err)
	}
	if q.Enabled() {
		t.Error("queue without URL should be disabled")
	}
	if err := q.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNewInvalidURL(t *testing.T) {
	if _, err := New("not-a-redis-url"); err == nil {
		t.Error("expected parse error")
	}
}

func TestTimerWait(t *testing.T) {
	q := &Queue{}
	start := time.Now()
	woken, err := q.Wait(context.Background(), 30*time.Millisecond)
	if err != nil || woken {
		t.Fatalf("Wait() = %v, %v", woken, err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("Wait returned before the interval")
	}
}

func TestTimerWaitCancelled(t *testing.T) {
	q := &Queue{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestDisabledNoops(t *testing.T) {
	q := &Queue{}
	ctx := context.Background()
	id := uuid.New()

	if err := q.Wake(ctx); err != nil {
		t.Errorf("Wake() error = %v", err)
	}
	if err := q.PublishProgress(ctx, id, 42); err != nil {
		t.Errorf("PublishProgress() error = %v", err)
	}
	if _, ok, err := q.GetProgress(ctx, id); ok || err != nil {
		t.Errorf("GetProgress() = %v, %v", ok, err)
	}
}

func TestProgressKey(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	if got := ProgressKey(id); got != "render:progress:11111111-2222-3333-4444-555555555555" {
		t.Errorf("ProgressKey() = %q", got)
	}
}

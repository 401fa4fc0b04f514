package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/composer/internal/db"
	"github.com/bobarin/composer/internal/logging"
	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/worker"
)

type fakeStore struct {
	jobs   map[uuid.UUID]*models.Job
	counts []models.StatusCount
}

func (s *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return job, nil
}

func (s *fakeStore) TransitionStatus(_ context.Context, id uuid.UUID, from, to models.JobStatus) (bool, error) {
	job, ok := s.jobs[id]
	if !ok || job.Status != from {
		return false, nil
	}
	job.Status = to
	return true, nil
}

func (s *fakeStore) CountJobsByStatus(context.Context) ([]models.StatusCount, error) {
	return s.counts, nil
}

type fakeQueue struct {
	wakes    int
	progress map[uuid.UUID]int
}

func (q *fakeQueue) Wake(context.Context) error {
	q.wakes++
	return nil
}

func (q *fakeQueue) GetProgress(_ context.Context, id uuid.UUID) (int, bool, error) {
	p, ok := q.progress[id]
	return p, ok, nil
}

type fakeCurrent struct {
	snap *worker.Snapshot
}

func (c fakeCurrent) Current() (worker.Snapshot, bool) {
	if c.snap == nil {
		return worker.Snapshot{}, false
	}
	return *c.snap, true
}

func newTestRouter(store *fakeStore, q *fakeQueue, cur fakeCurrent, apiKey string) http.Handler {
	h := NewHandler(store, q, cur, logging.Discard())
	return NewRouter(h, RouterConfig{BackendAPIKey: apiKey, Logger: logging.Discard()})
}

func do(t *testing.T, h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(&fakeStore{}, &fakeQueue{}, fakeCurrent{}, "secret"), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusIdle(t *testing.T) {
	store := &fakeStore{counts: []models.StatusCount{{Status: models.JobStatusQueued, Count: 3}}}
	rec := do(t, newTestRouter(store, &fakeQueue{}, fakeCurrent{}, ""), http.MethodGet, "/status", nil)

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Busy || resp.Current != nil {
		t.Errorf("idle worker reported busy: %+v", resp)
	}
	if len(resp.Jobs) != 1 || resp.Jobs[0].Count != 3 {
		t.Errorf("jobs = %+v", resp.Jobs)
	}
}

func TestStatusBusyUsesCachedProgress(t *testing.T) {
	id := uuid.New()
	snap := &worker.Snapshot{JobID: id, StartedAt: time.Now()}
	store := &fakeStore{jobs: map[uuid.UUID]*models.Job{id: {ID: id, Progress: 10}}}
	q := &fakeQueue{progress: map[uuid.UUID]int{id: 57}}

	rec := do(t, newTestRouter(store, q, fakeCurrent{snap: snap}, ""), http.MethodGet, "/status", nil)

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Busy || resp.Current == nil || resp.Current.JobID != id || resp.Current.Progress != 57 {
		t.Errorf("status = %+v", resp)
	}
}

func TestStatusFallsBackToJobProgress(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{jobs: map[uuid.UUID]*models.Job{id: {ID: id, Progress: 33}}}

	rec := do(t, newTestRouter(store, &fakeQueue{}, fakeCurrent{snap: &worker.Snapshot{JobID: id}}, ""), http.MethodGet, "/status", nil)

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Current == nil || resp.Current.Progress != 33 {
		t.Errorf("current = %+v", resp.Current)
	}
}

func TestRequeue(t *testing.T) {
	failed, running := uuid.New(), uuid.New()
	store := &fakeStore{jobs: map[uuid.UUID]*models.Job{
		failed:  {ID: failed, Status: models.JobStatusError},
		running: {ID: running, Status: models.JobStatusProcessing},
	}}
	q := &fakeQueue{}
	router := newTestRouter(store, q, fakeCurrent{}, "secret")
	auth := map[string]string{"X-API-Key": "secret"}

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    int
	}{
		{"missing key", "/jobs/" + failed.String() + "/requeue", nil, http.StatusUnauthorized},
		{"wrong key", "/jobs/" + failed.String() + "/requeue", map[string]string{"Authorization": "Bearer nope"}, http.StatusForbidden},
		{"bad id", "/jobs/not-a-uuid/requeue", auth, http.StatusBadRequest},
		{"unknown job", "/jobs/" + uuid.NewString() + "/requeue", auth, http.StatusNotFound},
		{"running job", "/jobs/" + running.String() + "/requeue", auth, http.StatusConflict},
		{"failed job", "/jobs/" + failed.String() + "/requeue", auth, http.StatusAccepted},
		{"already requeued", "/jobs/" + failed.String() + "/requeue", auth, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, tt.path, tt.headers)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	if store.jobs[failed].Status != models.JobStatusQueued {
		t.Errorf("job status = %s", store.jobs[failed].Status)
	}
	if q.wakes != 1 {
		t.Errorf("wakes = %d, want 1", q.wakes)
	}
}

func TestGetJob(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{jobs: map[uuid.UUID]*models.Job{id: {ID: id, Status: models.JobStatusDone}}}
	router := newTestRouter(store, &fakeQueue{}, fakeCurrent{}, "")

	rec := do(t, router, http.MethodGet, "/jobs/"+id.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var job models.Job
	if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job.ID != id || job.Status != models.JobStatusDone {
		t.Errorf("job = %+v", job)
	}

	if rec := do(t, router, http.MethodGet, "/jobs/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d", rec.Code)
	}
}

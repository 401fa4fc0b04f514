// Package api serves worker health, render status and the operator requeue action.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bobarin/composer/internal/db"
	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/worker"
)

type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.JobStatus) (bool, error)
	CountJobsByStatus(ctx context.Context) ([]models.StatusCount, error)
}

type Queue interface {
	Wake(ctx context.Context) error
	GetProgress(ctx context.Context, jobID uuid.UUID) (int, bool, error)
}

type CurrentJob interface {
	Current() (worker.Snapshot, bool)
}

type Handler struct {
	store   JobStore
	queue   Queue
	current CurrentJob
	logger  *slog.Logger
}

func NewHandler(store JobStore, q Queue, current CurrentJob, logger *slog.Logger) *Handler {
	return &Handler{store: store, queue: q, current: current, logger: logger}
}

type currentJobResponse struct {
	worker.Snapshot
	Progress int `json:"progress"`
}

type statusResponse struct {
	Busy    bool                 `json:"busy"`
	Current *currentJobResponse  `json:"current,omitempty"`
	Jobs    []models.StatusCount `json:"jobs"`
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status handles GET /status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.store.CountJobsByStatus(ctx)
	if err != nil {
		h.logger.Error("failed to count jobs", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to load job counts")
		return
	}

	resp := statusResponse{Jobs: counts}
	if snap, ok := h.current.Current(); ok {
		resp.Busy = true
		resp.Current = &currentJobResponse{Snapshot: snap, Progress: h.progress(ctx, snap.JobID)}
	}

	respondJSON(w, http.StatusOK, resp)
}

// progress prefers the cache and falls back to the job row.
func (h *Handler) progress(ctx context.Context, id uuid.UUID) int {
	if p, ok, err := h.queue.GetProgress(ctx, id); err == nil && ok {
		return p
	}
	job, err := h.store.GetJob(ctx, id)
	if err != nil {
		return 0
	}
	return job.Progress
}

// GetJob handles GET /jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get job", "job_id", id.String(), "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// RequeueJob handles POST /jobs/{id}/requeue. Only failed jobs can be retried.
func (h *Handler) RequeueJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	ok, err := h.store.TransitionStatus(ctx, id, models.JobStatusError, models.JobStatusQueued)
	if err != nil {
		h.logger.Error("failed to requeue job", "job_id", id.String(), "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to requeue job")
		return
	}

	if !ok {
		job, err := h.store.GetJob(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Job not found")
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to get job")
			return
		}
		respondError(w, http.StatusConflict, fmt.Sprintf("Job is %s; only failed jobs can be requeued", job.Status))
		return
	}

	if err := h.queue.Wake(ctx); err != nil {
		h.logger.Warn("failed to wake workers", "error", err)
	}

	h.logger.Info("job requeued", "job_id", id.String())
	respondJSON(w, http.StatusAccepted, map[string]string{"id": id.String(), "status": string(models.JobStatusQueued)})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

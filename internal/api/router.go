package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the status API router.
type RouterConfig struct {
	// BackendAPIKey guards the admin routes. Empty skips auth (development mode).
	BackendAPIKey string

	// AllowedOrigins for CORS. Empty allows all (development mode).
	AllowedOrigins []string

	Logger *slog.Logger
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	allowedOrigins := []string{"*"}
	if len(cfg.AllowedOrigins) > 0 {
		allowedOrigins = cfg.AllowedOrigins
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public
	r.Get("/health", h.Health)
	r.Get("/status", h.Status)

	r.Group(func(r chi.Router) {
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		r.Get("/jobs/{id}", h.GetJob)
		r.Post("/jobs/{id}/requeue", h.RequeueJob)
	})

	return r
}

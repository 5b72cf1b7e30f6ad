package api

import (
	"encoding/json"
	"net/http"

	"github.com/forgeline/forgeline/internal/api/handlers"
	"github.com/forgeline/forgeline/internal/api/middleware"
	"github.com/forgeline/forgeline/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TenantExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler(h))
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tools", func(r chi.Router) {
			r.Get("/", h.ListTools)
			r.Route("/{toolName}", func(r chi.Router) {
				r.Get("/", h.GetTool)
				r.Post("/execute", h.ExecuteTool)
			})
		})

		r.Route("/chains", func(r chi.Router) {
			r.Get("/", h.ListChains)
			r.Post("/", h.CreateChain)
			r.Route("/{chainID}", func(r chi.Router) {
				r.Get("/", h.GetChain)
				r.Post("/status", h.TransitionChain)
				r.Post("/steps", h.AddStep)
				r.Get("/stream", h.StreamChain)
			})
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/{taskID}/usage", h.GetTaskUsage)
		})
	})

	return r
}

func healthHandler(h *handlers.Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if err := h.Store.Ping(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": "forgeline",
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "forgeline",
		})
	}
}

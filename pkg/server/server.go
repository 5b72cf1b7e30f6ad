// Package server provides the public entry point for initializing the
// Forgeline execution core as a standalone service.
//
// This package exists in pkg/ (not internal/) so that embedding platforms
// can compose the assembled server with their own middleware, or reach the
// wired components (registry, executor, index) directly.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/forgeline/forgeline/internal/api"
	"github.com/forgeline/forgeline/internal/api/handlers"
	"github.com/forgeline/forgeline/internal/chain"
	"github.com/forgeline/forgeline/internal/config"
	"github.com/forgeline/forgeline/internal/cost"
	"github.com/forgeline/forgeline/internal/executor"
	"github.com/forgeline/forgeline/internal/ratelimit"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/telemetry"
	"github.com/forgeline/forgeline/internal/tool"
	"github.com/forgeline/forgeline/internal/tools"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized Forgeline core.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the persistence layer (in-memory unless DATABASE_URL is set).
	Store store.Store

	// Registry is the tool registry, pre-loaded with the builtins.
	// Embedders register their own tools here before serving.
	Registry *tool.Registry

	// Executor runs tools under retry, rate-limit and cost policy.
	Executor *executor.Executor

	// Index tracks live reasoning chains.
	Index *chain.Index

	// Limiter is the per-tenant admission controller.
	Limiter *ratelimit.Limiter

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the core with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := tool.NewRegistry()
	index := chain.NewIndex()
	hub := chain.NewHub()

	if err := tools.RegisterBuiltins(registry, index, nil); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}
	log.Info().Int("tools", len(registry.List())).Msg("✅ Tool registry initialized")

	limiter := ratelimit.New(ratelimit.Config{
		InferenceCallsPerMinute: cfg.Limits.InferenceCallsPerMinute,
		ExternalCallsPerMinute:  cfg.Limits.ExternalCallsPerMinute,
		StorageCallsPerMinute:   cfg.Limits.StorageCallsPerMinute,
		TokensPerMinute:         cfg.Limits.TokensPerMinute,
		TokensPerHour:           cfg.Limits.TokensPerHour,
		CostPerHour:             cfg.Limits.CostPerHour,
		CostPerDay:              cfg.Limits.CostPerDay,
	})
	tracker := cost.NewTracker(dataStore)

	exec := executor.New(registry,
		executor.WithRateLimiter(limiter),
		executor.WithCostTracker(tracker),
		executor.WithStore(dataStore),
		executor.WithResultCache(cfg.Cache.MaxEntries),
	)
	log.Info().Msg("✅ Executor initialized")

	h := handlers.New(dataStore, registry, exec, tracker, index, hub)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Registry:     registry,
		Executor:     exec,
		Index:        index,
		Limiter:      limiter,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL == "" {
		log.Info().Msg("✅ In-memory store initialized")
		return store.NewMemoryStore(), nil
	}
	pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("init postgres store: %w", err)
	}
	return pg, nil
}

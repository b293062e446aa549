// Package server exposes research runs and report history over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/max-solo23/deeptrace/internal/cancellation"
	"github.com/max-solo23/deeptrace/internal/pipeline"
	"github.com/max-solo23/deeptrace/internal/store"
)

// Runner executes one research request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, ctl *cancellation.Controller) (*pipeline.Outcome, error)
}

// Config for the HTTP API handler.
type Config struct {
	Store          store.Store
	Runner         Runner
	Registry       *cancellation.Registry
	AllowedOrigins []string
	// BaseContext parents background runs so they outlive their request.
	BaseContext context.Context
	// NewID generates run ids. Defaults to uuid.NewString.
	NewID func() string
}

// Version is reported in the OpenAPI document.
const Version = "0.1.0"

// New returns an HTTP handler exposing the DeepTrace API under /api.
func New(cfg Config) http.Handler {
	if cfg.Registry == nil {
		cfg.Registry = cancellation.NewRegistry()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	hcfg := huma.DefaultConfig("DeepTrace API", Version)
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, "/api")

	h := &handlers{cfg: cfg}
	registerHealth(group, cfg.Store)
	registerModes(group)
	registerResearch(group, h)
	registerRuns(group, cfg.Registry)
	registerReports(group, cfg.Store)

	return router
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Package controller wires the HTTP API of the fedplane controller.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"fedplane/internal/controller/handlers"
	"fedplane/internal/controller/middleware"
)

// Config holds the server settings.
type Config struct {
	Addr        string
	AdminSecret string
	// RateLimit is the per-site request rate in requests per second; zero
	// disables limiting.
	RateLimit float64
	RateBurst int
}

// Dependencies are the collaborators the routes call into.
type Dependencies struct {
	Service handlers.Service
	Auth    middleware.Authenticator
	DB      handlers.Pinger
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
	Log     *slog.Logger
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(cfg Config, deps Dependencies) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewHandler(cfg, deps),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
	}
}

// NewHandler builds the routed handler chain.
func NewHandler(cfg Config, deps Dependencies) http.Handler {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	h := handlers.New(deps.Service, deps.DB, log)

	authMW := middleware.SiteAuthMiddleware(deps.Auth)
	rateMW := middleware.NewRateLimiter(middleware.WithLimit(cfg.RateLimit, cfg.RateBurst)).Middleware()
	site := func(fn http.HandlerFunc) http.Handler {
		return authMW(rateMW(fn))
	}

	mux := http.NewServeMux()

	// Operator endpoint, guarded by the admin secret.
	mux.Handle("POST /sites", middleware.RequireAdminSecret(cfg.AdminSecret)(http.HandlerFunc(h.RegisterSite)))

	// Site-authenticated endpoints.
	mux.Handle("GET /sites/{uid}", site(h.GetSite))
	mux.Handle("PUT /sites/{uid}/heartbeat", site(h.Heartbeat))

	mux.Handle("POST /projects", site(h.JoinProject))
	mux.Handle("GET /projects/{id}/participants", site(h.ListParticipants))
	mux.Handle("POST /projects/{id}/batches", site(h.StartBatch))
	mux.Handle("PUT /projects/{id}/batches/{batch}/status", site(h.TransitionBatch))
	mux.Handle("GET /projects/{id}/runs", site(h.ListRuns))

	mux.Handle("GET /runs/{id}", site(h.GetRun))
	mux.Handle("PUT /runs/{id}/status", site(h.UpdateRunStatus))
	mux.Handle("POST /runs/{id}/files", site(h.UploadFile))

	mux.Handle("GET /files", site(h.ListFiles))
	mux.Handle("GET /files/bundle", site(h.BundleFiles))

	// Probes
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	return middleware.RequestID(middleware.AccessLog(log)(mux))
}

// Handler exposes the server's handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

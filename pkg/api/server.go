package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/casetrust/anchor/pkg/anchor"
	"github.com/casetrust/anchor/pkg/evidence"
	"github.com/casetrust/anchor/pkg/verify"
)

// Config tunes the HTTP server.
type Config struct {
	Addr string

	// MaxUploadBytes caps the evidence upload size. Default 10 MiB.
	MaxUploadBytes int64

	// RateLimitRPS and RateLimitBurst configure the per-IP limiter.
	// Defaults: 20 rps, burst 40.
	RateLimitRPS   int
	RateLimitBurst int

	Logger *slog.Logger
}

// Server exposes the evidence intake, verification and retry endpoints.
type Server struct {
	evidence *evidence.Service
	verifier *verify.Service
	anchorer *anchor.Coordinator
	logger   *slog.Logger

	maxUploadBytes int64
	limiter        *RateLimiter
	httpServer     *http.Server
}

// NewServer wires the HTTP surface over the domain services.
func NewServer(ev *evidence.Service, vr *verify.Service, co *anchor.Coordinator, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 2 * cfg.RateLimitRPS
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		evidence:       ev,
		verifier:       vr,
		anchorer:       co,
		logger:         cfg.Logger,
		maxUploadBytes: cfg.MaxUploadBytes,
		limiter:        NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler builds the routing tree with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/cases/", s.handleCasesRouter)
	mux.HandleFunc("/v1/evidence/", s.handleEvidenceRouter)

	var h http.Handler = mux
	h = s.limiter.Middleware(h)
	h = RequestIDMiddleware(h)
	return h
}

// ListenAndServe runs the server until the listener fails or Shutdown is
// called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

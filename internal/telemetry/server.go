// Package telemetry exposes the harness's read-only view over the backlog,
// sessions, progress log, alerts, and live scheduler status: a small HTTP
// surface (§6) plus a websocket push channel fed by the event bus. It never
// mutates state itself except through the alert store's read/dismiss
// operations.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/adaharness/ada/internal/alerts"
	"github.com/adaharness/ada/internal/backlog"
	"github.com/adaharness/ada/internal/checkpoint"
	"github.com/adaharness/ada/internal/progress"
	"github.com/adaharness/ada/internal/sessionlog"
	"github.com/adaharness/ada/internal/verify"
)

// Config holds telemetry server configuration.
type Config struct {
	Port         int
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration // websocket heartbeat, default 30s
	IdleDeadline time.Duration // drop a silent client after this long, default 90s
}

// DefaultConfig returns spec-compliant defaults.
func DefaultConfig() Config {
	return Config{
		Port:         4317,
		EnableCORS:   true,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // no write timeout: the push endpoint streams indefinitely
		PingInterval: 30 * time.Second,
		IdleDeadline: 90 * time.Second,
	}
}

// Server is the telemetry HTTP + websocket server.
type Server struct {
	cfg    Config
	router *chi.Mux
	http   *http.Server
	log    zerolog.Logger

	workDir    string
	backlog    *backlog.Store
	checkpoint *checkpoint.Store
	progress   *progress.Log
	sessions   *sessionlog.Logger
	alerts     *alerts.Store
	approve    verify.Approver

	status *statusCache
}

// New constructs a Server backed by the given project stores. It takes no
// approver, and the telemetry API has no route that answers a
// manual-approval gate.
func New(cfg Config, workDir string, b *backlog.Store, cp *checkpoint.Store, p *progress.Log, sl *sessionlog.Logger, al *alerts.Store, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		workDir:    workDir,
		backlog:    b,
		checkpoint: cp,
		progress:   p,
		sessions:   sl,
		alerts:     al,
		log:        log,
		status:     newStatusCache(),
	}
	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Subscribe wires the server's live status cache to the event bus. Call
// once at startup; returns an unsubscribe func.
func (s *Server) Subscribe() func() {
	return s.status.subscribe()
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.cfg.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}
}

// Start serves HTTP until the process is shut down. Blocks.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Router exposes the chi router for testing.
func (s *Server) Router() *chi.Mux { return s.router }

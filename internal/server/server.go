package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/batchpoll/internal/admin"
	"github.com/me/batchpoll/internal/config"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// TickCounter reports scheduler progress for the health endpoint.
type TickCounter interface {
	TickCount() uint64
}

// Server is the batchpoll admin REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	admin     *admin.Service
	ticks     TickCounter         // optional; nil when the scheduler is not running
	gatherer  prometheus.Gatherer // optional; /metrics is not mounted when nil
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithTickCounter exposes scheduler tick counts on /api/v1/health.
func WithTickCounter(tc TickCounter) Option {
	return func(s *Server) {
		s.ticks = tc
	}
}

// WithGatherer mounts /metrics for the given Prometheus gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, svc *admin.Service, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		admin:     svc,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(adminTokenMiddleware(s.config.AdminToken, s.logger))

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.handleListJobs)
				r.Post("/", s.handleCreateJob)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetJob)
					r.Patch("/", s.handleUpdateJob)
					r.Delete("/", s.handleDeleteJob)
					r.Post("/pause", s.handlePauseJob)
					r.Post("/resume", s.handleResumeJob)
					r.Get("/logs", s.handleJobLogs)
				})
			})

			r.Route("/secrets", func(r chi.Router) {
				r.Get("/", s.handleListSecrets)
				r.Post("/", s.handleCreateSecret)
				r.Delete("/{id}", s.handleDeleteSecret)
			})
		})
	})
}

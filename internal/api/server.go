package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/quotausage/internal/api/handler"
	mw "github.com/edvin/quotausage/internal/api/middleware"
	"github.com/edvin/quotausage/internal/config"
	"github.com/edvin/quotausage/internal/core"
)

// Check reports whether a dependency is ready.
type Check func(ctx context.Context) error

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	sync     handler.SyncRunner
	checks   map[string]Check
	cfg      *config.Config
}

func NewServer(logger zerolog.Logger, services *core.Services, sync handler.SyncRunner, checks map[string]Check, cfg *config.Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		sync:     sync,
		checks:   checks,
		cfg:      cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Quotas
		quota := handler.NewQuota(s.services.Quota, s.cfg.MaxUploadBytes)
		r.Get("/quotas", quota.List)
		r.Put("/quotas", quota.Upsert)
		r.Post("/quotas/import", quota.Import)
		r.Get("/quotas/export", quota.Export)
		r.Delete("/quotas/{cloudID}/{project}", quota.Delete)
		r.Get("/projects/{project}/quotas", quota.ListByProject)

		// Daily report uploads
		upload := handler.NewUpload(s.services.Ingest, s.cfg.MaxUploadBytes)
		r.Get("/uploads", upload.List)
		r.Post("/uploads", upload.Create)
		r.Post("/uploads/{name}/reprocess", upload.Reprocess)

		// Reports
		report := handler.NewReport(s.services.Report, s.services.Aggregator)
		r.Get("/reports", report.Query)
		r.Get("/reports/dates", report.Dates)
		r.Post("/reports/{date}/recompute", report.Recompute)
		r.Get("/projects/{project}/reports/{date}", report.Get)

		// Example files for uploads and quota imports
		template := handler.NewTemplate(s.services.Quota)
		r.Get("/templates/report", template.Report)
		r.Get("/templates/quota", template.Quota)

		// Export
		export := handler.NewExport(s.services.Export)
		r.Get("/export", export.Download)

		// Sync runs
		if s.sync != nil {
			sync := handler.NewSync(s.sync)
			r.Post("/sync", sync.Trigger)
			r.Get("/sync/status", sync.Status)
		}
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Package api exposes the HTTP surface: batch ingest, the evaluation
// query endpoints, recommended-action review, health, and Prometheus
// metrics.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/database"
	"github.com/agentlens/agentlens/pkg/ingest"
	"github.com/agentlens/agentlens/pkg/store"
	"github.com/agentlens/agentlens/pkg/worker"
)

// Server wires the HTTP routes to the ingest service and the store.
type Server struct {
	cfg    *config.Config
	db     *database.Client
	store  *store.Store
	ingest *ingest.Service
	pool   *worker.Pool

	echo    *echo.Echo
	httpSrv *http.Server
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(cfg *config.Config, db *database.Client, st *store.Store, ing *ingest.Service) *Server {
	s := &Server{
		cfg:    cfg,
		db:     db,
		store:  st,
		ingest: ing,
		echo:   echo.New(),
	}
	s.registerRoutes()
	return s
}

// SetWorkerPool attaches the materialization pool so /healthz can
// report on it. Optional; job-mode processes run without a pool.
func (s *Server) SetWorkerPool(p *worker.Pool) {
	s.pool = p
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(securityHeaders())

	// Unauthenticated: orchestrators and scrapers need these without keys.
	e.GET("/healthz", s.healthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/api/v1", apiKeyAuth(s.cfg.Server.APIKeys))
	v1.POST("/events", s.ingestHandler)
	// Unversioned alias kept for orchestrators deployed before /api/v1.
	e.POST("/events", s.ingestHandler, apiKeyAuth(s.cfg.Server.APIKeys))

	v1.GET("/metrics/agents", s.agentRollupsHandler)
	v1.GET("/metrics/workflows", s.workflowRollupsHandler)

	v1.GET("/anomalies", s.listAnomaliesHandler)
	v1.GET("/shifts", s.listShiftsHandler)

	v1.GET("/actions/recommended", s.listActionsHandler)
	v1.POST("/actions/recommended/:id/status", s.updateActionStatusHandler)

	v1.GET("/backtests", s.listBacktestsHandler)
	v1.GET("/signals/:id", s.getSignalHandler)

	v1.GET("/deadletters", s.listDeadLettersHandler)
}

// Start begins serving on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler { return s.echo }

package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/database"
	"github.com/agentlens/agentlens/pkg/version"
	"github.com/agentlens/agentlens/pkg/worker"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Database   *database.HealthStatus `json:"database"`
	WorkerPool *worker.PoolHealth     `json:"worker_pool,omitempty"`
}

// healthHandler handles GET /healthz.
// Minimal and unauthenticated: only the database gates the status, so
// an orchestrator never restarts the process for an external dependency.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	httpStatus := http.StatusOK

	dbHealth, err := database.Health(reqCtx, s.db.Pool())
	if err != nil {
		status = healthStatusUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	resp := &HealthResponse{
		Status:   status,
		Version:  version.Full(),
		Database: dbHealth,
	}
	if s.pool != nil {
		h := s.pool.Health()
		resp.WorkerPool = &h
	}
	return c.JSON(httpStatus, resp)
}

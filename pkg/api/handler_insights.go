package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

// agentRollupsHandler handles GET /api/v1/metrics/agents.
// Returns the hourly rollup series for one (workflow, agent, version)
// group over the requested range.
func (s *Server) agentRollupsHandler(c *echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	g := store.EvaluationGroup{
		TenantID:     tenant,
		WorkflowID:   c.QueryParam("workflow_id"),
		AgentID:      c.QueryParam("agent_id"),
		AgentVersion: c.QueryParam("agent_version"),
	}
	if g.WorkflowID == "" || g.AgentID == "" || g.AgentVersion == "" {
		return echo.NewHTTPError(http.StatusBadRequest,
			"workflow_id, agent_id, and agent_version are required")
	}
	from, to, err := parseTimeRange(c)
	if err != nil {
		return err
	}

	rollups, err := s.store.ListRollups(c.Request().Context(), g, from, to)
	if err != nil {
		return mapStoreError(err)
	}
	return okRows(c, tenant, rollups)
}

// workflowRollupsHandler handles GET /api/v1/metrics/workflows.
// Aggregates hourly rollups across a workflow's agents.
func (s *Server) workflowRollupsHandler(c *echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	workflowID := c.QueryParam("workflow_id")
	if workflowID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow_id is required")
	}
	from, to, err := parseTimeRange(c)
	if err != nil {
		return err
	}

	rollups, err := s.store.ListWorkflowRollups(c.Request().Context(), tenant, workflowID, from, to)
	if err != nil {
		return mapStoreError(err)
	}
	return okRows(c, tenant, rollups)
}

// listAnomaliesHandler handles GET /api/v1/anomalies.
func (s *Server) listAnomaliesHandler(c *echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	from, _, err := parseTimeRange(c)
	if err != nil {
		return err
	}
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}

	anomalies, err := s.store.ListAnomalies(c.Request().Context(), tenant, from, limit)
	if err != nil {
		return mapStoreError(err)
	}
	return okRows(c, tenant, anomalies)
}

// listShiftsHandler handles GET /api/v1/shifts. The significant query
// parameter narrows the list to statistically significant shifts.
func (s *Server) listShiftsHandler(c *echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	from, _, err := parseTimeRange(c)
	if err != nil {
		return err
	}
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	significantOnly := false
	switch c.QueryParam("significant") {
	case "", "false":
	case "true":
		significantOnly = true
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid significant: must be true or false")
	}

	shifts, err := s.store.ListPerformanceShifts(c.Request().Context(), tenant, significantOnly, from, limit)
	if err != nil {
		return mapStoreError(err)
	}
	return okRows(c, tenant, shifts)
}

// listActionsHandler handles GET /api/v1/actions/recommended.
func (s *Server) listActionsHandler(c *echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	var status models.ActionStatus
	switch v := c.QueryParam("status"); v {
	case "":
	case string(models.ActionStatusOpen), string(models.ActionStatusAccepted), string(models.ActionStatusDismissed):
		status = models.ActionStatus(v)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status: must be open, accepted, or dismissed")
	}

	actions, err := s.store.ListActions(c.Request().Context(), tenant, status, limit)
	if err != nil {
		return mapStoreError(err)
	}
	return okRows(c, tenant, actions)
}

// UpdateActionStatusRequest is the body for action review decisions.
type UpdateActionStatusRequest struct {
	Status string `json:"status"`
}

// updateActionStatusHandler handles POST /api/v1/actions/recommended/:id/status.
func (s *Server) updateActionStatusHandler(c *echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	actionID := c.Param("id")
	if actionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "action id is required")
	}

	var req UpdateActionStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	switch req.Status {
	case string(models.ActionStatusAccepted), string(models.ActionStatusDismissed):
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status: must be accepted or dismissed")
	}

	if err := s.store.UpdateActionStatus(c.Request().Context(), tenant, actionID, models.ActionStatus(req.Status)); err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"action_id": actionID,
		"status":    req.Status,
	})
}

// listDeadLettersHandler handles GET /api/v1/deadletters.
func (s *Server) listDeadLettersHandler(c *echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}

	letters, err := s.store.ListDeadLetters(c.Request().Context(), tenant, limit)
	if err != nil {
		return mapStoreError(err)
	}
	return okRows(c, tenant, letters)
}

package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/models"
)

// listBacktestsHandler handles GET /api/v1/backtests.
func (s *Server) listBacktestsHandler(c *echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}

	runs, err := s.store.ListBacktestRuns(c.Request().Context(), tenant, limit)
	if err != nil {
		return mapStoreError(err)
	}
	return okRows(c, tenant, runs)
}

// SignalDetail pairs a signal with its realized outcome, when a
// backtest has produced one for the requested horizon.
type SignalDetail struct {
	Signal  *models.Signal        `json:"signal"`
	Outcome *models.SignalOutcome `json:"outcome,omitempty"`
}

// getSignalHandler handles GET /api/v1/signals/:id. The optional
// horizon query parameter selects which realized outcome to attach;
// it defaults to the signal's own horizon.
func (s *Server) getSignalHandler(c *echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	signalID := c.Param("id")
	if signalID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "signal id is required")
	}

	sig, err := s.store.GetSignal(c.Request().Context(), tenant, signalID)
	if err != nil {
		return mapStoreError(err)
	}

	horizon := c.QueryParam("horizon")
	if horizon == "" {
		horizon = sig.Horizon
	}
	outcomes, err := s.store.SignalOutcomesFor(c.Request().Context(), tenant, horizon, []string{signalID})
	if err != nil {
		return mapStoreError(err)
	}

	detail := &SignalDetail{Signal: sig}
	if o, ok := outcomes[signalID]; ok {
		detail.Outcome = &o
	}
	return okRows(c, tenant, detail)
}

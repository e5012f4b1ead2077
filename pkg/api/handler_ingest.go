package api

import (
	"errors"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlens/agentlens/pkg/schema"
)

// IngestErrorResponse is the 4xx body for rejected batches.
type IngestErrorResponse struct {
	OK     bool                `json:"ok"`
	Errors []schema.FieldError `json:"errors"`
}

// ingestHandler handles POST /api/v1/events.
// The tenant comes from the X-Tenant-Id header; an optional
// Idempotency-Key header routes the request through the ledger.
func (s *Server) ingestHandler(c *echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	limited := http.MaxBytesReader(c.Response(), c.Request().Body, s.cfg.Ingest.MaxBodyBytes)
	body, err := io.ReadAll(limited)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "reading request body: "+err.Error())
	}

	result, err := s.ingest.HandleBatch(c.Request().Context(), tenant,
		c.Request().Header.Get("Idempotency-Key"), body)
	if err != nil {
		return mapStoreError(err)
	}

	if result.Response != nil {
		return c.JSON(result.Status, result.Response)
	}
	return c.JSON(result.Status, &IngestErrorResponse{Errors: result.Errors})
}

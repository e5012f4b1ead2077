package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ListResponse is the common envelope of every query endpoint.
type ListResponse struct {
	OK       bool   `json:"ok"`
	TenantID string `json:"tenant_id"`
	Rows     any    `json:"rows"`
}

func okRows(c *echo.Context, tenant string, rows any) error {
	return c.JSON(http.StatusOK, &ListResponse{OK: true, TenantID: tenant, Rows: rows})
}

// parseTimeRange reads the optional from/to query parameters. Defaults
// to the last 24 hours.
func parseTimeRange(c *echo.Context) (from, to time.Time, err error) {
	to = time.Now().UTC()
	from = to.Add(-24 * time.Hour)

	if v := c.QueryParam("from"); v != "" {
		t, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			return from, to, echo.NewHTTPError(http.StatusBadRequest, "invalid from: must be RFC3339")
		}
		from = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			return from, to, echo.NewHTTPError(http.StatusBadRequest, "invalid to: must be RFC3339")
		}
		to = t
	}
	if !to.After(from) {
		return from, to, echo.NewHTTPError(http.StatusBadRequest, "to must be after from")
	}
	return from, to, nil
}

// parseLimit reads the optional limit query parameter.
func parseLimit(c *echo.Context) (int, error) {
	v := c.QueryParam("limit")
	if v == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, echo.NewHTTPError(http.StatusBadRequest,
			"invalid limit: must be between 1 and "+strconv.Itoa(maxListLimit))
	}
	return n, nil
}

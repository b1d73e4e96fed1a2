package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/expense-tracker/internal/middleware"
)

// DefaultTimeout bounds storage calls made by a single request.
const DefaultTimeout = 5 * time.Second

func withTimeout(c echo.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(c.Request().Context(), d)
}

// unauthorized answers a protected handler reached without a verified user
// id exactly like BearerAuth does.
func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": middleware.ErrSessionMessage})
}

func parseID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func internalError(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

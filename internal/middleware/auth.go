// Package middleware holds the echo middleware that sits in front of the
// handlers: bearer token authentication, redis rate limiting and the
// per-user response cache.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/expense-tracker/internal/logging"
	"github.com/iliyamo/expense-tracker/internal/metrics"
	"github.com/iliyamo/expense-tracker/internal/session"
)

// ErrSessionMessage is the only body a rejected request ever sees.
const ErrSessionMessage = "invalid or expired session"

type TokenValidator interface {
	Validate(raw string, now time.Time) (uint64, error)
}

// BearerAuth validates the Authorization: Bearer token and stores the user id
// in the context. Every failure gets the same 401 body; the reason only goes
// to the log and to the auth_failures_total counter. m may be nil.
func BearerAuth(tokens TokenValidator, log logging.Logger, m *metrics.Metrics, now func() time.Time) echo.MiddlewareFunc {
	if now == nil {
		now = time.Now
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			var (
				id  uint64
				err error
			)
			if ok {
				id, err = tokens.Validate(raw, now())
			}
			if !ok || err != nil {
				reason := string(session.ReasonMalformed)
				if err != nil {
					if r := session.ReasonOf(err); r != "" {
						reason = string(r)
					}
				}
				if m != nil {
					m.AuthFailures.WithLabelValues(reason).Inc()
				}
				log.Warn(c.Request().Context(), "session rejected",
					"reason", reason,
					"path", c.Path(),
					"request_id", c.Response().Header().Get(echo.HeaderXRequestID))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": ErrSessionMessage})
			}

			SetUserID(c, id)
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

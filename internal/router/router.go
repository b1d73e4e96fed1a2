// Package router wires handlers and middleware onto an echo instance.
package router

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/expense-tracker/internal/config"
	"github.com/iliyamo/expense-tracker/internal/handler"
	"github.com/iliyamo/expense-tracker/internal/logging"
	"github.com/iliyamo/expense-tracker/internal/metrics"
	"github.com/iliyamo/expense-tracker/internal/middleware"
)

// Deps is everything the routes need. Redis and DB may be nil.
type Deps struct {
	Auth     *handler.AuthHandler
	Expenses *handler.ExpenseHandler
	Limits   *handler.LimitHandler

	Tokens  middleware.TokenValidator
	DB      handler.Pinger
	Redis   *redis.Client
	Log     logging.Logger
	Metrics *metrics.Metrics

	RateLimit     config.RateLimitConfig
	AuthRateLimit config.RateLimitConfig
	Cache         config.CacheConfig
	CORSOrigins   []string
}

// New builds the echo instance with the global middleware and every route.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(d.Log, d.Metrics))
	if len(d.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: d.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
		}))
	}

	RegisterRoutes(e, d)
	RegisterAuth(e, d)
	RegisterExpenses(e, d)
	return e
}

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}
}

// RegisterAuth registers /v1/auth (open, IP rate limited) and /v1/me.
func RegisterAuth(e *echo.Echo, d Deps) {
	g := e.Group("/v1/auth", middleware.NewTokenBucket(d.AuthRateLimit, d.Redis, d.Log))
	g.POST("/register", d.Auth.Register)
	g.POST("/login", d.Auth.Login)

	e.GET("/v1/me", d.Auth.Me, protected(d)...)
}

// RegisterExpenses registers the owner-scoped expense and limit routes.
// Reads are cached per user; writes invalidate that user's cache.
func RegisterExpenses(e *echo.Echo, d Deps) {
	g := e.Group("/v1", protected(d)...)
	cache := middleware.NewUserCache(d.Cache, d.Redis, d.Log)
	invalidate := middleware.InvalidateUserCache(d.Cache, d.Redis, d.Log)

	g.GET("/expenses", d.Expenses.ListExpenses, cache)
	g.POST("/expenses", d.Expenses.CreateExpense, invalidate)
	g.GET("/expenses/summary", d.Expenses.Summary, cache)
	g.GET("/expenses/:id", d.Expenses.GetExpense, cache)
	g.PUT("/expenses/:id", d.Expenses.UpdateExpense, invalidate)
	g.DELETE("/expenses/:id", d.Expenses.DeleteExpense, invalidate)

	g.GET("/users/limit", d.Limits.GetWeeklyLimit)
	g.PUT("/users/limit", d.Limits.SetWeeklyLimit)
}

// protected runs BearerAuth first so the rate limiter can key on the user.
func protected(d Deps) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		middleware.BearerAuth(d.Tokens, d.Log, d.Metrics, nil),
		middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log),
	}
}

func requestLogger(log logging.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			if m != nil {
				m.Requests.WithLabelValues(v.Method, v.RoutePath, strconv.Itoa(v.Status)).Inc()
			}
			args := []any{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
				"remote_ip", v.RemoteIP,
			}
			ctx := context.WithoutCancel(c.Request().Context())
			if v.Error != nil {
				log.Error(ctx, "request", append(args, "err", v.Error)...)
				return nil
			}
			log.Info(ctx, "request", args...)
			return nil
		},
	})
}

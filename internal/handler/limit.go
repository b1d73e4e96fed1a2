package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/expense-tracker/internal/logging"
	"github.com/iliyamo/expense-tracker/internal/middleware"
	"github.com/iliyamo/expense-tracker/internal/model"
	"github.com/iliyamo/expense-tracker/internal/repository"
)

type LimitStore interface {
	GetWeeklyLimit(ctx context.Context, userID uint64) (model.Cents, error)
	SetWeeklyLimit(ctx context.Context, userID uint64, limit model.Cents) error
}

// LimitHandler serves the caller's weekly spending limit.
type LimitHandler struct {
	store   LimitStore
	log     logging.Logger
	timeout time.Duration
}

func NewLimitHandler(store LimitStore, log logging.Logger, timeout time.Duration) *LimitHandler {
	return &LimitHandler{store: store, log: log, timeout: timeout}
}

type limitBody struct {
	WeeklyLimit *model.Cents `json:"weekly_limit"`
}

// GetWeeklyLimit: GET /v1/users/limit
func (h *LimitHandler) GetWeeklyLimit(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	limit, err := h.store.GetWeeklyLimit(ctx, uid)
	if err != nil {
		return h.storeError(ctx, c, uid, err)
	}
	return c.JSON(http.StatusOK, limitBody{WeeklyLimit: &limit})
}

// SetWeeklyLimit: PUT /v1/users/limit {"weekly_limit": 150.00}. Zero turns
// alerts off.
func (h *LimitHandler) SetWeeklyLimit(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	var req limitBody
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.WeeklyLimit == nil || *req.WeeklyLimit < 0 || *req.WeeklyLimit > model.MaxCents {
		return badRequest(c, "weekly_limit must be zero or a positive number")
	}

	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	if err := h.store.SetWeeklyLimit(ctx, uid, *req.WeeklyLimit); err != nil {
		return h.storeError(ctx, c, uid, err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *LimitHandler) storeError(ctx context.Context, c echo.Context, uid uint64, err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	h.log.Error(ctx, "weekly limit failed", "user_id", uid, "err", err)
	return internalError(c)
}

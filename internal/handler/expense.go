package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/expense-tracker/internal/logging"
	"github.com/iliyamo/expense-tracker/internal/middleware"
	"github.com/iliyamo/expense-tracker/internal/model"
	"github.com/iliyamo/expense-tracker/internal/queue"
	"github.com/iliyamo/expense-tracker/internal/repository"
)

const (
	maxTitleLength    = 200
	maxCategoryLength = 64
)

// ExpenseStore is the owner-scoped expense storage. Every method takes the
// verified user id.
type ExpenseStore interface {
	Create(ctx context.Context, e *model.Expense) error
	ListByOwner(ctx context.Context, userID uint64, f model.ExpenseFilter) ([]model.Expense, error)
	GetByIDAndOwner(ctx context.Context, id, userID uint64) (model.Expense, error)
	UpdateByIDAndOwner(ctx context.Context, e *model.Expense) (int64, error)
	DeleteByIDAndOwner(ctx context.Context, id, userID uint64) (int64, error)
	SummaryByOwner(ctx context.Context, userID uint64, f model.ExpenseFilter) (model.Summary, error)
}

type SpendingChecker interface {
	Check(ctx context.Context, userID uint64, spentAt time.Time) (queue.AlertLevel, error)
}

// ExpenseHandler serves /v1/expenses. The user id always comes from the
// verified session, never from the request.
type ExpenseHandler struct {
	store    ExpenseStore
	spending SpendingChecker
	log      logging.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewExpenseHandler builds the handler; spending may be nil to disable
// weekly limit checks.
func NewExpenseHandler(store ExpenseStore, spending SpendingChecker, log logging.Logger, timeout time.Duration) *ExpenseHandler {
	return &ExpenseHandler{store: store, spending: spending, log: log, timeout: timeout, now: time.Now}
}

type expenseReq struct {
	Title    string       `json:"title"`
	Amount   *model.Cents `json:"amount"`
	Category string       `json:"category"`
	SpentAt  string       `json:"spent_at"` // RFC 3339 or YYYY-MM-DD, optional
}

// toExpense validates req. A missing spent_at stays zero.
func (req expenseReq) toExpense() (model.Expense, string) {
	e := model.Expense{
		Title:    strings.TrimSpace(req.Title),
		Category: strings.ToLower(strings.TrimSpace(req.Category)),
	}
	switch {
	case e.Title == "" || utf8.RuneCountInString(e.Title) > maxTitleLength:
		return e, "title is required and must be at most 200 characters"
	case req.Amount == nil || *req.Amount <= 0 || *req.Amount > model.MaxCents:
		return e, "amount must be a positive number with at most two decimals"
	case e.Category == "" || utf8.RuneCountInString(e.Category) > maxCategoryLength:
		return e, "category is required and must be at most 64 characters"
	}
	e.Amount = *req.Amount

	if s := strings.TrimSpace(req.SpentAt); s != "" {
		t, err := parseTimestamp(s)
		if err != nil {
			return e, "spent_at must be RFC 3339 or YYYY-MM-DD"
		}
		e.SpentAt = t
	}
	return e, ""
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Truncate(time.Second), nil
	}
	return time.Parse(time.DateOnly, s)
}

// CreateExpense: POST /v1/expenses
func (h *ExpenseHandler) CreateExpense(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	var req expenseReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	e, msg := req.toExpense()
	if msg != "" {
		return badRequest(c, msg)
	}
	e.UserID = uid
	if e.SpentAt.IsZero() {
		e.SpentAt = h.now().UTC().Truncate(time.Second)
	}

	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	if err := h.store.Create(ctx, &e); err != nil {
		h.log.Error(ctx, "create expense failed", "user_id", uid, "err", err)
		return internalError(c)
	}
	h.checkSpending(ctx, uid, e.SpentAt)
	return c.JSON(http.StatusCreated, e)
}

// ListExpenses: GET /v1/expenses?from&to&category&limit&offset
func (h *ExpenseHandler) ListExpenses(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	f, msg := parseFilter(c)
	if msg != "" {
		return badRequest(c, msg)
	}

	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	items, err := h.store.ListByOwner(ctx, uid, f)
	if err != nil {
		h.log.Error(ctx, "list expenses failed", "user_id", uid, "err", err)
		return internalError(c)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}

// GetExpense: GET /v1/expenses/:id
func (h *ExpenseHandler) GetExpense(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid expense id")
	}

	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	e, err := h.store.GetByIDAndOwner(ctx, id, uid)
	if err != nil {
		if errors.Is(err, repository.ErrExpenseNotFound) {
			return notFound(c)
		}
		h.log.Error(ctx, "get expense failed", "user_id", uid, "expense_id", id, "err", err)
		return internalError(c)
	}
	return c.JSON(http.StatusOK, e)
}

// UpdateExpense: PUT /v1/expenses/:id
func (h *ExpenseHandler) UpdateExpense(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid expense id")
	}
	var req expenseReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	e, msg := req.toExpense()
	if msg != "" {
		return badRequest(c, msg)
	}
	e.ID, e.UserID = id, uid

	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	n, err := h.store.UpdateByIDAndOwner(ctx, &e)
	if err != nil {
		h.log.Error(ctx, "update expense failed", "user_id", uid, "expense_id", id, "err", err)
		return internalError(c)
	}
	if n == 0 {
		return notFound(c)
	}
	h.checkSpending(ctx, uid, e.SpentAt)
	return c.JSON(http.StatusOK, e)
}

// DeleteExpense: DELETE /v1/expenses/:id
func (h *ExpenseHandler) DeleteExpense(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid expense id")
	}

	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	n, err := h.store.DeleteByIDAndOwner(ctx, id, uid)
	if err != nil {
		h.log.Error(ctx, "delete expense failed", "user_id", uid, "expense_id", id, "err", err)
		return internalError(c)
	}
	if n == 0 {
		return notFound(c)
	}
	return c.NoContent(http.StatusNoContent)
}

// Summary: GET /v1/expenses/summary?from&to
func (h *ExpenseHandler) Summary(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	f, msg := parseFilter(c)
	if msg != "" {
		return badRequest(c, msg)
	}

	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	s, err := h.store.SummaryByOwner(ctx, uid, f)
	if err != nil {
		h.log.Error(ctx, "summary failed", "user_id", uid, "err", err)
		return internalError(c)
	}
	return c.JSON(http.StatusOK, s)
}

// checkSpending never fails the request; alert problems are only logged.
func (h *ExpenseHandler) checkSpending(ctx context.Context, uid uint64, spentAt time.Time) {
	if h.spending == nil {
		return
	}
	if _, err := h.spending.Check(ctx, uid, spentAt); err != nil {
		h.log.Warn(ctx, "spending check failed", "user_id", uid, "err", err)
	}
}

// parseFilter reads from and to as inclusive calendar days.
func parseFilter(c echo.Context) (model.ExpenseFilter, string) {
	var f model.ExpenseFilter
	if s := c.QueryParam("from"); s != "" {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return f, "from must be YYYY-MM-DD"
		}
		f.From = t
	}
	if s := c.QueryParam("to"); s != "" {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return f, "to must be YYYY-MM-DD"
		}
		f.To = t.AddDate(0, 0, 1)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, "from must not be after to"
	}
	f.Category = strings.ToLower(strings.TrimSpace(c.QueryParam("category")))

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		if s := c.QueryParam(p.name); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				return f, p.name + " must be a non-negative integer"
			}
			*p.dst = n
		}
	}
	return f, ""
}

func notFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, echo.Map{"error": "expense not found"})
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/expense-tracker/internal/middleware"
	"github.com/iliyamo/expense-tracker/internal/model"
	"github.com/iliyamo/expense-tracker/internal/queue"
	"github.com/iliyamo/expense-tracker/internal/repository"
)

var fixedNow = time.Date(2025, 3, 12, 9, 30, 0, 0, time.UTC)

// memExpenses keeps expenses in memory and scopes every lookup by owner the
// same way the SQL statements do.
type memExpenses struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]model.Expense
	err    error
}

func newMemExpenses() *memExpenses {
	return &memExpenses{rows: map[uint64]model.Expense{}}
}

func (m *memExpenses) Create(_ context.Context, e *model.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.nextID++
	e.ID = m.nextID
	e.CreatedAt, e.UpdatedAt = fixedNow, fixedNow
	m.rows[e.ID] = *e
	return nil
}

func (m *memExpenses) ListByOwner(_ context.Context, userID uint64, f model.ExpenseFilter) ([]model.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []model.Expense{}
	for _, e := range m.rows {
		if e.UserID == userID && matches(e, f) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memExpenses) GetByIDAndOwner(_ context.Context, id, userID uint64) (model.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[id]
	if !ok || e.UserID != userID {
		return model.Expense{}, repository.ErrExpenseNotFound
	}
	return e, nil
}

func (m *memExpenses) UpdateByIDAndOwner(_ context.Context, e *model.Expense) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	cur, ok := m.rows[e.ID]
	if !ok || cur.UserID != e.UserID {
		return 0, nil
	}
	cur.Title, cur.Amount, cur.Category = e.Title, e.Amount, e.Category
	if !e.SpentAt.IsZero() {
		cur.SpentAt = e.SpentAt
	}
	m.rows[e.ID] = cur
	*e = cur
	return 1, nil
}

func (m *memExpenses) DeleteByIDAndOwner(_ context.Context, id, userID uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[id]
	if !ok || e.UserID != userID {
		return 0, nil
	}
	delete(m.rows, id)
	return 1, nil
}

func (m *memExpenses) SummaryByOwner(ctx context.Context, userID uint64, f model.ExpenseFilter) (model.Summary, error) {
	items, err := m.ListByOwner(ctx, userID, f)
	if err != nil {
		return model.Summary{}, err
	}
	byCat := map[string]*model.CategoryTotal{}
	s := model.Summary{Categories: []model.CategoryTotal{}}
	for _, e := range items {
		ct, ok := byCat[e.Category]
		if !ok {
			ct = &model.CategoryTotal{Category: e.Category}
			byCat[e.Category] = ct
		}
		ct.Total += e.Amount
		ct.Count++
		s.Total += e.Amount
		s.Count++
	}
	for _, ct := range byCat {
		s.Categories = append(s.Categories, *ct)
	}
	sort.Slice(s.Categories, func(i, j int) bool { return s.Categories[i].Category < s.Categories[j].Category })
	return s, nil
}

func matches(e model.Expense, f model.ExpenseFilter) bool {
	if !f.From.IsZero() && e.SpentAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.SpentAt.Before(f.To) {
		return false
	}
	return f.Category == "" || e.Category == f.Category
}

type spendingCall struct {
	userID  uint64
	spentAt time.Time
}

type fakeSpending struct {
	calls []spendingCall
	err   error
}

func (f *fakeSpending) Check(_ context.Context, userID uint64, spentAt time.Time) (queue.AlertLevel, error) {
	f.calls = append(f.calls, spendingCall{userID, spentAt})
	return "", f.err
}

var errStorage = errors.New("connection reset")

// serve runs h with uid as the verified caller; uid 0 means no session.
func serve(t *testing.T, h echo.HandlerFunc, method, target, body string, uid uint64, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	if uid != 0 {
		middleware.SetUserID(c, uid)
	}
	require.NoError(t, h(c))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	msg, _ := decode(t, rec)["error"].(string)
	return msg
}

func assertStatus(t *testing.T, want int, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Equalf(t, want, rec.Code, "body: %s", rec.Body.String())
}

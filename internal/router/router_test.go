package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/expense-tracker/internal/config"
	"github.com/iliyamo/expense-tracker/internal/credential"
	"github.com/iliyamo/expense-tracker/internal/handler"
	"github.com/iliyamo/expense-tracker/internal/logging"
	"github.com/iliyamo/expense-tracker/internal/metrics"
	"github.com/iliyamo/expense-tracker/internal/middleware"
	"github.com/iliyamo/expense-tracker/internal/queue"
	"github.com/iliyamo/expense-tracker/internal/repository/memory"
	"github.com/iliyamo/expense-tracker/internal/service"
	"github.com/iliyamo/expense-tracker/internal/session"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.SpendingAlertEvent
}

func (p *recordingPublisher) PublishSpendingAlert(_ context.Context, ev queue.SpendingAlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type app struct {
	e       *echo.Echo
	store   *memory.Store
	tokens  *session.Authority
	alerts  *recordingPublisher
	metrics *metrics.Metrics
}

func newApp(t *testing.T, opts ...func(*Deps)) *app {
	t.Helper()
	log := logging.Nop()
	m := metrics.New()

	hasher, err := credential.NewManager(credential.Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	tokens, err := session.NewAuthority([]byte("router-test-secret-0123456789abcdef"), time.Hour, "expense-tracker")
	require.NoError(t, err)

	store := memory.New()
	users, expenses := store.Users(), store.Expenses()
	alerts := &recordingPublisher{}

	auth := service.NewAuthService(users, hasher, tokens, log, m)
	spending := service.NewSpendingMonitor(expenses, users, alerts, log, m)

	d := Deps{
		Auth:     handler.NewAuthHandler(auth, users, log, time.Second),
		Expenses: handler.NewExpenseHandler(expenses, spending, log, time.Second),
		Limits:   handler.NewLimitHandler(users, log, time.Second),
		Tokens:   tokens,
		DB:       store,
		Log:      log,
		Metrics:  m,
	}
	for _, opt := range opts {
		opt(&d)
	}
	e := New(d)
	return &app{e: e, store: store, tokens: tokens, alerts: alerts, metrics: m}
}

func (a *app) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (a *app) registerAndLogin(t *testing.T, email, password string) string {
	t.Helper()
	creds := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	code, body := a.do(t, http.MethodPost, "/v1/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, code, body)

	code, body = a.do(t, http.MethodPost, "/v1/auth/login", "", creds)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "bearer", body["token_type"])
	return body["access_token"].(string)
}

func TestOwnerIsolation(t *testing.T) {
	a := newApp(t)
	t1 := a.registerAndLogin(t, "u1@example.com", "first-password")
	t2 := a.registerAndLogin(t, "u2@example.com", "second-password")

	code, body := a.do(t, http.MethodPost, "/v1/expenses", t1, `{"title":"groceries","amount":42.10,"category":"food"}`)
	require.Equal(t, http.StatusCreated, code, body)
	id := fmt.Sprintf("%.0f", body["id"].(float64))
	path := "/v1/expenses/" + id

	code, _ = a.do(t, http.MethodGet, path, t2, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(t, http.MethodPut, path, t2, `{"title":"mine now","amount":1,"category":"food"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = a.do(t, http.MethodDelete, path, t2, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = a.do(t, http.MethodGet, "/v1/expenses", t2, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["count"])

	code, body = a.do(t, http.MethodGet, path, t1, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "groceries", body["title"])
	assert.Equal(t, 42.1, body["amount"])

	code, _ = a.do(t, http.MethodDelete, path, t1, "")
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = a.do(t, http.MethodGet, path, t1, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRegister_DuplicateAndWrongPassword(t *testing.T) {
	a := newApp(t)
	a.registerAndLogin(t, "dup@example.com", "pw-one")

	code, body := a.do(t, http.MethodPost, "/v1/auth/register", "", `{"email":"DUP@example.com","password":"pw-two"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "email already exists", body["error"])

	code, body = a.do(t, http.MethodPost, "/v1/auth/login", "", `{"email":"dup@example.com","password":"pw-two"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid credentials", body["error"])

	code, wrongUser := a.do(t, http.MethodPost, "/v1/auth/login", "", `{"email":"ghost@example.com","password":"pw-one"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, body, wrongUser)
}

func TestProtectedRoutes_RejectBadSessions(t *testing.T) {
	a := newApp(t)
	valid := a.registerAndLogin(t, "s@example.com", "pw")

	other, err := session.NewAuthority([]byte("some-other-secret-0123456789abcdef"), time.Hour, "expense-tracker")
	require.NoError(t, err)
	forged, err := other.Issue(1, time.Now())
	require.NoError(t, err)
	expired, err := a.tokens.Issue(1, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	tampered := valid[:len(valid)-1] + "A"
	if strings.HasSuffix(valid, "A") {
		tampered = valid[:len(valid)-1] + "B"
	}

	for name, tok := range map[string]string{
		"missing":  "",
		"garbage":  "not.a.token",
		"forged":   forged.Value,
		"expired":  expired.Value,
		"tampered": tampered,
	} {
		for _, route := range []struct{ method, path string }{
			{http.MethodGet, "/v1/me"},
			{http.MethodGet, "/v1/expenses"},
			{http.MethodPost, "/v1/expenses"},
			{http.MethodGet, "/v1/users/limit"},
		} {
			code, body := a.do(t, route.method, route.path, tok, "")
			assert.Equal(t, http.StatusUnauthorized, code, "%s %s %s", name, route.method, route.path)
			assert.Equal(t, middleware.ErrSessionMessage, body["error"], name)
		}
	}

	code, body := a.do(t, http.MethodGet, "/v1/me", valid, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "s@example.com", body["user"].(map[string]any)["email"])
}

func TestWeeklyLimitAlert(t *testing.T) {
	a := newApp(t)
	tok := a.registerAndLogin(t, "budget@example.com", "pw")

	code, _ := a.do(t, http.MethodPut, "/v1/users/limit", tok, `{"weekly_limit":10}`)
	require.Equal(t, http.StatusOK, code)

	code, body := a.do(t, http.MethodGet, "/v1/users/limit", tok, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(10), body["weekly_limit"])

	code, _ = a.do(t, http.MethodPost, "/v1/expenses", tok, `{"title":"a","amount":5,"category":"misc"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Empty(t, a.alerts.events)

	code, _ = a.do(t, http.MethodPost, "/v1/expenses", tok, `{"title":"b","amount":4,"category":"misc"}`)
	require.Equal(t, http.StatusCreated, code)
	require.Len(t, a.alerts.events, 1)
	assert.Equal(t, queue.AlertNearing, a.alerts.events[0].Level)

	code, _ = a.do(t, http.MethodPost, "/v1/expenses", tok, `{"title":"c","amount":2,"category":"misc"}`)
	require.Equal(t, http.StatusCreated, code)
	require.Len(t, a.alerts.events, 2)
	assert.Equal(t, queue.AlertExceeded, a.alerts.events[1].Level)
}

func TestSummaryRoute(t *testing.T) {
	a := newApp(t)
	tok := a.registerAndLogin(t, "sum@example.com", "pw")
	for _, body := range []string{
		`{"title":"a","amount":1.50,"category":"food","spent_at":"2025-01-02"}`,
		`{"title":"b","amount":2.25,"category":"food","spent_at":"2025-01-03"}`,
		`{"title":"c","amount":10,"category":"rent","spent_at":"2025-01-03"}`,
	} {
		code, _ := a.do(t, http.MethodPost, "/v1/expenses", tok, body)
		require.Equal(t, http.StatusCreated, code)
	}

	code, body := a.do(t, http.MethodGet, "/v1/expenses/summary?from=2025-01-01&to=2025-01-31", tok, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 13.75, body["total"])
	assert.Equal(t, float64(3), body["count"])
	assert.Len(t, body["categories"], 2)
}

func TestOperationalRoutes(t *testing.T) {
	a := newApp(t)

	code, body := a.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	a.do(t, http.MethodGet, "/v1/me", "", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `reason="malformed"`)
	assert.Contains(t, rec.Body.String(), `route="/healthz"`)
}

func TestRequestID(t *testing.T) {
	a := newApp(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

// withRedis turns on the response cache and rate limiting against an
// in-process redis.
func withRedis(t *testing.T) func(*Deps) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return func(d *Deps) {
		d.Redis = rdb
		d.Cache = config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 1 << 20}
		d.RateLimit = config.RateLimitConfig{Enabled: true, Capacity: 1000, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl"}
	}
}

func TestOwnerIsolation_WithCache(t *testing.T) {
	a := newApp(t, withRedis(t))
	t1 := a.registerAndLogin(t, "c1@example.com", "first-password")
	t2 := a.registerAndLogin(t, "c2@example.com", "second-password")

	code, body := a.do(t, http.MethodPost, "/v1/expenses", t1, `{"title":"mine","amount":3,"category":"misc"}`)
	require.Equal(t, http.StatusCreated, code)
	mine := fmt.Sprintf("/v1/expenses/%.0f", body["id"].(float64))

	code, body = a.do(t, http.MethodPost, "/v1/expenses", t2, `{"title":"theirs","amount":4,"category":"misc"}`)
	require.Equal(t, http.StatusCreated, code)
	theirs := fmt.Sprintf("/v1/expenses/%.0f", body["id"].(float64))

	for range 2 {
		code, body = a.do(t, http.MethodGet, mine, t1, "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "mine", body["title"])
	}

	code, body = a.do(t, http.MethodGet, theirs, t1, "")
	assert.Equal(t, http.StatusNotFound, code, body)

	code, body = a.do(t, http.MethodGet, theirs, t2, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "theirs", body["title"])

	code, _ = a.do(t, http.MethodPut, mine, t1, `{"title":"renamed","amount":3,"category":"misc"}`)
	require.Equal(t, http.StatusOK, code)
	code, body = a.do(t, http.MethodGet, mine, t1, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "renamed", body["title"])
}

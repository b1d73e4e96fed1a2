package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/expense-tracker/internal/logging"
	"github.com/iliyamo/expense-tracker/internal/metrics"
	"github.com/iliyamo/expense-tracker/internal/session"
)

var authNow = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

func newAuthority(t *testing.T) *session.Authority {
	t.Helper()
	a, err := session.NewAuthority([]byte("0123456789abcdef0123456789abcdef"), time.Hour, "test")
	require.NoError(t, err)
	return a
}

func serveProtected(t *testing.T, a *session.Authority, m *metrics.Metrics, header string, at time.Time) (*httptest.ResponseRecorder, uint64, bool) {
	t.Helper()
	e := echo.New()
	var (
		seen   uint64
		called bool
	)
	h := BearerAuth(a, logging.Nop(), m, func() time.Time { return at })(func(c echo.Context) error {
		called = true
		seen, _ = UserID(c)
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	return rec, seen, called
}

func TestBearerAuth_Valid(t *testing.T) {
	a := newAuthority(t)
	tok, err := a.Issue(17, authNow)
	require.NoError(t, err)

	for _, header := range []string{"Bearer " + tok.Value, "bearer  " + tok.Value} {
		rec, id, called := serveProtected(t, a, nil, header, authNow)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.True(t, called)
		assert.Equal(t, uint64(17), id)
	}
}

func TestBearerAuth_RejectsUniformly(t *testing.T) {
	a := newAuthority(t)
	tok, err := a.Issue(17, authNow)
	require.NoError(t, err)
	m := metrics.New()

	cases := []struct {
		name   string
		header string
		at     time.Time
	}{
		{"missing", "", authNow},
		{"wrong scheme", "Basic " + tok.Value, authNow},
		{"empty token", "Bearer ", authNow},
		{"garbage", "Bearer not-a-token", authNow},
		{"tampered", "Bearer " + tamper(tok.Value), authNow},
		{"expired", "Bearer " + tok.Value, authNow.Add(2 * time.Hour)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _, called := serveProtected(t, a, m, tc.header, tc.at)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, called)
			assert.JSONEq(t, `{"error":"invalid or expired session"}`, rec.Body.String())
		})
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `auth_failures_total{reason="expired"} 1`)
	assert.True(t, strings.Contains(body, `auth_failures_total{reason="malformed"}`))
}

func tamper(raw string) string {
	b := []byte(raw)
	if b[len(b)-1] == 'A' {
		b[len(b)-1] = 'B'
	} else {
		b[len(b)-1] = 'A'
	}
	return string(b)
}

func TestUserID_Absent(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_, ok := UserID(c)
	assert.False(t, ok)
	assert.Equal(t, "anon", userKey(c))

	SetUserID(c, 5)
	id, ok := UserID(c)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), id)
	assert.Equal(t, "5", userKey(c))
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		token string
		ok    bool
	}{
		"Bearer abc":  {"abc", true},
		"BEARER abc ": {"abc", true},
		"Bearer":      {"", false},
		"Bearer    ":  {"", false},
		"Token abc":   {"", false},
		"":            {"", false},
		"Bearerabc":   {"", false},
	}
	for header, want := range cases {
		got, ok := bearerToken(header)
		assert.Equal(t, want.ok, ok, header)
		assert.Equal(t, want.token, got, header)
	}
}

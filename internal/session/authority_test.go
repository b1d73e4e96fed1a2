package session

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "expense-tracker-test"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestAuthority(t *testing.T, ttl time.Duration) *Authority {
	t.Helper()
	a, err := NewAuthority(testSecret, ttl, testIssuer)
	require.NoError(t, err)
	return a
}

func requireReason(t *testing.T, err error, want Reason) {
	t.Helper()
	require.Error(t, err)
	var af *AuthFailure
	require.True(t, errors.As(err, &af), "expected *AuthFailure, got %T", err)
	assert.Equal(t, want, af.Reason)
}

func TestIssueValidateRoundTrip(t *testing.T) {
	a := newTestAuthority(t, time.Hour)
	now := time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

	for _, id := range []uint64{1, 42, 1 << 40, ^uint64(0)} {
		tok, err := a.Issue(id, now)
		require.NoError(t, err)
		assert.NotEmpty(t, tok.Value)
		assert.Equal(t, now.Truncate(time.Second), tok.IssuedAt.UTC())
		assert.Equal(t, now.Truncate(time.Second).Add(time.Hour), tok.ExpiresAt.UTC())

		got, err := a.Validate(tok.Value, now)
		require.NoError(t, err)
		assert.Equal(t, id, got)

		got, err = a.Validate(tok.Value, now.Add(59*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestIssueRejectsZeroIdentity(t *testing.T) {
	a := newTestAuthority(t, time.Hour)
	_, err := a.Issue(0, time.Now())
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestValidateExpired(t *testing.T) {
	ttl := 15 * time.Minute
	a := newTestAuthority(t, ttl)
	now := time.Date(2025, 1, 1, 12, 0, 0, 750_000_000, time.UTC)

	tok, err := a.Issue(7, now)
	require.NoError(t, err)

	_, err = a.Validate(tok.Value, now.Add(ttl).Add(time.Nanosecond))
	requireReason(t, err, ReasonExpired)

	_, err = a.Validate(tok.Value, now.Add(24*time.Hour))
	requireReason(t, err, ReasonExpired)

	id, err := a.Validate(tok.Value, tok.ExpiresAt.Add(-time.Nanosecond))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)

	_, err = a.Validate(tok.Value, tok.ExpiresAt)
	requireReason(t, err, ReasonExpired)
}

func TestValidateRejectsEverySingleByteMutation(t *testing.T) {
	a := newTestAuthority(t, time.Hour)
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	tok, err := a.Issue(12345, now)
	require.NoError(t, err)

	raw := []byte(tok.Value)
	for i := range raw {
		mutated := append([]byte(nil), raw...)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		_, err := a.Validate(string(mutated), now)
		assert.Error(t, err, "mutation at byte %d accepted", i)
		assert.NotEmpty(t, ReasonOf(err), "mutation at byte %d", i)
	}
}

func TestTokensIssuedOneSecondApartAreBothValid(t *testing.T) {
	a := newTestAuthority(t, time.Hour)
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	first, err := a.Issue(9, t0)
	require.NoError(t, err)
	second, err := a.Issue(9, t0.Add(time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, first.Value, second.Value)

	check := t0.Add(2 * time.Second)
	for _, tok := range []Token{first, second} {
		id, err := a.Validate(tok.Value, check)
		require.NoError(t, err)
		assert.Equal(t, uint64(9), id)
	}
}

func TestValidateWrongSecret(t *testing.T) {
	now := time.Now()
	a := newTestAuthority(t, time.Hour)
	other, err := NewAuthority([]byte("ffffffffffffffffffffffffffffffff"), time.Hour, testIssuer)
	require.NoError(t, err)

	tok, err := other.Issue(5, now)
	require.NoError(t, err)

	_, err = a.Validate(tok.Value, now)
	requireReason(t, err, ReasonBadSignature)
}

func TestValidateGarbage(t *testing.T) {
	a := newTestAuthority(t, time.Hour)
	for _, raw := range []string{"", "abc", "a.b", "a.b.c", "....", "eyJhbGciOiJIUzI1NiJ9..sig"} {
		_, err := a.Validate(raw, time.Now())
		requireReason(t, err, ReasonMalformed)
	}
}

func TestValidateRejectsAlgNone(t *testing.T) {
	a := newTestAuthority(t, time.Hour)
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "1",
		Issuer:    testIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = a.Validate(raw, now)
	requireReason(t, err, ReasonBadSignature)
}

func TestValidateRejectsForeignIssuerAndSubject(t *testing.T) {
	a := newTestAuthority(t, time.Hour)
	now := time.Now()

	sign := func(c jwt.RegisteredClaims) string {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(testSecret)
		require.NoError(t, err)
		return raw
	}
	base := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "3",
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}
	}

	c := base()
	c.Issuer = "someone-else"
	_, err := a.Validate(sign(c), now)
	requireReason(t, err, ReasonMalformed)

	for _, sub := range []string{"", "0", "-1", "abc", "1.5", strconv.Quote("7")} {
		c = base()
		c.Subject = sub
		_, err = a.Validate(sign(c), now)
		requireReason(t, err, ReasonMalformed)
	}

	c = base()
	c.ExpiresAt = nil
	_, err = a.Validate(sign(c), now)
	requireReason(t, err, ReasonMalformed)
}

func TestAuthFailureMessageOmitsToken(t *testing.T) {
	a := newTestAuthority(t, time.Minute)
	now := time.Now()
	tok, err := a.Issue(1, now)
	require.NoError(t, err)

	_, err = a.Validate(tok.Value, now.Add(time.Hour))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), tok.Value)
}

func TestNewAuthorityConfig(t *testing.T) {
	cases := []struct {
		name   string
		secret []byte
		ttl    time.Duration
	}{
		{"nil secret", nil, time.Hour},
		{"short secret", []byte("short"), time.Hour},
		{"zero ttl", testSecret, 0},
		{"negative ttl", testSecret, -time.Minute},
		{"sub-second ttl", testSecret, time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAuthority(tc.secret, tc.ttl, testIssuer)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestNewAuthorityCopiesSecret(t *testing.T) {
	secret := append([]byte(nil), testSecret...)
	a, err := NewAuthority(secret, time.Hour, testIssuer)
	require.NoError(t, err)

	now := time.Now()
	tok, err := a.Issue(11, now)
	require.NoError(t, err)

	for i := range secret {
		secret[i] = 'x'
	}

	id, err := a.Validate(tok.Value, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), id)
}

func TestAuthorityConcurrentUse(t *testing.T) {
	a := newTestAuthority(t, time.Hour)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 1; i <= 16; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			tok, err := a.Issue(id, now)
			if !assert.NoError(t, err) {
				return
			}
			got, err := a.Validate(tok.Value, now)
			assert.NoError(t, err)
			assert.Equal(t, id, got)
		}(uint64(i))
	}
	wg.Wait()
}

// Package session issues and validates the signed bearer tokens that carry a
// user's identity between requests.
//
// Tokens are HS256 JWTs holding sub (the user id), iat, exp and iss. They are
// self-contained: nothing is stored server side, a token is never revoked and
// a new token never invalidates an older one. The clock is always passed in
// so expiry can be tested deterministically.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HMAC secret NewAuthority accepts.
const MinSecretLength = 32

// Authority signs and checks tokens with one process-wide secret. It is
// immutable after construction and safe for concurrent use.
type Authority struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// Token is an issued bearer token together with its validity window.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewAuthority copies secret so later changes to the caller's slice have no
// effect.
func NewAuthority(secret []byte, ttl time.Duration, issuer string) (*Authority, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrConfig, MinSecretLength)
	}
	if ttl < time.Second {
		return nil, fmt.Errorf("%w: ttl must be at least one second", ErrConfig)
	}
	return &Authority{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		issuer: issuer,
	}, nil
}

// TTL returns the lifetime given to every issued token.
func (a *Authority) TTL() time.Duration { return a.ttl }

// Issue signs a token for userID valid from now until now+TTL. Timestamps are
// truncated to whole seconds by the JWT encoding.
func (a *Authority) Issue(userID uint64, now time.Time) (Token, error) {
	if userID == 0 {
		return Token{}, ErrInvalidIdentity
	}

	iat := jwt.NewNumericDate(now)
	exp := jwt.NewNumericDate(now.Add(a.ttl))
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(userID, 10),
		Issuer:    a.issuer,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, IssuedAt: iat.Time, ExpiresAt: exp.Time}, nil
}

// Validate checks raw against the secret and the clock and returns the user
// id it carries. Every failure is an *AuthFailure.
func (a *Authority) Validate(raw string, now time.Time) (uint64, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(raw, &claims, a.key); err != nil {
		return 0, classify(err)
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || userID == 0 {
		return 0, &AuthFailure{Reason: ReasonMalformed, Err: errors.New("invalid subject")}
	}
	return userID, nil
}

func (a *Authority) key(*jwt.Token) (any, error) {
	return a.secret, nil
}

// classify maps jwt errors onto the three failure reasons. Anything that is
// neither a bad signature nor an expiry counts as malformed.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &AuthFailure{Reason: ReasonExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &AuthFailure{Reason: ReasonBadSignature, Err: err}
	default:
		return &AuthFailure{Reason: ReasonMalformed, Err: err}
	}
}

package session

import (
	"errors"
	"fmt"
)

// Reason classifies why a token was rejected. Callers treat every reason the
// same way; the distinction exists for logs, metrics and tests.
type Reason string

const (
	ReasonMalformed    Reason = "malformed"
	ReasonBadSignature Reason = "bad-signature"
	ReasonExpired      Reason = "expired"
)

// AuthFailure is returned by Validate for every rejected token. Its message
// never includes the token itself.
type AuthFailure struct {
	Reason Reason
	Err    error
}

func (e *AuthFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth failure: %s", e.Reason)
	}
	return fmt.Sprintf("auth failure: %s: %v", e.Reason, e.Err)
}

func (e *AuthFailure) Unwrap() error { return e.Err }

// ReasonOf returns the failure reason carried by err, or "" when err is not
// an *AuthFailure.
func ReasonOf(err error) Reason {
	var af *AuthFailure
	if errors.As(err, &af) {
		return af.Reason
	}
	return ""
}

var (
	// ErrConfig is returned by NewAuthority for an unusable secret or TTL.
	ErrConfig = errors.New("session: invalid config")

	// ErrInvalidIdentity is returned by Issue for the zero identity.
	ErrInvalidIdentity = errors.New("session: invalid identity")
)

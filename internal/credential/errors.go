package credential

import "errors"

var (
	// ErrCryptoFailure is returned by Hash when the entropy source fails.
	// It is environmental and not worth retrying.
	ErrCryptoFailure = errors.New("credential: crypto failure")

	// ErrInvalidParams is returned by NewManager for unusable cost settings.
	ErrInvalidParams = errors.New("credential: invalid params")

	errMalformedDigest = errors.New("credential: malformed digest")
)

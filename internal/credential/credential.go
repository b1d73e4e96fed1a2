// Package credential turns plaintext passwords into salted, deliberately
// expensive one-way digests and checks plaintexts against stored digests.
//
// New digests are Argon2id PHC strings. bcrypt digests written by earlier
// deployments still verify and are reported by NeedsRehash so the login flow
// can upgrade them.
//
// Empty passwords are hashed like any other string; length and strength
// policy belongs to the caller. A Manager holds only immutable settings and is
// safe for concurrent use.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Manager hashes and verifies passwords with a fixed set of Argon2id params.
type Manager struct {
	params  Params
	entropy io.Reader
	dummy   string
}

// NewManager validates p and returns a Manager. It computes one digest up
// front, used by DummyVerify.
func NewManager(p Params) (*Manager, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{params: p, entropy: rand.Reader}

	salt := make([]byte, p.SaltLength)
	m.dummy = encode(p, salt, m.derive("", salt, p))
	return m, nil
}

// Params returns the cost settings used for new digests.
func (m *Manager) Params() Params { return m.params }

// Hash derives a digest from plaintext using a fresh random salt, so equal
// plaintexts never share a digest. It fails only with ErrCryptoFailure.
func (m *Manager) Hash(plaintext string) (string, error) {
	salt := make([]byte, m.params.SaltLength)
	if _, err := io.ReadFull(m.entropy, salt); err != nil {
		return "", fmt.Errorf("%w: read salt: %v", ErrCryptoFailure, err)
	}
	return encode(m.params, salt, m.derive(plaintext, salt, m.params)), nil
}

// Verify reports whether plaintext matches digest. Malformed, unsupported or
// unreasonably expensive digests yield false; Verify never panics on input.
func (m *Manager) Verify(plaintext, digest string) bool {
	if isBcrypt(digest) {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
	}

	p, salt, want, err := decode(digest)
	if err != nil || !p.affordable(m.params) {
		return false
	}
	got := m.derive(plaintext, salt, p)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// NeedsRehash reports whether digest should be replaced with a fresh Hash
// after a successful Verify: bcrypt digests and Argon2id digests weaker than
// the current params.
func (m *Manager) NeedsRehash(digest string) bool {
	if isBcrypt(digest) {
		return true
	}
	p, _, _, err := decode(digest)
	if err != nil {
		return true
	}
	return p.weakerThan(m.params)
}

// DummyVerify spends the same work as a real Verify against a throwaway
// digest. Login calls it for unknown accounts.
func (m *Manager) DummyVerify(plaintext string) {
	_ = m.Verify(plaintext, m.dummy)
}

func (m *Manager) derive(plaintext string, salt []byte, p Params) []byte {
	return argon2.IDKey([]byte(plaintext), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
}

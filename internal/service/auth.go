// Package service holds the use cases that sit between HTTP handlers and the
// repositories: registration, login and weekly spending checks.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/iliyamo/expense-tracker/internal/logging"
	"github.com/iliyamo/expense-tracker/internal/metrics"
	"github.com/iliyamo/expense-tracker/internal/model"
	"github.com/iliyamo/expense-tracker/internal/repository"
	"github.com/iliyamo/expense-tracker/internal/session"
)

var (
	ErrDuplicateIdentity  = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrEmptyPassword      = errors.New("password is required")
)

const maxEmailLength = 255

type UserStore interface {
	Create(ctx context.Context, email, passwordHash string) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	UpdatePasswordHash(ctx context.Context, id uint64, passwordHash string) error
}

type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
	NeedsRehash(digest string) bool
	DummyVerify(plaintext string)
}

type TokenIssuer interface {
	Issue(userID uint64, now time.Time) (session.Token, error)
}

type AuthService struct {
	users   UserStore
	hasher  PasswordHasher
	tokens  TokenIssuer
	log     logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewAuthService(users UserStore, hasher PasswordHasher, tokens TokenIssuer, log logging.Logger, m *metrics.Metrics) *AuthService {
	return &AuthService{
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Register hashes password and stores a new user. A taken email yields
// ErrDuplicateIdentity; storage failures are returned as they are.
func (s *AuthService) Register(ctx context.Context, email, password string) (model.User, error) {
	email = repository.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		s.countRegistration("invalid")
		return model.User{}, err
	}
	if password == "" {
		s.countRegistration("invalid")
		return model.User{}, ErrEmptyPassword
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.countRegistration("error")
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.Create(ctx, email, hash)
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			s.countRegistration("duplicate")
			return model.User{}, ErrDuplicateIdentity
		}
		s.countRegistration("error")
		return model.User{}, err
	}
	s.countRegistration("success")
	s.log.Info(ctx, "user registered", "user_id", u.ID)
	return u, nil
}

// Login checks the password and issues a session token. Unknown emails and
// wrong passwords both return ErrInvalidCredentials after the same amount of
// hashing work. A legacy or weaker stored digest is upgraded on success.
func (s *AuthService) Login(ctx context.Context, email, password string) (session.Token, model.User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.hasher.DummyVerify(password)
			s.countLogin("failure")
			return session.Token{}, model.User{}, ErrInvalidCredentials
		}
		s.countLogin("error")
		return session.Token{}, model.User{}, err
	}

	if !s.hasher.Verify(password, u.PasswordHash) {
		s.countLogin("failure")
		return session.Token{}, model.User{}, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(u.PasswordHash) {
		s.rehash(ctx, u.ID, password)
	}

	tok, err := s.tokens.Issue(u.ID, s.now())
	if err != nil {
		s.countLogin("error")
		return session.Token{}, model.User{}, fmt.Errorf("issue token: %w", err)
	}
	s.countLogin("success")
	return tok, u, nil
}

// rehash failures are logged; the login itself already succeeded.
func (s *AuthService) rehash(ctx context.Context, userID uint64, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, userID, hash)
	}
	if err != nil {
		s.log.Warn(ctx, "password rehash failed", "user_id", userID, "err", err)
		return
	}
	if s.metrics != nil {
		s.metrics.Rehashes.Inc()
	}
	s.log.Info(ctx, "password digest upgraded", "user_id", userID)
}

func validateEmail(email string) error {
	if email == "" || len(email) > maxEmailLength {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

func (s *AuthService) countRegistration(outcome string) {
	if s.metrics != nil {
		s.metrics.Registrations.WithLabelValues(outcome).Inc()
	}
}

func (s *AuthService) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.Logins.WithLabelValues(outcome).Inc()
	}
}

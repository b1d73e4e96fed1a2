package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/expense-tracker/internal/logging"
	"github.com/iliyamo/expense-tracker/internal/middleware"
	"github.com/iliyamo/expense-tracker/internal/model"
	"github.com/iliyamo/expense-tracker/internal/repository"
	"github.com/iliyamo/expense-tracker/internal/service"
	"github.com/iliyamo/expense-tracker/internal/session"
)

type Authenticator interface {
	Register(ctx context.Context, email, password string) (model.User, error)
	Login(ctx context.Context, email, password string) (session.Token, model.User, error)
}

type UserReader interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// AuthHandler serves registration, login and the current user.
type AuthHandler struct {
	auth    Authenticator
	users   UserReader
	log     logging.Logger
	timeout time.Duration
}

func NewAuthHandler(auth Authenticator, users UserReader, log logging.Logger, timeout time.Duration) *AuthHandler {
	return &AuthHandler{auth: auth, users: users, log: log, timeout: timeout}
}

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResp struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Register: POST /v1/auth/register
func (h *AuthHandler) Register(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	u, err := h.auth.Register(ctx, req.Email, req.Password)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, echo.Map{"message": "user registered successfully", "user": u})
	case errors.Is(err, service.ErrDuplicateIdentity):
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
	case errors.Is(err, service.ErrInvalidEmail):
		return badRequest(c, "invalid email")
	case errors.Is(err, service.ErrEmptyPassword):
		return badRequest(c, "password is required")
	default:
		h.log.Error(ctx, "register failed", "err", err)
		return internalError(c)
	}
}

// Login: POST /v1/auth/login
func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	tok, _, err := h.auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		h.log.Error(ctx, "login failed", "err", err)
		return internalError(c)
	}
	return c.JSON(http.StatusOK, loginResp{
		AccessToken: tok.Value,
		TokenType:   "bearer",
		ExpiresAt:   tok.ExpiresAt.UTC(),
	})
}

// Me: GET /v1/me
func (h *AuthHandler) Me(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}

	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	u, err := h.users.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		h.log.Error(ctx, "load user failed", "user_id", uid, "err", err)
		return internalError(c)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": u})
}

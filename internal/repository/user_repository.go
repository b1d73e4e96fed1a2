package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/expense-tracker/internal/database"
	"github.com/iliyamo/expense-tracker/internal/model"
)

const userColumns = "id, email, password_hash, weekly_limit, created_at, updated_at"

type UserRepo struct{ db database.DBTX }

func NewUserRepo(db database.DBTX) *UserRepo { return &UserRepo{db: db} }

// NormalizeEmail is the canonical form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a user with an already hashed password and returns the
// stored row. A duplicate email yields ErrEmailExists; every other failure is
// returned wrapped.
func (r *UserRepo) Create(ctx context.Context, email, passwordHash string) (model.User, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO users (email, password_hash) VALUES (?, ?)",
		NormalizeEmail(email), passwordHash)
	if err != nil {
		if isDuplicate(err) {
			return model.User{}, ErrEmailExists
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return r.GetByID(ctx, uint64(id))
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ? LIMIT 1", NormalizeEmail(email)))
}

func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ? LIMIT 1", id))
}

// UpdatePasswordHash replaces the stored digest of user id.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id uint64, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ? WHERE id = ?", passwordHash, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepo) GetWeeklyLimit(ctx context.Context, id uint64) (model.Cents, error) {
	var limit model.Cents
	err := r.db.QueryRowContext(ctx,
		"SELECT weekly_limit FROM users WHERE id = ?", id).Scan(&limit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("get weekly limit: %w", err)
	}
	return limit, nil
}

// SetWeeklyLimit stores the limit for user id; zero disables alerts.
func (r *UserRepo) SetWeeklyLimit(ctx context.Context, id uint64, limit model.Cents) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET weekly_limit = ? WHERE id = ?", limit, id)
	if err != nil {
		return fmt.Errorf("set weekly limit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepo) scanOne(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.WeeklyLimit, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

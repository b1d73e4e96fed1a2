package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/expense-tracker/internal/database"
	"github.com/iliyamo/expense-tracker/internal/model"
)

const expenseColumns = "id, user_id, title, amount, category, spent_at, created_at, updated_at"

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// ExpenseRepo stores expenses. Every method takes the owning user id and
// puts it into the WHERE clause of the statement that reads or writes.
type ExpenseRepo struct{ db database.DB }

func NewExpenseRepo(db database.DB) *ExpenseRepo { return &ExpenseRepo{db: db} }

// Create inserts e for e.UserID and fills in the generated id and timestamps.
func (r *ExpenseRepo) Create(ctx context.Context, e *model.Expense) error {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO expenses (user_id, title, amount, category, spent_at) VALUES (?, ?, ?, ?, ?)",
		e.UserID, e.Title, e.Amount, e.Category, e.SpentAt.UTC())
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	got, err := getByIDAndOwner(ctx, r.db, uint64(id), e.UserID)
	if err != nil {
		return err
	}
	*e = got
	return nil
}

// GetByIDAndOwner returns ErrExpenseNotFound both when the row does not exist
// and when it belongs to another user.
func (r *ExpenseRepo) GetByIDAndOwner(ctx context.Context, id, userID uint64) (model.Expense, error) {
	return getByIDAndOwner(ctx, r.db, id, userID)
}

// ListByOwner returns the user's expenses matching f, newest first.
func (r *ExpenseRepo) ListByOwner(ctx context.Context, userID uint64, f model.ExpenseFilter) ([]model.Expense, error) {
	where, args := ownerFilter(userID, f)

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE "+where+" ORDER BY id DESC LIMIT ? OFFSET ?",
		args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	out := make([]model.Expense, 0)
	for rows.Next() {
		var e model.Expense
		if err := scanExpense(rows, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return out, nil
}

// UpdateByIDAndOwner overwrites the editable fields of expense e.ID when it
// belongs to e.UserID. A zero e.SpentAt keeps the stored date. It returns the
// number of matched rows; zero means the expense is missing or not the
// caller's and is not an error. On a match e is refreshed from the stored row
// within the same transaction.
func (r *ExpenseRepo) UpdateByIDAndOwner(ctx context.Context, e *model.Expense) (int64, error) {
	var spentAt any
	if !e.SpentAt.IsZero() {
		spentAt = e.SpentAt.UTC()
	}

	var n int64
	err := database.WithTx(ctx, r.db, nil, func(ctx context.Context, tx database.DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE expenses
			 SET title = ?, amount = ?, category = ?, spent_at = COALESCE(?, spent_at)
			 WHERE id = ? AND user_id = ?`,
			e.Title, e.Amount, e.Category, spentAt, e.ID, e.UserID)
		if err != nil {
			return fmt.Errorf("update expense: %w", err)
		}
		if n, err = res.RowsAffected(); err != nil || n == 0 {
			return err
		}
		got, err := getByIDAndOwner(ctx, tx, e.ID, e.UserID)
		if err != nil {
			return err
		}
		*e = got
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteByIDAndOwner removes expense id when it belongs to userID and returns
// the number of deleted rows.
func (r *ExpenseRepo) DeleteByIDAndOwner(ctx context.Context, id, userID uint64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM expenses WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return 0, fmt.Errorf("delete expense: %w", err)
	}
	return res.RowsAffected()
}

// SummaryByOwner totals the user's expenses matching f per category.
// f.Limit and f.Offset are ignored.
func (r *ExpenseRepo) SummaryByOwner(ctx context.Context, userID uint64, f model.ExpenseFilter) (model.Summary, error) {
	where, args := ownerFilter(userID, f)
	rows, err := r.db.QueryContext(ctx,
		"SELECT category, COALESCE(SUM(amount), 0), COUNT(*) FROM expenses WHERE "+where+
			" GROUP BY category ORDER BY category",
		args...)
	if err != nil {
		return model.Summary{}, fmt.Errorf("summarize expenses: %w", err)
	}
	defer rows.Close()

	s := model.Summary{Categories: make([]model.CategoryTotal, 0)}
	for rows.Next() {
		var ct model.CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Total, &ct.Count); err != nil {
			return model.Summary{}, fmt.Errorf("scan summary: %w", err)
		}
		s.Categories = append(s.Categories, ct)
		s.Total += ct.Total
		s.Count += ct.Count
	}
	if err := rows.Err(); err != nil {
		return model.Summary{}, fmt.Errorf("summarize expenses: %w", err)
	}
	return s, nil
}

// TotalByOwnerBetween sums the user's expenses with from <= spent_at < to.
func (r *ExpenseRepo) TotalByOwnerBetween(ctx context.Context, userID uint64, from, to time.Time) (model.Cents, error) {
	var total model.Cents
	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM expenses WHERE user_id = ? AND spent_at >= ? AND spent_at < ?",
		userID, from.UTC(), to.UTC()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total expenses: %w", err)
	}
	return total, nil
}

func getByIDAndOwner(ctx context.Context, db database.DBTX, id, userID uint64) (model.Expense, error) {
	var e model.Expense
	row := db.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE id = ? AND user_id = ?", id, userID)
	if err := scanExpense(row, &e); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Expense{}, ErrExpenseNotFound
		}
		return model.Expense{}, err
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(s scanner, e *model.Expense) error {
	err := s.Scan(&e.ID, &e.UserID, &e.Title, &e.Amount, &e.Category, &e.SpentAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("scan expense: %w", err)
	}
	return err
}

// ownerFilter always starts with the owner predicate.
func ownerFilter(userID uint64, f model.ExpenseFilter) (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{userID}
	if !f.From.IsZero() {
		clauses = append(clauses, "spent_at >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "spent_at < ?")
		args = append(args, f.To.UTC())
	}
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, f.Category)
	}
	return strings.Join(clauses, " AND "), args
}

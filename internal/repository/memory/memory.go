// Package memory is a process-local implementation of the user and expense
// repositories. It applies the same owner scoping as the MySQL repositories
// and backs STORAGE=memory runs and the HTTP tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/expense-tracker/internal/model"
	"github.com/iliyamo/expense-tracker/internal/repository"
)

// Store holds every table behind one lock.
type Store struct {
	mu          sync.RWMutex
	users       map[uint64]model.User
	byEmail     map[string]uint64
	expenses    map[uint64]model.Expense
	nextUser    uint64
	nextExpense uint64
	now         func() time.Time
}

func New() *Store {
	return &Store{
		users:    map[uint64]model.User{},
		byEmail:  map[string]uint64{},
		expenses: map[uint64]model.Expense{},
		now:      time.Now,
	}
}

// PingContext always succeeds; it lets Store stand in for the database in
// the health check.
func (s *Store) PingContext(context.Context) error { return nil }

func (s *Store) Users() *Users { return &Users{s} }

func (s *Store) Expenses() *Expenses { return &Expenses{s} }

func (s *Store) stamp() time.Time { return s.now().UTC().Truncate(time.Second) }

type Users struct{ s *Store }

func (u *Users) Create(_ context.Context, email, passwordHash string) (model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	email = repository.NormalizeEmail(email)
	if _, ok := u.s.byEmail[email]; ok {
		return model.User{}, repository.ErrEmailExists
	}
	u.s.nextUser++
	now := u.s.stamp()
	user := model.User{ID: u.s.nextUser, Email: email, PasswordHash: passwordHash, CreatedAt: now, UpdatedAt: now}
	u.s.users[user.ID] = user
	u.s.byEmail[email] = user.ID
	return user, nil
}

func (u *Users) GetByEmail(_ context.Context, email string) (model.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	id, ok := u.s.byEmail[repository.NormalizeEmail(email)]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u.s.users[id], nil
}

func (u *Users) GetByID(_ context.Context, id uint64) (model.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	user, ok := u.s.users[id]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return user, nil
}

func (u *Users) UpdatePasswordHash(_ context.Context, id uint64, passwordHash string) error {
	return u.update(id, func(user *model.User) { user.PasswordHash = passwordHash })
}

func (u *Users) GetWeeklyLimit(ctx context.Context, id uint64) (model.Cents, error) {
	user, err := u.GetByID(ctx, id)
	return user.WeeklyLimit, err
}

func (u *Users) SetWeeklyLimit(_ context.Context, id uint64, limit model.Cents) error {
	return u.update(id, func(user *model.User) { user.WeeklyLimit = limit })
}

func (u *Users) update(id uint64, fn func(*model.User)) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(&user)
	user.UpdatedAt = u.s.stamp()
	u.s.users[id] = user
	return nil
}

type Expenses struct{ s *Store }

func (x *Expenses) Create(_ context.Context, e *model.Expense) error {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	if _, ok := x.s.users[e.UserID]; !ok {
		return repository.ErrUserNotFound
	}
	x.s.nextExpense++
	e.ID = x.s.nextExpense
	e.SpentAt = e.SpentAt.UTC()
	e.CreatedAt = x.s.stamp()
	e.UpdatedAt = e.CreatedAt
	x.s.expenses[e.ID] = *e
	return nil
}

func (x *Expenses) GetByIDAndOwner(_ context.Context, id, userID uint64) (model.Expense, error) {
	x.s.mu.RLock()
	defer x.s.mu.RUnlock()
	e, ok := x.s.expenses[id]
	if !ok || e.UserID != userID {
		return model.Expense{}, repository.ErrExpenseNotFound
	}
	return e, nil
}

// ListByOwner mirrors the SQL ordering (newest id first) and paging bounds.
func (x *Expenses) ListByOwner(_ context.Context, userID uint64, f model.ExpenseFilter) ([]model.Expense, error) {
	x.s.mu.RLock()
	items := x.matching(userID, f)
	x.s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })

	limit := f.Limit
	if limit <= 0 {
		limit = repository.DefaultListLimit
	}
	limit = min(limit, repository.MaxListLimit)
	offset := min(max(f.Offset, 0), len(items))
	end := min(offset+limit, len(items))
	return items[offset:end], nil
}

func (x *Expenses) UpdateByIDAndOwner(_ context.Context, e *model.Expense) (int64, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	cur, ok := x.s.expenses[e.ID]
	if !ok || cur.UserID != e.UserID {
		return 0, nil
	}
	cur.Title, cur.Amount, cur.Category = e.Title, e.Amount, e.Category
	if !e.SpentAt.IsZero() {
		cur.SpentAt = e.SpentAt.UTC()
	}
	cur.UpdatedAt = x.s.stamp()
	x.s.expenses[e.ID] = cur
	*e = cur
	return 1, nil
}

func (x *Expenses) DeleteByIDAndOwner(_ context.Context, id, userID uint64) (int64, error) {
	x.s.mu.Lock()
	defer x.s.mu.Unlock()
	e, ok := x.s.expenses[id]
	if !ok || e.UserID != userID {
		return 0, nil
	}
	delete(x.s.expenses, id)
	return 1, nil
}

func (x *Expenses) SummaryByOwner(_ context.Context, userID uint64, f model.ExpenseFilter) (model.Summary, error) {
	x.s.mu.RLock()
	items := x.matching(userID, f)
	x.s.mu.RUnlock()

	byCategory := map[string]int{}
	s := model.Summary{Categories: make([]model.CategoryTotal, 0)}
	for _, e := range items {
		i, ok := byCategory[e.Category]
		if !ok {
			i = len(s.Categories)
			byCategory[e.Category] = i
			s.Categories = append(s.Categories, model.CategoryTotal{Category: e.Category})
		}
		s.Categories[i].Total += e.Amount
		s.Categories[i].Count++
		s.Total += e.Amount
		s.Count++
	}
	sort.Slice(s.Categories, func(i, j int) bool { return s.Categories[i].Category < s.Categories[j].Category })
	return s, nil
}

func (x *Expenses) TotalByOwnerBetween(_ context.Context, userID uint64, from, to time.Time) (model.Cents, error) {
	x.s.mu.RLock()
	defer x.s.mu.RUnlock()
	var total model.Cents
	for _, e := range x.matching(userID, model.ExpenseFilter{From: from, To: to}) {
		total += e.Amount
	}
	return total, nil
}

// matching must be called with the lock held.
func (x *Expenses) matching(userID uint64, f model.ExpenseFilter) []model.Expense {
	out := make([]model.Expense, 0)
	for _, e := range x.s.expenses {
		if e.UserID != userID {
			continue
		}
		if !f.From.IsZero() && e.SpentAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !e.SpentAt.Before(f.To) {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		out = append(out, e)
	}
	return out
}

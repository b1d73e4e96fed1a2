package service

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/expense-tracker/internal/logging"
	"github.com/iliyamo/expense-tracker/internal/metrics"
	"github.com/iliyamo/expense-tracker/internal/model"
	"github.com/iliyamo/expense-tracker/internal/queue"
)

type WeeklyTotals interface {
	TotalByOwnerBetween(ctx context.Context, userID uint64, from, to time.Time) (model.Cents, error)
}

type LimitReader interface {
	GetWeeklyLimit(ctx context.Context, userID uint64) (model.Cents, error)
}

// SpendingMonitor compares a user's spending in the current ISO week with
// their weekly limit and publishes an alert above 80% and above 100%.
type SpendingMonitor struct {
	expenses WeeklyTotals
	limits   LimitReader
	pub      queue.Publisher
	log      logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewSpendingMonitor(expenses WeeklyTotals, limits LimitReader, pub queue.Publisher, log logging.Logger, m *metrics.Metrics) *SpendingMonitor {
	return &SpendingMonitor{
		expenses: expenses,
		limits:   limits,
		pub:      pub,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// WeekStart returns Monday 00:00 UTC of the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-daysSinceMonday, 0, 0, 0, 0, time.UTC)
}

// Level classifies total against limit. A zero limit never alerts.
func Level(total, limit model.Cents) queue.AlertLevel {
	switch {
	case limit <= 0:
		return ""
	case total > limit:
		return queue.AlertExceeded
	case total*5 > limit*4:
		return queue.AlertNearing
	default:
		return ""
	}
}

// Check runs after an expense dated spentAt was written for userID. Expenses
// outside the current week cannot change this week's total and are skipped.
// It returns the published level, or "" when nothing was sent.
func (m *SpendingMonitor) Check(ctx context.Context, userID uint64, spentAt time.Time) (queue.AlertLevel, error) {
	now := m.now()
	from := WeekStart(now)
	to := from.AddDate(0, 0, 7)
	if spentAt.Before(from) || !spentAt.Before(to) {
		return "", nil
	}

	limit, err := m.limits.GetWeeklyLimit(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("weekly limit: %w", err)
	}
	if limit <= 0 {
		return "", nil
	}
	total, err := m.expenses.TotalByOwnerBetween(ctx, userID, from, to)
	if err != nil {
		return "", fmt.Errorf("weekly total: %w", err)
	}

	level := Level(total, limit)
	if level == "" {
		return "", nil
	}
	ev := queue.NewSpendingAlertEvent(userID, level, from, total, limit, now)
	if err := m.pub.PublishSpendingAlert(ctx, ev); err != nil {
		return "", fmt.Errorf("publish alert: %w", err)
	}
	if m.metrics != nil {
		m.metrics.SpendingAlerts.WithLabelValues(string(level)).Inc()
	}
	m.log.Info(ctx, "spending alert sent", "user_id", userID, "level", level, "event_id", ev.ID)
	return level, nil
}

// Package queue carries spending alerts over RabbitMQ: a publisher used by
// the request path and a background consumer that records them.
package queue

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iliyamo/expense-tracker/internal/model"
)

// SpendingAlertsQueue is the durable queue alerts are routed to.
const SpendingAlertsQueue = "spending.alerts"

// AlertLevel says which share of the weekly limit was crossed.
type AlertLevel string

const (
	AlertNearing  AlertLevel = "nearing"  // above 80%
	AlertExceeded AlertLevel = "exceeded" // above 100%
)

// SpendingAlertEvent is published when a user's ISO-week total crosses a
// threshold of their weekly limit. It carries everything a consumer needs
// without querying the database.
type SpendingAlertEvent struct {
	ID          string      `json:"id"`
	UserID      uint64      `json:"user_id"`
	Level       AlertLevel  `json:"level"`
	Message     string      `json:"message"`
	WeekStart   string      `json:"week_start"` // YYYY-MM-DD, a Monday
	WeekTotal   model.Cents `json:"week_total"`
	Limit       model.Cents `json:"limit"`
	TriggeredAt string      `json:"triggered_at"` // RFC 3339, UTC
}

// NewSpendingAlertEvent stamps a fresh ULID and the trigger time.
func NewSpendingAlertEvent(userID uint64, level AlertLevel, weekStart time.Time, total, limit model.Cents, now time.Time) SpendingAlertEvent {
	msg := "You are nearing your weekly expense limit"
	if level == AlertExceeded {
		msg = "You have exceeded your weekly expense limit"
	}
	return SpendingAlertEvent{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		UserID:      userID,
		Level:       level,
		Message:     msg,
		WeekStart:   weekStart.UTC().Format(time.DateOnly),
		WeekTotal:   total,
		Limit:       limit,
		TriggeredAt: now.UTC().Format(time.RFC3339),
	}
}

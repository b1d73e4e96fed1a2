package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/expense-tracker/internal/logging"
)

// SpendingLogFile is the file the consumer appends to inside its directory.
const SpendingLogFile = "spending.log"

// StartSpendingConsumer consumes spending alerts and appends one line per
// alert to dir/spending.log. It reconnects with exponential backoff and
// returns only when ctx is cancelled. Messages that cannot be handled are
// rejected without requeue so a bad payload cannot loop.
func StartSpendingConsumer(ctx context.Context, url, dir string, log logging.Logger) error {
	if url == "" {
		return ErrNoBroker
	}
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn(ctx, "spending consumer: dial failed", "err", err, "retry_in", backoff.String())
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, dir, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn(ctx, "spending consumer: consume loop ended, reconnecting", "err", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, dir string, log logging.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn(ctx, "spending consumer: set qos failed", "err", err)
	}
	if err := declareAlertsQueue(ch); err != nil {
		return err
	}

	msgs, err := ch.ConsumeWithContext(ctx, SpendingAlertsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := handleMessage(d.Body, dir); err != nil {
			log.Error(ctx, "spending consumer: handle message failed", "err", err, "message_id", d.MessageId)
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func handleMessage(body []byte, dir string) error {
	var ev SpendingAlertEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.UserID == 0 || ev.ID == "" {
		return errors.New("alert without id or user")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, SpendingLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatAlert(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatAlert(ev SpendingAlertEvent) string {
	return fmt.Sprintf("[%s] Weekly limit %s | alert_id=%s | user_id=%d | week_start=%s | total=%s | limit=%s\n",
		ev.TriggeredAt, ev.Level, ev.ID, ev.UserID, ev.WeekStart, ev.WeekTotal, ev.Limit)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

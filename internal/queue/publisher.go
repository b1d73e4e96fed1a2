package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/expense-tracker/internal/logging"
)

// Publisher delivers spending alerts. Failures are returned so the caller can
// log them; they never fail the request that triggered the alert.
type Publisher interface {
	PublishSpendingAlert(ctx context.Context, ev SpendingAlertEvent) error
}

// ErrNoBroker is returned by NewAMQPPublisher when no URL is configured.
var ErrNoBroker = errors.New("rabbitmq url not configured")

// AMQPPublisher keeps one connection and channel open and redials lazily
// after the broker drops them. It is safe for concurrent use.
type AMQPPublisher struct {
	url string
	log logging.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url string, log logging.Logger) (*AMQPPublisher, error) {
	if url == "" {
		return nil, ErrNoBroker
	}
	return &AMQPPublisher{url: url, log: log}, nil
}

func (p *AMQPPublisher) PublishSpendingAlert(ctx context.Context, ev SpendingAlertEvent) error {
	msg, err := encodeAlert(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return err
	}
	if err := p.ch.PublishWithContext(ctx, "", SpendingAlertsQueue, false, false, msg); err != nil {
		p.reset()
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	p.log.Debug(ctx, "spending alert published", "event_id", ev.ID, "user_id", ev.UserID, "level", ev.Level)
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// ensureChannel dials and declares the queue when there is no usable channel.
// Callers hold p.mu.
func (p *AMQPPublisher) ensureChannel() error {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return nil
	}
	p.reset()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: channel open: %w", err)
	}
	if err := declareAlertsQueue(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func declareAlertsQueue(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(
		SpendingAlertsQueue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		return fmt.Errorf("rabbitmq: queue declare: %w", err)
	}
	return nil
}

func encodeAlert(ev SpendingAlertEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal alert: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         "spending.alert",
		Body:         body,
	}, nil
}

// NopPublisher drops every alert. It is used when alerts are disabled or no
// broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishSpendingAlert(context.Context, SpendingAlertEvent) error { return nil }

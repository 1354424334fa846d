package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"threadline/internal/events"
	"threadline/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AuditSink records event snapshots. Failures never affect the mutation.
type AuditSink interface {
	Record(ctx context.Context, ev events.Event) error
}

// LogSink writes every event to the structured log.
type LogSink struct{}

// Record implements AuditSink.
func (LogSink) Record(ctx context.Context, ev events.Event) error {
	subject := ev.Subject()
	observability.Logger.InfoContext(ctx, "audit",
		slog.String("event_id", ev.ID()),
		slog.String("kind", string(ev.Kind())),
		slog.Uint64("comment_id", uint64(subject.ID)),
		slog.Uint64("post_id", uint64(subject.PostID)),
		slog.Uint64("actor_id", uint64(ev.Actor())),
		slog.Time("occurred_at", ev.OccurredAt()),
	)
	return nil
}

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes event snapshots to a durable fanout exchange.
type AMQPSink struct {
	exchange string
	ch       amqpPublisher
	closers  []func() error
}

// NewAMQPSink dials url and declares exchange.
func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare audit exchange: %w", err)
	}
	return &AMQPSink{exchange: exchange, ch: ch, closers: []func() error{ch.Close, conn.Close}}, nil
}

// Record implements AuditSink.
func (s *AMQPSink) Record(ctx context.Context, ev events.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.ch.PublishWithContext(ctx, s.exchange, string(ev.Kind()), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID(),
		Type:         string(ev.Kind()),
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Close closes the channel and connection.
func (s *AMQPSink) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiSink records to every sink and joins their errors.
type MultiSink []AuditSink

// Record implements AuditSink.
func (m MultiSink) Record(ctx context.Context, ev events.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

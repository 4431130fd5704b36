// Package amqp publishes audit events to a RabbitMQ topic exchange.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	audit "github.com/MbInteligen/mbras-c2s-enrichment-sub000/pkg/platform/audit"
)

const maxDialDelay = 60 * time.Second

// DialOptions controls connection retries.
type DialOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

// DialWithRetry connects with exponential backoff, honoring ctx.
func DialWithRetry(ctx context.Context, opts DialOptions) (*amqp.Connection, error) {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var lastErr error
	for i := 1; i <= opts.RetryAttempts; i++ {
		conn, err := amqp.Dial(opts.URL)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if i == opts.RetryAttempts {
			break
		}

		sleep := opts.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		opts.Logger.WarnContext(ctx, "amqp dial failed",
			"host", redactedHost(opts.URL),
			"attempt", i,
			"sleep", sleep,
			"error", err,
		)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("amqp dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("connect to amqp after %d attempts: %w", opts.RetryAttempts, lastErr)
}

// Sink is an audit.Store that publishes JSON events to a durable topic
// exchange with routing key "audit.<category>.<action>".
type Sink struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

// NewSink declares the exchange and opens a publishing channel.
func NewSink(conn *amqp.Connection, exchange string) (*Sink, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return &Sink{conn: conn, exchange: exchange, ch: ch}, nil
}

// Append publishes one event. A closed channel is reopened once.
func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	msg, err := Publishing(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch == nil || s.ch.IsClosed() {
		ch, err := s.conn.Channel()
		if err != nil {
			return fmt.Errorf("reopen channel: %w", err)
		}
		s.ch = ch
	}
	if err := s.ch.PublishWithContext(ctx, s.exchange, RoutingKey(event), false, false, msg); err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Close closes the channel and the connection.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.ch != nil {
		errs = append(errs, s.ch.Close())
	}
	errs = append(errs, s.conn.Close())
	return errors.Join(errs...)
}

// RoutingKey lets consumers bind on category ("audit.security.#").
func RoutingKey(event audit.Event) string {
	return "audit." + string(event.Category) + "." + string(event.Action)
}

// Publishing builds the AMQP message for an event.
func Publishing(event audit.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal audit event: %w", err)
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.ID.String(),
		CorrelationId: event.RequestID,
		Type:          string(event.Action),
		Timestamp:     event.Timestamp,
	}, nil
}

func redactedHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/resource-scheduler/internal/application"
)

// DefaultQueue is the durable queue the relay consumes.
const DefaultQueue = "scheduler.notifications"

// ConsumeChannel is the subset of *amqp.Channel used by the relay.
type ConsumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// ConsumeDialer opens a consuming channel and the connection that owns it.
type ConsumeDialer func() (ConsumeChannel, io.Closer, error)

// DialConsumer returns a ConsumeDialer connecting to url.
func DialConsumer(url string) ConsumeDialer {
	return func() (ConsumeChannel, io.Closer, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("amqp dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("amqp channel open: %w", err)
		}
		return ch, conn, nil
	}
}

// Handler delivers one decoded event.
type Handler func(ctx context.Context, event application.Event) error

// RelayConfig configures a Relay.
type RelayConfig struct {
	Exchange   string
	Queue      string
	Prefetch   int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Relay consumes published events and hands them to a Handler. It reconnects
// with exponential backoff until its context ends.
type Relay struct {
	dial    ConsumeDialer
	handler Handler
	cfg     RelayConfig
	logger  *slog.Logger
}

// NewRelay wires a relay.
func NewRelay(dial ConsumeDialer, handler Handler, cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 50
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{dial: dial, handler: handler, cfg: cfg, logger: logger.With("component", "notification_relay")}
}

// Run consumes until ctx ends. It returns ctx.Err().
func (r *Relay) Run(ctx context.Context) error {
	backoff := r.cfg.MinBackoff
	for {
		ch, conn, err := r.dial()
		if err == nil {
			backoff = r.cfg.MinBackoff
			err = r.consume(ctx, ch)
			_ = ch.Close()
			if conn != nil {
				_ = conn.Close()
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.WarnContext(ctx, "relay disconnected", "error", err, "retry_in", backoff.String())

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff < r.cfg.MaxBackoff {
			backoff *= 2
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
		}
	}
}

func (r *Relay) consume(ctx context.Context, ch ConsumeChannel) error {
	if err := ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
		r.logger.WarnContext(ctx, "set qos failed", "error", err)
	}
	if err := ch.ExchangeDeclare(r.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	if _, err := ch.QueueDeclare(r.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(r.cfg.Queue, "booking.#", r.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	deliveries, err := ch.Consume(r.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	r.logger.InfoContext(ctx, "relay consuming", "queue", r.cfg.Queue, "exchange", r.cfg.Exchange)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			r.handle(ctx, delivery)
		}
	}
}

// handle acknowledges delivered events and drops undecodable or failed ones
// without requeueing them.
func (r *Relay) handle(ctx context.Context, delivery amqp.Delivery) {
	var event application.Event
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		r.logger.WarnContext(ctx, "dropping malformed event", "error", err)
		_ = delivery.Nack(false, false)
		return
	}
	if err := r.handler(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "event delivery failed",
			"event_type", string(event.Type),
			"recipient_id", event.RecipientID,
			"error", err,
		)
		_ = delivery.Nack(false, false)
		return
	}
	_ = delivery.Ack(false)
}

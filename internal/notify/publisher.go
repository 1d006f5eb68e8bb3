package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/resource-scheduler/internal/application"
)

// DefaultExchange is the topic exchange booking events are published to.
const DefaultExchange = "scheduler.events"

// PublishChannel is the subset of *amqp.Channel used for publishing.
type PublishChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// PublishDialer opens a publishing channel and the connection that owns it.
type PublishDialer func() (PublishChannel, io.Closer, error)

// DialPublisher returns a PublishDialer connecting to url.
func DialPublisher(url string) PublishDialer {
	return func() (PublishChannel, io.Closer, error) {
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

// Publisher publishes events as persistent JSON messages routed by event
// type. The connection is opened on first use and re-opened after a failure.
type Publisher struct {
	mu       sync.Mutex
	dial     PublishDialer
	exchange string
	logger   *slog.Logger
	now      func() time.Time

	ch   PublishChannel
	conn io.Closer
}

// NewPublisher wires a publisher. An empty exchange uses DefaultExchange.
func NewPublisher(dial PublishDialer, exchange string, logger *slog.Logger) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{dial: dial, exchange: exchange, logger: logger, now: time.Now}
}

// RoutingKey returns the routing key used for events of the given type.
func RoutingKey(eventType application.EventType) string {
	return "booking." + string(eventType)
}

// Notify implements application.Notifier.
func (p *Publisher) Notify(ctx context.Context, event application.Event) error {
	if p == nil {
		return fmt.Errorf("Publisher is nil")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		Type:         string(event.Type),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, p.exchange, RoutingKey(event.Type), false, false, msg); err != nil {
		p.logger.WarnContext(ctx, "amqp publish failed", "exchange", p.exchange, "event_type", string(event.Type), "error", err)
		p.reset()
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reset()
}

func (p *Publisher) channel() (PublishChannel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	ch, conn, err := p.dial()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		if conn != nil {
			_ = conn.Close()
		}
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	p.ch, p.conn = ch, conn
	return ch, nil
}

func (p *Publisher) reset() error {
	var firstErr error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.ch, p.conn = nil, nil
	return firstErr
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvent() application.Event {
	start := time.Date(2025, time.January, 10, 10, 0, 0, 0, time.UTC)
	return application.Event{
		Type:        application.EventBookingCreated,
		RecipientID: "user-1",
		BookingID:   "booking-1",
		ResourceID:  "room-1",
		OccurredAt:  start.Add(-time.Hour),
		Payload: application.EventPayload{
			Status: scheduler.StatusActive,
			Start:  start,
			End:    start.Add(2 * time.Hour),
		},
	}
}

type publishCall struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type publishChannelStub struct {
	declared   []string
	calls      []publishCall
	publishErr error
	closed     bool
}

func (c *publishChannelStub) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.declared = append(c.declared, name+":"+kind)
	return nil
}

func (c *publishChannelStub) PublishWithContext(_ context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.calls = append(c.calls, publishCall{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *publishChannelStub) Close() error {
	c.closed = true
	return nil
}

type closerStub struct{ closed bool }

func (c *closerStub) Close() error {
	c.closed = true
	return nil
}

func TestPublisher_Notify(t *testing.T) {
	t.Parallel()

	channel := &publishChannelStub{}
	dials := 0
	publisher := NewPublisher(func() (PublishChannel, io.Closer, error) {
		dials++
		return channel, &closerStub{}, nil
	}, "", discardLogger())

	event := sampleEvent()
	if err := publisher.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if err := publisher.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}

	if dials != 1 {
		t.Fatalf("expected the connection to be reused, dialled %d times", dials)
	}
	if len(channel.declared) != 1 || channel.declared[0] != DefaultExchange+":topic" {
		t.Fatalf("expected topic exchange declaration, got %v", channel.declared)
	}
	call := channel.calls[0]
	if call.exchange != DefaultExchange || call.key != "booking.booking_created" {
		t.Fatalf("unexpected routing %s/%s", call.exchange, call.key)
	}
	if call.msg.DeliveryMode != amqp.Persistent || call.msg.ContentType != "application/json" {
		t.Fatalf("expected persistent json message, got %+v", call.msg)
	}

	var decoded application.Event
	if err := json.Unmarshal(call.msg.Body, &decoded); err != nil {
		t.Fatalf("body is not valid json: %v", err)
	}
	if decoded.BookingID != "booking-1" || decoded.Payload.Status != scheduler.StatusActive {
		t.Fatalf("unexpected decoded event %+v", decoded)
	}
}

func TestPublisher_RedialsAfterFailure(t *testing.T) {
	t.Parallel()

	failing := &publishChannelStub{publishErr: errors.New("channel closed")}
	healthy := &publishChannelStub{}
	conn := &closerStub{}
	channels := []*publishChannelStub{failing, healthy}
	publisher := NewPublisher(func() (PublishChannel, io.Closer, error) {
		next := channels[0]
		channels = channels[1:]
		return next, conn, nil
	}, "events", discardLogger())

	if err := publisher.Notify(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected publish failure")
	}
	if !failing.closed || !conn.closed {
		t.Fatalf("expected broken channel and connection to be closed")
	}
	if err := publisher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("expected redial to succeed, got %v", err)
	}
	if len(healthy.calls) != 1 || healthy.calls[0].exchange != "events" {
		t.Fatalf("expected publish on the new channel, got %+v", healthy.calls)
	}
}

func TestPublisher_DialFailure(t *testing.T) {
	t.Parallel()

	publisher := NewPublisher(func() (PublishChannel, io.Closer, error) {
		return nil, nil, errors.New("connection refused")
	}, "", discardLogger())

	if err := publisher.Notify(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected dial failure to be returned")
	}
	if err := publisher.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

type ackRecorder struct {
	mu       sync.Mutex
	acks     int
	nacks    int
	requeued bool
}

func (a *ackRecorder) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeued = a.requeued || requeue
	return nil
}

func (a *ackRecorder) Reject(uint64, bool) error { return nil }

func TestRelay_Handle(t *testing.T) {
	t.Parallel()

	body, err := json.Marshal(sampleEvent())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cases := []struct {
		name      string
		body      []byte
		handleErr error
		wantAck   int
		wantNack  int
	}{
		{name: "delivered", body: body, wantAck: 1},
		{name: "malformed", body: []byte("{"), wantNack: 1},
		{name: "handler failure", body: body, handleErr: errors.New("smtp down"), wantNack: 1},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var got []application.Event
			relay := NewRelay(nil, func(_ context.Context, event application.Event) error {
				got = append(got, event)
				return tc.handleErr
			}, RelayConfig{}, discardLogger())

			ack := &ackRecorder{}
			relay.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: tc.body})

			if ack.acks != tc.wantAck || ack.nacks != tc.wantNack {
				t.Fatalf("expected %d acks and %d nacks, got %d and %d", tc.wantAck, tc.wantNack, ack.acks, ack.nacks)
			}
			if ack.requeued {
				t.Fatalf("expected failed deliveries not to be requeued")
			}
			if tc.wantAck == 1 && (len(got) != 1 || got[0].RecipientID != "user-1") {
				t.Fatalf("expected event handed to the handler, got %+v", got)
			}
		})
	}
}

type consumeChannelStub struct {
	deliveries chan amqp.Delivery
	bound      string
}

func (c *consumeChannelStub) Qos(int, int, bool) error { return nil }

func (c *consumeChannelStub) ExchangeDeclare(string, string, bool, bool, bool, bool, amqp.Table) error {
	return nil
}

func (c *consumeChannelStub) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}

func (c *consumeChannelStub) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	c.bound = name + ":" + key + ":" + exchange
	return nil
}

func (c *consumeChannelStub) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *consumeChannelStub) Close() error { return nil }

func TestRelay_Run(t *testing.T) {
	t.Parallel()

	body, err := json.Marshal(sampleEvent())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	channel := &consumeChannelStub{deliveries: make(chan amqp.Delivery, 1)}
	ack := &ackRecorder{}
	channel.deliveries <- amqp.Delivery{Acknowledger: ack, Body: body}

	ctx, cancel := context.WithCancel(context.Background())
	delivered := make(chan application.Event, 1)
	relay := NewRelay(func() (ConsumeChannel, io.Closer, error) {
		return channel, nil, nil
	}, func(_ context.Context, event application.Event) error {
		delivered <- event
		return nil
	}, RelayConfig{Queue: "q", Exchange: "x"}, discardLogger())

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	select {
	case event := <-delivered:
		if event.BookingID != "booking-1" {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("relay did not stop")
	}
	if channel.bound != "q:booking.#:x" {
		t.Fatalf("unexpected binding %q", channel.bound)
	}
}

func TestRelay_RunStopsWhileReconnecting(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	relay := NewRelay(func() (ConsumeChannel, io.Closer, error) {
		attempts++
		return nil, nil, errors.New("connection refused")
	}, func(context.Context, application.Event) error { return nil },
		RelayConfig{MinBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond}, discardLogger())

	if err := relay.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected repeated dial attempts, got %d", attempts)
	}
}

func TestLogSinkAndFanout(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	failing := notifierFunc(func(context.Context, application.Event) error { return errors.New("down") })
	fanout := Fanout{sink, nil, failing}

	err := fanout.Notify(context.Background(), sampleEvent())
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"event_type":"booking_created"`, `"recipient_id":"user-1"`, `"booking_id":"booking-1"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in log output %s", want, out)
		}
	}

	if err := (Fanout{sink}).Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

type notifierFunc func(context.Context, application.Event) error

func (f notifierFunc) Notify(ctx context.Context, event application.Event) error {
	return f(ctx, event)
}

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/starsflow/internal/clock"
	"github.com/joao-fontenele/starsflow/internal/domain"
)

type memoryWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memoryWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memoryWriter) Close() error { return nil }

func newTestProducer(topic string) (*Producer, *memoryWriter) {
	w := &memoryWriter{}
	return &Producer{writer: w, topic: topic}, w
}

func TestTaskPublisher(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("publishes dispatch keyed by order", func(t *testing.T) {
		dispatch, dw := newTestProducer("order.dispatch")
		notify, _ := newTestProducer("order.notify")
		p := NewTaskPublisher(dispatch, notify, clock.NewFake(now))

		if err := p.EnqueueDispatch(context.Background(), "o1"); err != nil {
			t.Fatalf("EnqueueDispatch: %v", err)
		}

		if len(dw.msgs) != 1 {
			t.Fatalf("expected 1 message, got %d", len(dw.msgs))
		}
		msg := dw.msgs[0]
		if string(msg.Key) != "o1" {
			t.Errorf("expected key o1, got %s", msg.Key)
		}
		var event domain.DispatchRequestedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if event.OrderID != "o1" || !event.Timestamp.Equal(now) {
			t.Errorf("unexpected event: %+v", event)
		}
	})

	t.Run("publishes notification", func(t *testing.T) {
		dispatch, _ := newTestProducer("order.dispatch")
		notify, nw := newTestProducer("order.notify")
		p := NewTaskPublisher(dispatch, notify, clock.NewFake(now))

		n := domain.Notification{OrderID: "o2", OwnerID: "1001", Kind: domain.NotificationFulfilled}
		if err := p.EnqueueNotification(context.Background(), n); err != nil {
			t.Fatalf("EnqueueNotification: %v", err)
		}
		var got domain.Notification
		if err := json.Unmarshal(nw.msgs[0].Value, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Kind != domain.NotificationFulfilled || got.OwnerID != "1001" {
			t.Errorf("unexpected notification: %+v", got)
		}
	})

	t.Run("wraps write errors", func(t *testing.T) {
		dispatch, dw := newTestProducer("order.dispatch")
		dw.err = errors.New("broker down")
		notify, _ := newTestProducer("order.notify")
		p := NewTaskPublisher(dispatch, notify, clock.NewFake(now))

		if err := p.EnqueueDispatch(context.Background(), "o1"); !errors.Is(err, dw.err) {
			t.Errorf("expected wrapped broker error, got %v", err)
		}
	})
}

func TestProducer_PublishDeadLetter(t *testing.T) {
	p, w := newTestProducer(DeadLetterTopic("order.dispatch"))

	msg := Message{Topic: "order.dispatch", Key: []byte("o1"), Value: []byte(`{"order_id":"o1"}`)}
	if err := p.PublishDeadLetter(context.Background(), msg, errors.New("unknown product")); err != nil {
		t.Fatalf("PublishDeadLetter: %v", err)
	}

	got := w.msgs[0]
	if string(got.Value) != string(msg.Value) {
		t.Errorf("payload not preserved: %s", got.Value)
	}
	if v := headerValue(got.Headers, HeaderError); v != "unknown product" {
		t.Errorf("unexpected error header: %q", v)
	}
	if v := headerValue(got.Headers, HeaderSourceTopic); v != "order.dispatch" {
		t.Errorf("unexpected source header: %q", v)
	}
	if p.Topic() != "order.dispatch.dlq" {
		t.Errorf("unexpected topic: %s", p.Topic())
	}
}

func TestHeaderCarrier(t *testing.T) {
	msg := &kafka.Message{}
	c := NewHeaderCarrier(msg)

	c.Set("traceparent", "a")
	c.Set("traceparent", "b")

	if got := c.Get("traceparent"); got != "b" {
		t.Errorf("expected overwrite, got %q", got)
	}
	if keys := c.Keys(); len(keys) != 1 {
		t.Errorf("expected one header, got %v", keys)
	}
}

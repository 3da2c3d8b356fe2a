package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joao-fontenele/starsflow/internal/domain"
	"github.com/joao-fontenele/starsflow/internal/messaging"
	"github.com/joao-fontenele/starsflow/internal/notify"
	"github.com/joao-fontenele/starsflow/internal/orders"
)

type DeadLetterer interface {
	PublishDeadLetter(ctx context.Context, msg messaging.Message, cause error) error
}

type Config struct {
	MaxElapsed      time.Duration
	InitialInterval time.Duration
}

// TaskHandler consumes the dispatch and notification topics. Each message
// is retried with exponential backoff; messages that fail permanently or
// exhaust their budget go to the dead-letter topic and are committed.
type TaskHandler struct {
	dispatcher  orders.Dispatcher
	sink        notify.Sink
	dispatchDLQ DeadLetterer
	notifyDLQ   DeadLetterer
	cfg         Config
	logger      *slog.Logger
}

func NewTaskHandler(dispatcher orders.Dispatcher, sink notify.Sink, dispatchDLQ, notifyDLQ DeadLetterer, cfg Config, logger *slog.Logger) *TaskHandler {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	return &TaskHandler{
		dispatcher:  dispatcher,
		sink:        sink,
		dispatchDLQ: dispatchDLQ,
		notifyDLQ:   notifyDLQ,
		cfg:         cfg,
		logger:      logger,
	}
}

func (h *TaskHandler) HandleDispatch(ctx context.Context, msg messaging.Message) error {
	var event domain.DispatchRequestedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.OrderID == "" {
		return h.deadLetter(ctx, h.dispatchDLQ, msg, fmt.Errorf("decode dispatch task: %w", errors.Join(err, errMissingOrderID(event.OrderID))))
	}

	h.logger.Info("processing dispatch task", "order_id", event.OrderID)

	err := h.retry(ctx, func(ctx context.Context) error {
		return h.dispatcher.DispatchDelivery(ctx, event.OrderID)
	})
	if err != nil {
		h.logger.Error("dispatch task failed", "error", err, "order_id", event.OrderID)
		return h.deadLetter(ctx, h.dispatchDLQ, msg, err)
	}
	return nil
}

func (h *TaskHandler) HandleNotification(ctx context.Context, msg messaging.Message) error {
	var n domain.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil || n.OrderID == "" {
		return h.deadLetter(ctx, h.notifyDLQ, msg, fmt.Errorf("decode notification task: %w", errors.Join(err, errMissingOrderID(n.OrderID))))
	}

	h.logger.Info("processing notification task", "order_id", n.OrderID, "kind", n.Kind)

	err := h.retry(ctx, func(ctx context.Context) error {
		return h.sink.Notify(ctx, n)
	})
	if err != nil {
		h.logger.Error("notification task failed", "error", err, "order_id", n.OrderID, "kind", n.Kind)
		return h.deadLetter(ctx, h.notifyDLQ, msg, err)
	}
	return nil
}

func (h *TaskHandler) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.cfg.InitialInterval
	policy.MaxElapsedTime = h.cfg.MaxElapsed

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}

func permanent(err error) bool {
	return orders.IsPermanent(err)
}

// deadLetter returns an error only when the message could not be parked,
// which leaves it uncommitted. A cancelled context never parks a message.
func (h *TaskHandler) deadLetter(ctx context.Context, dlq DeadLetterer, msg messaging.Message, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := dlq.PublishDeadLetter(ctx, msg, cause); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	h.logger.Warn("task moved to dead-letter topic", "topic", msg.Topic, "key", string(msg.Key), "error", cause)
	return nil
}

func errMissingOrderID(id string) error {
	if id == "" {
		return errors.New("missing order_id")
	}
	return nil
}

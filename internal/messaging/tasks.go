package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/joao-fontenele/starsflow/internal/clock"
	"github.com/joao-fontenele/starsflow/internal/domain"
)

// TaskPublisher hands reconciler side effects to the worker through
// Kafka. Both task kinds are keyed by order id.
type TaskPublisher struct {
	dispatch *Producer
	notify   *Producer
	clock    clock.Clock
}

func NewTaskPublisher(dispatch, notify *Producer, clk clock.Clock) *TaskPublisher {
	return &TaskPublisher{
		dispatch: dispatch,
		notify:   notify,
		clock:    clk,
	}
}

func (p *TaskPublisher) EnqueueDispatch(ctx context.Context, orderID string) error {
	event := domain.DispatchRequestedEvent{
		OrderID:   orderID,
		Timestamp: p.clock.Now(),
	}
	if err := p.dispatch.Publish(ctx, orderID, event); err != nil {
		return fmt.Errorf("publish dispatch task: %w", err)
	}
	return nil
}

func (p *TaskPublisher) EnqueueNotification(ctx context.Context, n domain.Notification) error {
	if err := p.notify.Publish(ctx, n.OrderID, n); err != nil {
		return fmt.Errorf("publish notification task: %w", err)
	}
	return nil
}

func (p *TaskPublisher) Close() error {
	return errors.Join(p.dispatch.Close(), p.notify.Close())
}

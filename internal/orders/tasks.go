package orders

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joao-fontenele/starsflow/internal/domain"
	"github.com/joao-fontenele/starsflow/internal/notify"
)

// Tasks receives side effects after the transition that caused them has
// committed. Implementations must not block on the work itself.
type Tasks interface {
	EnqueueDispatch(ctx context.Context, orderID string) error
	EnqueueNotification(ctx context.Context, n domain.Notification) error
}

type Dispatcher interface {
	DispatchDelivery(ctx context.Context, orderID string) error
}

// AsyncTasks runs each task on its own goroutine, detached from the
// request context, with a short exponential retry. It stands in for the
// Kafka task topics when no brokers are configured.
type AsyncTasks struct {
	dispatcher Dispatcher
	sink       notify.Sink
	logger     *slog.Logger
	maxElapsed time.Duration
	wg         sync.WaitGroup
}

func NewAsyncTasks(sink notify.Sink, maxElapsed time.Duration, logger *slog.Logger) *AsyncTasks {
	return &AsyncTasks{
		sink:       sink,
		logger:     logger,
		maxElapsed: maxElapsed,
	}
}

// Attach sets the dispatcher; it closes the loop with the Reconciler,
// which itself needs a Tasks at construction.
func (t *AsyncTasks) Attach(d Dispatcher) {
	t.dispatcher = d
}

func (t *AsyncTasks) EnqueueDispatch(ctx context.Context, orderID string) error {
	t.run(ctx, "dispatch", orderID, func(ctx context.Context) error {
		return t.dispatcher.DispatchDelivery(ctx, orderID)
	})
	return nil
}

func (t *AsyncTasks) EnqueueNotification(ctx context.Context, n domain.Notification) error {
	t.run(ctx, "notify", n.OrderID, func(ctx context.Context) error {
		return t.sink.Notify(ctx, n)
	})
	return nil
}

// Wait blocks until every started task has finished.
func (t *AsyncTasks) Wait() {
	t.wg.Wait()
}

func (t *AsyncTasks) run(ctx context.Context, kind, orderID string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = 200 * time.Millisecond
		policy.MaxElapsedTime = t.maxElapsed

		err := backoff.Retry(func() error {
			err := fn(ctx)
			if err != nil && IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}, backoff.WithContext(policy, ctx))
		if err != nil {
			t.logger.Error("task abandoned", "task", kind, "order_id", orderID, "error", err)
		}
	}()
}

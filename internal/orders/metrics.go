package orders

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/starsflow/internal/domain"
)

var meter = otel.Meter("orders/reconciler")

type reconcilerMetrics struct {
	created     metric.Int64Counter
	transitions metric.Int64Counter
	webhooks    metric.Int64Counter
	expired     metric.Int64Counter
}

func newReconcilerMetrics() (*reconcilerMetrics, error) {
	created, err := meter.Int64Counter("orders.created",
		metric.WithDescription("Orders created, by payment method"))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("orders.transitions",
		metric.WithDescription("Committed order status transitions"))
	if err != nil {
		return nil, err
	}
	webhooks, err := meter.Int64Counter("orders.webhooks",
		metric.WithDescription("Inbound webhooks, by source and ack result"))
	if err != nil {
		return nil, err
	}
	expired, err := meter.Int64Counter("orders.expired",
		metric.WithDescription("Orders expired by the sweeper"))
	if err != nil {
		return nil, err
	}

	return &reconcilerMetrics{
		created:     created,
		transitions: transitions,
		webhooks:    webhooks,
		expired:     expired,
	}, nil
}

func (m *reconcilerMetrics) transition(ctx context.Context, from, to domain.OrderStatus) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (m *reconcilerMetrics) webhook(ctx context.Context, source string, result AckResult) {
	m.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("result", string(result)),
	))
}

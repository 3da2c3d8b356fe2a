package orders

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/starsflow/internal/clock"
	"github.com/joao-fontenele/starsflow/internal/delivery"
	"github.com/joao-fontenele/starsflow/internal/domain"
	"github.com/joao-fontenele/starsflow/internal/payment"
)

var tracer = otel.Tracer("orders/reconciler")

type AckResult string

const (
	AckApplied   AckResult = "applied"
	AckDuplicate AckResult = "duplicate"
	AckNotFound  AckResult = "not_found"
	AckIgnored   AckResult = "ignored"
)

// Ack is returned to webhook callers. Every result except a rejected
// signature is acknowledged so providers stop redelivering.
type Ack struct {
	Result  AckResult          `json:"result"`
	OrderID string             `json:"order_id,omitempty"`
	Status  domain.OrderStatus `json:"status,omitempty"`
}

type Gateways interface {
	Get(method domain.PaymentMethod) (payment.Gateway, error)
}

type ReconcilerConfig struct {
	OrderTTL        time.Duration
	OutboundTimeout time.Duration
	SweepBatch      int
	// DeliveryWebhookSecret, when set, must be presented by delivery callbacks.
	DeliveryWebhookSecret string
}

type CreateOrderRequest struct {
	OwnerID       string               `json:"owner_id"`
	Recipient     string               `json:"recipient"`
	Product       string               `json:"product"`
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
}

// Reconciler drives orders through their lifecycle. It holds no locks of
// its own: each step is a guarded write against the Store, and side effects
// are handed to Tasks only after the write that justifies them succeeded.
type Reconciler struct {
	store    Store
	gateways Gateways
	provider delivery.Provider
	tasks    Tasks
	clock    clock.Clock
	cfg      ReconcilerConfig
	logger   *slog.Logger
	metrics  *reconcilerMetrics
}

func NewReconciler(store Store, gateways Gateways, provider delivery.Provider, tasks Tasks, clk clock.Clock, cfg ReconcilerConfig, logger *slog.Logger) (*Reconciler, error) {
	if cfg.OrderTTL <= 0 {
		return nil, errors.New("order ttl must be positive")
	}
	if cfg.OutboundTimeout <= 0 {
		cfg.OutboundTimeout = 15 * time.Second
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}

	m, err := newReconcilerMetrics()
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	return &Reconciler{
		store:    store,
		gateways: gateways,
		provider: provider,
		tasks:    tasks,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}, nil
}

// CreateOrder persists a new order and requests an invoice for it. When the
// gateway fails the order is kept in created and returned together with the
// error; the sweeper expires it later.
func (r *Reconciler) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "CreateOrder", trace.WithAttributes(
		attribute.String("payment_method", string(req.PaymentMethod)),
	))
	defer span.End()

	if err := validateCreate(req); err != nil {
		return nil, err
	}

	gw, err := r.gateways.Get(req.PaymentMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}

	now := r.clock.Now()
	order := &domain.Order{
		OwnerID:       req.OwnerID,
		Recipient:     domain.NormalizeRecipient(req.Recipient),
		Product:       req.Product,
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		Status:        domain.OrderStatusCreated,
		CreatedAt:     now,
		ExpiresAt:     now.Add(r.cfg.OrderTTL),
		UpdatedAt:     now,
	}

	if err := r.store.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("store order: %w", err)
	}
	span.SetAttributes(attribute.String("order_id", order.ID))
	r.metrics.created.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(order.PaymentMethod))))

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.OutboundTimeout)
	defer cancel()

	invoice, err := gw.CreateInvoice(callCtx, payment.InvoiceRequest{
		OrderID:   order.ID,
		Amount:    order.Amount,
		Currency:  order.Currency,
		Recipient: order.Recipient,
	})
	if err != nil {
		r.logger.Error("failed to create invoice", "error", err, "order_id", order.ID, "payment_method", order.PaymentMethod)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return order, fmt.Errorf("%w: create invoice: %w", ErrAdapterUnavailable, err)
	}

	attached, err := r.store.AttachInvoice(ctx, order.ID, invoice.CorrelationID, invoice.PayURL)
	if err != nil {
		r.logger.Error("failed to attach invoice", "error", err, "order_id", order.ID)
		return order, fmt.Errorf("attach invoice: %w", err)
	}
	if attached {
		order.CorrelationID = invoice.CorrelationID
		order.PayURL = invoice.PayURL
	}

	r.logger.Info("order created", "order_id", order.ID, "owner_id", order.OwnerID,
		"payment_method", order.PaymentMethod, "correlation_id", order.CorrelationID)
	return order, nil
}

func validateCreate(req CreateOrderRequest) error {
	switch {
	case req.OwnerID == "":
		return fmt.Errorf("%w: owner_id is required", ErrInvalidOrder)
	case req.Product == "":
		return fmt.Errorf("%w: product is required", ErrInvalidOrder)
	case req.Currency == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidOrder)
	case !req.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	return nil
}

// HandlePaymentWebhook authenticates a provider callback and applies
// created -> paid when it reports settlement. Replays resolve to the same
// order and lose the status guard, so they are acknowledged without effect.
func (r *Reconciler) HandlePaymentWebhook(ctx context.Context, method domain.PaymentMethod, body []byte, signature string) (Ack, error) {
	ctx, span := tracer.Start(ctx, "HandlePaymentWebhook", trace.WithAttributes(
		attribute.String("payment_method", string(method)),
	))
	defer span.End()

	gw, err := r.gateways.Get(method)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: %w", ErrUnknownProvider, err)
	}

	if !gw.VerifyWebhookSignature(body, signature) {
		r.logger.Warn("payment webhook signature rejected", "payment_method", method)
		r.metrics.webhook(ctx, string(method), "unauthorized")
		return Ack{}, ErrUnauthorized
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.OutboundTimeout)
	defer cancel()

	settlement, err := gw.ResolveWebhook(callCtx, body)
	if err != nil {
		if errors.Is(err, payment.ErrMalformedWebhook) {
			r.logger.Warn("ignoring malformed payment webhook", "payment_method", method, "error", err)
			return r.ack(ctx, string(method), Ack{Result: AckIgnored}), nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Ack{}, fmt.Errorf("%w: resolve webhook: %w", ErrAdapterUnavailable, err)
	}

	order, err := r.store.GetByCorrelationID(ctx, method, settlement.CorrelationID)
	if err != nil {
		return Ack{}, fmt.Errorf("lookup order: %w", err)
	}
	if order == nil {
		r.logger.Warn("payment webhook for unknown invoice", "payment_method", method, "correlation_id", settlement.CorrelationID)
		return r.ack(ctx, string(method), Ack{Result: AckNotFound}), nil
	}
	span.SetAttributes(attribute.String("order_id", order.ID))

	if !settlement.Settled {
		r.logger.Info("payment webhook without settlement", "order_id", order.ID, "provider_status", settlement.Status)
		return r.ack(ctx, string(method), Ack{Result: AckIgnored, OrderID: order.ID, Status: order.Status}), nil
	}

	err = r.transition(ctx, order.ID, domain.OrderStatusCreated, domain.OrderStatusPaid)
	if errors.Is(err, ErrTransitionRejected) {
		current := r.currentStatus(ctx, order)
		r.logger.Info("duplicate payment webhook", "order_id", order.ID, "status", current)
		return r.ack(ctx, string(method), Ack{Result: AckDuplicate, OrderID: order.ID, Status: current}), nil
	}
	if err != nil {
		return Ack{}, err
	}

	r.logger.Info("order paid", "order_id", order.ID, "correlation_id", settlement.CorrelationID)

	// The order is paid now; a retried webhook only sees a duplicate, so the
	// follow-up work must not die with this request.
	hctx, hcancel := r.handoff(ctx)
	defer hcancel()
	r.enqueueNotification(hctx, order, domain.NotificationPaymentReceived)
	if err := r.tasks.EnqueueDispatch(hctx, order.ID); err != nil {
		r.logger.Error("failed to enqueue dispatch", "error", err, "order_id", order.ID)
	}

	return r.ack(ctx, string(method), Ack{Result: AckApplied, OrderID: order.ID, Status: domain.OrderStatusPaid}), nil
}

// DispatchDelivery submits a paid order to the delivery provider at most
// once. The idempotency key and the paid -> fulfilling move are committed
// together before the provider is called, so concurrent triggers cannot
// both submit. A submission that fails or is refused fails the order.
func (r *Reconciler) DispatchDelivery(ctx context.Context, orderID string) error {
	ctx, span := tracer.Start(ctx, "DispatchDelivery", trace.WithAttributes(
		attribute.String("order_id", orderID),
	))
	defer span.End()

	order, err := r.store.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("lookup order: %w", err)
	}
	if order == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	if order.Status != domain.OrderStatusPaid {
		r.logger.Info("dispatch skipped", "order_id", orderID, "status", order.Status)
		return nil
	}

	product, err := domain.ParseProduct(order.Product)
	if err != nil {
		r.logger.Error("cannot dispatch order, manual intervention required", "error", err, "order_id", orderID, "product", order.Product)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	key := uuid.New().String()
	claimed, err := r.store.ClaimDelivery(ctx, orderID, key)
	if err != nil {
		return fmt.Errorf("claim delivery: %w", err)
	}
	if !claimed {
		r.logger.Info("dispatch already claimed", "order_id", orderID)
		return nil
	}
	r.metrics.transition(ctx, domain.OrderStatusPaid, domain.OrderStatusFulfilling)
	order.Status = domain.OrderStatusFulfilling
	order.DeliveryKey = key

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.OutboundTimeout)
	defer cancel()

	result, err := r.provider.Submit(callCtx, delivery.Submission{
		IdempotencyKey: key,
		Product:        product,
		Recipient:      order.Recipient,
	})
	if err == nil && result.Accepted {
		r.logger.Info("delivery submitted", "order_id", orderID, "idempotency_key", key)
		return nil
	}

	var cause error
	if err != nil {
		cause = fmt.Errorf("%w: submit delivery: %w", ErrAdapterUnavailable, err)
	} else {
		cause = fmt.Errorf("%w: delivery rejected: %s", ErrAdapterUnavailable, result.Reason)
	}
	r.logger.Error("delivery submission failed", "error", cause, "order_id", orderID, "idempotency_key", key)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	hctx, hcancel := r.handoff(ctx)
	defer hcancel()
	switch terr := r.transition(hctx, orderID, domain.OrderStatusFulfilling, domain.OrderStatusFailed); {
	case terr == nil:
		r.notifyOutcome(hctx, order, domain.NotificationFailed)
	case !errors.Is(terr, ErrTransitionRejected):
		return errors.Join(cause, terr)
	}
	return cause
}

// HandleDeliveryWebhook applies the delivery provider's outcome report to
// the order it was submitted for.
func (r *Reconciler) HandleDeliveryWebhook(ctx context.Context, body []byte, signature string) (Ack, error) {
	ctx, span := tracer.Start(ctx, "HandleDeliveryWebhook")
	defer span.End()

	if secret := r.cfg.DeliveryWebhookSecret; secret != "" &&
		subtle.ConstantTimeCompare([]byte(secret), []byte(signature)) != 1 {
		r.logger.Warn("delivery webhook secret rejected")
		r.metrics.webhook(ctx, "delivery", "unauthorized")
		return Ack{}, ErrUnauthorized
	}

	cb, err := delivery.ParseCallback(body)
	if err != nil {
		r.logger.Warn("ignoring malformed delivery webhook", "error", err)
		return r.ack(ctx, "delivery", Ack{Result: AckIgnored}), nil
	}

	order, err := r.store.GetByDeliveryKey(ctx, cb.IdempotencyKey)
	if err != nil {
		return Ack{}, fmt.Errorf("lookup order: %w", err)
	}
	if order == nil {
		r.logger.Warn("delivery webhook for unknown key", "idempotency_key", cb.IdempotencyKey)
		return r.ack(ctx, "delivery", Ack{Result: AckNotFound}), nil
	}
	span.SetAttributes(attribute.String("order_id", order.ID))

	var (
		to   domain.OrderStatus
		kind domain.NotificationKind
	)
	switch {
	case cb.Succeeded():
		to, kind = domain.OrderStatusFulfilled, domain.NotificationFulfilled
	case cb.Failed():
		to, kind = domain.OrderStatusFailed, domain.NotificationFailed
	default:
		r.logger.Info("delivery webhook with interim status", "order_id", order.ID, "provider_status", cb.Status)
		return r.ack(ctx, "delivery", Ack{Result: AckIgnored, OrderID: order.ID, Status: order.Status}), nil
	}

	err = r.transition(ctx, order.ID, domain.OrderStatusFulfilling, to)
	if errors.Is(err, ErrTransitionRejected) {
		current := r.currentStatus(ctx, order)
		r.logger.Info("duplicate delivery webhook", "order_id", order.ID, "status", current)
		return r.ack(ctx, "delivery", Ack{Result: AckDuplicate, OrderID: order.ID, Status: current}), nil
	}
	if err != nil {
		return Ack{}, err
	}

	r.logger.Info("delivery outcome recorded", "order_id", order.ID, "status", to)
	r.notifyOutcome(ctx, order, kind)

	return r.ack(ctx, "delivery", Ack{Result: AckApplied, OrderID: order.ID, Status: to}), nil
}

// SweepExpired moves unpaid orders past their deadline to expired and
// returns how many it moved. A payment landing first wins the guard and the
// order is simply skipped.
func (r *Reconciler) SweepExpired(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "SweepExpired")
	defer span.End()

	now := r.clock.Now()
	total := 0
	for {
		batch, err := r.store.ListExpirable(ctx, now, r.cfg.SweepBatch)
		if err != nil {
			return total, fmt.Errorf("list expirable orders: %w", err)
		}

		moved := 0
		for _, order := range batch {
			err := r.transition(ctx, order.ID, domain.OrderStatusCreated, domain.OrderStatusExpired)
			if errors.Is(err, ErrTransitionRejected) {
				continue
			}
			if err != nil {
				return total, err
			}
			moved++
			r.logger.Info("order expired", "order_id", order.ID, "expires_at", order.ExpiresAt)
		}
		total += moved

		if len(batch) < r.cfg.SweepBatch || moved == 0 {
			break
		}
	}

	if total > 0 {
		r.metrics.expired.Add(ctx, int64(total))
	}
	span.SetAttributes(attribute.Int("expired", total))
	return total, nil
}

func (r *Reconciler) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return order, nil
}

func (r *Reconciler) ListOwnerOrders(ctx context.Context, ownerID string, limit int) ([]domain.Order, error) {
	return r.store.ListByOwner(ctx, ownerID, limit)
}

// transition applies one guarded move. Losing the guard yields
// ErrTransitionRejected, which callers treat as an already-handled event.
func (r *Reconciler) transition(ctx context.Context, id string, from, to domain.OrderStatus) error {
	applied, err := r.store.Transition(ctx, id, from, to)
	if err != nil {
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	if !applied {
		return fmt.Errorf("%w: %s is no longer %s", ErrTransitionRejected, id, from)
	}
	r.metrics.transition(ctx, from, to)
	return nil
}

// notifyOutcome sends the terminal notification once, guarded by the
// order's user_notified flag.
func (r *Reconciler) notifyOutcome(ctx context.Context, order *domain.Order, kind domain.NotificationKind) {
	ctx, cancel := r.handoff(ctx)
	defer cancel()

	marked, err := r.store.MarkNotified(ctx, order.ID)
	if err != nil {
		r.logger.Error("failed to mark order notified", "error", err, "order_id", order.ID)
		return
	}
	if !marked {
		return
	}
	r.enqueueNotification(ctx, order, kind)
}

// handoff detaches work that follows a committed transition from the
// caller's cancellation, keeping its trace and bounding it by the outbound timeout.
func (r *Reconciler) handoff(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.cfg.OutboundTimeout)
}

func (r *Reconciler) enqueueNotification(ctx context.Context, order *domain.Order, kind domain.NotificationKind) {
	n := domain.Notification{
		OrderID:   order.ID,
		OwnerID:   order.OwnerID,
		Product:   order.Product,
		Kind:      kind,
		Timestamp: r.clock.Now(),
	}
	if err := r.tasks.EnqueueNotification(ctx, n); err != nil {
		r.logger.Error("failed to enqueue notification", "error", err, "order_id", order.ID, "kind", kind)
	}
}

func (r *Reconciler) currentStatus(ctx context.Context, order *domain.Order) domain.OrderStatus {
	current, err := r.store.GetByID(ctx, order.ID)
	if err != nil || current == nil {
		return order.Status
	}
	return current.Status
}

func (r *Reconciler) ack(ctx context.Context, source string, a Ack) Ack {
	r.metrics.webhook(ctx, source, a.Result)
	return a
}

package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/starsflow/internal/domain"
)

const uniqueViolation = "23505"

const orderColumns = `
	id, owner_id, recipient, product, amount, currency, payment_method, status,
	provider_correlation_id, pay_url, delivery_idempotency_key, user_notified,
	created_at, expires_at, updated_at`

// OrderRepository is the PostgreSQL Store. Guards live in the WHERE clause
// of each UPDATE so the database arbitrates concurrent writers.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (id, owner_id, recipient, product, amount, currency, payment_method, status,
			provider_correlation_id, pay_url, delivery_idempotency_key, user_notified,
			created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, order.ID, order.OwnerID, order.Recipient, order.Product, order.Amount, order.Currency,
		order.PaymentMethod, order.Status, nullString(order.CorrelationID), nullString(order.PayURL),
		nullString(order.DeliveryKey), order.UserNotified, order.CreatedAt, order.ExpiresAt, order.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateOrder
		}
		return err
	}

	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) GetByCorrelationID(ctx context.Context, method domain.PaymentMethod, correlationID string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT`+orderColumns+`
		FROM orders
		WHERE payment_method = $1 AND provider_correlation_id = $2
	`, method, correlationID)
}

func (r *OrderRepository) GetByDeliveryKey(ctx context.Context, key string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT`+orderColumns+` FROM orders WHERE delivery_idempotency_key = $1`, key)
}

func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Order, error) {
	return r.list(ctx, `SELECT`+orderColumns+`
		FROM orders
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
}

func (r *OrderRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Order, error) {
	return r.list(ctx, `SELECT`+orderColumns+`
		FROM orders
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3
	`, domain.OrderStatusCreated, now, limit)
}

func (r *OrderRepository) AttachInvoice(ctx context.Context, id, correlationID, payURL string) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET provider_correlation_id = $2, pay_url = $3, updated_at = NOW()
		WHERE id = $1 AND provider_correlation_id IS NULL
	`, id, correlationID, nullString(payURL))
}

func (r *OrderRepository) Transition(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	return r.exec(ctx, `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
}

func (r *OrderRepository) ClaimDelivery(ctx context.Context, id, key string) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET status = $3, delivery_idempotency_key = $2, updated_at = NOW()
		WHERE id = $1 AND status = $4 AND delivery_idempotency_key IS NULL
	`, id, key, domain.OrderStatusFulfilling, domain.OrderStatusPaid)
}

func (r *OrderRepository) MarkNotified(ctx context.Context, id string) (bool, error) {
	return r.exec(ctx, `
		UPDATE orders SET user_notified = TRUE, updated_at = NOW()
		WHERE id = $1 AND NOT user_notified
	`, id)
}

func (r *OrderRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order                      domain.Order
		correlationID, payURL, key sql.NullString
	)
	err := row.Scan(&order.ID, &order.OwnerID, &order.Recipient, &order.Product, &order.Amount,
		&order.Currency, &order.PaymentMethod, &order.Status, &correlationID, &payURL, &key,
		&order.UserNotified, &order.CreatedAt, &order.ExpiresAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	order.CorrelationID = correlationID.String
	order.PayURL = payURL.String
	order.DeliveryKey = key.String
	return &order, nil
}

func (r *OrderRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

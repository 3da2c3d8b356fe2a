package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "created"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusFulfilling OrderStatus = "fulfilling"
	OrderStatusFulfilled  OrderStatus = "fulfilled"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusExpired    OrderStatus = "expired"
)

// transitions is the order lifecycle graph. Anything not listed here is
// a backward or skipping move and must never be applied.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusCreated:    {OrderStatusPaid, OrderStatusExpired},
	// paid -> failed covers a failure before any delivery key is claimed.
	// DispatchDelivery claims first, so its own failures leave fulfilling.
	OrderStatusPaid:       {OrderStatusFulfilling, OrderStatusFailed},
	OrderStatusFulfilling: {OrderStatusFulfilled, OrderStatusFailed},
}

func CanTransition(from, to OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFulfilled, OrderStatusFailed, OrderStatusExpired:
		return true
	}
	return false
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPaid, OrderStatusFulfilling,
		OrderStatusFulfilled, OrderStatusFailed, OrderStatusExpired:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCrypto PaymentMethod = "crypto"
	PaymentMethodSBP    PaymentMethod = "sbp"
)

// SelfRecipient marks an order delivered to the purchasing account itself.
const SelfRecipient = "self"

// NormalizeRecipient maps the placeholder the mini app sends for an
// unresolved username onto SelfRecipient.
func NormalizeRecipient(recipient string) string {
	if recipient == "" || recipient == "@unknown" {
		return SelfRecipient
	}
	return recipient
}

type Order struct {
	ID            string          `json:"order_id"`
	OwnerID       string          `json:"owner_id"`
	Recipient     string          `json:"recipient"`
	Product       string          `json:"product"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Status        OrderStatus     `json:"status"`
	CorrelationID string          `json:"provider_correlation_id,omitempty"`
	PayURL        string          `json:"pay_url,omitempty"`
	DeliveryKey   string          `json:"delivery_idempotency_key,omitempty"`
	UserNotified  bool            `json:"user_notified"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Expired reports whether an unpaid order is past its payment deadline.
func (o *Order) Expired(now time.Time) bool {
	return o.Status == OrderStatusCreated && now.After(o.ExpiresAt)
}

package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joao-fontenele/starsflow/internal/domain"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Store persists orders. Every mutation is a compare-and-set: a false
// result means the guard did not hold and nothing was written. Lookups
// return a nil order, not an error, when nothing matches.
type Store interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByCorrelationID(ctx context.Context, method domain.PaymentMethod, correlationID string) (*domain.Order, error)
	GetByDeliveryKey(ctx context.Context, key string) (*domain.Order, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Order, error)
	// ListExpirable returns created orders whose deadline is before now,
	// oldest deadline first.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Order, error)

	// AttachInvoice stores the gateway correlation id while none is set.
	AttachInvoice(ctx context.Context, id, correlationID, payURL string) (bool, error)
	// Transition moves id from one status to another if it is still in from.
	Transition(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error)
	// ClaimDelivery moves a paid order without a delivery key to fulfilling
	// and records key in the same write.
	ClaimDelivery(ctx context.Context, id, key string) (bool, error)
	// MarkNotified sets user_notified if it is still unset.
	MarkNotified(ctx context.Context, id string) (bool, error)
}

func checkTransition(from, to domain.OrderStatus) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/starsflow/internal/clock"
	"github.com/joao-fontenele/starsflow/internal/domain"
)

// MemoryStore is a Store held in process memory, with the same guard
// semantics as OrderRepository. One mutex serialises all writers.
type MemoryStore struct {
	mu     sync.Mutex
	clock  clock.Clock
	orders map[string]*domain.Order
}

func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{
		clock:  c,
		orders: make(map[string]*domain.Order),
	}
}

func (s *MemoryStore) Create(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if _, ok := s.orders[order.ID]; ok {
		return ErrDuplicateOrder
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	stored := *order
	s.orders[order.ID] = &stored
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOf(s.orders[id]), nil
}

func (s *MemoryStore) GetByCorrelationID(_ context.Context, method domain.PaymentMethod, correlationID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.PaymentMethod == method && o.CorrelationID != "" && o.CorrelationID == correlationID {
			return s.copyOf(o), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetByDeliveryKey(_ context.Context, key string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.DeliveryKey != "" && o.DeliveryKey == key {
			return s.copyOf(o), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.Order, error) {
	return s.filter(limit, func(o *domain.Order) bool { return o.OwnerID == ownerID }, func(a, b *domain.Order) bool {
		return a.CreatedAt.After(b.CreatedAt)
	}), nil
}

func (s *MemoryStore) ListExpirable(_ context.Context, now time.Time, limit int) ([]domain.Order, error) {
	return s.filter(limit, func(o *domain.Order) bool { return o.Expired(now) }, func(a, b *domain.Order) bool {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}), nil
}

func (s *MemoryStore) AttachInvoice(_ context.Context, id, correlationID, payURL string) (bool, error) {
	return s.update(id, func(o *domain.Order) bool {
		if o.CorrelationID != "" {
			return false
		}
		o.CorrelationID = correlationID
		o.PayURL = payURL
		return true
	}), nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	return s.update(id, func(o *domain.Order) bool {
		if o.Status != from {
			return false
		}
		o.Status = to
		return true
	}), nil
}

func (s *MemoryStore) ClaimDelivery(_ context.Context, id, key string) (bool, error) {
	return s.update(id, func(o *domain.Order) bool {
		if o.Status != domain.OrderStatusPaid || o.DeliveryKey != "" {
			return false
		}
		o.Status = domain.OrderStatusFulfilling
		o.DeliveryKey = key
		return true
	}), nil
}

func (s *MemoryStore) MarkNotified(_ context.Context, id string) (bool, error) {
	return s.update(id, func(o *domain.Order) bool {
		if o.UserNotified {
			return false
		}
		o.UserNotified = true
		return true
	}), nil
}

func (s *MemoryStore) update(id string, apply func(o *domain.Order) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false
	}
	if !apply(o) {
		return false
	}
	o.UpdatedAt = s.clock.Now()
	return true
}

func (s *MemoryStore) filter(limit int, keep func(*domain.Order) bool, less func(a, b *domain.Order) bool) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*domain.Order, 0)
	for _, o := range s.orders {
		if keep(o) {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	result := make([]domain.Order, len(matched))
	for i, o := range matched {
		result[i] = *o
	}
	return result
}

func (s *MemoryStore) copyOf(o *domain.Order) *domain.Order {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

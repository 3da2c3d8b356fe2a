package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joao-fontenele/starsflow/internal/clock"
	"github.com/joao-fontenele/starsflow/internal/domain"
)

func seedOrder(t *testing.T, s *MemoryStore, id string, status domain.OrderStatus, expiresAt time.Time) {
	t.Helper()
	err := s.Create(context.Background(), &domain.Order{
		ID:            id,
		OwnerID:       "1001",
		Product:       "50 stars",
		PaymentMethod: domain.PaymentMethodCrypto,
		Status:        status,
		CreatedAt:     expiresAt.Add(-10 * time.Minute),
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		t.Fatalf("Create(%s): %v", id, err)
	}
}

func TestMemoryStore_Transition(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(clock.NewFake(testStart))
	seedOrder(t, s, "o1", domain.OrderStatusCreated, testStart)

	t.Run("rejects illegal edge", func(t *testing.T) {
		_, err := s.Transition(ctx, "o1", domain.OrderStatusCreated, domain.OrderStatusFulfilled)
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("expected ErrIllegalTransition, got %v", err)
		}
	})

	t.Run("applies only from expected status", func(t *testing.T) {
		ok, err := s.Transition(ctx, "o1", domain.OrderStatusCreated, domain.OrderStatusPaid)
		if err != nil || !ok {
			t.Fatalf("expected first transition to apply: %v, %v", ok, err)
		}
		ok, err = s.Transition(ctx, "o1", domain.OrderStatusCreated, domain.OrderStatusExpired)
		if err != nil || ok {
			t.Errorf("expected stale transition to be refused: %v, %v", ok, err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		ok, err := s.Transition(ctx, "missing", domain.OrderStatusCreated, domain.OrderStatusPaid)
		if err != nil || ok {
			t.Errorf("expected no-op, got %v, %v", ok, err)
		}
	})
}

func TestMemoryStore_ClaimDelivery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(clock.NewFake(testStart))
	seedOrder(t, s, "o1", domain.OrderStatusPaid, testStart)

	ok, _ := s.ClaimDelivery(ctx, "o1", "k1")
	if !ok {
		t.Fatal("expected first claim to succeed")
	}
	ok, _ = s.ClaimDelivery(ctx, "o1", "k2")
	if ok {
		t.Error("expected second claim to fail")
	}

	order, _ := s.GetByDeliveryKey(ctx, "k1")
	if order == nil || order.Status != domain.OrderStatusFulfilling {
		t.Errorf("unexpected order: %+v", order)
	}
	if o, _ := s.GetByDeliveryKey(ctx, "k2"); o != nil {
		t.Error("second key must not be stored")
	}
}

func TestMemoryStore_MarkNotified(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(clock.NewFake(testStart))
	seedOrder(t, s, "o1", domain.OrderStatusFulfilled, testStart)

	if ok, _ := s.MarkNotified(ctx, "o1"); !ok {
		t.Error("expected first mark to succeed")
	}
	if ok, _ := s.MarkNotified(ctx, "o1"); ok {
		t.Error("expected second mark to fail")
	}
}

func TestMemoryStore_Create(t *testing.T) {
	s := NewMemoryStore(clock.NewFake(testStart))
	seedOrder(t, s, "o1", domain.OrderStatusCreated, testStart)

	err := s.Create(context.Background(), &domain.Order{ID: "o1"})
	if !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("expected ErrDuplicateOrder, got %v", err)
	}

	o := &domain.Order{OwnerID: "1"}
	if err := s.Create(context.Background(), o); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if o.ID == "" {
		t.Error("expected generated id")
	}
}

func TestMemoryStore_Lists(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(clock.NewFake(testStart))
	seedOrder(t, s, "late", domain.OrderStatusCreated, testStart.Add(-time.Minute))
	seedOrder(t, s, "early", domain.OrderStatusCreated, testStart.Add(-time.Hour))
	seedOrder(t, s, "future", domain.OrderStatusCreated, testStart.Add(time.Minute))
	seedOrder(t, s, "paid", domain.OrderStatusPaid, testStart.Add(-time.Hour))

	expirable, _ := s.ListExpirable(ctx, testStart, 10)
	if len(expirable) != 2 || expirable[0].ID != "early" || expirable[1].ID != "late" {
		t.Errorf("unexpected expirable orders: %+v", expirable)
	}

	owned, _ := s.ListByOwner(ctx, "1001", 0)
	if len(owned) != 4 || owned[0].ID != "future" {
		t.Errorf("expected newest first, got %+v", owned)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(clock.NewFake(testStart))
	seedOrder(t, s, "o1", domain.OrderStatusCreated, testStart)

	o, _ := s.GetByID(ctx, "o1")
	o.Status = domain.OrderStatusFulfilled

	again, _ := s.GetByID(ctx, "o1")
	if again.Status != domain.OrderStatusCreated {
		t.Errorf("store mutated through returned pointer: %s", again.Status)
	}
}

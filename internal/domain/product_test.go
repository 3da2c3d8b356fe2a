package domain

import (
	"errors"
	"testing"
)

func TestParseProduct(t *testing.T) {
	tests := []struct {
		descriptor string
		want       Product
	}{
		{"50 stars", Product{Type: ProductStars, Quantity: 50}},
		{"1000 Stars", Product{Type: ProductStars, Quantity: 1000}},
		{"250 ⭐", Product{Type: ProductStars, Quantity: 250}},
		{"Premium 3 months", Product{Type: ProductPremium, Quantity: 3}},
		{"ads 1500", Product{Type: ProductAds, Quantity: 1500}},
		{"1 000 stars", Product{Type: ProductStars, Quantity: 1000}},
		{"1,000 stars", Product{Type: ProductStars, Quantity: 1000}},
		{"2 500 ⭐", Product{Type: ProductStars, Quantity: 2500}},
	}

	for _, tt := range tests {
		t.Run(tt.descriptor, func(t *testing.T) {
			got, err := ParseProduct(tt.descriptor)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}

	for _, descriptor := range []string{"gift box", "stars", "0 stars", "", "99999999999999999999 stars"} {
		t.Run("rejects "+descriptor, func(t *testing.T) {
			_, err := ParseProduct(descriptor)
			if !errors.Is(err, ErrUnknownProduct) {
				t.Errorf("expected ErrUnknownProduct, got %v", err)
			}
		})
	}
}

func TestProduct_Params(t *testing.T) {
	cases := map[ProductType]string{
		ProductStars:   "quantity",
		ProductPremium: "months",
		ProductAds:     "amount",
	}
	for typ, field := range cases {
		params := Product{Type: typ, Quantity: 7}.Params()
		if params[field] != "7" {
			t.Errorf("%s: expected %s=7, got %v", typ, field, params)
		}
		if len(params) != 1 {
			t.Errorf("%s: expected a single field, got %v", typ, params)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]OrderStatus{
		{OrderStatusCreated, OrderStatusPaid},
		{OrderStatusCreated, OrderStatusExpired},
		{OrderStatusPaid, OrderStatusFulfilling},
		{OrderStatusPaid, OrderStatusFailed},
		{OrderStatusFulfilling, OrderStatusFulfilled},
		{OrderStatusFulfilling, OrderStatusFailed},
	}
	for _, e := range allowed {
		if !CanTransition(e[0], e[1]) {
			t.Errorf("expected %s -> %s to be allowed", e[0], e[1])
		}
	}

	rejected := [][2]OrderStatus{
		{OrderStatusPaid, OrderStatusCreated},
		{OrderStatusCreated, OrderStatusFulfilling},
		{OrderStatusExpired, OrderStatusPaid},
		{OrderStatusFulfilled, OrderStatusFailed},
		{OrderStatusFailed, OrderStatusFulfilling},
	}
	for _, e := range rejected {
		if CanTransition(e[0], e[1]) {
			t.Errorf("expected %s -> %s to be rejected", e[0], e[1])
		}
	}
}

func TestNormalizeRecipient(t *testing.T) {
	if got := NormalizeRecipient("@unknown"); got != SelfRecipient {
		t.Errorf("expected %s, got %s", SelfRecipient, got)
	}
	if got := NormalizeRecipient(""); got != SelfRecipient {
		t.Errorf("expected %s, got %s", SelfRecipient, got)
	}
	if got := NormalizeRecipient("@durov"); got != "@durov" {
		t.Errorf("expected @durov, got %s", got)
	}
}

package orders

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/starsflow/internal/domain"
	"github.com/joao-fontenele/starsflow/internal/payment"
)

func newTestHandler(t *testing.T, cfg ReconcilerConfig) (*Handler, *testEnv) {
	t.Helper()
	env := newTestEnv(t, cfg)
	return NewHandler(env.rec, slog.New(slog.NewTextHandler(io.Discard, nil))), env
}

func TestHandler_HandleCreate(t *testing.T) {
	t.Run("creates order", func(t *testing.T) {
		handler, _ := newTestHandler(t, ReconcilerConfig{})

		body := `{"owner_id":"1001","recipient":"@bob","product":"50 stars","amount":"99.5","currency":"RUB","payment_method":"crypto"}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.HandleCreate(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var order domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if order.ID == "" || order.Status != domain.OrderStatusCreated || order.PayURL == "" {
			t.Errorf("unexpected order: %+v", order)
		}
	})

	t.Run("returns 400 for invalid body", func(t *testing.T) {
		handler, _ := newTestHandler(t, ReconcilerConfig{})

		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{`))
		rec := httptest.NewRecorder()

		handler.HandleCreate(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("returns 400 for invalid order", func(t *testing.T) {
		handler, _ := newTestHandler(t, ReconcilerConfig{})

		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"owner_id":"1","product":"50 stars","amount":"0","currency":"RUB","payment_method":"crypto"}`))
		rec := httptest.NewRecorder()

		handler.HandleCreate(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("returns 502 with order when gateway fails", func(t *testing.T) {
		handler, env := newTestHandler(t, ReconcilerConfig{})
		env.gateway.invoiceErr = payment.ErrAdapterUnavailable

		body := `{"owner_id":"1001","product":"50 stars","amount":"10","currency":"RUB","payment_method":"crypto"}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.HandleCreate(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected status 502, got %d", rec.Code)
		}
		var resp map[string]any
		_ = json.NewDecoder(rec.Body).Decode(&resp)
		if _, ok := resp["order_id"]; !ok || resp["error"] == nil {
			t.Errorf("unexpected body: %v", resp)
		}
	})
}

func TestHandler_HandleGet(t *testing.T) {
	handler, env := newTestHandler(t, ReconcilerConfig{})
	order := env.createOrder(t, "50 stars")

	t.Run("returns order", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/orders/"+order.ID, nil)
		req.SetPathValue("id", order.ID)
		rec := httptest.NewRecorder()

		handler.HandleGet(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), order.ID) {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("returns 404 for unknown order", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/orders/missing", nil)
		req.SetPathValue("id", "missing")
		rec := httptest.NewRecorder()

		handler.HandleGet(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleListByOwner(t *testing.T) {
	handler, env := newTestHandler(t, ReconcilerConfig{})
	env.createOrder(t, "50 stars")
	env.createOrder(t, "3 months premium")

	t.Run("lists owner orders", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/1001/orders?limit=1", nil)
		req.SetPathValue("ownerId", "1001")
		rec := httptest.NewRecorder()

		handler.HandleListByOwner(rec, req)

		var orders []domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&orders); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(orders) != 1 {
			t.Errorf("expected 1 order, got %d", len(orders))
		}
	})

	t.Run("returns empty list for unknown owner", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/42/orders", nil)
		req.SetPathValue("ownerId", "42")
		rec := httptest.NewRecorder()

		handler.HandleListByOwner(rec, req)

		if strings.TrimSpace(rec.Body.String()) != "[]" {
			t.Errorf("expected empty list, got %s", rec.Body.String())
		}
	})

	t.Run("rejects bad limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/1001/orders?limit=abc", nil)
		req.SetPathValue("ownerId", "1001")
		rec := httptest.NewRecorder()

		handler.HandleListByOwner(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})
}

func TestHandler_HandlePaymentWebhook(t *testing.T) {
	handler, env := newTestHandler(t, ReconcilerConfig{})
	order := env.createOrder(t, "50 stars")

	send := func(provider, signature string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, strings.NewReader(string(body)))
		req.SetPathValue("provider", provider)
		if signature != "" {
			req.Header.Set(payment.CryptoPaySignatureHeader, signature)
		}
		rec := httptest.NewRecorder()
		handler.HandlePaymentWebhook(rec, req)
		return rec
	}

	t.Run("returns 401 for bad signature", func(t *testing.T) {
		rec := send("crypto", "forged", paidBody(order.CorrelationID))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})

	t.Run("returns 404 for unknown provider", func(t *testing.T) {
		rec := send("paypal", "valid", []byte(`{}`))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("acknowledges applied and duplicate", func(t *testing.T) {
		for _, want := range []AckResult{AckApplied, AckDuplicate} {
			rec := send("crypto", "valid", paidBody(order.CorrelationID))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}
			var ack Ack
			if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
				t.Fatalf("decode ack: %v", err)
			}
			if ack.Result != want {
				t.Errorf("expected %s, got %s", want, ack.Result)
			}
		}
	})

	t.Run("returns 503 when provider cannot be queried", func(t *testing.T) {
		env.gateway.resolveErr = payment.ErrAdapterUnavailable
		defer func() { env.gateway.resolveErr = nil }()

		rec := send("crypto", "valid", paidBody(order.CorrelationID))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleDeliveryWebhook(t *testing.T) {
	handler, env := newTestHandler(t, ReconcilerConfig{DeliveryWebhookSecret: "s3cret"})
	order := env.fulfilling(t)

	t.Run("returns 401 without secret", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/delivery", strings.NewReader(string(deliveryBody(order.DeliveryKey, "success"))))
		rec := httptest.NewRecorder()

		handler.HandleDeliveryWebhook(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})

	t.Run("applies outcome", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/delivery", strings.NewReader(string(deliveryBody(order.DeliveryKey, "success"))))
		req.Header.Set(DeliverySecretHeader, "s3cret")
		rec := httptest.NewRecorder()

		handler.HandleDeliveryWebhook(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if got := env.status(t, order.ID); got != domain.OrderStatusFulfilled {
			t.Errorf("expected fulfilled, got %s", got)
		}
	})
}

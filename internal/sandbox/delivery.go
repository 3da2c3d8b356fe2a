// Package sandbox provides a stand-in for the Robynhood delivery API so the
// whole order flow can run locally.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/joao-fontenele/starsflow/internal/orders"
)

type Config struct {
	APIToken       string
	CallbackURL    string
	CallbackSecret string
	MinDelay       time.Duration
	MaxDelay       time.Duration
}

// DeliveryHandler accepts purchases and reports their outcome to the
// callback URL after a random delay. Recipients starting with "@fail"
// fail asynchronously; "@invalid" is refused synchronously.
type DeliveryHandler struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]bool
	wg   sync.WaitGroup
}

func NewDeliveryHandler(cfg Config, client *http.Client, logger *slog.Logger) *DeliveryHandler {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &DeliveryHandler{
		cfg:    cfg,
		client: client,
		logger: logger,
		seen:   make(map[string]bool),
	}
}

type purchaseResponse struct {
	Status string `json:"status"`
}

func (h *DeliveryHandler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	if h.cfg.APIToken != "" && r.Header.Get("X-API-Key") != h.cfg.APIToken {
		h.writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := req["idempotency_key"]
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "missing idempotency_key")
		return
	}

	switch req["product_type"] {
	case "stars", "premium", "ads":
	default:
		h.writeError(w, http.StatusUnprocessableEntity, "unsupported product_type")
		return
	}

	recipient := req["recipient"]
	if recipient == "@invalid" {
		h.writeError(w, http.StatusUnprocessableEntity, "recipient not found")
		return
	}

	h.mu.Lock()
	duplicate := h.seen[key]
	h.seen[key] = true
	h.mu.Unlock()

	if duplicate {
		h.logger.Info("duplicate purchase", "idempotency_key", key)
		h.writeJSON(w, http.StatusOK, purchaseResponse{Status: "duplicate"})
		return
	}

	status := "success"
	if strings.HasPrefix(recipient, "@fail") {
		status = "failed"
	}

	h.logger.Info("purchase accepted", "idempotency_key", key, "product_type", req["product_type"], "recipient", recipient)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		time.Sleep(h.delay())
		if err := h.callback(context.Background(), key, status); err != nil {
			h.logger.Error("failed to deliver callback", "error", err, "idempotency_key", key)
		}
	}()

	h.writeJSON(w, http.StatusOK, purchaseResponse{Status: "accepted"})
}

// Wait blocks until every scheduled callback has been sent.
func (h *DeliveryHandler) Wait() {
	h.wg.Wait()
}

func (h *DeliveryHandler) delay() time.Duration {
	spread := h.cfg.MaxDelay - h.cfg.MinDelay
	if spread <= 0 {
		return h.cfg.MinDelay
	}
	return h.cfg.MinDelay + time.Duration(rand.Int63n(int64(spread)))
}

func (h *DeliveryHandler) callback(ctx context.Context, key, status string) error {
	data, err := json.Marshal(map[string]string{
		"idempotency_key": key,
		"status":          status,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.CallbackURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.cfg.CallbackSecret != "" {
		req.Header.Set(orders.DeliverySecretHeader, h.cfg.CallbackSecret)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}

	h.logger.Info("callback delivered", "idempotency_key", key, "status", status)
	return nil
}

func (h *DeliveryHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *DeliveryHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

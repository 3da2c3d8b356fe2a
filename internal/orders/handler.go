package orders

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/starsflow/internal/domain"
	"github.com/joao-fontenele/starsflow/internal/payment"
)

const (
	DeliverySecretHeader = "X-Webhook-Secret"

	maxWebhookBody   = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 200
)

type Handler struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewHandler(reconciler *Reconciler, logger *slog.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		logger:     logger,
	}
}

type createOrderResponse struct {
	*domain.Order
	Error string `json:"error,omitempty"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.reconciler.CreateOrder(r.Context(), req)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusCreated, order)
	case errors.Is(err, ErrInvalidOrder):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case order != nil && errors.Is(err, ErrAdapterUnavailable):
		// The order exists without an invoice; the client can still poll it.
		h.writeJSON(w, http.StatusBadGateway, createOrderResponse{Order: order, Error: "payment provider unavailable"})
	default:
		h.logger.Error("failed to create order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.reconciler.GetOrder(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleListByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("ownerId")
	if ownerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing owner id")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	orders, err := h.reconciler.ListOwnerOrders(r.Context(), ownerID, limit)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "owner_id", ownerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}

	h.logger.Info("orders listed", "owner_id", ownerID, "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	method := domain.PaymentMethod(r.PathValue("provider"))
	ack, err := h.reconciler.HandlePaymentWebhook(r.Context(), method, body, r.Header.Get(payment.CryptoPaySignatureHeader))
	h.writeAck(w, ack, err)
}

func (h *Handler) HandleDeliveryWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ack, err := h.reconciler.HandleDeliveryWebhook(r.Context(), body, r.Header.Get(DeliverySecretHeader))
	h.writeAck(w, ack, err)
}

func (h *Handler) writeAck(w http.ResponseWriter, ack Ack, err error) {
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, ack)
	case errors.Is(err, ErrUnauthorized):
		h.writeError(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, ErrUnknownProvider):
		h.writeError(w, http.StatusNotFound, "unknown provider")
	case errors.Is(err, ErrAdapterUnavailable):
		h.logger.Error("webhook could not be resolved", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "provider unavailable")
	default:
		h.logger.Error("failed to process webhook", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/starsflow/internal/domain"
)

var cactusSettled = map[string]bool{
	"ACCEPT":  true,
	"PAID":    true,
	"SUCCESS": true,
}

type CactusPayConfig struct {
	BaseURL string
	Token   string
}

// CactusPay charges through SBP bank transfers. Its callbacks carry no
// signature, so a callback only triggers a status query against the API and
// the queried status is the one trusted.
type CactusPay struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewCactusPay(cfg CactusPayConfig, client *http.Client) *CactusPay {
	return &CactusPay{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: client,
	}
}

func (c *CactusPay) Method() domain.PaymentMethod {
	return domain.PaymentMethodSBP
}

type cactusCreateRequest struct {
	Token       string          `json:"token"`
	OrderID     string          `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Method      string          `json:"method"`
	H2H         bool            `json:"h2h"`
}

type cactusStatusRequest struct {
	Token   string `json:"token"`
	OrderID string `json:"order_id"`
}

type cactusResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

func (c *CactusPay) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	resp, err := c.call(ctx, "create", cactusCreateRequest{
		Token:       c.token,
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		Description: "Покупка " + req.Recipient,
		Method:      "sbp",
	})
	if err != nil {
		return nil, fmt.Errorf("cactuspay create payment: %w", err)
	}

	var created struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp.Response, &created); err != nil || created.URL == "" {
		return nil, fmt.Errorf("%w: cactuspay returned no payment url", ErrAdapterUnavailable)
	}

	return &Invoice{CorrelationID: req.OrderID, PayURL: created.URL}, nil
}

// VerifyWebhookSignature accepts every callback: the status is re-queried
// in ResolveWebhook before anything is trusted.
func (c *CactusPay) VerifyWebhookSignature([]byte, string) bool {
	return true
}

func (c *CactusPay) ResolveWebhook(ctx context.Context, body []byte) (*Settlement, error) {
	orderID := callbackOrderID(body)
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing order_id", ErrMalformedWebhook)
	}

	status, err := c.Status(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &Settlement{
		CorrelationID: orderID,
		Status:        status,
		Settled:       cactusSettled[strings.ToUpper(status)],
	}, nil
}

// Status asks CactusPay for the current state of the payment for orderID.
func (c *CactusPay) Status(ctx context.Context, orderID string) (string, error) {
	resp, err := c.call(ctx, "get", cactusStatusRequest{Token: c.token, OrderID: orderID})
	if err != nil {
		return "", fmt.Errorf("cactuspay get status: %w", err)
	}

	var payment struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Response, &payment); err != nil {
		return "", fmt.Errorf("%w: decode status: %v", ErrAdapterUnavailable, err)
	}
	return payment.Status, nil
}

func (c *CactusPay) call(ctx context.Context, method string, payload any) (*cactusResponse, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("method", method)
	u.RawQuery = q.Encode()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := doJSON(c.httpClient, req)
	if err != nil {
		return nil, err
	}

	var resp cactusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrAdapterUnavailable, err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("%w: cactuspay replied %q: %s", ErrAdapterUnavailable, resp.Status, resp.Response)
	}
	return &resp, nil
}

// callbackOrderID reads order_id from either a JSON or a form-encoded body.
func callbackOrderID(body []byte) string {
	var payload struct {
		OrderID flexID `json:"order_id"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.OrderID != "" {
		return string(payload.OrderID)
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return ""
	}
	return values.Get("order_id")
}

package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/starsflow/internal/domain"
)

var (
	// ErrAdapterUnavailable covers network failures, timeouts and non-2xx
	// replies from a payment provider.
	ErrAdapterUnavailable = errors.New("payment provider unavailable")
	ErrMalformedWebhook   = errors.New("malformed webhook payload")
	ErrUnknownMethod      = errors.New("unknown payment method")
)

type InvoiceRequest struct {
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
	Recipient string
}

type Invoice struct {
	CorrelationID string
	PayURL        string
}

// Settlement is the trusted outcome of one inbound payment callback.
type Settlement struct {
	CorrelationID string
	Status        string
	Settled       bool
}

type Gateway interface {
	Method() domain.PaymentMethod
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
	VerifyWebhookSignature(body []byte, signature string) bool
	// ResolveWebhook turns an authenticated callback body into a Settlement.
	// Gateways that cannot sign callbacks query the provider here.
	ResolveWebhook(ctx context.Context, body []byte) (*Settlement, error)
}

type Registry struct {
	gateways map[domain.PaymentMethod]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[domain.PaymentMethod]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Method()] = g
	}
	return r
}

func (r *Registry) Get(method domain.PaymentMethod) (Gateway, error) {
	g, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return g, nil
}

func doJSON(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrAdapterUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrAdapterUnavailable, resp.StatusCode)
	}

	return body, nil
}

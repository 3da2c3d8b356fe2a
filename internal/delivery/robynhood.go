package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/joao-fontenele/starsflow/internal/domain"
)

var (
	ErrAdapterUnavailable = errors.New("delivery provider unavailable")
	ErrMalformedCallback  = errors.New("malformed delivery callback")
)

type Submission struct {
	IdempotencyKey string
	Product        domain.Product
	Recipient      string
}

type Result struct {
	Accepted bool
	Reason   string
}

type Provider interface {
	Submit(ctx context.Context, s Submission) (Result, error)
}

type RobynhoodConfig struct {
	APIURL   string
	APIToken string
}

// Robynhood submits purchases to the Robynhood fulfilment API. The API
// deduplicates on idempotency_key; callers still submit once per order.
type Robynhood struct {
	apiURL     string
	apiToken   string
	httpClient *http.Client
}

func NewRobynhood(cfg RobynhoodConfig, client *http.Client) *Robynhood {
	return &Robynhood{
		apiURL:     cfg.APIURL,
		apiToken:   cfg.APIToken,
		httpClient: client,
	}
}

func (r *Robynhood) Submit(ctx context.Context, s Submission) (Result, error) {
	payload := map[string]string{
		"product_type":    string(s.Product.Type),
		"recipient":       s.Recipient,
		"idempotency_key": s.IdempotencyKey,
	}
	for k, v := range s.Product.Params() {
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal purchase: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiURL, bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("create purchase request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", r.apiToken)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("%w: status %d", ErrAdapterUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return Result{Accepted: false, Reason: strings.TrimSpace(string(body))}, nil
	}

	return Result{Accepted: true}, nil
}

// Callback is the delivery provider's asynchronous outcome report.
type Callback struct {
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
}

var (
	successStatuses = map[string]bool{"success": true, "completed": true, "done": true}
	failureStatuses = map[string]bool{"failed": true, "error": true, "rejected": true, "cancelled": true}
)

func (c Callback) Succeeded() bool {
	return successStatuses[strings.ToLower(c.Status)]
}

func (c Callback) Failed() bool {
	return failureStatuses[strings.ToLower(c.Status)]
}

func ParseCallback(body []byte) (Callback, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if cb.IdempotencyKey == "" {
		return Callback{}, fmt.Errorf("%w: missing idempotency_key", ErrMalformedCallback)
	}
	return cb, nil
}

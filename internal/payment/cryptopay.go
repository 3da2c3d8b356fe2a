package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/joao-fontenele/starsflow/internal/domain"
)

// CryptoPaySignatureHeader carries the hex HMAC of the webhook body.
const CryptoPaySignatureHeader = "crypto-pay-api-signature"

var cryptoAssets = map[string]bool{
	"USDT": true, "TON": true, "BTC": true, "ETH": true,
	"LTC": true, "BNB": true, "TRX": true, "USDC": true,
}

type CryptoPayConfig struct {
	BaseURL string
	Token   string
}

// CryptoPay issues invoices through the Crypto Pay API. Webhooks are signed
// with HMAC-SHA256 keyed by the SHA-256 digest of the API token.
type CryptoPay struct {
	baseURL    string
	token      string
	signingKey [32]byte
	httpClient *http.Client
}

func NewCryptoPay(cfg CryptoPayConfig, client *http.Client) *CryptoPay {
	return &CryptoPay{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		signingKey: sha256.Sum256([]byte(cfg.Token)),
		httpClient: client,
	}
}

func (c *CryptoPay) Method() domain.PaymentMethod {
	return domain.PaymentMethodCrypto
}

type createInvoiceRequest struct {
	CurrencyType   string `json:"currency_type"`
	Asset          string `json:"asset,omitempty"`
	Fiat           string `json:"fiat,omitempty"`
	Amount         string `json:"amount"`
	Description    string `json:"description"`
	Payload        string `json:"payload"`
	AllowComments  bool   `json:"allow_comments"`
	AllowAnonymous bool   `json:"allow_anonymous"`
}

type cryptoPayInvoice struct {
	InvoiceID     flexID `json:"invoice_id"`
	Status        string `json:"status"`
	BotInvoiceURL string `json:"bot_invoice_url"`
	PayURL        string `json:"pay_url"`
	Payload       string `json:"payload"`
}

type cryptoPayResponse struct {
	OK     bool             `json:"ok"`
	Result cryptoPayInvoice `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

func (c *CryptoPay) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	body := createInvoiceRequest{
		Amount:      req.Amount.String(),
		Description: "Покупка " + req.Recipient,
		Payload:     req.OrderID,
	}
	currency := strings.ToUpper(req.Currency)
	if cryptoAssets[currency] {
		body.CurrencyType = "crypto"
		body.Asset = currency
	} else {
		body.CurrencyType = "fiat"
		body.Fiat = currency
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/createInvoice", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create invoice request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Crypto-Pay-API-Token", c.token)

	raw, err := doJSON(c.httpClient, httpReq)
	if err != nil {
		return nil, fmt.Errorf("crypto pay create invoice: %w", err)
	}

	var resp cryptoPayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode invoice response: %v", ErrAdapterUnavailable, err)
	}
	if !resp.OK {
		name := "unknown error"
		if resp.Error != nil {
			name = resp.Error.Name
		}
		return nil, fmt.Errorf("%w: crypto pay rejected invoice: %s", ErrAdapterUnavailable, name)
	}
	if resp.Result.InvoiceID == "" {
		return nil, fmt.Errorf("%w: crypto pay returned no invoice id", ErrAdapterUnavailable)
	}

	payURL := resp.Result.BotInvoiceURL
	if payURL == "" {
		payURL = resp.Result.PayURL
	}

	return &Invoice{CorrelationID: string(resp.Result.InvoiceID), PayURL: payURL}, nil
}

func (c *CryptoPay) VerifyWebhookSignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, c.signingKey[:])
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign computes the signature a valid webhook for body carries.
func (c *CryptoPay) Sign(body []byte) string {
	mac := hmac.New(sha256.New, c.signingKey[:])
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type cryptoPayUpdate struct {
	UpdateID   int64            `json:"update_id"`
	UpdateType string           `json:"update_type"`
	Payload    cryptoPayInvoice `json:"payload"`
}

func (c *CryptoPay) ResolveWebhook(_ context.Context, body []byte) (*Settlement, error) {
	var update cryptoPayUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if update.Payload.InvoiceID == "" {
		return nil, fmt.Errorf("%w: missing payload.invoice_id", ErrMalformedWebhook)
	}

	status := update.Payload.Status
	if status == "" {
		status = update.UpdateType
	}

	return &Settlement{
		CorrelationID: string(update.Payload.InvoiceID),
		Status:        status,
		Settled:       update.UpdateType == "invoice_paid" || update.Payload.Status == "paid",
	}, nil
}

// flexID accepts identifiers encoded either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

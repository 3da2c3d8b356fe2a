package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/joao-fontenele/starsflow/internal/domain"
)

var (
	ErrUnknownKind = errors.New("unknown notification kind")
	// ErrRejected means Telegram refused the message itself, e.g. the user
	// blocked the bot. Resending will not help.
	ErrRejected = errors.New("telegram rejected message")
)

type Sink interface {
	Notify(ctx context.Context, n domain.Notification) error
}

type TelegramConfig struct {
	APIURL      string
	BotToken    string
	BotUsername string
}

// Telegram sends notifications through the Bot API sendMessage method.
type Telegram struct {
	apiURL      string
	botToken    string
	botUsername string
	httpClient  *http.Client
}

func NewTelegram(cfg TelegramConfig, client *http.Client) *Telegram {
	return &Telegram{
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		botToken:    cfg.BotToken,
		botUsername: cfg.BotUsername,
		httpClient:  client,
	}
}

type inlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type sendMessageRequest struct {
	ChatID      string `json:"chat_id"`
	Text        string `json:"text"`
	ParseMode   string `json:"parse_mode"`
	ReplyMarkup struct {
		InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
	} `json:"reply_markup"`
}

func (t *Telegram) Notify(ctx context.Context, n domain.Notification) error {
	text, err := MessageText(n)
	if err != nil {
		return err
	}

	msg := sendMessageRequest{
		ChatID:    n.OwnerID,
		Text:      text,
		ParseMode: "HTML",
	}
	msg.ReplyMarkup.InlineKeyboard = [][]inlineButton{{{
		Text: "Открыть приложение",
		URL:  fmt.Sprintf("https://t.me/%s?startapp=%s", t.botUsername, url.QueryEscape(n.OrderID)),
	}}}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	return nil
}

func MessageText(n domain.Notification) (string, error) {
	product := html.EscapeString(n.Product)
	switch n.Kind {
	case domain.NotificationPaymentReceived:
		return fmt.Sprintf("Оплата успешно завершена!\nВы купили: <b>%s</b>", product), nil
	case domain.NotificationFulfilled:
		return fmt.Sprintf("Заказ выполнен!\n<b>%s</b> доставлены получателю.", product), nil
	case domain.NotificationFailed:
		return fmt.Sprintf("Не удалось выполнить заказ: <b>%s</b>.\nМы свяжемся с вами для возврата средств.", product), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, n.Kind)
}

// LogSink only logs; used when no bot token is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, n domain.Notification) error {
	s.logger.Info("notification", "order_id", n.OrderID, "owner_id", n.OwnerID, "kind", n.Kind, "product", n.Product)
	return nil
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/starsflow/internal/domain"
)

func TestTelegram_Notify(t *testing.T) {
	t.Run("posts html message to owner chat", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/botTOKEN/sendMessage" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			var msg sendMessageRequest
			if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
				t.Errorf("failed to decode body: %v", err)
				return
			}
			if msg.ChatID != "1001" || msg.ParseMode != "HTML" {
				t.Errorf("unexpected message %+v", msg)
			}
			if !strings.Contains(msg.Text, "<b>50 stars</b>") {
				t.Errorf("unexpected text %q", msg.Text)
			}
			if len(msg.ReplyMarkup.InlineKeyboard) != 1 || msg.ReplyMarkup.InlineKeyboard[0][0].URL != "https://t.me/more_stars_bot?startapp=order-1" {
				t.Errorf("unexpected keyboard %+v", msg.ReplyMarkup)
			}
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer server.Close()

		sink := NewTelegram(TelegramConfig{APIURL: server.URL, BotToken: "TOKEN", BotUsername: "more_stars_bot"}, server.Client())
		err := sink.Notify(context.Background(), domain.Notification{
			OrderID: "order-1", OwnerID: "1001", Product: "50 stars", Kind: domain.NotificationPaymentReceived,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("returns error on non-200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		sink := NewTelegram(TelegramConfig{APIURL: server.URL, BotToken: "TOKEN"}, server.Client())
		err := sink.Notify(context.Background(), domain.Notification{OrderID: "o", OwnerID: "1", Kind: domain.NotificationFulfilled})
		if !errors.Is(err, ErrRejected) {
			t.Errorf("expected ErrRejected, got %v", err)
		}
	})
}

func TestMessageText(t *testing.T) {
	text, err := MessageText(domain.Notification{Product: "<script>", Kind: domain.NotificationFailed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(text, "<script>") {
		t.Errorf("product must be escaped: %q", text)
	}

	if _, err := MessageText(domain.Notification{Kind: "promo"}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestLogSink(t *testing.T) {
	sink := NewLogSink(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := sink.Notify(context.Background(), domain.Notification{OrderID: "o"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

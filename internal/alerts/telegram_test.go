package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"px-position-manager/internal/config"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

func TestTelegramSendDisabled(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: false}
	client := newTelegram(cfg, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected nil error when disabled, got %v", err)
	}
}

func TestTelegramSendMissingConfig(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: true}
	client := newTelegram(cfg, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for missing token/chat_id")
	}
}

func TestTelegramSendPostsMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	if err := client.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected send success, got %v", err)
	}
	if gotPath != "/bottoken/sendMessage" {
		t.Fatalf("expected path /bottoken/sendMessage, got %s", gotPath)
	}
	if gotPayload["chat_id"] != "123" || gotPayload["text"] != "hello" {
		t.Fatalf("unexpected payload %v", gotPayload)
	}
}

func TestTelegramReportsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	err := client.Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Send(context.Context, string) error {
	f.calls++
	return errors.New("down")
}

func TestNotifySwallowsFailure(t *testing.T) {
	n := &failingNotifier{}
	Notify(context.Background(), n, zap.NewNop(), "hello")
	if n.calls != 1 {
		t.Fatalf("expected one send, got %d", n.calls)
	}
	Notify(context.Background(), nil, zap.NewNop(), "hello")
}

func TestFormatOperation(t *testing.T) {
	pos := solana.NewWallet().PublicKey()
	msg := FormatOperation(Operation{Name: "unwind", Position: pos, Market: pos, Err: errors.New("boom")})
	if !strings.HasPrefix(msg, "position unwind failed") || !strings.Contains(msg, "error: boom") {
		t.Fatalf("unexpected message %q", msg)
	}
	msg = FormatOperation(Operation{Name: "open", Position: pos, Detail: "bid 10 lots"})
	if !strings.HasPrefix(msg, "position open ok") || !strings.Contains(msg, "bid 10 lots") {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestTelegramGetUpdates(t *testing.T) {
	var gotOffset float64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/getUpdates" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		gotOffset, _ = payload["offset"].(float64)
		_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":9,"message":{"message_id":1,"from":{"id":5,"username":"op"},"chat":{"id":123},"text":"/status"}}]}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	updates, err := client.GetUpdates(context.Background(), 9, 0)
	if err != nil {
		t.Fatalf("get updates: %v", err)
	}
	if gotOffset != 9 {
		t.Fatalf("expected offset 9, got %v", gotOffset)
	}
	if len(updates) != 1 || updates[0].Message == nil || updates[0].Message.Text != "/status" || updates[0].Message.From.ID != 5 {
		t.Fatalf("unexpected updates %+v", updates)
	}
}

func TestTelegramGetUpdatesDisabled(t *testing.T) {
	client := newTelegram(config.TelegramConfig{}, zap.NewNop(), "http://unused", nil)
	updates, err := client.GetUpdates(context.Background(), 0, 0)
	if err != nil || updates != nil {
		t.Fatalf("expected no updates when disabled, got %v %v", updates, err)
	}
}

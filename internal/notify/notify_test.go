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

	"github.com/luthebao/xtools-sub000/internal/domain"
)

type recordingSender struct {
	name     string
	titles   []string
	messages []string
	err      error
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEventTypes(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventActionFailed}, discard())

	if err := n.Notify(context.Background(), EventFreshWallet, "skip", "body"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.Notify(context.Background(), EventActionFailed, "keep", "body"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(sender.titles) != 1 || sender.titles[0] != "keep" {
		t.Errorf("delivered titles = %v, want [keep]", sender.titles)
	}
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discard())

	for _, event := range []string{EventFreshWallet, EventActionCompleted, EventActionFailed, EventError} {
		if err := n.Notify(context.Background(), event, event, "body"); err != nil {
			t.Fatalf("Notify(%s): %v", event, err)
		}
	}
	if len(sender.titles) != 4 {
		t.Errorf("delivered %d notifications, want 4", len(sender.titles))
	}
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("webhook gone")}
	healthy := &recordingSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, discard())

	err := n.Notify(context.Background(), EventError, "title", "body")
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q does not name the failed sender", err)
	}
	if len(healthy.titles) != 1 {
		t.Errorf("healthy sender delivered %d, want 1", len(healthy.titles))
	}
}

func TestFreshWalletMessage(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discard())

	event := domain.TradeEvent{
		WalletAddress: "0x5668abc",
		Price:         0.5,
		Size:          2000,
		Outcome:       "Yes",
		MarketName:    "Will it rain tomorrow?",
		MarketLink:    "https://polymarket.com/event/rain",
		Profile:       &domain.WalletProfile{Nonce: 0, FreshnessLevel: "brand_new"},
	}
	if err := n.FreshWallet(context.Background(), event); err != nil {
		t.Fatalf("FreshWallet: %v", err)
	}

	msg := sender.messages[0]
	for _, want := range []string{"0x5668abc", "$1000", "Will it rain tomorrow?", "brand_new", "https://polymarket.com/event/rain"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestActionFailedMessage(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discard())

	action := domain.Action{
		AccountID:   "acct-1",
		TriggerType: domain.TriggerFreshInsider,
		RetryCount:  4,
		LastError:   "generate: service unavailable",
	}
	if err := n.ActionFailed(context.Background(), action); err != nil {
		t.Fatalf("ActionFailed: %v", err)
	}
	msg := sender.messages[0]
	if !strings.Contains(msg, "acct-1") || !strings.Contains(msg, "service unavailable") {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/bot123:abc/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewTelegramSender("123:abc", "chat-9")
	sender.apiBase = srv.URL

	if err := sender.Send(context.Background(), "Title", "Body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["chat_id"] != "chat-9" {
		t.Errorf("chat_id = %q", got["chat_id"])
	}
	if !strings.Contains(got["text"], "*Title*") {
		t.Errorf("text = %q", got["text"])
	}
}

func TestDiscordSenderReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid webhook", http.StatusUnauthorized)
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	err := sender.Send(context.Background(), "Title", "Body")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

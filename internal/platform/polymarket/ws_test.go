package polymarket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// fakeFeed upgrades incoming connections, records the subscribe command,
// and pushes the configured frames to the client.
type fakeFeed struct {
	upgrader websocket.Upgrader
	frames   []string
	gotSub   chan subscribeCommand
}

func newFakeFeed(frames []string) *fakeFeed {
	return &fakeFeed{
		frames: frames,
		gotSub: make(chan subscribeCommand, 1),
	}
}

func (f *fakeFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var cmd subscribeCommand
	if err := json.Unmarshal(msg, &cmd); err == nil {
		select {
		case f.gotSub <- cmd:
		default:
		}
	}

	for _, frame := range f.frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}

	// Keep the connection open until the client closes it.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func wsTestURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClientSubscribesAndDispatches(t *testing.T) {
	tradeFrame := `{"topic":"activity","type":"trades","payload":{"asset":"1","proxyWallet":"0xabc","price":0.5,"size":200,"side":"buy","timestamp":1756300000}}`
	feed := newFakeFeed([]string{
		`{"topic":"activity","type":"subscribed"}`,
		tradeFrame,
	})
	srv := httptest.NewServer(feed)
	defer srv.Close()

	client := NewWSClient(wsTestURL(srv), slog.Default())
	defer client.Close()

	received := make(chan domain.TradeEvent, 4)
	client.OnTrade(func(event domain.TradeEvent) {
		received <- event
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case cmd := <-feed.gotSub:
		if cmd.Action != "subscribe" {
			t.Errorf("action = %q, want subscribe", cmd.Action)
		}
		if len(cmd.Subscriptions) != 1 || cmd.Subscriptions[0].Topic != "activity" || cmd.Subscriptions[0].Type != "trades" {
			t.Errorf("subscriptions = %+v", cmd.Subscriptions)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received a subscribe command")
	}

	select {
	case event := <-received:
		if event.AssetID != "1" || event.Side != "BUY" {
			t.Errorf("unexpected event %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("trade never dispatched")
	}

	// The non-trade ack frame must not reach the handler.
	select {
	case event := <-received:
		t.Errorf("unexpected extra event %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWSClientConnectIdempotent(t *testing.T) {
	feed := newFakeFeed(nil)
	srv := httptest.NewServer(feed)
	defer srv.Close()

	client := NewWSClient(wsTestURL(srv), slog.Default())
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if !client.Connected() {
		t.Error("client should report connected")
	}
}

func TestWSClientCloseIdempotent(t *testing.T) {
	feed := newFakeFeed(nil)
	srv := httptest.NewServer(feed)
	defer srv.Close()

	client := NewWSClient(wsTestURL(srv), slog.Default())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if client.Connected() {
		t.Error("client should report disconnected after Close")
	}
}

// A dial failure must not surface as a fatal Connect error; the client keeps
// retrying in the background until the feed comes up.
func TestWSClientConnectRecoversFromDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	client := NewWSClient("ws://"+addr, slog.Default())
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect with no listener should hand off to the retry loop, got %v", err)
	}
	if client.Connected() {
		t.Fatal("nothing is listening, client cannot be connected")
	}

	// Bring the feed up on the same address and wait for the retry loop.
	ln2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("address %s no longer free: %v", addr, err)
	}
	srv := &http.Server{Handler: newFakeFeed(nil)}
	go srv.Serve(ln2)
	defer srv.Close()

	deadline := time.After(5 * time.Second)
	for !client.Connected() {
		select {
		case <-deadline:
			t.Fatal("client never recovered from the failed dial")
		case <-time.After(50 * time.Millisecond):
		}
	}
	if client.Reconnects() == 0 {
		t.Error("recovery should be counted as a reconnect")
	}
}

func TestWSClientConnectAfterClose(t *testing.T) {
	feed := newFakeFeed(nil)
	srv := httptest.NewServer(feed)
	defer srv.Close()

	client := NewWSClient(wsTestURL(srv), slog.Default())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Start a fresh lifecycle on the same client.
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after Close: %v", err)
	}
	defer client.Close()
	if !client.Connected() {
		t.Error("client should reconnect after Close")
	}
}

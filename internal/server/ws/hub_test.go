package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

type fakeBus struct {
	mu      sync.Mutex
	chans   map[string]chan []byte
	backlog []domain.StreamMessage
}

func newFakeBus(backlog ...domain.StreamMessage) *fakeBus {
	return &fakeBus{chans: map[string]chan []byte{}, backlog: backlog}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	ch := f.chans[channel]
	f.mu.Unlock()
	if ch != nil {
		ch <- payload
	}
	return nil
}

func (f *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []byte, 8)
	f.chans[channel] = ch
	return ch, nil
}

func (f *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backlog = append(f.backlog, domain.StreamMessage{Payload: payload})
	return nil
}

func (f *fakeBus) StreamRecent(_ context.Context, _ string, count int) ([]domain.StreamMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.backlog) > count {
		return f.backlog[len(f.backlog)-count:], nil
	}
	return f.backlog, nil
}

func (f *fakeBus) subscribed(channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.chans[channel]
	return ok
}

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

// A connecting client gets the hello frame first, then the recent
// fresh-alert backlog replayed from the durable stream.
func TestHubRepliesHelloThenFreshBacklog(t *testing.T) {
	bus := newFakeBus(domain.StreamMessage{ID: "1-0", Payload: []byte(`{"id":"ev-1"}`)})
	h := NewHub(bus, "server", slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn := dialHub(t, h)

	var hello struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(readFrame(t, conn), &hello); err != nil {
		t.Fatalf("unmarshal hello: %v", err)
	}
	if hello.Type != "hello" {
		t.Fatalf("first frame type = %q, want hello", hello.Type)
	}

	var env envelope
	if err := json.Unmarshal(readFrame(t, conn), &env); err != nil {
		t.Fatalf("unmarshal backlog frame: %v", err)
	}
	if env.Channel != domain.ChannelFresh {
		t.Errorf("backlog channel = %q, want %q", env.Channel, domain.ChannelFresh)
	}
	if string(env.Payload) != `{"id":"ev-1"}` {
		t.Errorf("backlog payload = %s", env.Payload)
	}
}

func TestHubBroadcastsBusMessages(t *testing.T) {
	bus := newFakeBus()
	h := NewHub(bus, "server", slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	// Wait for the bridge before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for !bus.subscribed(domain.ChannelEvents) {
		if time.Now().After(deadline) {
			t.Fatal("hub never subscribed to the event channel")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn := dialHub(t, h)
	readFrame(t, conn) // hello

	if err := bus.Publish(context.Background(), domain.ChannelEvents, []byte(`{"id":"ev-2"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(readFrame(t, conn), &env); err != nil {
		t.Fatalf("unmarshal broadcast frame: %v", err)
	}
	if env.Channel != domain.ChannelEvents || string(env.Payload) != `{"id":"ev-2"}` {
		t.Errorf("got %s on %q", env.Payload, env.Channel)
	}
}

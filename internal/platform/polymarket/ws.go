// Package polymarket provides clients for the Polymarket live-data feed
// and its REST APIs (Gamma metadata, wallet data).
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait bounds the gap between inbound frames. It is reset on every
	// received frame, including keepalive responses; expiry is treated as a
	// dead connection.
	readWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less
	// than readWait.
	pingPeriod = 30 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 1 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 30 * time.Second
)

// TradeHandler receives every parsed trade event, called synchronously from
// the read loop. It must not block; slow work belongs on a queue.
type TradeHandler func(domain.TradeEvent)

// WSClient subscribes to the Polymarket live-data activity feed. It manages
// the connection lifecycle, keepalive, and reconnection with exponential
// backoff, dispatching parsed trades to a single registered handler.
type WSClient struct {
	wsURL  string
	logger *slog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	closed     bool
	connecting bool

	handlerMu   sync.RWMutex
	onTrade     TradeHandler
	onReconnect func(count int64)

	reconnects int64

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a client for the given live-data endpoint, e.g.
// "wss://ws-live-data.polymarket.com".
func NewWSClient(wsURL string, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "polymarket_ws")),
		done:   make(chan struct{}),
	}
}

// OnTrade registers the trade handler. Must be called before Connect.
func (w *WSClient) OnTrade(handler TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.onTrade = handler
}

// OnReconnect registers an optional observer called after each successful
// (re)connection with the number of reconnects so far (0 on first connect).
func (w *WSClient) OnReconnect(handler func(count int64)) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.onReconnect = handler
}

// Connect establishes the WebSocket connection and subscribes to the
// all-trades activity topic. The read and ping loops run until Close.
// If the initial dial fails, Connect returns nil and keeps retrying in the
// background with the same backoff used after a dropped connection, so a
// feed outage at startup does not take the process down.
// Idempotent while connected or retrying; calling Connect after Close
// starts a fresh connection lifecycle.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		w.closed = false
		w.done = make(chan struct{})
	}
	if w.conn != nil || w.connecting {
		return nil
	}

	err := w.connectLocked(ctx)
	if err == nil {
		return nil
	}

	w.logger.Warn("connect failed, retrying in background", slog.String("error", err.Error()))
	w.connecting = true
	go w.redial(w.done)
	return nil
}

// connectLocked dials and starts the background loops. Caller must hold
// w.mu with w.closed false.
func (w *WSClient) connectLocked(ctx context.Context) error {
	if w.conn != nil {
		return nil // already connected
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	w.conn = conn

	if err := w.subscribeLocked(); err != nil {
		conn.Close()
		w.conn = nil
		return err
	}

	done := w.done
	go w.readLoop(conn, done)
	go w.pingLoop(conn, done)

	w.handlerMu.RLock()
	onReconnect := w.onReconnect
	w.handlerMu.RUnlock()
	if onReconnect != nil {
		onReconnect(w.reconnects)
	}

	return nil
}

// Close shuts down the connection and stops the background loops.
// Safe to call more than once.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.connecting = false
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

// Connected reports whether a connection is currently established.
func (w *WSClient) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn != nil
}

// Reconnects returns the number of reconnections performed so far.
func (w *WSClient) Reconnects() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reconnects
}

// subscribeLocked sends the all-trades subscription. Caller must hold w.mu.
func (w *WSClient) subscribeLocked() error {
	cmd := subscribeCommand{
		Action: "subscribe",
		Subscriptions: []subscription{
			{Topic: "activity", Type: "trades"},
		},
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	return nil
}

// readLoop reads frames until the connection dies, then hands off to
// reconnect. Runs in its own goroutine per connection.
func (w *WSClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readWait))
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}

			w.logger.Warn("read failed, reconnecting", slog.String("error", err.Error()))
			w.reconnect(conn, done)
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (w *WSClient) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // read loop will notice and reconnect
			}
		}
	}
}

// handleMessage parses one frame and dispatches it. Frames that are not
// trade payloads are dropped; malformed ones are logged and dropped.
func (w *WSClient) handleMessage(raw []byte) {
	event, ok, err := ParseFrame(raw)
	if err != nil {
		w.logger.Debug("dropping malformed frame", slog.String("error", err.Error()))
		return
	}
	if !ok {
		return
	}

	w.handlerMu.RLock()
	handler := w.onTrade
	w.handlerMu.RUnlock()

	if handler != nil {
		handler(event)
	}
}

// reconnect tears down a dead connection and re-establishes it in the
// calling goroutine via the shared backoff loop.
func (w *WSClient) reconnect(old *websocket.Conn, done chan struct{}) {
	w.mu.Lock()
	if w.conn == old {
		w.conn = nil
	}
	w.connecting = true
	w.mu.Unlock()
	old.Close()

	w.redial(done)
}

// redial dials with exponential backoff, starting at reconnectDelay and
// doubling up to maxReconnectDelay. Blocks until connected or the client is
// closed. Caller must have set w.connecting; redial clears it on exit.
func (w *WSClient) redial(done chan struct{}) {
	delay := reconnectDelay

	for {
		select {
		case <-done:
			w.mu.Lock()
			w.connecting = false
			w.mu.Unlock()
			return
		case <-time.After(delay):
		}

		w.mu.Lock()
		w.reconnects++
		attempt := w.reconnects

		var err error
		if w.closed {
			err = domain.ErrWSDisconnect
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			err = w.connectLocked(ctx)
			cancel()
		}
		if err == nil || errors.Is(err, domain.ErrWSDisconnect) {
			w.connecting = false
		}
		w.mu.Unlock()

		if errors.Is(err, domain.ErrWSDisconnect) {
			return
		}

		if err == nil {
			w.logger.Info("reconnected", slog.Int64("attempt", attempt))
			return
		}

		w.logger.Warn("reconnect failed",
			slog.Int64("attempt", attempt),
			slog.Duration("next_delay", delay),
			slog.String("error", err.Error()))

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

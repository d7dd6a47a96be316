package watcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

type fakeStream struct {
	connected  bool
	reconnects int64
	onRecon    func(int64)
}

func (f *fakeStream) Connect(context.Context) error { f.connected = true; return nil }
func (f *fakeStream) Close() error                  { f.connected = false; return nil }
func (f *fakeStream) Connected() bool               { return f.connected }
func (f *fakeStream) Reconnects() int64             { return f.reconnects }
func (f *fakeStream) OnReconnect(fn func(int64))    { f.onRecon = fn }

// fakeAnalyzer enriches events from a fixed nonce table.
type fakeAnalyzer struct {
	mu     sync.Mutex
	nonces map[string]int64
	calls  int
}

func (f *fakeAnalyzer) AnalyzeTrade(_ context.Context, event *domain.TradeEvent) *domain.FreshWalletSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	nonce, ok := f.nonces[event.WalletAddress]
	if !ok {
		nonce = -1
	}
	profile := domain.WalletProfile{Address: event.WalletAddress, Nonce: nonce}
	event.Profile = &profile
	if nonce < 0 || nonce > 5 {
		return nil
	}

	profile.IsFresh = true
	event.Profile = &profile
	signal := domain.FreshWalletSignal{Confidence: 0.9, Triggered: true}
	event.Signal = &signal
	event.IsFreshWallet = true
	event.RiskScore = signal.Confidence
	return &signal
}

type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
	streams  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		messages: map[string][][]byte{},
		streams:  map[string][][]byte{},
	}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[channel] = append(f.messages[channel], payload)
	return nil
}

func (f *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[stream] = append(f.streams[stream], payload)
	return nil
}

func (f *fakeBus) count(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[channel])
}

func (f *fakeBus) streamLen(stream string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams[stream])
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (f *fakeBus) StreamRecent(context.Context, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func newTestWatcher(analyzer *fakeAnalyzer, bus domain.SignalBus) *Watcher {
	return New(Config{
		Endpoint:      "wss://test",
		MinTradeSize:  100,
		SyncTimeout:   time.Second,
		QueueSize:     8,
		PublishEvents: bus != nil,
	}, &fakeStream{}, analyzer, nil, bus, slog.Default())
}

func trade(wallet string, price, size float64) domain.TradeEvent {
	return domain.TradeEvent{
		ID:            "ev-" + wallet,
		EventType:     "trade",
		AssetID:       "asset-1",
		WalletAddress: wallet,
		Price:         price,
		Size:          size,
		Side:          "BUY",
		MarketName:    "Will X happen?",
	}
}

func TestBasicFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter domain.EventFilter
		event  domain.TradeEvent
		want   bool
	}{
		{"passes default floor", domain.EventFilter{}, trade("0xa", 0.5, 400), true},
		{"below default floor", domain.EventFilter{}, trade("0xa", 0.5, 100), false},
		{"explicit min size", domain.EventFilter{MinSize: 1000}, trade("0xa", 0.5, 400), false},
		{"side mismatch", domain.EventFilter{Side: "SELL"}, trade("0xa", 0.5, 400), false},
		{"side case-insensitive", domain.EventFilter{Side: "buy"}, trade("0xa", 0.5, 400), true},
		{"price below bound", domain.EventFilter{MinPrice: 0.6}, trade("0xa", 0.5, 400), false},
		{"price above bound", domain.EventFilter{MaxPrice: 0.4}, trade("0xa", 0.5, 400), false},
		{"price within bounds", domain.EventFilter{MinPrice: 0.4, MaxPrice: 0.6}, trade("0xa", 0.5, 400), true},
		{"market name substring", domain.EventFilter{MarketName: "will x"}, trade("0xa", 0.5, 400), true},
		{"market name miss", domain.EventFilter{MarketName: "bitcoin"}, trade("0xa", 0.5, 400), false},
		{"event type allow-list", domain.EventFilter{EventTypes: []string{"order"}}, trade("0xa", 0.5, 400), false},
		{"asset allow-list", domain.EventFilter{AssetIDs: []string{"asset-1"}}, trade("0xa", 0.5, 400), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesBasic(tt.filter, tt.event, 100); got != tt.want {
				t.Errorf("matchesBasic = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFreshnessFilter(t *testing.T) {
	maxNonce := int64(3)
	freshProfile := &domain.WalletProfile{Nonce: 1, IsFresh: true}

	freshEvent := trade("0xa", 0.5, 400)
	freshEvent.Profile = freshProfile
	freshEvent.IsFreshWallet = true
	freshEvent.RiskScore = 0.9

	staleEvent := trade("0xb", 0.5, 400)
	staleEvent.Profile = &domain.WalletProfile{Nonce: 50}

	tests := []struct {
		name   string
		filter domain.EventFilter
		event  domain.TradeEvent
		want   bool
	}{
		{"no freshness criteria", domain.EventFilter{}, staleEvent, true},
		{"fresh only, fresh wallet", domain.EventFilter{FreshWalletsOnly: true}, freshEvent, true},
		{"fresh only, stale wallet", domain.EventFilter{FreshWalletsOnly: true}, staleEvent, false},
		{"min risk score met", domain.EventFilter{MinRiskScore: 0.8}, freshEvent, true},
		{"min risk score unmet", domain.EventFilter{MinRiskScore: 0.95}, freshEvent, false},
		{"max nonce met", domain.EventFilter{MaxWalletNonce: &maxNonce}, freshEvent, true},
		{"max nonce exceeded", domain.EventFilter{MaxWalletNonce: &maxNonce}, staleEvent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesFreshness(tt.filter, tt.event); got != tt.want {
				t.Errorf("matchesFreshness = %v, want %v", got, tt.want)
			}
		})
	}
}

// With fresh-wallets-only active, an event without a wallet address can
// never satisfy the filter and is dropped outright.
func TestFreshOnlyDropsWalletlessEvents(t *testing.T) {
	analyzer := &fakeAnalyzer{nonces: map[string]int64{}}
	bus := newFakeBus()
	w := newTestWatcher(analyzer, bus)
	w.SetFilter(domain.EventFilter{FreshWalletsOnly: true})

	event := trade("", 0.5, 400)
	w.HandleTrade(event)

	if analyzer.calls != 0 {
		t.Errorf("analyzer called %d times for a walletless event", analyzer.calls)
	}
	if bus.count(domain.ChannelEvents) != 0 {
		t.Error("walletless event must not be broadcast under fresh-wallets-only")
	}
}

// Freshness-dependent filter: analysis runs synchronously and gates the
// dispatch.
func TestSyncPathGatesOnFreshness(t *testing.T) {
	analyzer := &fakeAnalyzer{nonces: map[string]int64{"0xfresh": 0, "0xold": 99}}
	bus := newFakeBus()
	w := newTestWatcher(analyzer, bus)
	w.SetFilter(domain.EventFilter{FreshWalletsOnly: true})

	w.HandleTrade(trade("0xfresh", 0.5, 400))
	w.HandleTrade(trade("0xold", 0.5, 400))

	if got := bus.count(domain.ChannelEvents); got != 1 {
		t.Errorf("broadcast %d events, want 1", got)
	}
	if got := bus.count(domain.ChannelFresh); got != 1 {
		t.Errorf("published %d fresh alerts, want 1", got)
	}
	if got := w.Status().FreshWalletsFound; got != 1 {
		t.Errorf("FreshWalletsFound = %d, want 1", got)
	}
	if got := bus.streamLen(domain.ChannelFresh); got != 1 {
		t.Errorf("appended %d fresh stream entries, want 1", got)
	}
}

// No freshness-dependent filter: events dispatch immediately and enrichment
// happens in the background.
func TestAsyncPathDispatchesImmediately(t *testing.T) {
	analyzer := &fakeAnalyzer{nonces: map[string]int64{"0xfresh": 0}}
	bus := newFakeBus()
	w := newTestWatcher(analyzer, bus)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	w.HandleTrade(trade("0xfresh", 0.5, 400))

	if got := bus.count(domain.ChannelEvents); got < 1 {
		t.Fatalf("broadcast %d events, want immediate dispatch", got)
	}

	// The fresh alert arrives asynchronously from the enrichment consumer,
	// along with a re-broadcast of the profiled copy.
	deadline := time.After(2 * time.Second)
	for bus.count(domain.ChannelFresh) == 0 || bus.count(domain.ChannelEvents) < 2 {
		select {
		case <-deadline:
			t.Fatal("fresh alert never published from the background path")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestQueueFullDropsEnrichmentNotEvent(t *testing.T) {
	analyzer := &fakeAnalyzer{nonces: map[string]int64{}}
	bus := newFakeBus()
	// Watcher not started: the queue has no consumer, so it fills up.
	w := newTestWatcher(analyzer, bus)

	var delivered atomic.Int64
	w.OnEvent(func(domain.TradeEvent) { delivered.Add(1) })

	for i := 0; i < 20; i++ {
		w.HandleTrade(trade("0xa", 0.5, 400))
	}

	if got := bus.count(domain.ChannelEvents); got != 20 {
		t.Errorf("broadcast %d events, want all 20 despite a full queue", got)
	}
	// The 12 overflow events skip analysis but still reach the sinks.
	if got := delivered.Load(); got != 12 {
		t.Errorf("sinks saw %d overflow events, want 12", got)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	w := newTestWatcher(&fakeAnalyzer{}, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStatusCounters(t *testing.T) {
	w := newTestWatcher(&fakeAnalyzer{}, nil)

	w.HandleTrade(trade("0xa", 0.5, 400))
	w.HandleTrade(trade("0xb", 0.5, 10)) // filtered out, still received

	status := w.Status()
	if status.TradesReceived != 2 {
		t.Errorf("TradesReceived = %d, want 2", status.TradesReceived)
	}
	if status.LastEventAt == nil {
		t.Error("LastEventAt should be set")
	}
	if status.Endpoint != "wss://test" {
		t.Errorf("Endpoint = %q", status.Endpoint)
	}
}

// Walletless events have nothing to analyze and reach the sinks
// synchronously; filtered events never do.
func TestSinkReceivesWalletlessEventsImmediately(t *testing.T) {
	w := newTestWatcher(&fakeAnalyzer{}, nil)

	var mu sync.Mutex
	var seen []string
	w.OnEvent(func(event domain.TradeEvent) {
		mu.Lock()
		seen = append(seen, event.ID)
		mu.Unlock()
	})

	w.HandleTrade(trade("", 0.5, 400))
	w.HandleTrade(trade("0xb", 0.5, 10)) // below floor

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "ev-" {
		t.Errorf("sink saw %v, want only the walletless event", seen)
	}
}

// Wallet-bearing events on the fast path reach the sinks with the wallet
// profile attached, even when the wallet is not fresh enough to alert.
func TestSinkReceivesAnalyzedEvents(t *testing.T) {
	analyzer := &fakeAnalyzer{nonces: map[string]int64{"0xold": 99}}
	bus := newFakeBus()
	w := newTestWatcher(analyzer, bus)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	var mu sync.Mutex
	var seen []domain.TradeEvent
	w.OnEvent(func(event domain.TradeEvent) {
		mu.Lock()
		seen = append(seen, event)
		mu.Unlock()
	})

	w.HandleTrade(trade("0xold", 0.5, 400))

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sink never received the analyzed event")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	got := seen[0]
	mu.Unlock()
	if got.Profile == nil || got.Profile.Nonce != 99 {
		t.Fatalf("sink got event without wallet profile: %+v", got.Profile)
	}
	if bus.count(domain.ChannelFresh) != 0 {
		t.Error("stale wallet must not raise a fresh alert")
	}
}

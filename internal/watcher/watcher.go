// Package watcher routes trade events from the live feed through the save
// filter to persistence, broadcast, and fresh-wallet alerting. It owns the
// synchronous/asynchronous analysis split: the ingestion path is never
// blocked by a slow RPC call unless the active filter depends on freshness.
package watcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// StreamClient is the slice of the feed client the watcher drives.
type StreamClient interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	Reconnects() int64
	OnReconnect(func(count int64))
}

// TradeAnalyzer runs the freshness pipeline for one trade in place.
type TradeAnalyzer interface {
	AnalyzeTrade(ctx context.Context, event *domain.TradeEvent) *domain.FreshWalletSignal
}

// EventSink receives every event that passed the save filter, after any
// enrichment available at dispatch time. Used by the action orchestrator.
type EventSink func(domain.TradeEvent)

// MetadataEnricher fills missing market metadata on an event before it is
// dispatched. Optional; a nil enricher skips the step.
type MetadataEnricher interface {
	Enrich(ctx context.Context, event *domain.TradeEvent) error
}

// Config holds the watcher parameters.
type Config struct {
	// Endpoint names the feed for the status surface.
	Endpoint string

	// MinTradeSize is the default notional floor when the filter has none.
	MinTradeSize float64

	// SyncTimeout bounds the synchronous analysis path.
	SyncTimeout time.Duration

	// QueueSize bounds the background enrichment queue.
	QueueSize int

	// PersistEvents and PublishEvents toggle the save and emit halves.
	PersistEvents bool
	PublishEvents bool
}

// Watcher is the event filter and dispatcher. Safe for concurrent use; the
// HandleTrade entry point is called from the stream read loop and returns
// quickly.
type Watcher struct {
	cfg      Config
	client   StreamClient
	analyzer TradeAnalyzer
	store    domain.EventStore
	bus      domain.SignalBus
	logger   *slog.Logger

	filterMu sync.RWMutex
	filter   domain.EventFilter

	sinkMu sync.RWMutex
	sinks  []EventSink

	enricher MetadataEnricher

	// Status counters, written by the read loop and enrichment workers.
	running        atomic.Bool
	connecting     atomic.Bool
	eventsReceived atomic.Int64
	tradesReceived atomic.Int64
	freshFound     atomic.Int64
	lastEventUnix  atomic.Int64
	connectedUnix  atomic.Int64
	lastError      atomic.Value // string

	enrichQueue chan domain.TradeEvent
	stop        chan struct{}
	wg          sync.WaitGroup
}

// New creates a Watcher. The store and bus may be nil when persistence or
// broadcast is disabled.
func New(cfg Config, client StreamClient, analyzer TradeAnalyzer, store domain.EventStore, bus domain.SignalBus, logger *slog.Logger) *Watcher {
	if cfg.MinTradeSize <= 0 {
		cfg.MinTradeSize = 100
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 3 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	w := &Watcher{
		cfg:         cfg,
		client:      client,
		analyzer:    analyzer,
		store:       store,
		bus:         bus,
		logger:      logger.With(slog.String("component", "watcher")),
		enrichQueue: make(chan domain.TradeEvent, cfg.QueueSize),
	}
	w.lastError.Store("")
	client.OnReconnect(func(int64) {
		w.connecting.Store(false)
		w.connectedUnix.Store(time.Now().Unix())
	})
	return w
}

// SetEnricher installs the metadata backfill for dispatched events. Must be
// called before Start.
func (w *Watcher) SetEnricher(e MetadataEnricher) { w.enricher = e }

// OnEvent registers a sink that receives every dispatched event.
func (w *Watcher) OnEvent(sink EventSink) {
	w.sinkMu.Lock()
	defer w.sinkMu.Unlock()
	w.sinks = append(w.sinks, sink)
}

// Start connects the stream client and launches the background enrichment
// consumer. Idempotent while running.
func (w *Watcher) Start(ctx context.Context) error {
	if w.running.Swap(true) {
		return nil
	}

	// Connect recovers from dial failures in the background, so a feed
	// outage leaves the watcher running in a connecting state rather than
	// failing the mode.
	w.connecting.Store(true)
	if err := w.client.Connect(ctx); err != nil {
		w.connecting.Store(false)
		w.running.Store(false)
		w.lastError.Store(err.Error())
		return err
	}
	if w.client.Connected() {
		w.connecting.Store(false)
		w.connectedUnix.Store(time.Now().Unix())
	}

	w.stop = make(chan struct{})
	w.wg.Add(1)
	go w.enrichLoop()

	w.logger.Info("watcher started", slog.String("endpoint", w.cfg.Endpoint))
	return nil
}

// Stop disconnects the stream and drains the background worker. Safe to
// call more than once.
func (w *Watcher) Stop() error {
	if !w.running.Swap(false) {
		return nil
	}

	err := w.client.Close()
	w.connecting.Store(false)
	close(w.stop)
	w.wg.Wait()

	w.logger.Info("watcher stopped")
	return err
}

// GetFilter returns the active save filter.
func (w *Watcher) GetFilter() domain.EventFilter {
	w.filterMu.RLock()
	defer w.filterMu.RUnlock()
	return w.filter
}

// SetFilter replaces the active save filter.
func (w *Watcher) SetFilter(f domain.EventFilter) {
	w.filterMu.Lock()
	w.filter = f
	w.filterMu.Unlock()
	w.logger.Info("filter updated",
		slog.Bool("fresh_wallets_only", f.FreshWalletsOnly),
		slog.Float64("min_size", f.MinSize))
}

// Status returns a point-in-time snapshot of the watcher state.
func (w *Watcher) Status() domain.WatcherStatus {
	status := domain.WatcherStatus{
		IsRunning:         w.running.Load(),
		IsConnecting:      w.connecting.Load(),
		EventsReceived:    w.eventsReceived.Load(),
		TradesReceived:    w.tradesReceived.Load(),
		FreshWalletsFound: w.freshFound.Load(),
		ReconnectCount:    w.client.Reconnects(),
		ErrorMessage:      w.lastError.Load().(string),
		Endpoint:          w.cfg.Endpoint,
	}
	if ts := w.connectedUnix.Load(); ts > 0 {
		t := time.Unix(ts, 0).UTC()
		status.ConnectedAt = &t
	}
	if ts := w.lastEventUnix.Load(); ts > 0 {
		t := time.Unix(ts, 0).UTC()
		status.LastEventAt = &t
	}
	return status
}

// HandleTrade is the single dispatch entry point, called synchronously from
// the stream read loop for every parsed trade.
//
// When the active filter depends on freshness data and the event carries a
// wallet, analysis runs inline bounded by the sync timeout and the full
// filter is evaluated afterwards. Otherwise only the basic criteria gate
// the event and analysis is queued for best-effort background enrichment.
func (w *Watcher) HandleTrade(event domain.TradeEvent) {
	w.eventsReceived.Add(1)
	w.tradesReceived.Add(1)
	w.lastEventUnix.Store(time.Now().Unix())

	filter := w.GetFilter()

	if !matchesBasic(filter, event, w.cfg.MinTradeSize) {
		return
	}

	if filter.NeedsFreshness() {
		if event.WalletAddress == "" {
			return // freshness cannot be established
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.SyncTimeout)
		signal := w.analyzer.AnalyzeTrade(ctx, &event)
		cancel()

		if !matchesFreshness(filter, event) {
			return
		}
		w.dispatch(event, signal)
		w.deliver(event)
		return
	}

	// Fast path: dispatch now, enrich later. A full queue drops the
	// enrichment, never the event. Sink delivery for wallet-bearing events
	// waits for the background analysis so sinks see the wallet profile.
	w.dispatch(event, nil)

	if event.WalletAddress == "" {
		w.deliver(event)
		return
	}
	select {
	case w.enrichQueue <- event:
	default:
		w.logger.Debug("enrichment queue full, delivering unanalyzed",
			slog.String("event_id", event.ID))
		w.deliver(event)
	}
}

// dispatch persists, broadcasts, and alerts for one event that passed the
// filter. Persistence is fire-and-forget so storage latency never delays
// live delivery.
func (w *Watcher) dispatch(event domain.TradeEvent, signal *domain.FreshWalletSignal) {
	if w.enricher != nil && event.MarketSlug != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := w.enricher.Enrich(ctx, &event); err != nil {
			w.logger.Debug("metadata enrichment failed",
				slog.String("slug", event.MarketSlug),
				slog.String("error", err.Error()))
		}
		cancel()
	}

	if w.cfg.PersistEvents && w.store != nil {
		go w.persist(event)
	}

	if w.cfg.PublishEvents && w.bus != nil {
		w.publish(domain.ChannelEvents, event)
	}

	if signal != nil && signal.Triggered {
		w.alertFresh(event)
	}
}

// deliver hands one event to every registered sink. Every event that passed
// the filter reaches the sinks exactly once, profiled when analysis ran.
func (w *Watcher) deliver(event domain.TradeEvent) {
	w.sinkMu.RLock()
	sinks := w.sinks
	w.sinkMu.RUnlock()
	for _, sink := range sinks {
		sink(event)
	}
}

// enrichLoop is the background freshness consumer for the fast path. The
// profiled copy is re-broadcast so subscribers that need wallet history see
// it even below the alert threshold; sinks always get the event.
func (w *Watcher) enrichLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			return
		case event := <-w.enrichQueue:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			signal := w.analyzer.AnalyzeTrade(ctx, &event)
			cancel()

			if event.Profile != nil && w.cfg.PublishEvents && w.bus != nil {
				w.publish(domain.ChannelEvents, event)
			}
			if signal != nil && signal.Triggered {
				w.alertFresh(event)
			}
			w.deliver(event)
		}
	}
}

// alertFresh emits the high-priority fresh-wallet alert, distinct from the
// generic event broadcast.
func (w *Watcher) alertFresh(event domain.TradeEvent) {
	w.freshFound.Add(1)
	w.logger.Info("fresh wallet detected",
		slog.String("wallet", event.WalletAddress),
		slog.String("market", event.MarketSlug),
		slog.Float64("notional", event.Notional()),
		slog.Float64("confidence", event.RiskScore))

	if w.cfg.PublishEvents && w.bus != nil {
		w.publish(domain.ChannelFresh, event)
		w.appendFresh(event)
	}
}

// appendFresh records the alert on the capped fresh stream so late joiners
// can replay recent alerts that the fire-and-forget pub/sub already dropped.
func (w *Watcher) appendFresh(event domain.TradeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.bus.StreamAppend(ctx, domain.ChannelFresh, payload); err != nil {
		w.logger.Warn("fresh stream append failed", slog.String("error", err.Error()))
	}
}

func (w *Watcher) persist(event domain.TradeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.store.Insert(ctx, event); err != nil {
		w.lastError.Store(err.Error())
		w.logger.Error("persist event failed",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()))
	}
}

func (w *Watcher) publish(channel string, event domain.TradeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.bus.Publish(ctx, channel, payload); err != nil {
		w.logger.Warn("broadcast failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
	}
}

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/luthebao/xtools-sub000/internal/actions"
	"github.com/luthebao/xtools-sub000/internal/analyzer"
	"github.com/luthebao/xtools-sub000/internal/crypto"
	"github.com/luthebao/xtools-sub000/internal/domain"
	"github.com/luthebao/xtools-sub000/internal/generate"
	"github.com/luthebao/xtools-sub000/internal/notify"
	"github.com/luthebao/xtools-sub000/internal/platform/polygon"
	"github.com/luthebao/xtools-sub000/internal/platform/polymarket"
	"github.com/luthebao/xtools-sub000/internal/publish"
	"github.com/luthebao/xtools-sub000/internal/screenshot"
	"github.com/luthebao/xtools-sub000/internal/server"
	"github.com/luthebao/xtools-sub000/internal/server/handler"
	"github.com/luthebao/xtools-sub000/internal/server/ws"
	"github.com/luthebao/xtools-sub000/internal/watcher"
)

// notifierAdapter bridges terminal action outcomes to the external notifier,
// which reports delivery errors the orchestrator has no use for.
type notifierAdapter struct {
	notifier *notify.Notifier
	logger   *slog.Logger
}

func (n *notifierAdapter) ActionCompleted(ctx context.Context, action domain.Action) {
	if err := n.notifier.ActionCompleted(ctx, action); err != nil {
		n.logger.WarnContext(ctx, "action completed notification failed",
			slog.String("action_id", action.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (n *notifierAdapter) ActionFailed(ctx context.Context, action domain.Action) {
	if err := n.notifier.ActionFailed(ctx, action); err != nil {
		n.logger.WarnContext(ctx, "action failed notification failed",
			slog.String("action_id", action.ID),
			slog.String("error", err.Error()),
		)
	}
}

// walletRefresher re-analyzes a wallet for the action fetching stage and,
// when the data API is configured, replaces the nonce-derived bet count with
// the wallet's actual trade history length.
type walletRefresher struct {
	analyzer *analyzer.Analyzer
	data     *polymarket.DataClient
}

func (r *walletRefresher) AnalyzeWallet(ctx context.Context, address string) domain.WalletProfile {
	profile := r.analyzer.AnalyzeWallet(ctx, address)
	if r.data == nil || address == "" {
		return profile
	}

	activity, err := r.data.GetActivity(ctx, address, 100)
	if err != nil {
		return profile
	}
	var trades int64
	for _, act := range activity {
		if act.Type == "TRADE" {
			trades++
		}
	}
	if trades > 0 {
		profile.BetCount = trades
	}
	return profile
}

// buildAnalyzer constructs the RPC pool and the freshness analyzer shared by
// the watcher and the action orchestrator.
func (a *App) buildAnalyzer() (*analyzer.Analyzer, error) {
	pool, err := polygon.NewPool(polygon.PoolConfig{
		Endpoints: a.cfg.Analyzer.RPCEndpoints,
		Timeout:   a.cfg.Analyzer.RPCTimeout.Duration,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("rpc pool: %w", err)
	}

	return analyzer.New(analyzer.Config{
		FreshThreshold: a.cfg.Analyzer.FreshThreshold,
		AlertThreshold: a.cfg.Watcher.AlertThreshold,
		MinTradeSize:   a.cfg.Watcher.MinTradeSize,
		LargeTradeUSD:  a.cfg.Analyzer.LargeTradeUSD,
		CacheTTL:       a.cfg.Analyzer.CacheTTL.Duration,
		CacheMaxSize:   a.cfg.Analyzer.CacheMaxSize,
	}, pool, a.logger), nil
}

// buildWatcher constructs the live feed client and the watcher with its
// initial filter from configuration.
func (a *App) buildWatcher(deps *Dependencies, an *analyzer.Analyzer) *watcher.Watcher {
	wsClient := polymarket.NewWSClient(a.cfg.Polymarket.WsHost, a.logger)

	w := watcher.New(watcher.Config{
		Endpoint:      a.cfg.Polymarket.WsHost,
		MinTradeSize:  a.cfg.Watcher.MinTradeSize,
		SyncTimeout:   a.cfg.Analyzer.SyncTimeout.Duration,
		QueueSize:     a.cfg.Actions.QueueSize,
		PersistEvents: a.cfg.Watcher.PersistEvents,
		PublishEvents: a.cfg.Watcher.PublishEvents,
	}, wsClient, an, deps.EventStore, deps.SignalBus, a.logger)

	w.SetFilter(domain.EventFilter{
		EventTypes: a.cfg.Watcher.EventTypes,
		AssetIDs:   a.cfg.Watcher.AssetIDs,
		MinSize:    a.cfg.Watcher.MinTradeSize,
	})

	if a.cfg.Polymarket.GammaHost != "" {
		gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)
		w.SetEnricher(polymarket.NewEnricher(gamma, a.logger))
	}

	wsClient.OnTrade(w.HandleTrade)
	return w
}

// buildOrchestrator assembles the action pipeline: generator, screenshot
// capture, publisher, and the orchestrator itself.
func (a *App) buildOrchestrator(ctx context.Context, deps *Dependencies, an *analyzer.Analyzer) *actions.Orchestrator {
	var generator domain.Generator
	if a.cfg.Generation.ServiceURL != "" {
		generator = generate.NewClient(generate.Config{
			ServiceURL:  a.cfg.Generation.ServiceURL,
			APIKey:      a.cfg.Generation.APIKey,
			Model:       a.cfg.Generation.Model,
			StylePrompt: a.cfg.Generation.StylePrompt,
			HistorySize: a.cfg.Generation.HistorySize,
			MaxLength:   a.cfg.Generation.MaxLength,
			Timeout:     a.cfg.Generation.Timeout.Duration,
		}, generate.NewActionHistory(deps.ActionStore), a.logger)
	} else {
		generator = generate.NewTemplateGenerator(a.cfg.Generation.MaxLength)
	}

	capture := screenshot.New(screenshot.Config{
		Enabled:    a.cfg.Screenshot.Enabled,
		ServiceURL: a.cfg.Screenshot.ServiceURL,
		OutputDir:  a.cfg.Screenshot.OutputDir,
		Timeout:    a.cfg.Screenshot.Timeout.Duration,
	}, a.logger)

	var publisher domain.Publisher
	creds, err := crypto.LoadCredentials(crypto.CredentialConfig{
		Plain: crypto.Credentials{
			ConsumerKey:    a.cfg.Twitter.ConsumerKey,
			ConsumerSecret: a.cfg.Twitter.ConsumerSecret,
			AccessToken:    a.cfg.Twitter.AccessToken,
			AccessSecret:   a.cfg.Twitter.AccessSecret,
		},
		EncryptedPath: a.cfg.Twitter.EncryptedPath,
		Password:      a.cfg.Twitter.EncryptedKeyPass,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "twitter credentials unavailable, actions will not post",
			slog.String("error", err.Error()),
		)
	} else {
		twitter, err := publish.NewTwitterClient(publish.Config{
			Credentials: creds,
			DryRun:      a.cfg.Twitter.DryRun,
		}, a.logger)
		if err != nil {
			a.logger.WarnContext(ctx, "twitter client build failed, actions will not post",
				slog.String("error", err.Error()),
			)
		} else {
			publisher = twitter
		}
	}

	orch := actions.New(actions.Config{
		ProcessInterval: a.cfg.Actions.ProcessInterval.Duration,
		RetryInterval:   a.cfg.Actions.RetryInterval.Duration,
		ActionTimeout:   a.cfg.Actions.ActionTimeout.Duration,
		MaxRetries:      a.cfg.Actions.MaxRetries,
		BackoffSeconds:  a.cfg.Actions.BackoffSeconds,
	}, deps.ActionStore, deps.AccountStore, generator, capture, publisher, a.logger)

	orch.SetBus(deps.SignalBus)
	orch.SetNotifier(&notifierAdapter{notifier: deps.Notifier, logger: a.logger})

	refresher := &walletRefresher{analyzer: an}
	if a.cfg.Polymarket.DataHost != "" {
		refresher.data = polymarket.NewDataClient(a.cfg.Polymarket.DataHost)
	}
	orch.SetRefresher(refresher)

	return orch
}

// WatchMode runs the live trade watcher: feed ingestion, freshness analysis,
// persistence, broadcast, and fresh-wallet notification.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	an, err := a.buildAnalyzer()
	if err != nil {
		return fmt.Errorf("watch mode: %w", err)
	}
	w := a.buildWatcher(deps, an)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("watch mode: start watcher: %w", err)
		}
		<-ctx.Done()
		if err := w.Stop(); err != nil {
			a.logger.Warn("watcher stop failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})

	a.startFreshNotifier(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, w, nil)
	}

	return g.Wait()
}

// ActionsMode runs the action orchestrator alone, consuming fresh-wallet
// signals published by a separate watch process.
func (a *App) ActionsMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting actions mode")

	an, err := a.buildAnalyzer()
	if err != nil {
		return fmt.Errorf("actions mode: %w", err)
	}
	orch := a.buildOrchestrator(ctx, deps, an)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orch.Run(ctx)
	})
	g.Go(func() error {
		return a.feedOrchestrator(ctx, deps, orch)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, nil, orch)
	}

	return g.Wait()
}

// ServerMode runs the HTTP API and WebSocket hub over existing data. No feed
// is consumed and no actions are processed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil, nil)
	return g.Wait()
}

// FullMode runs every subsystem in one process: watcher, action
// orchestrator, archival, notifications, and the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	an, err := a.buildAnalyzer()
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	w := a.buildWatcher(deps, an)
	orch := a.buildOrchestrator(ctx, deps, an)

	g, ctx := errgroup.WithContext(ctx)

	// In-process wiring: dispatched events go straight to the trigger
	// evaluation, no bus round trip.
	w.OnEvent(func(event domain.TradeEvent) {
		orch.HandleEvent(ctx, event)
	})

	g.Go(func() error {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("full mode: start watcher: %w", err)
		}
		<-ctx.Done()
		if err := w.Stop(); err != nil {
			a.logger.Warn("watcher stop failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
	g.Go(func() error {
		return orch.Run(ctx)
	})

	a.startFreshNotifier(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, w, orch)
	}

	return g.Wait()
}

// feedOrchestrator subscribes to the event channel and forwards each event
// to trigger evaluation. The full feed is needed here: big-trade and
// bet-count triggers fire on events whose wallet never raised a fresh alert.
// Events already seen within the dedup window are dropped, since several
// watch processes may publish the same trade and the watcher re-broadcasts
// a profiled copy after background analysis.
func (a *App) feedOrchestrator(ctx context.Context, deps *Dependencies, orch *actions.Orchestrator) error {
	ch, err := deps.SignalBus.Subscribe(ctx, domain.ChannelEvents)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.ChannelEvents, err)
	}

	window := a.cfg.Actions.DedupWindow.Duration
	if window <= 0 {
		window = 10 * time.Minute
	}
	seen := gocache.New(window, 2*window)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.TradeEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				a.logger.Warn("malformed event payload", slog.String("error", err.Error()))
				continue
			}
			// A wallet-bearing event without a profile is the pre-analysis
			// copy; the profiled re-broadcast follows and is the one that
			// gets evaluated.
			if event.WalletAddress != "" && event.Profile == nil {
				continue
			}
			if event.ID != "" {
				if _, dup := seen.Get(event.ID); dup {
					continue
				}
				seen.Set(event.ID, struct{}{}, gocache.DefaultExpiration)
			}
			orch.HandleEvent(ctx, event)
		}
	}
}

// startFreshNotifier forwards fresh-wallet broadcasts to the external
// notification channels. Without any configured sender this goroutine still
// drains the subscription but every notification is a no-op.
func (a *App) startFreshNotifier(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		ch, err := deps.SignalBus.Subscribe(ctx, domain.ChannelFresh)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", domain.ChannelFresh, err)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case payload, ok := <-ch:
				if !ok {
					return nil
				}
				var event domain.TradeEvent
				if err := json.Unmarshal(payload, &event); err != nil {
					continue
				}
				if err := deps.Notifier.FreshWallet(ctx, event); err != nil {
					a.logger.Warn("fresh wallet notification failed",
						slog.String("error", err.Error()))
				}
			}
		}
	})
}

// startArchiveLoop periodically archives events older than the retention
// window to object storage. A no-op when archival is not wired.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				archived, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
				if err != nil {
					a.logger.Error("event archival failed",
						slog.String("error", err.Error()))
					continue
				}
				if archived > 0 {
					a.logger.Info("events archived",
						slog.Int64("count", archived),
						slog.Time("cutoff", cutoff))
				}
			}
		}
	})
}

// startHTTPServer adds the HTTP server goroutine to the given errgroup.
// watcherCtrl and trigger are optional; absent components leave their routes
// unregistered or responding 503.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	watcherCtrl handler.WatcherControl,
	trigger handler.ManualTrigger,
) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(),
		Status: handler.NewStatusHandler(a.cfg.Mode, startedAt, watcherCtrl, deps.EventStore, a.logger),
	}
	if deps.EventStore != nil {
		handlers.Events = handler.NewEventsHandler(deps.EventStore, a.logger)
	}
	if deps.ActionStore != nil {
		handlers.Actions = handler.NewActionsHandler(deps.ActionStore, deps.EventStore, trigger, a.logger)
	}
	if watcherCtrl != nil {
		handlers.Watcher = handler.NewWatcherHandler(watcherCtrl, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		APIKey:      a.cfg.Server.APIKey,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

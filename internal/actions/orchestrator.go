// Package actions turns detected signals into durable posting work. Each
// action walks a persisted state machine so that a crash mid-stage resumes
// from the store rather than losing or double-posting work.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

const (
	defaultProcessInterval = 30 * time.Second
	defaultRetryInterval   = 60 * time.Second
	defaultActionTimeout   = 5 * time.Minute
	defaultMaxRetries      = 3
	defaultBackoffSeconds  = 60
	retryScanLimit         = 50

	// maxRetryDelay caps the exponential backoff so a high configured retry
	// count never schedules an action into the far future or overflows.
	maxRetryDelay = time.Hour
)

// retryDelay doubles the base backoff per attempt, clamped at maxRetryDelay.
func retryDelay(backoffSeconds, retryCount int) time.Duration {
	delay := time.Duration(backoffSeconds) * time.Second
	for i := 1; i < retryCount; i++ {
		if delay >= maxRetryDelay {
			break
		}
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// ProfileRefresher re-analyzes a wallet during the fetching stage so the
// posted snapshot reflects current on-chain state.
type ProfileRefresher interface {
	AnalyzeWallet(ctx context.Context, address string) domain.WalletProfile
}

// Notifier receives terminal action outcomes for external alerting.
type Notifier interface {
	ActionCompleted(ctx context.Context, action domain.Action)
	ActionFailed(ctx context.Context, action domain.Action)
}

// Config tunes the orchestrator's worker cadence and retry fallbacks.
// Per-account retry policy takes precedence over the fallbacks.
type Config struct {
	ProcessInterval time.Duration
	RetryInterval   time.Duration
	ActionTimeout   time.Duration
	MaxRetries      int
	BackoffSeconds  int
}

func (c *Config) defaults() {
	if c.ProcessInterval <= 0 {
		c.ProcessInterval = defaultProcessInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = defaultActionTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BackoffSeconds <= 0 {
		c.BackoffSeconds = defaultBackoffSeconds
	}
}

// Orchestrator enqueues actions for matching trades and drives them through
// fetch, generate, capture, and post stages on a ticker.
type Orchestrator struct {
	cfg       Config
	store     domain.ActionStore
	accounts  domain.AccountStore
	generator domain.Generator
	capture   domain.Screenshotter
	publisher domain.Publisher
	profiles  ProfileRefresher
	bus       domain.SignalBus
	notifier  Notifier
	logger    *slog.Logger
}

// New wires an orchestrator. capture, profiles, bus, and notifier may be
// nil; the corresponding stages degrade gracefully.
func New(cfg Config, store domain.ActionStore, accounts domain.AccountStore, generator domain.Generator, capture domain.Screenshotter, publisher domain.Publisher, logger *slog.Logger) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		accounts:  accounts,
		generator: generator,
		capture:   capture,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "actions")),
	}
}

// SetRefresher enables profile refresh during the fetching stage.
func (o *Orchestrator) SetRefresher(r ProfileRefresher) { o.profiles = r }

// SetBus enables action lifecycle broadcasts on the actions channel.
func (o *Orchestrator) SetBus(bus domain.SignalBus) { o.bus = bus }

// SetNotifier enables terminal-outcome notifications.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

// HandleEvent evaluates a dispatched trade against every enabled account's
// trigger and enqueues one action per matching account. The dedup ledger
// guarantees at most one action per (account, event) pair.
func (o *Orchestrator) HandleEvent(ctx context.Context, event domain.TradeEvent) {
	accounts, err := o.accounts.ListEnabled(ctx)
	if err != nil {
		o.logger.Error("list enabled accounts failed", slog.String("error", err.Error()))
		return
	}

	for _, acct := range accounts {
		if !triggerMatches(acct.Actions, event) {
			continue
		}
		if _, err := o.enqueue(ctx, acct, acct.Actions.TriggerType, event); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			o.logger.Error("enqueue action failed",
				slog.String("account_id", acct.ID),
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// TriggerManual creates and immediately processes an action outside the
// normal trigger path. Used by the diagnostics API.
func (o *Orchestrator) TriggerManual(ctx context.Context, accountID string, event domain.TradeEvent) (domain.Action, error) {
	acct, err := o.accounts.GetByID(ctx, accountID)
	if err != nil {
		return domain.Action{}, fmt.Errorf("actions: account %s: %w", accountID, err)
	}

	action, err := o.enqueue(ctx, acct, domain.TriggerManual, event)
	if err != nil {
		return domain.Action{}, err
	}

	o.processAction(ctx, acct, action)
	return o.store.GetByID(ctx, action.ID)
}

func (o *Orchestrator) enqueue(ctx context.Context, acct domain.Account, trigger domain.TriggerType, event domain.TradeEvent) (domain.Action, error) {
	exists, err := o.store.HasActionForEvent(ctx, acct.ID, event.ID)
	if err != nil {
		return domain.Action{}, fmt.Errorf("actions: dedup check: %w", err)
	}
	if exists {
		o.logger.Debug("action already exists for event",
			slog.String("account_id", acct.ID),
			slog.String("event_id", event.ID),
		)
		return domain.Action{}, domain.ErrAlreadyExists
	}

	now := time.Now().UTC()
	action := domain.Action{
		ID:            uuid.New().String(),
		AccountID:     acct.ID,
		TriggerType:   trigger,
		Status:        domain.ActionPending,
		WalletAddress: event.WalletAddress,
		Event:         event,
		Profile:       event.Profile,
		Signal:        event.Signal,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := o.store.Create(ctx, action); err != nil {
		return domain.Action{}, fmt.Errorf("actions: create: %w", err)
	}
	if err := o.store.MarkActionForEvent(ctx, acct.ID, event.ID, action.ID); err != nil {
		return domain.Action{}, fmt.Errorf("actions: mark event: %w", err)
	}

	o.logger.Info("action enqueued",
		slog.String("action_id", action.ID),
		slog.String("account_id", acct.ID),
		slog.String("trigger", string(trigger)),
		slog.String("wallet", event.WalletAddress),
	)
	o.broadcast(ctx, "enqueued", action)
	return action, nil
}

// Run drives the processing and retry workers until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("action orchestrator starting",
		slog.Duration("process_interval", o.cfg.ProcessInterval),
		slog.Duration("retry_interval", o.cfg.RetryInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.runTicker(ctx, o.cfg.ProcessInterval, o.processTick)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("process worker: %w", err)
	})

	g.Go(func() error {
		err := o.runTicker(ctx, o.cfg.RetryInterval, o.retryTick)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("retry worker: %w", err)
	})

	err := g.Wait()
	if err != nil {
		o.logger.Error("action orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("action orchestrator stopped cleanly")
	return nil
}

func (o *Orchestrator) runTicker(ctx context.Context, interval time.Duration, tick func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// processTick dequeues at most one ready action per enabled account and
// processes accounts concurrently. Within an account, actions stay serial.
func (o *Orchestrator) processTick(ctx context.Context) {
	accounts, err := o.accounts.ListEnabled(ctx)
	if err != nil {
		o.logger.Error("list enabled accounts failed", slog.String("error", err.Error()))
		return
	}

	var wg sync.WaitGroup
	for _, acct := range accounts {
		wg.Add(1)
		go func(acct domain.Account) {
			defer wg.Done()
			ready, err := o.store.DequeueReady(ctx, acct.ID, time.Now().UTC(), 1)
			if err != nil {
				o.logger.Error("dequeue failed",
					slog.String("account_id", acct.ID),
					slog.String("error", err.Error()),
				)
				return
			}
			for _, action := range ready {
				o.processAction(ctx, acct, action)
			}
		}(acct)
	}
	wg.Wait()
}

// retryTick resubmits actions whose backoff delay has elapsed, independent
// of the per-account processing cadence.
func (o *Orchestrator) retryTick(ctx context.Context) {
	ready, err := o.store.ListRetryable(ctx, time.Now().UTC(), retryScanLimit)
	if err != nil {
		o.logger.Error("list retryable failed", slog.String("error", err.Error()))
		return
	}

	for _, action := range ready {
		acct, err := o.accounts.GetByID(ctx, action.AccountID)
		if err != nil {
			o.logger.Error("retry account lookup failed",
				slog.String("action_id", action.ID),
				slog.String("account_id", action.AccountID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !acct.Enabled {
			continue
		}
		o.logger.Info("retrying action",
			slog.String("action_id", action.ID),
			slog.Int("retry_count", action.RetryCount),
		)
		o.processAction(ctx, acct, action)
	}
}

// processAction walks a single action through the stage sequence. Every
// status transition is persisted before the stage work starts, so a crash
// leaves the store one stage behind at worst.
func (o *Orchestrator) processAction(ctx context.Context, acct domain.Account, action domain.Action) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ActionTimeout)
	defer cancel()

	log := o.logger.With(
		slog.String("action_id", action.ID),
		slog.String("account_id", acct.ID),
		slog.String("trigger", string(action.TriggerType)),
	)

	// Fetching: refresh the wallet snapshot so stale queue entries post
	// current numbers.
	if err := o.advance(ctx, &action, domain.ActionFetching); err != nil {
		o.fail(ctx, acct, action, log, err)
		return
	}
	if o.profiles != nil && action.WalletAddress != "" {
		profile := o.profiles.AnalyzeWallet(ctx, action.WalletAddress)
		if profile.Known() {
			action.Profile = &profile
		}
	}

	// Generating.
	if err := o.advance(ctx, &action, domain.ActionGenerating); err != nil {
		o.fail(ctx, acct, action, log, err)
		return
	}
	text, err := o.generator.Generate(ctx, action)
	if err != nil {
		o.fail(ctx, acct, action, log, fmt.Errorf("generate: %w", err))
		return
	}
	action.DraftText = text
	action.FinalText = text

	// Capturing is optional and its failure never fails the action.
	if acct.Actions.Screenshot && o.capture != nil {
		if err := o.advance(ctx, &action, domain.ActionCapturing); err != nil {
			o.fail(ctx, acct, action, log, err)
			return
		}
		path, err := o.capture.Capture(ctx, action.Event.MarketLink)
		if err != nil {
			log.Warn("screenshot capture failed, posting without media",
				slog.String("error", err.Error()),
			)
		} else {
			action.ScreenshotPath = path
		}
	}

	// Posting.
	if err := o.advance(ctx, &action, domain.ActionPosting); err != nil {
		o.fail(ctx, acct, action, log, err)
		return
	}
	if acct.TweetEnabled && o.publisher != nil {
		result, err := o.publisher.Publish(ctx, action.FinalText, action.ScreenshotPath)
		if err != nil {
			o.fail(ctx, acct, action, log, fmt.Errorf("publish: %w", err))
			return
		}
		action.PostID = result.PostID
		action.PostURL = result.URL
	} else {
		log.Info("posting disabled for account, completing without publish")
	}

	now := time.Now().UTC()
	action.ProcessedAt = &now
	action.LastError = ""
	action.NextRetryAt = nil
	if err := o.advance(ctx, &action, domain.ActionCompleted); err != nil {
		log.Error("completed status write failed", slog.String("error", err.Error()))
		return
	}

	log.Info("action completed",
		slog.String("post_id", action.PostID),
		slog.Int("retry_count", action.RetryCount),
	)
	o.broadcast(ctx, "completed", action)
	if o.notifier != nil {
		o.notifier.ActionCompleted(ctx, action)
	}
}

func (o *Orchestrator) advance(ctx context.Context, action *domain.Action, status domain.ActionStatus) error {
	action.Status = status
	action.UpdatedAt = time.Now().UTC()
	if err := o.store.Update(ctx, *action); err != nil {
		return fmt.Errorf("persist %s: %w", status, err)
	}
	return nil
}

// fail records a stage error and either schedules a retry with exponential
// backoff or marks the action terminally failed. Credential problems skip
// retries entirely since no backoff will fix configuration.
func (o *Orchestrator) fail(ctx context.Context, acct domain.Account, action domain.Action, log *slog.Logger, stageErr error) {
	action.RetryCount++
	action.LastError = stageErr.Error()
	action.UpdatedAt = time.Now().UTC()

	maxRetries := acct.Actions.MaxRetries
	if maxRetries <= 0 {
		maxRetries = o.cfg.MaxRetries
	}
	backoff := acct.Actions.BackoffSeconds
	if backoff <= 0 {
		backoff = o.cfg.BackoffSeconds
	}

	if !errors.Is(stageErr, domain.ErrMissingCredentials) && action.RetryCount <= maxRetries {
		delay := retryDelay(backoff, action.RetryCount)
		next := time.Now().UTC().Add(delay)
		action.Status = domain.ActionPending
		action.NextRetryAt = &next

		if err := o.store.Update(ctx, action); err != nil {
			log.Error("retry schedule write failed", slog.String("error", err.Error()))
			return
		}
		log.Warn("action failed, retry scheduled",
			slog.String("error", stageErr.Error()),
			slog.Int("retry_count", action.RetryCount),
			slog.Duration("delay", delay),
		)
		return
	}

	now := time.Now().UTC()
	action.Status = domain.ActionFailed
	action.NextRetryAt = nil
	action.ProcessedAt = &now
	if err := o.store.Update(ctx, action); err != nil {
		log.Error("failed status write failed", slog.String("error", err.Error()))
		return
	}

	log.Error("action failed permanently",
		slog.String("error", stageErr.Error()),
		slog.Int("retry_count", action.RetryCount),
	)
	o.broadcast(ctx, "failed", action)
	if o.notifier != nil {
		o.notifier.ActionFailed(ctx, action)
	}
}

// broadcast publishes an action lifecycle event for UI subscribers.
func (o *Orchestrator) broadcast(ctx context.Context, kind string, action domain.Action) {
	if o.bus == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Type   string        `json:"type"`
		Action domain.Action `json:"action"`
	}{Type: kind, Action: action})
	if err != nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := o.bus.Publish(pubCtx, domain.ChannelActions, payload); err != nil {
		o.logger.Warn("action broadcast failed",
			slog.String("channel", domain.ChannelActions),
			slog.String("error", err.Error()),
		)
	}
}

// Stats exposes queue counts for the stats API.
func (o *Orchestrator) Stats(ctx context.Context) (domain.ActionStats, error) {
	return o.store.Stats(ctx)
}

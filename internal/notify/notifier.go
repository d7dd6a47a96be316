// Package notify fans operator alerts out to chat channels. Fresh wallet
// sightings and action lifecycle updates go to every configured sender,
// optionally filtered by event type so a channel only carries what its
// operators asked for.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// Event types accepted in the notify.events config list.
const (
	EventFreshWallet     = "fresh_wallet"
	EventActionCompleted = "action_completed"
	EventActionFailed    = "action_failed"
	EventError           = "error"
)

// Sender delivers a single notification on one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier formats domain events into operator messages and dispatches them
// to every sender. An empty event filter lets everything through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders, forwarding
// only the listed event types. An empty events list allows all types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// FreshWallet announces a fresh wallet trade.
func (n *Notifier) FreshWallet(ctx context.Context, event domain.TradeEvent) error {
	var lines []string
	lines = append(lines, fmt.Sprintf("Wallet %s bet $%.0f on %s", event.WalletAddress, event.Notional(), event.Outcome))
	if event.MarketName != "" {
		lines = append(lines, "Market: "+event.MarketName)
	}
	if p := event.Profile; p != nil {
		lines = append(lines, fmt.Sprintf("Nonce: %d, level: %s", p.Nonce, p.FreshnessLevel))
	}
	if event.MarketLink != "" {
		lines = append(lines, event.MarketLink)
	}
	return n.Notify(ctx, EventFreshWallet, "Fresh wallet trade", strings.Join(lines, "\n"))
}

// ActionCompleted announces a finished action, linking the published post
// when there is one.
func (n *Notifier) ActionCompleted(ctx context.Context, action domain.Action) error {
	lines := []string{
		fmt.Sprintf("Account %s, trigger %s", action.AccountID, action.TriggerType),
	}
	if action.PostURL != "" {
		lines = append(lines, "Posted: "+action.PostURL)
	} else {
		lines = append(lines, "Completed without posting")
	}
	return n.Notify(ctx, EventActionCompleted, "Action completed", strings.Join(lines, "\n"))
}

// ActionFailed announces a terminally failed action with its last error.
func (n *Notifier) ActionFailed(ctx context.Context, action domain.Action) error {
	message := fmt.Sprintf("Account %s, trigger %s, %d attempt(s)\nLast error: %s",
		action.AccountID, action.TriggerType, action.RetryCount, action.LastError)
	return n.Notify(ctx, EventActionFailed, "Action failed", message)
}

// Error reports an operational failure, e.g. the stream staying down.
func (n *Notifier) Error(ctx context.Context, title string, err error) error {
	return n.Notify(ctx, EventError, title, err.Error())
}

// Notify dispatches to all senders when the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender. One sender failing does not stop delivery
// to the rest; failures are folded into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

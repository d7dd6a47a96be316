package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time-range filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists trade events.
type EventStore interface {
	Insert(ctx context.Context, event TradeEvent) error
	GetByID(ctx context.Context, id string) (TradeEvent, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]TradeEvent, error)
	ListFresh(ctx context.Context, opts ListOpts) ([]TradeEvent, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	Info(ctx context.Context) (DatabaseInfo, error)
}

// ActionStore persists the durable action queue. It is the source of truth
// for action state across restarts and must serialize concurrent updates to
// the same action id.
type ActionStore interface {
	Create(ctx context.Context, action Action) error
	Update(ctx context.Context, action Action) error
	GetByID(ctx context.Context, id string) (Action, error)

	// DequeueReady returns up to limit pending actions for the account
	// whose next retry time (if any) has elapsed, oldest first.
	DequeueReady(ctx context.Context, accountID string, now time.Time, limit int) ([]Action, error)

	ListByStatus(ctx context.Context, status ActionStatus, limit int) ([]Action, error)
	ListRetryable(ctx context.Context, now time.Time, limit int) ([]Action, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Action, error)
	Stats(ctx context.Context) (ActionStats, error)

	// Dedup ledger: at most one action per (account, source event).
	HasActionForEvent(ctx context.Context, accountID, eventID string) (bool, error)
	MarkActionForEvent(ctx context.Context, accountID, eventID, actionID string) error
}

// AccountStore persists posting accounts and their trigger configuration.
type AccountStore interface {
	Upsert(ctx context.Context, acct Account) error
	GetByID(ctx context.Context, id string) (Account, error)
	ListEnabled(ctx context.Context) ([]Account, error)
	List(ctx context.Context, opts ListOpts) ([]Account, error)
}

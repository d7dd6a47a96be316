package domain

import "time"

// TradeEvent represents a single trade observed on the Polymarket
// real-time feed, optionally enriched with wallet analysis.
type TradeEvent struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	AssetID   string    `json:"asset_id"`
	Timestamp time.Time `json:"timestamp"`

	MarketSlug string `json:"market_slug,omitempty"`
	MarketName string `json:"market_name,omitempty"`
	EventSlug  string `json:"event_slug,omitempty"`
	EventTitle string `json:"event_title,omitempty"`
	MarketLink string `json:"market_link,omitempty"`
	Image      string `json:"image,omitempty"`

	Price        float64 `json:"price"`
	Size         float64 `json:"size"`
	Side         string  `json:"side"` // "BUY" or "SELL"
	Outcome      string  `json:"outcome,omitempty"`
	OutcomeIndex int     `json:"outcome_index"`

	TradeID       string `json:"trade_id,omitempty"`
	ConditionID   string `json:"condition_id,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	TraderName    string `json:"trader_name,omitempty"`

	// Enrichment results. Nil until the wallet has been analyzed.
	IsFreshWallet bool               `json:"is_fresh_wallet"`
	Profile       *WalletProfile     `json:"wallet_profile,omitempty"`
	Signal        *FreshWalletSignal `json:"fresh_wallet_signal,omitempty"`
	RiskScore     float64            `json:"risk_score,omitempty"`
	RiskSignals   []string           `json:"risk_signals,omitempty"`
}

// Notional returns the trade value in USD.
func (e TradeEvent) Notional() float64 {
	return e.Price * e.Size
}

// EventFilter controls which trade events are saved and alerted.
// A zero filter passes everything above the size floor.
type EventFilter struct {
	EventTypes []string `json:"event_types,omitempty"`
	AssetIDs   []string `json:"asset_ids,omitempty"`
	MinSize    float64  `json:"min_size"`
	MinPrice   float64  `json:"min_price"`
	MaxPrice   float64  `json:"max_price"`
	Side       string   `json:"side,omitempty"`
	MarketName string   `json:"market_name,omitempty"`

	// Freshness-dependent criteria. Any of these being active forces
	// wallet analysis before the filter can be evaluated.
	FreshWalletsOnly bool   `json:"fresh_wallets_only"`
	MinRiskScore     float64 `json:"min_risk_score"`
	MaxWalletNonce   *int64  `json:"max_wallet_nonce,omitempty"`
}

// NeedsFreshness reports whether evaluating the filter requires wallet
// analysis data.
func (f EventFilter) NeedsFreshness() bool {
	return f.FreshWalletsOnly || f.MinRiskScore > 0 || f.MaxWalletNonce != nil
}

// WatcherStatus is a point-in-time snapshot of the watcher state,
// safe to serialize for the status API.
type WatcherStatus struct {
	IsRunning         bool       `json:"is_running"`
	IsConnecting      bool       `json:"is_connecting"`
	ConnectedAt       *time.Time `json:"connected_at,omitempty"`
	EventsReceived    int64      `json:"events_received"`
	TradesReceived    int64      `json:"trades_received"`
	FreshWalletsFound int64      `json:"fresh_wallets_found"`
	LastEventAt       *time.Time `json:"last_event_at,omitempty"`
	ReconnectCount    int64      `json:"reconnect_count"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	Endpoint          string     `json:"websocket_endpoint"`
}

// DatabaseInfo summarizes the persisted event set.
type DatabaseInfo struct {
	EventCount  int64      `json:"event_count"`
	OldestEvent *time.Time `json:"oldest_event,omitempty"`
	NewestEvent *time.Time `json:"newest_event,omitempty"`
	SizeBytes   int64      `json:"size_bytes"`
}

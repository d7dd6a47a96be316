package domain

import "time"

// ActionStatus tracks an action through its processing lifecycle. Status
// never regresses except for the retry transition back to pending.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionFetching   ActionStatus = "fetching"
	ActionGenerating ActionStatus = "generating"
	ActionCapturing  ActionStatus = "capturing"
	ActionPosting    ActionStatus = "posting"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
)

// TriggerType selects which trades create actions for an account.
type TriggerType string

const (
	// TriggerFreshInsider fires only for the strictest freshness tier.
	TriggerFreshInsider TriggerType = "fresh_insider"

	// TriggerFreshWallet fires for insider or standard fresh wallets.
	TriggerFreshWallet TriggerType = "fresh_wallet"

	// TriggerBigTrade fires when notional meets the account's minimum.
	TriggerBigTrade TriggerType = "big_trade"

	// TriggerAnyTrade fires for every trade.
	TriggerAnyTrade TriggerType = "any_trade"

	// TriggerCustomBetCount fires when the wallet's bet count is at or
	// below the account's configured maximum.
	TriggerCustomBetCount TriggerType = "custom_bet_count"

	// TriggerManual marks actions created through the test endpoint.
	TriggerManual TriggerType = "manual"
)

// ActionsConfig is an account's trigger and retry policy. Owned by account
// configuration; read-only here.
type ActionsConfig struct {
	TriggerType    TriggerType `json:"trigger_type"`
	MinTradeSize   float64     `json:"min_trade_size"`
	MaxBetCount    int64       `json:"max_bet_count"`
	FreshThreshold int64       `json:"fresh_threshold"`
	MaxAgeHours    float64     `json:"max_age_hours"`
	MaxRetries     int         `json:"max_retries"`
	BackoffSeconds int         `json:"backoff_seconds"`
	Screenshot     bool        `json:"screenshot"`
	StylePrompt    string      `json:"style_prompt,omitempty"`
}

// Account is a posting account with tweet actions configured.
type Account struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Enabled      bool          `json:"enabled"`
	TweetEnabled bool          `json:"tweet_enabled"`
	Actions      ActionsConfig `json:"actions"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Action is a durable unit of work: turn a detected signal into a
// published post. Actions survive restarts and are retried with
// exponential backoff on failure.
type Action struct {
	ID          string       `json:"id"`
	AccountID   string       `json:"account_id"`
	TriggerType TriggerType  `json:"trigger_type"`
	Status      ActionStatus `json:"status"`

	WalletAddress string             `json:"wallet_address"`
	Event         TradeEvent         `json:"event"`
	Profile       *WalletProfile     `json:"wallet_profile,omitempty"`
	Signal        *FreshWalletSignal `json:"fresh_wallet_signal,omitempty"`

	DraftText      string `json:"draft_text,omitempty"`
	FinalText      string `json:"final_text,omitempty"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
	PostID         string `json:"post_id,omitempty"`
	PostURL        string `json:"post_url,omitempty"`

	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Terminal reports whether the action has reached an end state.
func (a Action) Terminal() bool {
	return a.Status == ActionCompleted || a.Status == ActionFailed
}

// ActionStats aggregates action counts by status for the stats API.
type ActionStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retrying  int64 `json:"retrying"`
}

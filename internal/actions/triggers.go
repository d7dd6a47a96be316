package actions

import "github.com/luthebao/xtools-sub000/internal/domain"

// triggerMatches decides whether a trade should create an action for an
// account. Freshness is re-evaluated against the account's own threshold
// and age bound rather than the analyzer's global one.
func triggerMatches(cfg domain.ActionsConfig, event domain.TradeEvent) bool {
	switch cfg.TriggerType {
	case domain.TriggerFreshInsider:
		if event.Profile == nil || event.Profile.FreshnessLevel != domain.FreshnessInsider {
			return false
		}
		return meetsMinSize(cfg, event)

	case domain.TriggerFreshWallet:
		if event.Profile == nil {
			return false
		}
		threshold := cfg.FreshThreshold
		if threshold <= 0 {
			threshold = event.Profile.FreshThreshold
		}
		if !event.Profile.FreshAt(threshold, cfg.MaxAgeHours) {
			return false
		}
		return meetsMinSize(cfg, event)

	case domain.TriggerBigTrade:
		return cfg.MinTradeSize > 0 && event.Notional() >= cfg.MinTradeSize

	case domain.TriggerAnyTrade:
		// Matches every trade; the size floor applies to the other triggers
		// only.
		return true

	case domain.TriggerCustomBetCount:
		if event.Profile == nil || !event.Profile.Known() {
			return false
		}
		if cfg.MaxBetCount <= 0 || event.Profile.BetCount > cfg.MaxBetCount {
			return false
		}
		return meetsMinSize(cfg, event)
	}
	return false
}

func meetsMinSize(cfg domain.ActionsConfig, event domain.TradeEvent) bool {
	return cfg.MinTradeSize <= 0 || event.Notional() >= cfg.MinTradeSize
}

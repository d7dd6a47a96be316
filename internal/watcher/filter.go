package watcher

import (
	"strings"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// matchesBasic evaluates the cheap, synchronous filter criteria: notional
// floor, event-type and asset allow-lists, exact side, price bounds, and a
// case-insensitive market-name substring match.
func matchesBasic(f domain.EventFilter, event domain.TradeEvent, defaultMinSize float64) bool {
	minSize := f.MinSize
	if minSize <= 0 {
		minSize = defaultMinSize
	}
	if event.Notional() < minSize {
		return false
	}

	if len(f.EventTypes) > 0 && !containsFold(f.EventTypes, event.EventType) {
		return false
	}
	if len(f.AssetIDs) > 0 && !contains(f.AssetIDs, event.AssetID) {
		return false
	}
	if f.Side != "" && !strings.EqualFold(f.Side, event.Side) {
		return false
	}
	if f.MinPrice > 0 && event.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && event.Price > f.MaxPrice {
		return false
	}
	if f.MarketName != "" {
		needle := strings.ToLower(f.MarketName)
		name := strings.ToLower(event.MarketName)
		title := strings.ToLower(event.EventTitle)
		if !strings.Contains(name, needle) && !strings.Contains(title, needle) {
			return false
		}
	}
	return true
}

// matchesFreshness evaluates the freshness-dependent criteria against an
// analyzed event. An event without a profile fails every active criterion.
func matchesFreshness(f domain.EventFilter, event domain.TradeEvent) bool {
	if !f.NeedsFreshness() {
		return true
	}
	if event.Profile == nil {
		return false
	}

	if f.FreshWalletsOnly && !event.IsFreshWallet {
		return false
	}
	if f.MinRiskScore > 0 && event.RiskScore < f.MinRiskScore {
		return false
	}
	if f.MaxWalletNonce != nil {
		if !event.Profile.Known() || event.Profile.Nonce > *f.MaxWalletNonce {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

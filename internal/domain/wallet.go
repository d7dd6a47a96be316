package domain

import "time"

// Freshness levels, ordered from most to least suspicious. A wallet's
// level is derived from its on-chain transaction count (nonce).
const (
	FreshnessInsider = "insider" // nonce 0: first ever transaction
	FreshnessFresh   = "fresh"   // nonce <= 2
	FreshnessNewbie  = "newbie"  // nonce <= fresh threshold
	FreshnessNone    = ""        // established wallet
)

// Signal factor keys contributed by the analyzer.
const (
	FactorBrandNew   = "brand_new"
	FactorVeryYoung  = "very_young"
	FactorLargeTrade = "large_trade"
)

// WalletProfile holds the result of analyzing a wallet's on-chain history.
// Profiles are cached per address, not per account; account-specific
// thresholds are re-evaluated against the raw nonce via FreshAt.
type WalletProfile struct {
	Address        string     `json:"address"`
	Nonce          int64      `json:"nonce"` // -1 when the lookup failed
	BetCount       int64      `json:"bet_count"`
	IsFresh        bool       `json:"is_fresh"`
	IsBrandNew     bool       `json:"is_brand_new"`
	FreshnessLevel string     `json:"freshness_level,omitempty"`
	FreshThreshold int64      `json:"fresh_threshold"`
	FirstSeen      *time.Time `json:"first_seen,omitempty"`
	AgeHours       *float64   `json:"age_hours,omitempty"`
	AnalyzedAt     time.Time  `json:"analyzed_at"`
}

// Known reports whether the on-chain lookup for this profile succeeded.
func (p WalletProfile) Known() bool {
	return p.Nonce >= 0
}

// FreshAt re-evaluates freshness against a caller-supplied nonce threshold
// and maximum age in hours. An unknown age passes; maxAgeHours <= 0 disables
// the age bound.
func (p WalletProfile) FreshAt(threshold int64, maxAgeHours float64) bool {
	if !p.Known() || p.Nonce > threshold {
		return false
	}
	if maxAgeHours > 0 && p.AgeHours != nil && *p.AgeHours > maxAgeHours {
		return false
	}
	return true
}

// FreshWalletSignal is the scored outcome of combining a wallet profile
// with the trade that triggered the analysis.
type FreshWalletSignal struct {
	Confidence float64            `json:"confidence"`
	Factors    map[string]float64 `json:"factors,omitempty"`
	Triggered  bool               `json:"triggered"`
}

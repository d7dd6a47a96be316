// Package analyzer determines how "fresh" a trading wallet is by looking at
// its on-chain transaction count, and scores trades from fresh wallets into
// confidence signals.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// Scoring constants. A signal starts at the base confidence and accumulates
// factor weights for each matched heuristic, clamped to [0, 1].
const (
	baseConfidence   = 0.5
	brandNewWeight   = 0.2 // nonce == 0
	veryYoungWeight  = 0.1 // nonce <= veryYoungNonce
	largeTradeWeight = 0.1 // notional >= LargeTradeUSD

	veryYoungNonce = 2
)

// Config holds the analyzer parameters.
type Config struct {
	// FreshThreshold is the maximum nonce for a wallet to count as fresh.
	FreshThreshold int64

	// MaxAgeHours bounds wallet age when it is known; 0 disables the bound.
	MaxAgeHours float64

	// AlertThreshold is the minimum confidence for a signal to trigger.
	AlertThreshold float64

	// MinTradeSize is the notional below which trades skip analysis.
	MinTradeSize float64

	// LargeTradeUSD is the notional above which a trade counts as large.
	LargeTradeUSD float64

	// CacheTTL and CacheMaxSize bound the wallet profile cache.
	CacheTTL     time.Duration
	CacheMaxSize int
}

// Analyzer resolves wallet nonces through an RPC pool and caches the
// resulting profiles. Safe for concurrent use.
type Analyzer struct {
	cfg      Config
	resolver domain.NonceResolver
	cache    domain.WalletCache
	logger   *slog.Logger
}

// New creates an Analyzer backed by the given nonce resolver.
func New(cfg Config, resolver domain.NonceResolver, logger *slog.Logger) *Analyzer {
	if cfg.FreshThreshold <= 0 {
		cfg.FreshThreshold = 5
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 0.7
	}
	if cfg.MinTradeSize <= 0 {
		cfg.MinTradeSize = 100
	}
	if cfg.LargeTradeUSD <= 0 {
		cfg.LargeTradeUSD = 1_000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.CacheMaxSize <= 0 {
		cfg.CacheMaxSize = 10_000
	}
	return &Analyzer{
		cfg:      cfg,
		resolver: resolver,
		cache:    newWalletCache(cfg.CacheTTL, cfg.CacheMaxSize),
		logger:   logger.With(slog.String("component", "analyzer")),
	}
}

// AnalyzeWallet returns the wallet's profile, consulting the cache before
// hitting the RPC pool. Resolution failures never propagate: the returned
// profile carries the nonce sentinel -1 with IsFresh false, so one flaky
// wallet does not stall the stream. Failed lookups are not cached, giving
// the wallet another chance on its next trade.
func (a *Analyzer) AnalyzeWallet(ctx context.Context, address string) domain.WalletProfile {
	addr := strings.ToLower(address)
	if addr == "" {
		return domain.WalletProfile{Nonce: -1, AnalyzedAt: time.Now().UTC()}
	}

	if profile, ok := a.cache.Get(addr); ok {
		return profile
	}

	nonce, err := a.resolver.NonceAt(ctx, addr)
	if err != nil {
		a.logger.Warn("nonce lookup failed",
			slog.String("wallet", addr),
			slog.String("error", err.Error()))
		return a.buildProfile(addr, -1)
	}

	profile := a.buildProfile(addr, nonce)
	a.cache.Set(addr, profile)
	return profile
}

func (a *Analyzer) buildProfile(addr string, nonce int64) domain.WalletProfile {
	profile := domain.WalletProfile{
		Address:        addr,
		Nonce:          nonce,
		FreshThreshold: a.cfg.FreshThreshold,
		AnalyzedAt:     time.Now().UTC(),
	}
	if nonce < 0 {
		return profile
	}

	profile.BetCount = nonce
	profile.IsBrandNew = nonce == 0
	profile.IsFresh = profile.FreshAt(a.cfg.FreshThreshold, a.cfg.MaxAgeHours)
	switch {
	case nonce == 0:
		profile.FreshnessLevel = domain.FreshnessInsider
	case nonce <= veryYoungNonce:
		profile.FreshnessLevel = domain.FreshnessFresh
	case profile.IsFresh:
		profile.FreshnessLevel = domain.FreshnessNewbie
	}
	return profile
}

// Score combines a wallet profile with the trade that surfaced it into a
// confidence signal. Fresh wallets start at the base confidence; a brand
// new wallet (nonce 0) also counts as very young, so its factors stack.
func (a *Analyzer) Score(event domain.TradeEvent, profile domain.WalletProfile) domain.FreshWalletSignal {
	if !profile.Known() || !profile.IsFresh {
		return domain.FreshWalletSignal{}
	}

	factors := map[string]float64{}
	confidence := baseConfidence

	if profile.Nonce == 0 {
		factors[domain.FactorBrandNew] = brandNewWeight
		confidence += brandNewWeight
	}
	if profile.Nonce <= veryYoungNonce {
		factors[domain.FactorVeryYoung] = veryYoungWeight
		confidence += veryYoungWeight
	}
	if event.Notional() >= a.cfg.LargeTradeUSD {
		factors[domain.FactorLargeTrade] = largeTradeWeight
		confidence += largeTradeWeight
	}

	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	return domain.FreshWalletSignal{
		Confidence: confidence,
		Factors:    factors,
		Triggered:  confidence >= a.cfg.AlertThreshold,
	}
}

// AnalyzeTrade runs the full pipeline for one trade: qualification gate,
// wallet profile, signal scoring, and risk annotations, mutating the event
// in place. Returns the signal, or nil when the trade does not qualify or
// the wallet is not fresh.
func (a *Analyzer) AnalyzeTrade(ctx context.Context, event *domain.TradeEvent) *domain.FreshWalletSignal {
	if event.WalletAddress == "" {
		return nil
	}
	if event.Notional() < a.cfg.MinTradeSize {
		return nil
	}

	profile := a.AnalyzeWallet(ctx, event.WalletAddress)
	event.Profile = &profile

	if !profile.Known() || !profile.IsFresh {
		return nil
	}

	signal := a.Score(*event, profile)
	event.Signal = &signal
	event.IsFreshWallet = true
	event.RiskScore = signal.Confidence
	event.RiskSignals = riskSignals(*event, profile)
	return &signal
}

// riskSignals renders the matched heuristics as human-readable strings for
// alerting and UI surfaces.
func riskSignals(event domain.TradeEvent, profile domain.WalletProfile) []string {
	var signals []string
	switch {
	case profile.Nonce == 0:
		signals = append(signals, "Brand New Wallet (0 transactions)")
	case profile.Nonce <= veryYoungNonce:
		signals = append(signals, fmt.Sprintf("Very Young Wallet (%d transactions)", profile.Nonce))
	default:
		signals = append(signals, fmt.Sprintf("Fresh Wallet (%d transactions)", profile.Nonce))
	}
	if event.Signal != nil {
		if _, ok := event.Signal.Factors[domain.FactorLargeTrade]; ok {
			signals = append(signals, fmt.Sprintf("Large Position (%s)", formatUSD(event.Notional())))
		}
	}
	return signals
}

// formatUSD renders a dollar amount with thousands separators, e.g.
// "$12,345.00".
func formatUSD(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	dot := strings.IndexByte(s, '.')
	intPart, frac := s[:dot], s[dot:]

	var sign string
	if strings.HasPrefix(intPart, "-") {
		sign, intPart = "-", intPart[1:]
	}

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String() + frac
}

// CacheLen reports the number of cached wallet profiles.
func (a *Analyzer) CacheLen() int {
	return a.cache.Len()
}

package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

type fakeResolver struct {
	nonces map[string]int64
	err    error
	calls  int
}

func (f *fakeResolver) NonceAt(_ context.Context, address string) (int64, error) {
	f.calls++
	if f.err != nil {
		return -1, f.err
	}
	n, ok := f.nonces[address]
	if !ok {
		return -1, errors.New("unknown wallet")
	}
	return n, nil
}

func newTestAnalyzer(resolver *fakeResolver) *Analyzer {
	return New(Config{
		FreshThreshold: 5,
		AlertThreshold: 0.7,
		MinTradeSize:   100,
		LargeTradeUSD:  10_000,
		CacheTTL:       time.Minute,
		CacheMaxSize:   100,
	}, resolver, slog.Default())
}

func TestAnalyzeWalletFreshness(t *testing.T) {
	tests := []struct {
		name      string
		nonce     int64
		wantFresh bool
		wantLevel string
	}{
		{"brand new wallet", 0, true, domain.FreshnessInsider},
		{"very young wallet", 2, true, domain.FreshnessFresh},
		{"young wallet", 5, true, domain.FreshnessNewbie},
		{"just over threshold", 6, false, ""},
		{"established wallet", 150, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := "0xabc"
			resolver := &fakeResolver{nonces: map[string]int64{addr: tt.nonce}}
			a := newTestAnalyzer(resolver)

			profile := a.AnalyzeWallet(context.Background(), addr)
			if profile.IsFresh != tt.wantFresh {
				t.Errorf("IsFresh = %v, want %v", profile.IsFresh, tt.wantFresh)
			}
			if profile.FreshnessLevel != tt.wantLevel {
				t.Errorf("FreshnessLevel = %q, want %q", profile.FreshnessLevel, tt.wantLevel)
			}
			if (tt.nonce == 0) != profile.IsBrandNew {
				t.Errorf("IsBrandNew = %v for nonce %d", profile.IsBrandNew, tt.nonce)
			}
		})
	}
}

// Brand new wallet making a $15,000 trade: every factor stacks to 0.9 and
// the risk annotations name the heuristics.
func TestAnalyzeTradeBrandNewLargeTrade(t *testing.T) {
	addr := "0xfresh"
	resolver := &fakeResolver{nonces: map[string]int64{addr: 0}}
	a := newTestAnalyzer(resolver)

	event := domain.TradeEvent{WalletAddress: addr, Price: 0.5, Size: 30_000} // $15,000
	signal := a.AnalyzeTrade(context.Background(), &event)
	if signal == nil {
		t.Fatal("expected a signal")
	}
	if signal.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", signal.Confidence)
	}
	if !signal.Triggered {
		t.Error("signal should trigger above the alert threshold")
	}
	if !event.IsFreshWallet {
		t.Error("IsFreshWallet should be set")
	}
	if event.RiskScore != 0.9 {
		t.Errorf("RiskScore = %v, want 0.9", event.RiskScore)
	}

	joined := strings.Join(event.RiskSignals, "; ")
	if !strings.Contains(joined, "Brand New Wallet (0 transactions)") {
		t.Errorf("risk signals %q missing brand-new note", joined)
	}
	if !strings.Contains(joined, "Large Position ($15,000.00)") {
		t.Errorf("risk signals %q missing large-position note", joined)
	}
}

// A $50 trade is below the qualification gate: no analysis, no signal.
func TestAnalyzeTradeBelowMinimumSize(t *testing.T) {
	addr := "0xfresh"
	resolver := &fakeResolver{nonces: map[string]int64{addr: 0}}
	a := newTestAnalyzer(resolver)

	event := domain.TradeEvent{WalletAddress: addr, Price: 0.5, Size: 100} // $50
	if signal := a.AnalyzeTrade(context.Background(), &event); signal != nil {
		t.Errorf("signal = %+v, want nil below the qualification gate", signal)
	}
	if resolver.calls != 0 {
		t.Errorf("resolver called %d times for a sub-threshold trade", resolver.calls)
	}
}

// All RPC endpoints failing degrades to an unknown profile, never an error.
func TestAnalyzeWalletAllEndpointsFailed(t *testing.T) {
	resolver := &fakeResolver{err: domain.ErrAllEndpointsFailed}
	a := newTestAnalyzer(resolver)

	profile := a.AnalyzeWallet(context.Background(), "0xabc")
	if profile.Known() {
		t.Error("profile should report unknown after lookup failure")
	}
	if profile.IsFresh {
		t.Error("unknown profile must not be fresh")
	}

	event := domain.TradeEvent{WalletAddress: "0xabc", Price: 0.5, Size: 30_000}
	if signal := a.AnalyzeTrade(context.Background(), &event); signal != nil {
		t.Errorf("signal = %+v, want nil for unknown wallet", signal)
	}
}

func TestScoreEstablishedWallet(t *testing.T) {
	a := newTestAnalyzer(&fakeResolver{})

	profile := domain.WalletProfile{Address: "0xabc", Nonce: 150}
	if signal := a.Score(domain.TradeEvent{Price: 0.5, Size: 30_000}, profile); signal.Triggered {
		t.Error("established wallet should not trigger")
	}
}

func TestScoreFreshSmallTrade(t *testing.T) {
	a := newTestAnalyzer(&fakeResolver{})

	event := domain.TradeEvent{Price: 0.5, Size: 400} // $200
	profile := domain.WalletProfile{Address: "0xabc", Nonce: 4, IsFresh: true}

	signal := a.Score(event, profile)
	if signal.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want 0.5", signal.Confidence)
	}
	if signal.Triggered {
		t.Error("base confidence alone should not reach the alert threshold")
	}
}

func TestAnalyzeWalletCachesProfiles(t *testing.T) {
	addr := "0xabc"
	resolver := &fakeResolver{nonces: map[string]int64{addr: 1}}
	a := newTestAnalyzer(resolver)

	for i := 0; i < 5; i++ {
		a.AnalyzeWallet(context.Background(), addr)
	}
	if resolver.calls != 1 {
		t.Errorf("resolver called %d times, want 1", resolver.calls)
	}
}

func TestAnalyzeWalletDoesNotCacheFailures(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("down")}
	a := newTestAnalyzer(resolver)

	a.AnalyzeWallet(context.Background(), "0xabc")
	resolver.err = nil
	resolver.nonces = map[string]int64{"0xabc": 3}

	profile := a.AnalyzeWallet(context.Background(), "0xabc")
	if !profile.Known() {
		t.Error("recovered lookup should not be shadowed by a cached failure")
	}
}

func TestAnalyzeWalletCaseInsensitive(t *testing.T) {
	resolver := &fakeResolver{nonces: map[string]int64{"0xabcdef": 1}}
	a := newTestAnalyzer(resolver)

	a.AnalyzeWallet(context.Background(), "0xABCDEF")
	a.AnalyzeWallet(context.Background(), "0xabcdef")
	if resolver.calls != 1 {
		t.Errorf("resolver called %d times, want 1 (case-insensitive cache)", resolver.calls)
	}
}

func TestWalletCacheEvictsWhenFull(t *testing.T) {
	cache := newWalletCache(time.Minute, 10)

	for i := 0; i < 25; i++ {
		addr := fmt.Sprintf("0x%02d", i)
		cache.Set(addr, domain.WalletProfile{Address: addr})
	}

	if n := cache.Len(); n > 10 {
		t.Errorf("cache holds %d entries, want <= 10", n)
	}
}

func TestFreshAtAgeBound(t *testing.T) {
	age := 200.0
	profile := domain.WalletProfile{Nonce: 1, AgeHours: &age}

	if profile.FreshAt(5, 100) {
		t.Error("wallet older than the age bound should not be fresh")
	}
	if !profile.FreshAt(5, 0) {
		t.Error("age bound of 0 should be disabled")
	}

	unknownAge := domain.WalletProfile{Nonce: 1}
	if !unknownAge.FreshAt(5, 100) {
		t.Error("unknown age should pass the age bound")
	}
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{15000, "$15,000.00"},
		{12345.5, "$12,345.50"},
		{999, "$999.00"},
		{1234567.89, "$1,234,567.89"},
	}
	for _, tt := range tests {
		if got := formatUSD(tt.in); got != tt.want {
			t.Errorf("formatUSD(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

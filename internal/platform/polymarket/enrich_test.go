package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

func TestEnrichFillsMissingMetadata(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.URL.Query().Get("slug"); got != "will-it-rain" {
			t.Errorf("slug = %q, want will-it-rain", got)
		}
		json.NewEncoder(w).Encode([]APIMarket{{
			Slug:     "will-it-rain",
			Question: "Will it rain tomorrow?",
			Image:    "https://img.example/rain.png",
		}})
	}))
	defer srv.Close()

	enricher := NewEnricher(NewGammaClient(srv.URL), nil)

	event := domain.TradeEvent{MarketSlug: "will-it-rain"}
	if err := enricher.Enrich(context.Background(), &event); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if event.MarketName != "Will it rain tomorrow?" {
		t.Errorf("MarketName = %q", event.MarketName)
	}
	if event.Image != "https://img.example/rain.png" {
		t.Errorf("Image = %q", event.Image)
	}
	if event.MarketLink != "https://polymarket.com/event/will-it-rain" {
		t.Errorf("MarketLink = %q", event.MarketLink)
	}

	// Second event on the same market must hit the cache.
	second := domain.TradeEvent{MarketSlug: "will-it-rain"}
	if err := enricher.Enrich(context.Background(), &second); err != nil {
		t.Fatalf("Enrich (cached): %v", err)
	}
	if calls != 1 {
		t.Errorf("API calls = %d, want 1", calls)
	}
	if second.MarketName != "Will it rain tomorrow?" {
		t.Errorf("cached MarketName = %q", second.MarketName)
	}
}

func TestEnrichKeepsExistingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]APIMarket{{
			Slug:     "btc-100k",
			Question: "From the API",
			Image:    "https://img.example/api.png",
		}})
	}))
	defer srv.Close()

	enricher := NewEnricher(NewGammaClient(srv.URL), nil)

	event := domain.TradeEvent{
		MarketSlug: "btc-100k",
		MarketName: "Already set",
	}
	if err := enricher.Enrich(context.Background(), &event); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if event.MarketName != "Already set" {
		t.Errorf("MarketName overwritten: %q", event.MarketName)
	}
	if event.Image != "https://img.example/api.png" {
		t.Errorf("Image = %q", event.Image)
	}
}

func TestEnrichCachesUnknownSlug(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode([]APIMarket{})
	}))
	defer srv.Close()

	enricher := NewEnricher(NewGammaClient(srv.URL), nil)

	for i := 0; i < 3; i++ {
		event := domain.TradeEvent{MarketSlug: "no-such-market"}
		enricher.Enrich(context.Background(), &event)
		if event.MarketName != "" {
			t.Errorf("MarketName = %q, want empty", event.MarketName)
		}
	}
	if calls != 1 {
		t.Errorf("API calls = %d, want 1", calls)
	}
}

func TestEnrichSkipsEventsWithoutSlug(t *testing.T) {
	enricher := NewEnricher(NewGammaClient("http://unreachable.invalid"), nil)

	event := domain.TradeEvent{WalletAddress: "0xabc"}
	if err := enricher.Enrich(context.Background(), &event); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
}

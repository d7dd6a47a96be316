package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

const (
	enrichCacheTTL   = 5 * time.Minute
	enrichCacheSweep = 10 * time.Minute
)

// Enricher fills missing market metadata on trade events from the Gamma
// API. Live feed frames occasionally arrive without title or image; the
// enricher resolves those from the market slug so downstream text and
// screenshot stages always have something to show.
//
// Lookups are cached per slug. A failed lookup is cached too, so a market
// the API does not know about is not retried on every trade.
type Enricher struct {
	gamma  *GammaClient
	cache  *gocache.Cache
	logger *slog.Logger
}

// NewEnricher creates an Enricher backed by the given Gamma client.
func NewEnricher(gamma *GammaClient, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		gamma:  gamma,
		cache:  gocache.New(enrichCacheTTL, enrichCacheSweep),
		logger: logger.With(slog.String("component", "enricher")),
	}
}

// Enrich fills MarketName, Image, and MarketLink on the event when they are
// empty and a market slug is present. The event is only ever added to,
// never overwritten.
func (e *Enricher) Enrich(ctx context.Context, event *domain.TradeEvent) error {
	if event.MarketSlug == "" {
		return nil
	}
	if event.MarketName != "" && event.Image != "" && event.MarketLink != "" {
		return nil
	}

	market, err := e.lookup(ctx, event.MarketSlug)
	if err != nil {
		return err
	}
	if market == nil {
		return nil // known-missing slug
	}

	if event.MarketName == "" {
		event.MarketName = market.Question
	}
	if event.Image == "" {
		if market.Image != "" {
			event.Image = market.Image
		} else {
			event.Image = market.Icon
		}
	}
	if event.MarketLink == "" {
		event.MarketLink = fmt.Sprintf("https://polymarket.com/event/%s", market.Slug)
	}
	return nil
}

func (e *Enricher) lookup(ctx context.Context, slug string) (*APIMarket, error) {
	if cached, ok := e.cache.Get(slug); ok {
		market, _ := cached.(*APIMarket)
		return market, nil
	}

	market, err := e.gamma.GetMarketBySlug(ctx, slug)
	if err != nil {
		e.logger.Debug("market lookup failed",
			slog.String("slug", slug),
			slog.String("error", err.Error()))
		e.cache.Set(slug, (*APIMarket)(nil), gocache.DefaultExpiration)
		return nil, err
	}

	e.cache.Set(slug, &market, gocache.DefaultExpiration)
	return &market, nil
}

package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// subscribeCommand is the control message sent after connecting to the
// live-data feed.
type subscribeCommand struct {
	Action        string         `json:"action"`
	Subscriptions []subscription `json:"subscriptions"`
}

type subscription struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

// frame is the outer envelope of every live-data message.
type frame struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// tradePayload mirrors the activity/trades payload. Numeric fields arrive
// as JSON numbers or strings depending on the producer, hence flexnum.
type tradePayload struct {
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	EventSlug       string  `json:"eventSlug"`
	Icon            string  `json:"icon"`
	Name            string  `json:"name"`
	Outcome         string  `json:"outcome"`
	OutcomeIndex    int     `json:"outcomeIndex"`
	Price           flexnum `json:"price"`
	ProxyWallet     string  `json:"proxyWallet"`
	Pseudonym       string  `json:"pseudonym"`
	Side            string  `json:"side"`
	Size            flexnum `json:"size"`
	Slug            string  `json:"slug"`
	Timestamp       int64   `json:"timestamp"`
	Title           string  `json:"title"`
	TransactionHash string  `json:"transactionHash"`
}

// flexnum decodes a JSON number that may be quoted.
type flexnum float64

func (f *flexnum) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*f = flexnum(v)
	return nil
}

// ParseFrame decodes a raw feed message. Returns (event, true, nil) for a
// trade frame, (zero, false, nil) for recognized non-trade frames such as
// subscription acks, and an error only for malformed payloads.
func ParseFrame(raw []byte) (domain.TradeEvent, bool, error) {
	var env frame
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.TradeEvent{}, false, fmt.Errorf("polymarket/ws: decode envelope: %w", err)
	}

	if env.Topic != "activity" || env.Type != "trades" || len(env.Payload) == 0 {
		return domain.TradeEvent{}, false, nil
	}

	var p tradePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return domain.TradeEvent{}, false, fmt.Errorf("polymarket/ws: decode trade payload: %w", err)
	}

	return p.toDomain(), true, nil
}

func (p tradePayload) toDomain() domain.TradeEvent {
	ts := time.Unix(p.Timestamp, 0).UTC()
	if p.Timestamp > 1e12 { // millisecond timestamps
		ts = time.UnixMilli(p.Timestamp).UTC()
	}

	name := p.Name
	if name == "" {
		name = p.Pseudonym
	}

	return domain.TradeEvent{
		ID:            tradeID(p),
		EventType:     "trade",
		AssetID:       p.Asset,
		Timestamp:     ts,
		MarketSlug:    p.Slug,
		MarketName:    p.Title,
		EventSlug:     p.EventSlug,
		EventTitle:    p.Title,
		MarketLink:    marketLink(p.EventSlug, p.Slug),
		Image:         p.Icon,
		Price:         float64(p.Price),
		Size:          float64(p.Size),
		Side:          strings.ToUpper(p.Side),
		Outcome:       p.Outcome,
		OutcomeIndex:  p.OutcomeIndex,
		TradeID:       p.TransactionHash,
		ConditionID:   p.ConditionID,
		WalletAddress: strings.ToLower(p.ProxyWallet),
		TraderName:    name,
	}
}

// tradeID builds a stable identifier for deduplication. The feed has no
// dedicated trade id, so the transaction hash plus asset and wallet stands
// in for one.
func tradeID(p tradePayload) string {
	if p.TransactionHash != "" {
		return fmt.Sprintf("%s:%s:%s", p.TransactionHash, p.Asset, strings.ToLower(p.ProxyWallet))
	}
	return fmt.Sprintf("%s:%s:%d", p.Asset, strings.ToLower(p.ProxyWallet), p.Timestamp)
}

func marketLink(eventSlug, slug string) string {
	switch {
	case eventSlug != "":
		return "https://polymarket.com/event/" + eventSlug
	case slug != "":
		return "https://polymarket.com/market/" + slug
	default:
		return ""
	}
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is the subset of the Gamma market object the watcher uses for
// metadata enrichment.
type APIMarket struct {
	ID       string `json:"id"`
	Slug     string `json:"slug"`
	Question string `json:"question"`
	Image    string `json:"image"`
	Icon     string `json:"icon"`
	Active   bool   `json:"active"`
	Closed   bool   `json:"closed"`
	Volume   string `json:"volume"`
	EndDate  string `json:"endDate"`
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIActivity is one row of a wallet's trade history from the data API.
type APIActivity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"`
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	Price           float64 `json:"price"`
	Side            string  `json:"side"`
	Outcome         string  `json:"outcome"`
	Title           string  `json:"title"`
	TransactionHash string  `json:"transactionHash"`
}

package polymarket

import (
	"testing"
)

func TestParseFrameTrade(t *testing.T) {
	raw := []byte(`{
		"topic": "activity",
		"type": "trades",
		"payload": {
			"asset": "1234567890",
			"conditionId": "0xcond",
			"eventSlug": "us-election-2028",
			"outcome": "Yes",
			"outcomeIndex": 0,
			"price": 0.42,
			"proxyWallet": "0xABCDEF0123456789",
			"side": "buy",
			"size": "250.5",
			"slug": "will-x-happen",
			"timestamp": 1756300000,
			"title": "Will X happen?",
			"transactionHash": "0xhash"
		}
	}`)

	event, ok, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if !ok {
		t.Fatal("expected a trade frame")
	}

	if event.AssetID != "1234567890" {
		t.Errorf("AssetID = %q", event.AssetID)
	}
	if event.Price != 0.42 {
		t.Errorf("Price = %v, want 0.42", event.Price)
	}
	if event.Size != 250.5 {
		t.Errorf("Size = %v, want 250.5 (quoted number)", event.Size)
	}
	if event.Side != "BUY" {
		t.Errorf("Side = %q, want BUY", event.Side)
	}
	if event.WalletAddress != "0xabcdef0123456789" {
		t.Errorf("WalletAddress = %q, want lowercased", event.WalletAddress)
	}
	if event.MarketLink != "https://polymarket.com/event/us-election-2028" {
		t.Errorf("MarketLink = %q", event.MarketLink)
	}
	if event.ID == "" {
		t.Error("ID should be derived from the transaction hash")
	}
	if got := event.Notional(); got != 0.42*250.5 {
		t.Errorf("Notional = %v", got)
	}
}

func TestParseFrameNonTrade(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"subscription ack", `{"topic":"activity","type":"subscribed"}`},
		{"other topic", `{"topic":"comments","type":"new","payload":{}}`},
		{"empty payload", `{"topic":"activity","type":"trades"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := ParseFrame([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseFrame: %v", err)
			}
			if ok {
				t.Error("frame should not parse as a trade")
			}
		})
	}
}

func TestParseFrameMalformed(t *testing.T) {
	if _, _, err := ParseFrame([]byte(`{not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, _, err := ParseFrame([]byte(`{"topic":"activity","type":"trades","payload":{"price":"abc"}}`)); err == nil {
		t.Error("expected error for non-numeric price")
	}
}

func TestParseFrameMillisecondTimestamp(t *testing.T) {
	raw := []byte(`{"topic":"activity","type":"trades","payload":{"asset":"1","proxyWallet":"0xa","timestamp":1756300000000}}`)

	event, ok, err := ParseFrame(raw)
	if err != nil || !ok {
		t.Fatalf("ParseFrame: ok=%v err=%v", ok, err)
	}
	if y := event.Timestamp.Year(); y < 2020 || y > 2100 {
		t.Errorf("timestamp year = %d, millisecond input mishandled", y)
	}
}

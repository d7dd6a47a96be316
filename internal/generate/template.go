// Package generate produces post text for actions, either from the built-in
// template or from an external model service.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

const defaultMaxLength = 280

// TemplateGenerator renders post text locally without an external model.
// It is the fallback when no generation service is configured and the
// reference output for dry runs.
type TemplateGenerator struct {
	maxLength int
}

var _ domain.Generator = (*TemplateGenerator)(nil)

// NewTemplateGenerator creates a template generator. maxLength <= 0 uses
// the platform default of 280 characters.
func NewTemplateGenerator(maxLength int) *TemplateGenerator {
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}
	return &TemplateGenerator{maxLength: maxLength}
}

// Generate renders the action into post text. It never fails; a sparse
// action produces a sparse but valid post.
func (g *TemplateGenerator) Generate(_ context.Context, action domain.Action) (string, error) {
	event := action.Event

	var b strings.Builder
	b.WriteString(headline(action))
	b.WriteString("\n\n")

	market := event.MarketName
	if market == "" {
		market = event.EventTitle
	}
	fmt.Fprintf(&b, "%s bet %s on %s", shortAddr(event.WalletAddress), formatUSD(event.Notional()), outcomeLabel(event))
	if market != "" {
		fmt.Fprintf(&b, " in %q", market)
	}
	b.WriteString("\n")

	for _, signal := range event.RiskSignals {
		fmt.Fprintf(&b, "\n• %s", signal)
	}
	if action.Signal != nil {
		fmt.Fprintf(&b, "\n• Confidence: %.0f%%", action.Signal.Confidence*100)
	}

	if event.MarketLink != "" {
		b.WriteString("\n\n")
		b.WriteString(event.MarketLink)
	}

	return truncate(b.String(), g.maxLength), nil
}

func headline(action domain.Action) string {
	profile := action.Profile
	switch {
	case profile != nil && profile.IsBrandNew:
		return "🚨 Brand new wallet spotted"
	case profile != nil && profile.IsFresh:
		return "👀 Fresh wallet spotted"
	case action.TriggerType == domain.TriggerBigTrade:
		return "🐋 Large position opened"
	default:
		return "📊 Notable trade"
	}
}

func outcomeLabel(event domain.TradeEvent) string {
	outcome := event.Outcome
	if outcome == "" {
		outcome = event.Side
	}
	if outcome == "" {
		return "a market"
	}
	return strings.ToUpper(outcome)
}

// shortAddr abbreviates a hex address to the 0x1234…abcd form.
func shortAddr(addr string) string {
	if len(addr) < 12 {
		if addr == "" {
			return "A wallet"
		}
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

// formatUSD renders an amount as $1,234.56.
func formatUSD(amount float64) string {
	s := fmt.Sprintf("%.2f", amount)
	dot := strings.IndexByte(s, '.')
	whole, frac := s[:dot], s[dot:]

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return "$" + b.String() + frac
}

// truncate trims text to max runes, ending with an ellipsis when cut. Links
// at the end survive truncation only if they fit whole.
func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-1]) + "…"
}

// Package classify infers an event type from raw free text when a
// collector does not supply one, using keyword rules in the §4.3.5
// precedence order rather than a single highest-score match; ties are
// broken by enum precedence, not by rule weight.
package classify

import (
	"strings"

	"github.com/chainsignal/fusion/internal/model"
)

// Rule is one pattern entry: any keyword match classifies the text as
// EventType.
type Rule struct {
	EventType model.EventType
	Keywords  []string
}

// precedence is the fixed evaluation order from §4.3.5. The first rule
// whose keyword matches wins.
var precedence = []Rule{
	{model.EventTradingOpen, []string{"trading is now open", "trading open", "spot trading live", "open for trading"}},
	{model.EventListing, []string{"will list", "has listed", "new listing", "listing of", "gets listed"}},
	{model.EventFuturesLaunch, []string{"perpetual contract", "futures launch", "futures contract", "perpetual futures"}},
	{model.EventDepositOpen, []string{"deposit is now open", "deposits open", "deposit open"}},
	{model.EventAirdrop, []string{"airdrop", "claim your tokens"}},
	{model.EventPriceAlert, []string{"price alert", "surged", "price moved"}},
	{model.EventOIAlert, []string{"open interest", "oi alert"}},
}

// DefaultRules returns the classifier's default pattern table. Callers
// can pass a different table to Classify (normalize.Options.Rules); the
// config package has no option for it.
func DefaultRules() []Rule { return precedence }

// Classify returns the strongest match in the §4.3.5 precedence order,
// defaulting to EventAnnouncement when nothing matches.
func Classify(rawText string, rules []Rule) model.EventType {
	text := strings.ToLower(rawText)
	for _, r := range rules {
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				return r.EventType
			}
		}
	}
	return model.EventAnnouncement
}

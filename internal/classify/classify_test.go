package classify

import (
	"testing"

	"github.com/chainsignal/fusion/internal/model"
)

func TestClassifyPrecedence(t *testing.T) {
	cases := []struct {
		name string
		text string
		want model.EventType
	}{
		{"trading open wins over listing", "ABC will list and trading is now open", model.EventTradingOpen},
		{"listing only", "Binance will list ABC tomorrow", model.EventListing},
		{"futures", "ABC perpetual contract launch announced", model.EventFuturesLaunch},
		{"deposit", "ABC deposits open now", model.EventDepositOpen},
		{"airdrop", "claim your tokens in the ABC airdrop", model.EventAirdrop},
		{"price alert", "ABC price surged 20%", model.EventPriceAlert},
		{"oi alert", "ABC open interest hit new highs", model.EventOIAlert},
		{"fallback", "just a regular update about ABC", model.EventAnnouncement},
	}
	rules := DefaultRules()
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.text, rules); got != c.want {
				t.Errorf("Classify(%q) = %q, want %q", c.text, got, c.want)
			}
		})
	}
}

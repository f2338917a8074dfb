// Package routing implements venue priority selection and per-symbol
// cooldown demotion for the Signal Router (§4.7).
//
// There is no failure feedback loop here: cooldown is driven purely by
// a bus-backed TTL key per symbol, set whenever a cex/hl route fires,
// so the state is a thin wrapper over the bus rather than an in-memory
// failure counter.
package routing

import (
	"context"
	"time"

	"github.com/chainsignal/fusion/internal/bus"
	"github.com/chainsignal/fusion/internal/fingerprint"
)

// Cooldown tracks per-symbol routing cooldowns via the bus's TTL key
// (cooldown:<symbol>, §4.1). While a symbol is within its cooldown
// window, subsequent cex/hl route attempts demote to notify-only.
type Cooldown struct {
	b   bus.Bus
	ttl time.Duration
}

// NewCooldown builds a Cooldown backed by the given bus and TTL
// (default 30s).
func NewCooldown(b bus.Bus, ttl time.Duration) *Cooldown {
	return &Cooldown{b: b, ttl: ttl}
}

// Active reports whether symbol is currently within its cooldown window.
func (c *Cooldown) Active(ctx context.Context, symbol string) (bool, error) {
	ttl, err := c.b.TTL(ctx, bus.CooldownKey(symbol))
	if err != nil {
		return false, err
	}
	return ttl > 0, nil
}

// Start begins (or refreshes) a symbol's cooldown window. cooldown:<symbol>
// is a plain string key with a TTL per §4.1's wire contract, not a hash;
// an external consumer doing a plain GET against it must not hit a
// WRONGTYPE.
func (c *Cooldown) Start(ctx context.Context, symbol string) error {
	return c.b.Set(ctx, bus.CooldownKey(symbol), "1", c.ttl)
}

// SelectVenue picks the first venue in priority order that is not
// blacklisted (§4.7's CEX_PRIORITY ordered venue list). Returns ""
// if every venue is blacklisted.
func SelectVenue(priority []string, blacklist map[string]bool) string {
	for _, v := range priority {
		if !blacklist[v] {
			return v
		}
	}
	return ""
}

// BlacklistSet builds a lookup set from a blacklist slice as given
// (venue identifiers, which are not symbol-normalized).
func BlacklistSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// SymbolBlacklistSet builds a lookup set keyed by fingerprint.Normalize
// of each entry, so it compares correctly against FusedEvent.Symbol,
// which the aggregator always populates as the canonical symbol
// (aggregator.go's Window.Symbol = e.CanonicalSymbol). Without this,
// entries like BUSD/WBTC/WETH/WBNB collapse under normalization's
// quote-suffix stripping and would never match their canonicalized
// form.
func SymbolBlacklistSet(symbols []string) map[string]bool {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[fingerprint.Normalize(s)] = true
	}
	return set
}

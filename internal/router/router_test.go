package router

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainsignal/fusion/internal/bus"
	"github.com/chainsignal/fusion/internal/fingerprint"
	"github.com/chainsignal/fusion/internal/model"
	"github.com/chainsignal/fusion/internal/notify"
	"github.com/chainsignal/fusion/internal/routing"
)

func testConfig() Config {
	return Config{
		CEXRouteMin: 50,
		HLRouteMin:  40,
		NotifyMin:   28,
		CEXPriority: []string{"gate", "mexc", "bitget"},
		Blacklist:   routing.SymbolBlacklistSet([]string{"USDT", "USDC", "BUSD", "DAI", "BTC", "ETH", "BNB", "WBTC", "WETH", "WBNB"}),
		HLMarketMap: map[string]string{"ABC": "ABC-PERP", "B": "B-PERP", "W": "W-PERP"},
		CooldownTTL: 30 * time.Second,

		ConsumerName:    "test-router",
		ConsumeCount:    10,
		BlockTimeout:    10 * time.Millisecond,
		ReclaimInterval: time.Hour,
		ReclaimMinIdle:  30 * time.Second,
	}
}

func alwaysKnown(venue, symbol string) bool { return true }
func neverKnown(venue, symbol string) bool  { return false }

// S4: a blacklisted symbol drops unconditionally, including notify.
func TestS4BlacklistDrops(t *testing.T) {
	f := &model.FusedEvent{EventID: "fused_1", Symbol: "USDT", Score: 80}
	d := Decide(f, testConfig(), alwaysKnown, false)
	if !d.Dropped {
		t.Fatalf("expected drop for blacklisted symbol")
	}
	if d.CEX != nil || d.HL != nil || d.Notify != nil {
		t.Fatalf("expected no routes at all for blacklisted symbol, got %+v", d)
	}
}

// S4-class: symbols whose quote-suffix stripping collapses them to a
// shorter canonical form (BUSD -> "B", WBTC -> "W") must still be
// recognized as blacklisted once canonicalized, the same way the
// aggregator canonicalizes FusedEvent.Symbol before it ever reaches the
// router. This exercises what TestS4BlacklistDrops's literal "USDT"
// case happens to mask: USDT survives normalization unchanged, so a
// naive raw-string blacklist comparison looks correct until a symbol
// that actually gets stripped comes through.
func TestS4BlacklistDropsCanonicalizedSymbols(t *testing.T) {
	for _, raw := range []string{"BUSD", "WBTC", "WETH", "WBNB"} {
		canonical := fingerprint.Normalize(raw)
		f := &model.FusedEvent{EventID: "fused_canon_" + raw, Symbol: canonical, Score: 80, ChainInfo: `{"network":"ethereum","contract_address":"0xabc"}`}
		d := Decide(f, testConfig(), alwaysKnown, false)
		if !d.Dropped {
			t.Fatalf("expected drop for %s (canonical %q), got %+v", raw, canonical, d)
		}
		if d.CEX != nil || d.HL != nil || d.Notify != nil || d.DEX != nil {
			t.Fatalf("expected no routes at all for %s (canonical %q), got %+v", raw, canonical, d)
		}
	}
}

// P8: a non-super event routes to at most one of {cex, hl}.
func TestP8NonSuperExclusiveRoute(t *testing.T) {
	f := &model.FusedEvent{EventID: "fused_2", Symbol: "ABC", Score: 60, IsSuperEvent: false}
	d := Decide(f, testConfig(), alwaysKnown, false)
	if d.CEX == nil {
		t.Fatalf("expected cex route for high score")
	}
	if d.HL != nil {
		t.Fatalf("expected hl NOT routed for a non-super event when cex is eligible, got %+v", d.HL)
	}
}

// S6: a super event with both legs eligible routes to both cex and hl,
// plus a notification.
func TestS6SuperEventParallelRoute(t *testing.T) {
	f := &model.FusedEvent{EventID: "fused_3", Symbol: "ABC", Score: 75, IsSuperEvent: true}
	d := Decide(f, testConfig(), alwaysKnown, false)
	if d.CEX == nil {
		t.Fatalf("expected cex route for super event")
	}
	if d.HL == nil {
		t.Fatalf("expected hl route for super event")
	}
	if d.Notify == nil {
		t.Fatalf("expected notify for super event")
	}
}

func TestCEXRouteRequiresKnownListing(t *testing.T) {
	f := &model.FusedEvent{EventID: "fused_4", Symbol: "ABC", Score: 60}
	d := Decide(f, testConfig(), neverKnown, false)
	if d.CEX != nil {
		t.Fatalf("expected no cex route when symbol is not a known listing")
	}
}

// A fused event carrying chain sidecar data routes to dex independently
// of the cex/hl exclusivity rule, once it clears notify_min.
func TestChainInfoRoutesToDEXAlongsideCEX(t *testing.T) {
	f := &model.FusedEvent{
		EventID:   "fused_8",
		Symbol:    "ABC",
		Score:     60,
		ChainInfo: `{"network":"ethereum","contract_address":"0xabc","liquidity_usd":125000}`,
	}
	d := Decide(f, testConfig(), alwaysKnown, false)
	if d.CEX == nil {
		t.Fatalf("expected cex route for high score")
	}
	if d.DEX == nil {
		t.Fatalf("expected dex route when chain info is present")
	}
	if d.DEX.RouteInfo["chain"] != "ethereum" || d.DEX.RouteInfo["contract"] != "0xabc" {
		t.Fatalf("expected dex route_info decoded from chain sidecar, got %+v", d.DEX.RouteInfo)
	}
}

func TestNoChainInfoYieldsNoDEXRoute(t *testing.T) {
	f := &model.FusedEvent{EventID: "fused_9", Symbol: "ABC", Score: 60}
	d := Decide(f, testConfig(), alwaysKnown, false)
	if d.DEX != nil {
		t.Fatalf("expected no dex route without chain info, got %+v", d.DEX)
	}
}

func TestNoRouteDropsWithReason(t *testing.T) {
	f := &model.FusedEvent{EventID: "fused_5", Symbol: "ZZZ", Score: 10}
	d := Decide(f, testConfig(), neverKnown, false)
	if !d.Dropped {
		t.Fatalf("expected drop for a score below every threshold")
	}
}

// P9 / S5: after a cex/hl route fires, the router's Route method starts
// a cooldown; a subsequent Route call within the TTL demotes to notify-only.
func TestP9CooldownDemotesSecondRoute(t *testing.T) {
	ctx := context.Background()
	b := bus.NewFake()
	_ = b.SAdd(ctx, bus.KnownPairsKey("gate"), "ABC")

	cd := routing.NewCooldown(b, 30*time.Second)
	notifier := notify.New(notify.Config{WebhookURL: "", Timeout: time.Second, Retries: 0, BaseDelay: time.Millisecond}, zerolog.Nop())
	r := New(b, cd, notifier, testConfig(), zerolog.Nop())

	f1 := &model.FusedEvent{EventID: "fused_6", Symbol: "ABC", Score: 60}
	if err := r.Route(ctx, f1); err != nil {
		t.Fatalf("Route 1: %v", err)
	}
	if r.Routed.Get() != 1 {
		t.Fatalf("expected first event routed, got routed=%d", r.Routed.Get())
	}

	f2 := &model.FusedEvent{EventID: "fused_7", Symbol: "ABC", Score: 60}
	active, err := cd.Active(ctx, "ABC")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if !active {
		t.Fatalf("expected cooldown active after first route")
	}
	decision := Decide(f2, testConfig(), alwaysKnown, active)
	if decision.CEX != nil || decision.HL != nil {
		t.Fatalf("expected cex/hl demoted during cooldown, got %+v", decision)
	}
	if decision.Notify == nil {
		t.Fatalf("expected notify-only during cooldown")
	}
}

// The router's own consume loop reads events:fused under router_group,
// decodes the wire payload, and routes it without any caller driving
// Route directly.
func TestStartConsumesFusedStreamAndRoutes(t *testing.T) {
	ctx := context.Background()
	b := bus.NewFake()
	_ = b.SAdd(ctx, bus.KnownPairsKey("gate"), "ABC")

	cd := routing.NewCooldown(b, 30*time.Second)
	notifier := notify.New(notify.Config{WebhookURL: "", Timeout: time.Second, Retries: 0, BaseDelay: time.Millisecond}, zerolog.Nop())
	r := New(b, cd, notifier, testConfig(), zerolog.Nop())

	f := &model.FusedEvent{EventID: "fused_10", Symbol: "ABC", Score: 60}
	if _, err := b.Publish(ctx, bus.StreamFused, bus.MaxLenFused, bus.EncodeFusedEvent(f)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	r.Stop()

	if r.Routed.Get() != 1 {
		t.Fatalf("expected 1 routed event, got %d", r.Routed.Get())
	}

	msgs, err := b.ReadGroup(ctx, bus.StreamRouteCEX, "inspect_group", "inspector", 10, time.Millisecond)
	if err != nil {
		t.Fatalf("ReadGroup cex: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Values["symbol"] != "ABC" {
		t.Fatalf("expected 1 cex route for ABC, got %+v", msgs)
	}
}

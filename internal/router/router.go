// Package router implements the Signal Router (§4.7): it consumes
// events:fused and classifies each fused event into cex/hl/notify/drop
// routes in priority order, applying the blacklist, cooldown, and
// super-event parallel-routing rules.
//
// The decision logic is specific to this pipeline's fixed priority
// rules rather than a generic condition-matching rule table: there is
// no equivalent of arbitrary operator-authored Condition/Rule objects
// here.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainsignal/fusion/internal/bus"
	"github.com/chainsignal/fusion/internal/concurrency"
	"github.com/chainsignal/fusion/internal/model"
	"github.com/chainsignal/fusion/internal/notify"
	"github.com/chainsignal/fusion/internal/routing"
)

// Config mirrors the router-relevant slice of §6.6 configuration.
type Config struct {
	CEXRouteMin float64
	HLRouteMin  float64
	NotifyMin   float64

	CEXPriority []string
	Blacklist   map[string]bool
	HLMarketMap map[string]string

	CooldownTTL time.Duration

	// Consume-loop cadences (§5), mirroring the fusion engine's own
	// consumer-group shape against its own events:fused group.
	ConsumerName    string
	ConsumeCount    int64
	BlockTimeout    time.Duration
	ReclaimInterval time.Duration
	ReclaimMinIdle  time.Duration
}

// Decision is the outcome of routing one fused event.
type Decision struct {
	CEX    *model.CEXRoute
	HL     *model.HLRoute
	DEX    *model.DEXRoute
	Notify *model.NotifyPayload
	Dropped bool
	DropReason string
}

// Decide implements the §4.7 priority pseudocode. knownPairs reports
// whether a venue's known_pairs set already lists the symbol
// (cex_listing_exists); cooldownActive reports whether symbol is
// presently within its cooldown window.
//
// A blacklisted symbol drops unconditionally, including notify, per
// the worked example in the testable-properties section, which takes
// precedence over the pseudocode's literal notify branch (an explicit
// Open Question resolution, recorded in DESIGN.md).
func Decide(f *model.FusedEvent, cfg Config, knownPairs func(venue, symbol string) bool, cooldownActive bool) Decision {
	if cfg.Blacklist[f.Symbol] {
		return Decision{Dropped: true, DropReason: "blacklisted symbol"}
	}

	var d Decision

	cexEligible := f.Score >= cfg.CEXRouteMin && !cooldownActive
	venue := ""
	if cexEligible {
		venue = routing.SelectVenue(cfg.CEXPriority, nil)
		cexEligible = venue != "" && knownPairs(venue, f.Symbol)
	}

	hlMarket, hasHL := cfg.HLMarketMap[f.Symbol]
	hlEligible := f.Score >= cfg.HLRouteMin && hasHL && !cooldownActive

	if f.IsSuperEvent {
		// super events take both legs simultaneously when eligible.
		if cexEligible {
			d.CEX = buildCEXRoute(f, venue)
		}
		if hlEligible {
			d.HL = buildHLRoute(f, hlMarket)
		}
	} else {
		switch {
		case cexEligible:
			d.CEX = buildCEXRoute(f, venue)
		case hlEligible:
			d.HL = buildHLRoute(f, hlMarket)
		}
	}

	// On-chain route info travels independently of the cex/hl/notify
	// priority chain: a fused event carrying chain sidecar data (pair
	// creation, liquidity add, a chain-sourced confirmation) is always
	// worth handing to the on-chain executor once it clears notify_min,
	// since §4.1's events:route:dex stream has no analog in the cex/hl
	// branches above (neither requires chain data; this does).
	if f.ChainInfo != "" && f.Score >= cfg.NotifyMin {
		d.DEX = buildDEXRoute(f)
	}

	if f.Score >= cfg.NotifyMin {
		d.Notify = buildNotify(f)
	}

	if d.CEX == nil && d.HL == nil && d.DEX == nil && d.Notify == nil {
		d.Dropped = true
		d.DropReason = "no eligible route"
	}
	return d
}

// buildDEXRoute parses the fused event's chain sidecar into the §6.4
// route_info shape. A sidecar that fails to parse (or carries no
// recognizable fields) still yields a route with an empty route_info:
// the on-chain executor treats a missing contract address as "look it
// up itself", per §1's Non-goal excluding contract-address lookup from
// the core.
func buildDEXRoute(f *model.FusedEvent) *model.DEXRoute {
	var sidecar struct {
		Network         string  `json:"network"`
		ContractAddress string  `json:"contract_address"`
		LiquidityUSD    float64 `json:"liquidity_usd"`
	}
	_ = json.Unmarshal([]byte(f.ChainInfo), &sidecar)

	return &model.DEXRoute{
		EventID: f.EventID,
		Symbol:  f.Symbol,
		RouteInfo: map[string]interface{}{
			"symbol":        f.Symbol,
			"contract":      sidecar.ContractAddress,
			"chain":         sidecar.Network,
			"liquidity_usd": sidecar.LiquidityUSD,
		},
		Score:     f.Score,
		CreatedAt: f.CreatedAt,
	}
}

func buildCEXRoute(f *model.FusedEvent, venue string) *model.CEXRoute {
	return &model.CEXRoute{
		EventID:         f.EventID,
		Symbol:          f.Symbol,
		Exchange:        venue,
		Action:          "evaluate_listing",
		Score:           f.Score,
		Confidence:      f.Confidence,
		Urgency:         urgencyFor(f.Score),
		SuggestedPairs:  []string{f.Symbol + "USDT"},
		RoutingReason:   fmt.Sprintf("score %.2f >= cex_route_min, venue=%s", f.Score, venue),
		RoutingPriority: 1,
		CreatedAt:       f.CreatedAt,
		RoutedBy:        "signal_router",
	}
}

func buildHLRoute(f *model.FusedEvent, market string) *model.HLRoute {
	return &model.HLRoute{
		EventID:       f.EventID,
		Symbol:        f.Symbol,
		HLMarket:      market,
		Action:        "evaluate_perp",
		OrderType:     "limit",
		Score:         f.Score,
		Confidence:    f.Confidence,
		Urgency:       urgencyFor(f.Score),
		RoutingReason: fmt.Sprintf("score %.2f >= hl_route_min", f.Score),
		CreatedAt:     f.CreatedAt,
		RoutedBy:      "signal_router",
	}
}

// BuildNotify builds the §6.4 webhook payload from a fused event. Exported
// so the standalone webhook pusher (which consumes events:fused directly
// under its own consumer group rather than through the router's decision
// chain) can produce an identical payload shape.
func BuildNotify(f *model.FusedEvent) *model.NotifyPayload {
	return buildNotify(f)
}

func buildNotify(f *model.FusedEvent) *model.NotifyPayload {
	return &model.NotifyPayload{
		EventID:      f.EventID,
		Symbol:       f.Symbol,
		Exchange:     f.Exchange,
		EventType:    f.EventType,
		RawText:      f.RawText,
		Score:        f.Score,
		Confidence:   f.Confidence,
		SourceCount:  f.SourceCount,
		IsSuperEvent: f.IsSuperEvent,
		Sources:      f.Sources,
		URLs:         f.URLs,
		Timestamp:    f.CreatedAt,
	}
}

func urgencyFor(score float64) model.Urgency {
	switch {
	case score >= 70:
		return model.UrgencyCritical
	case score >= 50:
		return model.UrgencyHigh
	case score >= 30:
		return model.UrgencyMedium
	default:
		return model.UrgencyLow
	}
}

// Router wires Decide to the bus and the webhook dispatcher.
type Router struct {
	bus      bus.Bus
	cooldown *routing.Cooldown
	notifier *notify.Dispatcher
	cfg      Config
	logger   zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}

	Routed          concurrency.AtomicCounter
	Dropped         concurrency.AtomicCounter
	PanicsRecovered concurrency.AtomicCounter
}

// New builds a Router.
func New(b bus.Bus, cooldown *routing.Cooldown, notifier *notify.Dispatcher, cfg Config, logger zerolog.Logger) *Router {
	return &Router{
		bus:      b,
		cooldown: cooldown,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "router").Logger(),
		done:     make(chan struct{}),
	}
}

// Start launches the router's own consumer group against events:fused
// (router_group, §4.1), independent of whichever group the fusion engine
// or webhook pusher hold against the same stream.
func (r *Router) Start(ctx context.Context) error {
	if err := r.bus.EnsureGroup(ctx, bus.StreamFused, bus.GroupRouter); err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(2)
	go r.consumeLoop(ctx)
	go r.reclaimLoop(ctx)

	r.logger.Info().Msg("signal router started")
	return nil
}

// Stop requests shutdown and waits for the consume and reclaim loops to
// exit (§5).
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info().
		Int64("routed", r.Routed.Get()).
		Int64("dropped", r.Dropped.Get()).
		Msg("signal router stopped")
}

func (r *Router) consumeLoop(ctx context.Context) {
	defer r.wg.Done()
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := r.bus.ReadGroup(ctx, bus.StreamFused, bus.GroupRouter, r.cfg.ConsumerName, r.cfg.ConsumeCount, r.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn().Err(err).Msg("bus read failed, retrying")
			time.Sleep(backoff)
			if backoff *= 2; backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
			continue
		}
		backoff = 50 * time.Millisecond

		for _, m := range msgs {
			r.handleMessage(ctx, m)
		}
	}
}

func (r *Router) reclaimLoop(ctx context.Context) {
	defer r.wg.Done()
	if r.cfg.ReclaimInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(r.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs, err := r.bus.Reclaim(ctx, bus.StreamFused, bus.GroupRouter, r.cfg.ConsumerName, r.cfg.ReclaimMinIdle, 100)
			if err != nil {
				r.logger.Warn().Err(err).Msg("reclaim failed")
				continue
			}
			for _, m := range msgs {
				r.handleMessage(ctx, m)
			}
		}
	}
}

// handleMessage decodes a wire message and routes it, recovering from
// any panic so one bad message can never halt the consumer loop (§7
// internal_bug: recover, log with stack, ack, continue).
func (r *Router) handleMessage(ctx context.Context, m bus.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.PanicsRecovered.Inc()
			r.logger.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Str("bus_id", m.ID).
				Msg("internal_bug recovered in router message handler")
			_ = r.bus.Ack(ctx, bus.StreamFused, bus.GroupRouter, m.ID)
		}
	}()

	f, err := bus.DecodeFusedEvent(m.Values)
	if err != nil {
		r.logger.Warn().Err(err).Str("bus_id", m.ID).Msg("failed to decode fused event, dropping")
		_ = r.bus.Ack(ctx, bus.StreamFused, bus.GroupRouter, m.ID)
		return
	}

	if err := r.Route(ctx, f); err != nil {
		r.logger.Warn().Err(err).Str("event_id", f.EventID).Msg("routing failed, will retry via reclaim")
		return
	}
	_ = r.bus.Ack(ctx, bus.StreamFused, bus.GroupRouter, m.ID)
}

// Route decides and publishes the routes for a single fused event,
// refreshing the cooldown whenever a cex/hl route is emitted (§4.7).
func (r *Router) Route(ctx context.Context, f *model.FusedEvent) error {
	active, err := r.cooldown.Active(ctx, f.Symbol)
	if err != nil {
		return fmt.Errorf("cooldown lookup: %w", err)
	}

	decision := Decide(f, r.cfg, r.knownPairs, active)

	if decision.Dropped {
		r.Dropped.Inc()
		r.logger.Debug().Str("event_id", f.EventID).Str("reason", decision.DropReason).Msg("fused event dropped")
		return nil
	}

	if decision.CEX != nil {
		if _, err := r.publishCEX(ctx, decision.CEX); err != nil {
			return err
		}
		if err := r.cooldown.Start(ctx, f.Symbol); err != nil {
			r.logger.Warn().Err(err).Msg("cooldown start failed")
		}
		r.Routed.Inc()
	}
	if decision.HL != nil {
		if _, err := r.publishHL(ctx, decision.HL); err != nil {
			return err
		}
		if err := r.cooldown.Start(ctx, f.Symbol); err != nil {
			r.logger.Warn().Err(err).Msg("cooldown start failed")
		}
		r.Routed.Inc()
	}
	if decision.DEX != nil {
		if _, err := r.publishDEX(ctx, decision.DEX); err != nil {
			return err
		}
		r.Routed.Inc()
	}
	if decision.Notify != nil && r.notifier != nil {
		// §7: notify_delivery_failed never blocks routing.
		if err := r.notifier.Send(ctx, *decision.Notify); err != nil {
			r.logger.Warn().Err(err).Str("event_id", f.EventID).Msg("notify delivery failed")
		}
	}
	return nil
}

func (r *Router) knownPairs(venue, symbol string) bool {
	ok, err := r.bus.SIsMember(context.Background(), bus.KnownPairsKey(venue), symbol)
	if err != nil {
		r.logger.Warn().Err(err).Str("venue", venue).Msg("known_pairs lookup failed")
		return false
	}
	return ok
}

func (r *Router) publishCEX(ctx context.Context, route *model.CEXRoute) (string, error) {
	return r.bus.Publish(ctx, bus.StreamRouteCEX, bus.MaxLenRouteCEX, cexRouteFields(route))
}

func (r *Router) publishHL(ctx context.Context, route *model.HLRoute) (string, error) {
	return r.bus.Publish(ctx, bus.StreamRouteHL, bus.MaxLenRouteHL, hlRouteFields(route))
}

func (r *Router) publishDEX(ctx context.Context, route *model.DEXRoute) (string, error) {
	return r.bus.Publish(ctx, bus.StreamRouteDEX, bus.MaxLenRouteDEX, dexRouteFields(route))
}

// dexRouteFields encodes a DEXRoute per the §6.4 wire contract.
func dexRouteFields(r *model.DEXRoute) map[string]string {
	info, _ := json.Marshal(r.RouteInfo)
	return map[string]string{
		"event_id":   r.EventID,
		"symbol":     r.Symbol,
		"route_info": string(info),
		"score":      strconv.FormatFloat(r.Score, 'f', -1, 64),
		"created_at": strconv.FormatInt(r.CreatedAt, 10),
	}
}

// cexRouteFields encodes a CEXRoute per the §6.4 wire contract: scalar
// fields as plain strings, list/object fields as JSON strings.
func cexRouteFields(r *model.CEXRoute) map[string]string {
	pairs, _ := json.Marshal(r.SuggestedPairs)
	risk, _ := json.Marshal(r.RiskParams)
	summary, _ := json.Marshal(r.SourceSummary)
	return map[string]string{
		"event_id":         r.EventID,
		"symbol":           r.Symbol,
		"exchange":         r.Exchange,
		"action":           "buy",
		"score":            strconv.FormatFloat(r.Score, 'f', -1, 64),
		"confidence":       strconv.FormatFloat(r.Confidence, 'f', -1, 64),
		"urgency":          string(r.Urgency),
		"suggested_pairs":  string(pairs),
		"routing_reason":   r.RoutingReason,
		"routing_priority": strconv.Itoa(r.RoutingPriority),
		"max_position_usd": strconv.FormatFloat(r.MaxPositionUSD, 'f', -1, 64),
		"risk_params":      string(risk),
		"source_summary":   string(summary),
		"created_at":       strconv.FormatInt(r.CreatedAt, 10),
		"routed_by":        r.RoutedBy,
	}
}

// hlRouteFields encodes an HLRoute per the §6.4 wire contract.
func hlRouteFields(r *model.HLRoute) map[string]string {
	wallet, _ := json.Marshal(r.WalletConfig)
	order, _ := json.Marshal(r.OrderConfig)
	return map[string]string{
		"event_id":        r.EventID,
		"symbol":          r.Symbol,
		"hl_market":       r.HLMarket,
		"action":          "buy",
		"order_type":      r.OrderType,
		"size_usd":        strconv.FormatFloat(r.SizeUSD, 'f', -1, 64),
		"leverage":        strconv.Itoa(r.Leverage),
		"tp_percent":      strconv.FormatFloat(r.TPPercent, 'f', -1, 64),
		"sl_percent":      strconv.FormatFloat(r.SLPercent, 'f', -1, 64),
		"timeout_seconds": strconv.Itoa(r.TimeoutSeconds),
		"score":           strconv.FormatFloat(r.Score, 'f', -1, 64),
		"confidence":      strconv.FormatFloat(r.Confidence, 'f', -1, 64),
		"urgency":         string(r.Urgency),
		"routing_reason":  r.RoutingReason,
		"wallet_config":   string(wallet),
		"order_config":    string(order),
		"created_at":      strconv.FormatInt(r.CreatedAt, 10),
		"routed_by":       r.RoutedBy,
	}
}

// Package model defines the canonical event schemas shared across the
// fusion pipeline: raw events posted by collectors, fused events emitted
// by the aggregator, and routed events produced by the signal router.
package model

import "time"

// SourceType classifies how a collector observed an event.
type SourceType string

const (
	SourceTypeWebsocket SourceType = "websocket"
	SourceTypeMarket    SourceType = "market"
	SourceTypeSocial    SourceType = "social"
	SourceTypeChain     SourceType = "chain"
	SourceTypeNews      SourceType = "news"
)

// EventType enumerates the kinds of market events the pipeline recognizes.
type EventType string

const (
	EventListing       EventType = "listing"
	EventDelisting     EventType = "delisting"
	EventTradingOpen   EventType = "trading_open"
	EventDepositOpen   EventType = "deposit_open"
	EventWithdrawOpen  EventType = "withdraw_open"
	EventFuturesLaunch EventType = "futures_launch"
	EventAirdrop       EventType = "airdrop"
	EventPairCreated   EventType = "pair_created"
	EventLiquidityAdd  EventType = "liquidity_add"
	EventAnnouncement  EventType = "announcement"
	EventPriceAlert    EventType = "price_alert"
	EventOIAlert       EventType = "oi_alert"
)

// SourceGroup is one of the independent-source groups counted by the
// multi-source bonus (§4.3.4). Every raw source belongs to exactly one.
type SourceGroup string

const (
	GroupExchangeOfficial SourceGroup = "exchange_official"
	GroupAlphaIntel       SourceGroup = "alpha_intel"
	GroupSocial           SourceGroup = "social"
	GroupChain            SourceGroup = "chain"
	GroupNews             SourceGroup = "news"
)

// RawEvent is an observation produced by a collector. Immutable once
// published to the raw stream.
type RawEvent struct {
	Source     string     `json:"source"`
	SourceType SourceType `json:"source_type"`
	Exchange   string     `json:"exchange,omitempty"`
	Symbol     string     `json:"symbol,omitempty"`
	Event      EventType  `json:"event,omitempty"`
	RawText    string     `json:"raw_text"`
	URL        string     `json:"url,omitempty"`
	DetectedAt int64      `json:"detected_at"`
	NodeID     string     `json:"node_id"`

	// Sidecars are opaque JSON strings to the core. Chain is carried
	// byte-transparent into FusedEvent.ChainInfo (the first non-empty one
	// in the window); Telegram and Twitter stay on the raw event and are
	// not copied into the FusedEvent.
	Telegram string `json:"telegram,omitempty"`
	Twitter  string `json:"twitter,omitempty"`
	Chain    string `json:"chain,omitempty"`

	// BusID is the stream entry id this raw event was read from; empty
	// until consumed off the bus.
	BusID string `json:"-"`

	// CanonicalSymbol is populated by the normalizer (§4.2); not part of
	// the wire contract, computed on ingest.
	CanonicalSymbol string `json:"-"`
}

// ScoreBreakdown holds the four additive components of §4.3.6.
type ScoreBreakdown struct {
	Source      float64 `json:"source"`
	MultiSource float64 `json:"multi_source"`
	Timeliness  float64 `json:"timeliness"`
	Exchange    float64 `json:"exchange"`
}

// TimelinessCategory names the §4.3.3 bucket a delta falls into.
type TimelinessCategory string

const (
	TimelinessFirstSeen  TimelinessCategory = "first_seen"
	TimelinessWithin5s   TimelinessCategory = "within_5s"
	TimelinessWithin30s  TimelinessCategory = "within_30s"
	TimelinessWithin1min TimelinessCategory = "within_1min"
	TimelinessWithin5min TimelinessCategory = "within_5min"
	TimelinessOlder      TimelinessCategory = "older"
)

// FusedEvent is the deduplicated, scored, aggregated output of C4/C6.
type FusedEvent struct {
	EventID   string `json:"event_id"`
	Symbol    string `json:"symbol"`
	Symbols   []string `json:"symbols"`
	Exchange  string `json:"exchange"`
	Exchanges []string `json:"exchanges"`
	EventType EventType `json:"event_type"`

	Sources      []string `json:"sources"`
	SourceCount  int      `json:"source_count"`
	SourceEvents []string `json:"source_events"`

	FirstSeenAt int64 `json:"first_seen_at"`
	LastSeenAt  int64 `json:"last_seen_at"`

	AggregationWindowMs int64 `json:"aggregation_window_ms"`

	Score          float64        `json:"score"`
	ScoreBreakdown ScoreBreakdown `json:"score_breakdown"`
	Confidence     float64        `json:"confidence"`

	IsSuperEvent       bool               `json:"is_super_event"`
	IsFirstSeen        bool               `json:"is_first_seen"`
	TimelinessCategory TimelinessCategory `json:"timeliness_category"`

	RawText string   `json:"raw_text"`
	URLs    []string `json:"urls"`

	// ChainInfo carries the first non-empty chain sidecar JSON string
	// observed in the window, byte-transparent per §9, used by the
	// router's DEX route (§4.1 events:route:dex, §6.4 route_info).
	ChainInfo string `json:"chain_info,omitempty"`

	CreatedAt int64 `json:"created_at"`
}

// RouteTarget is one of the classification outcomes of the signal router.
type RouteTarget string

const (
	RouteCEX    RouteTarget = "cex"
	RouteHL     RouteTarget = "hl"
	RouteDEX    RouteTarget = "dex"
	RouteNotify RouteTarget = "notify"
	RouteDrop   RouteTarget = "drop"
)

// Urgency classifies how time-sensitive a routed event is for a consumer.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// CEXRoute is the payload shape for events:route:cex.
type CEXRoute struct {
	EventID         string   `json:"event_id"`
	Symbol          string   `json:"symbol"`
	Exchange        string   `json:"exchange"`
	Action          string   `json:"action"`
	Score           float64  `json:"score"`
	Confidence      float64  `json:"confidence"`
	Urgency         Urgency  `json:"urgency"`
	SuggestedPairs  []string `json:"suggested_pairs"`
	RoutingReason   string   `json:"routing_reason"`
	RoutingPriority int      `json:"routing_priority"`
	MaxPositionUSD  float64  `json:"max_position_usd"`
	RiskParams      map[string]interface{} `json:"risk_params"`
	SourceSummary   map[string]interface{} `json:"source_summary"`
	CreatedAt       int64  `json:"created_at"`
	RoutedBy        string `json:"routed_by"`
}

// HLRoute is the payload shape for events:route:hl.
type HLRoute struct {
	EventID        string  `json:"event_id"`
	Symbol         string  `json:"symbol"`
	HLMarket       string  `json:"hl_market"`
	Action         string  `json:"action"`
	OrderType      string  `json:"order_type"`
	SizeUSD        float64 `json:"size_usd"`
	Leverage       int     `json:"leverage"`
	TPPercent      float64 `json:"tp_percent"`
	SLPercent      float64 `json:"sl_percent"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	Score          float64 `json:"score"`
	Confidence     float64 `json:"confidence"`
	Urgency        Urgency `json:"urgency"`
	RoutingReason  string  `json:"routing_reason"`
	WalletConfig   map[string]interface{} `json:"wallet_config"`
	OrderConfig    map[string]interface{} `json:"order_config"`
	CreatedAt      int64  `json:"created_at"`
	RoutedBy       string `json:"routed_by"`
}

// DEXRoute is the payload shape for events:route:dex.
type DEXRoute struct {
	EventID   string                 `json:"event_id"`
	Symbol    string                 `json:"symbol"`
	RouteInfo map[string]interface{} `json:"route_info"`
	Score     float64                `json:"score"`
	CreatedAt int64                  `json:"created_at"`
}

// NotifyPayload is the JSON body posted to the configured webhook.
type NotifyPayload struct {
	EventID      string                 `json:"event_id"`
	Symbol       string                 `json:"symbol"`
	Exchange     string                 `json:"exchange"`
	EventType    EventType              `json:"event_type"`
	RawText      string                 `json:"raw_text"`
	Score        float64                `json:"score"`
	Confidence   float64                `json:"confidence"`
	SourceCount  int                    `json:"source_count"`
	IsSuperEvent bool                   `json:"is_super_event"`
	Sources      []string               `json:"sources"`
	URLs         []string               `json:"urls"`
	Timestamp    int64                  `json:"timestamp"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// HeartbeatStatus is the liveness state a process reports.
type HeartbeatStatus string

const (
	HeartbeatRunning HeartbeatStatus = "running"
	HeartbeatStopped HeartbeatStatus = "stopped"
	HeartbeatError   HeartbeatStatus = "error"
	HeartbeatPaused  HeartbeatStatus = "paused"
)

// Heartbeat is the per-process liveness hash written every 30s.
type Heartbeat struct {
	Status        HeartbeatStatus `json:"status"`
	NodeID        string          `json:"node_id"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Timestamp     int64           `json:"timestamp"`
	Stats         map[string]int64 `json:"stats"`
}

// HeartbeatHealth classifies a heartbeat's freshness at read time per §4.8.
type HeartbeatHealth string

const (
	HealthFresh   HeartbeatHealth = "fresh"
	HealthStale   HeartbeatHealth = "stale"
	HealthOffline HeartbeatHealth = "offline"
)

// ClassifyHealth maps an observed heartbeat age to its freshness bucket.
func ClassifyHealth(age time.Duration) HeartbeatHealth {
	switch {
	case age < 90*time.Second:
		return HealthFresh
	case age < 120*time.Second:
		return HealthStale
	default:
		return HealthOffline
	}
}

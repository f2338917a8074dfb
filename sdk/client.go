// Package fusionsdk is the collector-facing client for the event fusion
// pipeline's ingestion contract (§6.2). Exchange pollers, Telegram/
// Twitter listeners, and chain watchers are out of the core's scope;
// this package is the typed surface they use to honor the raw-event
// wire contract instead of hand-building bus field maps.
//
// The Client/ClientOption construction shape and typed-method-per-call
// layout mirror tools/sdk/go's Alfred API client, adapted from an HTTP
// JSON API wrapper to a thin client over go-redis's stream append.
package fusionsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Version is the SDK version collectors report in their node_id/user agent.
const Version = "1.0.0"

// DefaultStream is the events:raw stream name (§4.1 wire contract).
const DefaultStream = "events:raw"

// Client publishes raw events onto the fusion bus on behalf of a collector.
type Client struct {
	rdb      *redis.Client
	stream   string
	nodeID   string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithStream overrides the target stream (tests only; production
// collectors always use DefaultStream).
func WithStream(stream string) ClientOption {
	return func(c *Client) { c.stream = stream }
}

// NewClient builds a Client from a Redis URL and the collector's node
// identifier (§6.2 required `node_id` field).
func NewClient(busURL, nodeID string, opts ...ClientOption) (*Client, error) {
	opt, err := redis.ParseURL(busURL)
	if err != nil {
		return nil, fmt.Errorf("fusionsdk: parse bus url: %w", err)
	}
	c := &Client{
		rdb:    redis.NewClient(opt),
		stream: DefaultStream,
		nodeID: nodeID,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// SourceType mirrors model.SourceType without importing the core module,
// keeping this SDK a standalone, separately-versioned dependency for
// collectors (SPEC_FULL.md D.1).
type SourceType string

const (
	SourceTypeWebsocket SourceType = "websocket"
	SourceTypeMarket    SourceType = "market"
	SourceTypeSocial    SourceType = "social"
	SourceTypeChain     SourceType = "chain"
	SourceTypeNews      SourceType = "news"
)

// EventType mirrors model.EventType.
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

// RawEvent is the typed collector-side view of the §3.1/§6.2 RawEvent.
// Event may be left empty; the normalizer infers it from RawText.
type RawEvent struct {
	Source     string
	SourceType SourceType
	Exchange   string
	Symbol     string
	Event      EventType
	RawText    string
	URL        string
	DetectedAt time.Time

	// Telegram/Twitter/Chain carry opaque, source-specific sidecar data.
	// Collectors marshal their own struct; the core treats these as
	// byte-transparent JSON strings (§9).
	Telegram interface{}
	Twitter  interface{}
	Chain    interface{}
}

// TelegramSidecar is a convenience shape collectors may use to build the
// Telegram sidecar field; any JSON-marshalable type is accepted.
type TelegramSidecar struct {
	ChannelID      string   `json:"channel_id"`
	MessageID      string   `json:"message_id"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}

// ChainSidecar is a convenience shape for on-chain observations, used by
// the router's DEX-route lookup (§6.4's route_info).
type ChainSidecar struct {
	Network         string  `json:"network"`
	TxHash          string  `json:"tx_hash,omitempty"`
	ContractAddress string  `json:"contract_address,omitempty"`
	LiquidityUSD    float64 `json:"liquidity_usd,omitempty"`
}

// Publish appends a RawEvent to the bus per the §6.2 wire contract: every
// field as a string, sidecars as JSON strings. Returns the bus entry id.
func (c *Client) Publish(ctx context.Context, e RawEvent) (string, error) {
	fields, err := buildFields(e, c.nodeID, time.Now())
	if err != nil {
		return "", err
	}

	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		MaxLen: 50000,
		Approx: true,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("fusionsdk: publish: %w", err)
	}
	return id, nil
}

// buildFields encodes a RawEvent into the §6.2 wire shape. Split out from
// Publish so collectors (and this package's tests) can validate the
// encoding without a live bus connection.
func buildFields(e RawEvent, nodeID string, now time.Time) (map[string]interface{}, error) {
	if e.Source == "" || e.SourceType == "" || e.RawText == "" {
		return nil, fmt.Errorf("fusionsdk: source, source_type, and raw_text are required")
	}
	detectedAt := e.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = now
	}

	fields := map[string]interface{}{
		"source":      e.Source,
		"source_type": string(e.SourceType),
		"raw_text":    e.RawText,
		"detected_at": strconv.FormatInt(detectedAt.UnixMilli(), 10),
		"node_id":     nodeID,
	}
	if e.Exchange != "" {
		fields["exchange"] = e.Exchange
	}
	if e.Symbol != "" {
		fields["symbol"] = e.Symbol
	}
	if e.Event != "" {
		fields["event"] = string(e.Event)
	}
	if e.URL != "" {
		fields["url"] = e.URL
	}
	if err := attachSidecar(fields, "telegram", e.Telegram); err != nil {
		return nil, err
	}
	if err := attachSidecar(fields, "twitter", e.Twitter); err != nil {
		return nil, err
	}
	if err := attachSidecar(fields, "chain", e.Chain); err != nil {
		return nil, err
	}
	return fields, nil
}

func attachSidecar(fields map[string]interface{}, name string, v interface{}) error {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("fusionsdk: marshal %s sidecar: %w", name, err)
	}
	fields[name] = string(b)
	return nil
}

// RegisterKnownPair adds symbol to the collector's known_pairs:<exchange>
// memory set (§4.1), used by the router's cex_listing_exists lookup.
func (c *Client) RegisterKnownPair(ctx context.Context, exchange, symbol string) error {
	return c.rdb.SAdd(ctx, "known_pairs:"+exchange, symbol).Err()
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error { return c.rdb.Close() }

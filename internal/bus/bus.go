// Package bus implements the §4.1 bus contract: bounded append-only
// streams with consumer groups, and TTL-keyed string/hash primitives,
// against Redis Streams via go-redis/v9. It expands the client's
// ping-only wrapper into the full read/write/ack/reclaim surface the
// fusion pipeline needs.
package bus

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream and key names are part of the wire contract (§4.1) and
// must never change independently across producers and consumers.
const (
	StreamRaw      = "events:raw"
	StreamFused    = "events:fused"
	StreamRouteCEX = "events:route:cex"
	StreamRouteHL  = "events:route:hl"
	StreamRouteDEX = "events:route:dex"

	MaxLenRaw      = 50000
	MaxLenFused    = 10000
	MaxLenRouteCEX = 1000
	MaxLenRouteHL  = 1000
	MaxLenRouteDEX = 5000

	GroupFusionEngine  = "fusion_engine_group"
	GroupRouter        = "router_group"
	GroupWebhookPusher = "webhook_pusher_group"
)

func knownPairsKey(exchange string) string { return "known_pairs:" + exchange }
func dedupKey(fp string) string            { return "dedup:" + fp }
func firstSeenKey(fp string) string        { return "first_seen:" + fp }
func cooldownKey(symbol string) string     { return "cooldown:" + symbol }
func heartbeatKey(nodeID string) string    { return "node:heartbeat:" + nodeID }

// Message is one entry read off a stream.
type Message struct {
	ID     string
	Values map[string]string
}

// Bus is the full interface the fusion pipeline depends on. Production
// code talks to Client (backed by Redis); tests talk to a fake
// implementation so they never require a live Redis.
type Bus interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	Publish(ctx context.Context, stream string, maxLen int64, fields map[string]string) (string, error)
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Reclaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Message, error)

	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	SAdd(ctx context.Context, key string, member string) error
	SIsMember(ctx context.Context, key string, member string) (bool, error)

	HSetTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	Close() error
}

// Client is the Redis-backed Bus implementation.
type Client struct {
	rdb *redis.Client
}

// New creates a bus client from a Redis URL (e.g. redis://host:6379/0),
// verifying connectivity with a ping, exactly as redisclient.New did for
// the gateway's single shared Redis connection.
func New(ctx context.Context, url string) (*Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{rdb: rdb}, nil
}

// EnsureGroup creates the consumer group at the start of the stream if it
// does not already exist; the BUSYGROUP error on re-creation is expected
// and ignored.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Publish appends an entry to stream, trimming approximately to maxLen.
func (c *Client) Publish(ctx context.Context, stream string, maxLen int64, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Result()
	return id, err
}

// ReadGroup blocks up to `block` waiting for new entries for `consumer`
// in `group`, per §5's 5s bus-blocking-read timeout.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toMessages(res), nil
}

func toMessages(res []redis.XStream) []Message {
	var msgs []Message
	for _, s := range res {
		for _, xm := range s.Messages {
			vals := make(map[string]string, len(xm.Values))
			for k, v := range xm.Values {
				if sv, ok := v.(string); ok {
					vals[k] = sv
				}
			}
			msgs = append(msgs, Message{ID: xm.ID, Values: vals})
		}
	}
	return msgs
}

// Ack acknowledges processed message ids.
func (c *Client) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.rdb.XAck(ctx, stream, group, ids...).Err()
}

// Reclaim claims pending entries idle longer than minIdle for `consumer`,
// per the §4.6/§5 30s reclaim cadence.
func (c *Client) Reclaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(msgs))
	for _, xm := range msgs {
		vals := make(map[string]string, len(xm.Values))
		for k, v := range xm.Values {
			if sv, ok := v.(string); ok {
				vals[k] = sv
			}
		}
		out = append(out, Message{ID: xm.ID, Values: vals})
	}
	return out, nil
}

// Set writes a plain TTL-keyed string, unconditionally overwriting and
// refreshing the TTL on every call. Used for cooldown:<symbol> (§4.1),
// whose wire contract is a string + TTL that should be (re)established
// on every cex/hl route, not a once-only SETNX.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX implements the single atomic SET-IF-NOT-EXISTS primitive §5
// mandates for dedup/first-seen, with no two-phase operations (cooldown
// uses Set instead).
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Get returns a key's string value; found is false on a cache miss.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Expire refreshes a key's TTL.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// SAdd adds a member to the known_pairs:<exchange> set.
func (c *Client) SAdd(ctx context.Context, key string, member string) error {
	return c.rdb.SAdd(ctx, key, member).Err()
}

// SIsMember checks known_pairs:<exchange> membership for the router's
// cex_listing_exists lookup (§4.7).
func (c *Client) SIsMember(ctx context.Context, key string, member string) (bool, error) {
	return c.rdb.SIsMember(ctx, key, member).Result()
}

// HSetTTL writes a heartbeat hash and refreshes its TTL in one pipeline.
func (c *Client) HSetTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, values)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// HGetAll reads back a heartbeat hash.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// TTL returns the remaining time-to-live for a key.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error { return c.rdb.Close() }

// Key helpers exposed for callers that need the exact wire-contract
// string (§4.1 table).
var (
	KnownPairsKey = knownPairsKey
	DedupKey      = dedupKey
	FirstSeenKey  = firstSeenKey
	CooldownKey   = cooldownKey
	HeartbeatKey  = heartbeatKey
)

// Package config loads the fusion pipeline's configuration surface
// (§6.6) from environment variables and an optional .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all per-process configuration values.
type Config struct {
	// Process identity
	NodeID  string
	Version string
	Env     string

	// Bus
	BusURL string

	// Server / health
	HealthAddr      string
	GracefulTimeout time.Duration

	// Scoring thresholds (§4.3.6)
	MinScore           float64
	CEXRouteMin        float64
	HLRouteMin         float64
	NotifyMin          float64
	SuperEventMinScore float64

	// Aggregation (§4.4)
	DefaultWindowMs time.Duration
	TrustedWindowMs time.Duration
	TrustedSources  []string

	// TTLs (§3.1 / §4.5)
	DedupTTL     time.Duration
	FirstSeenTTL time.Duration
	CooldownTTL  time.Duration

	// Router (§4.7)
	CEXPriority []string
	Blacklist   []string
	HLMarketMap map[string]string

	// Notify (§5, §6.4)
	WebhookURL     string
	NotifyTimeout  time.Duration
	NotifyRetries  int

	// Scan intervals (§5)
	FlushInterval    time.Duration
	ReclaimInterval  time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTTL     time.Duration
	BusBlockTimeout  time.Duration

	// Optional override file for scoring tables (§6.6 note in SPEC_FULL.md)
	ScoringConfigPath string

	LogLevel string
}

// Load reads configuration from the environment and an optional .env
// file, applying the documented defaults everywhere an operator
// does not override them.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		NodeID:  getEnv("FUSION_NODE_ID", hostnameOrDefault()),
		Version: getEnv("FUSION_VERSION", "dev"),
		Env:     getEnv("FUSION_ENV", "development"),

		BusURL: getEnv("FUSION_BUS_URL", "redis://localhost:6379"),

		HealthAddr:      getEnv("FUSION_HEALTH_ADDR", ":8090"),
		GracefulTimeout: time.Duration(getEnvInt("FUSION_GRACEFUL_TIMEOUT_SEC", 15)) * time.Second,

		MinScore:           getEnvFloat("FUSION_MIN_SCORE", 28),
		CEXRouteMin:        getEnvFloat("FUSION_CEX_ROUTE_MIN", 50),
		HLRouteMin:         getEnvFloat("FUSION_HL_ROUTE_MIN", 40),
		NotifyMin:          getEnvFloat("FUSION_NOTIFY_MIN", 28),
		SuperEventMinScore: getEnvFloat("FUSION_SUPER_EVENT_MIN_SCORE", 50),

		DefaultWindowMs: time.Duration(getEnvInt("FUSION_DEFAULT_WINDOW_MS", 5000)) * time.Millisecond,
		TrustedWindowMs: time.Duration(getEnvInt("FUSION_TRUSTED_WINDOW_MS", 10000)) * time.Millisecond,
		TrustedSources:  getEnvStringSlice("FUSION_TRUSTED_SOURCES", []string{}),

		DedupTTL:     time.Duration(getEnvInt("FUSION_DEDUP_TTL_SEC", 300)) * time.Second,
		FirstSeenTTL: time.Duration(getEnvInt("FUSION_FIRST_SEEN_TTL_SEC", 3600)) * time.Second,
		CooldownTTL:  time.Duration(getEnvInt("FUSION_COOLDOWN_TTL_SEC", 30)) * time.Second,

		CEXPriority: getEnvStringSlice("FUSION_CEX_PRIORITY", []string{"gate", "mexc", "bitget"}),
		Blacklist: getEnvStringSlice("FUSION_BLACKLIST", []string{
			"USDT", "USDC", "BUSD", "DAI", "BTC", "ETH", "BNB", "WBTC", "WETH", "WBNB",
		}),
		HLMarketMap: getEnvStringMap("FUSION_HL_MARKET_MAP", map[string]string{}),

		WebhookURL:    getEnv("FUSION_WEBHOOK_URL", ""),
		NotifyTimeout: time.Duration(getEnvInt("FUSION_NOTIFY_TIMEOUT_SEC", 10)) * time.Second,
		NotifyRetries: getEnvInt("FUSION_NOTIFY_RETRIES", 3),

		FlushInterval:     time.Duration(getEnvInt("FUSION_FLUSH_INTERVAL_MS", 500)) * time.Millisecond,
		ReclaimInterval:   time.Duration(getEnvInt("FUSION_RECLAIM_INTERVAL_SEC", 30)) * time.Second,
		HeartbeatInterval: time.Duration(getEnvInt("FUSION_HEARTBEAT_INTERVAL_SEC", 30)) * time.Second,
		HeartbeatTTL:      time.Duration(getEnvInt("FUSION_HEARTBEAT_TTL_SEC", 120)) * time.Second,
		BusBlockTimeout:   time.Duration(getEnvInt("FUSION_BUS_BLOCK_TIMEOUT_SEC", 5)) * time.Second,

		ScoringConfigPath: getEnv("FUSION_SCORING_CONFIG_PATH", ""),

		LogLevel: getEnv("FUSION_LOG_LEVEL", "info"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// TrustedSourceSet returns TrustedSources as a lookup set for the
// aggregator's high-trust-socket window check (§4.4.1 step 4).
func (c *Config) TrustedSourceSet() map[string]bool {
	set := make(map[string]bool, len(c.TrustedSources))
	for _, s := range c.TrustedSources {
		set[s] = true
	}
	return set
}

func hostnameOrDefault() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "fusion-node"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvStringMap parses a "symbol:market,symbol2:market2" env var into a
// map, used for FUSION_HL_MARKET_MAP (§6.6 router.hl_market_map).
func getEnvStringMap(key string, fallback map[string]string) map[string]string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		k, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		if k != "" && val != "" {
			out[k] = val
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvStringSlice(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

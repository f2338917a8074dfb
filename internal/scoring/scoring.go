// Package scoring implements the deterministic multi-dimensional score
// (§4.3): source tier, exchange multiplier, timeliness, and
// multi-source bonus tables, combined into a final weighted score.
//
// Sources are modeled as tagged table entries rather than a switch on
// identifiers, so new sources are added purely by editing configuration
// (§9 design note on dynamic dispatch).
package scoring

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/chainsignal/fusion/internal/model"
)

// SourceEntry is one row of the source-tier table (§4.3.1).
type SourceEntry struct {
	Identifier string
	BaseScore  float64
	Group      model.SourceGroup
}

// Table holds the full configurable scoring surface: source scores,
// exchange multipliers, and thresholds. Built once at startup and never
// mutated afterward (§9: "model as an immutable configuration
// struct").
type Table struct {
	Sources             map[string]SourceEntry
	ExchangeMultipliers map[string]float64
	DefaultMultiplier   float64

	MinScore           float64
	CEXRouteMin        float64
	HLRouteMin         float64
	NotifyMin          float64
	SuperEventMinScore float64
}

// DefaultSourceTable returns the §4.3.1 example table. Operators override
// entries via FUSION_SCORING_CONFIG_PATH (see internal/config).
func DefaultSourceTable() map[string]SourceEntry {
	return map[string]SourceEntry{
		"ws_binance":       {"ws_binance", 65, model.GroupExchangeOfficial},
		"ws_okx":           {"ws_okx", 64, model.GroupExchangeOfficial},
		"exchange_announce": {"exchange_announce", 58, model.GroupExchangeOfficial},
		"tg_alpha_intel":   {"tg_alpha_intel", 57, model.GroupAlphaIntel},
		"alpha_intel_api":  {"alpha_intel_api", 55, model.GroupAlphaIntel},
		"rest_tier1":       {"rest_tier1", 46, model.GroupExchangeOfficial},
		"rest_regional":    {"rest_regional", 43, model.GroupExchangeOfficial},
		"twitter_official": {"twitter_official", 45, model.GroupSocial},
		"social_official":  {"social_official", 40, model.GroupSocial},
		"rest_generic":     {"rest_generic", 30, model.GroupExchangeOfficial},
		"ws_tier2":         {"ws_tier2", 28, model.GroupExchangeOfficial},
		"chain_factory":    {"chain_factory", 24, model.GroupChain},
		"chain_log":        {"chain_log", 21, model.GroupChain},
		"news_rss":         {"news_rss", 2, model.GroupNews},
		"unknown":          {"unknown", 0, model.GroupNews},
	}
}

// DefaultExchangeMultipliers returns the §4.3.2 example multiplier table.
func DefaultExchangeMultipliers() map[string]float64 {
	return map[string]float64{
		"binance": 1.5,
		"okx":     1.45,
		"bybit":   1.4,
		"coinbase": 1.35,
		"upbit":   1.3,
		"gate":    1.15,
		"mexc":    1.1,
		"bitget":  1.05,
		"kucoin":  1.0,
		"lbank":   0.9,
		"xt":      0.85,
	}
}

// Default builds the default scoring table with the published
// thresholds.
func Default() *Table {
	return &Table{
		Sources:             DefaultSourceTable(),
		ExchangeMultipliers: DefaultExchangeMultipliers(),
		DefaultMultiplier:   1.0,
		MinScore:            28,
		CEXRouteMin:         50,
		HLRouteMin:          40,
		NotifyMin:           28,
		SuperEventMinScore:  50,
	}
}

// overrideFile is the §6.6 FUSION_SCORING_CONFIG_PATH shape: a partial
// override of the source-tier and exchange-multiplier tables, applied
// entry-by-entry over the defaults so an operator can tune a handful of
// sources without restating the whole table.
type overrideFile struct {
	Sources             map[string]SourceEntry `json:"sources"`
	ExchangeMultipliers map[string]float64     `json:"exchange_multipliers"`
}

// LoadOverrides reads path (if non-empty) and applies its source and
// exchange-multiplier entries on top of t. A missing path is a no-op; a
// present-but-unreadable or malformed file is an error, since a typo'd
// override path should fail startup loudly rather than silently run on
// defaults.
func (t *Table) LoadOverrides(path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read scoring config %s: %w", path, err)
	}
	var ov overrideFile
	if err := json.Unmarshal(raw, &ov); err != nil {
		return fmt.Errorf("parse scoring config %s: %w", path, err)
	}
	for id, entry := range ov.Sources {
		if entry.Identifier == "" {
			entry.Identifier = id
		}
		t.Sources[id] = entry
	}
	for exchange, mult := range ov.ExchangeMultipliers {
		t.ExchangeMultipliers[exchange] = mult
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SourceScore returns the §4.3.1 base score for a raw source identifier,
// falling back to the "unknown" entry's score when the source is not in
// the table.
func (t *Table) SourceScore(source string) float64 {
	if e, ok := t.Sources[source]; ok {
		return e.BaseScore
	}
	if e, ok := t.Sources["unknown"]; ok {
		return e.BaseScore
	}
	return 0
}

// SourceGroupOf returns the independent-source-group a raw source belongs
// to, falling back to GroupNews for unrecognized sources.
func (t *Table) SourceGroupOf(source string) model.SourceGroup {
	if e, ok := t.Sources[source]; ok {
		return e.Group
	}
	return model.GroupNews
}

// ExchangeScore computes the §4.3.2 exchange_score in [0, 15].
func (t *Table) ExchangeScore(exchange string) float64 {
	mult, ok := t.ExchangeMultipliers[exchange]
	if !ok {
		mult = t.DefaultMultiplier
	}
	return clamp(10*mult, 0, 15)
}

// TimelinessScore computes the §4.3.3 timeliness bucket and score for
// delta = detectedAt - firstSeenAt (both unix ms).
func TimelinessScore(delta int64) (model.TimelinessCategory, float64) {
	switch {
	case delta <= 0:
		return model.TimelinessFirstSeen, 20
	case delta <= 5000:
		return model.TimelinessWithin5s, 18
	case delta <= 30000:
		return model.TimelinessWithin30s, 12
	case delta <= 60000:
		return model.TimelinessWithin1min, 8
	case delta <= 300000:
		return model.TimelinessWithin5min, 4
	default:
		return model.TimelinessOlder, 0
	}
}

// MultiSourceScore computes the §4.3.4 bonus from a count of independent
// source groups.
func MultiSourceScore(independentGroups int) float64 {
	switch {
	case independentGroups >= 4:
		return 40
	case independentGroups == 3:
		return 32
	case independentGroups == 2:
		return 20
	default:
		return 0
	}
}

// Final applies the §4.3.6 weighted formula to a breakdown and returns
// the score and confidence.
func Final(b model.ScoreBreakdown) (score, confidence float64) {
	score = 0.25*b.Source + 0.40*b.MultiSource + 0.15*b.Timeliness + 0.20*b.Exchange
	confidence = clamp(score/80, 0, 1)
	return score, confidence
}

// IndependentGroups returns the distinct source groups among sources.
func IndependentGroups(t *Table, sources []string) map[model.SourceGroup]struct{} {
	groups := make(map[model.SourceGroup]struct{})
	for _, s := range sources {
		groups[t.SourceGroupOf(s)] = struct{}{}
	}
	return groups
}

// IsHighTrustSocket reports whether a source is a tier-S socket source
// eligible for the 10s trusted aggregation window (§4.4.1 step 4).
func (t *Table) IsHighTrustSocket(source string, trustedSources map[string]bool) bool {
	if trustedSources != nil {
		return trustedSources[source]
	}
	e, ok := t.Sources[source]
	return ok && e.Group == model.GroupExchangeOfficial && e.BaseScore >= 60
}

// Package aggregator implements the Aggregator / First-Seen Tracker
// (§4.4): per-fingerprint aggregation windows held in process
// memory, backed by the bus only for the first-seen ledger's TTL.
//
// Per-fingerprint mutual exclusion uses a KeyedMutex to serialize window
// mutation per fingerprint without a single global lock.
package aggregator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chainsignal/fusion/internal/bus"
	"github.com/chainsignal/fusion/internal/concurrency"
	"github.com/chainsignal/fusion/internal/fingerprint"
	"github.com/chainsignal/fusion/internal/model"
	"github.com/chainsignal/fusion/internal/scoring"
)

// Config controls window sizing and the first-seen ledger TTL (§6.6).
type Config struct {
	DefaultWindowMs time.Duration
	TrustedWindowMs time.Duration
	TrustedSources  map[string]bool
	FirstSeenTTL    time.Duration
}

// Window is the in-memory per-fingerprint aggregation state (§4.4).
type Window struct {
	Fingerprint string

	Symbol    string
	Exchange  string
	EventType model.EventType

	Symbols   map[string]struct{}
	Exchanges map[string]struct{}
	Sources   map[string]struct{}

	urlSeen      map[string]struct{}
	URLs         []string
	RawTexts     []string
	SourceEvents []string
	ChainInfo    string

	FirstSeenAtMs        int64
	FirstEventDetectedAt int64
	LastSeenAt           int64
	WindowMs             int64
	IsFirstSeen          bool
}

func newWindow(fp string, e *model.RawEvent, firstSeenAtMs int64, windowMs time.Duration, isFirstSeen bool) *Window {
	w := &Window{
		Fingerprint:          fp,
		Symbol:                e.CanonicalSymbol,
		Exchange:              e.Exchange,
		EventType:             e.Event,
		Symbols:               map[string]struct{}{},
		Exchanges:             map[string]struct{}{},
		Sources:               map[string]struct{}{},
		urlSeen:               map[string]struct{}{},
		FirstSeenAtMs:         firstSeenAtMs,
		FirstEventDetectedAt:  e.DetectedAt,
		LastSeenAt:            e.DetectedAt,
		WindowMs:              windowMs.Milliseconds(),
		IsFirstSeen:           isFirstSeen,
	}
	w.merge(e)
	return w
}

func (w *Window) merge(e *model.RawEvent) {
	if e.CanonicalSymbol != "" {
		w.Symbols[e.CanonicalSymbol] = struct{}{}
	}
	if e.Exchange != "" {
		w.Exchanges[e.Exchange] = struct{}{}
	}
	w.Sources[e.Source] = struct{}{}
	w.RawTexts = append(w.RawTexts, e.RawText)
	if e.BusID != "" {
		w.SourceEvents = append(w.SourceEvents, e.BusID)
	}
	if e.URL != "" {
		if _, seen := w.urlSeen[e.URL]; !seen {
			w.urlSeen[e.URL] = struct{}{}
			w.URLs = append(w.URLs, e.URL)
		}
	}
	if w.ChainInfo == "" && e.Chain != "" {
		w.ChainInfo = e.Chain
	}
	if e.DetectedAt > w.LastSeenAt {
		w.LastSeenAt = e.DetectedAt
	}
	if e.DetectedAt < w.FirstEventDetectedAt {
		w.FirstEventDetectedAt = e.DetectedAt
	}
}

func (w *Window) sourceList() []string {
	out := make([]string, 0, len(w.Sources))
	for s := range w.Sources {
		out = append(out, s)
	}
	return out
}

// score computes the §4.3.6 breakdown/score/confidence and §4.4.3
// super-event predicate for the window's current aggregate state.
func (w *Window) score(table *scoring.Table) (model.ScoreBreakdown, float64, float64, model.TimelinessCategory, bool) {
	sources := w.sourceList()

	var sourceScore float64
	for _, s := range sources {
		if sc := table.SourceScore(s); sc > sourceScore {
			sourceScore = sc
		}
	}

	groups := scoring.IndependentGroups(table, sources)
	multiSource := scoring.MultiSourceScore(len(groups))

	delta := w.FirstEventDetectedAt - w.FirstSeenAtMs
	category, timeliness := scoring.TimelinessScore(delta)

	exchangeScore := table.ExchangeScore(w.Exchange)

	breakdown := model.ScoreBreakdown{
		Source:      sourceScore,
		MultiSource: multiSource,
		Timeliness:  timeliness,
		Exchange:    exchangeScore,
	}
	score, confidence := scoring.Final(breakdown)

	isSuper := len(groups) >= 2 && (score >= table.SuperEventMinScore || w.IsFirstSeen)

	return breakdown, score, confidence, category, isSuper
}

// Aggregator holds all open windows and the bus-backed first-seen ledger.
type Aggregator struct {
	mapMu   sync.Mutex
	windows map[string]*Window
	keyed   *concurrency.KeyedMutex

	bus   bus.Bus
	table *scoring.Table
	cfg   Config

	Flushed   concurrency.AtomicCounter
	Discarded concurrency.AtomicCounter
}

// New builds an Aggregator over the given bus and scoring table.
func New(b bus.Bus, table *scoring.Table, cfg Config) *Aggregator {
	return &Aggregator{
		windows: make(map[string]*Window),
		keyed:   concurrency.NewKeyedMutex(),
		bus:     b,
		table:   table,
		cfg:     cfg,
	}
}

// Add implements §4.4.1: establish or read the first-seen record, create
// or merge into the fingerprint's window, and suppress same-source
// redundancy within an already-open window.
func (a *Aggregator) Add(ctx context.Context, e *model.RawEvent) error {
	fp := fingerprint.Compute(e.Exchange, e.CanonicalSymbol, string(e.Event))

	unlock := a.keyed.Lock(fp)
	defer unlock()

	firstSeenAtMs, isFirstSeen, err := a.getOrSetFirstSeen(ctx, fp, e.DetectedAt)
	if err != nil {
		return fmt.Errorf("first_seen lookup: %w", err)
	}

	a.mapMu.Lock()
	w, exists := a.windows[fp]
	a.mapMu.Unlock()

	if !exists {
		windowMs := a.cfg.DefaultWindowMs
		if a.table.IsHighTrustSocket(e.Source, a.cfg.TrustedSources) {
			windowMs = a.cfg.TrustedWindowMs
		}
		w = newWindow(fp, e, firstSeenAtMs, windowMs, isFirstSeen)
		a.mapMu.Lock()
		a.windows[fp] = w
		a.mapMu.Unlock()
		return nil
	}

	if _, dup := w.Sources[e.Source]; dup {
		// same-source redundancy within an open window: suppressed.
		return nil
	}
	w.merge(e)
	return nil
}

func (a *Aggregator) getOrSetFirstSeen(ctx context.Context, fp string, detectedAt int64) (int64, bool, error) {
	key := bus.FirstSeenKey(fp)
	ok, err := a.bus.SetNX(ctx, key, strconv.FormatInt(detectedAt, 10), a.cfg.FirstSeenTTL)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return detectedAt, true, nil
	}
	val, found, err := a.bus.Get(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if !found {
		// Lost a race with the key's own expiry; treat this event as
		// establishing first-seen.
		return detectedAt, true, nil
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return detectedAt, true, nil
	}
	return parsed, false, nil
}

// Flush evaluates every open window and flushes those whose last event
// is at least WindowMs old relative to now (§4.4.2). Windows scoring
// below min_score are discarded silently.
func (a *Aggregator) Flush(now time.Time) []*model.FusedEvent {
	return a.flush(now, false)
}

// FlushAll force-flushes every open window regardless of remaining
// window time, for graceful shutdown (§5).
func (a *Aggregator) FlushAll() []*model.FusedEvent {
	return a.flush(time.Now(), true)
}

func (a *Aggregator) flush(now time.Time, force bool) []*model.FusedEvent {
	a.mapMu.Lock()
	fps := make([]string, 0, len(a.windows))
	for fp := range a.windows {
		fps = append(fps, fp)
	}
	a.mapMu.Unlock()

	nowMs := now.UnixMilli()
	var out []*model.FusedEvent

	for _, fp := range fps {
		unlock := a.keyed.Lock(fp)

		a.mapMu.Lock()
		w, exists := a.windows[fp]
		a.mapMu.Unlock()
		if !exists {
			unlock()
			continue
		}

		if !force && nowMs-w.LastSeenAt < w.WindowMs {
			unlock()
			continue
		}

		fused := a.buildFused(w, nowMs)

		a.mapMu.Lock()
		delete(a.windows, fp)
		a.mapMu.Unlock()

		unlock()

		if fused != nil {
			out = append(out, fused)
		}
	}
	return out
}

func (a *Aggregator) buildFused(w *Window, nowMs int64) *model.FusedEvent {
	breakdown, score, confidence, category, isSuper := w.score(a.table)

	if score < a.table.MinScore {
		a.Discarded.Inc()
		return nil
	}
	a.Flushed.Inc()

	symbols := setToSlice(w.Symbols)
	exchanges := setToSlice(w.Exchanges)
	sources := w.sourceList()

	// §3.1: fused_<detected_at_ms>_<16-hex>. detected_at_ms is the
	// window's first event, not the flush time, and the suffix is a
	// random 16-hex token rather than the (deterministic, reusable)
	// fingerprint, so two distinct windows for the same fingerprint
	// never collide on event_id.
	eventID := fmt.Sprintf("fused_%d_%s", w.FirstEventDetectedAt, randomHex16())

	rawText := ""
	for i, t := range w.RawTexts {
		if i > 0 {
			rawText += " | "
		}
		rawText += t
	}

	return &model.FusedEvent{
		EventID:             eventID,
		Symbol:              w.Symbol,
		Symbols:             symbols,
		Exchange:            w.Exchange,
		Exchanges:           exchanges,
		EventType:           w.EventType,
		Sources:             sources,
		SourceCount:         len(sources),
		SourceEvents:        w.SourceEvents,
		FirstSeenAt:         w.FirstSeenAtMs,
		LastSeenAt:          w.LastSeenAt,
		AggregationWindowMs: w.WindowMs,
		Score:               score,
		ScoreBreakdown:      breakdown,
		Confidence:          confidence,
		IsSuperEvent:        isSuper,
		IsFirstSeen:         w.IsFirstSeen,
		TimelinessCategory:  category,
		RawText:             rawText,
		URLs:                w.URLs,
		ChainInfo:           w.ChainInfo,
		CreatedAt:           nowMs,
	}
}

// randomHex16 returns an 8-byte random value as 16 hex chars, used for
// the event_id suffix (§3.1). Falls back to an all-zero suffix on a
// crypto/rand read failure rather than panicking: an event_id is an
// identifier, not a security token, so degraded-but-non-fatal beats
// halting the flush loop.
func randomHex16() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b[:])
}

func setToSlice(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	return out
}

// Package fusion implements the Fusion Engine orchestrator (C6, §4.6):
// consumes events:raw, runs each payload through normalize, dedup, and
// aggregate, acks, and periodically flushes expired windows to
// events:fused, using a ctx/cancel/WaitGroup/ticker-driven worker shape
// with a per-message select loop.
package fusion

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainsignal/fusion/internal/aggregator"
	"github.com/chainsignal/fusion/internal/bus"
	"github.com/chainsignal/fusion/internal/concurrency"
	"github.com/chainsignal/fusion/internal/dedup"
	"github.com/chainsignal/fusion/internal/fingerprint"
	"github.com/chainsignal/fusion/internal/model"
	"github.com/chainsignal/fusion/internal/normalize"
)

// Config controls the engine's scan cadences (§5).
type Config struct {
	ConsumerName     string
	ConsumeCount     int64
	BlockTimeout     time.Duration
	FlushInterval    time.Duration
	ReclaimInterval  time.Duration
	ReclaimMinIdle   time.Duration
	DedupTTL         time.Duration
}

// DefaultConfig returns the documented cadences.
func DefaultConfig(consumerName string) Config {
	return Config{
		ConsumerName:    consumerName,
		ConsumeCount:    100,
		BlockTimeout:    5 * time.Second,
		FlushInterval:   500 * time.Millisecond,
		ReclaimInterval: 30 * time.Second,
		ReclaimMinIdle:  30 * time.Second,
		DedupTTL:        300 * time.Second,
	}
}

// Engine is the fusion pipeline's main orchestrator.
type Engine struct {
	bus        bus.Bus
	agg        *aggregator.Aggregator
	dedupF     *dedup.Filter
	normOpts   normalize.Options
	cfg        Config
	logger     zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}

	Processed concurrency.AtomicCounter
	Rejected  concurrency.AtomicCounter
	Duplicate concurrency.AtomicCounter
	Published concurrency.AtomicCounter
	PanicsRecovered concurrency.AtomicCounter
}

// New builds an Engine over the given bus, aggregator, and dedup filter.
func New(b bus.Bus, agg *aggregator.Aggregator, dedupF *dedup.Filter, normOpts normalize.Options, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		bus:      b,
		agg:      agg,
		dedupF:   dedupF,
		normOpts: normOpts,
		cfg:      cfg,
		logger:   logger.With().Str("component", "fusion_engine").Logger(),
		done:     make(chan struct{}),
	}
}

// Start launches the consume loop plus the flush and reclaim tickers.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.bus.EnsureGroup(ctx, bus.StreamRaw, bus.GroupFusionEngine); err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(3)
	go e.consumeLoop(ctx)
	go e.flushLoop(ctx)
	go e.reclaimLoop(ctx)

	e.logger.Info().Msg("fusion engine started")
	return nil
}

// Stop requests shutdown, waits for all loops to exit, then force-flushes
// every open aggregation window regardless of remaining window time (§5).
func (e *Engine) Stop() []*model.FusedEvent {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	flushed := e.agg.FlushAll()
	for _, f := range flushed {
		e.publishFused(context.Background(), f)
	}
	e.logger.Info().
		Int64("processed", e.Processed.Get()).
		Int64("published", e.Published.Get()).
		Msg("fusion engine stopped")
	return flushed
}

func (e *Engine) consumeLoop(ctx context.Context) {
	defer e.wg.Done()
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := e.bus.ReadGroup(ctx, bus.StreamRaw, bus.GroupFusionEngine, e.cfg.ConsumerName, e.cfg.ConsumeCount, e.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// bus_transient: log and retry with exponential backoff
			// (50ms doubling, 5s cap); never halt the loop (§7).
			e.logger.Warn().Err(err).Msg("bus read failed, retrying")
			time.Sleep(backoff)
			if backoff *= 2; backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
			continue
		}
		backoff = 50 * time.Millisecond

		for _, m := range msgs {
			e.handleMessage(ctx, m)
		}
	}
}

// handleMessage wraps a single message's processing in a recover()
// boundary so an internal bug can never halt the consumer loop (§7
// internal_bug: recover, log with stack, ack, continue).
func (e *Engine) handleMessage(ctx context.Context, m bus.Message) {
	defer func() {
		if r := recover(); r != nil {
			e.PanicsRecovered.Inc()
			e.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("bus_id", m.ID).
				Msg("internal_bug recovered in message handler")
			_ = e.bus.Ack(ctx, bus.StreamRaw, bus.GroupFusionEngine, m.ID)
		}
	}()

	e.process(ctx, m)
}

func (e *Engine) process(ctx context.Context, m bus.Message) {
	ev, err := normalize.Normalize(normalize.Payload(m.Values), e.normOpts)
	if err != nil {
		e.Rejected.Inc()
		reason := ""
		if rejErr, ok := err.(*normalize.RejectError); ok {
			reason = string(rejErr.Reason)
		}
		e.logger.Warn().Str("bus_id", m.ID).Str("reason", reason).Err(err).Msg("raw event rejected")
		_ = e.bus.Ack(ctx, bus.StreamRaw, bus.GroupFusionEngine, m.ID)
		return
	}
	ev.BusID = m.ID

	fp := fingerprintOf(ev)
	if e.dedupF.Check(time.UnixMilli(ev.DetectedAt), fp, ev.Source) {
		e.Duplicate.Inc()
		e.logger.Debug().Str("bus_id", m.ID).Str("fingerprint", fp).Msg("duplicate suppressed")
		_ = e.bus.Ack(ctx, bus.StreamRaw, bus.GroupFusionEngine, m.ID)
		return
	}
	// best-effort visibility key; the in-memory filter above is the
	// actual suppression authority (§4.5), this just makes a pass-through
	// decision observable to anything inspecting the bus.
	if _, err := e.bus.SetNX(ctx, bus.DedupKey(fp)+":"+ev.Source, "1", e.cfg.DedupTTL); err != nil {
		e.logger.Debug().Err(err).Str("fingerprint", fp).Msg("dedup visibility write failed")
	}

	if err := e.agg.Add(ctx, ev); err != nil {
		e.logger.Warn().Err(err).Str("bus_id", m.ID).Msg("aggregation add failed, will retry via reclaim")
		return
	}

	e.Processed.Inc()
	_ = e.bus.Ack(ctx, bus.StreamRaw, bus.GroupFusionEngine, m.ID)
}

func (e *Engine) flushLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, f := range e.agg.Flush(time.Now()) {
				e.publishFused(ctx, f)
			}
			e.dedupF.Sweep(time.Now())
		}
	}
}

func (e *Engine) reclaimLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs, err := e.bus.Reclaim(ctx, bus.StreamRaw, bus.GroupFusionEngine, e.cfg.ConsumerName, e.cfg.ReclaimMinIdle, 100)
			if err != nil {
				e.logger.Warn().Err(err).Msg("reclaim failed")
				continue
			}
			for _, m := range msgs {
				e.handleMessage(ctx, m)
			}
		}
	}
}

func (e *Engine) publishFused(ctx context.Context, f *model.FusedEvent) {
	if _, err := e.bus.Publish(ctx, bus.StreamFused, bus.MaxLenFused, bus.EncodeFusedEvent(f)); err != nil {
		e.logger.Error().Err(err).Str("event_id", f.EventID).Msg("failed to publish fused event")
		return
	}
	e.Published.Inc()
}

func fingerprintOf(e *model.RawEvent) string {
	return fingerprint.Compute(e.Exchange, e.CanonicalSymbol, string(e.Event))
}

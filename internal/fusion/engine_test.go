package fusion

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainsignal/fusion/internal/aggregator"
	"github.com/chainsignal/fusion/internal/bus"
	"github.com/chainsignal/fusion/internal/dedup"
	"github.com/chainsignal/fusion/internal/normalize"
	"github.com/chainsignal/fusion/internal/scoring"
)

func rawPayload(source, exchange, symbol, event string, detectedAt time.Time) map[string]string {
	return map[string]string{
		"source":      source,
		"source_type": "websocket",
		"exchange":    exchange,
		"symbol":      symbol,
		"event":       event,
		"raw_text":    symbol + " listed",
		"detected_at": strconv.FormatInt(detectedAt.UnixMilli(), 10),
		"node_id":     "collector-1",
	}
}

func newTestEngine(b bus.Bus) *Engine {
	aggCfg := aggregator.Config{
		DefaultWindowMs: 40 * time.Millisecond,
		TrustedWindowMs: 80 * time.Millisecond,
		TrustedSources:  map[string]bool{},
		FirstSeenTTL:    time.Hour,
	}
	agg := aggregator.New(b, scoring.Default(), aggCfg)
	dedupF := dedup.New(300 * time.Second)
	normOpts := normalize.DefaultOptions()

	cfg := DefaultConfig("test-consumer")
	cfg.FlushInterval = 10 * time.Millisecond
	cfg.ReclaimInterval = time.Hour
	cfg.BlockTimeout = 10 * time.Millisecond

	return New(b, agg, dedupF, normOpts, cfg, zerolog.Nop())
}

func TestEngineProcessesAndFlushesSuperEvent(t *testing.T) {
	ctx := context.Background()
	b := bus.NewFake()
	e := newTestEngine(b)

	now := time.Now()
	_, _ = b.Publish(ctx, bus.StreamRaw, bus.MaxLenRaw, rawPayload("ws_binance", "binance", "ABCUSDT", "listing", now))
	_, _ = b.Publish(ctx, bus.StreamRaw, bus.MaxLenRaw, rawPayload("tg_alpha_intel", "binance", "ABCUSDT", "listing", now.Add(2*time.Millisecond)))

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	e.Stop()

	msgs, err := b.ReadGroup(ctx, bus.StreamFused, "inspect_group", "inspector", 10, time.Millisecond)
	if err != nil {
		t.Fatalf("ReadGroup fused: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 fused event published, got %d", len(msgs))
	}
	if msgs[0].Values["is_super_event"] != "1" {
		t.Errorf("expected is_super_event=1, got %q", msgs[0].Values["is_super_event"])
	}
	if e.Processed.Get() != 2 {
		t.Errorf("expected 2 raw events processed, got %d", e.Processed.Get())
	}
}

func TestEngineRejectsInvalidPayload(t *testing.T) {
	ctx := context.Background()
	b := bus.NewFake()
	e := newTestEngine(b)

	_, _ = b.Publish(ctx, bus.StreamRaw, bus.MaxLenRaw, map[string]string{"source": "ws_binance"})

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	e.Stop()

	if e.Rejected.Get() != 1 {
		t.Errorf("expected 1 rejected payload, got %d", e.Rejected.Get())
	}
}

func TestEngineDuplicateSuppressed(t *testing.T) {
	ctx := context.Background()
	b := bus.NewFake()
	e := newTestEngine(b)

	now := time.Now()
	_, _ = b.Publish(ctx, bus.StreamRaw, bus.MaxLenRaw, rawPayload("ws_binance", "binance", "ABCUSDT", "listing", now))
	_, _ = b.Publish(ctx, bus.StreamRaw, bus.MaxLenRaw, rawPayload("ws_binance", "binance", "ABCUSDT", "listing", now.Add(5*time.Millisecond)))

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	e.Stop()

	if e.Duplicate.Get() != 1 {
		t.Errorf("expected 1 duplicate suppressed, got %d", e.Duplicate.Get())
	}
}

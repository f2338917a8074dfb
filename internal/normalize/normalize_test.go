package normalize

import (
	"strconv"
	"testing"
	"time"

	"github.com/chainsignal/fusion/internal/model"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNormalizeValidEvent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := DefaultOptions()
	opts.Now = fixedNow(now)

	p := Payload{
		"source":      "ws_binance",
		"source_type": "websocket",
		"exchange":    "Binance",
		"symbol":      "ABCUSDT",
		"event":       "listing",
		"raw_text":    "ABC will list on Binance",
		"detected_at": strconv.FormatInt(now.UnixMilli(), 10),
		"node_id":     "collector-1",
	}

	ev, err := Normalize(p, opts)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.Exchange != "binance" {
		t.Errorf("expected lowercased exchange, got %q", ev.Exchange)
	}
	if ev.CanonicalSymbol != "ABC" {
		t.Errorf("expected canonical symbol ABC, got %q", ev.CanonicalSymbol)
	}
	if ev.Event != model.EventListing {
		t.Errorf("expected event=listing, got %q", ev.Event)
	}
}

func TestNormalizeMissingField(t *testing.T) {
	opts := DefaultOptions()
	p := Payload{
		"source_type": "websocket",
		"raw_text":    "x",
		"detected_at": "1",
		"node_id":     "n1",
	}
	_, err := Normalize(p, opts)
	rejErr, ok := err.(*RejectError)
	if !ok || rejErr.Reason != ReasonSchemaInvalid {
		t.Fatalf("expected schema_invalid reject, got %v", err)
	}
}

func TestNormalizeStaleSkewed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := DefaultOptions()
	opts.Now = fixedNow(now)

	stale := now.Add(-2 * time.Hour).UnixMilli()
	p := Payload{
		"source":      "ws_binance",
		"source_type": "websocket",
		"raw_text":    "x",
		"detected_at": strconv.FormatInt(stale, 10),
		"node_id":     "n1",
	}
	_, err := Normalize(p, opts)
	rejErr, ok := err.(*RejectError)
	if !ok || rejErr.Reason != ReasonStaleOrSkewed {
		t.Fatalf("expected stale_or_skewed reject, got %v", err)
	}
}

func TestNormalizeInfersEventType(t *testing.T) {
	now := time.Now()
	opts := DefaultOptions()
	opts.Now = fixedNow(now)

	p := Payload{
		"source":      "news_rss",
		"source_type": "news",
		"raw_text":    "ABC airdrop claim your tokens now",
		"detected_at": strconv.FormatInt(now.UnixMilli(), 10),
		"node_id":     "n1",
	}
	ev, err := Normalize(p, opts)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.Event != model.EventAirdrop {
		t.Errorf("expected inferred event=airdrop, got %q", ev.Event)
	}
}

func TestNormalizeTruncatesRawText(t *testing.T) {
	now := time.Now()
	opts := DefaultOptions()
	opts.Now = fixedNow(now)

	long := make([]byte, 11000)
	for i := range long {
		long[i] = 'a'
	}
	p := Payload{
		"source":      "news_rss",
		"source_type": "news",
		"raw_text":    string(long),
		"detected_at": strconv.FormatInt(now.UnixMilli(), 10),
		"node_id":     "n1",
	}
	ev, err := Normalize(p, opts)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(ev.RawText) != maxRawTextLen {
		t.Errorf("expected raw_text truncated to %d, got %d", maxRawTextLen, len(ev.RawText))
	}
}

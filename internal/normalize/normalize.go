// Package normalize implements the Ingestion Normalizer (§4.2):
// validates raw payloads read off the bus, canonicalizes fields, and
// infers the event type when a collector omits it.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chainsignal/fusion/internal/classify"
	"github.com/chainsignal/fusion/internal/fingerprint"
	"github.com/chainsignal/fusion/internal/model"
)

const maxRawTextLen = 10000

// RejectReason names why a payload could not be normalized (§7 taxonomy).
type RejectReason string

const (
	ReasonSchemaInvalid  RejectReason = "schema_invalid"
	ReasonStaleOrSkewed  RejectReason = "stale_or_skewed"
)

// RejectError is returned by Normalize when a payload fails validation.
type RejectError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectError) Error() string { return fmt.Sprintf("%s: %s", e.Reason, e.Detail) }

// Options controls normalizer behavior that left configurable here.
type Options struct {
	// SkewWindow is the sanity window around wall-clock for detected_at
	// (default ±1 hour per §3.1).
	SkewWindow time.Duration
	Rules      []classify.Rule
	Now        func() time.Time
}

// DefaultOptions returns the default ±1 hour skew window and
// classifier rule table.
func DefaultOptions() Options {
	return Options{
		SkewWindow: time.Hour,
		Rules:      classify.DefaultRules(),
		Now:        time.Now,
	}
}

// Payload is the raw wire shape read off events:raw (§6.2): every field
// arrives as a string.
type Payload map[string]string

// Normalize validates and canonicalizes a raw wire payload into a
// model.RawEvent, or returns a *RejectError per §4.2's rules.
func Normalize(p Payload, opts Options) (*model.RawEvent, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	source := strings.TrimSpace(p["source"])
	sourceType := strings.TrimSpace(p["source_type"])
	rawText := p["raw_text"]
	detectedAtStr := strings.TrimSpace(p["detected_at"])
	nodeID := strings.TrimSpace(p["node_id"])

	if source == "" || sourceType == "" || rawText == "" || detectedAtStr == "" || nodeID == "" {
		return nil, &RejectError{Reason: ReasonSchemaInvalid, Detail: "missing required field"}
	}

	detectedAt, err := strconv.ParseInt(detectedAtStr, 10, 64)
	if err != nil {
		return nil, &RejectError{Reason: ReasonSchemaInvalid, Detail: "detected_at not an integer"}
	}

	now := opts.Now().UnixMilli()
	skew := opts.SkewWindow.Milliseconds()
	if detectedAt < now-skew || detectedAt > now+skew {
		return nil, &RejectError{Reason: ReasonStaleOrSkewed, Detail: "detected_at outside sanity window"}
	}

	exchange := strings.ToLower(strings.TrimSpace(p["exchange"]))
	symbol := strings.TrimSpace(p["symbol"])

	eventType := model.EventType(strings.TrimSpace(p["event"]))
	if eventType == "" {
		eventType = classify.Classify(rawText, opts.Rules)
	}

	if len(rawText) > maxRawTextLen {
		rawText = rawText[:maxRawTextLen]
	}

	ev := &model.RawEvent{
		Source:          source,
		SourceType:      model.SourceType(sourceType),
		Exchange:        exchange,
		Symbol:          symbol,
		Event:           eventType,
		RawText:         rawText,
		URL:             p["url"],
		DetectedAt:      detectedAt,
		NodeID:          nodeID,
		Telegram:        p["telegram"],
		Twitter:         p["twitter"],
		Chain:           p["chain"],
		CanonicalSymbol: fingerprint.Normalize(symbol),
	}
	return ev, nil
}

package bus

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/chainsignal/fusion/internal/model"
)

// EncodeFusedEvent encodes a FusedEvent per the §6.3 wire contract:
// mandatory fields as plain/boolean/JSON strings, the rest carried for
// completeness.
func EncodeFusedEvent(f *model.FusedEvent) map[string]string {
	sources, _ := json.Marshal(f.Sources)
	symbols, _ := json.Marshal(f.Symbols)
	exchanges, _ := json.Marshal(f.Exchanges)
	urls, _ := json.Marshal(f.URLs)
	sourceEvents, _ := json.Marshal(f.SourceEvents)
	breakdown, _ := json.Marshal(f.ScoreBreakdown)

	isSuper := "0"
	if f.IsSuperEvent {
		isSuper = "1"
	}
	isFirstSeen := "0"
	if f.IsFirstSeen {
		isFirstSeen = "1"
	}

	return map[string]string{
		"event_id":              f.EventID,
		"symbol":                f.Symbol,
		"symbols":               string(symbols),
		"exchange":              f.Exchange,
		"exchanges":             string(exchanges),
		"event_type":            string(f.EventType),
		"sources":               string(sources),
		"source_count":          strconv.Itoa(f.SourceCount),
		"source_events":         string(sourceEvents),
		"first_seen_at":         strconv.FormatInt(f.FirstSeenAt, 10),
		"last_seen_at":          strconv.FormatInt(f.LastSeenAt, 10),
		"aggregation_window_ms": strconv.FormatInt(f.AggregationWindowMs, 10),
		"score":                 strconv.FormatFloat(f.Score, 'f', -1, 64),
		"score_breakdown":       string(breakdown),
		"confidence":            strconv.FormatFloat(f.Confidence, 'f', -1, 64),
		"is_super_event":        isSuper,
		"is_first_seen":         isFirstSeen,
		"timeliness_category":   string(f.TimelinessCategory),
		"raw_text":              f.RawText,
		"urls":                  string(urls),
		"chain_info":            f.ChainInfo,
		"created_at":            strconv.FormatInt(f.CreatedAt, 10),
	}
}

// DecodeFusedEvent reverses EncodeFusedEvent for consumers that read
// events:fused directly (the signal router and the standalone webhook
// pusher both decode the same wire shape under their own consumer groups).
func DecodeFusedEvent(fields map[string]string) (*model.FusedEvent, error) {
	if fields["event_id"] == "" {
		return nil, fmt.Errorf("decode fused event: missing event_id")
	}

	var sources, symbols, exchanges, urls, sourceEvents []string
	var breakdown model.ScoreBreakdown
	_ = json.Unmarshal([]byte(fields["sources"]), &sources)
	_ = json.Unmarshal([]byte(fields["symbols"]), &symbols)
	_ = json.Unmarshal([]byte(fields["exchanges"]), &exchanges)
	_ = json.Unmarshal([]byte(fields["urls"]), &urls)
	_ = json.Unmarshal([]byte(fields["source_events"]), &sourceEvents)
	_ = json.Unmarshal([]byte(fields["score_breakdown"]), &breakdown)

	sourceCount, _ := strconv.Atoi(fields["source_count"])
	firstSeenAt, _ := strconv.ParseInt(fields["first_seen_at"], 10, 64)
	lastSeenAt, _ := strconv.ParseInt(fields["last_seen_at"], 10, 64)
	windowMs, _ := strconv.ParseInt(fields["aggregation_window_ms"], 10, 64)
	score, _ := strconv.ParseFloat(fields["score"], 64)
	confidence, _ := strconv.ParseFloat(fields["confidence"], 64)
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)

	return &model.FusedEvent{
		EventID:             fields["event_id"],
		Symbol:              fields["symbol"],
		Symbols:             symbols,
		Exchange:            fields["exchange"],
		Exchanges:           exchanges,
		EventType:           model.EventType(fields["event_type"]),
		Sources:             sources,
		SourceCount:         sourceCount,
		SourceEvents:        sourceEvents,
		FirstSeenAt:         firstSeenAt,
		LastSeenAt:          lastSeenAt,
		AggregationWindowMs: windowMs,
		Score:               score,
		ScoreBreakdown:      breakdown,
		Confidence:          confidence,
		IsSuperEvent:        fields["is_super_event"] == "1",
		IsFirstSeen:         fields["is_first_seen"] == "1",
		TimelinessCategory:  model.TimelinessCategory(fields["timeliness_category"]),
		RawText:             fields["raw_text"],
		URLs:                urls,
		ChainInfo:           fields["chain_info"],
		CreatedAt:           createdAt,
	}, nil
}

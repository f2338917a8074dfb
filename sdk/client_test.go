package fusionsdk

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBuildFieldsRequiredValidation(t *testing.T) {
	_, err := buildFields(RawEvent{}, "node-1", time.Now())
	if err == nil {
		t.Fatalf("expected error for missing required fields")
	}
}

func TestBuildFieldsEncodesScalarsAsStrings(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	fields, err := buildFields(RawEvent{
		Source:     "ws_binance",
		SourceType: SourceTypeWebsocket,
		Exchange:   "Binance",
		Symbol:     "abc",
		Event:      EventListing,
		RawText:    "ABC will list on Binance",
		URL:        "https://example.com",
		DetectedAt: now,
	}, "node-1", now)
	if err != nil {
		t.Fatalf("buildFields: %v", err)
	}

	want := map[string]interface{}{
		"source":      "ws_binance",
		"source_type": "websocket",
		"exchange":    "Binance",
		"symbol":      "abc",
		"event":       "listing",
		"raw_text":    "ABC will list on Binance",
		"url":         "https://example.com",
		"detected_at": "1700000000000",
		"node_id":     "node-1",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %v, want %v", k, fields[k], v)
		}
	}
}

func TestBuildFieldsDefaultsDetectedAtToNow(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	fields, err := buildFields(RawEvent{
		Source:     "ws_binance",
		SourceType: SourceTypeWebsocket,
		RawText:    "listing",
	}, "node-1", now)
	if err != nil {
		t.Fatalf("buildFields: %v", err)
	}
	if fields["detected_at"] != "1700000000000" {
		t.Errorf("expected detected_at to default to now, got %v", fields["detected_at"])
	}
}

func TestBuildFieldsSerializesChainSidecar(t *testing.T) {
	now := time.Now()
	fields, err := buildFields(RawEvent{
		Source:     "chain_factory",
		SourceType: SourceTypeChain,
		RawText:    "new pair created",
		Chain: ChainSidecar{
			Network:         "bsc",
			ContractAddress: "0xdeadbeef",
			LiquidityUSD:    125000,
		},
	}, "node-1", now)
	if err != nil {
		t.Fatalf("buildFields: %v", err)
	}

	raw, ok := fields["chain"].(string)
	if !ok {
		t.Fatalf("expected chain sidecar to be a JSON string, got %T", fields["chain"])
	}
	var decoded ChainSidecar
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("unmarshal chain sidecar: %v", err)
	}
	if decoded.Network != "bsc" || decoded.ContractAddress != "0xdeadbeef" || decoded.LiquidityUSD != 125000 {
		t.Errorf("unexpected decoded sidecar: %+v", decoded)
	}
}

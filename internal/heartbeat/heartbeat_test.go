package heartbeat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainsignal/fusion/internal/bus"
)

func TestStartWritesImmediateBeat(t *testing.T) {
	b := bus.NewFake()
	r := New(b, zerolog.Nop(), "node-1", "dev", 20*time.Millisecond, 120*time.Second)

	r.Start()
	defer r.Stop()

	fields, err := b.HGetAll(context.Background(), bus.HeartbeatKey("node-1"))
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if fields["status"] != "running" {
		t.Errorf("expected status=running, got %q", fields["status"])
	}
	if fields["node_id"] != "node-1" {
		t.Errorf("expected node_id=node-1, got %q", fields["node_id"])
	}
}

func TestStopWritesStoppedStatus(t *testing.T) {
	b := bus.NewFake()
	r := New(b, zerolog.Nop(), "node-1", "dev", 20*time.Millisecond, 120*time.Second)

	r.Start()
	r.Stop()

	fields, err := b.HGetAll(context.Background(), bus.HeartbeatKey("node-1"))
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if fields["status"] != "stopped" {
		t.Errorf("expected status=stopped after Stop, got %q", fields["status"])
	}
}

func TestStatSourceReportsLiveValue(t *testing.T) {
	b := bus.NewFake()
	r := New(b, zerolog.Nop(), "node-1", "dev", 10*time.Millisecond, 120*time.Second)

	count := int64(0)
	r.StatSource("flushed", func() int64 { return count })

	r.Start()
	defer r.Stop()

	count = 7
	time.Sleep(40 * time.Millisecond)

	fields, err := b.HGetAll(context.Background(), bus.HeartbeatKey("node-1"))
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	var stats map[string]int64
	if err := json.Unmarshal([]byte(fields["stats"]), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats["flushed"] != 7 {
		t.Errorf("expected stats.flushed=7, got %q", fields["stats"])
	}
}

package bus

import (
	"context"
	"testing"
	"time"
)

func TestFakePublishAndReadGroup(t *testing.T) {
	ctx := context.Background()
	b := NewFake()

	if err := b.EnsureGroup(ctx, StreamRaw, GroupFusionEngine); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}

	id, err := b.Publish(ctx, StreamRaw, MaxLenRaw, map[string]string{"symbol": "ABC"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty message id")
	}

	msgs, err := b.ReadGroup(ctx, StreamRaw, GroupFusionEngine, "c1", 10, time.Second)
	if err != nil {
		t.Fatalf("ReadGroup: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Values["symbol"] != "ABC" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	// Re-reading without ack should not redeliver (fake mirrors a single
	// consumer group's last-delivered-id cursor).
	msgs2, err := b.ReadGroup(ctx, StreamRaw, GroupFusionEngine, "c1", 10, time.Second)
	if err != nil {
		t.Fatalf("ReadGroup: %v", err)
	}
	if len(msgs2) != 0 {
		t.Fatalf("expected no redelivery before ack, got %+v", msgs2)
	}

	if err := b.Ack(ctx, StreamRaw, GroupFusionEngine, id); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestFakeSetNXTTL(t *testing.T) {
	ctx := context.Background()
	b := NewFake()

	ok, err := b.SetNX(ctx, DedupKey("fp1"), "1", 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("expected first SetNX to succeed: ok=%v err=%v", ok, err)
	}
	ok, err = b.SetNX(ctx, DedupKey("fp1"), "1", 50*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("expected second SetNX to fail while TTL active: ok=%v err=%v", ok, err)
	}

	time.Sleep(60 * time.Millisecond)
	ok, err = b.SetNX(ctx, DedupKey("fp1"), "1", 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("expected SetNX to succeed after TTL expiry: ok=%v err=%v", ok, err)
	}
}

func TestFakeSetOverwritesAndRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	b := NewFake()

	key := CooldownKey("ABC")
	if err := b.Set(ctx, key, "1", 50*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ttl, err := b.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		t.Fatalf("expected positive TTL after Set, got ttl=%v err=%v", ttl, err)
	}

	// Unlike SetNX, a second Set on the same key succeeds and refreshes
	// the TTL rather than being rejected because the key already exists.
	if err := b.Set(ctx, key, "1", 50*time.Millisecond); err != nil {
		t.Fatalf("second Set: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	ttl, err = b.TTL(ctx, key)
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl > 0 {
		t.Fatalf("expected TTL expired, got %v", ttl)
	}
}

func TestFakeHeartbeatHash(t *testing.T) {
	ctx := context.Background()
	b := NewFake()

	key := HeartbeatKey("node-1")
	if err := b.HSetTTL(ctx, key, map[string]string{"status": "running"}, time.Minute); err != nil {
		t.Fatalf("HSetTTL: %v", err)
	}
	got, err := b.HGetAll(ctx, key)
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if got["status"] != "running" {
		t.Fatalf("unexpected heartbeat fields: %+v", got)
	}
}

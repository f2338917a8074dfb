package routing

import (
	"context"
	"testing"
	"time"

	"github.com/chainsignal/fusion/internal/bus"
)

func TestSelectVenueSkipsBlacklisted(t *testing.T) {
	priority := []string{"gate", "mexc", "bitget"}
	bl := BlacklistSet([]string{"gate"})
	if got := SelectVenue(priority, bl); got != "mexc" {
		t.Errorf("expected mexc, got %q", got)
	}
}

func TestSelectVenueAllBlacklisted(t *testing.T) {
	priority := []string{"gate", "mexc"}
	bl := BlacklistSet(priority)
	if got := SelectVenue(priority, bl); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

// P9: a symbol within its cooldown window demotes subsequent routing
// attempts.
func TestCooldownActivatesAndExpires(t *testing.T) {
	ctx := context.Background()
	b := bus.NewFake()
	cd := NewCooldown(b, 50*time.Millisecond)

	active, err := cd.Active(ctx, "ABC")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active {
		t.Fatalf("expected no cooldown before Start")
	}

	if err := cd.Start(ctx, "ABC"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	active, err = cd.Active(ctx, "ABC")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if !active {
		t.Fatalf("expected cooldown active immediately after Start")
	}

	time.Sleep(80 * time.Millisecond)
	active, err = cd.Active(ctx, "ABC")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active {
		t.Fatalf("expected cooldown expired after TTL")
	}
}

// Package dedup implements the Dedup Filter (§4.5): same-source
// suppression of raw events already folded into the current or
// previous aggregation window for a fingerprint, with a 300s TTL.
//
// The map tracks per-fingerprint source history with an expiry rather
// than collapsing in-flight work: there is no request to wait on here,
// a duplicate is simply dropped.
package dedup

import (
	"sync"
	"time"
)

// sourceHistory is the set of sources that have contributed to a
// fingerprint within the dedup TTL, independent of whether the live
// aggregation window for that fingerprint is still open.
type sourceHistory struct {
	sources   map[string]struct{}
	expiresAt time.Time
}

// Filter tracks, per fingerprint, which sources have already been
// aggregated within the TTL window so a same-source repeat can be
// suppressed even after its original aggregation window has flushed.
type Filter struct {
	mu      sync.Mutex
	entries map[string]*sourceHistory
	ttl     time.Duration

	Suppressed Counter
	Passed     Counter
}

// Counter is a tiny mutex-guarded hit counter; kept local to avoid
// pulling in the full concurrency package for a single field.
type Counter struct {
	mu    sync.Mutex
	value int64
}

func (c *Counter) inc() {
	c.mu.Lock()
	c.value++
	c.mu.Unlock()
}

// Get returns the current count.
func (c *Counter) Get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// New builds a Filter with the given TTL (default 300s).
func New(ttl time.Duration) *Filter {
	return &Filter{
		entries: make(map[string]*sourceHistory),
		ttl:     ttl,
	}
}

// Check reports whether (fingerprint, source) has already been seen
// within the TTL window. If not, it is recorded as seen as of now and
// Check returns false (not a duplicate). A same-source repeat within
// the TTL returns true and is suppressed; a new source for an
// already-tracked fingerprint always returns false, upgrading a
// single-source event toward cross-source confirmation.
func (f *Filter) Check(now time.Time, fingerprint, source string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.entries[fingerprint]
	if !ok || now.After(h.expiresAt) {
		h = &sourceHistory{sources: map[string]struct{}{}}
		f.entries[fingerprint] = h
	}
	h.expiresAt = now.Add(f.ttl)

	if _, seen := h.sources[source]; seen {
		f.Suppressed.inc()
		return true
	}
	h.sources[source] = struct{}{}
	f.Passed.inc()
	return false
}

// Sweep drops expired fingerprint entries; call periodically (e.g.
// alongside the flush ticker) to bound memory growth.
func (f *Filter) Sweep(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for fp, h := range f.entries {
		if now.After(h.expiresAt) {
			delete(f.entries, fp)
			removed++
		}
	}
	return removed
}

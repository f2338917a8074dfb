package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Fake is an in-memory Bus implementation used by component unit tests so
// they never require a live Redis instance (SPEC_FULL.md A.4).
type Fake struct {
	mu sync.Mutex

	streams map[string][]Message
	seq     int

	pending map[string]map[string]map[string]bool // stream -> group -> id -> true

	kv map[string]kvEntry

	hashes map[string]hashEntry

	sets map[string]map[string]bool
}

type kvEntry struct {
	value   string
	expires time.Time
}

type hashEntry struct {
	fields  map[string]string
	expires time.Time
}

// NewFake constructs an empty in-memory bus.
func NewFake() *Fake {
	return &Fake{
		streams: make(map[string][]Message),
		pending: make(map[string]map[string]map[string]bool),
		kv:      make(map[string]kvEntry),
		hashes:  make(map[string]hashEntry),
		sets:    make(map[string]map[string]bool),
	}
}

func (f *Fake) EnsureGroup(ctx context.Context, stream, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pending[stream]; !ok {
		f.pending[stream] = make(map[string]map[string]bool)
	}
	if _, ok := f.pending[stream][group]; !ok {
		f.pending[stream][group] = make(map[string]bool)
	}
	return nil
}

func (f *Fake) Publish(ctx context.Context, stream string, maxLen int64, fields map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("%d-0", f.seq)
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	f.streams[stream] = append(f.streams[stream], Message{ID: id, Values: cp})
	if maxLen > 0 && int64(len(f.streams[stream])) > maxLen {
		excess := int64(len(f.streams[stream])) - maxLen
		f.streams[stream] = f.streams[stream][excess:]
	}
	return id, nil
}

func (f *Fake) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pending[stream]; !ok {
		f.pending[stream] = make(map[string]map[string]bool)
	}
	if _, ok := f.pending[stream][group]; !ok {
		f.pending[stream][group] = make(map[string]bool)
	}
	delivered := f.pending[stream][group]

	var out []Message
	for _, m := range f.streams[stream] {
		if delivered[m.ID] {
			continue
		}
		out = append(out, m)
		delivered[m.ID] = true
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

func (f *Fake) Ack(ctx context.Context, stream, group string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.pending[stream]; ok {
		if delivered, ok := g[group]; ok {
			for _, id := range ids {
				delete(delivered, id)
			}
		}
	}
	return nil
}

// Reclaim in the fake returns every delivered-but-unacked message for
// the group in id order (up to count), ignoring minIdle: the fake never
// tracks per-message idle time.
func (f *Fake) Reclaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.pending[stream]
	if !ok {
		return nil, nil
	}
	delivered, ok := g[group]
	if !ok {
		return nil, nil
	}
	var ids []string
	for id := range delivered {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	byID := make(map[string]Message, len(f.streams[stream]))
	for _, m := range f.streams[stream] {
		byID[m.ID] = m
	}
	var out []Message
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

func (f *Fake) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = kvEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func (f *Fake) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.kv[key]; ok && e.expires.After(time.Now()) {
		return false, nil
	}
	f.kv[key] = kvEntry{value: value, expires: time.Now().Add(ttl)}
	return true, nil
}

func (f *Fake) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.kv[key]
	if !ok || !e.expires.After(time.Now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (f *Fake) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.kv[key]; ok {
		e.expires = time.Now().Add(ttl)
		f.kv[key] = e
	}
	return nil
}

func (f *Fake) SAdd(ctx context.Context, key string, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sets[key]; !ok {
		f.sets[key] = make(map[string]bool)
	}
	f.sets[key][member] = true
	return nil
}

func (f *Fake) SIsMember(ctx context.Context, key string, member string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.sets[key]
	if !ok {
		return false, nil
	}
	return set[member], nil
}

func (f *Fake) HSetTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	f.hashes[key] = hashEntry{fields: cp, expires: time.Now().Add(ttl)}
	return nil
}

func (f *Fake) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.hashes[key]
	if !ok || !e.expires.After(time.Now()) {
		return map[string]string{}, nil
	}
	return e.fields, nil
}

func (f *Fake) TTL(ctx context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.hashes[key]; ok {
		return time.Until(e.expires), nil
	}
	if e, ok := f.kv[key]; ok {
		return time.Until(e.expires), nil
	}
	return -2 * time.Second, nil
}

func (f *Fake) Close() error { return nil }

var _ Bus = (*Fake)(nil)

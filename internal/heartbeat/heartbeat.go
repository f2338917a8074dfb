// Package heartbeat implements the Heartbeat & Health Reporter (§4.8):
// a background ticker that writes this process's liveness hash to the
// bus every interval, with a TTL so a crashed node goes stale
// automatically instead of requiring an explicit deregistration.
package heartbeat

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainsignal/fusion/internal/bus"
	"github.com/chainsignal/fusion/internal/model"
)

// Reporter writes a heartbeat hash to the bus on a fixed interval.
type Reporter struct {
	bus      bus.Bus
	logger   zerolog.Logger
	nodeID   string
	version  string
	interval time.Duration
	ttl      time.Duration
	startAt  time.Time

	getters []statGetter

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Reporter. Counters registered with StatSource are read
// live on every tick, so callers can pass getters (e.g.
// *concurrency.AtomicCounter.Get) that keep incrementing after the
// reporter starts. A non-positive interval falls back to one second.
func New(b bus.Bus, logger zerolog.Logger, nodeID, version string, interval, ttl time.Duration) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reporter{
		bus:      b,
		logger:   logger.With().Str("component", "heartbeat").Logger(),
		nodeID:   nodeID,
		version:  version,
		interval: interval,
		ttl:      ttl,
		done:     make(chan struct{}),
	}
}

// StatSource registers a counter that is read fresh on every beat.
func (r *Reporter) StatSource(name string, get func() int64) {
	r.getters = append(r.getters, statGetter{name: name, get: get})
}

type statGetter struct {
	name string
	get  func() int64
}

// Start begins the background reporting loop.
func (r *Reporter) Start() {
	r.startAt = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.logger.Info().Dur("interval", r.interval).Msg("starting heartbeat reporter")

	// beat immediately so health is visible before the first tick.
	r.beat(ctx, model.HeartbeatRunning)

	go r.loop(ctx)
}

// Stop gracefully shuts the reporter down, writing a final "stopped"
// beat so a clean shutdown is distinguishable from a crash once the
// TTL eventually expires.
func (r *Reporter) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
	r.beat(context.Background(), model.HeartbeatStopped)
	r.logger.Info().Msg("heartbeat reporter stopped")
}

func (r *Reporter) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.beat(ctx, model.HeartbeatRunning)
		}
	}
}

func (r *Reporter) beat(ctx context.Context, status model.HeartbeatStatus) {
	fields := map[string]string{
		"status":         string(status),
		"node_id":        r.nodeID,
		"version":        r.version,
		"uptime_seconds": strconv.FormatInt(int64(time.Since(r.startAt).Seconds()), 10),
		"timestamp":      strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	stats := make(map[string]int64, len(r.getters))
	for _, g := range r.getters {
		stats[g.name] = g.get()
	}
	if statsJSON, err := json.Marshal(stats); err == nil {
		fields["stats"] = string(statsJSON)
	}

	if err := r.bus.HSetTTL(ctx, bus.HeartbeatKey(r.nodeID), fields, r.ttl); err != nil {
		r.logger.Warn().Err(err).Msg("heartbeat write failed")
	}
}

// Package webhookpusher implements the standalone webhook delivery
// consumer: its own consumer group (webhook_pusher_group, §4.1) against
// events:fused, independent of the signal router's router_group. A
// deployment can run the router and the webhook pusher as separate
// processes so a slow or failing webhook endpoint never backs up CEX/HL
// routing, or fold both into the router's inline notify path for a
// smaller single-process deployment (internal/router.Router.Route does
// that when wired with a non-nil notifier).
//
// Uses the same consume/ack/reclaim shape as the fusion engine
// (internal/fusion.Engine).
package webhookpusher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainsignal/fusion/internal/bus"
	"github.com/chainsignal/fusion/internal/concurrency"
	"github.com/chainsignal/fusion/internal/notify"
	"github.com/chainsignal/fusion/internal/router"
)

// Config controls the pusher's consume cadence and notify threshold.
type Config struct {
	NotifyMin float64

	ConsumerName    string
	ConsumeCount    int64
	BlockTimeout    time.Duration
	ReclaimInterval time.Duration
	ReclaimMinIdle  time.Duration
}

// DefaultConfig returns the documented cadences (§5).
func DefaultConfig(consumerName string) Config {
	return Config{
		NotifyMin:       28,
		ConsumerName:    consumerName,
		ConsumeCount:    100,
		BlockTimeout:    5 * time.Second,
		ReclaimInterval: 30 * time.Second,
		ReclaimMinIdle:  30 * time.Second,
	}
}

// Pusher consumes events:fused and delivers webhook notifications for
// every event clearing notify_min, under its own consumer group.
type Pusher struct {
	bus      bus.Bus
	notifier *notify.Dispatcher
	cfg      Config
	logger   zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc

	Delivered       concurrency.AtomicCounter
	Skipped         concurrency.AtomicCounter
	PanicsRecovered concurrency.AtomicCounter
}

// New builds a Pusher.
func New(b bus.Bus, notifier *notify.Dispatcher, cfg Config, logger zerolog.Logger) *Pusher {
	return &Pusher{
		bus:      b,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "webhook_pusher").Logger(),
	}
}

// Start launches the consume and reclaim loops against webhook_pusher_group.
func (p *Pusher) Start(ctx context.Context) error {
	if err := p.bus.EnsureGroup(ctx, bus.StreamFused, bus.GroupWebhookPusher); err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(2)
	go p.consumeLoop(ctx)
	go p.reclaimLoop(ctx)

	p.logger.Info().Msg("webhook pusher started")
	return nil
}

// Stop requests shutdown and waits for both loops to exit.
func (p *Pusher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().
		Int64("delivered", p.Delivered.Get()).
		Int64("skipped", p.Skipped.Get()).
		Msg("webhook pusher stopped")
}

func (p *Pusher) consumeLoop(ctx context.Context) {
	defer p.wg.Done()
	backoff := 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := p.bus.ReadGroup(ctx, bus.StreamFused, bus.GroupWebhookPusher, p.cfg.ConsumerName, p.cfg.ConsumeCount, p.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn().Err(err).Msg("bus read failed, retrying")
			time.Sleep(backoff)
			if backoff *= 2; backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
			continue
		}
		backoff = 50 * time.Millisecond

		for _, m := range msgs {
			p.handleMessage(ctx, m)
		}
	}
}

func (p *Pusher) reclaimLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs, err := p.bus.Reclaim(ctx, bus.StreamFused, bus.GroupWebhookPusher, p.cfg.ConsumerName, p.cfg.ReclaimMinIdle, 100)
			if err != nil {
				p.logger.Warn().Err(err).Msg("reclaim failed")
				continue
			}
			for _, m := range msgs {
				p.handleMessage(ctx, m)
			}
		}
	}
}

func (p *Pusher) handleMessage(ctx context.Context, m bus.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			p.PanicsRecovered.Inc()
			p.logger.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Str("bus_id", m.ID).
				Msg("internal_bug recovered in webhook pusher handler")
			_ = p.bus.Ack(ctx, bus.StreamFused, bus.GroupWebhookPusher, m.ID)
		}
	}()

	f, err := bus.DecodeFusedEvent(m.Values)
	if err != nil {
		p.logger.Warn().Err(err).Str("bus_id", m.ID).Msg("failed to decode fused event, dropping")
		_ = p.bus.Ack(ctx, bus.StreamFused, bus.GroupWebhookPusher, m.ID)
		return
	}

	if f.Score < p.cfg.NotifyMin {
		p.Skipped.Inc()
		_ = p.bus.Ack(ctx, bus.StreamFused, bus.GroupWebhookPusher, m.ID)
		return
	}

	payload := router.BuildNotify(f)
	if err := p.notifier.Send(ctx, *payload); err != nil {
		// §7: notify_delivery_failed never blocks the consumer; ack and
		// move on, the dispatcher already recorded the failure.
		p.logger.Warn().Err(err).Str("event_id", f.EventID).Msg("notify delivery failed")
	} else {
		p.Delivered.Inc()
	}
	_ = p.bus.Ack(ctx, bus.StreamFused, bus.GroupWebhookPusher, m.ID)
}

// Command router runs the Signal Router (§4.7): it consumes
// events:fused under its own consumer group and classifies each event
// into cex/hl/dex/notify/drop routes.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainsignal/fusion/internal/bus"
	"github.com/chainsignal/fusion/internal/config"
	"github.com/chainsignal/fusion/internal/healthsrv"
	"github.com/chainsignal/fusion/internal/heartbeat"
	"github.com/chainsignal/fusion/internal/logger"
	"github.com/chainsignal/fusion/internal/notify"
	"github.com/chainsignal/fusion/internal/router"
	"github.com/chainsignal/fusion/internal/routing"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	log.Info().Str("env", cfg.Env).Msg("signal router starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := bus.New(ctx, cfg.BusURL)
	if err != nil {
		log.Fatal().Err(err).Msg("bus connection failed")
	}

	cooldown := routing.NewCooldown(b, cfg.CooldownTTL)

	// Inline notify is wired here for a single-process deployment; run
	// cmd/webhook-pusher separately (under webhook_pusher_group) instead
	// when webhook delivery should not share fate with cex/hl routing.
	notifyCfg := notify.DefaultConfig()
	notifyCfg.WebhookURL = cfg.WebhookURL
	notifyCfg.Timeout = cfg.NotifyTimeout
	notifyCfg.Retries = cfg.NotifyRetries
	notifier := notify.New(notifyCfg, log)

	routerCfg := router.Config{
		CEXRouteMin:     cfg.CEXRouteMin,
		HLRouteMin:      cfg.HLRouteMin,
		NotifyMin:       cfg.NotifyMin,
		CEXPriority:     cfg.CEXPriority,
		Blacklist:       routing.SymbolBlacklistSet(cfg.Blacklist),
		HLMarketMap:     cfg.HLMarketMap,
		CooldownTTL:     cfg.CooldownTTL,
		ConsumerName:    cfg.NodeID,
		ConsumeCount:    100,
		BlockTimeout:    cfg.BusBlockTimeout,
		ReclaimInterval: cfg.ReclaimInterval,
		ReclaimMinIdle:  cfg.ReclaimInterval,
	}
	r := router.New(b, cooldown, notifier, routerCfg, log)

	hb := heartbeat.New(b, log, cfg.NodeID, cfg.Version, cfg.HeartbeatInterval, cfg.HeartbeatTTL)
	hb.StatSource("routed", r.Routed.Get)
	hb.StatSource("dropped", r.Dropped.Get)
	hb.StatSource("delivered", notifier.Delivered.Get)
	hb.StatSource("notify_failed", notifier.Failed.Get)

	health := healthsrv.New(cfg.HealthAddr, "signal-router", nil)
	healthErrs := health.Start()

	if err := r.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("router start failed")
	}
	hb.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		log.Info().Msg("shutdown signal received")
	case err := <-healthErrs:
		if err != nil {
			log.Error().Err(err).Msg("health server failed")
		}
	}

	hb.Stop()
	r.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer shutdownCancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown failed")
	}

	if err := b.Close(); err != nil {
		log.Error().Err(err).Msg("bus close failed")
	}
	log.Info().Msg("signal router stopped")
}

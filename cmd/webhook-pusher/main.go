// Command webhook-pusher runs the standalone webhook delivery consumer
// under its own consumer group (webhook_pusher_group, §4.1), independent
// of cmd/router's router_group, so a slow or failing webhook endpoint
// never backs up cex/hl routing.
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
	"github.com/chainsignal/fusion/internal/webhookpusher"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	log.Info().Str("env", cfg.Env).Msg("webhook pusher starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := bus.New(ctx, cfg.BusURL)
	if err != nil {
		log.Fatal().Err(err).Msg("bus connection failed")
	}

	notifyCfg := notify.DefaultConfig()
	notifyCfg.WebhookURL = cfg.WebhookURL
	notifyCfg.Timeout = cfg.NotifyTimeout
	notifyCfg.Retries = cfg.NotifyRetries
	notifier := notify.New(notifyCfg, log)

	pusherCfg := webhookpusher.DefaultConfig(cfg.NodeID)
	pusherCfg.NotifyMin = cfg.NotifyMin
	pusherCfg.BlockTimeout = cfg.BusBlockTimeout
	pusherCfg.ReclaimInterval = cfg.ReclaimInterval
	p := webhookpusher.New(b, notifier, pusherCfg, log)

	hb := heartbeat.New(b, log, cfg.NodeID, cfg.Version, cfg.HeartbeatInterval, cfg.HeartbeatTTL)
	hb.StatSource("delivered", p.Delivered.Get)
	hb.StatSource("skipped", p.Skipped.Get)
	hb.StatSource("notify_failed", notifier.Failed.Get)

	health := healthsrv.New(cfg.HealthAddr, "webhook-pusher", nil)
	healthErrs := health.Start()

	if err := p.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("webhook pusher start failed")
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
	p.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer shutdownCancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown failed")
	}

	if err := b.Close(); err != nil {
		log.Error().Err(err).Msg("bus close failed")
	}
	log.Info().Msg("webhook pusher stopped")
}

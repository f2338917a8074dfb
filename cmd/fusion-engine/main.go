// Command fusion-engine runs the Fusion Engine orchestrator (C6, spec
// §4.6): it consumes events:raw, normalizes/dedupes/aggregates, and
// flushes fused events to events:fused.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainsignal/fusion/internal/aggregator"
	"github.com/chainsignal/fusion/internal/bus"
	"github.com/chainsignal/fusion/internal/config"
	"github.com/chainsignal/fusion/internal/dedup"
	"github.com/chainsignal/fusion/internal/fusion"
	"github.com/chainsignal/fusion/internal/healthsrv"
	"github.com/chainsignal/fusion/internal/heartbeat"
	"github.com/chainsignal/fusion/internal/logger"
	"github.com/chainsignal/fusion/internal/normalize"
	"github.com/chainsignal/fusion/internal/scoring"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)
	log.Info().Str("env", cfg.Env).Msg("fusion engine starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := bus.New(ctx, cfg.BusURL)
	if err != nil {
		log.Fatal().Err(err).Msg("bus connection failed")
	}

	table := scoring.Default()
	table.MinScore = cfg.MinScore
	table.CEXRouteMin = cfg.CEXRouteMin
	table.HLRouteMin = cfg.HLRouteMin
	table.NotifyMin = cfg.NotifyMin
	table.SuperEventMinScore = cfg.SuperEventMinScore
	if err := table.LoadOverrides(cfg.ScoringConfigPath); err != nil {
		log.Fatal().Err(err).Msg("scoring config override failed")
	}

	agg := aggregator.New(b, table, aggregator.Config{
		DefaultWindowMs: cfg.DefaultWindowMs,
		TrustedWindowMs: cfg.TrustedWindowMs,
		TrustedSources:  cfg.TrustedSourceSet(),
		FirstSeenTTL:    cfg.FirstSeenTTL,
	})
	dedupF := dedup.New(cfg.DedupTTL)

	engCfg := fusion.DefaultConfig(cfg.NodeID)
	engCfg.FlushInterval = cfg.FlushInterval
	engCfg.ReclaimInterval = cfg.ReclaimInterval
	engCfg.BlockTimeout = cfg.BusBlockTimeout
	engCfg.DedupTTL = cfg.DedupTTL

	engine := fusion.New(b, agg, dedupF, normalize.DefaultOptions(), engCfg, log)

	hb := heartbeat.New(b, log, cfg.NodeID, cfg.Version, cfg.HeartbeatInterval, cfg.HeartbeatTTL)
	hb.StatSource("processed", engine.Processed.Get)
	hb.StatSource("rejected", engine.Rejected.Get)
	hb.StatSource("duplicate", engine.Duplicate.Get)
	hb.StatSource("published", engine.Published.Get)

	health := healthsrv.New(cfg.HealthAddr, "fusion-engine", nil)
	healthErrs := health.Start()

	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("engine start failed")
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
	flushed := engine.Stop()
	log.Info().Int("flushed_on_shutdown", len(flushed)).Msg("final flush complete")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer shutdownCancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown failed")
	}

	if err := b.Close(); err != nil {
		log.Error().Err(err).Msg("bus close failed")
	}
	log.Info().Msg("fusion engine stopped")
}

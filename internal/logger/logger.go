// Package logger builds the process-wide structured logger.
package logger

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/chainsignal/fusion/internal/config"
)

// New returns a configured zerolog.Logger: human-readable console output
// in development, level-gated JSON otherwise.
func New(cfg *config.Config) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if cfg.IsDevelopment() {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var log zerolog.Logger
	if cfg.IsDevelopment() {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return log.With().Str("node_id", cfg.NodeID).Logger()
}

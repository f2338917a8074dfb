// Package notify delivers NotifyPayload webhooks (§4.7, §6.4):
// a POST with bounded retries and exponential backoff (attempt <=
// Retries, BaseDelay*2^attempt), never blocking the router on delivery
// failure.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainsignal/fusion/internal/concurrency"
	"github.com/chainsignal/fusion/internal/model"
)

// Config controls webhook delivery (§5, §6.4).
type Config struct {
	WebhookURL string
	Timeout    time.Duration
	Retries    int
	BaseDelay  time.Duration
}

// DefaultConfig returns the default 10s timeout, 3 retries,
// 1s base backoff (1s, 2s, 4s).
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second, Retries: 3, BaseDelay: time.Second}
}

// Dispatcher posts NotifyPayload webhooks with retry-with-backoff.
// Delivery failure is recorded, never surfaced as a routing error
// (§7: notify_delivery_failed never blocks routing).
type Dispatcher struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger

	Delivered concurrency.AtomicCounter
	Failed    concurrency.AtomicCounter
}

// New builds a Dispatcher. logger should already carry node identity.
func New(cfg Config, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Send POSTs the payload, retrying up to cfg.Retries times with
// exponential backoff (1s, 2s, 4s...). It returns the last error seen,
// but callers must treat any returned error as non-fatal to routing.
func (d *Dispatcher) Send(ctx context.Context, payload model.NotifyPayload) error {
	if d.cfg.WebhookURL == "" {
		d.logger.Debug().Str("event_id", payload.EventID).Msg("webhook disabled, notify suppressed")
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal failed: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		if err := d.post(ctx, body); err != nil {
			lastErr = err
			d.logger.Warn().Err(err).Int("attempt", attempt+1).Str("event_id", payload.EventID).
				Msg("webhook delivery attempt failed")
			if attempt < d.cfg.Retries {
				select {
				case <-time.After(d.cfg.BaseDelay * time.Duration(1<<uint(attempt))):
				case <-ctx.Done():
					d.Failed.Inc()
					return ctx.Err()
				}
			}
			continue
		}
		d.Delivered.Inc()
		return nil
	}

	d.Failed.Inc()
	return fmt.Errorf("notify: all %d attempts failed: %w", d.cfg.Retries+1, lastErr)
}

func (d *Dispatcher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook HTTP %d", resp.StatusCode)
	}
	return nil
}

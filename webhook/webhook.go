// Package webhook delivers batch completion notifications over HTTP POST
// with bounded retries and exponential backoff.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// userAgent identifies webhook deliveries.
const userAgent = "harvest/0.1.0"

// Dispatcher posts webhook payloads with retry.
type Dispatcher struct {
	client   *http.Client
	timeout  time.Duration
	defaults config.WebhookConfig
}

// NewDispatcher creates a Dispatcher using the given per-attempt timeout and
// delivery defaults.
func NewDispatcher(defaults config.WebhookConfig) *Dispatcher {
	return &Dispatcher{
		client:   &http.Client{},
		timeout:  defaults.Timeout,
		defaults: defaults,
	}
}

// Send delivers the payload to cfg.URL, retrying up to maxAttempts times.
// Before attempt k (k >= 2) it sleeps backoffMs * 2^(k-2) plus up to 10%
// positive jitter. Any 2xx response counts as delivered; everything else is
// retried. The last failure is returned when all attempts are exhausted.
//
// Send never runs on a request path, so delivery latency only delays the
// notification, not any API response.
func (d *Dispatcher) Send(ctx context.Context, cfg *models.WebhookConfig, payload *models.WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = d.defaults.MaxAttempts
	}
	backoffMs := cfg.BackoffMs
	if backoffMs <= 0 {
		backoffMs = d.defaults.BackoffMs
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			base := time.Duration(backoffMs) * time.Millisecond << (attempt - 2)
			jitter := time.Duration(rand.Int63n(int64(base)/10 + 1))
			select {
			case <-time.After(base + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = d.post(ctx, cfg, body)
		if lastErr == nil {
			slog.Info("webhook delivered",
				"url", cfg.URL, "jobId", payload.JobID, "attempt", attempt)
			return nil
		}
		slog.Warn("webhook delivery failed",
			"url", cfg.URL, "jobId", payload.JobID, "attempt", attempt,
			"maxAttempts", maxAttempts, "error", lastErr)
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", maxAttempts, lastErr)
}

// post performs a single delivery attempt under the per-attempt timeout.
func (d *Dispatcher) post(ctx context.Context, cfg *models.WebhookConfig, body []byte) error {
	attemptCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if cfg.Secret != "" {
		req.Header.Set("X-Harvest-Signature", sign(cfg.Secret, body))
	}
	// Caller headers win over the defaults above.
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// sign computes the HMAC-SHA256 payload signature header value.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

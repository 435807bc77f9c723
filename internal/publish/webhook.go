/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package publish

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/catchup/internal/clock"
	"github.com/friendsincode/catchup/internal/telemetry"
	"github.com/friendsincode/catchup/internal/version"
)

// EventDeliver is the event name sent to webhook receivers.
const EventDeliver = "item.deliver"

// Webhook headers.
const (
	HeaderEvent     = "X-Catchup-Event"
	HeaderTimestamp = "X-Catchup-Timestamp"
	HeaderSignature = "X-Catchup-Signature"
)

// WebhookPayload is the body posted for each delivery.
type WebhookPayload struct {
	Event     string    `json:"event"`
	ItemID    string    `json:"item_id"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookConfig configures a WebhookPublisher.
type WebhookConfig struct {
	URL     string
	Secret  string // optional; enables the signature header
	Timeout time.Duration
	Clock   clock.Clock
}

// WebhookPublisher delivers items by calling an external endpoint. The
// receiver answers 409 for items it has already delivered.
type WebhookPublisher struct {
	url    string
	secret string
	clock  clock.Clock
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookPublisher creates a publisher posting to cfg.URL.
func NewWebhookPublisher(cfg WebhookConfig, logger zerolog.Logger) *WebhookPublisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &WebhookPublisher{
		url:    cfg.URL,
		secret: cfg.Secret,
		clock:  cfg.Clock,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "webhook_publisher").Logger(),
	}
}

// Deliver posts the item id to the webhook.
func (p *WebhookPublisher) Deliver(ctx context.Context, itemID string) error {
	now := p.clock.Now()
	body, err := json.Marshal(WebhookPayload{Event: EventDeliver, ItemID: itemID, Timestamp: now})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "catchup/"+version.Version)
	req.Header.Set(HeaderEvent, EventDeliver)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	if p.secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, p.secret))
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		telemetry.WebhookRequestDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	telemetry.WebhookRequestDuration.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		p.logger.Debug().Str("item_id", itemID).Int("status", resp.StatusCode).Msg("webhook delivered")
		return nil
	case resp.StatusCode == http.StatusConflict:
		p.logger.Debug().Str("item_id", itemID).Msg("webhook reports item already delivered")
		return nil
	default:
		p.logger.Warn().Str("item_id", itemID).Int("status", resp.StatusCode).Msg("webhook returned error status")
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

// Sign returns the signature header value for body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

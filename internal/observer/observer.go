// Package observer delivers ObserverEvents to the dashboard, a peripheral
// collaborator this core does not implement (spec.md §1). It only owns the
// narrow contract of §4.10/§6: publish on Redis pub/sub (so a WebSocket
// bridge can relay it) and, if configured, POST the same payload to a
// dashboard webhook URL — grounded in the teacher's
// internal/workspaces/redis_cache.go PublishInvalidation pattern.
package observer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wazero-automation/convo-core/internal/domain"
	"github.com/wazero-automation/convo-core/internal/logging"
	"github.com/wazero-automation/convo-core/internal/telemetry"
)

// Publisher is the subset of internal/distlock.RedisLock observer needs.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Observer emits ObserverEvents to whichever sinks are configured. Both
// sinks are best-effort: a dashboard outage must never fail the pipeline
// invocation that triggered the event.
type Observer struct {
	Pub        Publisher
	WebhookURL string
	HTTP       *http.Client
}

// New builds an Observer. pub may be nil (Redis disabled); webhookURL may be
// empty (no dashboard webhook configured).
func New(pub Publisher, webhookURL string) *Observer {
	return &Observer{Pub: pub, WebhookURL: webhookURL, HTTP: telemetry.InstrumentClient(&http.Client{Timeout: 5 * time.Second})}
}

// Emit delivers ev to every configured sink, logging (not returning) any
// delivery failure, per spec.md's "peripheral" classification of the
// dashboard. Delivery is synchronous: Emit returns once the Redis publish
// and the webhook POST (5s client timeout) have finished or failed.
func (o *Observer) Emit(ctx context.Context, ev domain.ObserverEvent) {
	logger := logging.FromContext(ctx)
	if o.Pub != nil {
		if err := o.Pub.Publish(ctx, ev); err != nil {
			logger.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("observer_publish_failed")
		}
	}
	if o.WebhookURL == "" {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		logger.Warn().Err(err).Msg("observer_marshal_failed")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.WebhookURL, bytes.NewReader(body))
	if err != nil {
		logger.Warn().Err(err).Msg("observer_webhook_request_build_failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.HTTP.Do(req)
	if err != nil {
		logger.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("observer_webhook_failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		logger.Warn().Int("status", resp.StatusCode).Str("event_type", string(ev.Type)).Msg("observer_webhook_non2xx")
	}
}

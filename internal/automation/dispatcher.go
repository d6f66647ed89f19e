package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"avatar-studio/internal/metrics"
	"avatar-studio/internal/repo"
)

// HookStore lists the automations subscribed to an influencer.
type HookStore interface {
	ListActiveWebhooks(ctx context.Context, influencerID, kind string) ([]repo.Webhook, error)
}

// DispatcherConfig tunes outbound delivery.
type DispatcherConfig struct {
	RetryMax int
	Timeout  time.Duration
}

// Delivery is the outcome of one POST.
type Delivery struct {
	WebhookID  string
	StatusCode int
	Err        error
}

// Dispatcher posts automation events to user-configured URLs.
type Dispatcher struct {
	store   HookStore
	http    *retryablehttp.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher builds a dispatcher with bounded retries.
func NewDispatcher(store HookStore, cfg DispatcherConfig, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	logger = logger.With("component", "automation")

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = logger
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}

	return &Dispatcher{
		store:   store,
		http:    client,
		logger:  logger,
		metrics: m,
	}
}

// VideoCompleted notifies every active video.completed automation linked to
// the influencer. Delivery failures are logged and reported, never returned.
func (d *Dispatcher) VideoCompleted(ctx context.Context, content repo.Content, influencer repo.Influencer) []Delivery {
	hooks, err := d.store.ListActiveWebhooks(ctx, influencer.ID, repo.WebhookVideoCompleted)
	if err != nil {
		d.logger.Error("list automations failed", "influencer_id", influencer.ID, "error", err)
		d.metrics.Error("automation")
		return nil
	}
	if len(hooks) == 0 {
		return nil
	}

	body, err := json.Marshal(BuildPayload(content, influencer))
	if err != nil {
		d.logger.Error("encode automation payload", "content_id", content.ID, "error", err)
		return nil
	}

	deliveries := make([]Delivery, 0, len(hooks))
	for _, hook := range hooks {
		status, err := d.post(ctx, hook.URL, body)
		deliveries = append(deliveries, Delivery{WebhookID: hook.ID, StatusCode: status, Err: err})
		if err != nil {
			d.metrics.Delivery(EventVideoCompleted, "failed")
			d.logger.Warn("automation delivery failed", "webhook_id", hook.ID, "content_id", content.ID, "error", err)
			continue
		}
		d.metrics.Delivery(EventVideoCompleted, "delivered")
		d.logger.Info("automation delivered", "webhook_id", hook.ID, "content_id", content.ID, "status", status)
	}
	return deliveries
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "avatar-studio/automation")

	res, err := d.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post automation: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return res.StatusCode, fmt.Errorf("automation responded with status %d", res.StatusCode)
	}
	return res.StatusCode, nil
}

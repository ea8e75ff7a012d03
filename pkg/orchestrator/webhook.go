package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gdnd-project/gdnd/pkg/retry"
)

// WebhookConfig points at an external HTTP endpoint that performs the
// actual cordon/taint/evict actions on the agent's behalf, for clusters
// where the orchestrator API isn't directly reachable from the node.
type WebhookConfig struct {
	// BaseURL is posted to as BaseURL + "/actions". No trailing slash.
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
}

// WebhookEvent is the JSON body posted for every action.
type WebhookEvent struct {
	Action    string `json:"action"`
	Node      string `json:"node"`
	Key       string `json:"key,omitempty"`
	Value     string `json:"value,omitempty"`
	Effect    string `json:"effect,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Webhook implements Adapter by POSTing WebhookEvents to a configured URL
// and trusting the remote side to apply them idempotently.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhook returns a Webhook adapter. cfg.Timeout defaults to 10s.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Webhook{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Cordon(ctx context.Context, nodeName, reason string) error {
	return w.post(ctx, WebhookEvent{Action: "cordon", Node: nodeName, Reason: reason})
}

func (w *Webhook) Uncordon(ctx context.Context, nodeName string) error {
	return w.post(ctx, WebhookEvent{Action: "uncordon", Node: nodeName})
}

func (w *Webhook) AddTaint(ctx context.Context, nodeName, key, value string, effect TaintEffect) error {
	return w.post(ctx, WebhookEvent{Action: "add_taint", Node: nodeName, Key: key, Value: value, Effect: string(effect)})
}

func (w *Webhook) RemoveTaint(ctx context.Context, nodeName, key string) error {
	return w.post(ctx, WebhookEvent{Action: "remove_taint", Node: nodeName, Key: key})
}

func (w *Webhook) EvictPods(ctx context.Context, nodeName string, predicate PodPredicate) (EvictionResult, error) {
	if err := w.post(ctx, WebhookEvent{Action: "evict_pods", Node: nodeName, Reason: predicate.SystemNamespace}); err != nil {
		return EvictionResult{}, err
	}
	return EvictionResult{}, nil
}

func (w *Webhook) post(ctx context.Context, event WebhookEvent) error {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	url := w.cfg.BaseURL + "/actions"

	return retry.Do(ctx, retry.NetworkConfig(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range w.cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook request to %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("webhook %s returned %d: %s", event.Action, resp.StatusCode, string(b))
		}
		return nil
	})
}

package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hollowport/hollowport/internal/config"
)

type WebhookProvider struct {
	config *config.WebhookConfig
	client *http.Client
}

func NewWebhookProvider(cfg *config.WebhookConfig) *WebhookProvider {
	return &WebhookProvider{
		config: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

func (wp *WebhookProvider) Name() string {
	return "webhook"
}

func (wp *WebhookProvider) IsEnabled() bool {
	return wp.config.Enabled && len(wp.config.Endpoints) > 0
}

// Send posts the alert payload to every configured endpoint. One failing
// endpoint does not stop the others.
func (wp *WebhookProvider) Send(payload *Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for _, endpoint := range wp.config.Endpoints {
		if err := wp.post(endpoint, body); err != nil {
			lastErr = fmt.Errorf("webhook %s: %w", endpoint, err)
		}
	}
	return lastErr
}

func (wp *WebhookProvider) post(endpoint string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Hollowport-Webhook/1.0")
	if wp.config.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+wp.config.BearerToken)
	}

	resp, err := wp.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

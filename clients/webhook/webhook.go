package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"whalewatch/clients/notifier"
	"whalewatch/config"
)

// WebhookClient POSTs each alert as JSON to a user supplied URL.
// Implements notifier.Notifier interface.
type WebhookClient struct {
	logger     *zap.Logger
	httpClient *http.Client
	url        string
}

// NewWebhookClient returns nil when no URL is configured, which
// notifier.NewMultiNotifier filters out.
func NewWebhookClient(logger *zap.Logger, cfg *config.Config) *WebhookClient {
	if cfg.Webhook.URL == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Webhook.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	logger.Info("webhook alerts enabled", zap.Duration("timeout", timeout))

	return &WebhookClient{
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		url:        cfg.Webhook.URL,
	}
}

func (w *WebhookClient) SendWhaleAlert(alert notifier.WhaleAlert) {
	if err := w.Post(context.Background(), alert); err != nil {
		w.logger.Warn("webhook delivery failed", zap.Error(err))
	}
}

// Post delivers one alert and reports non-2xx responses as errors.
func (w *WebhookClient) Post(ctx context.Context, alert notifier.WhaleAlert) error {
	body, err := json.Marshal(notifier.BuildPayload(alert, true))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("webhook status=%d", resp.StatusCode)
	}
	return nil
}

func (w *WebhookClient) Close() error {
	w.httpClient.CloseIdleConnections()
	return nil
}

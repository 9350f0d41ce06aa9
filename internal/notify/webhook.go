package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"paygate/internal/config"
	"paygate/internal/domain"

	"github.com/charmbracelet/log"
)

// Notifier announces devices that no site had blocked before.
type Notifier interface {
	NotifyNewDevices(ctx context.Context, devices []domain.NewDeviceNotice) error
}

// WebhookNotifier posts the notice list as a JSON array to the configured webhook.
// Settings are read at call time so runtime updates apply to the next run.
type WebhookNotifier struct {
	client *http.Client
	// url overrides settings when set.
	url string

	missingURLWarning sync.Once
}

type WebhookOption func(*WebhookNotifier)

func WithWebhookURL(url string) WebhookOption {
	return func(n *WebhookNotifier) {
		n.url = strings.TrimSpace(url)
	}
}

func WithHTTPClient(c *http.Client) WebhookOption {
	return func(n *WebhookNotifier) {
		if c != nil {
			n.client = c
		}
	}
}

func NewWebhookNotifier(opts ...WebhookOption) *WebhookNotifier {
	n := &WebhookNotifier{
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *WebhookNotifier) NotifyNewDevices(ctx context.Context, devices []domain.NewDeviceNotice) error {
	if len(devices) == 0 {
		return nil
	}

	cfg := config.GetConfig()
	if !cfg.Notification.Enabled {
		log.Debug("New device notification disabled", "devices", len(devices))
		return nil
	}

	target := n.url
	if target == "" {
		target = cfg.Notification.WebhookURL
	}
	if target == "" {
		// Nothing was attempted, so the run's notification is not a failure.
		n.missingURLWarning.Do(func() {
			log.Warn("notification.webhook_url is empty; new devices are not announced")
		})
		return nil
	}

	payload, err := json.Marshal(devices)
	if err != nil {
		return fmt.Errorf("encode new device notice: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, config.NotificationTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification webhook %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	log.Info("Announced new blocked devices", "devices", len(devices))
	return nil
}

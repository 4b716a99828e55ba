package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// WebhookNotifier posts messages as JSON. With an empty URL the destination
// itself is used as the endpoint, which suits the "webhook" alert method.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Destination string  `json:"destination"`
	Message     Message `json:"message"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, destination string, msg Message) bool {
	target := w.url
	if target == "" {
		target = destination
	}
	if err := w.post(ctx, target, webhookPayload{Destination: destination, Message: msg}); err != nil {
		zap.L().Warn("notify: webhook delivery failed",
			zap.String("notification_id", msg.NotificationID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (w *WebhookNotifier) post(ctx context.Context, target string, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "notify: marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

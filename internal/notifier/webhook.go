package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wootoff-monitor/internal/types"
)

// WebhookPayload is the JSON body posted for each event. Text makes the
// payload readable by chat webhooks that only look at that field.
type WebhookPayload struct {
	Text  string      `json:"text"`
	Event types.Event `json:"event"`
}

// Webhook POSTs events as JSON to a fixed URL
type Webhook struct {
	url  string
	http *resty.Client
}

func NewWebhook(url string, headers map[string]string, timeout time.Duration) *Webhook {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("User-Agent", "wootoff-monitor")
	client.SetHeaders(headers)

	return &Webhook{url: url, http: client}
}

func (w *Webhook) Notify(ctx context.Context, event types.Event) error {
	res, err := w.http.R().
		SetContext(ctx).
		SetBody(WebhookPayload{Text: event.Summary(), Event: event}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("webhook returned HTTP %d", res.StatusCode())
	}
	return nil
}

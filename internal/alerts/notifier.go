package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wheelops/wheel-engine/internal/observ"
)

// Alert is the payload handed to the notification sink. Delivery mechanics
// (email, SMS, push) live behind the sink; the engine only emits.
type Alert struct {
	Priority       string    `json:"priority"` // critical | important | info
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	ActionRequired string    `json:"action_required,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type Notifier interface {
	Send(a Alert) error
}

// Console logs alerts as structured events; the default sink.
type Console struct{}

func (Console) Send(a Alert) error {
	observ.IncCounter("alerts_sent_total", map[string]string{"priority": a.Priority, "sink": "console"})
	observ.Log("alert", map[string]any{
		"priority":        a.Priority,
		"title":           a.Title,
		"message":         a.Message,
		"action_required": a.ActionRequired,
	})
	return nil
}

// Webhook posts alerts to an external endpoint with bounded retries.
type Webhook struct {
	URL        string
	HTTPClient *http.Client
	MaxRetries int
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		MaxRetries: 3,
	}
}

func (w *Webhook) Send(a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt <= w.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt*attempt) * 100 * time.Millisecond)
		}
		resp, err := w.HTTPClient.Post(w.URL, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			observ.IncCounter("alerts_sent_total", map[string]string{"priority": a.Priority, "sink": "webhook"})
			return nil
		}
		lastErr = fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	observ.IncCounter("alert_webhook_errors_total", nil)
	return lastErr
}

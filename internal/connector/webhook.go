// Package connector pushes bridge events to outside services.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viabridge-project/viabridge/internal/config"
	"github.com/viabridge-project/viabridge/internal/events"
)

// Embed colours by level.
const (
	colorError   = 0xFF0000
	colorWarning = 0xFFAA00
	colorInfo    = 0x00FF00
)

const webhookFooter = "viabridge"

// Notification is one message posted to the webhook.
type Notification struct {
	Title   string
	Message string
	Level   string
}

// WebhookNotifier posts proxy exits, health warnings and, optionally, failed
// joins to a Discord webhook.
type WebhookNotifier struct {
	cfg    config.NotifyConfig
	client *http.Client
	now    func() time.Time

	mu         sync.Mutex
	lastHealth string
}

// NewWebhookNotifier creates a notifier. It does nothing until Attach is called.
func NewWebhookNotifier(cfg config.NotifyConfig, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{cfg: cfg, client: client, now: time.Now}
}

// Attach subscribes the notifier to the bus. A notifier without a webhook URL
// stays detached.
func (n *WebhookNotifier) Attach(bus *events.Bus) bool {
	if n.cfg.WebhookURL == "" {
		return false
	}
	bus.Subscribe(events.EventProxyExited, "webhook.notify", n.onEvent)
	bus.Subscribe(events.EventHealthReport, "webhook.notify", n.onEvent)
	if n.cfg.NotifyJoinFailures {
		bus.Subscribe(events.EventJoinResult, "webhook.notify", n.onEvent)
	}
	return true
}

// NotificationFor turns an event into a notification, or returns false when
// the event is not worth reporting.
func NotificationFor(e events.Event) (Notification, bool) {
	switch p := e.Payload.(type) {
	case events.ProxyExitedPayload:
		return Notification{
			Title:   "Proxy exited",
			Message: fmt.Sprintf("ViaProxy (pid %d) exited with code %d", p.PID, p.ExitCode),
			Level:   "error",
		}, true
	case events.HealthPayload:
		if len(p.Warnings) == 0 {
			return Notification{}, false
		}
		return Notification{
			Title:   "Health warning",
			Message: strings.Join(p.Warnings, "\n"),
			Level:   "warning",
		}, true
	case events.JoinResultPayload:
		if p.Success {
			return Notification{}, false
		}
		msg := fmt.Sprintf("Join for %s on connection %s failed after %d attempt(s)",
			p.Account, p.Connection, p.Attempts)
		if p.Error != "" {
			msg += ": " + p.Error
		}
		return Notification{Title: "Join failed", Message: msg, Level: "warning"}, true
	}
	return Notification{}, false
}

func (n *WebhookNotifier) onEvent(ctx context.Context, e events.Event) error {
	if p, ok := e.Payload.(events.HealthPayload); ok && !n.healthChanged(p) {
		return nil
	}
	note, ok := NotificationFor(e)
	if !ok {
		return nil
	}
	return n.Send(ctx, note)
}

// healthChanged reports whether the warnings differ from the last report, so
// a standing warning is posted once.
func (n *WebhookNotifier) healthChanged(p events.HealthPayload) bool {
	key := strings.Join(p.Warnings, "\n")
	n.mu.Lock()
	defer n.mu.Unlock()
	if key == n.lastHealth {
		return false
	}
	n.lastHealth = key
	return true
}

// Send posts a single embed to the webhook.
func (n *WebhookNotifier) Send(ctx context.Context, note Notification) error {
	var color int
	switch note.Level {
	case "error":
		color = colorError
	case "warning":
		color = colorWarning
	default:
		color = colorInfo
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       note.Title,
				"description": note.Message,
				"color":       color,
				"timestamp":   n.now().Format(time.RFC3339),
				"footer": map[string]string{
					"text": webhookFooter,
				},
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	log.Debug().Str("title", note.Title).Msg("webhook notification sent")
	return nil
}

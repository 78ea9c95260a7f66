package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viabridge-project/viabridge/internal/config"
	"github.com/viabridge-project/viabridge/internal/events"
)

type webhookBody struct {
	Embeds []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Color       int    `json:"color"`
		Timestamp   string `json:"timestamp"`
	} `json:"embeds"`
}

func newWebhookServer(t *testing.T, status int) (*httptest.Server, chan webhookBody) {
	t.Helper()
	bodies := make(chan webhookBody, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body webhookBody
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			bodies <- body
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, bodies
}

func TestNotificationFor(t *testing.T) {
	note, ok := NotificationFor(events.Event{Payload: events.ProxyExitedPayload{PID: 7, ExitCode: 1}})
	require.True(t, ok)
	require.Equal(t, "error", note.Level)
	require.Contains(t, note.Message, "exited with code 1")

	_, ok = NotificationFor(events.Event{Payload: events.HealthPayload{ProxyRunning: true}})
	require.False(t, ok)

	note, ok = NotificationFor(events.Event{Payload: events.HealthPayload{Warnings: []string{"a", "b"}}})
	require.True(t, ok)
	require.Equal(t, "a\nb", note.Message)

	_, ok = NotificationFor(events.Event{Payload: events.JoinResultPayload{Success: true}})
	require.False(t, ok)

	note, ok = NotificationFor(events.Event{Payload: events.JoinResultPayload{
		Account: "steve", Connection: "c1", Attempts: 2, Error: "invalid session",
	}})
	require.True(t, ok)
	require.Contains(t, note.Message, "steve")
	require.Contains(t, note.Message, "invalid session")

	_, ok = NotificationFor(events.Event{Payload: "other"})
	require.False(t, ok)
}

func TestSendPostsEmbed(t *testing.T) {
	srv, bodies := newWebhookServer(t, http.StatusNoContent)
	n := NewWebhookNotifier(config.NotifyConfig{WebhookURL: srv.URL}, srv.Client())
	n.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, n.Send(context.Background(), Notification{Title: "t", Message: "m", Level: "warning"}))

	body := <-bodies
	require.Len(t, body.Embeds, 1)
	require.Equal(t, "t", body.Embeds[0].Title)
	require.Equal(t, "m", body.Embeds[0].Description)
	require.Equal(t, colorWarning, body.Embeds[0].Color)
	require.Equal(t, "2024-01-02T03:04:05Z", body.Embeds[0].Timestamp)
}

func TestSendReportsStatus(t *testing.T) {
	srv, _ := newWebhookServer(t, http.StatusBadRequest)
	n := NewWebhookNotifier(config.NotifyConfig{WebhookURL: srv.URL}, srv.Client())

	err := n.Send(context.Background(), Notification{Title: "t"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "400")
}

func TestStandingHealthWarningPostedOnce(t *testing.T) {
	srv, bodies := newWebhookServer(t, http.StatusNoContent)
	n := NewWebhookNotifier(config.NotifyConfig{WebhookURL: srv.URL}, srv.Client())

	report := events.Event{Type: events.EventHealthReport, Payload: events.HealthPayload{Warnings: []string{"disk 95% full"}}}
	require.NoError(t, n.onEvent(context.Background(), report))
	require.NoError(t, n.onEvent(context.Background(), report))
	require.NoError(t, n.onEvent(context.Background(), events.Event{Payload: events.HealthPayload{}}))
	require.NoError(t, n.onEvent(context.Background(), report))

	require.Len(t, bodies, 2)
}

func TestAttach(t *testing.T) {
	bus := events.NewBus()
	defer bus.Stop()

	require.False(t, NewWebhookNotifier(config.NotifyConfig{}, nil).Attach(bus))

	srv, bodies := newWebhookServer(t, http.StatusNoContent)
	n := NewWebhookNotifier(config.NotifyConfig{WebhookURL: srv.URL}, srv.Client())
	require.True(t, n.Attach(bus))

	// Join failures are not subscribed unless asked for.
	bus.Emit(context.Background(), events.Event{Type: events.EventJoinResult, Payload: events.JoinResultPayload{}})
	bus.Emit(context.Background(), events.Event{Type: events.EventProxyExited, Payload: events.ProxyExitedPayload{PID: 1, ExitCode: 3}})

	select {
	case body := <-bodies:
		require.Equal(t, "Proxy exited", body.Embeds[0].Title)
	case <-time.After(2 * time.Second):
		t.Fatal("no webhook request")
	}
	bus.Stop()
	require.Empty(t, bodies)
}

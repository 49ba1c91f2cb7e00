package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// ErrNotConfigured is returned by a notifier that has no route for a service.
var ErrNotConfigured = errors.New("dispatch: notifier not configured for service")

// Notifier delivers an emergency alert to one service.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, service models.EmergencyService, a models.Alert) error
}

type alertPayload struct {
	AlertID   string                  `json:"alert_id"`
	Service   models.EmergencyService `json:"service"`
	Subject   string                  `json:"subject"`
	Message   string                  `json:"message"`
	Location  models.Coord            `json:"location"`
	CreatedAt time.Time               `json:"created_at"`
}

func newAlertPayload(service models.EmergencyService, a models.Alert) alertPayload {
	return alertPayload{
		AlertID:   a.ID,
		Service:   service,
		Subject:   alertSubject,
		Message:   a.Message,
		Location:  a.Location,
		CreatedAt: a.CreatedAt,
	}
}

// LogNotifier only logs alerts. It is the fallback when nothing else is
// configured so local runs still show what would have been sent.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Name() string { return "log" }

func (l LogNotifier) Notify(_ context.Context, service models.EmergencyService, a models.Alert) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("emergency alert", "alert_id", a.ID, "service", string(service), "location", a.Location.String(), "message", a.Message)
	return nil
}

// WebhookNotifier posts the alert as JSON to a per-service endpoint.
type WebhookNotifier struct {
	Endpoints map[models.EmergencyService]string
	Client    *http.Client
}

func NewWebhookNotifier(endpoints map[models.EmergencyService]string) *WebhookNotifier {
	return &WebhookNotifier{Endpoints: endpoints, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Notify(ctx context.Context, service models.EmergencyService, a models.Alert) error {
	endpoint := w.Endpoints[service]
	if endpoint == "" {
		return ErrNotConfigured
	}
	b, err := json.Marshal(newAlertPayload(service, a))
	if err != nil {
		return err
	}
	return postJSON(ctx, w.Client, endpoint, "", b)
}

func postJSON(ctx context.Context, client *http.Client, endpoint, bearer string, body []byte) error {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	return nil
}

package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// FCMNotifier posts alerts to an FCM HTTP v1 endpoint, one topic per service.
type FCMNotifier struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMNotifier(endpoint, key string) *FCMNotifier {
	return &FCMNotifier{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMNotifier) Name() string { return "fcm" }

func (f *FCMNotifier) Notify(ctx context.Context, service models.EmergencyService, a models.Alert) error {
	if f.Endpoint == "" {
		return ErrNotConfigured
	}
	body := map[string]any{
		"message": map[string]any{
			"topic": "emergency-" + string(service),
			"notification": map[string]string{
				"title": alertSubject,
				"body":  a.Message,
			},
			"data": map[string]string{
				"alert_id": a.ID,
				"service":  string(service),
				"lat":      formatFloat(a.Location.Lat),
				"lon":      formatFloat(a.Location.Lon),
			},
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return postJSON(ctx, f.Client, f.Endpoint, f.Key, b)
}

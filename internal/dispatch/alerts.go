package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
)

const alertSubject = "Emergency Alert"

var (
	ErrNoServices      = errors.New("dispatch: select at least one emergency service")
	ErrUnknownService  = errors.New("dispatch: unknown emergency service")
	ErrInvalidLocation = errors.New("dispatch: alert location missing or invalid")
	ErrDeliveryFailed  = errors.New("dispatch: alert could not be delivered to any service")
)

type AlertRequest struct {
	Services []models.EmergencyService `json:"services"`
	Location *models.Coord             `json:"location"`
	Message  string                    `json:"message,omitempty"`
}

// Delivery is the outcome of notifying one service.
type Delivery struct {
	Service models.EmergencyService `json:"service"`
	Status  string                  `json:"status"`
	Via     []string                `json:"via,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

type AlertResult struct {
	Alert      models.Alert `json:"alert"`
	Deliveries []Delivery   `json:"deliveries"`
}

// AlertService fans an emergency alert out to the selected services through
// every configured notifier. A service counts as reached when at least one
// notifier delivered to it.
type AlertService struct {
	Notifiers []Notifier
	Logger    *slog.Logger
	Now       func() time.Time
}

func (s *AlertService) Send(ctx context.Context, req AlertRequest) (AlertResult, error) {
	services, err := validateAlert(req)
	if err != nil {
		return AlertResult{}, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := models.Alert{
		ID:        uuid.NewString(),
		Services:  services,
		Location:  *req.Location,
		Message:   req.Message,
		CreatedAt: now().UTC(),
	}
	if a.Message == "" {
		a.Message = defaultAlertMessage(a.Location)
	}

	res := AlertResult{Alert: a}
	reached := 0
	for _, svc := range services {
		d := Delivery{Service: svc}
		var errs []error
		for _, n := range s.Notifiers {
			err := n.Notify(ctx, svc, a)
			switch {
			case err == nil:
				d.Via = append(d.Via, n.Name())
			case errors.Is(err, ErrNotConfigured):
			default:
				errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
				logger.Warn("alert notifier failed", "alert_id", a.ID, "service", string(svc), "notifier", n.Name(), "error", err)
			}
		}
		if len(d.Via) > 0 {
			d.Status = "sent"
			reached++
		} else {
			d.Status = "failed"
			if len(errs) == 0 {
				errs = append(errs, ErrNotConfigured)
			}
			d.Error = errors.Join(errs...).Error()
		}
		observability.AlertsSentTotal.WithLabelValues(string(svc), d.Status).Inc()
		res.Deliveries = append(res.Deliveries, d)
	}
	logger.Info("emergency alert sent", "alert_id", a.ID, "services", len(services), "reached", reached)
	if reached == 0 {
		return res, ErrDeliveryFailed
	}
	return res, nil
}

// validateAlert returns the requested services without duplicates.
func validateAlert(req AlertRequest) ([]models.EmergencyService, error) {
	if len(req.Services) == 0 {
		return nil, ErrNoServices
	}
	if req.Location == nil || !req.Location.Valid() {
		return nil, ErrInvalidLocation
	}
	seen := make(map[models.EmergencyService]bool, len(req.Services))
	out := make([]models.EmergencyService, 0, len(req.Services))
	for _, svc := range req.Services {
		if !svc.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownService, svc)
		}
		if seen[svc] {
			continue
		}
		seen[svc] = true
		out = append(out, svc)
	}
	return out, nil
}

func defaultAlertMessage(at models.Coord) string {
	return "HELP! Emergency at Location:\nLatitude: " + formatFloat(at.Lat) + ",\nLongitude: " + formatFloat(at.Lon)
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', 6, 64) }

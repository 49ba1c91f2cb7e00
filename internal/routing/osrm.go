package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint    string
	Profile     string
	Client      *http.Client
	MaxAttempts int
	Backoff     time.Duration
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{
		Endpoint:    strings.TrimRight(endpoint, "/"),
		Profile:     "driving",
		Client:      &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: 3,
		Backoff:     200 * time.Millisecond,
	}
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("osrm status %d: %s", e.Code, e.Body)
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
		Geometry struct {
			Type        string       `json:"type"`
			Coordinates [][2]float64 `json:"coordinates"` // [lon, lat]
		} `json:"geometry"`
	} `json:"routes"`
}

// Route queries /route/v1/{profile} with full GeoJSON geometry.
func (o *OSRMClient) Route(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
	url := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.Endpoint, o.profile(), from.Lon, from.Lat, to.Lon, to.Lat)

	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("osrm route: %w", err)
	}
	defer resp.Body.Close()

	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("osrm decode: %w", err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return nil, fmt.Errorf("%w: osrm code=%s %s", ErrNoRoute, out.Code, out.Message)
	}
	coords := out.Routes[0].Geometry.Coordinates
	route := make([]models.Coord, 0, len(coords))
	for _, c := range coords {
		route = append(route, models.Coord{Lat: c[1], Lon: c[0]})
	}
	if err := Validate(route); err != nil {
		return nil, err
	}
	return route, nil
}

func (o *OSRMClient) profile() string {
	if o.Profile == "" {
		return "driving"
	}
	return o.Profile
}

func (o *OSRMClient) do(req *http.Request) (*http.Response, error) {
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, err
	}
	// OSRM answers NoRoute with 400 and a JSON body; let the decoder handle it
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusBadRequest {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries transient failures (network errors, 429 and 5xx)
// with exponential backoff while respecting context cancellation.
func (o *OSRMClient) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	attempts := o.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := o.Backoff

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}

		resp, err := o.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case 429, 500, 502, 503, 504:
				retry = true
			}
		}
		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}
		if !retry || attempt == attempts || ctx.Err() != nil {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}

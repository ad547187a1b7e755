package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kjstillabower/weather-by-location/internal/models"
	"github.com/kjstillabower/weather-by-location/internal/observability"
)

// Locator geolocates the caller by its public IP.
type Locator interface {
	// Locate returns the location of the caller's public IP, including that IP.
	Locate(ctx context.Context) (models.LocationData, error)
	// CurrentIP returns the caller's public IP.
	CurrentIP(ctx context.Context) (string, error)
}

// ErrLookupFailed is returned when the geolocation service answers but cannot
// place the address (private range, reserved, quota exceeded).
var ErrLookupFailed = errors.New("geolocation lookup failed")

// GeoIPClient talks to an ip-api.com compatible geolocation endpoint and an
// ipify compatible public IP echo endpoint.
type GeoIPClient struct {
	locateURL string
	ipURL     string
	client    *http.Client
}

// NewGeoIPClient returns a client for the given endpoints. timeout bounds each request.
func NewGeoIPClient(locateURL, ipURL string, timeout time.Duration) *GeoIPClient {
	return &GeoIPClient{
		locateURL: locateURL,
		ipURL:     ipURL,
		client:    &http.Client{Timeout: timeout},
	}
}

type ipAPIResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	Region      string  `json:"region"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	Query       string  `json:"query"`
}

type ipEchoResponse struct {
	IP string `json:"ip"`
}

// Locate implements Locator.
func (c *GeoIPClient) Locate(ctx context.Context) (models.LocationData, error) {
	var body ipAPIResponse
	if err := c.getJSON(ctx, "locate", c.locateURL, &body); err != nil {
		return models.LocationData{}, err
	}
	if body.Status != "success" {
		observability.GeolocationCallsTotal.WithLabelValues("locate", "lookup_failed").Inc()
		msg := body.Message
		if msg == "" {
			msg = "status " + body.Status
		}
		return models.LocationData{}, fmt.Errorf("%w: %s", ErrLookupFailed, msg)
	}
	return models.LocationData{
		Latitude:    body.Latitude,
		Longitude:   body.Longitude,
		City:        body.City,
		Region:      body.RegionName,
		CountryCode: body.CountryCode,
		SourceIP:    body.Query,
	}, nil
}

// CurrentIP implements Locator.
func (c *GeoIPClient) CurrentIP(ctx context.Context) (string, error) {
	var body ipEchoResponse
	if err := c.getJSON(ctx, "public_ip", c.ipURL, &body); err != nil {
		return "", err
	}
	ip := strings.TrimSpace(body.IP)
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("%w: public IP %q is not an address", ErrInvalidResponse, body.IP)
	}
	return ip, nil
}

func (c *GeoIPClient) getJSON(ctx context.Context, endpoint, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		observability.GeolocationCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		observability.GeolocationCallsTotal.WithLabelValues(endpoint, "error").Inc()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	observability.GeolocationCallsTotal.WithLabelValues(endpoint, statusLabel(resp.StatusCode)).Inc()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrInvalidResponse, err)
	}
	return nil
}

package client

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-by-location/internal/models"
)

// RateLimitedLocator wraps a Locator so Locate calls respect the geolocation
// provider's quota. CurrentIP goes to a different service and is not limited.
type RateLimitedLocator struct {
	locator Locator
	limiter *rate.Limiter
}

// NewRateLimitedLocator allows perMinute Locate calls per minute with the given burst.
func NewRateLimitedLocator(locator Locator, perMinute, burst int) *RateLimitedLocator {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedLocator{
		locator: locator,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
	}
}

// Locate waits for limiter permission or context cancellation, then forwards.
func (r *RateLimitedLocator) Locate(ctx context.Context) (models.LocationData, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return models.LocationData{}, fmt.Errorf("rate limit wait canceled: %w", err)
	}
	return r.locator.Locate(ctx)
}

// CurrentIP forwards to the wrapped locator.
func (r *RateLimitedLocator) CurrentIP(ctx context.Context) (string, error) {
	return r.locator.CurrentIP(ctx)
}

var (
	_ Locator       = (*GeoIPClient)(nil)
	_ Locator       = (*RateLimitedLocator)(nil)
	_ WeatherClient = (*OpenMeteoClient)(nil)
)

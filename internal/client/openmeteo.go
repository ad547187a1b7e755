package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-by-location/internal/models"
	"github.com/kjstillabower/weather-by-location/internal/observability"
)

// WeatherClient fetches the current WMO weather code for a coordinate.
type WeatherClient interface {
	CurrentWeatherCode(ctx context.Context, lat, lon float64) (models.WeatherCode, error)
}

var (
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrBadRequest      = errors.New("bad request")
	ErrInvalidResponse = errors.New("invalid response")
	ErrCircuitOpen     = errors.New("circuit breaker open")
)

// OpenMeteoClient queries the Open-Meteo forecast API for current conditions.
type OpenMeteoClient struct {
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

func NewOpenMeteoClient(apiURL string, timeout time.Duration) (*OpenMeteoClient, error) {
	return NewOpenMeteoClientWithRetry(apiURL, timeout, 3, 250*time.Millisecond, 5*time.Second)
}

func NewOpenMeteoClientWithRetry(apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenMeteoClient, error) {
	u, err := url.Parse(apiURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid weather API URL %q", apiURL)
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &OpenMeteoClient{
		apiURL:         apiURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker routes every API call through cb. Open-state rejections
// are returned as ErrCircuitOpen and are not retried.
func (c *OpenMeteoClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

// NewCircuitBreaker builds a breaker that opens after failureThreshold
// consecutive failures and probes again after timeout.
func NewCircuitBreaker(name string, failureThreshold int, timeout time.Duration, onStateChange func(from, to gobreaker.State)) *gobreaker.CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if onStateChange != nil {
				onStateChange(from, to)
			}
		},
	})
}

type openMeteoResponse struct {
	CurrentWeather *struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
		WeatherCode *int    `json:"weathercode"`
		Time        string  `json:"time"`
	} `json:"current_weather"`
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// CurrentWeatherCode returns the current weather code at (lat, lon), retrying
// rate limits, 5xx responses and timeouts with exponential backoff.
func (c *OpenMeteoClient) CurrentWeatherCode(ctx context.Context, lat, lon float64) (models.WeatherCode, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
		}

		code, err := c.call(ctx, lat, lon)
		if err == nil {
			return code, nil
		}

		lastErr = err
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		if ctx.Err() != nil || !c.isRetryable(err) {
			return 0, err
		}
	}

	return 0, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenMeteoClient) call(ctx context.Context, lat, lon float64) (models.WeatherCode, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, lat, lon)
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callAPI(ctx, lat, lon)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return 0, err
	}
	code, ok := result.(models.WeatherCode)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return code, nil
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, lat, lon float64) (models.WeatherCode, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, lat, lon)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return 0, fmt.Errorf("request timeout: %w", err)
		}
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response body: %w", err)
	}

	if err := c.handleErrorResponse(resp.StatusCode, body); err != nil {
		return 0, err
	}

	var apiResp openMeteoResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return 0, fmt.Errorf("%w: parse response: %v", ErrInvalidResponse, err)
	}
	if apiResp.CurrentWeather == nil || apiResp.CurrentWeather.WeatherCode == nil {
		return 0, fmt.Errorf("%w: current_weather.weathercode missing", ErrInvalidResponse)
	}

	return models.WeatherCode(*apiResp.CurrentWeather.WeatherCode), nil
}

func (c *OpenMeteoClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, lat, lon float64) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	params.Set("current_weather", "true")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *OpenMeteoClient) handleErrorResponse(statusCode int, body []byte) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case statusCode == http.StatusBadRequest:
		var apiErr openMeteoResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Reason != "" {
			return fmt.Errorf("%w: %s", ErrBadRequest, apiErr.Reason)
		}
		return fmt.Errorf("%w: HTTP %d", ErrBadRequest, statusCode)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	case statusCode < 200 || statusCode >= 300:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	}
	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func newTestOpenMeteo(t *testing.T, url string, attempts int) *OpenMeteoClient {
	t.Helper()
	c, err := NewOpenMeteoClientWithRetry(url, 2*time.Second, attempts, time.Millisecond, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("NewOpenMeteoClientWithRetry() error = %v", err)
	}
	return c
}

// TestNewOpenMeteoClient_InvalidURL verifies that URLs without scheme or host are rejected.
func TestNewOpenMeteoClient_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "api.open-meteo.com/v1/forecast", "://bad"} {
		if _, err := NewOpenMeteoClient(u, time.Second); err == nil {
			t.Errorf("NewOpenMeteoClient(%q) error = nil, want error", u)
		}
	}
}

// TestCurrentWeatherCode_Success verifies the query parameters and that
// current_weather.weathercode is returned.
func TestCurrentWeatherCode_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("latitude") != "47.6062" || q.Get("longitude") != "-122.3321" {
			t.Errorf("unexpected coordinates %q, %q", q.Get("latitude"), q.Get("longitude"))
		}
		if q.Get("current_weather") != "true" {
			t.Errorf("current_weather = %q, want true", q.Get("current_weather"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"latitude":47.6,"longitude":-122.3,"current_weather":{"temperature":11.2,"windspeed":7.1,"weathercode":95,"time":"2026-10-18T12:00"}}`))
	}))
	defer server.Close()

	c := newTestOpenMeteo(t, server.URL, 1)
	code, err := c.CurrentWeatherCode(context.Background(), 47.6062, -122.3321)
	if err != nil {
		t.Fatalf("CurrentWeatherCode() error = %v", err)
	}
	if code != 95 {
		t.Errorf("CurrentWeatherCode() = %d, want 95", code)
	}
}

// TestCurrentWeatherCode_Errors verifies HTTP status and body failures map to sentinel errors.
func TestCurrentWeatherCode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"bad request", http.StatusBadRequest, `{"error":true,"reason":"Latitude must be in range of -90 to 90°."}`, ErrBadRequest},
		{"rate limited", http.StatusTooManyRequests, ``, ErrRateLimited},
		{"server error", http.StatusBadGateway, ``, ErrUpstreamFailure},
		{"malformed body", http.StatusOK, `{not json`, ErrInvalidResponse},
		{"missing current_weather", http.StatusOK, `{"latitude":1}`, ErrInvalidResponse},
		{"missing weathercode", http.StatusOK, `{"current_weather":{"temperature":3}}`, ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestOpenMeteo(t, server.URL, 1)
			_, err := c.CurrentWeatherCode(context.Background(), 0, 0)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CurrentWeatherCode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestCurrentWeatherCode_RetriesUpstreamFailure verifies 5xx responses are retried until success.
func TestCurrentWeatherCode_RetriesUpstreamFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"current_weather":{"weathercode":61}}`))
	}))
	defer server.Close()

	c := newTestOpenMeteo(t, server.URL, 3)
	code, err := c.CurrentWeatherCode(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("CurrentWeatherCode() error = %v", err)
	}
	if code != 61 {
		t.Errorf("CurrentWeatherCode() = %d, want 61", code)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

// TestCurrentWeatherCode_ExhaustedRetries verifies the last error is wrapped after all attempts fail.
func TestCurrentWeatherCode_ExhaustedRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestOpenMeteo(t, server.URL, 2)
	_, err := c.CurrentWeatherCode(context.Background(), 1, 2)
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("CurrentWeatherCode() error = %v, want ErrUpstreamFailure", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

// TestCurrentWeatherCode_BadRequestNotRetried verifies that 400 fails fast.
func TestCurrentWeatherCode_BadRequestNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := newTestOpenMeteo(t, server.URL, 3)
	if _, err := c.CurrentWeatherCode(context.Background(), 1, 2); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("CurrentWeatherCode() error = %v, want ErrBadRequest", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

// TestCurrentWeatherCode_CanceledContext verifies a canceled context stops the call.
func TestCurrentWeatherCode_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	c := newTestOpenMeteo(t, server.URL, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.CurrentWeatherCode(ctx, 1, 2); err == nil {
		t.Fatal("CurrentWeatherCode() error = nil, want error")
	}
}

// TestCurrentWeatherCode_CircuitBreakerOpens verifies that consecutive failures open the
// breaker and later calls fail with ErrCircuitOpen without reaching the server.
func TestCurrentWeatherCode_CircuitBreakerOpens(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var transitions []gobreaker.State
	c := newTestOpenMeteo(t, server.URL, 1)
	c.SetCircuitBreaker(NewCircuitBreaker("weather_api", 2, time.Minute, func(_, to gobreaker.State) {
		transitions = append(transitions, to)
	}))

	for i := 0; i < 2; i++ {
		if _, err := c.CurrentWeatherCode(context.Background(), 1, 2); !errors.Is(err, ErrUpstreamFailure) {
			t.Fatalf("call %d error = %v, want ErrUpstreamFailure", i, err)
		}
	}
	_, err := c.CurrentWeatherCode(context.Background(), 1, 2)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("CurrentWeatherCode() error = %v, want ErrCircuitOpen", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("server calls = %d, want 2", got)
	}
	if len(transitions) != 1 || transitions[0] != gobreaker.StateOpen {
		t.Errorf("transitions = %v, want [open]", transitions)
	}
}

// TestStatusLabel verifies HTTP status codes map to metric labels.
func TestStatusLabel(t *testing.T) {
	tests := map[int]string{
		200: "success",
		204: "success",
		429: "rate_limited",
		404: "client_error",
		503: "server_error",
		301: "error",
	}
	for code, want := range tests {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}

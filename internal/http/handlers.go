package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-by-location/internal/config"
	"github.com/kjstillabower/weather-by-location/internal/lifecycle"
	"github.com/kjstillabower/weather-by-location/internal/mainloop"
	"github.com/kjstillabower/weather-by-location/internal/models"
	"github.com/kjstillabower/weather-by-location/internal/observability"
	"github.com/kjstillabower/weather-by-location/internal/scheduler"
	"github.com/kjstillabower/weather-by-location/internal/world"
)

// Executor runs fn on the goroutine that owns the world.
type Executor interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// StatusSource reports the reconciliation scheduler's state.
type StatusSource interface {
	Status() scheduler.Status
	IsRunning() bool
}

// SettingsSource loads the persisted settings.
type SettingsSource interface {
	Load() (config.Settings, error)
}

// Handler serves the read-only ops surface.
type Handler struct {
	loop      Executor
	world     world.World
	scheduler StatusSource
	settings  SettingsSource
	logger    *zap.Logger

	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(loop Executor, w world.World, sched StatusSource, settings SettingsSource, logger *zap.Logger) *Handler {
	return &Handler{
		loop:      loop,
		world:     w,
		scheduler: sched,
		settings:  settings,
		logger:    observability.OrNop(logger),
	}
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result, checks := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down > scheduler stopped >
// last cycle failed > healthy. A failed cycle is reported as degraded but
// keeps 200 since the next tick retries on its own.
func (h *Handler) computeHealthStatus() (healthResult, map[string]string) {
	checks := map[string]string{}

	if h.CachePing != nil {
		if h.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}

	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}, checks
	}
	if h.scheduler == nil || !h.scheduler.IsRunning() {
		checks["scheduler"] = "stopped"
		return healthResult{"unhealthy", http.StatusServiceUnavailable, "scheduler_stopped"}, checks
	}
	checks["scheduler"] = "running"

	st := h.scheduler.Status()
	switch st.LastOutcome {
	case scheduler.OutcomeFetchFailed:
		checks["weatherApi"] = "unhealthy"
		return healthResult{"degraded", http.StatusOK, string(st.LastOutcome)}, checks
	case scheduler.OutcomeLocationUnavailable:
		checks["geolocation"] = "unhealthy"
		return healthResult{"degraded", http.StatusOK, string(st.LastOutcome)}, checks
	case scheduler.OutcomeConfigInvalid, scheduler.OutcomeApplyFailed:
		return healthResult{"degraded", http.StatusOK, string(st.LastOutcome)}, checks
	}
	if checks["cache"] == "unhealthy" {
		return healthResult{"degraded", http.StatusOK, "cache_unreachable"}, checks
	}
	return healthResult{"healthy", http.StatusOK, ""}, checks
}

type weatherResponse struct {
	Weather       string           `json:"weather"`
	Storming      bool             `json:"storming"`
	Thundering    bool             `json:"thundering"`
	DurationTicks int              `json:"durationTicks"`
	Scheduler     scheduler.Status `json:"scheduler"`
}

// GetWeather handles GET /weather. The world is read on the main loop.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	var snap world.Snapshot
	err := h.loop.Do(r.Context(), func(ctx context.Context) error {
		var readErr error
		snap, readErr = world.Read(ctx, h.world)
		return readErr
	})
	if err != nil {
		requestLogger(r).Debug("world read failed", zap.Error(err))
		switch {
		case errors.Is(err, mainloop.ErrLoopStopped):
			writeError(w, r, http.StatusServiceUnavailable, "SHUTTING_DOWN", "World is no longer running")
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			writeError(w, r, http.StatusServiceUnavailable, "BUSY", "Timed out waiting for the main loop")
		default:
			writeError(w, r, http.StatusInternalServerError, "WORLD_READ_FAILED", "Unable to read world weather")
		}
		return
	}

	resp := weatherResponse{
		Weather:       snap.State().String(),
		Storming:      snap.Storming,
		Thundering:    snap.Thundering,
		DurationTicks: snap.DurationTicks,
	}
	if h.scheduler != nil {
		resp.Scheduler = h.scheduler.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

type locationResponse struct {
	Source                string               `json:"source"`
	Configured            *models.LocationData `json:"configured,omitempty"`
	LastResolved          *models.LocationData `json:"lastResolved,omitempty"`
	MinutesBetweenUpdates int                  `json:"minutesBetweenUpdates"`
}

// GetLocation handles GET /location. Reports the stored location and the one
// the last cycle used; never triggers a lookup.
func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	st, err := h.settings.Load()
	if err != nil {
		requestLogger(r).Debug("settings load failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "CONFIG_INVALID", "Settings file is missing or invalid")
		return
	}

	resp := locationResponse{Source: "none", MinutesBetweenUpdates: st.MinutesBetweenUpdates}
	switch {
	case st.HasManualLocation():
		resp.Source = "manual"
	case st.HasCachedLocation():
		resp.Source = "cached"
	}
	if resp.Source != "none" {
		loc := st.Location()
		resp.Configured = &loc
	}
	if h.scheduler != nil {
		resp.LastResolved = h.scheduler.Status().LastLocation
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error body with the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := r.Context().Value("correlation_id").(string)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

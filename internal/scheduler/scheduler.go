// Package scheduler periodically reconciles the world's weather with the
// real weather at the resolved location.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-by-location/internal/classifier"
	"github.com/kjstillabower/weather-by-location/internal/client"
	"github.com/kjstillabower/weather-by-location/internal/config"
	"github.com/kjstillabower/weather-by-location/internal/lifecycle"
	"github.com/kjstillabower/weather-by-location/internal/models"
	"github.com/kjstillabower/weather-by-location/internal/observability"
	"github.com/kjstillabower/weather-by-location/internal/world"
)

var (
	// ErrWeatherFetchFailed wraps any failure to obtain the current weather code.
	ErrWeatherFetchFailed = errors.New("weather fetch failed")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("scheduler already started")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("scheduler stopped")
)

// Outcome is how a reconciliation cycle ended. Used as a metric label.
type Outcome string

const (
	OutcomeApplied             Outcome = "applied"
	OutcomeExtended            Outcome = "extended"
	OutcomeConfigInvalid       Outcome = "config_invalid"
	OutcomeLocationUnavailable Outcome = "location_unavailable"
	OutcomeFetchFailed         Outcome = "fetch_failed"
	OutcomeShutdown            Outcome = "shutdown"
	OutcomeApplyFailed         Outcome = "apply_failed"
)

// SettingsSource loads the current settings.
type SettingsSource interface {
	Load() (config.Settings, error)
}

// LocationResolver picks the coordinates to fetch weather for.
type LocationResolver interface {
	Resolve(ctx context.Context, st config.Settings) (models.LocationData, error)
}

// Executor runs fn on the goroutine that owns the world and waits for it.
type Executor interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// Status is a snapshot of the scheduler for the ops surface.
type Status struct {
	Running         bool                 `json:"running"`
	IntervalMinutes int                  `json:"intervalMinutes"`
	Cycles          int                  `json:"cycles"`
	LastCycleID     string               `json:"lastCycleId,omitempty"`
	LastCycleAt     time.Time            `json:"lastCycleAt,omitempty"`
	LastOutcome     Outcome              `json:"lastOutcome,omitempty"`
	LastCode        *models.WeatherCode  `json:"lastCode,omitempty"`
	LastTarget      string               `json:"lastTarget,omitempty"`
	LastLocation    *models.LocationData `json:"lastLocation,omitempty"`
}

// Scheduler runs one reconciliation cycle per interval. Cycles never overlap.
type Scheduler struct {
	settings SettingsSource
	resolver LocationResolver
	weather  client.WeatherClient
	world    world.World
	loop     Executor
	logger   *zap.Logger

	cron     *gocron.Scheduler
	stopping lifecycle.Flag

	lifeMu   sync.Mutex
	started  bool
	interval int
	ctx      context.Context
	cancel   context.CancelFunc

	statusMu sync.Mutex
	status   Status
}

// New builds a Scheduler. Nothing runs until Start.
func New(settings SettingsSource, resolver LocationResolver, weather client.WeatherClient, w world.World, loop Executor, logger *zap.Logger) *Scheduler {
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	return &Scheduler{
		settings: settings,
		resolver: resolver,
		weather:  weather,
		world:    w,
		loop:     loop,
		logger:   observability.OrNop(logger),
		cron:     cron,
	}
}

// Start fixes the update interval from the current settings, runs the first
// cycle right away, and then one cycle every interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if s.stopping.IsSet() {
		return ErrStopped
	}

	st, err := s.settings.Load()
	if err != nil {
		return err
	}
	s.interval = st.MinutesBetweenUpdates
	s.ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.Every(s.interval).Minutes().StartImmediately().Do(func() {
		s.RunCycle(s.ctx)
	}); err != nil {
		s.cancel()
		return fmt.Errorf("schedule reconciliation: %w", err)
	}
	s.cron.StartAsync()
	s.started = true

	s.statusMu.Lock()
	s.status.Running = true
	s.status.IntervalMinutes = s.interval
	s.statusMu.Unlock()

	s.logger.Info("weather scheduler started", zap.Int("minutes_between_updates", s.interval))
	return nil
}

// Stop marks the scheduler as shutting down, cancels the running cycle and
// removes future ticks. It waits for an in-flight cycle to return. A cycle
// already past its last shutdown check may still apply. Safe to call more
// than once.
func (s *Scheduler) Stop() {
	if !s.stopping.Set() {
		return
	}

	s.lifeMu.Lock()
	cancel := s.cancel
	s.lifeMu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.cron.Stop()

	s.statusMu.Lock()
	s.status.Running = false
	s.statusMu.Unlock()
	s.logger.Info("weather scheduler stopped")
}

// IsRunning reports whether future ticks are scheduled.
func (s *Scheduler) IsRunning() bool {
	return s.cron.IsRunning()
}

// Status returns a copy of the latest scheduler status.
func (s *Scheduler) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.status
	if st.LastLocation != nil {
		loc := *st.LastLocation
		st.LastLocation = &loc
	}
	if st.LastCode != nil {
		code := *st.LastCode
		st.LastCode = &code
	}
	return st
}

// cycle carries the data of one reconciliation pass.
type cycle struct {
	id       string
	logger   *zap.Logger
	settings config.Settings
	location *models.LocationData
	code     *models.WeatherCode
	target   models.WeatherState
	ticks    int
}

// RunCycle performs one reconciliation pass. Every failure is logged and
// reported as an Outcome; nothing is retried until the next tick.
func (s *Scheduler) RunCycle(ctx context.Context) Outcome {
	start := time.Now()
	id := uuid.NewString()
	c := &cycle{id: id, logger: s.logger.With(zap.String("cycle_id", id))}

	outcome := s.runCycle(ctx, c)

	observability.RecordCycle(string(outcome), time.Since(start).Seconds())
	s.record(c, outcome, start)
	c.logger.Debug("reconciliation cycle finished",
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", time.Since(start)),
	)
	return outcome
}

func (s *Scheduler) shuttingDown(ctx context.Context) bool {
	return s.stopping.IsSet() || ctx.Err() != nil
}

func (s *Scheduler) runCycle(ctx context.Context, c *cycle) Outcome {
	if s.shuttingDown(ctx) {
		return OutcomeShutdown
	}

	st, err := s.settings.Load()
	if err != nil {
		c.logger.Warn("settings invalid, skipping weather update", zap.Error(err))
		return OutcomeConfigInvalid
	}
	c.settings = st

	interval := s.runningInterval()
	if interval <= 0 {
		interval = st.MinutesBetweenUpdates
	}
	if st.MinutesBetweenUpdates != interval {
		c.logger.Info("update interval changed, takes effect after restart",
			zap.Int("running", interval),
			zap.Int("configured", st.MinutesBetweenUpdates),
		)
	}
	c.ticks = config.TicksForMinutes(interval)

	loc, err := s.resolver.Resolve(ctx, st)
	if err != nil {
		if s.shuttingDown(ctx) {
			return OutcomeShutdown
		}
		c.logger.Warn("location unavailable, skipping weather update", zap.Error(err))
		return OutcomeLocationUnavailable
	}
	c.location = &loc

	code, err := s.weather.CurrentWeatherCode(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		if s.shuttingDown(ctx) {
			return OutcomeShutdown
		}
		err = fmt.Errorf("%w: %w", ErrWeatherFetchFailed, err)
		c.logger.Warn("skipping weather update",
			zap.Error(err),
			zap.String("category", string(client.CategorizeError(err))),
		)
		return OutcomeFetchFailed
	}
	c.code = &code
	c.target = classifier.Classify(code)

	c.logger.Info("current weather",
		zap.Int("code", int(code)),
		zap.String("description", classifier.Describe(code)),
		zap.String("target", c.target.String()),
		zap.String("city", loc.City),
		zap.Float64("latitude", loc.Latitude),
		zap.Float64("longitude", loc.Longitude),
	)

	if s.shuttingDown(ctx) {
		return OutcomeShutdown
	}

	var changed bool
	err = s.loop.Do(context.WithoutCancel(ctx), func(loopCtx context.Context) error {
		var applyErr error
		changed, applyErr = ApplyWeather(context.WithoutCancel(loopCtx), s.world, c.target, c.ticks)
		return applyErr
	})
	if err != nil {
		c.logger.Error("failed to apply weather", zap.Error(err))
		return OutcomeApplyFailed
	}

	observability.WorldWeatherState.Set(float64(c.target))
	if changed {
		c.logger.Info("world weather changed",
			zap.String("weather", c.target.String()),
			zap.Int("duration_ticks", c.ticks),
		)
		return OutcomeApplied
	}
	return OutcomeExtended
}

func (s *Scheduler) runningInterval() int {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.interval
}

func (s *Scheduler) record(c *cycle, outcome Outcome, at time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.Cycles++
	s.status.LastCycleID = c.id
	s.status.LastCycleAt = at.UTC()
	s.status.LastOutcome = outcome
	if c.code != nil {
		s.status.LastCode = c.code
		s.status.LastTarget = c.target.String()
	}
	if c.location != nil {
		s.status.LastLocation = c.location
	}
}

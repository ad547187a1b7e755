package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/weather-by-location/internal/client"
	"github.com/kjstillabower/weather-by-location/internal/config"
	"github.com/kjstillabower/weather-by-location/internal/location"
	"github.com/kjstillabower/weather-by-location/internal/mainloop"
	"github.com/kjstillabower/weather-by-location/internal/models"
	"github.com/kjstillabower/weather-by-location/internal/world"
)

// recordingWorld records every mutation made to the wrapped world.
type recordingWorld struct {
	*world.MemoryWorld
	mu    sync.Mutex
	calls []string
}

func newRecordingWorld() *recordingWorld {
	return &recordingWorld{MemoryWorld: world.NewMemoryWorld(func(bool) int { return 5000 })}
}

func (w *recordingWorld) record(call string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, call)
}

func (w *recordingWorld) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

func (w *recordingWorld) SetStorm(ctx context.Context, on bool) error {
	w.record(fmt.Sprintf("SetStorm(%v)", on))
	return w.MemoryWorld.SetStorm(ctx, on)
}

func (w *recordingWorld) SetThundering(ctx context.Context, on bool) error {
	w.record(fmt.Sprintf("SetThundering(%v)", on))
	return w.MemoryWorld.SetThundering(ctx, on)
}

func (w *recordingWorld) SetWeatherDuration(ctx context.Context, ticks int) error {
	w.record(fmt.Sprintf("SetWeatherDuration(%d)", ticks))
	return w.MemoryWorld.SetWeatherDuration(ctx, ticks)
}

type staticSettings struct {
	mu  sync.Mutex
	st  config.Settings
	err error
}

func (s *staticSettings) Load() (config.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st, s.err
}

type staticResolver struct {
	loc models.LocationData
	err error
}

func (r staticResolver) Resolve(ctx context.Context, st config.Settings) (models.LocationData, error) {
	return r.loc, r.err
}

type fakeWeather struct {
	code    models.WeatherCode
	err     error
	block   bool
	entered chan struct{}
}

func (f *fakeWeather) CurrentWeatherCode(ctx context.Context, lat, lon float64) (models.WeatherCode, error) {
	if f.entered != nil {
		close(f.entered)
		f.entered = nil
	}
	if f.block {
		<-ctx.Done()
		return 0, fmt.Errorf("request timeout: %w", ctx.Err())
	}
	return f.code, f.err
}

// inlineExecutor runs tasks on the calling goroutine.
type inlineExecutor struct{}

func (inlineExecutor) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func manualSettings(minutes int) config.Settings {
	lat, lon := 10.0, 20.0
	return config.Settings{Latitude: &lat, Longitude: &lon, MinutesBetweenUpdates: minutes}
}

func newTestScheduler(w world.World, weather client.WeatherClient, settings SettingsSource, resolver LocationResolver) *Scheduler {
	return New(settings, resolver, weather, w, inlineExecutor{}, nil)
}

func equalCalls(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// TestApplyWeather_Idempotent verifies applying the same target twice changes
// nothing the second time beyond the duration.
func TestApplyWeather_Idempotent(t *testing.T) {
	ctx := context.Background()
	for _, target := range []models.WeatherState{models.WeatherClear, models.WeatherRain, models.WeatherThunderstorm} {
		t.Run(target.String(), func(t *testing.T) {
			w := newRecordingWorld()
			if _, err := ApplyWeather(ctx, w, target, 6000); err != nil {
				t.Fatalf("first ApplyWeather() error = %v", err)
			}
			first, _ := world.Read(ctx, w)

			changed, err := ApplyWeather(ctx, w, target, 6000)
			if err != nil {
				t.Fatalf("second ApplyWeather() error = %v", err)
			}
			if changed {
				t.Error("second ApplyWeather() changed = true, want false")
			}
			second, _ := world.Read(ctx, w)
			if first != second {
				t.Errorf("world after second apply = %+v, want %+v", second, first)
			}
		})
	}
}

// TestApplyWeather_RainToRain verifies an unchanged rain keeps the flags and
// only refreshes the duration to interval*60*20 ticks.
func TestApplyWeather_RainToRain(t *testing.T) {
	ctx := context.Background()
	w := newRecordingWorld()
	_ = w.MemoryWorld.SetStorm(ctx, true)
	_ = w.MemoryWorld.SetWeatherDuration(ctx, 10)

	ticks := config.TicksForMinutes(5)
	changed, err := ApplyWeather(ctx, w, models.WeatherRain, ticks)
	if err != nil {
		t.Fatalf("ApplyWeather() error = %v", err)
	}
	if changed {
		t.Error("ApplyWeather() changed = true, want false")
	}
	if want := []string{"SetWeatherDuration(6000)"}; !equalCalls(w.Calls(), want) {
		t.Errorf("calls = %v, want %v", w.Calls(), want)
	}
	if state, _ := world.CurrentState(ctx, w); state != models.WeatherRain {
		t.Errorf("state = %v, want Rain", state)
	}
}

// TestApplyWeather_ClearToThunderstorm verifies both flags are set before the duration.
func TestApplyWeather_ClearToThunderstorm(t *testing.T) {
	ctx := context.Background()
	w := newRecordingWorld()

	changed, err := ApplyWeather(ctx, w, models.WeatherThunderstorm, 6000)
	if err != nil {
		t.Fatalf("ApplyWeather() error = %v", err)
	}
	if !changed {
		t.Error("ApplyWeather() changed = false, want true")
	}
	want := []string{"SetStorm(true)", "SetThundering(true)", "SetWeatherDuration(6000)"}
	if !equalCalls(w.Calls(), want) {
		t.Errorf("calls = %v, want %v", w.Calls(), want)
	}
}

// TestApplyWeather_ThunderstormToClear verifies both flags are cleared.
func TestApplyWeather_ThunderstormToClear(t *testing.T) {
	ctx := context.Background()
	w := newRecordingWorld()
	_ = w.MemoryWorld.SetStorm(ctx, true)
	_ = w.MemoryWorld.SetThundering(ctx, true)

	if _, err := ApplyWeather(ctx, w, models.WeatherClear, 1200); err != nil {
		t.Fatalf("ApplyWeather() error = %v", err)
	}
	want := []string{"SetStorm(false)", "SetThundering(false)", "SetWeatherDuration(1200)"}
	if !equalCalls(w.Calls(), want) {
		t.Errorf("calls = %v, want %v", w.Calls(), want)
	}
}

// TestRunCycle_Outcomes verifies each cycle step maps to the expected outcome and
// that only successful cycles touch the world.
func TestRunCycle_Outcomes(t *testing.T) {
	seattle := models.LocationData{Latitude: 47.6, Longitude: -122.3, City: "Seattle"}
	tests := []struct {
		name        string
		settingsErr error
		resolveErr  error
		code        models.WeatherCode
		fetchErr    error
		preStorm    bool
		want        Outcome
		wantCalls   int
	}{
		{name: "config invalid", settingsErr: config.ErrConfigInvalid, want: OutcomeConfigInvalid},
		{name: "location unavailable", resolveErr: location.ErrLocationUnavailable, want: OutcomeLocationUnavailable},
		{name: "fetch failed", fetchErr: client.ErrUpstreamFailure, want: OutcomeFetchFailed},
		{name: "applied", code: 95, want: OutcomeApplied, wantCalls: 3},
		{name: "extended", code: 61, preStorm: true, want: OutcomeExtended, wantCalls: 1},
		{name: "unknown code clears", code: 9999, preStorm: true, want: OutcomeApplied, wantCalls: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newRecordingWorld()
			if tt.preStorm {
				_ = w.MemoryWorld.SetStorm(context.Background(), true)
			}
			s := newTestScheduler(w,
				&fakeWeather{code: tt.code, err: tt.fetchErr},
				&staticSettings{st: manualSettings(5), err: tt.settingsErr},
				staticResolver{loc: seattle, err: tt.resolveErr},
			)

			got := s.RunCycle(context.Background())
			if got != tt.want {
				t.Errorf("RunCycle() = %q, want %q", got, tt.want)
			}
			if n := len(w.Calls()); n != tt.wantCalls {
				t.Errorf("world mutations = %v, want %d", w.Calls(), tt.wantCalls)
			}
			if st := s.Status(); st.LastOutcome != tt.want || st.Cycles != 1 {
				t.Errorf("Status() = %+v", st)
			}
		})
	}
}

// TestRunCycle_IntervalFixedUntilRestart verifies a changed interval is not
// applied to the duration of a running scheduler.
func TestRunCycle_IntervalFixedUntilRestart(t *testing.T) {
	w := newRecordingWorld()
	settings := &staticSettings{st: manualSettings(10)}
	s := newTestScheduler(w, &fakeWeather{code: 63}, settings, staticResolver{loc: models.LocationData{Latitude: 10, Longitude: 20}})
	s.interval = 5

	if got := s.RunCycle(context.Background()); got != OutcomeApplied {
		t.Fatalf("RunCycle() = %q, want applied", got)
	}
	if d, _ := w.WeatherDuration(context.Background()); d != 6000 {
		t.Errorf("duration = %d, want 6000 (running interval)", d)
	}
}

// TestRunCycle_ApplyFailed verifies a stopped main loop yields apply_failed.
func TestRunCycle_ApplyFailed(t *testing.T) {
	loop := mainloop.New(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx, 0, nil) }()
	cancel()
	<-loop.Done()

	w := newRecordingWorld()
	s := New(&staticSettings{st: manualSettings(5)}, staticResolver{}, &fakeWeather{code: 95}, w, loop, nil)
	if got := s.RunCycle(context.Background()); got != OutcomeApplyFailed {
		t.Errorf("RunCycle() = %q, want apply_failed", got)
	}
	if len(w.Calls()) != 0 {
		t.Errorf("world mutations = %v, want none", w.Calls())
	}
}

// TestScheduler_StartRunsImmediatelyOnLoop verifies Start runs the first cycle
// right away through the main loop.
func TestScheduler_StartRunsImmediatelyOnLoop(t *testing.T) {
	loop := mainloop.New(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-loop.Done()
	}()
	go func() { _ = loop.Run(ctx, 0, nil) }()

	w := newRecordingWorld()
	s := New(&staticSettings{st: manualSettings(5)}, staticResolver{}, &fakeWeather{code: 95}, w, loop, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for s.Status().Cycles == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first cycle did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := s.Status(); st.LastOutcome != OutcomeApplied || !st.Running || st.IntervalMinutes != 5 {
		t.Errorf("Status() = %+v", st)
	}
	if state, _ := world.CurrentState(context.Background(), w); state != models.WeatherThunderstorm {
		t.Errorf("state = %v, want Thunderstorm", state)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

// TestScheduler_StopDuringCycle verifies Stop during an in-flight fetch does not
// panic, the cycle does not apply, and no further ticks are scheduled.
func TestScheduler_StopDuringCycle(t *testing.T) {
	w := newRecordingWorld()
	entered := make(chan struct{})
	weather := &fakeWeather{block: true, entered: entered}
	s := newTestScheduler(w, weather, &staticSettings{st: manualSettings(1)}, staticResolver{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not reach the weather fetch")
	}

	s.Stop()
	s.Stop()

	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop, want false")
	}
	if calls := w.Calls(); len(calls) != 0 {
		t.Errorf("world mutations = %v, want none", calls)
	}
	if st := s.Status(); st.LastOutcome != OutcomeShutdown || st.Running {
		t.Errorf("Status() = %+v, want shutdown and not running", st)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) && !errors.Is(err, ErrStopped) {
		t.Errorf("Start() after Stop error = %v", err)
	}
}

// TestScheduler_StopBeforeStart verifies Stop on an unstarted scheduler is safe
// and blocks a later Start.
func TestScheduler_StopBeforeStart(t *testing.T) {
	s := newTestScheduler(newRecordingWorld(), &fakeWeather{}, &staticSettings{st: manualSettings(5)}, staticResolver{})
	s.Stop()
	if err := s.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start() error = %v, want ErrStopped", err)
	}
	if got := s.RunCycle(context.Background()); got != OutcomeShutdown {
		t.Errorf("RunCycle() = %q, want shutdown", got)
	}
}

// Package world holds the game world's weather flags and its native weather timer.
package world

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/kjstillabower/weather-by-location/internal/models"
)

// TicksPerSecond is the game clock rate.
const TicksPerSecond = 20

// World exposes the weather controls of the game world. Implementations are
// not required to be safe for concurrent use; callers mutate it from the main
// loop only.
type World interface {
	HasStorm(ctx context.Context) (bool, error)
	IsThundering(ctx context.Context) (bool, error)
	SetStorm(ctx context.Context, on bool) error
	SetThundering(ctx context.Context, on bool) error
	SetWeatherDuration(ctx context.Context, ticks int) error
	WeatherDuration(ctx context.Context) (int, error)

	// Advance runs the native weather timer forward by ticks. When the
	// duration reaches zero the storm flag toggles, thunder clears, and a
	// natural duration is drawn.
	Advance(ctx context.Context, ticks int) error
}

// CurrentState derives the weather state from the world's flags.
func CurrentState(ctx context.Context, w World) (models.WeatherState, error) {
	storming, err := w.HasStorm(ctx)
	if err != nil {
		return models.WeatherClear, fmt.Errorf("read storm flag: %w", err)
	}
	thundering, err := w.IsThundering(ctx)
	if err != nil {
		return models.WeatherClear, fmt.Errorf("read thunder flag: %w", err)
	}
	return models.StateFromFlags(storming, thundering), nil
}

// Snapshot is the full weather state of a world at one instant.
type Snapshot struct {
	Storming      bool `json:"storming"`
	Thundering    bool `json:"thundering"`
	DurationTicks int  `json:"durationTicks"`
}

// State returns the weather state the flags describe.
func (s Snapshot) State() models.WeatherState {
	return models.StateFromFlags(s.Storming, s.Thundering)
}

// Read captures a Snapshot of w.
func Read(ctx context.Context, w World) (Snapshot, error) {
	var s Snapshot
	var err error
	if s.Storming, err = w.HasStorm(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("read storm flag: %w", err)
	}
	if s.Thundering, err = w.IsThundering(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("read thunder flag: %w", err)
	}
	if s.DurationTicks, err = w.WeatherDuration(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("read weather duration: %w", err)
	}
	return s, nil
}

// DurationFunc draws the natural length, in ticks, of the weather that
// starts when the timer expires. storming is the new storm flag.
type DurationFunc func(storming bool) int

// NaturalDuration draws durations in the game's vanilla ranges: half a day
// to a full day of storm, half a day to seven and a half days of clear sky.
func NaturalDuration(storming bool) int {
	if storming {
		return 12000 + rand.Intn(12000)
	}
	return 12000 + rand.Intn(168000)
}

// advance applies ticks of elapsed time to s.
func advance(s Snapshot, ticks int, natural DurationFunc) Snapshot {
	if ticks <= 0 {
		return s
	}
	for ticks >= s.DurationTicks {
		ticks -= s.DurationTicks
		s.Storming = !s.Storming
		s.Thundering = false
		s.DurationTicks = natural(s.Storming)
		if s.DurationTicks <= 0 {
			s.DurationTicks = 1
		}
	}
	s.DurationTicks -= ticks
	return s
}

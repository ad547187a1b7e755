package scheduler

import (
	"context"
	"fmt"

	"github.com/kjstillabower/weather-by-location/internal/models"
	"github.com/kjstillabower/weather-by-location/internal/world"
)

// ApplyWeather makes w show target for the next ticks game ticks. When the
// world already shows target only the duration is refreshed. It reports
// whether the flags changed. Must run on the main loop.
func ApplyWeather(ctx context.Context, w world.World, target models.WeatherState, ticks int) (bool, error) {
	current, err := world.CurrentState(ctx, w)
	if err != nil {
		return false, err
	}

	if current == target {
		if err := w.SetWeatherDuration(ctx, ticks); err != nil {
			return false, fmt.Errorf("extend weather duration: %w", err)
		}
		return false, nil
	}

	storming, thundering := target.Flags()
	if err := w.SetStorm(ctx, storming); err != nil {
		return false, fmt.Errorf("set storm: %w", err)
	}
	if err := w.SetThundering(ctx, thundering); err != nil {
		return false, fmt.Errorf("set thundering: %w", err)
	}
	if err := w.SetWeatherDuration(ctx, ticks); err != nil {
		return false, fmt.Errorf("set weather duration: %w", err)
	}
	return true, nil
}

package world

import (
	"context"
	"sync"
)

// MemoryWorld keeps the weather state in process memory.
type MemoryWorld struct {
	mu      sync.Mutex
	state   Snapshot
	natural DurationFunc
}

// NewMemoryWorld returns a clear world whose timer expires after a natural
// clear-sky duration.
func NewMemoryWorld(natural DurationFunc) *MemoryWorld {
	if natural == nil {
		natural = NaturalDuration
	}
	return &MemoryWorld{
		state:   Snapshot{DurationTicks: natural(false)},
		natural: natural,
	}
}

func (w *MemoryWorld) HasStorm(ctx context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Storming, nil
}

func (w *MemoryWorld) IsThundering(ctx context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Thundering, nil
}

func (w *MemoryWorld) SetStorm(ctx context.Context, on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.Storming = on
	return nil
}

func (w *MemoryWorld) SetThundering(ctx context.Context, on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.Thundering = on
	return nil
}

func (w *MemoryWorld) SetWeatherDuration(ctx context.Context, ticks int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.DurationTicks = ticks
	return nil
}

func (w *MemoryWorld) WeatherDuration(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.DurationTicks, nil
}

func (w *MemoryWorld) Advance(ctx context.Context, ticks int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = advance(w.state, ticks, w.natural)
	return nil
}

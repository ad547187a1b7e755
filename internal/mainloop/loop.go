// Package mainloop serializes every world mutation onto one goroutine.
package mainloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-by-location/internal/observability"
)

var (
	// ErrLoopStopped is returned by Submit and Do once Run has returned.
	ErrLoopStopped = errors.New("main loop stopped")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("main loop already running")
)

type task struct {
	fn func(context.Context)
}

// Loop runs submitted tasks and clock callbacks one at a time, in order, on
// the goroutine that called Run.
type Loop struct {
	tasks  chan task
	done   chan struct{}
	once   sync.Once
	start  sync.Once
	logger *zap.Logger
}

// New returns a Loop whose queue holds up to queueSize pending tasks.
func New(queueSize int, logger *zap.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Loop{
		tasks:  make(chan task, queueSize),
		done:   make(chan struct{}),
		logger: observability.OrNop(logger),
	}
}

// Submit queues fn without waiting for it to run.
func (l *Loop) Submit(ctx context.Context, fn func(context.Context)) error {
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}
	select {
	case l.tasks <- task{fn: fn}:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the loop and waits for its result. If ctx ends first Do
// returns ctx.Err(), but fn may still run later.
func (l *Loop) Do(ctx context.Context, fn func(context.Context) error) error {
	result := make(chan error, 1)
	err := l.Submit(ctx, func(runCtx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("main loop task panicked", zap.String("panic", fmt.Sprint(r)))
				result <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		result <- fn(runCtx)
	})
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-l.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes tasks until ctx is canceled. If clockInterval is positive,
// onClock is also called on the loop every clockInterval. Tasks still queued
// when ctx ends are dropped.
func (l *Loop) Run(ctx context.Context, clockInterval time.Duration, onClock func(context.Context)) error {
	started := false
	l.start.Do(func() { started = true })
	if !started {
		return ErrAlreadyRunning
	}
	defer l.once.Do(func() { close(l.done) })

	var tick <-chan time.Time
	if clockInterval > 0 && onClock != nil {
		ticker := time.NewTicker(clockInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	l.logger.Info("main loop started", zap.Duration("clock_interval", clockInterval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("main loop stopped", zap.Int("dropped_tasks", len(l.tasks)))
			return nil
		case t := <-l.tasks:
			l.run(ctx, t.fn)
		case <-tick:
			l.run(ctx, onClock)
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("main loop task panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn(ctx)
}

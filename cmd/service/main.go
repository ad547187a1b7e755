package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-by-location/internal/cache"
	"github.com/kjstillabower/weather-by-location/internal/client"
	"github.com/kjstillabower/weather-by-location/internal/config"
	httphandler "github.com/kjstillabower/weather-by-location/internal/http"
	"github.com/kjstillabower/weather-by-location/internal/lifecycle"
	"github.com/kjstillabower/weather-by-location/internal/location"
	"github.com/kjstillabower/weather-by-location/internal/mainloop"
	"github.com/kjstillabower/weather-by-location/internal/observability"
	"github.com/kjstillabower/weather-by-location/internal/scheduler"
	"github.com/kjstillabower/weather-by-location/internal/world"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = observability.Flush(logger) }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	store := config.NewSettingsStore(cfg.SettingsFile)
	settings, err := loadStartupSettings(store, logger)
	if err != nil {
		logger.Warn("settings file is invalid; fix it and restart",
			zap.String("path", store.Path()),
			zap.Error(err),
			zap.Duration("exit_in", cfg.InvalidConfigDelay))
		time.Sleep(cfg.InvalidConfigDelay)
		_ = observability.Flush(logger)
		os.Exit(1)
	}

	weatherClient, err := client.NewOpenMeteoClientWithRetry(
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if cfg.CircuitBreakerEnabled {
		weatherClient.SetCircuitBreaker(client.NewCircuitBreaker("weather_api",
			cfg.CircuitBreakerFailureThreshold,
			cfg.CircuitBreakerTimeout,
			func(from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					zap.String("component", "weather_api"),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
				observability.CircuitBreakerState.WithLabelValues("weather_api").Set(breakerStateValue(to))
			},
		))
		observability.CircuitBreakerState.WithLabelValues("weather_api").Set(0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	locator := client.NewRateLimitedLocator(
		client.NewGeoIPClient(cfg.GeolocationURL, cfg.PublicIPURL, cfg.GeolocationTimeout),
		cfg.GeolocationPerMinute,
		1,
	)

	validated, memcacheCloser := buildCache(cfg, logger)
	resolver := location.NewResolver(locator, store, validated, cfg.LocationRevalidate, logger)

	w, db, err := openWorld(cfg)
	if err != nil {
		logger.Fatal("world", zap.Error(err))
	}
	logger.Info("world backend: "+cfg.WorldBackend, zap.String("db_path", cfg.WorldDBPath))

	loop := mainloop.New(16, logger)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go func() {
		ticks := int(cfg.WorldClockInterval.Seconds() * world.TicksPerSecond)
		err := loop.Run(loopCtx, cfg.WorldClockInterval, func(ctx context.Context) {
			if err := w.Advance(ctx, ticks); err != nil {
				logger.Error("world clock", zap.Error(err))
			}
		})
		if err != nil {
			logger.Error("main loop", zap.Error(err))
		}
	}()

	sched := scheduler.New(store, resolver, weatherClient, w, loop, logger)
	if err := sched.Start(context.Background()); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}
	logger.Info("weather sync running",
		zap.Int("minutes_between_updates", settings.MinutesBetweenUpdates),
		zap.Bool("manual_location", settings.HasManualLocation()))

	handler := httphandler.NewHandler(loop, w, sched, store, logger)
	if memcacheCloser != nil {
		handler.CachePing = memcacheCloser.Ping
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/location", handler.GetLocation).Methods("GET")
	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	weatherRouter.HandleFunc("", handler.GetWeather).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	stopLoop()
	<-loop.Done()

	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("world db close", zap.Error(err))
		}
	}
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// loadStartupSettings writes a default settings file when none exists and
// validates it. Errors wrap config.ErrConfigInvalid.
func loadStartupSettings(store *config.SettingsStore, logger *zap.Logger) (config.Settings, error) {
	created, err := store.EnsureDefault()
	if err != nil {
		return config.Settings{}, fmt.Errorf("%w: %v", config.ErrConfigInvalid, err)
	}
	if created {
		logger.Info("wrote default settings file",
			zap.String("path", store.Path()),
			zap.Int("minutes_between_updates", config.DefaultMinutesBetweenUpdates))
	}
	return store.Load()
}

// buildCache returns the location validation cache. The memcached client is
// returned separately so the caller can ping and close it.
func buildCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, *cache.MemcachedCache) {
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		if err := mc.Ping(); err != nil {
			logger.Warn("memcached unreachable at startup; location checks will hit the network", zap.Error(err))
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc
	default:
		logger.Info("cache backend: in_memory")
		return cache.NewInMemoryCache(), nil
	}
}

// openWorld returns the configured world. db is non-nil only for sqlite.
func openWorld(cfg *config.Config) (world.World, *sql.DB, error) {
	switch cfg.WorldBackend {
	case "sqlite":
		db, err := world.InitDB(cfg.WorldDBPath)
		if err != nil {
			return nil, nil, err
		}
		return world.NewSQLiteWorld(db, nil), db, nil
	case "memory":
		return world.NewMemoryWorld(nil), nil, nil
	default:
		return nil, nil, errors.New("unknown world backend " + cfg.WorldBackend)
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

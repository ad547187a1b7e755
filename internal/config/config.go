package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort     string
	RequestTimeout time.Duration

	// SettingsFile is the persisted key-value file holding location and interval.
	SettingsFile string

	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	GeolocationURL       string
	PublicIPURL          string
	GeolocationTimeout   time.Duration
	GeolocationPerMinute int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerTimeout          time.Duration

	CacheBackend          string // "in_memory" or "memcached"
	LocationRevalidate    time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	WorldBackend       string // "memory" or "sqlite"
	WorldDBPath        string
	WorldClockInterval time.Duration

	InvalidConfigDelay time.Duration
	ShutdownTimeout    time.Duration
}

type fileConfig struct {
	Server struct {
		Port           string `yaml:"port"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"server"`

	SettingsFile string `yaml:"settings_file"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Geolocation struct {
		URL                string `yaml:"url"`
		IPURL              string `yaml:"ip_url"`
		Timeout            string `yaml:"timeout"`
		RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	} `yaml:"geolocation"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Cache struct {
		Backend         string `yaml:"backend"`
		RevalidateAfter string `yaml:"revalidate_after"`
		Memcached       struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	World struct {
		Backend       string `yaml:"backend"`
		DBPath        string `yaml:"db_path"`
		ClockInterval string `yaml:"clock_interval"`
	} `yaml:"world"`

	Startup struct {
		InvalidConfigDelay string `yaml:"invalid_config_delay"`
	} `yaml:"startup"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev). Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 5*time.Second)

	cfg.SettingsFile = strings.TrimSpace(os.Getenv("SETTINGS_FILE"))
	if cfg.SettingsFile == "" {
		cfg.SettingsFile = strings.TrimSpace(fc.SettingsFile)
	}
	if cfg.SettingsFile == "" {
		cfg.SettingsFile = filepath.Join("config", "config.yml")
	}
	if !filepath.IsAbs(cfg.SettingsFile) {
		cfg.SettingsFile = filepath.Join(cwd, cfg.SettingsFile)
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)

	cfg.GeolocationURL = fc.Geolocation.URL
	if cfg.GeolocationURL == "" {
		cfg.GeolocationURL = "http://ip-api.com/json/"
	}
	cfg.PublicIPURL = fc.Geolocation.IPURL
	if cfg.PublicIPURL == "" {
		cfg.PublicIPURL = "https://api.ipify.org?format=json"
	}
	cfg.GeolocationTimeout = parseDuration(fc.Geolocation.Timeout, 5*time.Second)
	cfg.GeolocationPerMinute = fc.Geolocation.RateLimitPerMinute
	if cfg.GeolocationPerMinute <= 0 {
		cfg.GeolocationPerMinute = 45
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 250*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 5*time.Second)

	cfg.CircuitBreakerEnabled = true
	if fc.Reliability.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Reliability.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 2*time.Minute)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.LocationRevalidate = parseDuration(fc.Cache.RevalidateAfter, time.Hour)
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.WorldBackend = strings.TrimSpace(strings.ToLower(os.Getenv("WORLD_BACKEND")))
	if cfg.WorldBackend == "" {
		cfg.WorldBackend = strings.TrimSpace(strings.ToLower(fc.World.Backend))
	}
	if cfg.WorldBackend == "" {
		cfg.WorldBackend = "memory"
	}
	cfg.WorldDBPath = strings.TrimSpace(fc.World.DBPath)
	if cfg.WorldDBPath == "" {
		cfg.WorldDBPath = "world.db"
	}
	cfg.WorldClockInterval = parseDuration(fc.World.ClockInterval, time.Second)

	cfg.InvalidConfigDelay = parseDurationOrZero(fc.Startup.InvalidConfigDelay, 15*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.InvalidConfigDelay < 0 {
		return fmt.Errorf("startup.invalid_config_delay must not be negative")
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.WorldBackend {
	case "memory", "sqlite":
		// valid
	default:
		return fmt.Errorf("world.backend must be memory or sqlite, got %q", cfg.WorldBackend)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-by-location/internal/models"
)

// ErrConfigInvalid is returned when the settings file is missing, unreadable,
// unparseable, or holds out-of-range values.
var ErrConfigInvalid = errors.New("invalid configuration")

// DefaultMinutesBetweenUpdates is written to a freshly created settings file.
const DefaultMinutesBetweenUpdates = 5

// Settings is the persisted key-value configuration. Latitude and Longitude
// without IPAddress is a manual override; all three together is a cached
// geolocation result.
type Settings struct {
	Latitude              *float64 `yaml:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude             *float64 `yaml:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	IPAddress             string   `yaml:"ipAddress,omitempty" validate:"omitempty,ip"`
	City                  string   `yaml:"city,omitempty"`
	Region                string   `yaml:"region,omitempty"`
	CountryCode           string   `yaml:"countryCode,omitempty"`
	MinutesBetweenUpdates int      `yaml:"minutes-between-updates" validate:"gte=1"`
}

// HasManualLocation reports whether the settings pin a location by hand.
func (s Settings) HasManualLocation() bool {
	return s.Latitude != nil && s.Longitude != nil && s.IPAddress == ""
}

// HasCachedLocation reports whether the settings hold a geolocation result
// together with the IP it was derived from.
func (s Settings) HasCachedLocation() bool {
	return s.Latitude != nil && s.Longitude != nil && s.IPAddress != ""
}

// Location returns the stored location. Only meaningful when HasManualLocation
// or HasCachedLocation is true.
func (s Settings) Location() models.LocationData {
	var loc models.LocationData
	if s.Latitude != nil {
		loc.Latitude = *s.Latitude
	}
	if s.Longitude != nil {
		loc.Longitude = *s.Longitude
	}
	loc.City = s.City
	loc.Region = s.Region
	loc.CountryCode = s.CountryCode
	loc.SourceIP = s.IPAddress
	return loc
}

// DurationTicks returns the weather duration in game ticks (20 per second)
// that covers one update interval.
func (s Settings) DurationTicks() int {
	return TicksForMinutes(s.MinutesBetweenUpdates)
}

// TicksForMinutes converts minutes to game ticks.
func TicksForMinutes(minutes int) int {
	return minutes * 60 * 20
}

// SettingsStore reads and writes the settings file. Safe for concurrent use.
type SettingsStore struct {
	path     string
	mu       sync.Mutex
	validate *validator.Validate
}

// NewSettingsStore returns a store backed by the YAML file at path.
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path, validate: validator.New()}
}

// Path returns the settings file location.
func (s *SettingsStore) Path() string {
	return s.path
}

// EnsureDefault writes a default settings file if none exists. Returns true
// when a file was created.
func (s *SettingsStore) EnsureDefault() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat settings file: %w", err)
	}
	if err := s.writeLocked(Settings{MinutesBetweenUpdates: DefaultMinutesBetweenUpdates}); err != nil {
		return false, err
	}
	return true, nil
}

// Load reads and validates the settings file. All failures wrap ErrConfigInvalid.
func (s *SettingsStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *SettingsStore) loadLocked() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, fmt.Errorf("%w: settings file not found: %s", ErrConfigInvalid, s.path)
		}
		return Settings{}, fmt.Errorf("%w: read settings file: %v", ErrConfigInvalid, err)
	}
	var st Settings
	if err := yaml.Unmarshal(data, &st); err != nil {
		return Settings{}, fmt.Errorf("%w: parse settings file: %v", ErrConfigInvalid, err)
	}
	if err := s.check(st); err != nil {
		return Settings{}, err
	}
	return st, nil
}

func (s *SettingsStore) check(st Settings) error {
	if err := s.validate.Struct(st); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if (st.Latitude == nil) != (st.Longitude == nil) {
		return fmt.Errorf("%w: latitude and longitude must be set together", ErrConfigInvalid)
	}
	return nil
}

// SaveLocation persists a geolocation result, replacing any stored location
// fields. The update interval is left untouched.
func (s *SettingsStore) SaveLocation(loc models.LocationData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadLocked()
	if err != nil {
		return err
	}
	lat, lon := loc.Latitude, loc.Longitude
	st.Latitude = &lat
	st.Longitude = &lon
	st.IPAddress = loc.SourceIP
	st.City = loc.City
	st.Region = loc.Region
	st.CountryCode = loc.CountryCode
	if err := s.check(st); err != nil {
		return err
	}
	return s.writeLocked(st)
}

// writeLocked replaces the file atomically via a temp file in the same directory.
func (s *SettingsStore) writeLocked(st Settings) error {
	data, err := yaml.Marshal(&st)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yml")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

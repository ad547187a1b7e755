package models

// WeatherCode is a WMO weather interpretation code as reported by Open-Meteo.
type WeatherCode int

// WeatherState is the coarse weather category a world can display.
type WeatherState int

const (
	WeatherClear WeatherState = iota
	WeatherRain
	WeatherThunderstorm
)

func (s WeatherState) String() string {
	switch s {
	case WeatherClear:
		return "Clear"
	case WeatherRain:
		return "Rain"
	case WeatherThunderstorm:
		return "Thunderstorm"
	default:
		return "Unknown"
	}
}

// Flags returns the storming and thundering flags that represent s in a world.
func (s WeatherState) Flags() (storming, thundering bool) {
	switch s {
	case WeatherRain:
		return true, false
	case WeatherThunderstorm:
		return true, true
	default:
		return false, false
	}
}

// StateFromFlags derives the weather state from world flags.
// Thundering without a storm is displayed as clear.
func StateFromFlags(storming, thundering bool) WeatherState {
	if storming && thundering {
		return WeatherThunderstorm
	}
	if storming {
		return WeatherRain
	}
	return WeatherClear
}

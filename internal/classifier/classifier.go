// Package classifier maps WMO weather codes onto the weather states a world can show.
package classifier

import (
	"fmt"

	"github.com/kjstillabower/weather-by-location/internal/models"
)

var (
	clearCodes = codeSet(0, 1, 2, 3)
	// Fog, drizzle and snow all display as rain.
	rainCodes = codeSet(45, 48, 51, 53, 55, 56, 57, 61, 63, 65, 66, 67, 71, 73, 75, 77, 80, 81, 82, 85, 86)
	thunderstormCodes = codeSet(95, 96, 99)
)

var descriptions = map[models.WeatherCode]string{
	0:  "Clear",
	1:  "Mainly Clear",
	2:  "Partly Cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Heavy Fog",
	51: "Light Drizzle",
	53: "Moderate Drizzle",
	55: "Heavy Drizzle",
	56: "Light Freezing Drizzle",
	57: "Heavy Freezing Drizzle",
	61: "Light Rain",
	63: "Moderate Rain",
	65: "Heavy Rain",
	66: "Light Freezing Rain",
	67: "Heavy Freezing Rain",
	71: "Light Snow",
	73: "Moderate Snow",
	75: "Heavy Snow",
	77: "Snow Grains",
	80: "Light Rain Showers",
	81: "Moderate Rain Showers",
	82: "Violent Rain Showers",
	85: "Snow Showers",
	86: "Heavy Snow Showers",
	95: "Thunderstorms",
	96: "Thunderstorm with Light Hail",
	99: "Thunderstorm with Heavy Hail",
}

func codeSet(codes ...models.WeatherCode) map[models.WeatherCode]struct{} {
	m := make(map[models.WeatherCode]struct{}, len(codes))
	for _, c := range codes {
		m[c] = struct{}{}
	}
	return m
}

// Classify returns the weather state for code. Codes outside the rain and
// thunderstorm sets, including unknown codes, classify as clear.
func Classify(code models.WeatherCode) models.WeatherState {
	if _, ok := rainCodes[code]; ok {
		return models.WeatherRain
	}
	if _, ok := thunderstormCodes[code]; ok {
		return models.WeatherThunderstorm
	}
	return models.WeatherClear
}

// IsKnown reports whether code belongs to one of the three code sets.
func IsKnown(code models.WeatherCode) bool {
	_, clear := clearCodes[code]
	_, rain := rainCodes[code]
	_, thunder := thunderstormCodes[code]
	return clear || rain || thunder
}

// Describe returns a human readable description of code for logs.
func Describe(code models.WeatherCode) string {
	if d, ok := descriptions[code]; ok {
		return d
	}
	return fmt.Sprintf("Unknown (code %d)", int(code))
}

package models

// LocationData is a resolved operating location. Latitude and Longitude are
// always set once resolved; the identifying fields are empty when unknown.
type LocationData struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	City        string  `json:"city,omitempty"`
	Region      string  `json:"region,omitempty"`
	CountryCode string  `json:"countryCode,omitempty"`
	SourceIP    string  `json:"ipAddress,omitempty"` // public IP the location was derived from
}

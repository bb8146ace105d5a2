// Package weather turns an hourly forecast into field-work advisories for
// farmers: when to spray, when to irrigate and when disease pressure is high.
package weather

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnconfigured    = errors.New("weather: no forecast provider configured")
	ErrInvalidLocation = errors.New("weather: invalid location")
	ErrUpstream        = errors.New("weather: forecast provider failed")
)

// Default location (Pune) used when a request names none.
const (
	DefaultLatitude  = 18.52
	DefaultLongitude = 73.85
)

// Advisory types.
const (
	TypeSpraying   = "Spraying"
	TypeDisease    = "Disease"
	TypeIrrigation = "Irrigation"
	TypeGeneral    = "General"
)

// Hour is one hourly forecast slot. Missing readings are zero.
type Hour struct {
	Time          time.Time `json:"time"`
	TemperatureC  float64   `json:"temperature"`
	HumidityPct   float64   `json:"humidity"`
	RainChancePct float64   `json:"rainfallChance"`
	WindKph       float64   `json:"windSpeed"`
	Description   string    `json:"description,omitempty"`
}

// Forecaster fetches the hourly forecast for a location, nearest hour first.
type Forecaster interface {
	Forecast(ctx context.Context, lat, lon float64) ([]Hour, error)
}

// Advisory is one piece of advice derived from the forecast.
type Advisory struct {
	Type    string `json:"type"`
	Insight string `json:"insight"`
	Action  string `json:"action"`
}

// Conditions are the readings for the first forecast hour.
type Conditions struct {
	Temperature    float64 `json:"temperature"`
	Humidity       float64 `json:"humidity"`
	RainfallChance float64 `json:"rainfallChance"`
	Description    string  `json:"description"`
}

// Report is the weather endpoint's answer. CurrentConditions is nil when
// the provider returned no hours.
type Report struct {
	Latitude          float64     `json:"latitude"`
	Longitude         float64     `json:"longitude"`
	Insights          []Advisory  `json:"insights"`
	CurrentConditions *Conditions `json:"currentConditions"`
	FetchedAt         time.Time   `json:"fetchedAt"`
}

// ValidLocation reports whether lat/lon are real coordinates.
func ValidLocation(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

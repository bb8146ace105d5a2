// Package recommend suggests crops for a field from soil and climate
// readings.
//
// A language model is asked first when one is configured; its answer must
// parse as JSON or the rule-based scorer over the crop profile catalogue
// answers instead.
package recommend

import (
	"errors"
	"fmt"
)

var ErrInvalidParams = errors.New("invalid recommendation parameters")

// Source names the engine that produced a result.
type Source string

const (
	SourceModel     Source = "gemini"
	SourceRuleBased Source = "rule-based"
)

// DefaultTopK is the number of crops returned when the caller does not say.
const DefaultTopK = 5

// Params are the field readings. Nil values are unknown and score zero.
type Params struct {
	Nitrogen             *float64 `json:"nitrogen"`
	Phosphorus           *float64 `json:"phosphorus"`
	Potassium            *float64 `json:"potassium"`
	PH                   *float64 `json:"ph"`
	Temperature          *float64 `json:"temperature"`
	Humidity             *float64 `json:"humidity"`
	Rainfall             *float64 `json:"rainfall"`
	WaterAvailableLitres *float64 `json:"waterAvailableLitres"`
	AreaHectares         float64  `json:"areaHectares"`
	Notes                string   `json:"notes"`
}

// Validate rejects readings outside physical bounds.
func (p Params) Validate() error {
	checks := []struct {
		name     string
		v        *float64
		min, max float64
	}{
		{"nitrogen", p.Nitrogen, 0, 1000},
		{"phosphorus", p.Phosphorus, 0, 1000},
		{"potassium", p.Potassium, 0, 1000},
		{"ph", p.PH, 0, 14},
		{"temperature", p.Temperature, -20, 60},
		{"humidity", p.Humidity, 0, 100},
		{"rainfall", p.Rainfall, 0, 5000},
		{"waterAvailableLitres", p.WaterAvailableLitres, 0, 1e12},
	}
	for _, c := range checks {
		if c.v != nil && (*c.v < c.min || *c.v > c.max) {
			return fmt.Errorf("%w: %s must be between %g and %g", ErrInvalidParams, c.name, c.min, c.max)
		}
	}
	if p.AreaHectares < 0 {
		return fmt.Errorf("%w: areaHectares must not be negative", ErrInvalidParams)
	}
	return nil
}

// Range is an inclusive [low, high] interval.
type Range [2]float64

// Ideal is a crop's preferred growing conditions.
type Ideal struct {
	Nitrogen                *Range   `yaml:"nitrogen"`
	Phosphorus              *Range   `yaml:"phosphorus"`
	Potassium               *Range   `yaml:"potassium"`
	PH                      *Range   `yaml:"ph"`
	MinTemp                 *float64 `yaml:"min_temp"`
	MaxTemp                 *float64 `yaml:"max_temp"`
	Rainfall                *Range   `yaml:"rainfall"`
	WaterRequiredPerHectare *float64 `yaml:"water_required_per_hectare"`
}

// Profile is one crop in the catalogue.
type Profile struct {
	Name  string `yaml:"name"`
	Notes string `yaml:"notes"`
	Ideal Ideal  `yaml:"ideal"`
}

// Recommendation is a scored crop.
type Recommendation struct {
	Name             string  `json:"name"`
	SuitabilityScore float64 `json:"suitabilityScore"`
	Reason           string  `json:"reason"`
}

// Result is the ranked answer and the engine that produced it.
type Result struct {
	Recommendations []Recommendation `json:"recommendations"`
	Source          Source           `json:"source"`
}

package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mbd888/krishiconnect/internal/advisory"
)

// Service answers crop recommendations.
type Service struct {
	profiles []Profile
	model    advisory.Generator
	logger   *slog.Logger
}

// NewService creates a recommender over profiles. model may be nil.
func NewService(profiles []Profile, model advisory.Generator) *Service {
	return &Service{profiles: profiles, model: model, logger: slog.Default()}
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// Recommend returns the top k crops for params. It never fails on model
// trouble; the rule-based scorer answers instead.
func (s *Service) Recommend(ctx context.Context, params Params, k int) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 || k > len(s.profiles) {
		k = min(DefaultTopK, len(s.profiles))
	}

	if s.model != nil {
		if recs := s.ask(ctx, params, k); len(recs) > 0 {
			return &Result{Recommendations: recs, Source: SourceModel}, nil
		}
	}
	return &Result{Recommendations: RuleBased(s.profiles, params, k), Source: SourceRuleBased}, nil
}

func (s *Service) ask(ctx context.Context, params Params, k int) []Recommendation {
	out, err := s.model.Generate(ctx, prompt(params, k))
	if err != nil {
		s.logger.Debug("crop recommendation model unavailable", "error", err)
		return nil
	}
	var parsed struct {
		Recommendations []struct {
			Name             string  `json:"name"`
			SuitabilityScore float64 `json:"suitability_score"`
			Reason           string  `json:"reason"`
		} `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(advisory.StripFences(out)), &parsed); err != nil {
		s.logger.Warn("crop recommendation answer unparseable, using rules", "error", err)
		return nil
	}
	recs := make([]Recommendation, 0, k)
	for _, r := range parsed.Recommendations {
		if strings.TrimSpace(r.Name) == "" {
			continue
		}
		recs = append(recs, Recommendation{Name: r.Name, SuitabilityScore: clamp(r.SuitabilityScore), Reason: r.Reason})
		if len(recs) == k {
			break
		}
	}
	return recs
}

func prompt(p Params, k int) string {
	return fmt.Sprintf(`You are an agronomist advising a smallholder farmer in India.
Recommend the %d most suitable crops for this field.

Soil nitrogen (kg/ha): %s
Soil phosphorus (kg/ha): %s
Soil potassium (kg/ha): %s
Soil pH: %s
Temperature (C): %s
Relative humidity (%%): %s
Seasonal rainfall (mm): %s
Water available (litres): %s
Area (hectares): %g
Farmer notes: %s

Answer with JSON only, in this shape:
{"recommendations": [{"name": "...", "suitability_score": 0.0, "reason": "..."}]}
suitability_score is between 0 and 1.`,
		k, orUnknown(p.Nitrogen), orUnknown(p.Phosphorus), orUnknown(p.Potassium), orUnknown(p.PH),
		orUnknown(p.Temperature), orUnknown(p.Humidity), orUnknown(p.Rainfall), orUnknown(p.WaterAvailableLitres),
		p.AreaHectares, p.Notes)
}

func orUnknown(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%g", *v)
}

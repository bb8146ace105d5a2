package recommend

import (
	"math"
	"sort"
	"strings"
)

// Score rates how well params suit a crop, from 0 to 1. Each factor earns
// full credit inside the ideal range and partial credit that shrinks with
// distance outside it. Unknown readings earn nothing.
func Score(p Profile, params Params) float64 {
	s, _ := score(p, params)
	return s
}

func score(p Profile, params Params) (float64, []string) {
	var total, sum float64
	var matched []string

	add := func(name string, credit float64) {
		sum += credit
		if credit >= 1 {
			matched = append(matched, name)
		}
	}

	for _, n := range []struct {
		name string
		v    *float64
		r    *Range
	}{
		{"nitrogen", params.Nitrogen, p.Ideal.Nitrogen},
		{"phosphorus", params.Phosphorus, p.Ideal.Phosphorus},
		{"potassium", params.Potassium, p.Ideal.Potassium},
	} {
		total++
		if n.v == nil || n.r == nil {
			continue
		}
		add(n.name, nutrientCredit(*n.v, *n.r))
	}

	total++
	if params.PH != nil && p.Ideal.PH != nil {
		add("pH", spanCredit(*params.PH, *p.Ideal.PH, 0.1))
	}

	total++
	if params.Temperature != nil && p.Ideal.MinTemp != nil && p.Ideal.MaxTemp != nil {
		add("temperature", spanCredit(*params.Temperature, Range{*p.Ideal.MinTemp, *p.Ideal.MaxTemp}, 1e-6))
	}

	total++
	if params.Rainfall != nil && p.Ideal.Rainfall != nil {
		add("rainfall", spanCredit(*params.Rainfall, *p.Ideal.Rainfall, 1))
	}

	total++
	if params.WaterAvailableLitres != nil && p.Ideal.WaterRequiredPerHectare != nil && *p.Ideal.WaterRequiredPerHectare > 0 {
		area := params.AreaHectares
		if area <= 0 {
			area = 1
		}
		required := *p.Ideal.WaterRequiredPerHectare
		perHectare := *params.WaterAvailableLitres / area
		add("water", math.Min(1, perHectare/required))
	}

	return clamp(sum / total), matched
}

// nutrientCredit penalizes distance relative to the violated bound.
func nutrientCredit(v float64, r Range) float64 {
	low, high := r[0], r[1]
	switch {
	case v >= low && v <= high:
		return 1
	case v < low:
		return 1 - math.Min((low-v)/(low+1e-6), 1)
	default:
		return 1 - math.Min((v-high)/(high+1e-6), 1)
	}
}

// spanCredit penalizes distance to the nearest bound relative to the range
// width, which is floored at minWidth.
func spanCredit(v float64, r Range, minWidth float64) float64 {
	low, high := r[0], r[1]
	if v >= low && v <= high {
		return 1
	}
	dist := math.Min(math.Abs(v-low), math.Abs(v-high)) / math.Max(math.Abs(high-low), minWidth)
	return 1 - math.Min(dist, 1)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// RuleBased ranks every profile and returns the best k.
func RuleBased(profiles []Profile, params Params, k int) []Recommendation {
	result := make([]Recommendation, 0, len(profiles))
	for _, p := range profiles {
		s, matched := score(p, params)
		result = append(result, Recommendation{
			Name:             p.Name,
			SuitabilityScore: math.Round(s*1000) / 1000,
			Reason:           reason(matched, p.Notes),
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].SuitabilityScore > result[j].SuitabilityScore
	})
	if k > 0 && len(result) > k {
		result = result[:k]
	}
	return result
}

func reason(matched []string, notes string) string {
	var b strings.Builder
	if len(matched) == 0 {
		b.WriteString("No reading falls inside the ideal range.")
	} else {
		b.WriteString("Ideal ")
		b.WriteString(strings.Join(matched, ", "))
		b.WriteString(".")
	}
	if notes != "" {
		b.WriteString(" ")
		b.WriteString(notes)
	}
	return b.String()
}

package weather

const (
	windLimitKph      = 15
	windWindowHours   = 12
	rainLimitPct      = 60
	rainWindowHours   = 6
	fungalHumidityPct = 80
	fungalTempC       = 25
	drySpellPct       = 20
	drySpellHours     = 24
)

// Advise applies the field-work rules to an hourly forecast. It always
// returns at least one advisory.
func Advise(hours []Hour) []Advisory {
	var out []Advisory

	if anyHour(first(hours, windWindowHours), func(h Hour) bool { return h.WindKph > windLimitKph }) {
		out = append(out, Advisory{
			Type:    TypeSpraying,
			Insight: "High winds (>15 km/h) expected in the next 12 hours.",
			Action:  "DO NOT SPRAY. High risk of spray drift.",
		})
	}

	rainSoon := anyHour(first(hours, rainWindowHours), func(h Hour) bool { return h.RainChancePct > rainLimitPct })
	if rainSoon {
		out = append(out, Advisory{
			Type:    TypeSpraying,
			Insight: "High chance of rain (>60%) in the next 6 hours.",
			Action:  "POSTPONE SPRAYING. Rain will wash off pesticides.",
		})
	}

	if anyHour(hours, func(h Hour) bool { return h.HumidityPct > fungalHumidityPct && h.TemperatureC > fungalTempC }) {
		out = append(out, Advisory{
			Type:    TypeDisease,
			Insight: "High humidity (>80%) and warm temps expected.",
			Action:  "HIGH FUNGAL RISK. Scout fields for signs of mildew or blight.",
		})
	}

	dry := !anyHour(first(hours, drySpellHours), func(h Hour) bool { return h.RainChancePct >= drySpellPct })
	if dry && !rainSoon {
		out = append(out, Advisory{
			Type:    TypeIrrigation,
			Insight: "Dry conditions expected for the next 24 hours.",
			Action:  "PLAN TO IRRIGATE. Check soil moisture for sensitive crops.",
		})
	}

	if len(out) == 0 {
		out = append(out, Advisory{
			Type:    TypeGeneral,
			Insight: "Weather conditions look stable for the next 48 hours.",
			Action:  "It's a good time for general fieldwork.",
		})
	}
	return out
}

// Current reads the first forecast hour, or nil without one.
func Current(hours []Hour) *Conditions {
	if len(hours) == 0 {
		return nil
	}
	h := hours[0]
	return &Conditions{
		Temperature:    h.TemperatureC,
		Humidity:       h.HumidityPct,
		RainfallChance: h.RainChancePct,
		Description:    h.Description,
	}
}

// Actionable reports whether any advisory is worth alerting a farmer about.
func Actionable(advisories []Advisory) bool {
	for _, a := range advisories {
		if a.Type != TypeGeneral {
			return true
		}
	}
	return false
}

func first(hours []Hour, n int) []Hour {
	if len(hours) > n {
		return hours[:n]
	}
	return hours
}

func anyHour(hours []Hour, pred func(Hour) bool) bool {
	for _, h := range hours {
		if pred(h) {
			return true
		}
	}
	return false
}

package recommend

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed crops.yaml
var defaultCatalogue []byte

// DefaultProfiles returns the built-in crop catalogue.
func DefaultProfiles() []Profile {
	profiles, err := ParseProfiles(defaultCatalogue)
	if err != nil {
		panic(fmt.Sprintf("recommend: embedded crops.yaml: %v", err))
	}
	return profiles
}

// LoadProfiles reads a catalogue from path, or the built-in one when path
// is empty.
func LoadProfiles(path string) ([]Profile, error) {
	if path == "" {
		return DefaultProfiles(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read crop profiles: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes a YAML catalogue and checks every range.
func ParseProfiles(data []byte) ([]Profile, error) {
	var profiles []Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parse crop profiles: %w", err)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("crop profiles: catalogue is empty")
	}
	for _, p := range profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("crop profiles: entry without a name")
		}
		for name, r := range map[string]*Range{
			"nitrogen": p.Ideal.Nitrogen, "phosphorus": p.Ideal.Phosphorus,
			"potassium": p.Ideal.Potassium, "ph": p.Ideal.PH, "rainfall": p.Ideal.Rainfall,
		} {
			if r != nil && r[0] > r[1] {
				return nil, fmt.Errorf("crop profiles: %s %s range is inverted", p.Name, name)
			}
		}
		if p.Ideal.MinTemp != nil && p.Ideal.MaxTemp != nil && *p.Ideal.MinTemp > *p.Ideal.MaxTemp {
			return nil, fmt.Errorf("crop profiles: %s temperature range is inverted", p.Name)
		}
	}
	return profiles, nil
}

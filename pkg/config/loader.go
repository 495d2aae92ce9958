package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FromYAML parses a snapshot from YAML, applies defaults, and validates.
func FromYAML(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	s.SetDefaults()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// FromFile loads a snapshot from a YAML file.
func FromFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return FromYAML(data)
}

// ToYAML serializes the snapshot, for diagnostics and round-trip tests.
func (s *Snapshot) ToYAML() ([]byte, error) {
	return yaml.Marshal(s)
}

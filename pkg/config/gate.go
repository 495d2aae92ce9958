package config

import "fmt"

// GateConfig tunes the scout gate that decides whether an auto-mode query
// exits after the scout pass or escalates into full debate.
type GateConfig struct {
	// OverlapThreshold is the minimum retrieval overlap for a direct exit.
	OverlapThreshold float64 `yaml:"overlap_threshold"`

	// ConflictThreshold is the maximum claim conflict for a direct exit.
	ConflictThreshold float64 `yaml:"conflict_threshold"`

	// ScoutSamples is the number of scout drafts sampled for agreement.
	ScoutSamples int `yaml:"scout_samples"`

	// ForceDebate escalates every auto-mode query regardless of signals.
	// User overrides always win over heuristics.
	ForceDebate bool `yaml:"force_debate,omitempty"`

	// ForceDirect exits every auto-mode query after the scout pass.
	ForceDirect bool `yaml:"force_direct,omitempty"`
}

// SetDefaults applies default values to the gate config.
func (c *GateConfig) SetDefaults() {
	if c.OverlapThreshold == 0 {
		c.OverlapThreshold = 0.6
	}
	if c.ConflictThreshold == 0 {
		c.ConflictThreshold = 0.2
	}
	if c.ScoutSamples == 0 {
		c.ScoutSamples = 2
	}
}

// Validate checks the gate configuration.
func (c *GateConfig) Validate() error {
	if c.OverlapThreshold < 0 || c.OverlapThreshold > 1 {
		return fmt.Errorf("overlap_threshold must be in [0,1], got %v", c.OverlapThreshold)
	}
	if c.ConflictThreshold < 0 || c.ConflictThreshold > 1 {
		return fmt.Errorf("conflict_threshold must be in [0,1], got %v", c.ConflictThreshold)
	}
	if c.ScoutSamples < 1 {
		return fmt.Errorf("scout_samples must be >= 1, got %d", c.ScoutSamples)
	}
	if c.ForceDebate && c.ForceDirect {
		return fmt.Errorf("force_debate and force_direct are mutually exclusive")
	}
	return nil
}

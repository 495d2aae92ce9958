package config

import "fmt"

// ModelConfig describes one routable model and its pricing.
type ModelConfig struct {
	Name string `yaml:"name"`

	// InputCostPer1K and OutputCostPer1K price tokens in account
	// currency per thousand.
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`

	// MaxTokens is the model context limit. 0 means unknown.
	MaxTokens int `yaml:"max_tokens,omitempty"`
}

// RouterConfig tunes cost-aware model selection.
type RouterConfig struct {
	// Enabled switches routing on. When off every call uses DefaultModel.
	Enabled *bool `yaml:"enabled,omitempty"`

	// DefaultModel is the fallback when no candidate fits the
	// constraints. Required when Models is non-empty.
	DefaultModel string `yaml:"default_model"`

	// Models lists the routable candidates.
	Models []ModelConfig `yaml:"models,omitempty"`

	// LatencyWindow is the per-model latency sample ring size used for
	// p95 estimation.
	LatencyWindow int `yaml:"latency_window"`
}

// RoutingEnabled resolves the Enabled pointer, defaulting to true.
func (c *RouterConfig) RoutingEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SetDefaults applies default values to the router config.
func (c *RouterConfig) SetDefaults() {
	if c.LatencyWindow == 0 {
		c.LatencyWindow = 128
	}
	if c.DefaultModel == "" && len(c.Models) > 0 {
		c.DefaultModel = c.Models[0].Name
	}
}

// Validate checks the router configuration.
func (c *RouterConfig) Validate() error {
	if c.LatencyWindow < 1 {
		return fmt.Errorf("latency_window must be >= 1, got %d", c.LatencyWindow)
	}

	seen := make(map[string]bool, len(c.Models))
	defaultFound := len(c.Models) == 0
	for i, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("models[%d]: name is required", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate model %q", m.Name)
		}
		seen[m.Name] = true
		if m.InputCostPer1K < 0 || m.OutputCostPer1K < 0 {
			return fmt.Errorf("model %q: costs must be non-negative", m.Name)
		}
		if m.MaxTokens < 0 {
			return fmt.Errorf("model %q: max_tokens must be non-negative", m.Name)
		}
		if m.Name == c.DefaultModel {
			defaultFound = true
		}
	}
	if !defaultFound {
		return fmt.Errorf("default_model %q is not in models", c.DefaultModel)
	}
	return nil
}

func (c RouterConfig) clone() RouterConfig {
	out := c
	out.Models = append([]ModelConfig(nil), c.Models...)
	if c.Enabled != nil {
		v := *c.Enabled
		out.Enabled = &v
	}
	return out
}

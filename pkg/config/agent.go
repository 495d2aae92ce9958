package config

// AgentConfig carries optional per-agent overrides. All fields fall back to
// runtime defaults when zero.
type AgentConfig struct {
	// Model pins the agent to a specific model, bypassing the router.
	Model string `yaml:"model,omitempty"`

	// LatencyBudgetMS is the per-call latency budget the router matches
	// model candidates against. 0 means no latency constraint.
	LatencyBudgetMS int `yaml:"latency_budget_ms,omitempty"`

	// TimeoutS overrides the runtime per-agent timeout, in seconds.
	TimeoutS int `yaml:"timeout_s,omitempty"`

	// Weight biases planner task affinity ordering. 0 means neutral.
	Weight float64 `yaml:"weight,omitempty"`
}

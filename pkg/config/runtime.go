package config

import "fmt"

// RuntimeConfig bounds agent execution: timeouts, retry policy, and the
// per-agent circuit breaker.
type RuntimeConfig struct {
	// AgentTimeoutS caps a single agent invocation, in seconds.
	AgentTimeoutS int `yaml:"agent_timeout_s"`

	// CycleTimeoutS caps one full cycle, in seconds.
	CycleTimeoutS int `yaml:"cycle_timeout_s"`

	// MaxRetries is the total number of attempts for a transient failure,
	// including the first.
	MaxRetries int `yaml:"max_retries"`

	// RetryBaseMS is the base backoff delay in milliseconds; the delay
	// doubles each attempt with +/-20% jitter.
	RetryBaseMS int `yaml:"retry_base_ms"`

	// BreakerFailures is the consecutive-failure count that opens the
	// per-agent breaker.
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerCooldownCycles is how many cycles an open breaker skips the
	// agent before allowing a half-open probe.
	BreakerCooldownCycles int `yaml:"breaker_cooldown_cycles"`
}

// SetDefaults applies default values to the runtime config.
func (c *RuntimeConfig) SetDefaults() {
	if c.AgentTimeoutS == 0 {
		c.AgentTimeoutS = 30
	}
	if c.CycleTimeoutS == 0 {
		c.CycleTimeoutS = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseMS == 0 {
		c.RetryBaseMS = 200
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 3
	}
	if c.BreakerCooldownCycles == 0 {
		c.BreakerCooldownCycles = 1
	}
}

// Validate checks the runtime configuration.
func (c *RuntimeConfig) Validate() error {
	if c.AgentTimeoutS < 1 {
		return fmt.Errorf("agent_timeout_s must be >= 1, got %d", c.AgentTimeoutS)
	}
	if c.CycleTimeoutS < c.AgentTimeoutS {
		return fmt.Errorf("cycle_timeout_s (%d) must be >= agent_timeout_s (%d)", c.CycleTimeoutS, c.AgentTimeoutS)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1, got %d", c.MaxRetries)
	}
	if c.RetryBaseMS < 1 {
		return fmt.Errorf("retry_base_ms must be >= 1, got %d", c.RetryBaseMS)
	}
	if c.BreakerFailures < 1 {
		return fmt.Errorf("breaker_failures must be >= 1, got %d", c.BreakerFailures)
	}
	if c.BreakerCooldownCycles < 1 {
		return fmt.Errorf("breaker_cooldown_cycles must be >= 1, got %d", c.BreakerCooldownCycles)
	}
	return nil
}

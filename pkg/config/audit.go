package config

import "fmt"

// Hedge modes for answers containing unverified claims.
const (
	HedgePrefix = "prefix"
	HedgeInline = "inline"
	HedgeNone   = "none"
)

// AuditConfig tunes the per-claim verification pass that runs between
// synthesis and response assembly.
type AuditConfig struct {
	// Enabled switches the audit pass on. Defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`

	// SupportThreshold is the minimum entailment score for a claim to be
	// marked supported.
	SupportThreshold float64 `yaml:"support_threshold"`

	// UnsupportedThreshold is the score at or below which a claim is
	// marked unsupported. Scores between the two thresholds need review.
	UnsupportedThreshold float64 `yaml:"unsupported_threshold"`

	// MaxRetryResults caps the extra retrieval results fetched when the
	// first entailment round is inconclusive.
	MaxRetryResults int `yaml:"max_retry_results"`

	// MaxRounds caps entailment rounds per claim.
	MaxRounds int `yaml:"max_rounds"`

	// HedgeMode controls how unverified claims surface in the answer:
	// prefix, inline, or none.
	HedgeMode string `yaml:"hedge_mode"`

	// RequireHumanAck blocks response delivery on unsupported claims
	// until an operator acknowledges them.
	RequireHumanAck bool `yaml:"require_human_ack,omitempty"`

	// AckTimeoutS bounds the wait for operator acknowledgement, in
	// seconds. On timeout the response is released with a warning.
	AckTimeoutS int `yaml:"ack_timeout_s,omitempty"`
}

// IsEnabled resolves the Enabled pointer, defaulting to true.
func (c *AuditConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SetDefaults applies default values to the audit config.
func (c *AuditConfig) SetDefaults() {
	if c.SupportThreshold == 0 {
		c.SupportThreshold = 0.75
	}
	if c.UnsupportedThreshold == 0 {
		c.UnsupportedThreshold = 0.3
	}
	if c.MaxRetryResults == 0 {
		c.MaxRetryResults = 5
	}
	if c.MaxRounds == 0 {
		c.MaxRounds = 2
	}
	if c.HedgeMode == "" {
		c.HedgeMode = HedgePrefix
	}
	if c.AckTimeoutS == 0 {
		c.AckTimeoutS = 60
	}
}

// Validate checks the audit configuration.
func (c *AuditConfig) Validate() error {
	if c.SupportThreshold < 0 || c.SupportThreshold > 1 {
		return fmt.Errorf("support_threshold must be in [0,1], got %v", c.SupportThreshold)
	}
	if c.UnsupportedThreshold < 0 || c.UnsupportedThreshold > 1 {
		return fmt.Errorf("unsupported_threshold must be in [0,1], got %v", c.UnsupportedThreshold)
	}
	if c.UnsupportedThreshold >= c.SupportThreshold {
		return fmt.Errorf("unsupported_threshold (%v) must be below support_threshold (%v)",
			c.UnsupportedThreshold, c.SupportThreshold)
	}
	if c.MaxRetryResults < 0 {
		return fmt.Errorf("max_retry_results must be non-negative")
	}
	if c.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be >= 1, got %d", c.MaxRounds)
	}
	switch c.HedgeMode {
	case HedgePrefix, HedgeInline, HedgeNone:
	default:
		return fmt.Errorf("invalid hedge_mode %q (valid: prefix, inline, none)", c.HedgeMode)
	}
	if c.AckTimeoutS < 0 {
		return fmt.Errorf("ack_timeout_s must be non-negative")
	}
	return nil
}

// Package config defines the immutable configuration snapshot consumed by
// the orchestration core. A Snapshot is captured once at query submit and
// never re-read from global state, so concurrent edits by an outer shell
// cannot change a running query.
package config

import (
	"fmt"
)

// Reasoning modes supported by the orchestrator.
const (
	ModeDirect         = "direct"
	ModeDialectical    = "dialectical"
	ModeChainOfThought = "chain-of-thought"
	ModeAuto           = "auto"
)

// Snapshot is the full configuration for one query.
type Snapshot struct {
	// ReasoningMode selects the loop shape: direct, dialectical,
	// chain-of-thought, or auto (scout pass decides).
	ReasoningMode string `yaml:"reasoning_mode"`

	// Loops caps the number of debate cycles.
	Loops int `yaml:"loops"`

	// PrimusStart indexes the roster agent that opens cycle 0. Rotation
	// advances it by one each cycle.
	PrimusStart int `yaml:"primus_start"`

	// Roster lists the agents in base order. Must be non-empty.
	Roster []string `yaml:"roster"`

	// Agents holds optional per-agent overrides keyed by roster name.
	Agents map[string]AgentConfig `yaml:"agents,omitempty"`

	// TokenBudget caps total tokens for the query. 0 means unlimited.
	TokenBudget int `yaml:"token_budget,omitempty"`

	// CostBudget caps estimated spend for the query. 0 means unlimited.
	CostBudget float64 `yaml:"cost_budget,omitempty"`

	// TimeBudgetS caps total wall time for the query, in seconds. 0 means
	// unlimited.
	TimeBudgetS int `yaml:"time_budget_s,omitempty"`

	Runtime   RuntimeConfig   `yaml:"runtime"`
	Gate      GateConfig      `yaml:"gate"`
	Audit     AuditConfig     `yaml:"audit"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Storage   StorageConfig   `yaml:"storage"`
	Router    RouterConfig    `yaml:"router"`
}

// DefaultSnapshot returns a snapshot with documented defaults and a minimal
// dialectical roster.
func DefaultSnapshot() *Snapshot {
	s := &Snapshot{
		ReasoningMode: ModeDialectical,
		Loops:         2,
		Roster:        []string{"synthesizer", "contrarian", "fact_checker"},
	}
	s.SetDefaults()
	return s
}

// SetDefaults fills unset fields with documented defaults.
func (s *Snapshot) SetDefaults() {
	if s.ReasoningMode == "" {
		s.ReasoningMode = ModeDialectical
	}
	if s.Loops == 0 {
		s.Loops = 2
	}

	s.Runtime.SetDefaults()
	s.Gate.SetDefaults()
	s.Audit.SetDefaults()
	s.Retrieval.SetDefaults()
	s.Storage.SetDefaults()
	s.Router.SetDefaults()
}

// Validate checks the whole snapshot. Callers surface failures as a config
// error before any cycle runs.
func (s *Snapshot) Validate() error {
	switch s.ReasoningMode {
	case ModeDirect, ModeDialectical, ModeChainOfThought, ModeAuto:
	default:
		return fmt.Errorf("invalid reasoning_mode %q (valid: direct, dialectical, chain-of-thought, auto)", s.ReasoningMode)
	}

	if s.Loops < 1 {
		return fmt.Errorf("loops must be >= 1, got %d", s.Loops)
	}
	if len(s.Roster) == 0 {
		return fmt.Errorf("agent roster cannot be empty")
	}
	for i, name := range s.Roster {
		if name == "" {
			return fmt.Errorf("roster entry %d is empty", i)
		}
	}
	if s.PrimusStart < 0 || s.PrimusStart >= len(s.Roster) {
		return fmt.Errorf("primus_start %d out of roster range [0,%d)", s.PrimusStart, len(s.Roster))
	}
	if s.TokenBudget < 0 {
		return fmt.Errorf("token_budget must be non-negative")
	}
	if s.CostBudget < 0 {
		return fmt.Errorf("cost_budget must be non-negative")
	}
	if s.TimeBudgetS < 0 {
		return fmt.Errorf("time_budget_s must be non-negative")
	}

	if err := s.Runtime.Validate(); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	if err := s.Gate.Validate(); err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	if err := s.Audit.Validate(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := s.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := s.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := s.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	return nil
}

// Clone returns a deep copy. The orchestrator clones the caller's snapshot
// at submit so later mutations by the shell cannot leak into a running query.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	out := *s

	out.Roster = append([]string(nil), s.Roster...)

	if s.Agents != nil {
		out.Agents = make(map[string]AgentConfig, len(s.Agents))
		for k, v := range s.Agents {
			out.Agents[k] = v
		}
	}

	out.Retrieval = s.Retrieval.clone()
	out.Router = s.Router.clone()

	return &out
}

// AgentFor returns the per-agent overrides for name. Missing entries yield
// the zero value, which means "use runtime defaults".
func (s *Snapshot) AgentFor(name string) AgentConfig {
	if s.Agents == nil {
		return AgentConfig{}
	}
	return s.Agents[name]
}

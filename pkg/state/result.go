package state

import "github.com/autoresearch/autoresearch/pkg/protocol"

// AgentStatus is the outcome of one agent execution.
type AgentStatus string

const (
	StatusOK      AgentStatus = "ok"
	StatusRetried AgentStatus = "retried"
	StatusFailed  AgentStatus = "failed"
	StatusTimeout AgentStatus = "timeout"
)

// Recovery strategies recorded on retried results.
const (
	RecoveryRetryBackoff = "retry_with_backoff"
	RecoveryBreakerSkip  = "breaker_skip"
)

// AgentResult is the record of one agent execution within a cycle. The
// query state appends results in rotated-roster order; claims and sources
// carried here are merged into the state by Update.
type AgentResult struct {
	AgentName string      `json:"agent_name"`
	Cycle     int         `json:"cycle"`
	Status    AgentStatus `json:"status"`

	// Content is the agent's prose output, surfaced in the reasoning
	// trace.
	Content string `json:"content,omitempty"`

	ClaimsAdded  []Claim  `json:"claims_added,omitempty"`
	SourcesAdded []Source `json:"sources_added,omitempty"`

	TokensIn      int     `json:"tokens_in"`
	TokensOut     int     `json:"tokens_out"`
	LatencyMS     float64 `json:"latency_ms"`
	ModelSelected string  `json:"model_selected,omitempty"`

	// Attempts counts executions including the first; >1 implies retries.
	Attempts int `json:"attempts,omitempty"`

	// RecoveryStrategy names how a transient failure was recovered.
	RecoveryStrategy string `json:"recovery_strategy,omitempty"`

	// RetryDelaysMS records the backoff delays applied between attempts.
	RetryDelaysMS []float64 `json:"retry_delays_ms,omitempty"`

	ErrorKind    protocol.ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

// Failed reports whether the execution ended without a usable output.
func (r *AgentResult) Failed() bool {
	return r.Status == StatusFailed || r.Status == StatusTimeout
}

// Clone deep-copies the result.
func (r AgentResult) Clone() AgentResult {
	out := r
	out.ClaimsAdded = make([]Claim, len(r.ClaimsAdded))
	for i, c := range r.ClaimsAdded {
		out.ClaimsAdded[i] = c.Clone()
	}
	out.SourcesAdded = make([]Source, len(r.SourcesAdded))
	for i, s := range r.SourcesAdded {
		out.SourcesAdded[i] = s.Clone()
	}
	out.RetryDelaysMS = append([]float64(nil), r.RetryDelaysMS...)
	return out
}

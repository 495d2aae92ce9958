package protocol

import "strings"

// AuditStatus is the verdict assigned to one extracted claim.
type AuditStatus string

const (
	AuditSupported   AuditStatus = "supported"
	AuditNeedsReview AuditStatus = "needs_review"
	AuditUnsupported AuditStatus = "unsupported"
)

// AuditRecord is the audit outcome for a single claim.
type AuditRecord struct {
	ClaimID         string      `json:"claim_id"`
	ClaimText       string      `json:"claim_text"`
	Status          AuditStatus `json:"status"`
	EntailmentScore float64     `json:"entailment_score"`
	StabilityScore  float64     `json:"stability_score"`
	Sources         []string    `json:"sources,omitempty"`
	RetryCount      int         `json:"retry_count"`
	Notes           string      `json:"notes,omitempty"`
}

// ReasoningStep is one entry of the structured reasoning trace.
type ReasoningStep struct {
	Agent     string   `json:"agent"`
	Cycle     int      `json:"cycle"`
	Content   string   `json:"content"`
	ClaimRefs []string `json:"claim_refs,omitempty"`
}

// Warning is a structured advisory. Warnings never get concatenated into
// the answer string.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	ClaimID string `json:"claim_id,omitempty"`
}

// Warning codes emitted by the core.
const (
	WarnUnsupportedClaim = "unsupported_claim"
	WarnNeedsReview      = "needs_review_claim"
	WarnHedgeBanner      = "hedge_banner"
	WarnAckTimeout       = "ack_timeout"
	WarnPlanRepaired     = "plan_repaired"
	WarnRoutingDegraded  = "routing_degraded"
	WarnPartialResult    = "partial_result"
	WarnBannerStripped   = "banner_stripped"
)

// WarningPrefixes is the fixed set of banner prefixes that must never
// appear inside the answer string. Hedged answers annotate unsupported
// segments inline without these markers.
var WarningPrefixes = []string{
	"WARNING:",
	"Warning:",
	"CAUTION:",
	"[WARNING]",
	"[UNSUPPORTED]",
}

// RoutingDecision records one model selection made by the router.
type RoutingDecision struct {
	Agent         string  `json:"agent"`
	Model         string  `json:"model"`
	EstimatedCost float64 `json:"estimated_cost"`
	Degraded      bool    `json:"degraded"`
	Reason        string  `json:"reason,omitempty"`
}

// GateSignals is the signal snapshot the gate policy evaluated, together
// with the thresholds in force at decision time.
type GateSignals struct {
	RetrievalOverlap   float64 `json:"retrieval_overlap"`
	ClaimConflict      float64 `json:"claim_conflict"`
	MultiHopRequired   bool    `json:"multi_hop_required"`
	GraphContradiction bool    `json:"graph_contradiction"`

	OverlapThreshold  float64 `json:"overlap_threshold"`
	ConflictThreshold float64 `json:"conflict_threshold"`
	Action            string  `json:"action,omitempty"`
}

// ResponseMetrics is the telemetry summary attached to every response.
type ResponseMetrics struct {
	TokensIn                int                `json:"tokens_in"`
	TokensOut               int                `json:"tokens_out"`
	TokensByAgent           map[string]int     `json:"tokens_by_agent,omitempty"`
	AgentLatencyP50MS       map[string]float64 `json:"agent_latency_p50_ms,omitempty"`
	AgentLatencyP95MS       map[string]float64 `json:"agent_latency_p95_ms,omitempty"`
	ModelRoutingDecisions   []RoutingDecision  `json:"model_routing_decisions,omitempty"`
	ModelRoutingCostSavings float64            `json:"model_routing_cost_savings"`
	CyclesRun               int                `json:"cycles_run"`
	GateSignals             *GateSignals       `json:"gate_signals,omitempty"`
	ScoutSamples            int                `json:"scout_samples"`
	CacheHit                bool               `json:"cache_hit"`
	Partial                 bool               `json:"partial"`
}

// DepthSections is the optional layered rendering of the answer.
type DepthSections struct {
	TLDR     string `json:"tldr,omitempty"`
	Findings string `json:"findings,omitempty"`
	Claims   string `json:"claims,omitempty"`
	Trace    string `json:"trace,omitempty"`
	Full     string `json:"full,omitempty"`
}

// QueryResponse is the stable output contract of the orchestration core.
type QueryResponse struct {
	QueryID       string          `json:"query_id"`
	Answer        string          `json:"answer"`
	Reasoning     []ReasoningStep `json:"reasoning,omitempty"`
	ClaimAudits   []AuditRecord   `json:"claim_audits,omitempty"`
	Metrics       ResponseMetrics `json:"metrics"`
	Warnings      []Warning       `json:"warnings,omitempty"`
	DepthSections *DepthSections  `json:"depth_sections,omitempty"`
}

// HasWarningPrefix reports whether s contains any banner from the fixed
// warning prefix set. The auditor uses it as a final guard on the answer.
func HasWarningPrefix(s string) bool {
	for _, p := range WarningPrefixes {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

package orchestrator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/autoresearch/autoresearch/pkg/audit"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/state"
)

// buildResponse assembles the wire response from the final state: the
// sanitized answer, the reasoning trace, audit records, metrics, and the
// structured warning side channel.
func (r *run) buildResponse(outcome *audit.Outcome) *protocol.QueryResponse {
	answer, stripped := sanitizeAnswer(outcome.Answer)

	resp := &protocol.QueryResponse{
		QueryID:     r.state.QueryID(),
		Answer:      answer,
		Reasoning:   r.reasoningTrace(),
		ClaimAudits: outcome.Records,
	}

	if v, ok := r.state.Meta("plan_repaired"); ok {
		if repaired, _ := v.(bool); repaired {
			resp.Warnings = append(resp.Warnings, protocol.Warning{
				Code:    protocol.WarnPlanRepaired,
				Message: "task plan failed validation and was repaired deterministically",
			})
		}
	}
	resp.Warnings = append(resp.Warnings, outcome.Warnings...)
	resp.Warnings = append(resp.Warnings, stripped...)
	if degraded := r.router.DegradedCount(); degraded > 0 {
		resp.Warnings = append(resp.Warnings, protocol.Warning{
			Code:    protocol.WarnRoutingDegraded,
			Message: fmt.Sprintf("%d model selection(s) fell outside the cost and latency constraints", degraded),
		})
	}
	if r.partial {
		resp.Warnings = append(resp.Warnings, protocol.Warning{
			Code:    protocol.WarnPartialResult,
			Message: "best-effort answer: " + r.partialReason,
		})
	}

	r.fillMetrics(&resp.Metrics)
	resp.DepthSections = r.depthSections(answer, resp.Reasoning)
	return resp
}

func (r *run) fillMetrics(m *protocol.ResponseMetrics) {
	byAgent := make(map[string]int)
	latencies := make(map[string][]float64)

	for c := 0; c <= r.state.Cycle(); c++ {
		for _, res := range r.state.Results(c) {
			m.TokensIn += res.TokensIn
			m.TokensOut += res.TokensOut
			if used := res.TokensIn + res.TokensOut; used > 0 {
				byAgent[res.AgentName] += used
			}
			if res.LatencyMS > 0 {
				latencies[res.AgentName] = append(latencies[res.AgentName], res.LatencyMS)
			}
		}
	}
	if len(byAgent) > 0 {
		m.TokensByAgent = byAgent
	}
	if len(latencies) > 0 {
		m.AgentLatencyP50MS = make(map[string]float64, len(latencies))
		m.AgentLatencyP95MS = make(map[string]float64, len(latencies))
		for agent, samples := range latencies {
			sort.Float64s(samples)
			m.AgentLatencyP50MS[agent] = percentile(samples, 0.50)
			m.AgentLatencyP95MS[agent] = percentile(samples, 0.95)
		}
	}

	for _, d := range r.router.Decisions() {
		rd := protocol.RoutingDecision{
			Agent:         d.Agent,
			Model:         d.Model,
			EstimatedCost: d.EstimatedCost,
			Degraded:      d.Degraded,
		}
		switch {
		case d.Pinned:
			rd.Reason = "pinned by agent config"
		case d.Degraded:
			rd.Reason = "no candidate met the cost and latency constraints"
		}
		m.ModelRoutingDecisions = append(m.ModelRoutingDecisions, rd)
	}
	m.ModelRoutingCostSavings = r.router.CostSavings()

	m.CyclesRun = r.state.Cycle()
	m.Partial = r.partial

	if r.scoutResult != nil {
		m.ScoutSamples = len(r.scoutResult.Samples)
		m.CacheHit = r.scoutResult.CacheHit
	}
	if v, ok := r.state.Meta("cache_hit"); ok {
		if hit, _ := v.(bool); hit {
			m.CacheHit = true
		}
	}

	if d := r.gateDecision; d != nil {
		m.GateSignals = &protocol.GateSignals{
			RetrievalOverlap:   d.Signals.RetrievalOverlap,
			ClaimConflict:      d.Signals.ClaimConflict,
			MultiHopRequired:   d.Signals.MultiHopRequired,
			GraphContradiction: d.Signals.GraphContradiction,
			OverlapThreshold:   d.Thresholds.Overlap,
			ConflictThreshold:  d.Thresholds.Conflict,
			Action:             d.Action,
		}
	}
}

// reasoningTrace flattens per-cycle results into the ordered trace. Failed
// executions surface their error message as content so the trace shows
// what happened to each scheduled agent.
func (r *run) reasoningTrace() []protocol.ReasoningStep {
	var steps []protocol.ReasoningStep
	for c := 0; c <= r.state.Cycle(); c++ {
		for _, res := range r.state.Results(c) {
			content := res.Content
			if res.Failed() && content == "" {
				content = res.ErrorMessage
			}
			step := protocol.ReasoningStep{
				Agent:   res.AgentName,
				Cycle:   res.Cycle,
				Content: content,
			}
			for _, cl := range res.ClaimsAdded {
				step.ClaimRefs = append(step.ClaimRefs, cl.ID)
			}
			steps = append(steps, step)
		}
	}
	return steps
}

// depthSections renders the layered views of the answer: the first
// sentence, evidence-backed findings, the claim ledger, the agent trace,
// and the full text.
func (r *run) depthSections(answer string, trace []protocol.ReasoningStep) *protocol.DepthSections {
	ds := &protocol.DepthSections{Full: answer}

	if segs := audit.SplitSegments(answer); len(segs) > 0 {
		ds.TLDR = segs[0].Text
	}

	var findings, claimLines []string
	for _, c := range r.state.Claims() {
		claimLines = append(claimLines, fmt.Sprintf("[%s] %s", c.Type, c.Text))
		if c.Type == state.ClaimEvidence || c.Type == state.ClaimSynthesis {
			findings = append(findings, "- "+c.Text)
		}
	}
	ds.Claims = strings.Join(claimLines, "\n")
	ds.Findings = strings.Join(findings, "\n")

	var steps []string
	for _, s := range trace {
		steps = append(steps, fmt.Sprintf("cycle %d %s: %s", s.Cycle, s.Agent, s.Content))
	}
	ds.Trace = strings.Join(steps, "\n")
	return ds
}

// sanitizeAnswer strips banner prefixes a model may have emitted inside
// its text. The answer ships clean; each stripped banner becomes a
// structured warning.
func sanitizeAnswer(answer string) (string, []protocol.Warning) {
	var warnings []protocol.Warning
	for _, prefix := range protocol.WarningPrefixes {
		if !strings.Contains(answer, prefix) {
			continue
		}
		answer = strings.ReplaceAll(answer, prefix, "")
		warnings = append(warnings, protocol.Warning{
			Code:    protocol.WarnBannerStripped,
			Message: fmt.Sprintf("banner %q moved out of the answer", prefix),
		})
	}
	if len(warnings) > 0 {
		answer = strings.TrimSpace(answer)
	}
	return answer, warnings
}

// percentile returns the nearest-rank percentile of ascending samples.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

package router

import (
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/autoresearch/autoresearch/pkg/config"
)

// Decision records one model selection.
type Decision struct {
	Agent         string  `json:"agent"`
	Model         string  `json:"model"`
	EstimatedCost float64 `json:"estimated_cost"`

	// Pinned marks agents whose config names a model, which bypasses
	// selection entirely.
	Pinned bool `json:"pinned,omitempty"`

	// Degraded marks decisions where no candidate met both the cost and
	// latency constraints and the cheapest fallback was used.
	Degraded bool `json:"degraded,omitempty"`

	// Savings is the estimated cost difference against the default-model
	// baseline for the same token volume.
	Savings float64 `json:"savings"`
}

// AgentModelStats is the observed usage for one (agent, model) pair.
type AgentModelStats struct {
	Agent        string  `json:"agent"`
	Model        string  `json:"model"`
	Calls        int64   `json:"calls"`
	TokensIn     int64   `json:"tokens_in"`
	TokensOut    int64   `json:"tokens_out"`
	Cost         float64 `json:"cost"`
	P95LatencyMS float64 `json:"latency_p95_ms"`
}

type statKey struct {
	agent string
	model string
}

type modelStats struct {
	calls     int64
	tokensIn  int64
	tokensOut int64
	cost      float64
	latencies *latencyRing
}

// Router selects the cheapest model that fits the remaining cost budget
// slice and the agent's latency budget, tracking per-(agent, model) usage
// to feed the latency constraint. Safe for concurrent use.
type Router struct {
	mu sync.Mutex

	cfg   *config.RouterConfig
	stats map[statKey]*modelStats

	decisions []Decision
	degraded  int64
	savings   float64
}

// New creates a router over the configured model table.
func New(cfg *config.RouterConfig) *Router {
	return &Router{
		cfg:   cfg,
		stats: make(map[statKey]*modelStats),
	}
}

// Select picks the model for one agent invocation. estIn and estOut are
// the token estimates the cost check runs against; budget may be nil,
// which lifts the cost constraint.
func (r *Router) Select(agentName string, agentCfg config.AgentConfig, estIn, estOut int, budget *BudgetTracker, agentsRemaining int) Decision {
	costCap := math.MaxFloat64
	if budget != nil {
		costCap = budget.CostPerCall(agentsRemaining)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if agentCfg.Model != "" {
		d := Decision{Agent: agentName, Model: agentCfg.Model, Pinned: true}
		if m, ok := r.modelByNameLocked(agentCfg.Model); ok {
			d.EstimatedCost = modelCost(m, estIn, estOut)
		}
		return r.recordLocked(d)
	}

	if !r.cfg.RoutingEnabled() || len(r.cfg.Models) == 0 {
		d := Decision{Agent: agentName, Model: r.cfg.DefaultModel}
		if m, ok := r.modelByNameLocked(r.cfg.DefaultModel); ok {
			d.EstimatedCost = modelCost(m, estIn, estOut)
		}
		return r.recordLocked(d)
	}

	// Cheapest first; equal-cost candidates resolve by name so selection
	// is deterministic.
	candidates := append([]config.ModelConfig(nil), r.cfg.Models...)
	sort.Slice(candidates, func(i, j int) bool {
		ci := modelCost(candidates[i], estIn, estOut)
		cj := modelCost(candidates[j], estIn, estOut)
		if ci != cj {
			return ci < cj
		}
		return candidates[i].Name < candidates[j].Name
	})

	fallback := candidates[0]
	fallbackSet := false
	for _, m := range candidates {
		if m.MaxTokens > 0 && estIn+estOut > m.MaxTokens {
			continue
		}
		if !fallbackSet {
			fallback = m
			fallbackSet = true
		}

		cost := modelCost(m, estIn, estOut)
		if cost > costCap {
			continue
		}
		if agentCfg.LatencyBudgetMS > 0 {
			p95 := r.p95Locked(agentName, m.Name)
			if p95 > float64(agentCfg.LatencyBudgetMS) {
				continue
			}
		}

		d := Decision{
			Agent:         agentName,
			Model:         m.Name,
			EstimatedCost: cost,
			Savings:       r.savingsLocked(m, estIn, estOut),
		}
		return r.recordLocked(d)
	}

	d := Decision{
		Agent:         agentName,
		Model:         fallback.Name,
		EstimatedCost: modelCost(fallback, estIn, estOut),
		Degraded:      true,
		Savings:       r.savingsLocked(fallback, estIn, estOut),
	}
	slog.Warn("Routing degraded: no model met the cost and latency constraints",
		"agent", agentName,
		"model", d.Model,
		"cost_cap", costCap)
	return r.recordLocked(d)
}

// Observe records an executed call: tokens, cost, and latency for the
// (agent, model) pair, and charges the budget when one is given.
func (r *Router) Observe(agentName, model string, tokensIn, tokensOut int, latencyMS float64, budget *BudgetTracker) {
	var cost float64

	r.mu.Lock()
	if m, ok := r.modelByNameLocked(model); ok {
		cost = modelCost(m, tokensIn, tokensOut)
	}
	st := r.statsForLocked(agentName, model)
	st.calls++
	st.tokensIn += int64(tokensIn)
	st.tokensOut += int64(tokensOut)
	st.cost += cost
	if latencyMS > 0 {
		st.latencies.Add(latencyMS)
	}
	r.mu.Unlock()

	if budget != nil {
		budget.ChargeTokens(tokensIn, tokensOut)
		budget.ChargeCost(cost)
	}
}

// P95 returns the observed p95 latency for the pair, 0 when unobserved.
func (r *Router) P95(agentName, model string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.p95Locked(agentName, model)
}

// Decisions returns a copy of every selection made so far.
func (r *Router) Decisions() []Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Decision(nil), r.decisions...)
}

// DegradedCount returns how many selections fell back degraded.
func (r *Router) DegradedCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// CostSavings returns accumulated estimated savings against the
// default-model baseline.
func (r *Router) CostSavings() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.savings
}

// StatsSnapshot returns per-(agent, model) usage sorted by agent then
// model.
func (r *Router) StatsSnapshot() []AgentModelStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AgentModelStats, 0, len(r.stats))
	for key, st := range r.stats {
		out = append(out, AgentModelStats{
			Agent:        key.agent,
			Model:        key.model,
			Calls:        st.calls,
			TokensIn:     st.tokensIn,
			TokensOut:    st.tokensOut,
			Cost:         st.cost,
			P95LatencyMS: st.latencies.P95(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Agent != out[j].Agent {
			return out[i].Agent < out[j].Agent
		}
		return out[i].Model < out[j].Model
	})
	return out
}

func (r *Router) recordLocked(d Decision) Decision {
	r.decisions = append(r.decisions, d)
	if d.Degraded {
		r.degraded++
	}
	r.savings += d.Savings
	return d
}

// savingsLocked estimates spend avoided against running the same call on
// the default model.
func (r *Router) savingsLocked(chosen config.ModelConfig, estIn, estOut int) float64 {
	baseline, ok := r.modelByNameLocked(r.cfg.DefaultModel)
	if !ok {
		return 0
	}
	return modelCost(baseline, estIn, estOut) - modelCost(chosen, estIn, estOut)
}

func (r *Router) modelByNameLocked(name string) (config.ModelConfig, bool) {
	for _, m := range r.cfg.Models {
		if m.Name == name {
			return m, true
		}
	}
	return config.ModelConfig{}, false
}

func (r *Router) statsForLocked(agentName, model string) *modelStats {
	key := statKey{agent: agentName, model: model}
	st, ok := r.stats[key]
	if !ok {
		st = &modelStats{latencies: newLatencyRing(r.cfg.LatencyWindow)}
		r.stats[key] = st
	}
	return st
}

func (r *Router) p95Locked(agentName, model string) float64 {
	st, ok := r.stats[statKey{agent: agentName, model: model}]
	if !ok {
		return 0
	}
	return st.latencies.P95()
}

func modelCost(m config.ModelConfig, in, out int) float64 {
	return float64(in)/1000*m.InputCostPer1K + float64(out)/1000*m.OutputCostPer1K
}

// latencyRing keeps the last N latency samples and computes an exact p95
// over the window.
type latencyRing struct {
	samples []float64
	next    int
	count   int
}

func newLatencyRing(size int) *latencyRing {
	if size < 1 {
		size = 1
	}
	return &latencyRing{samples: make([]float64, size)}
}

func (l *latencyRing) Add(ms float64) {
	l.samples[l.next] = ms
	l.next = (l.next + 1) % len(l.samples)
	if l.count < len(l.samples) {
		l.count++
	}
}

// P95 returns the smallest sample covering 95% of the window, 0 when
// empty.
func (l *latencyRing) P95() float64 {
	if l.count == 0 {
		return 0
	}
	window := append([]float64(nil), l.samples[:l.count]...)
	sort.Float64s(window)

	idx := int(math.Ceil(0.95*float64(l.count))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= l.count {
		idx = l.count - 1
	}
	return window[idx]
}

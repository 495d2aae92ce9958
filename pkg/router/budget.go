// Package router implements cost-aware model selection and query budget
// tracking. Before each agent execution the router picks the cheapest model
// that fits the remaining cost budget and the agent's latency budget,
// falling back to the cheapest candidate (flagged degraded) when nothing
// qualifies.
package router

import (
	"math"
	"sync"
	"time"

	"github.com/autoresearch/autoresearch/pkg/state"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// BudgetSnapshot is a point-in-time view of the query budget, reported in
// response telemetry.
type BudgetSnapshot struct {
	TokensUsed      int           `json:"tokens_used"`
	TokensRemaining int           `json:"tokens_remaining"`
	CostSpent       float64       `json:"cost_spent"`
	CostLimited     bool          `json:"cost_limited"`
	CostRemaining   float64       `json:"cost_remaining"`
	CyclesRemaining int           `json:"cycles_remaining"`
	TimeRemaining   time.Duration `json:"time_remaining"`
}

// BudgetTracker charges token, time, cycle, and cost spend against the
// query budget. All remaining values are monotonically non-increasing; a
// zero cost limit means unlimited spend. Safe for concurrent use.
type BudgetTracker struct {
	mu sync.Mutex

	budget    *state.CycleBudget
	costLimit float64

	tokensUsed int
	costSpent  float64

	counter *utils.TokenCounter
}

// NewBudgetTracker wraps a cycle budget with a cost ceiling. counter may be
// nil, in which case token estimation falls back to the character
// heuristic.
func NewBudgetTracker(budget *state.CycleBudget, costLimit float64, counter *utils.TokenCounter) *BudgetTracker {
	if budget == nil {
		budget = state.NewCycleBudget(0, 0, 1)
	}
	if costLimit < 0 {
		costLimit = 0
	}
	return &BudgetTracker{
		budget:    budget,
		costLimit: costLimit,
		counter:   counter,
	}
}

// EstimateTokens counts tokens across prompt parts for selection-time cost
// estimation.
func (t *BudgetTracker) EstimateTokens(parts ...string) int {
	return t.counter.CountPrompt(parts...)
}

// ChargeTokens subtracts used tokens from the budget.
func (t *BudgetTracker) ChargeTokens(in, out int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	used := in + out
	if used <= 0 {
		return
	}
	t.tokensUsed += used
	t.budget.ChargeTokens(used)
}

// ChargeCost adds spend against the cost ceiling.
func (t *BudgetTracker) ChargeCost(cost float64) {
	if cost <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.costSpent += cost
}

// ChargeTime subtracts elapsed wall time from the budget.
func (t *BudgetTracker) ChargeTime(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budget.ChargeTime(d)
}

// ChargeCycle consumes one debate cycle.
func (t *BudgetTracker) ChargeCycle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budget.ChargeCycle()
}

// Exhausted reports whether any limited resource has run out, and which
// one. The reason feeds the BudgetExhausted error message.
func (t *BudgetTracker) Exhausted() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.budget.TokenLimited() && t.budget.TokensRemaining <= 0 {
		return true, "tokens"
	}
	if t.budget.TimeLimited() && t.budget.TimeRemaining <= 0 {
		return true, "time"
	}
	if t.budget.CyclesRemaining <= 0 {
		return true, "cycles"
	}
	if t.costLimit > 0 && t.costSpent >= t.costLimit {
		return true, "cost"
	}
	return false, ""
}

// CostPerCall returns the per-agent slice of the remaining cost budget.
// Unlimited budgets return MaxFloat64 so every candidate passes the cost
// check.
func (t *BudgetTracker) CostPerCall(agentsRemaining int) float64 {
	if agentsRemaining < 1 {
		agentsRemaining = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.costLimit <= 0 {
		return math.MaxFloat64
	}
	remaining := t.costLimit - t.costSpent
	if remaining <= 0 {
		return 0
	}
	return remaining / float64(agentsRemaining)
}

// CyclesRemaining returns the debate cycles left.
func (t *BudgetTracker) CyclesRemaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budget.CyclesRemaining
}

// TokensUsed returns total tokens charged so far.
func (t *BudgetTracker) TokensUsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokensUsed
}

// Snapshot returns the current budget state.
func (t *BudgetTracker) Snapshot() BudgetSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var remaining float64
	if t.costLimit > 0 {
		remaining = t.costLimit - t.costSpent
		if remaining < 0 {
			remaining = 0
		}
	}
	return BudgetSnapshot{
		TokensUsed:      t.tokensUsed,
		TokensRemaining: t.budget.TokensRemaining,
		CostSpent:       t.costSpent,
		CostLimited:     t.costLimit > 0,
		CostRemaining:   remaining,
		CyclesRemaining: t.budget.CyclesRemaining,
		TimeRemaining:   t.budget.TimeRemaining,
	}
}

package runtime

import (
	"context"
	"sync"

	"github.com/autoresearch/autoresearch/pkg/observability"
)

// BreakerState is the lifecycle position of a per-agent circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CycleBreaker guards one agent within one query. Unlike the wall-clock
// breakers on search backends, cooldown here is denominated in debate
// cycles: an open breaker skips the agent until the cooldown cycles have
// passed, then admits a single half-open probe.
type CycleBreaker struct {
	mu sync.Mutex

	agent            string
	failureThreshold int
	cooldownCycles   int

	state               BreakerState
	consecutiveFailures int
	openedAtCycle       int
}

// NewCycleBreaker creates a closed breaker for one agent.
func NewCycleBreaker(agent string, failureThreshold, cooldownCycles int) *CycleBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if cooldownCycles < 1 {
		cooldownCycles = 1
	}
	return &CycleBreaker{
		agent:            agent,
		failureThreshold: failureThreshold,
		cooldownCycles:   cooldownCycles,
	}
}

// Allow reports whether the agent may execute in the given cycle. An open
// breaker whose cooldown has elapsed moves to half-open and admits the
// call as a probe.
func (b *CycleBreaker) Allow(ctx context.Context, cycle int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	default:
		if cycle > b.openedAtCycle+b.cooldownCycles {
			b.transitionLocked(ctx, BreakerHalfOpen)
			return true
		}
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CycleBreaker) RecordSuccess(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state != BreakerClosed {
		b.transitionLocked(ctx, BreakerClosed)
	}
}

// RecordFailure counts one failed execution in the given cycle. A hard
// failure (non-retriable error kind) or a failed half-open probe opens the
// breaker immediately; transient failures open it at the threshold.
func (b *CycleBreaker) RecordFailure(ctx context.Context, cycle int, hard bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++

	if b.state == BreakerHalfOpen {
		b.openedAtCycle = cycle
		b.transitionLocked(ctx, BreakerOpen)
		return
	}
	if hard || b.consecutiveFailures >= b.failureThreshold {
		b.openedAtCycle = cycle
		if b.state != BreakerOpen {
			b.transitionLocked(ctx, BreakerOpen)
		}
	}
}

// State returns the current breaker state.
func (b *CycleBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the running failure count.
func (b *CycleBreaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

func (b *CycleBreaker) transitionLocked(ctx context.Context, to BreakerState) {
	from := b.state
	b.state = to
	observability.RecordBreakerTransition(ctx, b.agent, from.String(), to.String())
}

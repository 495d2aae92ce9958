// Package runtime executes agents under the per-query reliability policy:
// bounded retries with jittered exponential backoff, per-agent timeouts,
// and cycle-denominated circuit breakers. Failures never escape as Go
// errors; every execution comes back as a tagged result variant.
package runtime

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/observability"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/state"
)

// AgentFunc is one agent execution attempt. The context carries the
// per-attempt timeout.
type AgentFunc func(ctx context.Context) (*state.AgentResult, error)

// Runner executes agents for one query. Breaker state lives on the
// runner, so it never leaks across queries.
type Runner struct {
	cfg config.RuntimeConfig

	mu       sync.Mutex
	breakers map[string]*CycleBreaker

	// sleep and jitter are swapped out in tests for determinism.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewRunner creates a runner with the given policy.
func NewRunner(cfg config.RuntimeConfig) *Runner {
	cfg.SetDefaults()
	return &Runner{
		cfg:      cfg,
		breakers: make(map[string]*CycleBreaker),
		sleep:    sleepContext,
		jitter:   rand.Float64,
	}
}

// Execute runs one agent call for the given cycle. Retries apply only to
// Transient and RateLimited kinds; other kinds fail once and trip the
// agent's breaker. A skipped agent (breaker open) returns a failed result
// tagged with the breaker_skip recovery strategy without invoking fn.
func (r *Runner) Execute(ctx context.Context, agentName string, cycle int, fn AgentFunc) *state.AgentResult {
	breaker := r.breakerFor(agentName)

	if !breaker.Allow(ctx, cycle) {
		return &state.AgentResult{
			AgentName:        agentName,
			Cycle:            cycle,
			Status:           state.StatusFailed,
			RecoveryStrategy: state.RecoveryBreakerSkip,
			ErrorKind:        protocol.KindAgentFailure,
			ErrorMessage:     "circuit breaker open, agent skipped this cycle",
		}
	}
	probing := breaker.State() == BreakerHalfOpen

	timeout := time.Duration(r.cfg.AgentTimeoutS) * time.Second

	var (
		delays   []float64
		lastErr  error
		attempts int
		timedOut bool
		hard     bool
	)

	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		started := time.Now()
		res, err := fn(attemptCtx)
		elapsed := time.Since(started)
		cancel()

		if err == nil {
			breaker.RecordSuccess(ctx)
			if res == nil {
				res = &state.AgentResult{}
			}
			res.AgentName = agentName
			res.Cycle = cycle
			res.Status = state.StatusOK
			res.Attempts = attempt
			res.LatencyMS = float64(elapsed) / float64(time.Millisecond)
			res.RetryDelaysMS = delays
			if attempt > 1 {
				res.Status = state.StatusRetried
				res.RecoveryStrategy = state.RecoveryRetryBackoff
			}
			if probing {
				res.Status = state.StatusRetried
				res.RecoveryStrategy = state.RecoveryBreakerSkip
			}
			observability.RecordAgentCall(ctx, agentName, res.ModelSelected, elapsed, res.TokensIn+res.TokensOut, nil)
			return res
		}

		if ctx.Err() != nil {
			// Caller cancellation aborts without breaker accounting.
			return &state.AgentResult{
				AgentName:     agentName,
				Cycle:         cycle,
				Status:        state.StatusFailed,
				Attempts:      attempt,
				RetryDelaysMS: delays,
				ErrorKind:     protocol.KindCancelled,
				ErrorMessage:  err.Error(),
			}
		}

		lastErr = err
		attempts = attempt
		timedOut = errors.Is(err, context.DeadlineExceeded)

		if !protocol.IsRetriable(err) {
			hard = true
			break
		}
		if attempt >= r.cfg.MaxRetries {
			break
		}

		delay := r.backoffDelay(attempt, err)
		delays = append(delays, float64(delay)/float64(time.Millisecond))
		slog.Debug("Agent execution failed, backing off",
			"agent", agentName,
			"cycle", cycle,
			"attempt", attempt,
			"delay_ms", float64(delay)/float64(time.Millisecond),
			"error", err)
		if serr := r.sleep(ctx, delay); serr != nil {
			return &state.AgentResult{
				AgentName:     agentName,
				Cycle:         cycle,
				Status:        state.StatusFailed,
				Attempts:      attempt,
				RetryDelaysMS: delays,
				ErrorKind:     protocol.KindCancelled,
				ErrorMessage:  serr.Error(),
			}
		}
	}

	breaker.RecordFailure(ctx, cycle, hard)

	status := state.StatusFailed
	if timedOut {
		status = state.StatusTimeout
	}
	slog.Warn("Agent execution failed",
		"agent", agentName,
		"cycle", cycle,
		"attempts", attempts,
		"kind", string(protocol.KindOf(lastErr)),
		"error", lastErr)
	observability.RecordAgentCall(ctx, agentName, "", 0, 0, lastErr)

	return &state.AgentResult{
		AgentName:     agentName,
		Cycle:         cycle,
		Status:        status,
		Attempts:      attempts,
		RetryDelaysMS: delays,
		ErrorKind:     protocol.KindOf(lastErr),
		ErrorMessage:  lastErr.Error(),
	}
}

// BreakerState reports the breaker state for an agent, closed when the
// agent has never run.
func (r *Runner) BreakerState(agentName string) BreakerState {
	r.mu.Lock()
	b, ok := r.breakers[agentName]
	r.mu.Unlock()
	if !ok {
		return BreakerClosed
	}
	return b.State()
}

func (r *Runner) breakerFor(agentName string) *CycleBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[agentName]
	if !ok {
		b = NewCycleBreaker(agentName, r.cfg.BreakerFailures, r.cfg.BreakerCooldownCycles)
		r.breakers[agentName] = b
	}
	return b
}

// backoffDelay doubles the base per attempt with +/-20% jitter. A
// rate-limit hint extends the delay but never shortens it.
func (r *Runner) backoffDelay(attempt int, err error) time.Duration {
	base := time.Duration(r.cfg.RetryBaseMS) * time.Millisecond
	delay := base << (attempt - 1)
	delay = time.Duration(float64(delay) * (0.8 + 0.4*r.jitter()))
	if hint, ok := protocol.RetryAfterHint(err); ok && hint > delay {
		delay = hint
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

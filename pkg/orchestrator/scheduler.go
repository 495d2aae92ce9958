package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/autoresearch/autoresearch/pkg/agents"
	"github.com/autoresearch/autoresearch/pkg/audit"
	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/gate"
	"github.com/autoresearch/autoresearch/pkg/llms"
	"github.com/autoresearch/autoresearch/pkg/observability"
	"github.com/autoresearch/autoresearch/pkg/planner"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/router"
	"github.com/autoresearch/autoresearch/pkg/runtime"
	"github.com/autoresearch/autoresearch/pkg/state"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// Phase names recorded in the state phase history and span names.
const (
	phaseInit       = "init"
	phaseScout      = "scout"
	phaseGate       = "gate"
	phaseDebate     = "debate"
	phaseSynthesize = "synthesize"
	phaseAudit      = "audit"
	phaseHedge      = "hedge"
	phaseDone       = "done"
	phaseFailed     = "failed"
)

// outputEstimate is the completion-size guess used at model selection
// time, before any tokens exist to count.
const outputEstimate = 256

// run is the single-goroutine execution of one query. It owns the
// QueryState and every per-query resource: the runner's breakers, the
// budget tracker, and the router stats.
type run struct {
	opts    Options
	adapter llms.Adapter
	cfg     *config.Snapshot
	state   *state.QueryState

	runner  *runtime.Runner
	router  *router.Router
	tracker *router.BudgetTracker
	tasks   *planner.Coordinator

	tracer trace.Tracer

	scoutResult  *gate.Result
	gateDecision *gate.Decision

	partial       bool
	partialReason string
	stopReason    string
}

func newRun(opts Options, adapter llms.Adapter, queryID, queryText string, cfg *config.Snapshot) *run {
	var counter *utils.TokenCounter
	if cfg.Router.DefaultModel != "" {
		// Best effort: without encoding tables the tracker falls back to
		// the character heuristic.
		counter, _ = utils.NewTokenCounter(cfg.Router.DefaultModel)
	}

	budget := state.NewCycleBudget(
		cfg.TokenBudget,
		time.Duration(cfg.TimeBudgetS)*time.Second,
		cfg.Loops+1, // debate cycles plus the closing synthesis pass
	)

	return &run{
		opts:    opts,
		adapter: adapter,
		cfg:     cfg,
		state:   state.New(queryID, queryText, cfg.Audit),
		runner:  runtime.NewRunner(cfg.Runtime),
		router:  router.New(&cfg.Router),
		tracker: router.NewBudgetTracker(budget, cfg.CostBudget, counter),
		tracer:  observability.GetTracer("autoresearch/orchestrator"),
	}
}

// execute drives the phase machine
// Init -> Scout? -> Gate -> Debate* -> Synthesize -> Audit -> Hedge? -> Done
// to a response or a typed error.
func (r *run) execute(ctx context.Context) (*protocol.QueryResponse, error) {
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "query.run", trace.WithAttributes(
		attribute.String("query_id", r.state.QueryID()),
		attribute.String("mode", r.cfg.ReasoningMode),
	))
	defer span.End()

	r.state.RecordPhase(phaseInit)
	slog.Info("Query accepted",
		"query_id", r.state.QueryID(),
		"mode", r.cfg.ReasoningMode,
		"loops", r.cfg.Loops,
		"roster", strings.Join(r.cfg.Roster, ","))

	var (
		candidate string
		gateExit  bool
		debate    bool
		maxCycles int
	)

	switch r.cfg.ReasoningMode {
	case config.ModeDirect:
		// Single synthesizer pass below.
	case config.ModeAuto:
		if err := r.scoutPhase(ctx); err != nil {
			return r.fail(err)
		}
		if r.scoutResult == nil {
			// Scout failed; the full pipeline is the robust path.
			debate = true
			maxCycles = r.cfg.Loops
			break
		}
		decision := r.gatePhase(ctx)
		if decision.Exit() {
			gateExit = true
			candidate = r.scoutResult.Draft
		} else {
			debate = true
			maxCycles = decision.MaxCycles
		}
	default: // dialectical, chain-of-thought
		debate = true
		maxCycles = r.cfg.Loops
	}

	if debate {
		if err := r.debatePhase(ctx, maxCycles); err != nil {
			return r.fail(err)
		}
	}

	if !gateExit {
		var err error
		candidate, err = r.synthesizePhase(ctx)
		if err != nil {
			return r.fail(err)
		}
	}

	outcome, err := r.auditPhase(ctx, candidate)
	if err != nil {
		return r.fail(err)
	}

	if err := r.state.SetFinalAnswer(outcome.Answer); err != nil {
		return r.fail(protocol.WrapErr(protocol.KindFatal, "orchestrator.finalize", err))
	}

	resp := r.buildResponse(outcome)
	r.state.RecordPhase(phaseDone)
	slog.Info("Query complete",
		"query_id", r.state.QueryID(),
		"cycles_run", resp.Metrics.CyclesRun,
		"partial", resp.Metrics.Partial,
		"warnings", len(resp.Warnings),
		"duration_ms", float64(time.Since(started))/float64(time.Millisecond))
	return resp, nil
}

// scoutPhase drafts the lightweight answer and gathers gate signals. A
// failed scout is logged and leaves scoutResult nil; the caller escalates
// to debate instead of surfacing the failure.
func (r *run) scoutPhase(ctx context.Context) error {
	ctx, span := r.enterPhase(ctx, phaseScout)
	defer span.End()

	decision := r.router.Select("scout", r.cfg.AgentFor("scout"),
		r.tracker.EstimateTokens(r.state.Query()), outputEstimate,
		r.tracker, r.agentsRemaining(r.cfg.Loops, len(r.cfg.Roster)))
	observability.RecordRoutingDecision(ctx, decision.Model, decision.Degraded, decision.Savings)

	scout := gate.NewScout(r.adapter, r.opts.Retriever, r.opts.Store, r.cfg.Gate)
	started := time.Now()
	res, err := gate.Drain(scout.Run(ctx, r.state.Query(), decision.Model))
	elapsed := time.Since(started)
	r.tracker.ChargeTime(elapsed)

	if err != nil {
		if protocol.KindOf(err) == protocol.KindCancelled {
			return err
		}
		slog.Warn("Scout pass failed, escalating to debate",
			"query_id", r.state.QueryID(), "error", err)
		return nil
	}

	r.scoutResult = res
	latencyMS := float64(elapsed) / float64(time.Millisecond)
	r.router.Observe("scout", decision.Model, res.TokensIn, res.TokensOut, latencyMS, r.tracker)

	r.state.Update(state.AgentResult{
		AgentName:     "scout",
		Cycle:         0,
		Status:        state.StatusOK,
		Content:       res.Draft,
		ClaimsAdded:   res.DraftClaims,
		TokensIn:      res.TokensIn,
		TokensOut:     res.TokensOut,
		LatencyMS:     latencyMS,
		ModelSelected: decision.Model,
	})
	r.state.SetMeta("scout_samples", len(res.Samples))
	if res.CacheHit {
		r.state.SetMeta("cache_hit", true)
	}
	return nil
}

func (r *run) gatePhase(ctx context.Context) gate.Decision {
	ctx, span := r.enterPhase(ctx, phaseGate)
	defer span.End()

	d := gate.Evaluate(ctx, r.cfg.Gate, r.cfg.Loops, r.scoutResult)
	r.gateDecision = &d
	r.state.SetMeta("gate_decision", d.Action)
	span.SetAttributes(attribute.String("action", d.Action))
	return d
}

// debatePhase plans, then runs up to maxCycles rotated cycles. The roster
// resolves once; rotation advances the primus one position per cycle.
func (r *run) debatePhase(ctx context.Context, maxCycles int) error {
	roster, err := r.opts.Agents.FromRoster(r.cfg.Roster)
	if err != nil {
		return err
	}

	if err := r.planPhase(ctx, maxCycles); err != nil {
		return err
	}

	primus := r.cfg.PrimusStart
	for cycle := 0; cycle < maxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return protocol.WrapErr(protocol.KindCancelled, "orchestrator.cycle", err)
		}
		if exhausted, reason := r.tracker.Exhausted(); exhausted {
			r.markPartial(reason + " budget exhausted")
			break
		}

		if err := r.runCycle(ctx, rotate(roster, primus), cycle, maxCycles); err != nil {
			return err
		}

		r.state.AdvanceCycle()
		r.tracker.ChargeCycle()
		primus = (primus + 1) % len(roster)

		if r.partial {
			break
		}
		if stop, reason := r.state.ShouldStop(); stop {
			r.stopReason = reason
			slog.Info("Debate stopped early",
				"query_id", r.state.QueryID(), "cycle", cycle, "reason", reason)
			break
		}
	}
	return nil
}

// runCycle executes one rotated cycle under the cycle timeout. Agent
// failures below Fatal are recorded and the cycle continues; budget
// exhaustion truncates it.
func (r *run) runCycle(ctx context.Context, order []agents.Agent, cycle, maxCycles int) error {
	cycleCtx, span := r.enterPhase(ctx, phaseDebate)
	defer span.End()
	observability.RecordCycle(cycleCtx)

	cycleCtx, cancel := context.WithTimeout(cycleCtx, time.Duration(r.cfg.Runtime.CycleTimeoutS)*time.Second)
	defer cancel()

	for i, ag := range order {
		if err := ctx.Err(); err != nil {
			return protocol.WrapErr(protocol.KindCancelled, "orchestrator.cycle", err)
		}

		res := r.runAgent(cycleCtx, ag, cycle, r.agentsRemaining(maxCycles-cycle, len(order)-i))

		switch res.ErrorKind {
		case protocol.KindBudgetExhausted, protocol.KindFatal:
			return protocol.New(res.ErrorKind, "orchestrator.cycle", res.ErrorMessage)
		}
		if ctx.Err() != nil {
			return protocol.WrapErr(protocol.KindCancelled, "orchestrator.cycle", ctx.Err())
		}
		if cycleCtx.Err() != nil {
			slog.Warn("Cycle timed out, remaining agents skipped",
				"query_id", r.state.QueryID(), "cycle", cycle, "after", ag.Name())
			return nil
		}
		if exhausted, reason := r.tracker.Exhausted(); exhausted {
			r.markPartial(reason + " budget exhausted")
			return nil
		}
	}
	return nil
}

// planPhase produces the task graph before the first cycle. A roster that
// schedules the planner itself re-plans in rotation instead.
func (r *run) planPhase(ctx context.Context, maxCycles int) error {
	for _, name := range r.cfg.Roster {
		if name == string(agents.RolePlanner) {
			return nil
		}
	}
	pl, ok := r.opts.Agents.Get(string(agents.RolePlanner))
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return protocol.WrapErr(protocol.KindCancelled, "orchestrator.plan", err)
	}

	ctx, span := r.tracer.Start(ctx, "query.plan")
	defer span.End()

	res := r.runAgent(ctx, pl, 0, r.agentsRemaining(maxCycles, len(r.cfg.Roster))+1)
	switch res.ErrorKind {
	case protocol.KindBudgetExhausted, protocol.KindFatal:
		return protocol.New(res.ErrorKind, "orchestrator.plan", res.ErrorMessage)
	}
	if res.Failed() {
		slog.Warn("Planning failed, debate proceeds without a task graph",
			"query_id", r.state.QueryID(), "error", res.ErrorMessage)
	}
	return nil
}

// synthesizePhase produces the candidate answer. With the budget exhausted
// it assembles a best-effort answer from gathered claims without further
// model spend; otherwise the synthesizer runs as its own closing cycle.
func (r *run) synthesizePhase(ctx context.Context) (string, error) {
	ctx, span := r.enterPhase(ctx, phaseSynthesize)
	defer span.End()

	if r.partial {
		answer := r.fallbackAnswer()
		if answer == "" {
			return "", protocol.Newf(protocol.KindBudgetExhausted, "orchestrator.synthesize",
				"%s before a usable answer", r.partialReason)
		}
		return answer, nil
	}
	if err := ctx.Err(); err != nil {
		return "", protocol.WrapErr(protocol.KindCancelled, "orchestrator.synthesize", err)
	}

	synth, ok := r.opts.Agents.Get(string(agents.RoleSynthesizer))
	if !ok {
		return "", protocol.New(protocol.KindConfig, "orchestrator.synthesize", "no synthesizer registered")
	}

	observability.RecordCycle(ctx)
	res := r.runAgent(ctx, synth, r.state.Cycle(), 1)
	r.state.AdvanceCycle()
	r.tracker.ChargeCycle()

	if res.Failed() {
		if res.ErrorKind == protocol.KindCancelled {
			return "", protocol.New(protocol.KindCancelled, "orchestrator.synthesize", res.ErrorMessage)
		}
		answer := r.fallbackAnswer()
		if answer == "" {
			return "", protocol.New(res.ErrorKind, "orchestrator.synthesize", res.ErrorMessage)
		}
		r.markPartial("synthesis failed: " + res.ErrorMessage)
		return answer, nil
	}

	answer := strings.TrimSpace(res.Content)
	if answer == "" {
		answer = r.fallbackAnswer()
	}
	if answer == "" {
		return "", protocol.New(protocol.KindAgentFailure, "orchestrator.synthesize",
			"synthesizer produced no answer and no claims were gathered")
	}
	return answer, nil
}

// auditPhase verifies the candidate claim by claim. An inconclusive audit
// is not an error to the caller: the unhedged candidate ships flagged for
// review.
func (r *run) auditPhase(ctx context.Context, candidate string) (*audit.Outcome, error) {
	ctx, span := r.enterPhase(ctx, phaseAudit)
	defer span.End()

	auditor := audit.New(r.adapter, r.auditRetriever(), r.cfg.Audit, r.opts.Ack)
	outcome, err := auditor.Audit(ctx, r.state.Query(), candidate)
	if err != nil {
		if protocol.KindOf(err) != protocol.KindAuditInconclusive {
			return nil, err
		}
		slog.Warn("Audit inconclusive, shipping unhedged answer flagged for review",
			"query_id", r.state.QueryID(), "error", err)
		return &audit.Outcome{
			Answer: candidate,
			Warnings: []protocol.Warning{{
				Code:    protocol.WarnNeedsReview,
				Message: "audit inconclusive: entailment unavailable for every scored segment",
			}},
		}, nil
	}

	if outcome.Answer != candidate {
		_, hedgeSpan := r.enterPhase(ctx, phaseHedge)
		hedgeSpan.End()
	}
	return outcome, nil
}

// runAgent is one scheduled execution: the router picks the model, the
// runner applies retries and the breaker, the result lands in the state,
// and the spend is charged.
func (r *run) runAgent(ctx context.Context, ag agents.Agent, cycle, agentsRemaining int) *state.AgentResult {
	name := ag.Name()
	agentCfg := r.cfg.AgentFor(name)

	decision := r.router.Select(name, agentCfg,
		r.tracker.EstimateTokens(r.state.Query()), outputEstimate,
		r.tracker, agentsRemaining)
	observability.RecordRoutingDecision(ctx, decision.Model, decision.Degraded, decision.Savings)

	ec := &agents.ExecContext{
		State:     r.state,
		Config:    r.cfg,
		Cycle:     cycle,
		Model:     decision.Model,
		Adapter:   r.adapter,
		Retrieval: r.opts.Retriever,
		Storage:   r.opts.Store,
		Tasks:     r.tasks,
	}

	fn := func(ctx context.Context) (*state.AgentResult, error) {
		return ag.Execute(ctx, ec)
	}
	if agentCfg.TimeoutS > 0 {
		inner := fn
		fn = func(ctx context.Context) (*state.AgentResult, error) {
			ctx, cancel := context.WithTimeout(ctx, time.Duration(agentCfg.TimeoutS)*time.Second)
			defer cancel()
			return inner(ctx)
		}
	}

	started := time.Now()
	res := r.runner.Execute(ctx, name, cycle, fn)
	r.tracker.ChargeTime(time.Since(started))

	model := res.ModelSelected
	if model == "" {
		model = decision.Model
	}
	r.router.Observe(name, model, res.TokensIn, res.TokensOut, res.LatencyMS, r.tracker)

	r.state.Update(*res)

	// A plan may have materialized; give later agents the coordinator.
	if r.tasks == nil {
		if g := r.state.TaskGraph(); g != nil {
			r.tasks = planner.NewCoordinator(g)
		}
	}
	return res
}

// fallbackAnswer assembles a best-effort answer from gathered claims: the
// newest synthesis, else the newest thesis, else the newest claim of any
// type, else the scout draft.
func (r *run) fallbackAnswer() string {
	claims := r.state.Claims()
	for _, t := range []state.ClaimType{state.ClaimSynthesis, state.ClaimThesis} {
		for i := len(claims) - 1; i >= 0; i-- {
			if claims[i].Type == t && strings.TrimSpace(claims[i].Text) != "" {
				return claims[i].Text
			}
		}
	}
	for i := len(claims) - 1; i >= 0; i-- {
		if strings.TrimSpace(claims[i].Text) != "" {
			return claims[i].Text
		}
	}
	if r.scoutResult != nil {
		return r.scoutResult.Draft
	}
	return ""
}

func (r *run) auditRetriever() audit.Retriever {
	if r.opts.Retriever == nil {
		return nil
	}
	return r.opts.Retriever
}

// agentsRemaining counts scheduled executions left, including the closing
// synthesis pass, for per-call budget slicing. cyclesLeft includes the
// current cycle; inCycle includes the current agent.
func (r *run) agentsRemaining(cyclesLeft, inCycle int) int {
	if cyclesLeft < 1 {
		return inCycle + 1
	}
	return (cyclesLeft-1)*len(r.cfg.Roster) + inCycle + 1
}

func (r *run) markPartial(reason string) {
	if r.partial {
		return
	}
	r.partial = true
	r.partialReason = reason
	slog.Warn("Result degraded to partial",
		"query_id", r.state.QueryID(), "reason", reason)
}

// enterPhase records the transition in the phase history and opens the
// phase span. Callers end the span when the phase completes.
func (r *run) enterPhase(ctx context.Context, phase string) (context.Context, trace.Span) {
	r.state.RecordPhase(phase)
	return r.tracer.Start(ctx, "query."+phase, trace.WithAttributes(
		attribute.String("query_id", r.state.QueryID()),
		attribute.Int("cycle", r.state.Cycle()),
	))
}

func (r *run) fail(err error) (*protocol.QueryResponse, error) {
	r.state.RecordPhase(phaseFailed)
	slog.Error("Query failed",
		"query_id", r.state.QueryID(),
		"kind", string(protocol.KindOf(err)),
		"error", err)
	return nil, err
}

// rotate reorders the roster so the primus agent leads and the rest follow
// in roster order.
func rotate(roster []agents.Agent, primus int) []agents.Agent {
	n := len(roster)
	out := make([]agents.Agent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, roster[(primus+i)%n])
	}
	return out
}

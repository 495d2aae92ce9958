package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/autoresearch/autoresearch/pkg/agents"
	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/gate"
	"github.com/autoresearch/autoresearch/pkg/llms"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/retrieval"
	"github.com/autoresearch/autoresearch/pkg/testutils"
)

type stubRetriever struct {
	docs     []retrieval.Document
	err      error
	cacheHit bool
}

func (s *stubRetriever) Lookup(ctx context.Context, query string, topK int, opts ...retrieval.LookupOption) (*retrieval.Lookup, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &retrieval.Lookup{
		Documents: append([]retrieval.Document(nil), s.docs...),
		CacheHit:  s.cacheHit,
	}, nil
}

// evidenceRetriever answers every lookup with one grounded document.
func evidenceRetriever() *stubRetriever {
	return &stubRetriever{
		docs: []retrieval.Document{{
			URL:          "https://example.org/optics",
			CanonicalURL: "https://example.org/optics",
			Title:        "Optics",
			Snippet:      "air molecules scatter sunlight strongly",
			Backend:      "test",
		}},
		cacheHit: true,
	}
}

func newTestOrchestrator(t *testing.T, adapter llms.Adapter, ret agents.Retriever) *Orchestrator {
	t.Helper()
	o, err := New(Options{Adapter: adapter, Retriever: ret})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func warningCodes(resp *protocol.QueryResponse) []string {
	codes := make([]string, 0, len(resp.Warnings))
	for _, w := range resp.Warnings {
		codes = append(codes, w.Code)
	}
	return codes
}

func hasWarning(resp *protocol.QueryResponse, code string) bool {
	for _, w := range resp.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

func TestNewRequiresAdapter(t *testing.T) {
	if _, err := New(Options{}); protocol.KindOf(err) != protocol.KindConfig {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestDirectModeHappyPath(t *testing.T) {
	adapter := testutils.NewScriptedAdapter(
		`{"answer": "Paris is the capital of France.", "claims": [{"text": "Paris is the capital of France."}]}`)
	o := newTestOrchestrator(t, adapter, evidenceRetriever())

	resp, err := o.RunQuery(context.Background(), "what is the capital of France?", testutils.TestSnapshot())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if resp.Answer != "Paris is the capital of France." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.QueryID == "" {
		t.Error("query id not assigned")
	}
	if len(resp.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", warningCodes(resp))
	}
	if resp.Metrics.Partial {
		t.Error("complete answer flagged partial")
	}
	if resp.Metrics.CyclesRun != 1 {
		t.Errorf("cycles_run = %d, want 1", resp.Metrics.CyclesRun)
	}
	if got := adapter.GenerateCount(); got != 1 {
		t.Errorf("generate calls = %d, want 1", got)
	}

	if len(resp.Reasoning) != 1 {
		t.Fatalf("reasoning = %+v, want one step", resp.Reasoning)
	}
	step := resp.Reasoning[0]
	if step.Agent != "synthesizer" || step.Cycle != 0 {
		t.Errorf("step = %s cycle %d, want synthesizer cycle 0", step.Agent, step.Cycle)
	}
	if len(step.ClaimRefs) != 1 {
		t.Errorf("claim refs = %v, want one", step.ClaimRefs)
	}

	if len(resp.ClaimAudits) != 1 {
		t.Fatalf("audits = %+v, want one record", resp.ClaimAudits)
	}
	if resp.ClaimAudits[0].Status != protocol.AuditSupported {
		t.Errorf("audit status = %s, want supported", resp.ClaimAudits[0].Status)
	}

	if resp.Metrics.TokensIn == 0 || resp.Metrics.TokensOut == 0 {
		t.Errorf("token totals empty: in=%d out=%d", resp.Metrics.TokensIn, resp.Metrics.TokensOut)
	}
	if resp.Metrics.TokensByAgent["synthesizer"] == 0 {
		t.Error("per-agent token split missing")
	}
	if len(resp.Metrics.ModelRoutingDecisions) != 1 || resp.Metrics.ModelRoutingDecisions[0].Agent != "synthesizer" {
		t.Errorf("routing decisions = %+v", resp.Metrics.ModelRoutingDecisions)
	}
	if resp.DepthSections == nil || resp.DepthSections.Full != resp.Answer {
		t.Errorf("depth sections = %+v", resp.DepthSections)
	}
}

func TestAutoModeScoutExit(t *testing.T) {
	adapter := testutils.NewScriptedAdapter("").Queue(
		`{"answer": "molecules scatter sunlight", "claims": [{"text": "molecules scatter sunlight"}]}`,
		`{"answer": "molecules scatter sunlight", "claims": [{"text": "molecules scatter sunlight"}]}`,
	)
	cfg := &config.Snapshot{
		ReasoningMode: config.ModeAuto,
		Loops:         2,
		Roster:        []string{"synthesizer"},
	}
	o := newTestOrchestrator(t, adapter, evidenceRetriever())

	resp, err := o.RunQuery(context.Background(), "why is the sky blue?", cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if resp.Answer != "molecules scatter sunlight" {
		t.Errorf("answer = %q, want the scout draft", resp.Answer)
	}
	if resp.Metrics.CyclesRun != 0 {
		t.Errorf("cycles_run = %d, want 0 on gate exit", resp.Metrics.CyclesRun)
	}
	if got := adapter.GenerateCount(); got != 2 {
		t.Errorf("generate calls = %d, want the two scout samples only", got)
	}

	gs := resp.Metrics.GateSignals
	if gs == nil {
		t.Fatal("gate signals missing from metrics")
	}
	if gs.Action != gate.ActionExit {
		t.Errorf("gate action = %q, want exit", gs.Action)
	}
	if gs.RetrievalOverlap != 1 || gs.ClaimConflict != 0 {
		t.Errorf("signals = %+v", gs)
	}
	if gs.OverlapThreshold != 0.6 || gs.ConflictThreshold != 0.2 {
		t.Errorf("thresholds = %v/%v", gs.OverlapThreshold, gs.ConflictThreshold)
	}
	if resp.Metrics.ScoutSamples != 2 {
		t.Errorf("scout samples = %d, want 2", resp.Metrics.ScoutSamples)
	}
	if !resp.Metrics.CacheHit {
		t.Error("cache hit not reported")
	}

	if len(resp.Reasoning) != 1 || resp.Reasoning[0].Agent != "scout" {
		t.Fatalf("reasoning = %+v, want the scout step only", resp.Reasoning)
	}
	if len(resp.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", warningCodes(resp))
	}
	for _, rec := range resp.ClaimAudits {
		if rec.Status != protocol.AuditSupported {
			t.Errorf("audit %q = %s, want supported", rec.ClaimText, rec.Status)
		}
	}
}

func TestAutoModeForceDebateHedgesUnsupported(t *testing.T) {
	adapter := testutils.NewScriptedAdapter(
		`{"answer": "The sky is blue due to scattering. The earth is flat.", ` +
			`"claims": [{"text": "The sky is blue due to scattering."}, {"text": "The earth is flat."}]}`)
	adapter.EntailmentScores = map[string]float64{
		"scattering": 0.9,
		"flat":       0.05,
	}
	cfg := &config.Snapshot{
		ReasoningMode: config.ModeAuto,
		Loops:         1,
		Roster:        []string{"synthesizer"},
	}
	cfg.Gate.ForceDebate = true
	o := newTestOrchestrator(t, adapter, evidenceRetriever())

	resp, err := o.RunQuery(context.Background(), "why is the sky blue?", cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := "The sky is blue due to scattering. Unverified: The earth is flat."
	if resp.Answer != want {
		t.Errorf("answer = %q, want %q", resp.Answer, want)
	}
	if protocol.HasWarningPrefix(resp.Answer) {
		t.Errorf("answer carries a banner prefix: %q", resp.Answer)
	}

	if gs := resp.Metrics.GateSignals; gs == nil || gs.Action != gate.ActionDebate {
		t.Errorf("gate signals = %+v, want debate", gs)
	}
	if resp.Metrics.CyclesRun != 2 {
		t.Errorf("cycles_run = %d, want debate cycle plus synthesis", resp.Metrics.CyclesRun)
	}

	if !hasWarning(resp, protocol.WarnUnsupportedClaim) || !hasWarning(resp, protocol.WarnHedgeBanner) {
		t.Errorf("warnings = %v, want unsupported_claim and hedge_banner", warningCodes(resp))
	}

	var supported, unsupported int
	for _, rec := range resp.ClaimAudits {
		switch rec.Status {
		case protocol.AuditSupported:
			supported++
		case protocol.AuditUnsupported:
			unsupported++
			if rec.ClaimText != "The earth is flat." {
				t.Errorf("unsupported claim = %q", rec.ClaimText)
			}
		}
	}
	if supported != 1 || unsupported != 1 {
		t.Errorf("audit split = %d supported / %d unsupported, want 1/1", supported, unsupported)
	}
}

func TestDialecticalRotationOrder(t *testing.T) {
	adapter := testutils.NewScriptedAdapter(
		`{"answer": "molecules scatter sunlight", "claims": [{"text": "molecules scatter sunlight"}]}`)
	reg := agents.NewRegistry()
	for _, a := range []agents.Agent{agents.NewSynthesizer(), agents.NewContrarian(), agents.NewFactChecker()} {
		if err := reg.Register(a.Name(), a); err != nil {
			t.Fatalf("register %s: %v", a.Name(), err)
		}
	}
	o, err := New(Options{Adapter: adapter, Agents: reg, Retriever: evidenceRetriever()})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	resp, err := o.RunQuery(context.Background(), "why is the sky blue?", testutils.DialecticalSnapshot())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []struct {
		agent string
		cycle int
	}{
		{"synthesizer", 0}, {"contrarian", 0}, {"fact_checker", 0},
		{"contrarian", 1}, {"fact_checker", 1}, {"synthesizer", 1},
		{"synthesizer", 2},
	}
	if len(resp.Reasoning) != len(want) {
		t.Fatalf("got %d steps, want %d: %+v", len(resp.Reasoning), len(want), resp.Reasoning)
	}
	for i, w := range want {
		got := resp.Reasoning[i]
		if got.Agent != w.agent || got.Cycle != w.cycle {
			t.Errorf("step %d = %s cycle %d, want %s cycle %d", i, got.Agent, got.Cycle, w.agent, w.cycle)
		}
	}
	if resp.Metrics.CyclesRun != 3 {
		t.Errorf("cycles_run = %d, want 3", resp.Metrics.CyclesRun)
	}
}

func TestPlanRepairedSurfacesWarning(t *testing.T) {
	plan := `{"tasks": [
		{"id": "t1", "question": "What scatters sunlight?", "exit_criteria": ["mechanism named"], "tool_affinity": {"search": 1.7}},
		{"id": "t2", "question": "Why more blue than red?", "exit_criteria": ["wavelength dependence stated"], "depends_on": ["t1"]}
	]}`
	adapter := testutils.NewScriptedAdapter(
		`{"answer": "Rayleigh scattering brightens the blue sky.", "claims": [{"text": "Rayleigh scattering brightens the blue sky."}]}`,
	).Queue(plan)
	cfg := &config.Snapshot{
		ReasoningMode: config.ModeDialectical,
		Loops:         1,
		Roster:        []string{"synthesizer", "researcher"},
	}
	o := newTestOrchestrator(t, adapter, evidenceRetriever())

	resp, err := o.RunQuery(context.Background(), "why is the sky blue?", cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !hasWarning(resp, protocol.WarnPlanRepaired) {
		t.Errorf("warnings = %v, want plan_repaired", warningCodes(resp))
	}
	if len(resp.Reasoning) == 0 || resp.Reasoning[0].Agent != "planner" {
		t.Fatalf("reasoning = %+v, want the planner step first", resp.Reasoning)
	}
	if !strings.Contains(resp.Reasoning[0].Content, "planned 2 tasks") {
		t.Errorf("planner step = %q", resp.Reasoning[0].Content)
	}

	var researcherStep *protocol.ReasoningStep
	for i := range resp.Reasoning {
		if resp.Reasoning[i].Agent == "researcher" {
			researcherStep = &resp.Reasoning[i]
		}
	}
	if researcherStep == nil || !strings.Contains(researcherStep.Content, "task t1") {
		t.Errorf("researcher step = %+v, want task t1 dispatched", researcherStep)
	}
}

func TestBreakerSkipsRepeatedlyFailingAgent(t *testing.T) {
	adapter := testutils.NewScriptedAdapter(
		`{"answer": "molecules scatter sunlight", "claims": [{"text": "molecules scatter sunlight"}]}`)
	failing := &stubRetriever{err: protocol.New(protocol.KindTransient, "search.lookup", "backend down")}
	cfg := &config.Snapshot{
		ReasoningMode: config.ModeDialectical,
		Loops:         4,
		Roster:        []string{"synthesizer", "researcher"},
	}
	// Single attempt per cycle; failures land on the breaker immediately.
	cfg.Runtime.MaxRetries = 1

	o := newTestOrchestrator(t, adapter, failing)
	resp, err := o.RunQuery(context.Background(), "why is the sky blue?", cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var researcherSteps, synthesizerSteps, skips int
	for _, step := range resp.Reasoning {
		switch step.Agent {
		case "researcher":
			researcherSteps++
			if strings.Contains(step.Content, "circuit breaker open") {
				skips++
				if step.Cycle != 3 {
					t.Errorf("breaker skip at cycle %d, want 3", step.Cycle)
				}
			}
		case "synthesizer":
			synthesizerSteps++
		}
	}
	if researcherSteps != 4 {
		t.Errorf("researcher steps = %d, want one per cycle", researcherSteps)
	}
	if skips != 1 {
		t.Errorf("breaker skips = %d, want exactly 1", skips)
	}
	if synthesizerSteps != 5 {
		t.Errorf("synthesizer steps = %d, want 4 cycles plus synthesis", synthesizerSteps)
	}

	// Retrieval stayed down, so the audit hedges the whole answer.
	if want := "Unverified: molecules scatter sunlight"; resp.Answer != want {
		t.Errorf("answer = %q, want %q", resp.Answer, want)
	}
	if !hasWarning(resp, protocol.WarnUnsupportedClaim) || !hasWarning(resp, protocol.WarnHedgeBanner) {
		t.Errorf("warnings = %v", warningCodes(resp))
	}
	if resp.Metrics.CyclesRun != 5 {
		t.Errorf("cycles_run = %d, want 5", resp.Metrics.CyclesRun)
	}
	if resp.Metrics.Partial {
		t.Error("healthy synthesizer path flagged partial")
	}
}

func TestBudgetExhaustionDegradesToPartial(t *testing.T) {
	adapter := testutils.NewScriptedAdapter(
		`{"answer": "Paris.", "claims": [{"text": "Paris is the capital of France."}]}`)
	cfg := &config.Snapshot{
		ReasoningMode: config.ModeDialectical,
		Loops:         2,
		Roster:        []string{"synthesizer"},
		TokenBudget:   1,
	}
	o := newTestOrchestrator(t, adapter, evidenceRetriever())

	resp, err := o.RunQuery(context.Background(), "what is the capital of France?", cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !resp.Metrics.Partial {
		t.Error("partial flag not set")
	}
	if resp.Answer != "Paris is the capital of France." {
		t.Errorf("answer = %q, want the newest gathered claim", resp.Answer)
	}
	if len(resp.Warnings) != 1 || resp.Warnings[0].Code != protocol.WarnPartialResult {
		t.Fatalf("warnings = %v, want partial_result only", warningCodes(resp))
	}
	if !strings.Contains(resp.Warnings[0].Message, "tokens") {
		t.Errorf("warning message = %q, want the exhausted dimension", resp.Warnings[0].Message)
	}
	if resp.Metrics.CyclesRun != 1 {
		t.Errorf("cycles_run = %d, want 1", resp.Metrics.CyclesRun)
	}
	// One planning call plus the single cycle that spent the budget.
	if got := adapter.GenerateCount(); got != 2 {
		t.Errorf("generate calls = %d, want 2", got)
	}
}

func TestSubmissionValidation(t *testing.T) {
	o := newTestOrchestrator(t, testutils.NewScriptedAdapter("ok"), nil)

	cases := []struct {
		name  string
		query string
		cfg   *config.Snapshot
		want  string
	}{
		{"empty query", "   ", nil, "query text cannot be empty"},
		{"empty roster", "q", &config.Snapshot{ReasoningMode: config.ModeDialectical, Loops: 1}, "roster"},
		{"bad mode", "q", &config.Snapshot{ReasoningMode: "socratic", Loops: 1, Roster: []string{"synthesizer"}}, "reasoning_mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.RunQuery(context.Background(), tc.query, tc.cfg)
			if protocol.KindOf(err) != protocol.KindConfig {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}

	if _, err := o.RunQueryID(context.Background(), "  ", "q", nil); protocol.KindOf(err) != protocol.KindConfig {
		t.Fatalf("blank id: err = %v, want ConfigError", err)
	}
}

func TestAdapterRegistryDefaultIsUsed(t *testing.T) {
	reg := llms.NewAdapterRegistry()
	scripted := testutils.NewScriptedAdapter(
		`{"answer": "Paris is the capital of France.", "claims": [{"text": "Paris is the capital of France."}]}`)
	if err := reg.RegisterAdapter(scripted.Name(), scripted); err != nil {
		t.Fatalf("register adapter: %v", err)
	}

	o, err := New(Options{Adapters: reg, Retriever: evidenceRetriever()})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	resp, err := o.RunQuery(context.Background(), "what is the capital of France?", testutils.TestSnapshot())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Answer != "Paris is the capital of France." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if scripted.GenerateCount() == 0 {
		t.Error("registry default adapter never invoked")
	}
}

// blockingAdapter parks every Generate call until the context is
// cancelled, signalling once the first call is in flight.
type blockingAdapter struct {
	*testutils.ScriptedAdapter
	started chan struct{}
}

func (a *blockingAdapter) Generate(ctx context.Context, req llms.GenerateRequest) (*llms.GenerateResult, error) {
	select {
	case a.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCancelStopsRunningQuery(t *testing.T) {
	adapter := &blockingAdapter{
		ScriptedAdapter: testutils.NewScriptedAdapter("unused"),
		started:         make(chan struct{}, 1),
	}
	o, err := New(Options{Adapter: adapter})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.RunQueryID(context.Background(), "q-cancel", "slow question", testutils.TestSnapshot())
		done <- err
	}()

	<-adapter.started
	if got := o.Running(); len(got) != 1 || got[0] != "q-cancel" {
		t.Errorf("running = %v, want [q-cancel]", got)
	}
	if _, err := o.RunQueryID(context.Background(), "q-cancel", "again", testutils.TestSnapshot()); protocol.KindOf(err) != protocol.KindConfig {
		t.Errorf("duplicate id: err = %v, want ConfigError", err)
	}

	if !o.Cancel("q-cancel") {
		t.Fatal("running query not found for cancellation")
	}
	select {
	case err := <-done:
		if protocol.KindOf(err) != protocol.KindCancelled {
			t.Fatalf("err = %v, want Cancelled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not unwind the query")
	}

	if o.Cancel("q-cancel") {
		t.Error("finished query still registered")
	}
	if got := o.Running(); len(got) != 0 {
		t.Errorf("running after completion = %v", got)
	}
}

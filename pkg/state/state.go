// Package state holds the append-only scratchpad for one query: claims,
// sources, per-cycle agent results, the task graph, and the ReAct log. The
// orchestrator owns a QueryState on a single goroutine; the embedded lock
// exists so clones and late telemetry reads stay safe, and it is
// re-initialized (never shared) on Clone.
package state

import (
	"fmt"
	"sync"

	"github.com/autoresearch/autoresearch/pkg/config"
)

// QueryState is the accumulating state of one query. All mutating methods
// preserve the append-only contract: the cycle counter only steps by one,
// claims are never removed, and superseded claims stay readable.
type QueryState struct {
	mu sync.Mutex

	queryID string
	query   string

	cycle     int
	claims    []Claim
	sources   []Source
	results   map[int][]AgentResult
	taskGraph *TaskGraph
	reactLog  []ReActStep
	metadata  map[string]any

	auditPolicy config.AuditConfig
	finalAnswer string
	answerSet   bool

	claimKeys  map[string]string
	claimIndex map[string]int
	sourceKeys map[string]int

	stop       bool
	stopReason string
}

// New creates an empty query state at cycle 0.
func New(queryID, query string, auditPolicy config.AuditConfig) *QueryState {
	return &QueryState{
		queryID:     queryID,
		query:       query,
		results:     make(map[int][]AgentResult),
		metadata:    make(map[string]any),
		auditPolicy: auditPolicy,
		claimKeys:   make(map[string]string),
		claimIndex:  make(map[string]int),
		sourceKeys:  make(map[string]int),
	}
}

// QueryID returns the immutable query id.
func (s *QueryState) QueryID() string { return s.queryID }

// Query returns the original query text.
func (s *QueryState) Query() string { return s.query }

// AuditPolicy returns the audit policy captured at submit.
func (s *QueryState) AuditPolicy() config.AuditConfig { return s.auditPolicy }

// Cycle returns the current cycle index.
func (s *QueryState) Cycle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycle
}

// AdvanceCycle steps the cycle counter by exactly one and returns the new
// index.
func (s *QueryState) AdvanceCycle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycle++
	return s.cycle
}

// Update merges an agent result: claims are appended with de-duplication by
// normalized text plus type, sources are unioned by canonical URL, and the
// result is appended to its cycle's list in arrival order. Derived metadata
// is recomputed. Given the same ordered sequence of results the state's
// observable fields are identical.
func (s *QueryState) Update(result AgentResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := result.Clone()
	for i := range stored.ClaimsAdded {
		stored.ClaimsAdded[i], _ = s.addClaimLocked(stored.ClaimsAdded[i])
	}
	for i := range stored.SourcesAdded {
		stored.SourcesAdded[i] = s.addSourceLocked(stored.SourcesAdded[i])
	}

	s.results[stored.Cycle] = append(s.results[stored.Cycle], stored)
	s.recomputeMetadataLocked()
}

// AddClaim appends a claim unless an equivalent one (same normalized text
// and type) already exists. It returns the stored claim and whether it was
// newly added. Superseding claims are always appended so the revision chain
// stays intact.
func (s *QueryState) AddClaim(c Claim) (Claim, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addClaimLocked(c)
}

func (s *QueryState) addClaimLocked(c Claim) (Claim, bool) {
	key := c.Key()
	if id, dup := s.claimKeys[key]; dup && c.Supersedes == "" {
		return s.claims[s.claimIndex[id]].Clone(), false
	}

	s.claims = append(s.claims, c.Clone())
	s.claimKeys[key] = c.ID
	s.claimIndex[c.ID] = len(s.claims) - 1
	return c, true
}

// AddSource unions a source by canonical URL, merging retrieval stages into
// the existing entry. It returns the stored source.
func (s *QueryState) AddSource(src Source) Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addSourceLocked(src)
}

func (s *QueryState) addSourceLocked(src Source) Source {
	key := src.CanonicalKey()
	if i, dup := s.sourceKeys[key]; dup {
		existing := &s.sources[i]
		for _, stage := range src.StorageSources {
			existing.AddStage(stage)
		}
		return existing.Clone()
	}

	s.sources = append(s.sources, src.Clone())
	s.sourceKeys[key] = len(s.sources) - 1
	return src
}

// Claims returns a copy of the claim sequence in insertion order.
func (s *QueryState) Claims() []Claim {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Claim, len(s.claims))
	for i, c := range s.claims {
		out[i] = c.Clone()
	}
	return out
}

// ClaimByID returns the claim with the given id.
func (s *QueryState) ClaimByID(id string) (Claim, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.claimIndex[id]
	if !ok {
		return Claim{}, false
	}
	return s.claims[i].Clone(), true
}

// Sources returns a copy of the source set in insertion order.
func (s *QueryState) Sources() []Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Source, len(s.sources))
	for i, src := range s.sources {
		out[i] = src.Clone()
	}
	return out
}

// Results returns the agent results recorded for one cycle, in arrival
// order.
func (s *QueryState) Results(cycle int) []AgentResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs := s.results[cycle]
	out := make([]AgentResult, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out
}

// CyclesRecorded returns how many distinct cycles have results.
func (s *QueryState) CyclesRecorded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// SetTaskGraph installs the planner's task graph.
func (s *QueryState) SetTaskGraph(g *TaskGraph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskGraph = g.Clone()
}

// TaskGraph returns a copy of the installed task graph, or nil.
func (s *QueryState) TaskGraph() *TaskGraph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskGraph.Clone()
}

// AppendReact appends a step to the ReAct log.
func (s *QueryState) AppendReact(step ReActStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactLog = append(s.reactLog, step.Clone())
}

// ReactLog returns a copy of the ReAct log in append order.
func (s *QueryState) ReactLog() []ReActStep {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ReActStep, len(s.reactLog))
	for i, step := range s.reactLog {
		out[i] = step.Clone()
	}
	return out
}

// SetMeta records a telemetry value.
func (s *QueryState) SetMeta(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// Meta reads a telemetry value.
func (s *QueryState) Meta(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.metadata[key]
	return v, ok
}

// MetadataSnapshot returns a deep copy of the metadata map.
func (s *QueryState) MetadataSnapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = cloneValue(v)
	}
	return out
}

// RecordPhase appends a phase name to the metadata phase history.
func (s *QueryState) RecordPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, _ := s.metadata["phase_history"].([]string)
	s.metadata["phase_history"] = append(history, phase)
}

// RequestStop signals the scheduler to end the debate loop after the
// current agent completes.
func (s *QueryState) RequestStop(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stop {
		s.stop = true
		s.stopReason = reason
	}
}

// ShouldStop reports whether a stop was requested, and why.
func (s *QueryState) ShouldStop() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop, s.stopReason
}

// SetFinalAnswer records the synthesized answer. It can only be set once.
func (s *QueryState) SetFinalAnswer(answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.answerSet {
		return fmt.Errorf("final answer already set for query %s", s.queryID)
	}
	s.finalAnswer = answer
	s.answerSet = true
	return nil
}

// FinalAnswer returns the synthesized answer, empty until synthesis.
func (s *QueryState) FinalAnswer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalAnswer
}

// Clone deep-copies the state. The clone gets a fresh lock; no
// synchronization handle is ever shared between clones.
func (s *QueryState) Clone() *QueryState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := New(s.queryID, s.query, s.auditPolicy)
	out.cycle = s.cycle
	out.finalAnswer = s.finalAnswer
	out.answerSet = s.answerSet
	out.stop = s.stop
	out.stopReason = s.stopReason

	out.claims = make([]Claim, len(s.claims))
	for i, c := range s.claims {
		out.claims[i] = c.Clone()
	}
	out.sources = make([]Source, len(s.sources))
	for i, src := range s.sources {
		out.sources[i] = src.Clone()
	}
	for cycle, rs := range s.results {
		copied := make([]AgentResult, len(rs))
		for i, r := range rs {
			copied[i] = r.Clone()
		}
		out.results[cycle] = copied
	}
	out.taskGraph = s.taskGraph.Clone()
	out.reactLog = make([]ReActStep, len(s.reactLog))
	for i, step := range s.reactLog {
		out.reactLog[i] = step.Clone()
	}
	for k, v := range s.metadata {
		out.metadata[k] = cloneValue(v)
	}
	for k, v := range s.claimKeys {
		out.claimKeys[k] = v
	}
	for k, v := range s.claimIndex {
		out.claimIndex[k] = v
	}
	for k, v := range s.sourceKeys {
		out.sourceKeys[k] = v
	}

	return out
}

func (s *QueryState) recomputeMetadataLocked() {
	byType := make(map[string]int)
	for _, c := range s.claims {
		byType[string(c.Type)]++
	}

	s.metadata["claims_total"] = len(s.claims)
	s.metadata["sources_total"] = len(s.sources)
	s.metadata["claims_by_type"] = byType
}

// Package gate implements the pre-debate scout pass and the policy that
// decides whether an auto-mode query exits with the scout's draft or
// escalates into full debate. The scout reports progress on a bounded
// event channel; callers drain it to completion before evaluating the
// policy, so signals are never read from a half-finished pass.
package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/autoresearch/autoresearch/pkg/agents"
	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/llms"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/retrieval"
	"github.com/autoresearch/autoresearch/pkg/state"
	"github.com/autoresearch/autoresearch/pkg/storage"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// EventKind labels a scout progress event.
type EventKind string

const (
	EventRetrieval EventKind = "retrieval"
	EventSample    EventKind = "sample"
	EventSignals   EventKind = "signals"
	EventDone      EventKind = "done"
)

// Event is one scout progress notification. The final event has kind
// EventDone and carries the result or the error; the channel closes
// after it.
type Event struct {
	Kind   EventKind
	Note   string
	Result *Result
	Err    error
}

// Signals are the gate inputs computed from the scout pass.
type Signals struct {
	// RetrievalOverlap is the fraction of draft tokens grounded in the
	// retrieval bundle.
	RetrievalOverlap float64 `json:"retrieval_overlap"`

	// ClaimConflict is the fraction of cross-sample claim pairs that
	// contradict each other.
	ClaimConflict float64 `json:"claim_conflict"`

	// MultiHopRequired marks questions that structurally need more than
	// one reasoning step.
	MultiHopRequired bool `json:"multi_hop_required"`

	// GraphContradiction is set when the knowledge graph contradicts a
	// draft claim.
	GraphContradiction bool `json:"graph_contradiction"`
}

// Result is the scout pass output: the draft answer, its claims, the
// retrieval bundle, and the computed signals.
type Result struct {
	Draft       string
	DraftClaims []state.Claim
	Samples     []string
	Bundle      []retrieval.Document
	Signals     Signals
	CacheHit    bool
	TokensIn    int
	TokensOut   int
}

const (
	scoutTopK   = 5
	eventBuffer = 16
)

const scoutSystem = "You are a research scout. Draft a quick, direct answer " +
	"from the evidence given. Prefer saying less over speculating. Answer in JSON."

// Scout runs the lightweight pre-debate pass. It never writes to graph
// storage; retrieval runs in cache-only persistence mode.
type Scout struct {
	adapter   llms.Adapter
	retriever agents.Retriever
	store     *storage.Coordinator
	cfg       config.GateConfig
}

// NewScout creates a scout. retriever and store may be nil; the matching
// signals then default to ungrounded values.
func NewScout(adapter llms.Adapter, retriever agents.Retriever, store *storage.Coordinator, cfg config.GateConfig) *Scout {
	cfg.SetDefaults()
	return &Scout{adapter: adapter, retriever: retriever, store: store, cfg: cfg}
}

// Run starts the scout pass and returns its event channel. The channel is
// bounded and closes after the EventDone event.
func (s *Scout) Run(ctx context.Context, query, model string) <-chan Event {
	events := make(chan Event, eventBuffer)
	go func() {
		defer close(events)
		res, err := s.run(ctx, query, model, events)
		events <- Event{Kind: EventDone, Result: res, Err: err}
	}()
	return events
}

// Drain consumes events until completion and returns the final result.
func Drain(events <-chan Event) (*Result, error) {
	var res *Result
	var err error
	for ev := range events {
		if ev.Kind == EventDone {
			res, err = ev.Result, ev.Err
		}
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, protocol.New(protocol.KindAgentFailure, "gate.scout", "scout finished without a result")
	}
	return res, nil
}

func (s *Scout) run(ctx context.Context, query, model string, events chan<- Event) (*Result, error) {
	res := &Result{}

	if s.retriever != nil {
		lookup, err := s.retriever.Lookup(ctx, query, scoutTopK, retrieval.WithoutPersist())
		if err != nil {
			if protocol.KindOf(err) == protocol.KindCancelled {
				return nil, err
			}
			// The scout can still draft from the model alone; overlap
			// stays at zero, which biases the gate toward debate.
			events <- Event{Kind: EventRetrieval, Note: "retrieval failed: " + err.Error()}
		} else {
			res.Bundle = lookup.Documents
			res.CacheHit = lookup.CacheHit
			events <- Event{Kind: EventRetrieval, Note: fmt.Sprintf("%d documents", len(res.Bundle))}
		}
	}

	sampleClaims := make([][]string, 0, s.cfg.ScoutSamples)
	for i := 0; i < s.cfg.ScoutSamples; i++ {
		gen, err := s.adapter.Generate(ctx, llms.GenerateRequest{
			System: scoutSystem,
			Prompt: s.prompt(query, res.Bundle, i),
			Model:  model,
		})
		if err != nil {
			return nil, err
		}
		res.TokensIn += gen.TokensIn
		res.TokensOut += gen.TokensOut

		payload, derr := agents.DecodeAnswer(gen.Text)
		if derr != nil {
			payload = &agents.AnswerPayload{Answer: strings.TrimSpace(gen.Text)}
		}
		texts := make([]string, 0, len(payload.Claims)+1)
		for _, c := range payload.Claims {
			if t := strings.TrimSpace(c.Text); t != "" {
				texts = append(texts, t)
			}
		}
		if len(texts) == 0 && payload.Answer != "" {
			texts = append(texts, payload.Answer)
		}
		sampleClaims = append(sampleClaims, texts)
		res.Samples = append(res.Samples, payload.Answer)

		if i == 0 {
			res.Draft = payload.Answer
			claims := payload.Claims
			if len(claims) == 0 && payload.Answer != "" {
				claims = []agents.ClaimPayload{{Text: payload.Answer}}
			}
			res.DraftClaims = agents.BuildClaims(claims, state.ClaimThesis, "scout", 0)
		}
		events <- Event{Kind: EventSample, Note: fmt.Sprintf("sample %d: %d claims", i+1, len(texts))}
	}

	res.Signals = s.signals(query, res, sampleClaims)
	events <- Event{Kind: EventSignals, Note: fmt.Sprintf(
		"overlap=%.2f conflict=%.2f multi_hop=%t contradiction=%t",
		res.Signals.RetrievalOverlap, res.Signals.ClaimConflict,
		res.Signals.MultiHopRequired, res.Signals.GraphContradiction)}
	return res, nil
}

func (s *Scout) prompt(query string, bundle []retrieval.Document, sample int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", query)
	if len(bundle) > 0 {
		b.WriteString("\nEvidence:\n")
		for _, doc := range bundle {
			line := doc.Title
			if line == "" {
				line = doc.CanonicalURL
			}
			fmt.Fprintf(&b, "- %s: %s\n", line, doc.Snippet)
		}
	}
	if sample > 0 {
		// Later samples probe agreement: a different angle on the same
		// question, not a rephrasing of the first draft.
		fmt.Fprintf(&b, "\nTake %d: answer independently, emphasizing any aspect the obvious reading misses.\n", sample+1)
	}
	b.WriteString("\nRespond with a single JSON object:\n")
	b.WriteString(`{"answer": "<short answer>", "claims": [{"text": "<one checkable assertion>"}]}`)
	return b.String()
}

// signals derives the four gate inputs. All values are deterministic
// functions of the drafts, the bundle, and the graph.
func (s *Scout) signals(query string, res *Result, sampleClaims [][]string) Signals {
	sig := Signals{
		RetrievalOverlap:   utils.Quantize(s.overlap(res)),
		ClaimConflict:      utils.Quantize(conflictRatio(sampleClaims)),
		MultiHopRequired:   multiHopRequired(query),
		GraphContradiction: s.contradicted(res.DraftClaims),
	}
	return sig
}

// overlap measures how much of the draft is grounded in the bundle.
func (s *Scout) overlap(res *Result) float64 {
	if res.Draft == "" || len(res.Bundle) == 0 {
		return 0
	}
	var b strings.Builder
	for _, doc := range res.Bundle {
		b.WriteString(doc.Title)
		b.WriteString(" ")
		b.WriteString(doc.Snippet)
		b.WriteString(" ")
	}
	return utils.TokenOverlap(res.Draft, b.String())
}

// conflictRatio is the fraction of cross-sample claim pairs that
// contradict. Fewer than two samples cannot conflict.
func conflictRatio(sampleClaims [][]string) float64 {
	pairs, conflicts := 0, 0
	for i := 0; i < len(sampleClaims); i++ {
		for j := i + 1; j < len(sampleClaims); j++ {
			for _, a := range sampleClaims[i] {
				for _, b := range sampleClaims[j] {
					pairs++
					if utils.TextConflict(a, b) {
						conflicts++
					}
				}
			}
		}
	}
	if pairs == 0 {
		return 0
	}
	return float64(conflicts) / float64(pairs)
}

// interrogatives open a question clause.
var interrogatives = map[string]bool{
	"what": true, "why": true, "how": true, "when": true,
	"where": true, "who": true, "which": true,
}

// multiHopMarkers are phrasings that need an intermediate answer before
// the final one.
var multiHopMarkers = []string{
	"and then", "after that", "compare", "versus", " vs ",
	"difference between", "for each", "step by step", "in order to",
}

// multiHopRequired is a structural heuristic: several question clauses or
// an explicit sequencing marker.
func multiHopRequired(query string) bool {
	if strings.Count(query, "?") > 1 {
		return true
	}
	folded := " " + utils.FoldText(query) + " "
	for _, m := range multiHopMarkers {
		if strings.Contains(folded, m) {
			return true
		}
	}
	count := 0
	for _, tok := range utils.Tokenize(query) {
		if interrogatives[tok] {
			count++
		}
	}
	return count >= 2
}

// contradicted asks the knowledge graph about each draft claim.
func (s *Scout) contradicted(claims []state.Claim) bool {
	if s.store == nil {
		return false
	}
	for _, c := range claims {
		if s.store.GraphContradiction(c.Text) {
			return true
		}
	}
	return false
}

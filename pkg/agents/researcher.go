package agents

import (
	"context"
	"fmt"

	"github.com/autoresearch/autoresearch/pkg/planner"
	"github.com/autoresearch/autoresearch/pkg/state"
)

// Researcher expands the evidence base. With a task plan it executes the
// highest-priority ready task and records the dispatch in the ReAct log;
// without one it retrieves for the main question.
type Researcher struct{}

// NewResearcher creates the researcher role.
func NewResearcher() *Researcher { return &Researcher{} }

const (
	researchTopK      = 5
	maxEvidenceClaims = 3
)

func (a *Researcher) Name() string { return string(RoleResearcher) }
func (a *Researcher) Role() Role   { return RoleResearcher }

func (a *Researcher) Execute(ctx context.Context, ec *ExecContext) (*state.AgentResult, error) {
	if ec.Retrieval == nil {
		return &state.AgentResult{Content: "retrieval unavailable, nothing gathered"}, nil
	}

	query := ec.State.Query()
	var task *state.TaskNode
	var candidates []string
	if ec.Tasks != nil {
		if ready := ec.Tasks.ReadyTasks(); len(ready) > 0 {
			task = &ready[0]
			query = task.Question
			candidates = make([]string, len(ready))
			for i, r := range ready {
				candidates[i] = r.ID
			}
		}
	}

	lookup, err := ec.Retrieval.Lookup(ctx, query, researchTopK)
	if err != nil {
		return nil, err
	}

	// Task bookkeeping happens only after a successful lookup, so a retry
	// of this execution sees the task still pending.
	if task != nil && ec.Tasks.Begin(task.ID) {
		unlocks := ec.Tasks.Complete(task.ID)
		ec.State.AppendReact(planner.DispatchStep(task, ec.Cycle, candidates, unlocks))
	}
	if lookup.CacheHit {
		ec.State.SetMeta("cache_hit", true)
	}

	sources := make([]state.Source, 0, len(lookup.Documents))
	var payload []ClaimPayload
	for _, doc := range lookup.Documents {
		sources = append(sources, doc.ToSource())
		if len(payload) < maxEvidenceClaims && doc.Snippet != "" {
			payload = append(payload, ClaimPayload{
				Text:    doc.Snippet,
				Type:    string(state.ClaimEvidence),
				Sources: []string{doc.CanonicalURL},
			})
		}
	}

	content := fmt.Sprintf("retrieved %d documents for %q", len(lookup.Documents), query)
	if task != nil {
		content = fmt.Sprintf("task %s: %s", task.ID, content)
	}

	return &state.AgentResult{
		Content:       content,
		ClaimsAdded:   BuildClaims(payload, state.ClaimEvidence, a.Name(), ec.Cycle),
		SourcesAdded:  sources,
		ModelSelected: ec.Model,
	}, nil
}

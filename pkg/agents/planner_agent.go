package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/autoresearch/autoresearch/pkg/planner"
	"github.com/autoresearch/autoresearch/pkg/state"
)

// DefaultPlannerTools names the retrieval stages tasks can declare
// affinity for.
var DefaultPlannerTools = []string{"search", "vector", "ontology"}

// PlannerAgent decomposes the query into a validated task graph and
// installs it on the query state for the coordinator to schedule.
type PlannerAgent struct {
	tools []string
}

// NewPlannerAgent creates the planner role with the given affinity tool
// names, defaulting to the retrieval stages.
func NewPlannerAgent(tools ...string) *PlannerAgent {
	if len(tools) == 0 {
		tools = DefaultPlannerTools
	}
	return &PlannerAgent{tools: tools}
}

func (a *PlannerAgent) Name() string { return string(RolePlanner) }
func (a *PlannerAgent) Role() Role   { return RolePlanner }

func (a *PlannerAgent) Execute(ctx context.Context, ec *ExecContext) (*state.AgentResult, error) {
	p := planner.New(ec.Adapter, a.tools)
	out, err := p.Plan(ctx, ec.Model, ec.State.Query(), a.background(ec.State))
	if err != nil {
		return nil, err
	}

	ec.State.SetTaskGraph(out.Graph)
	if len(out.Repairs) > 0 {
		ec.State.SetMeta("plan_repaired", true)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "planned %d tasks", len(out.Graph.Nodes))
	for _, t := range out.Graph.Nodes {
		fmt.Fprintf(&b, "\n- [%s depth=%d] %s", t.ID, t.Depth, t.Question)
	}

	return &state.AgentResult{
		Content:       b.String(),
		TokensIn:      out.TokensIn,
		TokensOut:     out.TokensOut,
		ModelSelected: ec.Model,
	}, nil
}

// background turns already-gathered sources into planner context lines.
func (a *PlannerAgent) background(s *state.QueryState) []string {
	sources := s.Sources()
	var out []string
	for i := len(sources) - 1; i >= 0 && len(out) < 8; i-- {
		src := sources[i]
		line := src.Title
		if line == "" {
			line = src.URL
		}
		if src.Snippet != "" {
			line += ": " + src.Snippet
		}
		out = append(out, line)
	}
	return out
}

package planner

import (
	"context"
	"strings"
	"testing"

	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/testutils"
)

func TestPlanProducesValidatedGraph(t *testing.T) {
	adapter := testutils.NewScriptedAdapter("").Queue(`Here is the plan:
{
  "tasks": [
    {
      "id": "gather",
      "question": "What do primary sources say?",
      "exit_criteria": ["three sources collected"],
      "tool_affinity": {"search": 0.9, "ontology": 0.4},
      "parallelizable": true
    },
    {
      "id": "compare",
      "question": "Where do the sources disagree?",
      "exit_criteria": ["conflicts listed"],
      "depends_on": ["gather"]
    }
  ]
}`)

	p := New(adapter, []string{"search", "ontology"})
	out, err := p.Plan(context.Background(), "gpt-4o-mini", "How do solar subsidies affect adoption?", []string{"subsidies correlate with adoption spikes"})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(out.Repairs) != 0 {
		t.Fatalf("valid plan was repaired: %v", out.Repairs)
	}
	if len(out.Graph.Nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(out.Graph.Nodes))
	}
	gather, _ := out.Graph.Node("gather")
	compare, _ := out.Graph.Node("compare")
	if gather.Depth != 0 || compare.Depth != 1 {
		t.Fatalf("depths = %d,%d, want 0,1", gather.Depth, compare.Depth)
	}
	if out.TokensIn <= 0 || out.TokensOut <= 0 {
		t.Fatalf("token accounting missing: %+v", out)
	}

	// The prompt pins the response to the generated schema.
	prompt := adapter.Calls()[0].Prompt
	for _, want := range []string{"exit_criteria", "tool_affinity", "depends_on", "Available tools: search, ontology"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestPlanRepairsCycleDroppingLatestEdge(t *testing.T) {
	adapter := testutils.NewScriptedAdapter("").Queue(`{
  "tasks": [
    {"id": "a", "question": "first", "exit_criteria": ["done"], "depends_on": ["b"]},
    {"id": "b", "question": "second", "exit_criteria": ["done"], "depends_on": ["a"]}
  ]
}`)

	out, err := New(adapter, nil).Plan(context.Background(), "m", "q", nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(out.Repairs) != 1 || !strings.Contains(out.Repairs[0], `task "b" dropped dependency "a"`) {
		t.Fatalf("repairs = %v, want the later edge b->a dropped", out.Repairs)
	}
	a, _ := out.Graph.Node("a")
	b, _ := out.Graph.Node("b")
	if len(a.Dependencies) != 1 || a.Dependencies[0] != "b" {
		t.Fatalf("earlier edge a->b must survive, got %v", a.Dependencies)
	}
	if len(b.Dependencies) != 0 {
		t.Fatalf("cycle edge must be dropped, got %v", b.Dependencies)
	}
	if b.Depth != 0 || a.Depth != 1 {
		t.Fatalf("depths after repair = a:%d b:%d, want a:1 b:0", a.Depth, b.Depth)
	}
}

func TestPlanRepairsAffinitiesAndExitCriteria(t *testing.T) {
	adapter := testutils.NewScriptedAdapter("").Queue(`{
  "tasks": [
    {"id": "t1", "question": "q", "tool_affinity": {"search": 1.5, "calc": -0.25}}
  ]
}`)

	out, err := New(adapter, nil).Plan(context.Background(), "m", "q", nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	node, _ := out.Graph.Node("t1")
	if node.ToolAffinity["search"] != 1 || node.ToolAffinity["calc"] != 0 {
		t.Fatalf("affinities not clamped: %v", node.ToolAffinity)
	}
	if len(node.ExitCriteria) == 0 {
		t.Fatal("empty exit criteria must be defaulted")
	}
	if len(out.Repairs) != 3 {
		t.Fatalf("repairs = %v, want clamp x2 + exit criteria default", out.Repairs)
	}
}

func TestPlanDropsDuplicatesAndUnknownDependencies(t *testing.T) {
	adapter := testutils.NewScriptedAdapter("").Queue(`{
  "tasks": [
    {"id": "t1", "question": "q1", "exit_criteria": ["done"], "depends_on": ["missing"]},
    {"id": "t1", "question": "dup", "exit_criteria": ["done"]},
    {"id": "t2", "question": "q2", "exit_criteria": ["done"], "depends_on": ["t2"]}
  ]
}`)

	out, err := New(adapter, nil).Plan(context.Background(), "m", "q", nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(out.Graph.Nodes) != 2 {
		t.Fatalf("got %d nodes, want duplicate dropped", len(out.Graph.Nodes))
	}
	t1, _ := out.Graph.Node("t1")
	t2, _ := out.Graph.Node("t2")
	if len(t1.Dependencies) != 0 || len(t2.Dependencies) != 0 {
		t.Fatalf("unknown and self deps must be dropped: %v %v", t1.Dependencies, t2.Dependencies)
	}
}

func TestPlanUnparseableOutputIsAgentFailure(t *testing.T) {
	adapter := testutils.NewScriptedAdapter("I could not produce a plan, sorry.")

	_, err := New(adapter, nil).Plan(context.Background(), "m", "q", nil)
	if err == nil {
		t.Fatal("expected an error for unparseable output")
	}
	if protocol.KindOf(err) != protocol.KindAgentFailure {
		t.Fatalf("kind = %q, want AgentFailure", protocol.KindOf(err))
	}
}

func TestPlanEmptyTaskListFails(t *testing.T) {
	adapter := testutils.NewScriptedAdapter(`{"tasks": []}`)

	_, err := New(adapter, nil).Plan(context.Background(), "m", "q", nil)
	if err == nil {
		t.Fatal("expected an error for an empty plan")
	}
}

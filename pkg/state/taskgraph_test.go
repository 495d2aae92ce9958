package state

import (
	"strings"
	"testing"
)

func TestTaskGraphValidateComputesDiamondDepths(t *testing.T) {
	g := &TaskGraph{Nodes: []TaskNode{
		{ID: "gather", ExitCriteria: []string{"sources collected"}},
		{ID: "left", ExitCriteria: []string{"done"}, Dependencies: []string{"gather"}},
		{ID: "right", ExitCriteria: []string{"done"}, Dependencies: []string{"gather"}},
		{ID: "merge", ExitCriteria: []string{"done"}, Dependencies: []string{"left", "right"}},
	}}

	if err := g.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	want := map[string]int{"gather": 0, "left": 1, "right": 1, "merge": 2}
	for id, depth := range want {
		n, ok := g.Node(id)
		if !ok {
			t.Fatalf("node %q missing", id)
		}
		if n.Depth != depth {
			t.Errorf("depth(%s) = %d, want %d", id, n.Depth, depth)
		}
	}
}

func TestTaskGraphValidateErrors(t *testing.T) {
	cases := []struct {
		name    string
		graph   *TaskGraph
		wantSub string
	}{
		{
			"empty graph",
			&TaskGraph{},
			"no nodes",
		},
		{
			"empty id",
			&TaskGraph{Nodes: []TaskNode{{ExitCriteria: []string{"done"}}}},
			"empty id",
		},
		{
			"duplicate id",
			&TaskGraph{Nodes: []TaskNode{
				{ID: "a", ExitCriteria: []string{"done"}},
				{ID: "a", ExitCriteria: []string{"done"}},
			}},
			`duplicate task id "a"`,
		},
		{
			"missing exit criteria",
			&TaskGraph{Nodes: []TaskNode{{ID: "a"}}},
			"no exit criteria",
		},
		{
			"affinity out of range",
			&TaskGraph{Nodes: []TaskNode{
				{ID: "a", ExitCriteria: []string{"done"}, ToolAffinity: map[string]float64{"search": 1.5}},
			}},
			"outside [0,1]",
		},
		{
			"unknown dependency",
			&TaskGraph{Nodes: []TaskNode{
				{ID: "a", ExitCriteria: []string{"done"}, Dependencies: []string{"ghost"}},
			}},
			`unknown task "ghost"`,
		},
		{
			"dependency cycle",
			&TaskGraph{Nodes: []TaskNode{
				{ID: "a", ExitCriteria: []string{"done"}, Dependencies: []string{"b"}},
				{ID: "b", ExitCriteria: []string{"done"}, Dependencies: []string{"a"}},
			}},
			"cycle through task",
		},
	}

	for _, tc := range cases {
		err := tc.graph.Validate()
		if err == nil {
			t.Errorf("%s: Validate passed, want error containing %q", tc.name, tc.wantSub)
			continue
		}
		if !strings.Contains(err.Error(), tc.wantSub) {
			t.Errorf("%s: error = %q, want substring %q", tc.name, err.Error(), tc.wantSub)
		}
	}
}

func TestTaskNodeMaxAffinity(t *testing.T) {
	n := TaskNode{ToolAffinity: map[string]float64{"search": 0.3, "ontology": 0.8}}
	if got := n.MaxAffinity(); got != 0.8 {
		t.Fatalf("MaxAffinity = %v, want 0.8", got)
	}
	if got := (&TaskNode{}).MaxAffinity(); got != 0 {
		t.Fatalf("MaxAffinity of bare node = %v, want 0", got)
	}
}

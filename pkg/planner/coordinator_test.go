package planner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/autoresearch/autoresearch/pkg/state"
)

func testGraph(t *testing.T) *state.TaskGraph {
	t.Helper()
	g := &state.TaskGraph{Nodes: []state.TaskNode{
		{ID: "c", Question: "qc", ExitCriteria: []string{"done"}, ToolAffinity: map[string]float64{"search": 0.9}},
		{ID: "a", Question: "qa", ExitCriteria: []string{"done"}, ToolAffinity: map[string]float64{"search": 0.9}},
		{ID: "b", Question: "qb", ExitCriteria: []string{"done"}, ToolAffinity: map[string]float64{"search": 0.5}},
		{ID: "d", Question: "qd", ExitCriteria: []string{"done"}, Dependencies: []string{"a"}},
	}}
	if err := g.Validate(); err != nil {
		t.Fatalf("fixture graph invalid: %v", err)
	}
	return g
}

func readyIDs(c *Coordinator) []string {
	tasks := c.ReadyTasks()
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return ids
}

func TestReadyTasksOrdering(t *testing.T) {
	c := NewCoordinator(testGraph(t))

	// Depth 0 first; equal affinity 0.9 ties break by id; d is blocked.
	got := readyIDs(c)
	want := []string{"a", "c", "b"}
	if len(got) != len(want) {
		t.Fatalf("ready = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ready = %v, want %v", got, want)
		}
	}
}

func TestBeginAndCompleteUnlocks(t *testing.T) {
	c := NewCoordinator(testGraph(t))

	if !c.Begin("a") {
		t.Fatal("Begin(a) should succeed")
	}
	if c.Begin("a") {
		t.Fatal("Begin(a) twice should fail")
	}
	if c.Begin("d") {
		t.Fatal("Begin(d) should fail while a is incomplete")
	}

	unlocked := c.Complete("a")
	if len(unlocked) != 1 || unlocked[0] != "d" {
		t.Fatalf("unlocked = %v, want [d]", unlocked)
	}

	// Completing an independent task unlocks nothing.
	if unlocked := c.Complete("b"); len(unlocked) != 0 {
		t.Fatalf("unlocked = %v, want none", unlocked)
	}

	got := readyIDs(c)
	if len(got) != 2 || got[0] != "c" || got[1] != "d" {
		t.Fatalf("ready = %v, want [c d]", got)
	}

	if c.Done() {
		t.Fatal("Done before all tasks complete")
	}
	c.Complete("c")
	c.Complete("d")
	if !c.Done() {
		t.Fatal("Done should hold after all completions")
	}
	if c.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", c.Remaining())
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	c := NewCoordinator(testGraph(t))

	c.Complete("a")
	if unlocked := c.Complete("a"); unlocked != nil {
		t.Fatalf("second Complete returned %v", unlocked)
	}
	if unlocked := c.Complete("ghost"); unlocked != nil {
		t.Fatalf("unknown task returned %v", unlocked)
	}
}

func TestRunParallelJoinsAndPropagatesErrors(t *testing.T) {
	g := testGraph(t)
	c := NewCoordinator(g)

	var ran int64
	err := RunParallel(context.Background(), c.ReadyTasks(), 2, func(ctx context.Context, task state.TaskNode) error {
		atomic.AddInt64(&ran, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("RunParallel failed: %v", err)
	}
	if ran != 3 {
		t.Fatalf("ran %d tasks, want 3", ran)
	}

	boom := errors.New("boom")
	err = RunParallel(context.Background(), c.ReadyTasks(), 0, func(ctx context.Context, task state.TaskNode) error {
		if task.ID == "b" {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestDispatchStepRecordsSchedulerContext(t *testing.T) {
	task := &state.TaskNode{
		ID:       "gather",
		Question: "What do primary sources say?",
		ToolAffinity: map[string]float64{
			"search":   0.8,
			"ontology": 0.5,
		},
	}

	step := DispatchStep(task, 2, []string{"gather", "compare"}, []string{"compare"})

	if step.TaskID != "gather" || step.Cycle != 2 {
		t.Fatalf("identity = %+v", step)
	}
	if step.Action != "execute_task" || step.Tool != "search" {
		t.Fatalf("dispatch = action %q tool %q", step.Action, step.Tool)
	}
	if step.AffinityDelta != 0.3 {
		t.Fatalf("affinity delta = %v, want 0.3", step.AffinityDelta)
	}

	scheduler, ok := step.Metadata["scheduler"].(map[string]any)
	if !ok {
		t.Fatalf("metadata.scheduler missing: %v", step.Metadata)
	}
	candidates, _ := scheduler["candidates"].([]string)
	if len(candidates) != 2 {
		t.Fatalf("candidates = %v", scheduler["candidates"])
	}
	unlocks, _ := step.Metadata["unlock_events"].([]string)
	if len(unlocks) != 1 || unlocks[0] != "compare" {
		t.Fatalf("unlock_events = %v", step.Metadata["unlock_events"])
	}
}

func TestDispatchStepTieBreaksLexicographically(t *testing.T) {
	task := &state.TaskNode{
		ID:           "t",
		Question:     "q",
		ToolAffinity: map[string]float64{"b_tool": 0.7, "a_tool": 0.7},
	}

	step := DispatchStep(task, 0, nil, nil)
	if step.Tool != "a_tool" {
		t.Fatalf("tool = %q, want lexicographic winner a_tool", step.Tool)
	}
	if step.AffinityDelta != 0 {
		t.Fatalf("delta = %v, want 0 on tie", step.AffinityDelta)
	}

	bare := DispatchStep(&state.TaskNode{ID: "n", Question: "q"}, 0, nil, nil)
	if bare.Tool != "" || bare.AffinityDelta != 0 {
		t.Fatalf("no-affinity dispatch = %+v", bare)
	}
}

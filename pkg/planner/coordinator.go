package planner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/autoresearch/autoresearch/pkg/state"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

type taskStatus int

const (
	taskPending taskStatus = iota
	taskRunning
	taskDone
)

// Coordinator tracks task graph execution: which tasks are ready, which
// completed, and what each completion unlocked. It owns a private copy of
// the graph, so planner output stored on the query state stays immutable.
type Coordinator struct {
	mu     sync.Mutex
	graph  *state.TaskGraph
	status map[string]taskStatus
}

// NewCoordinator creates a coordinator over a validated graph.
func NewCoordinator(graph *state.TaskGraph) *Coordinator {
	c := &Coordinator{
		graph:  graph.Clone(),
		status: make(map[string]taskStatus, len(graph.Nodes)),
	}
	for _, n := range c.graph.Nodes {
		c.status[n.ID] = taskPending
	}
	return c
}

// ReadyTasks returns the pending tasks whose dependencies are all done,
// sorted by (depth ascending, max tool affinity descending, id ascending).
func (c *Coordinator) ReadyTasks() []state.TaskNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ready []state.TaskNode
	for _, n := range c.graph.Nodes {
		if c.status[n.ID] == taskPending && c.depsDoneLocked(&n) {
			ready = append(ready, n.Clone())
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Depth != ready[j].Depth {
			return ready[i].Depth < ready[j].Depth
		}
		ai, aj := ready[i].MaxAffinity(), ready[j].MaxAffinity()
		if ai != aj {
			return ai > aj
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// Begin marks a ready task as running. It returns false when the task is
// unknown, already started, or still blocked.
func (c *Coordinator) Begin(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.graph.Node(id)
	if !ok || c.status[id] != taskPending || !c.depsDoneLocked(n) {
		return false
	}
	c.status[id] = taskRunning
	return true
}

// Complete marks a task done and returns the ids of tasks this completion
// unlocked, in declaration order.
func (c *Coordinator) Complete(id string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.status[id]; !ok || c.status[id] == taskDone {
		return nil
	}
	c.status[id] = taskDone

	var unlocked []string
	for _, n := range c.graph.Nodes {
		if c.status[n.ID] != taskPending || !c.depsDoneLocked(&n) {
			continue
		}
		for _, dep := range n.Dependencies {
			if dep == id {
				unlocked = append(unlocked, n.ID)
				break
			}
		}
	}
	return unlocked
}

// Done reports whether every task has completed.
func (c *Coordinator) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.status {
		if s != taskDone {
			return false
		}
	}
	return true
}

// Remaining counts tasks not yet done.
func (c *Coordinator) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, s := range c.status {
		if s != taskDone {
			n++
		}
	}
	return n
}

func (c *Coordinator) depsDoneLocked(n *state.TaskNode) bool {
	for _, dep := range n.Dependencies {
		if c.status[dep] != taskDone {
			return false
		}
	}
	return true
}

// RunParallel executes fn for each task through an errgroup worker pool
// with an explicit join before return, so no task execution outlives the
// call. limit <= 0 means unbounded.
func RunParallel(ctx context.Context, tasks []state.TaskNode, limit int, fn func(ctx context.Context, task state.TaskNode) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, task := range tasks {
		g.Go(func() error {
			return fn(ctx, task)
		})
	}
	return g.Wait()
}

// DispatchStep builds the ReAct record for one task execution. candidates
// are the ready task ids at selection time; unlocks the ids freed by the
// completion. Tool selection is argmax affinity with lexicographic
// tie-break; affinity_delta is the winner's margin over the runner-up.
func DispatchStep(task *state.TaskNode, cycle int, candidates, unlocks []string) state.ReActStep {
	tool, delta := selectTool(task)
	return state.ReActStep{
		TaskID:        task.ID,
		Cycle:         cycle,
		Thought:       fmt.Sprintf("investigate: %s", task.Question),
		Action:        "execute_task",
		Tool:          tool,
		AffinityDelta: delta,
		Metadata: map[string]any{
			"scheduler": map[string]any{
				"candidates": append([]string(nil), candidates...),
			},
			"unlock_events": append([]string(nil), unlocks...),
		},
	}
}

func selectTool(task *state.TaskNode) (string, float64) {
	names := make([]string, 0, len(task.ToolAffinity))
	for name := range task.ToolAffinity {
		names = append(names, name)
	}
	sort.Strings(names)

	var best string
	bestScore, runnerUp := 0.0, 0.0
	for _, name := range names {
		a := task.ToolAffinity[name]
		if best == "" || a > bestScore {
			if best != "" {
				runnerUp = bestScore
			}
			best, bestScore = name, a
		} else if a > runnerUp {
			runnerUp = a
		}
	}
	if best == "" {
		return "", 0
	}
	return best, utils.Quantize(bestScore - runnerUp)
}

package state

import "fmt"

// TaskNode is one planner-produced unit of work.
type TaskNode struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	Objectives   []string `json:"objectives,omitempty"`
	ExitCriteria []string `json:"exit_criteria"`

	// ToolAffinity scores each tool's suitability in [0,1].
	ToolAffinity map[string]float64 `json:"tool_affinity,omitempty"`

	// Dependencies lists ids that must complete before this node.
	Dependencies []string `json:"dependencies,omitempty"`

	// Depth is 1 + max depth of dependencies, 0 for roots. Computed.
	Depth int `json:"depth"`

	// Parallelizable marks the node safe to run alongside other ready
	// nodes at the same depth.
	Parallelizable bool `json:"parallelizable,omitempty"`
}

// MaxAffinity returns the node's strongest tool affinity.
func (n *TaskNode) MaxAffinity() float64 {
	max := 0.0
	for _, v := range n.ToolAffinity {
		if v > max {
			max = v
		}
	}
	return max
}

// Clone deep-copies the node.
func (n TaskNode) Clone() TaskNode {
	out := n
	out.Objectives = append([]string(nil), n.Objectives...)
	out.ExitCriteria = append([]string(nil), n.ExitCriteria...)
	out.Dependencies = append([]string(nil), n.Dependencies...)
	if n.ToolAffinity != nil {
		out.ToolAffinity = make(map[string]float64, len(n.ToolAffinity))
		for k, v := range n.ToolAffinity {
			out.ToolAffinity[k] = v
		}
	}
	return out
}

// TaskGraph is the planner's acyclic task breakdown, in declaration order.
type TaskGraph struct {
	Nodes []TaskNode `json:"nodes"`
}

// Node returns the node with the given id.
func (g *TaskGraph) Node(id string) (*TaskNode, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// ComputeDepths fills every node's Depth. Errors on unknown dependencies or
// cycles; callers repair the graph first.
func (g *TaskGraph) ComputeDepths() error {
	index := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		index[n.ID] = i
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	marks := make([]int, len(g.Nodes))

	var visit func(i int) (int, error)
	visit = func(i int) (int, error) {
		switch marks[i] {
		case done:
			return g.Nodes[i].Depth, nil
		case visiting:
			return 0, fmt.Errorf("cycle through task %q", g.Nodes[i].ID)
		}

		marks[i] = visiting
		depth := 0
		for _, dep := range g.Nodes[i].Dependencies {
			j, ok := index[dep]
			if !ok {
				return 0, fmt.Errorf("task %q depends on unknown task %q", g.Nodes[i].ID, dep)
			}
			d, err := visit(j)
			if err != nil {
				return 0, err
			}
			if d+1 > depth {
				depth = d + 1
			}
		}
		g.Nodes[i].Depth = depth
		marks[i] = done
		return depth, nil
	}

	for i := range g.Nodes {
		if _, err := visit(i); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the graph invariants: unique non-empty ids, acyclic
// dependency edges, affinities within [0,1], and non-empty exit criteria.
func (g *TaskGraph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("task graph has no nodes")
	}

	seen := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("task %d has empty id", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate task id %q", n.ID)
		}
		seen[n.ID] = true

		if len(n.ExitCriteria) == 0 {
			return fmt.Errorf("task %q has no exit criteria", n.ID)
		}
		for tool, affinity := range n.ToolAffinity {
			if affinity < 0 || affinity > 1 {
				return fmt.Errorf("task %q tool %q affinity %v outside [0,1]", n.ID, tool, affinity)
			}
		}
	}

	return g.ComputeDepths()
}

// Clone deep-copies the graph.
func (g *TaskGraph) Clone() *TaskGraph {
	if g == nil {
		return nil
	}
	out := &TaskGraph{Nodes: make([]TaskNode, len(g.Nodes))}
	for i, n := range g.Nodes {
		out.Nodes[i] = n.Clone()
	}
	return out
}

// Package planner turns a query into a validated task graph. The planning
// prompt pins the model to a fixed JSON schema generated from the plan
// document type; graphs that come back invalid go through a deterministic
// repair pass instead of a re-prompt, so planning costs one model call.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/autoresearch/autoresearch/pkg/llms"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/state"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

const plannerSystem = "You are a research planner. You decompose questions " +
	"into small, checkable tasks and respond with JSON only."

// maxBackgroundSnippets caps how much retrieval context enters the prompt.
const maxBackgroundSnippets = 8

// PlanTask is the task shape the model returns.
type PlanTask struct {
	ID             string             `json:"id" jsonschema:"required,description=Short stable identifier"`
	Question       string             `json:"question" jsonschema:"required,description=The sub-question this task answers"`
	Objectives     []string           `json:"objectives,omitempty" jsonschema:"description=Concrete objectives for the task"`
	ExitCriteria   []string           `json:"exit_criteria" jsonschema:"required,description=How to tell the task is complete"`
	ToolAffinity   map[string]float64 `json:"tool_affinity,omitempty" jsonschema:"description=Tool fitness scores between 0 and 1"`
	DependsOn      []string           `json:"depends_on,omitempty" jsonschema:"description=Ids of tasks that must finish first"`
	Parallelizable bool               `json:"parallelizable,omitempty" jsonschema:"description=Safe to run alongside other ready tasks"`
}

// PlanDocument is the closed response shape for the planning prompt.
type PlanDocument struct {
	Tasks []PlanTask `json:"tasks" jsonschema:"required,description=Task breakdown in execution order"`
}

// Outcome is the result of one planning call.
type Outcome struct {
	Graph *state.TaskGraph

	// Repairs lists the deterministic fixes applied to an invalid plan,
	// empty when the plan validated as returned.
	Repairs []string

	TokensIn  int
	TokensOut int
}

// Planner produces task graphs through a model adapter.
type Planner struct {
	adapter llms.Adapter
	tools   []string
}

// New creates a planner. tools are the tool names tasks may express
// affinity for.
func New(adapter llms.Adapter, tools []string) *Planner {
	return &Planner{adapter: adapter, tools: append([]string(nil), tools...)}
}

// Plan asks the model for a task breakdown and returns a validated graph.
// background carries retrieval snippets that scope the decomposition.
func (p *Planner) Plan(ctx context.Context, model, query string, background []string) (*Outcome, error) {
	prompt, err := p.buildPrompt(query, background)
	if err != nil {
		return nil, protocol.WrapErr(protocol.KindFatal, "planner.prompt", err)
	}

	res, err := p.adapter.Generate(ctx, llms.GenerateRequest{
		System: plannerSystem,
		Prompt: prompt,
		Model:  model,
	})
	if err != nil {
		return nil, err
	}

	doc, err := decodePlan(res.Text)
	if err != nil {
		return nil, protocol.Newf(protocol.KindAgentFailure, "planner.decode", "unparseable plan: %v", err)
	}

	graph, repairs := buildGraph(doc)
	if err := graph.Validate(); err != nil {
		return nil, protocol.Newf(protocol.KindAgentFailure, "planner.validate", "plan invalid after repair: %v", err)
	}

	if len(repairs) > 0 {
		slog.Warn("Plan repaired",
			"tasks", len(graph.Nodes),
			"repairs", strings.Join(repairs, "; "))
	}

	return &Outcome{
		Graph:     graph,
		Repairs:   repairs,
		TokensIn:  res.TokensIn,
		TokensOut: res.TokensOut,
	}, nil
}

func (p *Planner) buildPrompt(query string, background []string) (string, error) {
	schema, err := planSchemaJSON()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Decompose the research question into a dependency-ordered task graph.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	if len(p.tools) > 0 {
		fmt.Fprintf(&b, "Available tools: %s\n\n", strings.Join(p.tools, ", "))
	}
	if len(background) > 0 {
		b.WriteString("Background from retrieval:\n")
		for i, snippet := range background {
			if i == maxBackgroundSnippets {
				break
			}
			fmt.Fprintf(&b, "- %s\n", snippet)
		}
		b.WriteString("\n")
	}
	b.WriteString("Respond with a single JSON object matching this schema:\n")
	b.WriteString(schema)
	b.WriteString("\n\nRules: ids are short and unique; depends_on references earlier ids only; tool_affinity values lie in [0,1]; every task states at least one exit criterion.")
	return b.String(), nil
}

// planSchemaJSON renders the plan document schema the way tool schemas are
// generated: required-from-tags, inlined, without $schema noise.
func planSchemaJSON() (string, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(&PlanDocument{})
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plan schema: %w", err)
	}
	return string(data), nil
}

// decodePlan extracts the JSON block from model output and decodes it. The
// two-step JSON-then-mapstructure decode tolerates weakly typed fields
// (numbers as strings, single values for lists).
func decodePlan(text string) (*PlanDocument, error) {
	block, err := utils.ExtractJSONBlock(text)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var doc PlanDocument
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &doc,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	if len(doc.Tasks) == 0 {
		return nil, fmt.Errorf("plan has no tasks")
	}
	return &doc, nil
}

// buildGraph converts the decoded document into a task graph, applying the
// deterministic repair pass: assign missing ids, drop duplicate tasks,
// default empty exit criteria, clamp affinities into [0,1], drop edges to
// unknown tasks, and drop the latest edge closing a cycle, walking
// declaration order. Repair notes come back in application order.
func buildGraph(doc *PlanDocument) (*state.TaskGraph, []string) {
	var repairs []string

	graph := &state.TaskGraph{}
	seen := make(map[string]bool, len(doc.Tasks))
	for i, t := range doc.Tasks {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			id = fmt.Sprintf("task-%d", i+1)
			repairs = append(repairs, fmt.Sprintf("task %d missing id, assigned %q", i+1, id))
		}
		if seen[id] {
			repairs = append(repairs, fmt.Sprintf("dropped duplicate task %q", id))
			continue
		}
		seen[id] = true

		node := state.TaskNode{
			ID:             id,
			Question:       strings.TrimSpace(t.Question),
			Objectives:     t.Objectives,
			ExitCriteria:   t.ExitCriteria,
			Dependencies:   t.DependsOn,
			Parallelizable: t.Parallelizable,
		}
		if len(node.ExitCriteria) == 0 {
			node.ExitCriteria = []string{"question answered with cited evidence"}
			repairs = append(repairs, fmt.Sprintf("task %q had no exit criteria, defaulted", id))
		}
		if len(t.ToolAffinity) > 0 {
			node.ToolAffinity = make(map[string]float64, len(t.ToolAffinity))
			for tool, affinity := range t.ToolAffinity {
				clamped := affinity
				if clamped < 0 {
					clamped = 0
				}
				if clamped > 1 {
					clamped = 1
				}
				if clamped != affinity {
					repairs = append(repairs, fmt.Sprintf("task %q tool %q affinity %v clamped", id, tool, affinity))
				}
				node.ToolAffinity[tool] = clamped
			}
		}
		graph.Nodes = append(graph.Nodes, node)
	}

	repairs = append(repairs, repairEdges(graph)...)
	return graph, repairs
}

func repairEdges(graph *state.TaskGraph) []string {
	var repairs []string

	known := make(map[string]bool, len(graph.Nodes))
	for _, n := range graph.Nodes {
		known[n.ID] = true
	}

	// Unknown and self references go first so cycle detection sees a
	// closed world.
	for i := range graph.Nodes {
		node := &graph.Nodes[i]
		kept := node.Dependencies[:0]
		for _, dep := range node.Dependencies {
			switch {
			case !known[dep]:
				repairs = append(repairs, fmt.Sprintf("task %q dropped unknown dependency %q", node.ID, dep))
			case dep == node.ID:
				repairs = append(repairs, fmt.Sprintf("task %q dropped self dependency", node.ID))
			default:
				kept = append(kept, dep)
			}
		}
		node.Dependencies = kept
	}

	// Re-add edges one at a time in declaration order. An edge whose
	// target already reaches its owner closes a cycle and, being the
	// latest, is the one dropped.
	adj := make(map[string][]string, len(graph.Nodes))
	for i := range graph.Nodes {
		node := &graph.Nodes[i]
		kept := node.Dependencies[:0]
		for _, dep := range node.Dependencies {
			if reaches(adj, dep, node.ID) {
				repairs = append(repairs, fmt.Sprintf("task %q dropped dependency %q closing a cycle", node.ID, dep))
				continue
			}
			kept = append(kept, dep)
			adj[node.ID] = append(adj[node.ID], dep)
		}
		node.Dependencies = kept
	}

	return repairs
}

// reaches reports whether target is reachable from from over dependency
// edges.
func reaches(adj map[string][]string, from, target string) bool {
	if from == target {
		return true
	}
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, adj[cur]...)
	}
	return false
}

// Package agents holds the debate roster: the Agent capability and the
// built-in roles the orchestrator schedules. Agents are stateless; all
// per-query accumulation lives on the QueryState threaded through
// ExecContext, so one roster instance serves concurrent queries.
package agents

import (
	"context"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/llms"
	"github.com/autoresearch/autoresearch/pkg/planner"
	"github.com/autoresearch/autoresearch/pkg/retrieval"
	"github.com/autoresearch/autoresearch/pkg/state"
	"github.com/autoresearch/autoresearch/pkg/storage"
)

// Role identifies an agent's function in the debate.
type Role string

const (
	RoleSynthesizer      Role = "synthesizer"
	RoleContrarian       Role = "contrarian"
	RoleFactChecker      Role = "fact_checker"
	RoleResearcher       Role = "researcher"
	RoleCritic           Role = "critic"
	RoleSummarizer       Role = "summarizer"
	RolePlanner          Role = "planner"
	RoleModerator        Role = "moderator"
	RoleDomainSpecialist Role = "domain_specialist"
	RoleUserAgent        Role = "user"
)

// Retriever is the retrieval capability agents consume. *retrieval.Merger
// satisfies it; a nil Retriever means lookups are unavailable this query.
type Retriever interface {
	Lookup(ctx context.Context, query string, topK int, opts ...retrieval.LookupOption) (*retrieval.Lookup, error)
}

// ExecContext is everything one agent execution may read and use. The
// scheduler fills it per call; Model carries the router's selection.
type ExecContext struct {
	State  *state.QueryState
	Config *config.Snapshot
	Cycle  int

	// Model is the router-selected model for this call. Agents pass it
	// through to Generate requests.
	Model string

	Adapter   llms.Adapter
	Retrieval Retriever
	Storage   *storage.Coordinator

	// Tasks is the planner's coordinator, nil until a plan exists.
	Tasks *planner.Coordinator
}

// Agent is one roster member. Execute returns the agent's contribution as
// a result carrying claims, sources, and token counts; the runtime stamps
// status, attempts, and latency. Errors are tagged with protocol kinds so
// the runtime can classify them for retry.
type Agent interface {
	Execute(ctx context.Context, ec *ExecContext) (*state.AgentResult, error)
	Name() string
	Role() Role
}

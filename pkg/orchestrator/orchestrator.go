// Package orchestrator owns the lifecycle of one query from submit to
// response: config snapshot, the optional scout pass and gate decision, the
// rotated debate loop, final synthesis, and the claim audit. Each query runs
// on a single goroutine that is the only writer of its QueryState; breakers,
// budget, and router stats are created per query and never shared.
package orchestrator

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/autoresearch/autoresearch/pkg/agents"
	"github.com/autoresearch/autoresearch/pkg/audit"
	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/llms"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/storage"
)

// Options wires the collaborators query runs share. Only a model adapter is
// required; everything else degrades to a narrower pipeline when absent.
type Options struct {
	// Adapter is the model adapter used for generation, entailment, and
	// embeddings. When nil, the registry default is resolved per query.
	Adapter llms.Adapter

	// Adapters is the process adapter registry populated by the shell.
	// Used when Adapter is nil.
	Adapters *llms.AdapterRegistry

	// Agents provides the executable roster. Nil falls back to the
	// built-in roles.
	Agents *agents.Registry

	// Retriever serves evidence lookups for agents, the scout, and the
	// auditor. Nil disables retrieval-backed behavior. Sharing one
	// retriever across queries keeps the result cache coherent.
	Retriever agents.Retriever

	// Store is the claim graph coordinator the gate consults for
	// contradictions. Optional.
	Store *storage.Coordinator

	// Ack gates unsupported claims on an operator acknowledgement when
	// the audit config requires one.
	Ack audit.AckFunc
}

// Orchestrator runs queries. Safe for concurrent use.
type Orchestrator struct {
	opts Options

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New creates an orchestrator over the given collaborators.
func New(opts Options) (*Orchestrator, error) {
	if opts.Adapter == nil && opts.Adapters == nil {
		return nil, protocol.New(protocol.KindConfig, "orchestrator.new",
			"a model adapter or adapter registry is required")
	}
	if opts.Agents == nil {
		opts.Agents = agents.NewDefaultRegistry()
	}
	return &Orchestrator{
		opts:    opts,
		running: make(map[string]context.CancelFunc),
	}, nil
}

// RunQuery executes one query under the given configuration and returns the
// assembled response. The query id is generated; use RunQueryID when the
// caller tracks ids for cancellation.
func (o *Orchestrator) RunQuery(ctx context.Context, queryText string, cfg *config.Snapshot) (*protocol.QueryResponse, error) {
	return o.RunQueryID(ctx, uuid.NewString(), queryText, cfg)
}

// RunQueryID is RunQuery with a caller-chosen query id. The id must be
// unique among running queries.
func (o *Orchestrator) RunQueryID(ctx context.Context, queryID, queryText string, cfg *config.Snapshot) (*protocol.QueryResponse, error) {
	if strings.TrimSpace(queryID) == "" {
		return nil, protocol.New(protocol.KindConfig, "orchestrator.run", "query id cannot be empty")
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, protocol.New(protocol.KindConfig, "orchestrator.run", "query text cannot be empty")
	}

	if cfg == nil {
		cfg = config.DefaultSnapshot()
	} else {
		// The snapshot is cloned at submit; later edits by the shell
		// cannot reach a running query.
		cfg = cfg.Clone()
		cfg.SetDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, protocol.WrapErr(protocol.KindConfig, "orchestrator.run", err)
	}

	adapter, err := o.adapterFor()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := o.register(queryID, cancel); err != nil {
		return nil, err
	}
	defer o.unregister(queryID)

	return newRun(o.opts, adapter, queryID, queryText, cfg).execute(ctx)
}

// Cancel requests cooperative cancellation of a running query and reports
// whether the id was found. The in-flight agent completes to a safe
// save-point before the run unwinds.
func (o *Orchestrator) Cancel(queryID string) bool {
	o.mu.Lock()
	cancel, ok := o.running[queryID]
	o.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Running lists the ids of queries currently in flight.
func (o *Orchestrator) Running() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]string, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) adapterFor() (llms.Adapter, error) {
	if o.opts.Adapter != nil {
		return o.opts.Adapter, nil
	}
	adapter, err := o.opts.Adapters.Default()
	if err != nil {
		return nil, protocol.WrapErr(protocol.KindConfig, "orchestrator.run", err)
	}
	return adapter, nil
}

func (o *Orchestrator) register(queryID string, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.running[queryID]; exists {
		return protocol.Newf(protocol.KindConfig, "orchestrator.run", "query id %s is already running", queryID)
	}
	o.running[queryID] = cancel
	return nil
}

func (o *Orchestrator) unregister(queryID string) {
	o.mu.Lock()
	delete(o.running, queryID)
	o.mu.Unlock()
}

// Package autoresearch provides a local-first research assistant core that
// answers natural-language queries by orchestrating a dialectical multi-agent
// reasoning loop over a hybrid retrieval and storage substrate.
//
// The module is a library: orchestrating shells (CLI, HTTP, desktop) own the
// user surface and call into the orchestration core. The core owns the query
// lifecycle end to end: an optional scout pass, a gate policy deciding
// exit-vs-debate, a planner-produced typed task graph, budget-aware agent
// scheduling with retries and circuit breakers, an append-only query state
// with deterministic merging, a per-claim audit loop, and telemetry.
//
// # Using the library
//
// Construct an orchestrator with the capabilities it consumes and run a query:
//
//	import (
//	    "github.com/autoresearch/autoresearch/pkg/config"
//	    "github.com/autoresearch/autoresearch/pkg/orchestrator"
//	)
//
//	cfg := config.DefaultSnapshot()
//	cfg.ReasoningMode = config.ModeAuto
//
//	orc, err := orchestrator.New(orchestrator.Options{
//	    Adapters: adapters,   // llms.AdapterRegistry
//	    Backends: backends,   // search.BackendRegistry
//	    Storage:  coordinator,
//	})
//	if err != nil {
//	    return err
//	}
//	resp, err := orc.RunQuery(ctx, "capital of France", cfg)
//
// External collaborators are consumed through three narrow capabilities:
//
//   - llms.Adapter: generate, embed, entailment scoring
//   - search.Backend: ranked raw results for a canonical query
//   - storage.Backend: persistence rows, BM25, vector and ontology lookups
//
// # Architecture
//
//	Shell → Orchestrator → Scout → Gate ─ exit ──────────→ Auditor → Response
//	                         │                ╲
//	                         └─ debate → Planner → Cycles ─→ Synthesizer ↗
//
// Within a cycle agents execute sequentially in rotated roster order; the
// query state is never mutated concurrently. Parallelism is bounded to leaf
// operations: search fan-out, storage writes, and independent task nodes.
//
// # Determinism
//
// Retrieval blending quantizes scores to a 1e-6 grid and orders documents by
// a documented tie-break so identical inputs produce byte-identical output.
// Cache fingerprints canonicalize queries (trim, collapse whitespace,
// case-fold) so alias queries share one backend fan-out.
package autoresearch

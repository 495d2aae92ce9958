// Package storage persists the claim graph. The Coordinator owns an
// in-memory graph under a RAM budget and writes through to a Backend
// (columnar rows plus ontology quads) and an optional VectorIndex.
// Evicted claims stay readable via the backend.
package storage

import (
	"context"
	"errors"
	"sort"
)

// ErrCapabilityUnsupported is returned by optional backend operations the
// implementation does not provide. Callers treat it as "empty result".
var ErrCapabilityUnsupported = errors.New("storage: capability unsupported")

// Node kinds stored in the nodes table.
const (
	NodeKindClaim  = "claim"
	NodeKindSource = "source"
)

// Edge relations stored in the edges table.
const (
	RelationSupersedes = "supersedes"
	RelationCites      = "cites"
)

// NodeRow is one graph node. Payload carries the JSON encoding of the
// originating object so evicted claims can be rebuilt on read.
type NodeRow struct {
	ID          string
	Kind        string
	Text        string
	Type        string
	Agent       string
	Cycle       int
	ContentHash string
	Payload     []byte
}

// EdgeRow links two nodes.
type EdgeRow struct {
	From     string
	To       string
	Relation string
}

// EmbeddingRow stores a node embedding for durability. Similarity search
// runs against the VectorIndex, not this table.
type EmbeddingRow struct {
	NodeID string
	Vector []float32
}

// QuadRow is one ontology statement.
type QuadRow struct {
	Subject   string
	Predicate string
	Object    string
	Graph     string
}

// Rows is one persist batch.
type Rows struct {
	Nodes      []NodeRow
	Edges      []EdgeRow
	Embeddings []EmbeddingRow
	Quads      []QuadRow
}

// Empty reports whether the batch contains nothing to write.
func (r Rows) Empty() bool {
	return len(r.Nodes) == 0 && len(r.Edges) == 0 && len(r.Embeddings) == 0 && len(r.Quads) == 0
}

// ScoredNode is a ranked lookup hit from BM25 or vector search.
type ScoredNode struct {
	NodeID string
	Text   string
	Score  float64
}

// sortScoredNodes orders hits by descending score, breaking ties on
// ascending node ID so equal scores rank deterministically.
func sortScoredNodes(hits []ScoredNode) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].NodeID < hits[j].NodeID
	})
}

// Backend is the persistence capability behind the Coordinator.
//
// Initialize must be idempotent (create-if-not-exists). VectorSearch and
// OntologyQuery are optional; unsupported implementations return
// ErrCapabilityUnsupported and the Coordinator degrades to empty results.
type Backend interface {
	// Initialize creates the schema. Safe to call repeatedly.
	Initialize(ctx context.Context) error

	// Persist writes a batch. Rows are upserts keyed by their natural
	// identity, so re-persisting identical rows is a no-op.
	Persist(ctx context.Context, rows Rows) error

	// FetchNode returns the node with the given ID, or nil when absent.
	FetchNode(ctx context.Context, id string) (*NodeRow, error)

	// QueryBM25 ranks persisted node texts against the query.
	QueryBM25(ctx context.Context, text string, k int) ([]ScoredNode, error)

	// VectorSearch returns the k nearest persisted embeddings.
	VectorSearch(ctx context.Context, vector []float32, k int) ([]ScoredNode, error)

	// OntologyQuery returns quads whose subject, predicate, or object
	// contains the given text (case-insensitive).
	OntologyQuery(ctx context.Context, text string) ([]QuadRow, error)

	// Teardown releases backend resources.
	Teardown(ctx context.Context) error
}

package storage

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/autoresearch/autoresearch/pkg/utils"
)

// MemoryBackend keeps all rows in process memory. It is the zero-config
// default and the fixture for tests; it supports every optional capability
// so the full pipeline can be exercised without external services.
type MemoryBackend struct {
	mu sync.RWMutex

	nodes      map[string]NodeRow
	nodeOrder  []string
	edges      map[string]EdgeRow
	embeddings map[string][]float32
	quads      map[string]QuadRow
	quadOrder  []string

	initialized bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		nodes:      make(map[string]NodeRow),
		edges:      make(map[string]EdgeRow),
		embeddings: make(map[string][]float32),
		quads:      make(map[string]QuadRow),
	}
}

// Initialize implements Backend. Idempotent by construction.
func (b *MemoryBackend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = true
	return nil
}

// Persist implements Backend. Rows are upserts keyed by natural identity.
func (b *MemoryBackend) Persist(ctx context.Context, rows Rows) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, n := range rows.Nodes {
		if _, ok := b.nodes[n.ID]; !ok {
			b.nodeOrder = append(b.nodeOrder, n.ID)
		}
		b.nodes[n.ID] = n
	}
	for _, e := range rows.Edges {
		key := e.From + "|" + e.To + "|" + e.Relation
		b.edges[key] = e
	}
	for _, em := range rows.Embeddings {
		b.embeddings[em.NodeID] = append([]float32(nil), em.Vector...)
	}
	for _, q := range rows.Quads {
		key := utils.Checksum64(q.Subject + "|" + q.Predicate + "|" + q.Object + "|" + q.Graph)
		if _, ok := b.quads[key]; !ok {
			b.quadOrder = append(b.quadOrder, key)
		}
		b.quads[key] = q
	}
	return nil
}

// FetchNode implements Backend.
func (b *MemoryBackend) FetchNode(ctx context.Context, id string) (*NodeRow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n, ok := b.nodes[id]
	if !ok {
		return nil, nil
	}
	out := n
	out.Payload = append([]byte(nil), n.Payload...)
	return &out, nil
}

// NodeCount returns the number of persisted nodes, for tests and budget
// accounting.
func (b *MemoryBackend) NodeCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.nodes)
}

// QueryBM25 implements Backend, ranking all persisted node texts.
func (b *MemoryBackend) QueryBM25(ctx context.Context, text string, k int) ([]ScoredNode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	idx := NewBM25Index()
	for _, id := range b.nodeOrder {
		idx.Upsert(id, b.nodes[id].Text)
	}
	return idx.Query(text, k), nil
}

// VectorSearch implements Backend with brute-force cosine similarity over
// the persisted embeddings.
func (b *MemoryBackend) VectorSearch(ctx context.Context, vector []float32, k int) ([]ScoredNode, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var hits []ScoredNode
	for _, id := range b.nodeOrder {
		em, ok := b.embeddings[id]
		if !ok || len(em) != len(vector) {
			continue
		}
		sim := CosineSimilarity(vector, em)
		if sim <= 0 {
			continue
		}
		hits = append(hits, ScoredNode{
			NodeID: id,
			Text:   b.nodes[id].Text,
			Score:  utils.Quantize(sim),
		})
	}

	sortScoredNodes(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// OntologyQuery implements Backend with a case-insensitive contains filter
// over subject, predicate, and object.
func (b *MemoryBackend) OntologyQuery(ctx context.Context, text string) ([]QuadRow, error) {
	needle := strings.ToLower(utils.NormalizeSpace(text))
	if needle == "" {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []QuadRow
	for _, key := range b.quadOrder {
		q := b.quads[key]
		if strings.Contains(strings.ToLower(q.Subject), needle) ||
			strings.Contains(strings.ToLower(q.Predicate), needle) ||
			strings.Contains(strings.ToLower(q.Object), needle) {
			out = append(out, q)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		if out[i].Predicate != out[j].Predicate {
			return out[i].Predicate < out[j].Predicate
		}
		return out[i].Object < out[j].Object
	})
	return out, nil
}

// Teardown implements Backend.
func (b *MemoryBackend) Teardown(ctx context.Context) error {
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, 0 when
// either vector is zero or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

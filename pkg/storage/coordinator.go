package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/observability"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/state"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// graphNode is one resident claim plus the bookkeeping eviction needs.
type graphNode struct {
	claim     state.Claim
	sizeBytes int64
	lastUsed  uint64
	score     float64
	persisted bool
}

// Coordinator owns the in-memory claim graph and writes through to a
// Backend and an optional VectorIndex. It enforces the RAM budget by
// evicting resident claims; evicted claims stay readable through the
// backend. One mutex guards all graph state; internal helpers carry the
// Locked suffix and assume the caller holds it.
type Coordinator struct {
	mu      sync.Mutex
	cfg     *config.StorageConfig
	backend Backend
	vector  VectorIndex

	nodes map[string]*graphNode
	// order preserves insertion order so eviction scans are deterministic.
	order []string
	// resident ranks resident claim texts for QueryBM25.
	resident *BM25Index

	// clock is a logical counter advanced on every touch; it orders LRU
	// eviction without depending on wall time.
	clock       uint64
	ramUsage    int64
	evictions   int64
	initialized bool
}

// NewCoordinator builds a coordinator over the given backend. A nil
// backend gets an in-memory one, keeping zero-config runs working.
func NewCoordinator(cfg *config.StorageConfig, backend Backend, vector VectorIndex) *Coordinator {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Coordinator{
		cfg:      cfg,
		backend:  backend,
		vector:   vector,
		nodes:    make(map[string]*graphNode),
		resident: NewBM25Index(),
	}
}

// Initialize prepares the backend schema. Idempotent.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	if err := c.backend.Initialize(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// PersistClaim adds the claim to the resident graph, writes it through to
// the backend and vector index, and then enforces the RAM budget.
// Re-persisting a claim with an unchanged content hash is a no-op.
func (c *Coordinator) PersistClaim(ctx context.Context, claim *state.Claim) error {
	if claim == nil || claim.ID == "" {
		return protocol.New(protocol.KindStorage, "storage.persist_claim", "claim must have an id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	hash := claim.ContentHash()
	if existing, ok := c.nodes[claim.ID]; ok {
		if existing.claim.ContentHash() == hash {
			c.touchLocked(existing)
			return nil
		}
		return protocol.Newf(protocol.KindStorage, "storage.persist_claim",
			"claim %s is immutable; use UpdateClaim to supersede it", claim.ID)
	}

	stored := claim.Clone()
	node := &graphNode{
		claim:     stored,
		sizeBytes: claimSizeBytes(&stored),
		score:     claimScore(&stored),
	}
	c.touchLocked(node)
	c.nodes[stored.ID] = node
	c.order = append(c.order, stored.ID)
	c.resident.Upsert(stored.ID, stored.Text)
	c.ramUsage += node.sizeBytes

	if err := c.writeThroughLocked(ctx, node); err != nil {
		// The claim stays resident; eviction re-attempts the write.
		c.enforceRAMBudgetLocked(ctx)
		return err
	}

	c.enforceRAMBudgetLocked(ctx)
	return nil
}

// UpdateClaim supersedes claimID with a patched copy under a fresh ID.
// The original is never mutated in place.
func (c *Coordinator) UpdateClaim(ctx context.Context, claimID string, patch state.ClaimPatch) (*state.Claim, error) {
	original, err := c.FetchClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, protocol.Newf(protocol.KindStorage, "storage.update_claim", "claim %s not found", claimID)
	}

	next := original.Clone()
	next.ID = uuid.NewString()
	next.Supersedes = claimID
	next.Audit = nil
	if patch.Text != nil && *patch.Text != next.Text {
		next.Text = *patch.Text
		// The old embedding no longer describes the text.
		next.Embedding = nil
	}
	if patch.Type != nil {
		next.Type = *patch.Type
	}
	if patch.Sources != nil {
		next.Sources = append([]string(nil), patch.Sources...)
	}

	if err := c.PersistClaim(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// FetchClaim returns the claim with the given ID, consulting the resident
// graph first and the backend for evicted claims. Missing claims return
// nil without error.
func (c *Coordinator) FetchClaim(ctx context.Context, id string) (*state.Claim, error) {
	c.mu.Lock()
	if node, ok := c.nodes[id]; ok {
		c.touchLocked(node)
		claim := node.claim.Clone()
		c.mu.Unlock()
		return &claim, nil
	}
	c.mu.Unlock()

	row, err := c.backend.FetchNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil || row.Kind != NodeKindClaim {
		return nil, nil
	}

	var claim state.Claim
	if err := json.Unmarshal(row.Payload, &claim); err != nil {
		return nil, protocol.WrapErr(protocol.KindStorage, "storage.fetch_claim", err)
	}
	return &claim, nil
}

// PersistSource writes an evidence document to the backend. Sources do not
// enter the resident claim graph, so no eviction follows.
func (c *Coordinator) PersistSource(ctx context.Context, src *state.Source) error {
	if src == nil || src.ID == "" {
		return protocol.New(protocol.KindStorage, "storage.persist_source", "source must have an id")
	}

	payload, err := json.Marshal(src)
	if err != nil {
		return protocol.WrapErr(protocol.KindStorage, "storage.persist_source", err)
	}

	canonical := src.CanonicalKey()
	rows := Rows{
		Nodes: []NodeRow{{
			ID:          src.ID,
			Kind:        NodeKindSource,
			Text:        utils.NormalizeSpace(src.Title + " " + src.Snippet),
			ContentHash: src.Checksum,
			Payload:     payload,
		}},
		Quads: []QuadRow{
			{Subject: "source:" + src.ID, Predicate: "has_url", Object: canonical, Graph: "sources"},
		},
	}
	if src.Backend != "" {
		rows.Quads = append(rows.Quads, QuadRow{
			Subject: "source:" + src.ID, Predicate: "retrieved_from", Object: src.Backend, Graph: "sources",
		})
	}
	return c.backend.Persist(ctx, rows)
}

// EnforceRAMBudget evicts resident claims until usage drops below the
// budget minus headroom. Nothing happens while usage is at or under the
// budget, and the resident floor always wins over the budget.
func (c *Coordinator) EnforceRAMBudget(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enforceRAMBudgetLocked(ctx)
}

func (c *Coordinator) enforceRAMBudgetLocked(ctx context.Context) int {
	budget := int64(c.cfg.RAMBudgetMB) * 1024 * 1024
	if c.ramUsage <= budget {
		return 0
	}

	target := int64(float64(budget) * (1 - c.cfg.Headroom))
	evicted := 0
	for c.ramUsage > target && len(c.nodes) > c.cfg.ResidentFloor {
		id := c.victimLocked()
		if id == "" {
			break
		}
		c.evictLocked(ctx, id)
		evicted++
	}

	if evicted > 0 {
		observability.RecordEvictions(ctx, int64(evicted))
		slog.Debug("Evicted resident claims",
			"evicted", evicted,
			"policy", c.cfg.EvictionPolicy,
			"ram_usage", c.ramUsage,
			"budget", budget)
	}
	return evicted
}

// victimLocked picks the next claim to evict: least recently used under
// lru, lowest score under score. Ties break on ascending ID.
func (c *Coordinator) victimLocked() string {
	victim := ""
	var victimNode *graphNode

	for _, id := range c.order {
		node, ok := c.nodes[id]
		if !ok {
			continue
		}
		if victimNode == nil {
			victim, victimNode = id, node
			continue
		}

		var better bool
		if c.cfg.EvictionPolicy == config.EvictScore {
			better = node.score < victimNode.score ||
				(node.score == victimNode.score && id < victim)
		} else {
			better = node.lastUsed < victimNode.lastUsed ||
				(node.lastUsed == victimNode.lastUsed && id < victim)
		}
		if better {
			victim, victimNode = id, node
		}
	}
	return victim
}

func (c *Coordinator) evictLocked(ctx context.Context, id string) {
	node, ok := c.nodes[id]
	if !ok {
		return
	}

	if !node.persisted {
		if err := c.writeThroughLocked(ctx, node); err != nil {
			slog.Warn("Evicting claim that could not be persisted",
				"claim_id", id,
				"error", err)
		}
	}

	delete(c.nodes, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.resident.Remove(id)
	c.ramUsage -= node.sizeBytes
	c.evictions++
}

// writeThroughLocked persists the node's claim to the backend and vector
// index, setting the persisted flag on success.
func (c *Coordinator) writeThroughLocked(ctx context.Context, node *graphNode) error {
	claim := &node.claim

	payload, err := json.Marshal(claim)
	if err != nil {
		return protocol.WrapErr(protocol.KindStorage, "storage.persist_claim", err)
	}

	rows := Rows{
		Nodes: []NodeRow{{
			ID:          claim.ID,
			Kind:        NodeKindClaim,
			Text:        claim.Text,
			Type:        string(claim.Type),
			Agent:       claim.CreatedByAgent,
			Cycle:       claim.CycleCreated,
			ContentHash: claim.ContentHash(),
			Payload:     payload,
		}},
		Quads: []QuadRow{
			{Subject: "claim:" + claim.ID, Predicate: "rdf:type", Object: string(claim.Type), Graph: "claims"},
		},
	}
	if claim.CreatedByAgent != "" {
		rows.Quads = append(rows.Quads, QuadRow{
			Subject: "claim:" + claim.ID, Predicate: "created_by", Object: claim.CreatedByAgent, Graph: "claims",
		})
	}
	if claim.Supersedes != "" {
		rows.Edges = append(rows.Edges, EdgeRow{From: claim.ID, To: claim.Supersedes, Relation: RelationSupersedes})
		rows.Quads = append(rows.Quads, QuadRow{
			Subject: "claim:" + claim.ID, Predicate: "supersedes", Object: "claim:" + claim.Supersedes, Graph: "claims",
		})
	}
	for _, srcID := range claim.Sources {
		rows.Edges = append(rows.Edges, EdgeRow{From: claim.ID, To: srcID, Relation: RelationCites})
		rows.Quads = append(rows.Quads, QuadRow{
			Subject: "claim:" + claim.ID, Predicate: "cites", Object: "source:" + srcID, Graph: "claims",
		})
	}
	if len(claim.Embedding) > 0 {
		rows.Embeddings = append(rows.Embeddings, EmbeddingRow{NodeID: claim.ID, Vector: claim.Embedding})
	}

	if err := c.backend.Persist(ctx, rows); err != nil {
		return err
	}

	if c.vector != nil && len(claim.Embedding) > 0 {
		err := c.vector.Upsert(ctx, claim.ID, claim.Embedding, map[string]string{
			"content": claim.Text,
			"type":    string(claim.Type),
		})
		if err != nil {
			slog.Warn("Vector index upsert failed",
				"claim_id", claim.ID,
				"index", c.vector.Name(),
				"error", err)
		}
	}

	node.persisted = true
	return nil
}

// VectorSearch returns the k nearest claims by embedding similarity. With
// no vector index configured it falls back to the backend; backends
// without the capability degrade to an empty result.
func (c *Coordinator) VectorSearch(ctx context.Context, vector []float32, k int) ([]ScoredNode, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	if c.vector != nil {
		return c.vector.Search(ctx, vector, k)
	}

	hits, err := c.backend.VectorSearch(ctx, vector, k)
	if err == ErrCapabilityUnsupported {
		return nil, nil
	}
	return hits, err
}

// VectorSupported reports whether vector search can return results.
func (c *Coordinator) VectorSupported() bool {
	if c.vector != nil {
		return true
	}
	_, err := c.backend.VectorSearch(context.Background(), nil, 0)
	return err != ErrCapabilityUnsupported
}

// QueryBM25 ranks claims against the query text, merging resident graph
// hits with backend rows. Resident scores win on ID collisions; the final
// order is score descending with ascending ID ties.
func (c *Coordinator) QueryBM25(ctx context.Context, text string, k int) ([]ScoredNode, error) {
	if k <= 0 {
		return nil, nil
	}

	c.mu.Lock()
	residentHits := c.resident.Query(text, k)
	c.mu.Unlock()

	backendHits, err := c.backend.QueryBM25(ctx, text, k)
	if err != nil && err != ErrCapabilityUnsupported {
		slog.Warn("Backend BM25 query failed, serving resident hits only", "error", err)
		backendHits = nil
	}

	seen := make(map[string]bool, len(residentHits))
	merged := make([]ScoredNode, 0, len(residentHits)+len(backendHits))
	for _, h := range residentHits {
		seen[h.NodeID] = true
		merged = append(merged, h)
	}
	for _, h := range backendHits {
		if !seen[h.NodeID] {
			merged = append(merged, h)
		}
	}

	sortScoredNodes(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// OntologyQuery passes through to the backend; missing capability degrades
// to an empty result.
func (c *Coordinator) OntologyQuery(ctx context.Context, text string) ([]QuadRow, error) {
	quads, err := c.backend.OntologyQuery(ctx, text)
	if err == ErrCapabilityUnsupported {
		return nil, nil
	}
	return quads, err
}

// GraphContradiction reports whether any resident claim contradicts the
// given text. Used by the scout pass as a cheap debate trigger.
func (c *Coordinator) GraphContradiction(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range c.order {
		node, ok := c.nodes[id]
		if !ok {
			continue
		}
		if utils.TextConflict(text, node.claim.Text) {
			return true
		}
	}
	return false
}

// ResidentCount returns the number of claims currently held in memory.
func (c *Coordinator) ResidentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

// RAMUsage returns the estimated resident graph size in bytes.
func (c *Coordinator) RAMUsage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ramUsage
}

// Evictions returns the total number of claims evicted so far.
func (c *Coordinator) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

// Teardown releases the backend and vector index.
func (c *Coordinator) Teardown(ctx context.Context) error {
	var firstErr error
	if c.vector != nil {
		if err := c.vector.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.backend.Teardown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *Coordinator) touchLocked(node *graphNode) {
	c.clock++
	node.lastUsed = c.clock
}

// claimSizeBytes estimates a claim's resident footprint. The estimate only
// has to be stable and monotone in content size, not exact.
func claimSizeBytes(c *state.Claim) int64 {
	size := int64(96)
	size += int64(len(c.ID) + len(c.Text) + len(c.Type) + len(c.CreatedByAgent) + len(c.Supersedes))
	for _, s := range c.Sources {
		size += int64(len(s)) + 16
	}
	size += int64(len(c.Embedding)) * 4
	if c.Audit != nil {
		size += int64(128 + len(c.Audit.ClaimText) + len(c.Audit.Notes))
	}
	return size
}

// claimScore ranks claims for score-based eviction. Audited claims carry
// their entailment score; unaudited ones sit at a neutral 0.5 so a failed
// audit evicts before an unknown.
func claimScore(c *state.Claim) float64 {
	if c.Audit != nil {
		return utils.Quantize(c.Audit.EntailmentScore)
	}
	return 0.5
}

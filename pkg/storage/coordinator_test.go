package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/state"
)

func testStorageConfig() *config.StorageConfig {
	return &config.StorageConfig{
		RAMBudgetMB:    1024,
		EvictionPolicy: config.EvictLRU,
		ResidentFloor:  2,
		Headroom:       0.1,
	}
}

func testClaim(id, text string) *state.Claim {
	return &state.Claim{
		ID:             id,
		Text:           text,
		Type:           state.ClaimThesis,
		CreatedByAgent: "synthesizer",
	}
}

func TestCoordinator_PersistAndFetch(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(testStorageConfig(), nil, nil)
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	claim := testClaim("c1", "the eiffel tower is in paris")
	claim.Sources = []string{"s1"}
	if err := c.PersistClaim(ctx, claim); err != nil {
		t.Fatalf("PersistClaim() error = %v", err)
	}

	got, err := c.FetchClaim(ctx, "c1")
	if err != nil {
		t.Fatalf("FetchClaim() error = %v", err)
	}
	if got == nil || got.Text != claim.Text {
		t.Fatalf("FetchClaim() = %+v, want text %q", got, claim.Text)
	}

	missing, err := c.FetchClaim(ctx, "nope")
	if err != nil {
		t.Fatalf("FetchClaim(missing) error = %v", err)
	}
	if missing != nil {
		t.Errorf("FetchClaim(missing) = %+v, want nil", missing)
	}
}

func TestCoordinator_RepersistUnchangedIsNoOp(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	c := NewCoordinator(testStorageConfig(), backend, nil)

	claim := testClaim("c1", "repeated persistence is harmless")
	if err := c.PersistClaim(ctx, claim); err != nil {
		t.Fatalf("PersistClaim() error = %v", err)
	}
	usage := c.RAMUsage()

	if err := c.PersistClaim(ctx, claim); err != nil {
		t.Fatalf("PersistClaim() second call error = %v", err)
	}
	if c.ResidentCount() != 1 {
		t.Errorf("ResidentCount() = %d after re-persist, want 1", c.ResidentCount())
	}
	if c.RAMUsage() != usage {
		t.Errorf("RAMUsage() = %d after re-persist, want %d", c.RAMUsage(), usage)
	}
	if backend.NodeCount() != 1 {
		t.Errorf("backend.NodeCount() = %d, want 1", backend.NodeCount())
	}
}

func TestCoordinator_PersistRejectsInPlaceMutation(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(testStorageConfig(), nil, nil)

	if err := c.PersistClaim(ctx, testClaim("c1", "original text")); err != nil {
		t.Fatalf("PersistClaim() error = %v", err)
	}

	err := c.PersistClaim(ctx, testClaim("c1", "silently changed text"))
	if err == nil {
		t.Fatal("PersistClaim() with changed content succeeded, want error")
	}
	if protocol.KindOf(err) != protocol.KindStorage {
		t.Errorf("PersistClaim() error kind = %v, want %v", protocol.KindOf(err), protocol.KindStorage)
	}

	got, _ := c.FetchClaim(ctx, "c1")
	if got.Text != "original text" {
		t.Errorf("FetchClaim().Text = %q, original was mutated", got.Text)
	}
}

func TestCoordinator_UpdateClaimSupersedes(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	c := NewCoordinator(testStorageConfig(), backend, nil)

	original := testClaim("c1", "pluto is a planet")
	if err := c.PersistClaim(ctx, original); err != nil {
		t.Fatalf("PersistClaim() error = %v", err)
	}

	newText := "pluto is a dwarf planet"
	updated, err := c.UpdateClaim(ctx, "c1", state.ClaimPatch{Text: &newText})
	if err != nil {
		t.Fatalf("UpdateClaim() error = %v", err)
	}

	if updated.ID == "c1" {
		t.Error("UpdateClaim() reused the original ID, want a fresh one")
	}
	if updated.Supersedes != "c1" {
		t.Errorf("UpdateClaim().Supersedes = %q, want c1", updated.Supersedes)
	}
	if updated.Text != newText {
		t.Errorf("UpdateClaim().Text = %q, want %q", updated.Text, newText)
	}

	// The original is untouched and both claims are persisted.
	orig, _ := c.FetchClaim(ctx, "c1")
	if orig == nil || orig.Text != "pluto is a planet" {
		t.Errorf("original claim after update = %+v, want unchanged text", orig)
	}
	row, _ := backend.FetchNode(ctx, updated.ID)
	if row == nil {
		t.Error("updated claim not written through to backend")
	}

	if _, err := c.UpdateClaim(ctx, "ghost", state.ClaimPatch{Text: &newText}); err == nil {
		t.Error("UpdateClaim(missing) succeeded, want error")
	}
}

func TestCoordinator_EnforceRAMBudgetNoOpUnderBudget(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(testStorageConfig(), nil, nil)

	for i := 0; i < 5; i++ {
		claim := testClaim(fmt.Sprintf("c%d", i), fmt.Sprintf("claim number %d about topic", i))
		if err := c.PersistClaim(ctx, claim); err != nil {
			t.Fatalf("PersistClaim() error = %v", err)
		}
	}

	if evicted := c.EnforceRAMBudget(ctx); evicted != 0 {
		t.Errorf("EnforceRAMBudget() = %d under budget, want 0", evicted)
	}
	if c.ResidentCount() != 5 {
		t.Errorf("ResidentCount() = %d, want 5", c.ResidentCount())
	}
	if c.Evictions() != 0 {
		t.Errorf("Evictions() = %d, want 0", c.Evictions())
	}
}

func TestCoordinator_ZeroBudgetRespectsResidentFloor(t *testing.T) {
	ctx := context.Background()
	cfg := testStorageConfig()
	cfg.RAMBudgetMB = 0
	backend := NewMemoryBackend()
	c := NewCoordinator(cfg, backend, nil)

	for i := 0; i < 5; i++ {
		claim := testClaim(fmt.Sprintf("c%d", i), fmt.Sprintf("claim number %d about topic", i))
		if err := c.PersistClaim(ctx, claim); err != nil {
			t.Fatalf("PersistClaim() error = %v", err)
		}
	}

	if c.ResidentCount() != cfg.ResidentFloor {
		t.Errorf("ResidentCount() = %d with zero budget, want floor %d", c.ResidentCount(), cfg.ResidentFloor)
	}

	// Evicted claims remain readable through the backend.
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("c%d", i)
		got, err := c.FetchClaim(ctx, id)
		if err != nil {
			t.Fatalf("FetchClaim(%s) error = %v", id, err)
		}
		if got == nil {
			t.Errorf("FetchClaim(%s) = nil after eviction, want claim", id)
		}
	}
}

func TestCoordinator_LRUEvictionKeepsRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	cfg := testStorageConfig()
	cfg.ResidentFloor = 3
	cfg.RAMBudgetMB = 0
	c := NewCoordinator(cfg, nil, nil)

	for _, id := range []string{"c1", "c2", "c3"} {
		if err := c.PersistClaim(ctx, testClaim(id, "claim body for "+id)); err != nil {
			t.Fatalf("PersistClaim() error = %v", err)
		}
	}

	// Touch c1 so c2 becomes least recently used.
	if _, err := c.FetchClaim(ctx, "c1"); err != nil {
		t.Fatalf("FetchClaim() error = %v", err)
	}

	cfg.ResidentFloor = 2
	if evicted := c.EnforceRAMBudget(ctx); evicted != 1 {
		t.Fatalf("EnforceRAMBudget() = %d, want 1", evicted)
	}

	c.mu.Lock()
	_, c1Resident := c.nodes["c1"]
	_, c2Resident := c.nodes["c2"]
	c.mu.Unlock()
	if !c1Resident {
		t.Error("c1 was evicted despite being most recently used")
	}
	if c2Resident {
		t.Error("c2 survived despite being least recently used")
	}
}

func TestCoordinator_ScoreEvictionDropsLowestFirst(t *testing.T) {
	ctx := context.Background()
	cfg := testStorageConfig()
	cfg.EvictionPolicy = config.EvictScore
	cfg.ResidentFloor = 3
	cfg.RAMBudgetMB = 0
	c := NewCoordinator(cfg, nil, nil)

	weak := testClaim("weak", "a barely supported statement")
	weak.Audit = &protocol.AuditRecord{ClaimID: "weak", EntailmentScore: 0.2}
	strong := testClaim("strong", "a well supported statement")
	strong.Audit = &protocol.AuditRecord{ClaimID: "strong", EntailmentScore: 0.9}
	unaudited := testClaim("unknown", "a statement nobody audited")

	for _, claim := range []*state.Claim{weak, strong, unaudited} {
		if err := c.PersistClaim(ctx, claim); err != nil {
			t.Fatalf("PersistClaim() error = %v", err)
		}
	}

	cfg.ResidentFloor = 1
	if evicted := c.EnforceRAMBudget(ctx); evicted != 2 {
		t.Fatalf("EnforceRAMBudget() = %d, want 2", evicted)
	}

	c.mu.Lock()
	_, strongResident := c.nodes["strong"]
	c.mu.Unlock()
	if !strongResident {
		t.Error("score eviction removed the highest scored claim")
	}
	if c.Evictions() != 2 {
		t.Errorf("Evictions() = %d, want 2", c.Evictions())
	}
}

func TestCoordinator_QueryBM25MergesResidentAndBackend(t *testing.T) {
	ctx := context.Background()
	cfg := testStorageConfig()
	cfg.ResidentFloor = 1
	cfg.RAMBudgetMB = 0
	backend := NewMemoryBackend()
	c := NewCoordinator(cfg, backend, nil)

	if err := c.PersistClaim(ctx, testClaim("c1", "solar panels convert sunlight to power")); err != nil {
		t.Fatalf("PersistClaim() error = %v", err)
	}
	if err := c.PersistClaim(ctx, testClaim("c2", "wind turbines convert wind to power")); err != nil {
		t.Fatalf("PersistClaim() error = %v", err)
	}

	// Zero budget with floor 1 leaves one claim resident, one evicted.
	if c.ResidentCount() != 1 {
		t.Fatalf("ResidentCount() = %d, want 1", c.ResidentCount())
	}

	hits, err := c.QueryBM25(ctx, "convert power", 10)
	if err != nil {
		t.Fatalf("QueryBM25() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("QueryBM25() returned %d hits, want both resident and evicted", len(hits))
	}
	seen := map[string]bool{}
	for _, h := range hits {
		seen[h.NodeID] = true
	}
	if !seen["c1"] || !seen["c2"] {
		t.Errorf("QueryBM25() hits = %v, want c1 and c2", seen)
	}
}

func TestCoordinator_GraphContradiction(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(testStorageConfig(), nil, nil)

	if err := c.PersistClaim(ctx, testClaim("c1", "the museum is open on mondays")); err != nil {
		t.Fatalf("PersistClaim() error = %v", err)
	}

	if !c.GraphContradiction("the museum is not open on mondays") {
		t.Error("GraphContradiction() = false for a negated restatement, want true")
	}
	if c.GraphContradiction("quantum computers use qubits") {
		t.Error("GraphContradiction() = true for unrelated text, want false")
	}
	if c.GraphContradiction("") {
		t.Error("GraphContradiction() = true for empty text, want false")
	}
}

func TestCoordinator_VectorSearchDegradesWithoutIndex(t *testing.T) {
	ctx := context.Background()

	// SQL-style backends report the capability as unsupported; the
	// coordinator degrades to empty results rather than erroring.
	c := NewCoordinator(testStorageConfig(), unsupportedVectorBackend{NewMemoryBackend()}, nil)
	hits, err := c.VectorSearch(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("VectorSearch() error = %v, want degraded empty result", err)
	}
	if len(hits) != 0 {
		t.Errorf("VectorSearch() = %d hits, want 0", len(hits))
	}
	if c.VectorSupported() {
		t.Error("VectorSupported() = true without index or capable backend")
	}

	// The memory backend serves brute-force similarity directly.
	capable := NewCoordinator(testStorageConfig(), NewMemoryBackend(), nil)
	claim := testClaim("c1", "embedded claim")
	claim.Embedding = []float32{1, 0}
	if err := capable.PersistClaim(ctx, claim); err != nil {
		t.Fatalf("PersistClaim() error = %v", err)
	}
	hits, err = capable.VectorSearch(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("VectorSearch() error = %v", err)
	}
	if len(hits) != 1 || hits[0].NodeID != "c1" {
		t.Errorf("VectorSearch() = %+v, want single hit c1", hits)
	}
	if !capable.VectorSupported() {
		t.Error("VectorSupported() = false with capable backend")
	}
}

func TestCoordinator_InitializeIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(testStorageConfig(), nil, nil)

	for i := 0; i < 3; i++ {
		if err := c.Initialize(ctx); err != nil {
			t.Fatalf("Initialize() call %d error = %v", i, err)
		}
	}
}

// unsupportedVectorBackend wraps a backend and masks its vector capability.
type unsupportedVectorBackend struct {
	*MemoryBackend
}

func (unsupportedVectorBackend) VectorSearch(ctx context.Context, vector []float32, k int) ([]ScoredNode, error) {
	return nil, ErrCapabilityUnsupported
}

package retrieval

import (
	"context"
	"encoding/json"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/search"
	"github.com/autoresearch/autoresearch/pkg/state"
	"github.com/autoresearch/autoresearch/pkg/storage"
	"github.com/autoresearch/autoresearch/pkg/testutils"
)

func liveMerger(t *testing.T, cfg *config.RetrievalConfig, coordinator *storage.Coordinator, backends ...search.Backend) *Merger {
	t.Helper()
	registry := search.NewBackendRegistry()
	for _, b := range backends {
		if err := registry.RegisterBackend(b); err != nil {
			t.Fatalf("RegisterBackend(%s) error = %v", b.Name(), err)
		}
	}
	return NewMerger(cfg, search.NewDispatcher(registry), coordinator, nil, 0)
}

func TestMerger_AliasQueriesShareOneFanOut(t *testing.T) {
	ctx := context.Background()
	backend := &testutils.CountingBackend{
		Results: []search.RawResult{
			{URL: "https://example.gov/solar", Title: "Solar power overview", Snippet: "solar panels convert sunlight"},
			{URL: "https://blog.example.com/post", Title: "A hello world post", Snippet: "hello world for beginners"},
		},
	}
	m := liveMerger(t, retrievalConfig("counting"), nil, backend)

	first, err := m.Lookup(ctx, "Hello  World", 5)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if first.CacheHit {
		t.Error("first lookup reported a cache hit")
	}
	if len(first.Documents) != 2 {
		t.Fatalf("first lookup returned %d documents, want 2", len(first.Documents))
	}

	// Higher token overlap and BM25 outweigh the .gov credibility prior.
	if first.Documents[0].URL != "https://blog.example.com/post" {
		t.Errorf("top document = %s, want the hello-world post", first.Documents[0].URL)
	}
	if first.Documents[0].Score <= first.Documents[1].Score {
		t.Errorf("documents not in descending score order: %v then %v",
			first.Documents[0].Score, first.Documents[1].Score)
	}

	second, err := m.Lookup(ctx, "hello world", 5)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !second.CacheHit {
		t.Error("whitespace/case variant missed the cache")
	}
	if !reflect.DeepEqual(first.Documents, second.Documents) {
		t.Error("cached lookup returned different documents than the original")
	}
	if got := backend.Calls(); got != 1 {
		t.Errorf("backend fan-out count = %d, want 1", got)
	}
}

func TestMerger_OrderIsStableAcrossConstructions(t *testing.T) {
	ctx := context.Background()
	build := func(declared ...string) *Merger {
		alpha := &testutils.CountingBackend{
			BackendName: "alpha",
			Results: []search.RawResult{
				{URL: "https://example.com/a", Title: "Shared topic", Snippet: "shared topic text"},
			},
		}
		beta := &testutils.CountingBackend{
			BackendName: "beta",
			Results: []search.RawResult{
				{URL: "https://example.com/b", Title: "Shared topic", Snippet: "shared topic text"},
			},
		}
		return liveMerger(t, retrievalConfig(declared...), nil, alpha, beta)
	}

	lookup := func(m *Merger) []byte {
		t.Helper()
		docs, err := m.ExternalLookup(ctx, "shared topic", 5)
		if err != nil {
			t.Fatalf("ExternalLookup() error = %v", err)
		}
		raw, err := json.Marshal(docs)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		return raw
	}

	got := lookup(build("alpha", "beta"))
	reversed := lookup(build("beta", "alpha"))

	// Identical scores resolve by backend name, so the declared fan-out
	// order never leaks into the ranking.
	if string(got) != string(reversed) {
		t.Errorf("declared backend order changed the ranking:\n%s\nvs\n%s", got, reversed)
	}

	var docs []Document
	if err := json.Unmarshal(got, &docs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(docs) != 2 || docs[0].Backend != "alpha" || docs[1].Backend != "beta" {
		t.Errorf("tie-break order = %+v, want alpha before beta", docs)
	}
}

func TestMerger_DeduplicatesByCanonicalURL(t *testing.T) {
	ctx := context.Background()
	shared := search.RawResult{URL: "https://example.com/shared", Title: "Shared", Snippet: "shared text"}
	alpha := &testutils.CountingBackend{BackendName: "alpha", Results: []search.RawResult{shared}}
	beta := &testutils.CountingBackend{BackendName: "beta", Results: []search.RawResult{
		{URL: "https://example.com/shared/", Snippet: "trailing slash variant"},
	}}
	m := liveMerger(t, retrievalConfig("alpha", "beta"), nil, alpha, beta)

	docs, err := m.ExternalLookup(ctx, "shared", 5)
	if err != nil {
		t.Fatalf("ExternalLookup() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1 after canonical de-duplication", len(docs))
	}
	if docs[0].Backend != "alpha" {
		t.Errorf("Backend = %s, want the first backend to surface the URL", docs[0].Backend)
	}
	if docs[0].Title != "Shared" {
		t.Errorf("Title = %q, want the non-empty title kept", docs[0].Title)
	}
}

func TestMerger_HydratesClaimsFromStorage(t *testing.T) {
	ctx := context.Background()
	coordinator := testutils.NewMemoryCoordinator()
	claim := &state.Claim{
		ID:             "c1",
		Text:           "solar panels convert sunlight into electricity",
		Type:           state.ClaimThesis,
		CreatedByAgent: "synthesizer",
	}
	if err := coordinator.PersistClaim(ctx, claim); err != nil {
		t.Fatalf("PersistClaim() error = %v", err)
	}

	m := NewMerger(retrievalConfig(), nil, coordinator, nil, 0)
	res, err := m.Lookup(ctx, "solar sunlight electricity", 5)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(res.Documents) != 1 {
		t.Fatalf("got %d documents, want 1 claim hit", len(res.Documents))
	}

	doc := res.Documents[0]
	if doc.URL != "claim://c1" {
		t.Errorf("URL = %s, want claim://c1", doc.URL)
	}
	if doc.Backend != backendBM25 {
		t.Errorf("Backend = %s, want %s", doc.Backend, backendBM25)
	}
	if !reflect.DeepEqual(doc.Stages, []string{state.StageBM25}) {
		t.Errorf("Stages = %v, want [bm25]", doc.Stages)
	}
	if doc.Credibility != 0.8 {
		t.Errorf("Credibility = %v, want the claim prior 0.8", doc.Credibility)
	}
}

func TestMerger_VectorStageBlendsSimilarity(t *testing.T) {
	ctx := context.Background()
	coordinator := testutils.NewMemoryCoordinator()
	claim := &state.Claim{
		ID:             "c1",
		Text:           "photovoltaic cells produce direct current",
		Type:           state.ClaimThesis,
		CreatedByAgent: "synthesizer",
		Embedding:      []float32{1, 0},
	}
	if err := coordinator.PersistClaim(ctx, claim); err != nil {
		t.Fatalf("PersistClaim() error = %v", err)
	}

	adapter := &testutils.ScriptedAdapter{EmbedVector: []float32{1, 0}}
	m := NewMerger(retrievalConfig(), nil, coordinator, adapter, 2)

	// No token overlap with the claim text, so only the vector stage can
	// surface it.
	res, err := m.Lookup(ctx, "renewable energy output", 5)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(res.Documents) != 1 {
		t.Fatalf("got %d documents, want 1 vector hit", len(res.Documents))
	}

	doc := res.Documents[0]
	if !reflect.DeepEqual(doc.Stages, []string{state.StageVector}) {
		t.Errorf("Stages = %v, want [vector]", doc.Stages)
	}
	if doc.Backend != backendVector {
		t.Errorf("Backend = %s, want %s", doc.Backend, backendVector)
	}
	// Identical vectors give similarity 1; the semantic term averages it
	// with zero token overlap.
	if doc.Semantic != 0.5 {
		t.Errorf("Semantic = %v, want 0.5", doc.Semantic)
	}
}

func TestMerger_HydratesOntologyMatches(t *testing.T) {
	ctx := context.Background()
	coordinator := testutils.NewMemoryCoordinator()
	claim := &state.Claim{
		ID:             "c1",
		Text:           "water boils at one hundred degrees",
		Type:           state.ClaimThesis,
		CreatedByAgent: "synthesizer",
	}
	if err := coordinator.PersistClaim(ctx, claim); err != nil {
		t.Fatalf("PersistClaim() error = %v", err)
	}

	m := NewMerger(retrievalConfig(), nil, coordinator, nil, 0)
	res, err := m.Lookup(ctx, "thesis", 5)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(res.Documents) != 1 {
		t.Fatalf("got %d documents, want 1 ontology hit", len(res.Documents))
	}

	doc := res.Documents[0]
	if doc.URL != "onto://claim:c1" {
		t.Errorf("URL = %s, want onto://claim:c1", doc.URL)
	}
	if doc.Backend != backendOntology {
		t.Errorf("Backend = %s, want %s", doc.Backend, backendOntology)
	}
	if doc.Credibility != 0.7 {
		t.Errorf("Credibility = %v, want the ontology prior 0.7", doc.Credibility)
	}
	if doc.Snippet != "claim:c1 rdf:type thesis" {
		t.Errorf("Snippet = %q, want the quad rendered as subject predicate object", doc.Snippet)
	}
}

func TestMerger_PersistControlsSourceWriteThrough(t *testing.T) {
	ctx := context.Background()
	backendStore := storage.NewMemoryBackend()
	scfg := &config.StorageConfig{}
	scfg.SetDefaults()
	coordinator := storage.NewCoordinator(scfg, backendStore, nil)

	results := []search.RawResult{
		{URL: "https://example.org/one", Title: "One", Snippet: "first probe result"},
		{URL: "https://example.org/two", Title: "Two", Snippet: "second probe result"},
	}
	registry := search.NewBackendRegistry()
	if err := registry.RegisterBackend(&testutils.CountingBackend{Results: results}); err != nil {
		t.Fatalf("RegisterBackend() error = %v", err)
	}
	m := NewMerger(retrievalConfig("counting"), search.NewDispatcher(registry), coordinator, nil, 0)

	if _, err := m.Lookup(ctx, "scout probe", 5, WithoutPersist()); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got := backendStore.NodeCount(); got != 0 {
		t.Errorf("NodeCount after WithoutPersist lookup = %d, want 0", got)
	}

	if _, err := m.Lookup(ctx, "committed probe", 5); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got := backendStore.NodeCount(); got != 2 {
		t.Errorf("NodeCount after persisting lookup = %d, want 2 sources", got)
	}
}

func TestMerger_AllBackendsFailingIsTransientAndUncached(t *testing.T) {
	ctx := context.Background()
	backend := &testutils.CountingBackend{
		FailuresRemaining: -1,
		Results: []search.RawResult{
			{URL: "https://example.com/alive", Title: "Alive", Snippet: "recovered result"},
		},
	}
	m := liveMerger(t, retrievalConfig("counting"), nil, backend)

	_, err := m.Lookup(ctx, "doomed query", 3)
	if err == nil {
		t.Fatal("Lookup() succeeded, want transient error when every backend fails")
	}
	if kind := protocol.KindOf(err); kind != protocol.KindTransient {
		t.Errorf("error kind = %s, want %s", kind, protocol.KindTransient)
	}
	if m.CacheLen() != 0 {
		t.Errorf("failed lookup left %d cache entries, want 0", m.CacheLen())
	}

	// Once the backend recovers the same query merges fresh.
	atomic.StoreInt32(&backend.FailuresRemaining, 0)
	res, err := m.Lookup(ctx, "doomed query", 3)
	if err != nil {
		t.Fatalf("Lookup() after recovery error = %v", err)
	}
	if res.CacheHit {
		t.Error("recovered lookup reported a cache hit")
	}
	if len(res.Documents) != 1 {
		t.Errorf("got %d documents after recovery, want 1", len(res.Documents))
	}
	if got := backend.Calls(); got != 2 {
		t.Errorf("backend calls = %d, want 2", got)
	}
}

func TestMerger_EmptyQueryAndCancelledContext(t *testing.T) {
	m := NewMerger(retrievalConfig(), nil, nil, nil, 0)

	res, err := m.Lookup(context.Background(), "   ", 5)
	if err != nil {
		t.Fatalf("Lookup(blank) error = %v", err)
	}
	if len(res.Documents) != 0 || res.CacheHit {
		t.Errorf("Lookup(blank) = %+v, want empty miss", res)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Lookup(ctx, "anything", 5)
	if kind := protocol.KindOf(err); kind != protocol.KindCancelled {
		t.Errorf("cancelled lookup error kind = %s, want %s", kind, protocol.KindCancelled)
	}
}

func TestMerger_TopKDefaultsAndCaps(t *testing.T) {
	ctx := context.Background()
	results := make([]search.RawResult, 0, 5)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		results = append(results, search.RawResult{
			URL:     "https://example.com/" + name,
			Title:   "probe " + name,
			Snippet: "probe result " + name,
		})
	}
	cfg := retrievalConfig("counting")
	cfg.TopK = 3
	m := liveMerger(t, cfg, nil, &testutils.CountingBackend{Results: results})

	docs, err := m.ExternalLookup(ctx, "probe", 0)
	if err != nil {
		t.Fatalf("ExternalLookup() error = %v", err)
	}
	if len(docs) != 3 {
		t.Errorf("got %d documents with top_k 0, want the configured 3", len(docs))
	}
}

func TestMerger_SingleWeightDominatesOrdering(t *testing.T) {
	ctx := context.Background()
	results := []search.RawResult{
		{URL: "https://blog-example.dev/hello", Title: "Hello world tutorial", Snippet: "hello world tutorial for beginners"},
		{URL: "http://example.com/misc", Title: "Gardening notes", Snippet: "pruning roses in spring"},
		{URL: "https://university.edu/archive", Title: "Archive", Snippet: "old archive page"},
		{URL: "https://nonprofit.org/page", Title: "About us", Snippet: "mission statement"},
	}

	// Credibility alone decides: origin tiers outrank any text match.
	cfg := retrievalConfig("counting")
	cfg.Weights = config.BlendWeights{Credibility: 1}
	m := liveMerger(t, cfg, nil, &testutils.CountingBackend{Results: results})

	out, err := m.ExternalLookup(ctx, "hello world tutorial", 5)
	if err != nil {
		t.Fatalf("ExternalLookup() error = %v", err)
	}
	wantOrder := []string{
		"https://university.edu/archive",
		"https://nonprofit.org/page",
		"https://blog-example.dev/hello",
		"http://example.com/misc",
	}
	for i, want := range wantOrder {
		if out[i].URL != want {
			t.Fatalf("credibility-only order[%d] = %s, want %s", i, out[i].URL, want)
		}
	}

	// BM25 alone decides: the only document matching the query wins.
	cfg = retrievalConfig("counting")
	cfg.Weights = config.BlendWeights{BM25: 1}
	m = liveMerger(t, cfg, nil, &testutils.CountingBackend{Results: results})

	out, err = m.ExternalLookup(ctx, "hello world tutorial", 5)
	if err != nil {
		t.Fatalf("ExternalLookup() error = %v", err)
	}
	if out[0].URL != "https://blog-example.dev/hello" {
		t.Fatalf("bm25-only top document = %s, want the matching tutorial", out[0].URL)
	}
	// The top document defines the normalization ceiling; documents with
	// no term overlap contribute nothing under a bm25-only blend.
	if out[0].Score != 1 {
		t.Fatalf("bm25-only top score = %v, want 1", out[0].Score)
	}
	for _, d := range out[1:] {
		if d.Score != 0 {
			t.Fatalf("non-matching document %s scored %v under bm25-only blend", d.URL, d.Score)
		}
	}
}

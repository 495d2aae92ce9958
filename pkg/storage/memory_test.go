package storage

import (
	"context"
	"testing"
)

func TestMemoryBackend_PersistAndFetch(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	row := NodeRow{
		ID:          "n1",
		Kind:        NodeKindClaim,
		Text:        "water boils at 100 degrees at sea level",
		Type:        "thesis",
		Agent:       "synthesizer",
		Cycle:       1,
		ContentHash: "abc123",
		Payload:     []byte(`{"id":"n1"}`),
	}
	if err := b.Persist(ctx, Rows{Nodes: []NodeRow{row}}); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	got, err := b.FetchNode(ctx, "n1")
	if err != nil {
		t.Fatalf("FetchNode() error = %v", err)
	}
	if got == nil {
		t.Fatal("FetchNode() = nil, want row")
	}
	if got.Text != row.Text || got.Kind != row.Kind || got.ContentHash != row.ContentHash {
		t.Errorf("FetchNode() = %+v, want %+v", got, row)
	}

	missing, err := b.FetchNode(ctx, "absent")
	if err != nil {
		t.Fatalf("FetchNode(absent) error = %v", err)
	}
	if missing != nil {
		t.Errorf("FetchNode(absent) = %+v, want nil", missing)
	}
}

func TestMemoryBackend_PersistUpserts(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	if err := b.Persist(ctx, Rows{Nodes: []NodeRow{{ID: "n1", Kind: NodeKindClaim, Text: "first"}}}); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if err := b.Persist(ctx, Rows{Nodes: []NodeRow{{ID: "n1", Kind: NodeKindClaim, Text: "second"}}}); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	if count := b.NodeCount(); count != 1 {
		t.Errorf("NodeCount() = %d, want 1", count)
	}
	got, _ := b.FetchNode(ctx, "n1")
	if got.Text != "second" {
		t.Errorf("FetchNode().Text = %q, want %q", got.Text, "second")
	}
}

func TestMemoryBackend_VectorSearchOrdering(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	rows := Rows{
		Nodes: []NodeRow{
			{ID: "v1", Kind: NodeKindClaim, Text: "aligned"},
			{ID: "v2", Kind: NodeKindClaim, Text: "orthogonal"},
			{ID: "v3", Kind: NodeKindClaim, Text: "opposite"},
		},
		Embeddings: []EmbeddingRow{
			{NodeID: "v1", Vector: []float32{1, 0}},
			{NodeID: "v2", Vector: []float32{0, 1}},
			{NodeID: "v3", Vector: []float32{-1, 0}},
		},
	}
	if err := b.Persist(ctx, rows); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	hits, err := b.VectorSearch(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("VectorSearch() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("VectorSearch() returned %d hits, want 2", len(hits))
	}
	if hits[0].NodeID != "v1" {
		t.Errorf("VectorSearch() top hit = %s, want v1", hits[0].NodeID)
	}
	if hits[0].Score != 1 {
		t.Errorf("VectorSearch() top score = %v, want 1", hits[0].Score)
	}
	if hits[1].NodeID != "v2" {
		t.Errorf("VectorSearch() second hit = %s, want v2", hits[1].NodeID)
	}
}

func TestMemoryBackend_OntologyQuery(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	rows := Rows{Quads: []QuadRow{
		{Subject: "claim:1", Predicate: "cites", Object: "source:9", Graph: "claims"},
		{Subject: "claim:2", Predicate: "rdf:type", Object: "thesis", Graph: "claims"},
		{Subject: "source:9", Predicate: "has_url", Object: "https://example.org", Graph: "sources"},
	}}
	if err := b.Persist(ctx, rows); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	quads, err := b.OntologyQuery(ctx, "source:9")
	if err != nil {
		t.Fatalf("OntologyQuery() error = %v", err)
	}
	if len(quads) != 2 {
		t.Fatalf("OntologyQuery() returned %d quads, want 2", len(quads))
	}
	// Results sort by subject, then predicate, then object.
	if quads[0].Subject != "claim:1" || quads[1].Subject != "source:9" {
		t.Errorf("OntologyQuery() order = [%s %s], want [claim:1 source:9]", quads[0].Subject, quads[1].Subject)
	}

	empty, err := b.OntologyQuery(ctx, "nothing-matches")
	if err != nil {
		t.Fatalf("OntologyQuery() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("OntologyQuery(no match) returned %d quads, want 0", len(empty))
	}
}

func TestMemoryBackend_InitializeIdempotent(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	for i := 0; i < 3; i++ {
		if err := b.Initialize(ctx); err != nil {
			t.Fatalf("Initialize() call %d error = %v", i, err)
		}
	}

	if err := b.Persist(ctx, Rows{Nodes: []NodeRow{{ID: "n1", Kind: NodeKindClaim, Text: "survives"}}}); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() after persist error = %v", err)
	}
	if got, _ := b.FetchNode(ctx, "n1"); got == nil {
		t.Error("Initialize() after persist dropped existing data")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 1}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Package retrieval implements the hybrid lookup pipeline: concurrent
// search backend fan-out merged with storage hydration (resident BM25,
// vector similarity, ontology filter), deterministic score blending, and a
// TTL/LRU cache with alias keys and coalesced writers.
package retrieval

import (
	"time"

	"github.com/autoresearch/autoresearch/pkg/state"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// Pseudo-backend names for documents hydrated from storage rather than a
// live search backend. They participate in the same deterministic
// tie-break as real backend names.
const (
	backendBM25     = "storage-bm25"
	backendVector   = "storage-vector"
	backendOntology = "storage-ontology"
)

// Document is one ranked retrieval hit. Component scores and the final
// blend are quantized to the score grid, so equal inputs produce
// byte-identical orderings across platforms.
type Document struct {
	URL          string `json:"url"`
	CanonicalURL string `json:"canonical_url"`
	Title        string `json:"title,omitempty"`
	Snippet      string `json:"snippet,omitempty"`

	// Backend names the search backend (or storage pseudo-backend) that
	// first surfaced this document.
	Backend string `json:"backend"`

	// Stages lists the retrieval stages that surfaced the document,
	// sorted: subset of {bm25, live, ontology, vector}.
	Stages []string `json:"storage_sources,omitempty"`

	// Component scores on [0,1], quantized.
	BM25        float64 `json:"bm25"`
	Semantic    float64 `json:"semantic"`
	Credibility float64 `json:"credibility"`

	// Score is the blended relevance used for ranking.
	Score float64 `json:"score"`

	// vector similarity participates in the semantic term when the
	// document came through the vector stage.
	vectorScore float64
	hasVector   bool

	// originalIndex is the document's position in the pre-ranking
	// candidate assembly, the final tie-break.
	originalIndex int
}

// addStage records a retrieval stage, keeping Stages sorted and unique.
func (d *Document) addStage(stage string) {
	for _, s := range d.Stages {
		if s == stage {
			return
		}
	}
	d.Stages = append(d.Stages, stage)
	for i := len(d.Stages) - 1; i > 0 && d.Stages[i] < d.Stages[i-1]; i-- {
		d.Stages[i], d.Stages[i-1] = d.Stages[i-1], d.Stages[i]
	}
}

// Clone deep-copies the document.
func (d Document) Clone() Document {
	out := d
	out.Stages = append([]string(nil), d.Stages...)
	return out
}

// ToSource converts the document into an evidence source. The ID derives
// from the canonical URL so re-retrieving the same document yields the
// same source identity.
func (d *Document) ToSource() state.Source {
	src := state.Source{
		ID:        "src-" + utils.Checksum64(d.CanonicalURL),
		URL:       d.URL,
		Title:     d.Title,
		Snippet:   d.Snippet,
		Backend:   d.Backend,
		FetchedAt: time.Now().UTC(),
		Checksum:  utils.Checksum64(d.Snippet),
	}
	for _, stage := range d.Stages {
		src.AddStage(stage)
	}
	return src
}

// cloneDocuments copies a ranked slice so cached entries stay immutable.
func cloneDocuments(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i := range docs {
		out[i] = docs[i].Clone()
	}
	return out
}

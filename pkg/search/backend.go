// Package search defines the raw search capability consumed by the
// retrieval merger, a registry of backends, and a dispatcher that fans a
// canonical query out to every enabled backend behind per-backend circuit
// breakers.
package search

import "context"

// RawResult is one untranslated hit from a search backend. Rank is implied
// by slice order; the merger assigns scores.
type RawResult struct {
	URL     string            `json:"url"`
	Title   string            `json:"title,omitempty"`
	Snippet string            `json:"snippet,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Backend is the search capability. Implementations must be idempotent for
// identical inputs within their freshness window and tag failures with the
// error taxonomy (Transient, RateLimited for throttling, ConfigError for
// authorization problems).
type Backend interface {
	// Name identifies the backend in registries, cache keys, and
	// provenance tags.
	Name() string

	// Search returns up to topK ranked results for a canonical query.
	Search(ctx context.Context, canonicalQuery string, topK int) ([]RawResult, error)
}

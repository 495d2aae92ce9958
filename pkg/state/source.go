package state

import (
	"net/url"
	"sort"
	"strings"
	"time"
)

// Retrieval stages that can surface a source. A source's StorageSources
// records every stage that produced it during merging.
const (
	StageVector   = "vector"
	StageBM25     = "bm25"
	StageOntology = "ontology"
	StageLive     = "live"
)

// Source is one evidence document. Sources are de-duplicated by canonical
// URL; the original URL is kept for display.
type Source struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`

	// Backend names the search backend that fetched this source.
	Backend   string    `json:"backend,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`

	// Checksum fingerprints the snippet content.
	Checksum string `json:"checksum,omitempty"`

	// StorageSources is the set of retrieval stages that surfaced this
	// source, kept sorted for deterministic output.
	StorageSources []string `json:"storage_sources,omitempty"`
}

// CanonicalKey returns the de-duplication key for the source.
func (s *Source) CanonicalKey() string {
	return CanonicalURL(s.URL)
}

// AddStage records a retrieval stage, keeping the set sorted and unique.
func (s *Source) AddStage(stage string) {
	for _, existing := range s.StorageSources {
		if existing == stage {
			return
		}
	}
	s.StorageSources = append(s.StorageSources, stage)
	sort.Strings(s.StorageSources)
}

// Clone deep-copies the source.
func (s Source) Clone() Source {
	out := s
	out.StorageSources = append([]string(nil), s.StorageSources...)
	return out
}

// CanonicalURL normalizes a URL for keying: lowercase scheme and host,
// stripped fragment, trailing-slash-trimmed path. Unparseable input falls
// back to a trimmed lowercase string so keying still works.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return strings.ToLower(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")

	return u.String()
}

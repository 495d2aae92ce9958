package retrieval

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/llms"
	"github.com/autoresearch/autoresearch/pkg/observability"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/search"
	"github.com/autoresearch/autoresearch/pkg/state"
	"github.com/autoresearch/autoresearch/pkg/storage"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// Lookup is one merged retrieval result.
type Lookup struct {
	Documents []Document
	CacheHit  bool
}

type lookupOptions struct {
	persist bool
}

// LookupOption adjusts a single lookup.
type LookupOption func(*lookupOptions)

// WithoutPersist skips writing merged documents to the storage
// coordinator. The scout pass uses it so probing never mutates persistent
// state beyond the cache.
func WithoutPersist() LookupOption {
	return func(o *lookupOptions) { o.persist = false }
}

// Merger blends live search results with storage hydration into one
// deterministically ranked document list. Lookups are cached; concurrent
// writers to the same cache key coalesce, the second observing the
// first's result.
type Merger struct {
	cfg        *config.RetrievalConfig
	dispatcher *search.Dispatcher
	storage    *storage.Coordinator
	adapter    llms.Adapter
	dimension  int

	cache *Cache
	sf    singleflight.Group
}

// NewMerger builds a merger. The adapter supplies query embeddings for the
// vector stage and may be nil; dimension is the configured embedding size
// and participates in the cache key.
func NewMerger(cfg *config.RetrievalConfig, dispatcher *search.Dispatcher, coordinator *storage.Coordinator, adapter llms.Adapter, dimension int) *Merger {
	return &Merger{
		cfg:        cfg,
		dispatcher: dispatcher,
		storage:    coordinator,
		adapter:    adapter,
		dimension:  dimension,
		cache:      NewCache(time.Duration(cfg.CacheTTLS)*time.Second, cfg.CacheCapacity),
	}
}

// ExternalLookup returns the ranked documents for a query. Same inputs
// yield byte-identical document order.
func (m *Merger) ExternalLookup(ctx context.Context, query string, topK int) ([]Document, error) {
	res, err := m.Lookup(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return res.Documents, nil
}

// Lookup is ExternalLookup plus cache provenance, used by callers that
// report the cache_hit metric.
func (m *Merger) Lookup(ctx context.Context, query string, topK int, opts ...LookupOption) (*Lookup, error) {
	options := lookupOptions{persist: true}
	for _, opt := range opts {
		opt(&options)
	}

	if ctx.Err() != nil {
		return nil, protocol.WrapErr(protocol.KindCancelled, "retrieval.lookup", ctx.Err())
	}
	if topK <= 0 {
		topK = m.cfg.TopK
	}

	canonical := CanonicalQuery(query)
	if canonical == "" {
		return &Lookup{}, nil
	}

	key := CacheKey(canonical, m.cfg, m.dimension, topK)
	if docs, ok := m.cache.Get(key); ok {
		observability.RecordCacheLookup(ctx, true)
		return &Lookup{Documents: docs, CacheHit: true}, nil
	}

	aliases := LegacyAliases(canonical, m.cfg, m.dimension, topK)

	type mergeOutcome struct {
		docs      []Document
		fromCache bool
	}

	v, err, shared := m.sf.Do(key, func() (interface{}, error) {
		// A coalesced writer may have filled the slot between the miss
		// above and this call.
		if docs, ok := m.cache.Get(key); ok {
			return mergeOutcome{docs: docs, fromCache: true}, nil
		}

		start := time.Now()
		docs, err := m.mergeOnce(ctx, canonical, topK, options.persist)
		if err != nil {
			return nil, err
		}
		observability.RecordRetrieval(ctx, time.Since(start))
		m.cache.Put(key, aliases, docs)
		return mergeOutcome{docs: docs}, nil
	})
	if err != nil {
		return nil, err
	}

	outcome := v.(mergeOutcome)
	hit := outcome.fromCache || shared
	observability.RecordCacheLookup(ctx, hit)
	return &Lookup{
		Documents: cloneDocuments(outcome.docs),
		CacheHit:  hit,
	}, nil
}

// CacheLen exposes the number of live cache entries, used by telemetry.
func (m *Merger) CacheLen() int {
	return m.cache.Len()
}

// mergeOnce runs the full pipeline for a cache miss: fan-out, storage
// hydration, component scoring, blending, ranking, and persistence.
func (m *Merger) mergeOnce(ctx context.Context, canonical string, topK int, persist bool) ([]Document, error) {
	var candidates []Document
	byURL := make(map[string]int)

	add := func(doc Document, stage string) {
		doc.CanonicalURL = state.CanonicalURL(doc.URL)
		if i, ok := byURL[doc.CanonicalURL]; ok {
			existing := &candidates[i]
			existing.addStage(stage)
			if existing.Title == "" {
				existing.Title = doc.Title
			}
			if existing.Snippet == "" {
				existing.Snippet = doc.Snippet
			}
			if doc.hasVector && (!existing.hasVector || doc.vectorScore > existing.vectorScore) {
				existing.hasVector = true
				existing.vectorScore = doc.vectorScore
			}
			return
		}
		doc.originalIndex = len(candidates)
		doc.addStage(stage)
		byURL[doc.CanonicalURL] = len(candidates)
		candidates = append(candidates, doc)
	}

	// Live backend fan-out. The dispatcher returns per-backend slots in
	// declared order, so assembly order is stable.
	var dispatchErr error
	if len(m.cfg.Backends) > 0 && m.dispatcher != nil {
		batches, err := m.dispatcher.Search(ctx, m.cfg.Backends, canonical, topK)
		if err != nil {
			if protocol.KindOf(err) == protocol.KindCancelled {
				return nil, err
			}
			dispatchErr = err
		}
		for _, batch := range batches {
			for _, r := range batch.Results {
				add(Document{
					URL:     r.URL,
					Title:   r.Title,
					Snippet: r.Snippet,
					Backend: batch.Backend,
				}, state.StageLive)
			}
		}
	}

	m.hydrateFromStorage(ctx, canonical, topK, add)

	if len(candidates) == 0 {
		if dispatchErr != nil {
			return nil, dispatchErr
		}
		return []Document{}, nil
	}

	m.scoreCandidates(canonical, candidates)

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Backend != b.Backend {
			return a.Backend < b.Backend
		}
		if a.CanonicalURL != b.CanonicalURL {
			return a.CanonicalURL < b.CanonicalURL
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.originalIndex < b.originalIndex
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	if persist && m.storage != nil {
		m.persistDocuments(ctx, candidates)
	}
	return candidates, nil
}

// hydrateFromStorage adds candidates from the resident graph: BM25 over
// claim texts, vector similarity when an embedder and index are available,
// and the ontology filter. Unavailable stages are skipped, keeping the
// remaining pipeline deterministic.
func (m *Merger) hydrateFromStorage(ctx context.Context, canonical string, topK int, add func(Document, string)) {
	if m.storage == nil {
		return
	}

	hits, err := m.storage.QueryBM25(ctx, canonical, topK)
	if err != nil {
		slog.Warn("Storage BM25 stage failed", "error", err)
	}
	for _, h := range hits {
		add(Document{
			URL:     "claim://" + h.NodeID,
			Title:   utils.TruncateRunes(h.Text, 80),
			Snippet: h.Text,
			Backend: backendBM25,
		}, state.StageBM25)
	}

	if m.adapter != nil && m.cfg.HybridEnabled() {
		vec, err := m.adapter.Embed(ctx, canonical)
		if err != nil {
			slog.Warn("Query embedding failed, skipping vector stage", "error", err)
		} else if len(vec) > 0 {
			vhits, err := m.storage.VectorSearch(ctx, vec, topK)
			if err != nil {
				slog.Warn("Vector stage failed", "error", err)
			}
			for _, h := range vhits {
				score := h.Score
				if score < 0 {
					score = 0
				}
				if score > 1 {
					score = 1
				}
				add(Document{
					URL:         "claim://" + h.NodeID,
					Title:       utils.TruncateRunes(h.Text, 80),
					Snippet:     h.Text,
					Backend:     backendVector,
					hasVector:   true,
					vectorScore: utils.Quantize(score),
				}, state.StageVector)
			}
		}
	}

	quads, err := m.storage.OntologyQuery(ctx, canonical)
	if err != nil {
		slog.Warn("Ontology stage failed", "error", err)
	}
	for _, q := range quads {
		add(Document{
			URL:     "onto://" + q.Subject,
			Title:   q.Subject,
			Snippet: q.Subject + " " + q.Predicate + " " + q.Object,
			Backend: backendOntology,
		}, state.StageOntology)
	}
}

// scoreCandidates fills component scores and the blend. BM25 runs over an
// ephemeral index of the candidates themselves, normalized by the top
// score, so the component stays on [0,1] regardless of corpus size.
func (m *Merger) scoreCandidates(canonical string, candidates []Document) {
	bm := storage.NewBM25Index()
	for _, d := range candidates {
		bm.Upsert(d.CanonicalURL, d.Title+" "+d.Snippet)
	}

	bm25Scores := make(map[string]float64, len(candidates))
	var maxBM25 float64
	for _, h := range bm.Query(canonical, len(candidates)) {
		bm25Scores[h.NodeID] = h.Score
		if h.Score > maxBM25 {
			maxBM25 = h.Score
		}
	}

	w := m.cfg.Weights
	for i := range candidates {
		d := &candidates[i]

		if maxBM25 > 0 {
			d.BM25 = utils.Quantize(bm25Scores[d.CanonicalURL] / maxBM25)
		}

		sem := utils.Quantize(utils.TokenOverlap(canonical, d.Title+" "+d.Snippet))
		if d.hasVector {
			sem = utils.Quantize((sem + d.vectorScore) / 2)
		}
		d.Semantic = sem

		d.Credibility = credibilityScore(d.CanonicalURL)
		d.Score = utils.Quantize(w.BM25*d.BM25 + w.Semantic*d.Semantic + w.Credibility*d.Credibility)
	}
}

// persistDocuments writes live documents through to the coordinator so
// later queries can hydrate them without a fan-out. Claim and ontology
// candidates already live there.
func (m *Merger) persistDocuments(ctx context.Context, docs []Document) {
	for i := range docs {
		live := false
		for _, stage := range docs[i].Stages {
			if stage == state.StageLive {
				live = true
				break
			}
		}
		if !live {
			continue
		}
		src := docs[i].ToSource()
		if err := m.storage.PersistSource(ctx, &src); err != nil {
			slog.Warn("Failed to persist retrieved source",
				"url", docs[i].CanonicalURL,
				"error", err)
		}
	}
}

// credibilityScore assigns a deterministic prior from the document origin.
// Values sit on the score grid already. The internal schemes are matched by
// prefix because quad subjects contain colons that url.Parse rejects.
func credibilityScore(canonicalURL string) float64 {
	switch {
	case strings.HasPrefix(canonicalURL, "claim://"):
		// Claims were vetted on their way into the graph.
		return 0.8
	case strings.HasPrefix(canonicalURL, "onto://"):
		return 0.7
	}

	u, err := url.Parse(canonicalURL)
	if err != nil {
		return 0.4
	}

	host := strings.ToLower(u.Host)
	switch {
	case host == "":
		return 0.4
	case strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu"):
		return 0.9
	case host == "wikipedia.org" || strings.HasSuffix(host, ".wikipedia.org"):
		return 0.85
	case strings.HasSuffix(host, ".org"):
		return 0.7
	case u.Scheme == "https":
		return 0.6
	default:
		return 0.5
	}
}

package config

import (
	"fmt"
	"math"
)

// BlendWeights weights the components of the relevance blend. The three
// weights must sum to 1.0.
type BlendWeights struct {
	BM25        float64 `yaml:"bm25"`
	Semantic    float64 `yaml:"semantic"`
	Credibility float64 `yaml:"credibility"`
}

// RetrievalConfig tunes the external lookup pipeline: backend fan-out,
// ranking weights, and the query cache.
type RetrievalConfig struct {
	// Backends names the enabled search backends. The set (order
	// ignored) is part of the cache key.
	Backends []string `yaml:"backends"`

	// TopK is the number of merged results returned per lookup.
	TopK int `yaml:"top_k"`

	// Hybrid enables local semantic scoring on top of backend rank.
	// Defaults to true; has no effect when no embedder is configured.
	Hybrid *bool `yaml:"hybrid,omitempty"`

	// Weights blends BM25, semantic, and credibility scores.
	Weights BlendWeights `yaml:"weights"`

	// CacheTTLS is the per-entry cache lifetime in seconds.
	CacheTTLS int `yaml:"cache_ttl_s"`

	// CacheCapacity caps cache entries before LRU eviction.
	CacheCapacity int `yaml:"cache_capacity"`

	// HTTPTimeoutS bounds a single backend HTTP request, in seconds.
	HTTPTimeoutS int `yaml:"http_timeout_s"`
}

// HybridEnabled resolves the Hybrid pointer, defaulting to true.
func (c *RetrievalConfig) HybridEnabled() bool {
	return c.Hybrid == nil || *c.Hybrid
}

// SetDefaults applies default values to the retrieval config.
func (c *RetrievalConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 10
	}
	if c.Weights == (BlendWeights{}) {
		c.Weights = BlendWeights{BM25: 0.3, Semantic: 0.5, Credibility: 0.2}
	}
	if c.CacheTTLS == 0 {
		c.CacheTTLS = 3600
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = 512
	}
	if c.HTTPTimeoutS == 0 {
		c.HTTPTimeoutS = 10
	}
}

// Validate checks the retrieval configuration. Weight errors are caught
// here, at load time, not during ranking.
func (c *RetrievalConfig) Validate() error {
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be >= 1, got %d", c.TopK)
	}
	if c.Weights.BM25 < 0 || c.Weights.Semantic < 0 || c.Weights.Credibility < 0 {
		return fmt.Errorf("blend weights must be non-negative")
	}
	sum := c.Weights.BM25 + c.Weights.Semantic + c.Weights.Credibility
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("blend weights must sum to 1.0, got %v", sum)
	}
	if c.CacheTTLS < 0 {
		return fmt.Errorf("cache_ttl_s must be non-negative")
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("cache_capacity must be >= 1, got %d", c.CacheCapacity)
	}
	if c.HTTPTimeoutS < 1 {
		return fmt.Errorf("http_timeout_s must be >= 1, got %d", c.HTTPTimeoutS)
	}
	return nil
}

func (c RetrievalConfig) clone() RetrievalConfig {
	out := c
	out.Backends = append([]string(nil), c.Backends...)
	if c.Hybrid != nil {
		v := *c.Hybrid
		out.Hybrid = &v
	}
	return out
}

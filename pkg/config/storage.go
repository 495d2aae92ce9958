package config

import "fmt"

// Eviction policies for the in-memory claim graph.
const (
	EvictLRU   = "lru"
	EvictScore = "score"
)

// Vector index providers.
const (
	VectorChromem = "chromem"
	VectorQdrant  = "qdrant"
)

// StorageConfig tunes the storage coordinator: RAM budget enforcement over
// the in-memory graph, the SQL persistence backend, and the vector index.
type StorageConfig struct {
	// RAMBudgetMB caps the estimated size of the in-memory claim graph.
	// Defaults to 1024. An explicit zero budget keeps only the resident
	// floor in memory.
	RAMBudgetMB int `yaml:"ram_budget_mb"`

	// EvictionPolicy picks eviction order: lru or score.
	EvictionPolicy string `yaml:"eviction_policy"`

	// ResidentFloor is the minimum number of claims kept in memory no
	// matter how tight the budget is.
	ResidentFloor int `yaml:"resident_floor"`

	// Headroom is the fraction below budget that eviction targets, so a
	// single insert does not immediately re-trigger it.
	Headroom float64 `yaml:"headroom"`

	// Database configures SQL persistence. An empty driver leaves the
	// coordinator memory-only.
	Database DatabaseConfig `yaml:"database,omitempty"`

	// VectorIndex configures the similarity index over claim embeddings.
	VectorIndex VectorIndexConfig `yaml:"vector_index,omitempty"`
}

// SetDefaults applies default values to the storage config.
func (c *StorageConfig) SetDefaults() {
	if c.RAMBudgetMB == 0 {
		c.RAMBudgetMB = 1024
	}
	if c.EvictionPolicy == "" {
		c.EvictionPolicy = EvictLRU
	}
	if c.ResidentFloor == 0 {
		c.ResidentFloor = 2
	}
	if c.Headroom == 0 {
		c.Headroom = 0.1
	}
	if c.Database.Driver != "" {
		c.Database.SetDefaults()
	}
	c.VectorIndex.SetDefaults()
}

// Validate checks the storage configuration.
func (c *StorageConfig) Validate() error {
	if c.RAMBudgetMB < 0 {
		return fmt.Errorf("ram_budget_mb must be non-negative")
	}
	switch c.EvictionPolicy {
	case EvictLRU, EvictScore:
	default:
		return fmt.Errorf("invalid eviction_policy %q (valid: lru, score)", c.EvictionPolicy)
	}
	if c.ResidentFloor < 0 {
		return fmt.Errorf("resident_floor must be non-negative")
	}
	if c.Headroom < 0 || c.Headroom >= 1 {
		return fmt.Errorf("headroom must be in [0,1), got %v", c.Headroom)
	}
	if c.Database.Driver != "" {
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if err := c.VectorIndex.Validate(); err != nil {
		return fmt.Errorf("vector_index: %w", err)
	}
	return nil
}

// VectorIndexConfig configures the claim embedding index. An empty provider
// disables vector search.
type VectorIndexConfig struct {
	// Provider selects the index implementation: chromem or qdrant.
	Provider string `yaml:"provider,omitempty"`

	// Collection is the index collection name.
	Collection string `yaml:"collection,omitempty"`

	// Path is the chromem persistence directory. Empty keeps the index
	// in memory.
	Path string `yaml:"path,omitempty"`

	// Host and Port locate a qdrant server.
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// APIKey authenticates against qdrant cloud.
	APIKey string `yaml:"api_key,omitempty"`

	// UseTLS enables TLS for the qdrant connection.
	UseTLS bool `yaml:"use_tls,omitempty"`

	// Dimension is the embedding vector size. Required for qdrant.
	Dimension int `yaml:"dimension,omitempty"`
}

// SetDefaults applies default values to the vector index config.
func (c *VectorIndexConfig) SetDefaults() {
	if c.Provider == "" {
		return
	}
	if c.Collection == "" {
		c.Collection = "autoresearch"
	}
	if c.Provider == VectorQdrant {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
}

// Validate checks the vector index configuration.
func (c *VectorIndexConfig) Validate() error {
	switch c.Provider {
	case "", VectorChromem, VectorQdrant:
	default:
		return fmt.Errorf("invalid provider %q (valid: chromem, qdrant)", c.Provider)
	}
	if c.Provider == VectorQdrant && c.Dimension < 1 {
		return fmt.Errorf("dimension is required for qdrant")
	}
	if c.Dimension < 0 {
		return fmt.Errorf("dimension must be non-negative")
	}
	return nil
}

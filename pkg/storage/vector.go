package storage

import (
	"context"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/protocol"
)

// VectorIndex is the similarity capability over claim embeddings. The
// coordinator treats it as optional: a nil index flips the vector
// capability flag and retrieval degrades to lexical scoring.
type VectorIndex interface {
	// Upsert stores a vector under id with a small string payload.
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error

	// Search returns the k nearest stored vectors, best first.
	Search(ctx context.Context, vector []float32, k int) ([]ScoredNode, error)

	// Name identifies the provider for telemetry.
	Name() string

	// Close releases index resources, flushing any persistence.
	Close() error
}

// NewVectorIndex builds the configured provider. An empty provider returns
// (nil, nil): vector search disabled.
func NewVectorIndex(cfg *config.VectorIndexConfig) (VectorIndex, error) {
	if cfg == nil || cfg.Provider == "" {
		return nil, nil
	}

	switch cfg.Provider {
	case config.VectorChromem:
		return NewChromemIndex(cfg)
	case config.VectorQdrant:
		return NewQdrantIndex(cfg)
	default:
		return nil, protocol.Newf(protocol.KindConfig, "storage.vector",
			"unknown vector index provider %q", cfg.Provider)
	}
}

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// ChromemIndex is the embedded VectorIndex, the default for local-first
// runs: pure Go, in-memory with optional gob persistence, cosine
// similarity. Embeddings are computed upstream; the index never calls an
// embedding function itself.
type ChromemIndex struct {
	mu          sync.Mutex
	db          *chromem.DB
	collection  *chromem.Collection
	persistPath string
}

// NewChromemIndex opens (or creates) the embedded index for cfg. With a
// Path the database is loaded from and exported to
// <path>/vectors.gob; without one it lives in memory only.
func NewChromemIndex(cfg *config.VectorIndexConfig) (*ChromemIndex, error) {
	var db *chromem.DB

	if cfg.Path != "" {
		if _, err := utils.EnsureDir(cfg.Path); err != nil {
			return nil, fmt.Errorf("failed to create vector index directory: %w", err)
		}

		dbPath := filepath.Join(cfg.Path, "vectors.gob")
		if _, statErr := os.Stat(dbPath); statErr == nil {
			loaded, err := chromem.NewPersistentDB(dbPath, false)
			if err != nil {
				slog.Warn("Failed to load existing vector index, creating new",
					"path", dbPath,
					"error", err)
				db = chromem.NewDB()
			} else {
				db = loaded
				slog.Info("Loaded vector index from file", "path", dbPath)
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	// Vectors arrive pre-computed; a call into this function means a
	// caller forgot to embed first.
	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem index received text without a pre-computed vector")
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector collection %q: %w", cfg.Collection, err)
	}

	return &ChromemIndex{
		db:          db,
		collection:  col,
		persistPath: cfg.Path,
	}, nil
}

// Upsert implements VectorIndex.
func (x *ChromemIndex) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	if len(vector) == 0 {
		return nil
	}

	content := payload["content"]
	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  payload,
		Embedding: vector,
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.collection.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert vector %s: %w", id, err)
	}

	if err := x.persistLocked(); err != nil {
		slog.Warn("Failed to persist vector index after upsert", "error", err)
	}
	return nil
}

// Search implements VectorIndex.
func (x *ChromemIndex) Search(ctx context.Context, vector []float32, k int) ([]ScoredNode, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// chromem rejects nResults above the collection size.
	if count := x.collection.Count(); k > count {
		if count == 0 {
			return nil, nil
		}
		k = count
	}

	results, err := x.collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]ScoredNode, 0, len(results))
	for _, r := range results {
		out = append(out, ScoredNode{
			NodeID: r.ID,
			Text:   r.Content,
			Score:  utils.Quantize(float64(r.Similarity)),
		})
	}
	return out, nil
}

// Name implements VectorIndex.
func (x *ChromemIndex) Name() string { return config.VectorChromem }

// Close persists the database and releases resources.
func (x *ChromemIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.persistLocked()
}

// persistLocked exports the database to disk when persistence is enabled.
func (x *ChromemIndex) persistLocked() error {
	if x.persistPath == "" {
		return nil
	}

	dbPath := filepath.Join(x.persistPath, "vectors.gob")
	//nolint:staticcheck // Export remains the stable surface for this chromem version.
	if err := x.db.Export(dbPath, false, ""); err != nil {
		return fmt.Errorf("failed to persist vector index: %w", err)
	}
	return nil
}

// Ensure ChromemIndex implements VectorIndex.
var _ VectorIndex = (*ChromemIndex)(nil)

package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// QdrantIndex is the remote VectorIndex for deployments that outgrow the
// embedded store. It speaks gRPC to a Qdrant server and keeps a single
// cosine collection whose dimension is fixed by configuration.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantIndex connects to the configured Qdrant server and ensures the
// collection exists.
func NewQdrantIndex(cfg *config.VectorIndexConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w\n"+
			"  TIP: Troubleshooting:\n"+
			"     - Ensure Qdrant is running\n"+
			"     - Verify host and port configuration\n"+
			"     - For Docker: start Qdrant container (docker run -p 6333:6333 -p 6334:6334 qdrant/qdrant)",
			cfg.Host, cfg.Port, err)
	}

	x := &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
	}

	if err := x.ensureCollection(context.Background()); err != nil {
		_ = client.Close()
		return nil, err
	}

	return x, nil
}

func (x *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(x.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	// Another process may have raced us to it.
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection %q: %w", x.collection, err)
	}
	return nil
}

// Upsert implements VectorIndex.
func (x *QdrantIndex) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	if len(vector) == 0 {
		return nil
	}
	if x.dimension > 0 && len(vector) != x.dimension {
		return fmt.Errorf("vector dimension mismatch: got %d, collection expects %d", len(vector), x.dimension)
	}

	points := make(map[string]*qdrant.Value, len(payload))
	for key, value := range payload {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("failed to convert payload value for key %s: %w", key, err)
		}
		points[key] = val
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(id),
		Vectors: qdrant.NewVectors(vector...),
		Payload: points,
	}

	_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point %s: %w", id, err)
	}
	return nil
}

// Search implements VectorIndex.
func (x *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]ScoredNode, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	searchRequest := &qdrant.SearchPoints{
		CollectionName: x.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	pointsClient := x.client.GetPointsClient()
	searchResult, err := pointsClient.Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	out := make([]ScoredNode, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		var id string
		if point.Id != nil && point.Id.PointIdOptions != nil {
			switch idType := point.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				id = idType.Uuid
			case *qdrant.PointId_Num:
				id = fmt.Sprintf("%d", idType.Num)
			}
		}

		text := ""
		if point.Payload != nil {
			if value, ok := point.Payload["content"]; ok {
				text = value.GetStringValue()
			}
		}

		out = append(out, ScoredNode{
			NodeID: id,
			Text:   text,
			Score:  utils.Quantize(float64(point.Score)),
		})
	}
	return out, nil
}

// Name implements VectorIndex.
func (x *QdrantIndex) Name() string { return config.VectorQdrant }

// Close closes the underlying gRPC connection.
func (x *QdrantIndex) Close() error {
	return x.client.Close()
}

// Ensure QdrantIndex implements VectorIndex.
var _ VectorIndex = (*QdrantIndex)(nil)

package llms

import "context"

// Adapter is the model capability consumed by the core. Implementations
// wrap provider SDKs or local runtimes and tag failures with the error
// taxonomy: Transient and RateLimited for retriable conditions, ConfigError
// for invalid requests, and StorageError never (that kind belongs to the
// storage layer).
//
// All operations honor context cancellation; a cancelled context returns
// promptly with the context error.
type Adapter interface {
	// Generate performs a completion request.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	// Embed returns a fixed-dimension embedding for text. Adapters without
	// an embedding model return a nil vector and no error; callers treat
	// that as "semantic scoring unavailable".
	Embed(ctx context.Context, text string) ([]float32, error)

	// Entailment scores how strongly evidence supports claim, in [0,1].
	Entailment(ctx context.Context, claim, evidence string) (float64, error)

	// Name identifies the adapter for registry lookup and telemetry.
	Name() string

	// Close releases provider resources.
	Close() error
}

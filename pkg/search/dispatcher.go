package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/autoresearch/autoresearch/pkg/protocol"
)

// BackendResults pairs a backend name with its hits for one fan-out.
type BackendResults struct {
	Backend string
	Results []RawResult
}

// Dispatcher fans a query out to a set of backends concurrently. Each
// backend sits behind its own circuit breaker so a flapping backend stops
// receiving traffic while the others keep serving. Breakers here guard
// process-wide backend health and use wall-clock cooldowns; the per-query
// agent breakers in the runtime are a separate mechanism.
type Dispatcher struct {
	registry *BackendRegistry

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *BackendRegistry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Search queries the named backends concurrently and returns their results
// in the order the names were given, so downstream merging is
// deterministic. Backends that fail or sit behind an open breaker
// contribute an empty slot. When every backend fails the call returns a
// Transient error so the caller surfaces UNAVAILABLE after retries.
func (d *Dispatcher) Search(ctx context.Context, backendNames []string, canonicalQuery string, topK int) ([]BackendResults, error) {
	if len(backendNames) == 0 {
		return nil, nil
	}

	out := make([]BackendResults, len(backendNames))
	var g errgroup.Group

	for i, name := range backendNames {
		backend, err := d.registry.GetBackend(name)
		if err != nil {
			slog.Warn("Skipping unknown search backend", "backend", name)
			out[i] = BackendResults{Backend: name}
			continue
		}

		g.Go(func() error {
			results, err := d.searchOne(ctx, backend, canonicalQuery, topK)
			if err != nil {
				slog.Warn("Search backend failed",
					"backend", backend.Name(),
					"error", err)
				out[i] = BackendResults{Backend: backend.Name()}
				return nil
			}
			out[i] = BackendResults{Backend: backend.Name(), Results: results}
			return nil
		})
	}

	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, protocol.WrapErr(protocol.KindCancelled, "search.dispatch", ctx.Err())
	}

	total := 0
	for _, br := range out {
		total += len(br.Results)
	}
	if total == 0 {
		return out, protocol.New(protocol.KindTransient, "search.dispatch",
			"all search backends failed or returned nothing")
	}
	return out, nil
}

func (d *Dispatcher) searchOne(ctx context.Context, backend Backend, query string, topK int) ([]RawResult, error) {
	cb := d.breakerFor(backend.Name())

	results, err := cb.Execute(func() (interface{}, error) {
		return backend.Search(ctx, query, topK)
	})
	if err != nil {
		return nil, err
	}
	return results.([]RawResult), nil
}

func (d *Dispatcher) breakerFor(name string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, ok := d.breakers[name]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("Search backend breaker transition",
				"backend", name,
				"from", from.String(),
				"to", to.String())
		},
	})
	d.breakers[name] = cb
	return cb
}

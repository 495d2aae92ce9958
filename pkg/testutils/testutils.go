// Package testutils provides shared fixtures for exercising the
// orchestration core in tests: a scripted model adapter, a counting search
// backend, and canned configuration snapshots.
package testutils

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/llms"
	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/search"
	"github.com/autoresearch/autoresearch/pkg/storage"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// TestSnapshot returns a minimal valid configuration for testing.
func TestSnapshot() *config.Snapshot {
	s := &config.Snapshot{
		ReasoningMode: config.ModeDirect,
		Loops:         2,
		Roster:        []string{"synthesizer"},
	}
	s.SetDefaults()
	return s
}

// DialecticalSnapshot returns a three-agent dialectical configuration.
func DialecticalSnapshot() *config.Snapshot {
	s := &config.Snapshot{
		ReasoningMode: config.ModeDialectical,
		Loops:         2,
		Roster:        []string{"synthesizer", "contrarian", "fact_checker"},
	}
	s.SetDefaults()
	return s
}

// NewMemoryCoordinator returns a storage coordinator over the in-memory
// backend with default budget settings.
func NewMemoryCoordinator() *storage.Coordinator {
	cfg := &config.StorageConfig{}
	cfg.SetDefaults()
	return storage.NewCoordinator(cfg, storage.NewMemoryBackend(), nil)
}

// TestContext returns a context with timeout for testing.
func TestContext() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	// The context cancels itself at the timeout; tests are shorter than
	// the window.
	_ = cancel
	return ctx
}

// GenerateCall records one Generate invocation on a ScriptedAdapter.
type GenerateCall struct {
	System string
	Prompt string
	Model  string
}

// ScriptedAdapter implements llms.Adapter with canned behavior: queued
// completion texts, a fixed embedding vector, and per-claim entailment
// scores. Safe for concurrent use.
type ScriptedAdapter struct {
	mu sync.Mutex

	// AdapterName defaults to "scripted".
	AdapterName string

	// Responses are consumed in order by Generate. When the queue is
	// exhausted, DefaultResponse is returned.
	Responses       []string
	DefaultResponse string

	// FailuresRemaining fails that many Generate calls with Err before
	// the script proceeds.
	FailuresRemaining int
	Err               error

	// EmbedVector is returned by Embed. Nil means embeddings
	// unavailable. EmbedFunc overrides it when set.
	EmbedVector []float32
	EmbedFunc   func(text string) []float32

	// EntailmentScores maps claim-text fragments to scores. The longest
	// matching fragment wins; unmatched claims get DefaultEntailment.
	EntailmentScores  map[string]float64
	DefaultEntailment float64

	calls         []GenerateCall
	generateCount int
	next          int
}

// NewScriptedAdapter creates an adapter that always answers with text.
func NewScriptedAdapter(text string) *ScriptedAdapter {
	return &ScriptedAdapter{DefaultResponse: text, DefaultEntailment: 0.9}
}

// Queue appends a response to the script.
func (a *ScriptedAdapter) Queue(texts ...string) *ScriptedAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Responses = append(a.Responses, texts...)
	return a
}

// Generate implements llms.Adapter.
func (a *ScriptedAdapter) Generate(ctx context.Context, req llms.GenerateRequest) (*llms.GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.generateCount++
	a.calls = append(a.calls, GenerateCall{System: req.System, Prompt: req.Prompt, Model: req.Model})

	if a.FailuresRemaining > 0 {
		a.FailuresRemaining--
		return nil, a.Err
	}

	text := a.DefaultResponse
	if a.next < len(a.Responses) {
		text = a.Responses[a.next]
		a.next++
	}

	return &llms.GenerateResult{
		Text:      text,
		TokensIn:  utils.EstimateTokens(req.Prompt),
		TokensOut: utils.EstimateTokens(text),
		LatencyMS: 5,
		ModelUsed: req.Model,
	}, nil
}

// Embed implements llms.Adapter.
func (a *ScriptedAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.EmbedFunc != nil {
		return append([]float32(nil), a.EmbedFunc(text)...), nil
	}
	if a.EmbedVector == nil {
		return nil, nil
	}
	return append([]float32(nil), a.EmbedVector...), nil
}

// Entailment implements llms.Adapter. Fragments match by substring; the
// longest fragment wins so overlapping scripts stay deterministic.
func (a *ScriptedAdapter) Entailment(ctx context.Context, claim, evidence string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.EntailmentScores) > 0 {
		fragments := make([]string, 0, len(a.EntailmentScores))
		for f := range a.EntailmentScores {
			fragments = append(fragments, f)
		}
		sort.Slice(fragments, func(i, j int) bool {
			if len(fragments[i]) != len(fragments[j]) {
				return len(fragments[i]) > len(fragments[j])
			}
			return fragments[i] < fragments[j]
		})
		for _, f := range fragments {
			if strings.Contains(claim, f) {
				return a.EntailmentScores[f], nil
			}
		}
	}
	return a.DefaultEntailment, nil
}

// Name implements llms.Adapter.
func (a *ScriptedAdapter) Name() string {
	if a.AdapterName == "" {
		return "scripted"
	}
	return a.AdapterName
}

// Close implements llms.Adapter.
func (a *ScriptedAdapter) Close() error { return nil }

// GenerateCount returns how many Generate calls were made.
func (a *ScriptedAdapter) GenerateCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generateCount
}

// Calls returns a copy of all recorded Generate calls.
func (a *ScriptedAdapter) Calls() []GenerateCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]GenerateCall(nil), a.calls...)
}

// CountingBackend implements search.Backend with canned results and an
// atomic call counter, for asserting fan-out behavior.
type CountingBackend struct {
	// BackendName defaults to "counting".
	BackendName string

	// Results are returned by every successful Search, capped at topK.
	Results []search.RawResult

	// FailuresRemaining fails the first N Search calls when positive, or
	// every call when negative. Failures return Err, defaulting to a
	// transient error.
	FailuresRemaining int32
	Err               error

	calls atomic.Int64
}

// Name implements search.Backend.
func (b *CountingBackend) Name() string {
	if b.BackendName == "" {
		return "counting"
	}
	return b.BackendName
}

// Search implements search.Backend.
func (b *CountingBackend) Search(ctx context.Context, canonicalQuery string, topK int) ([]search.RawResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.calls.Add(1)

	for {
		n := atomic.LoadInt32(&b.FailuresRemaining)
		if n == 0 {
			break
		}
		if n < 0 {
			return nil, b.failErr()
		}
		if atomic.CompareAndSwapInt32(&b.FailuresRemaining, n, n-1) {
			return nil, b.failErr()
		}
	}

	results := b.Results
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return append([]search.RawResult(nil), results...), nil
}

func (b *CountingBackend) failErr() error {
	if b.Err != nil {
		return b.Err
	}
	return protocol.New(protocol.KindTransient, "search.counting", "scripted failure")
}

// Calls returns how many Search calls were made.
func (b *CountingBackend) Calls() int64 {
	return b.calls.Load()
}

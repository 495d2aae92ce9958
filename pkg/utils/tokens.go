// Package utils provides shared helpers for the research core: token
// counting, text normalization, and JSON extraction from model output.
package utils

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// ============================================================================
// TOKEN COUNTING
// ============================================================================

// TokenCounter handles accurate token counting per model
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

var (
	// Cache encodings to avoid repeated initialization
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for a specific model. Initialization can
// fail when the encoding tables are unavailable (offline environments);
// callers fall back to EstimateTokens in that case.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{
			encoding: cached,
			model:    model,
		}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for models without a dedicated table
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{
		encoding: encoding,
		model:    model,
	}, nil
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}

	tc.mu.RLock()
	defer tc.mu.RUnlock()

	tokens := tc.encoding.Encode(text, nil, nil)
	return len(tokens)
}

// CountPrompt counts tokens across prompt parts, charging a small fixed
// overhead per part for role/priming markers.
func (tc *TokenCounter) CountPrompt(parts ...string) int {
	const tokensPerPart = 3

	total := tokensPerPart // reply priming
	for _, p := range parts {
		total += tokensPerPart
		total += tc.Count(p)
	}
	return total
}

// GetModel returns the model name this counter is configured for
func (tc *TokenCounter) GetModel() string {
	return tc.model
}

// EstimateTokens provides a rough token estimation when no encoding is
// available. Roughly 4 characters per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// GetEncodingForModel returns the appropriate encoding name for a model
func GetEncodingForModel(model string) string {
	encodingMap := map[string]string{
		"gpt-4":         "cl100k_base",
		"gpt-4-turbo":   "cl100k_base",
		"gpt-4o":        "o200k_base",
		"gpt-4o-mini":   "o200k_base",
		"gpt-3.5-turbo": "cl100k_base",
		"claude":        "cl100k_base", // Approximate with OpenAI encoding
		"claude-3":      "cl100k_base",
		"gemini":        "cl100k_base", // Approximate with OpenAI encoding
	}

	if encoding, exists := encodingMap[model]; exists {
		return encoding
	}

	// Prefix match covers versioned model names
	for modelPrefix, encoding := range encodingMap {
		if len(model) >= len(modelPrefix) && model[:len(modelPrefix)] == modelPrefix {
			return encoding
		}
	}

	return "cl100k_base"
}

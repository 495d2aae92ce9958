// Package llms defines the narrow model capability the orchestration core
// consumes. Provider implementations (OpenAI, Anthropic, local runtimes)
// live in orchestrating shells; the core only sees the Adapter interface
// and its request/result types.
package llms

// GenerateRequest is a single completion request.
type GenerateRequest struct {
	// System is the instruction preamble. Optional.
	System string `json:"system,omitempty"`

	// Prompt is the user-visible request text.
	Prompt string `json:"prompt"`

	// Model names the model to use. Filled by the router before each
	// agent execution; adapters may map it onto provider model ids.
	Model string `json:"model"`

	// MaxTokens caps the completion length. 0 uses the adapter default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature tunes sampling. Negative values use the adapter default.
	Temperature float64 `json:"temperature,omitempty"`
}

// GenerateResult is the outcome of one completion request.
type GenerateResult struct {
	Text      string  `json:"text"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	LatencyMS float64 `json:"latency_ms"`

	// ModelUsed is the model that actually served the request, which can
	// differ from the requested one when the provider substitutes.
	ModelUsed string `json:"model_used"`
}

// TotalTokens returns prompt plus completion tokens.
func (r *GenerateResult) TotalTokens() int {
	if r == nil {
		return 0
	}
	return r.TokensIn + r.TokensOut
}

package agents

import (
	"context"
	"strings"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/llms"
	"github.com/autoresearch/autoresearch/pkg/state"
)

// Synthesizer drafts the opening thesis and, on later cycles, reconciles
// the debate into synthesis claims. In direct mode it is the only agent
// that runs.
type Synthesizer struct{}

// NewSynthesizer creates the synthesizer role.
func NewSynthesizer() *Synthesizer { return &Synthesizer{} }

func (a *Synthesizer) Name() string { return string(RoleSynthesizer) }
func (a *Synthesizer) Role() Role   { return RoleSynthesizer }

// Execute drafts or refines the answer. Output that fails payload decoding
// still counts: the raw text becomes the answer with a single claim, so a
// chatty model degrades the structure, not the query.
func (a *Synthesizer) Execute(ctx context.Context, ec *ExecContext) (*state.AgentResult, error) {
	res, err := ec.Adapter.Generate(ctx, llms.GenerateRequest{
		System: a.system(ec.Config.ReasoningMode),
		Prompt: a.prompt(ec),
		Model:  ec.Model,
	})
	if err != nil {
		return nil, err
	}

	payload, err := DecodeAnswer(res.Text)
	if err != nil {
		payload = &AnswerPayload{Answer: strings.TrimSpace(res.Text)}
	}

	def := state.ClaimThesis
	if ec.Cycle > 0 {
		def = state.ClaimSynthesis
	}
	claims := BuildClaims(payload.Claims, def, a.Name(), ec.Cycle)
	if len(claims) == 0 && payload.Answer != "" {
		claims = BuildClaims([]ClaimPayload{{Text: payload.Answer}}, def, a.Name(), ec.Cycle)
	}

	return &state.AgentResult{
		Content:       payload.Answer,
		ClaimsAdded:   claims,
		TokensIn:      res.TokensIn,
		TokensOut:     res.TokensOut,
		ModelSelected: modelUsed(res, ec.Model),
	}, nil
}

func (a *Synthesizer) system(mode string) string {
	switch mode {
	case config.ModeChainOfThought:
		return "You are a careful researcher. Reason step by step through the " +
			"evidence before answering, then state only conclusions you can " +
			"trace to a step. Answer in JSON."
	case config.ModeDirect:
		return "You are a precise research assistant. Answer the question " +
			"directly from what you know and the evidence given. Answer in JSON."
	default:
		return "You are the synthesizer in a dialectical debate. Weigh the " +
			"thesis and antithesis claims, keep what survives scrutiny, and " +
			"state the synthesis. Answer in JSON."
	}
}

func (a *Synthesizer) prompt(ec *ExecContext) string {
	var b strings.Builder
	b.WriteString(debateContext(ec))
	if ec.Cycle == 0 {
		b.WriteString("\nDraft an initial answer with its supporting claims.\n")
	} else {
		b.WriteString("\nReconcile the claims above into a refined answer. Supersede weak claims rather than repeating them.\n")
	}
	b.WriteString("\n")
	b.WriteString(answerShape)
	return b.String()
}

// modelUsed prefers the adapter-reported model, falling back to the
// requested one.
func modelUsed(res *llms.GenerateResult, requested string) string {
	if res.ModelUsed != "" {
		return res.ModelUsed
	}
	return requested
}

package agents

import (
	"context"
	"strings"

	"github.com/autoresearch/autoresearch/pkg/llms"
	"github.com/autoresearch/autoresearch/pkg/state"
)

// Contrarian attacks the standing claims with antithesis claims. With
// nothing on the board yet it challenges the question's own assumptions.
type Contrarian struct{}

// NewContrarian creates the contrarian role.
func NewContrarian() *Contrarian { return &Contrarian{} }

func (a *Contrarian) Name() string { return string(RoleContrarian) }
func (a *Contrarian) Role() Role   { return RoleContrarian }

func (a *Contrarian) Execute(ctx context.Context, ec *ExecContext) (*state.AgentResult, error) {
	res, err := ec.Adapter.Generate(ctx, llms.GenerateRequest{
		System: "You are the contrarian in a dialectical debate. Find the " +
			"strongest objections: missing evidence, overgeneralization, " +
			"contradicting sources. Challenge claims, not phrasing. Answer in JSON.",
		Prompt: a.prompt(ec),
		Model:  ec.Model,
	})
	if err != nil {
		return nil, err
	}

	payload, err := DecodeCritique(res.Text)
	if err != nil {
		payload = &CritiquePayload{Critique: strings.TrimSpace(res.Text)}
	}

	return &state.AgentResult{
		Content:       payload.Critique,
		ClaimsAdded:   BuildClaims(payload.Challenges, state.ClaimAntithesis, a.Name(), ec.Cycle),
		TokensIn:      res.TokensIn,
		TokensOut:     res.TokensOut,
		ModelSelected: modelUsed(res, ec.Model),
	}, nil
}

func (a *Contrarian) prompt(ec *ExecContext) string {
	var b strings.Builder
	b.WriteString(debateContext(ec))
	if len(ec.State.Claims()) == 0 {
		b.WriteString("\nNo claims exist yet. Challenge the assumptions baked into the question itself.\n")
	} else {
		b.WriteString("\nChallenge the claims above. Each challenge must name what it contradicts.\n")
	}
	b.WriteString("\n")
	b.WriteString(critiqueShape)
	return b.String()
}

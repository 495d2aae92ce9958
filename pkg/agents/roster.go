package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/autoresearch/autoresearch/pkg/llms"
	"github.com/autoresearch/autoresearch/pkg/state"
)

// Critic reviews the reasoning quality of standing claims rather than
// hunting counter-evidence. Its challenges land as antithesis claims so
// the synthesizer must address them.
type Critic struct{}

// NewCritic creates the critic role.
func NewCritic() *Critic { return &Critic{} }

func (a *Critic) Name() string { return string(RoleCritic) }
func (a *Critic) Role() Role   { return RoleCritic }

func (a *Critic) Execute(ctx context.Context, ec *ExecContext) (*state.AgentResult, error) {
	res, err := ec.Adapter.Generate(ctx, llms.GenerateRequest{
		System: "You are a critic in a research debate. Judge the reasoning: unstated assumptions, leaps of logic, overgeneralization, missing caveats. Do not introduce new evidence.",
		Prompt: debateContext(ec) + "\nPoint out the weakest steps of reasoning in the claims above. Respond with JSON:\n" + critiqueShape,
		Model:  ec.Model,
	})
	if err != nil {
		return nil, err
	}

	payload, derr := DecodeCritique(res.Text)
	if derr != nil {
		payload = &CritiquePayload{Critique: strings.TrimSpace(res.Text)}
	}

	claims := BuildClaims(payload.Challenges, state.ClaimAntithesis, a.Name(), ec.Cycle)
	return &state.AgentResult{
		Content:       payload.Critique,
		ClaimsAdded:   claims,
		TokensIn:      res.TokensIn,
		TokensOut:     res.TokensOut,
		ModelSelected: modelUsed(res, ec.Model),
	}, nil
}

// Summarizer condenses the debate so far into a short brief. It adds no
// claims; its content keeps later prompts within budget.
type Summarizer struct{}

// NewSummarizer creates the summarizer role.
func NewSummarizer() *Summarizer { return &Summarizer{} }

func (a *Summarizer) Name() string { return string(RoleSummarizer) }
func (a *Summarizer) Role() Role   { return RoleSummarizer }

func (a *Summarizer) Execute(ctx context.Context, ec *ExecContext) (*state.AgentResult, error) {
	res, err := ec.Adapter.Generate(ctx, llms.GenerateRequest{
		System: "You are a summarizer. Condense the debate into a neutral brief of at most five sentences. Preserve points of disagreement.",
		Prompt: debateContext(ec) + "\nSummarize the state of the debate.",
		Model:  ec.Model,
	})
	if err != nil {
		return nil, err
	}
	return &state.AgentResult{
		Content:       strings.TrimSpace(res.Text),
		TokensIn:      res.TokensIn,
		TokensOut:     res.TokensOut,
		ModelSelected: modelUsed(res, ec.Model),
	}, nil
}

// Moderator watches for stagnation. It never calls a model: when the
// newest claim is two or more cycles old the debate has stopped moving
// and the moderator requests an early stop.
type Moderator struct{}

// NewModerator creates the moderator role.
func NewModerator() *Moderator { return &Moderator{} }

const stagnantCycles = 2

func (a *Moderator) Name() string { return string(RoleModerator) }
func (a *Moderator) Role() Role   { return RoleModerator }

func (a *Moderator) Execute(ctx context.Context, ec *ExecContext) (*state.AgentResult, error) {
	claims := ec.State.Claims()
	if len(claims) == 0 {
		return &state.AgentResult{Content: "no claims yet, debate continues"}, nil
	}

	newest := 0
	counts := map[state.ClaimType]int{}
	for _, c := range claims {
		if c.CycleCreated > newest {
			newest = c.CycleCreated
		}
		counts[c.Type]++
	}

	content := fmt.Sprintf("claims: %d thesis, %d antithesis, %d synthesis, %d evidence",
		counts[state.ClaimThesis], counts[state.ClaimAntithesis],
		counts[state.ClaimSynthesis], counts[state.ClaimEvidence])

	if stale := ec.Cycle - newest; stale >= stagnantCycles {
		reason := fmt.Sprintf("no new claims for %d cycles", stale)
		ec.State.RequestStop(reason)
		content += ", stopping: " + reason
	}

	return &state.AgentResult{Content: content, ModelSelected: ec.Model}, nil
}

// DomainSpecialist contributes domain background the generalist roles
// would miss. Its additions land as fact claims.
type DomainSpecialist struct{}

// NewDomainSpecialist creates the domain specialist role.
func NewDomainSpecialist() *DomainSpecialist { return &DomainSpecialist{} }

func (a *DomainSpecialist) Name() string { return string(RoleDomainSpecialist) }
func (a *DomainSpecialist) Role() Role   { return RoleDomainSpecialist }

func (a *DomainSpecialist) Execute(ctx context.Context, ec *ExecContext) (*state.AgentResult, error) {
	res, err := ec.Adapter.Generate(ctx, llms.GenerateRequest{
		System: "You are a domain specialist. Supply established background facts, terminology, and known results relevant to the question. State only what is well established in the field.",
		Prompt: debateContext(ec) + "\nAdd the domain background the debate is missing. Respond with JSON:\n" + answerShape,
		Model:  ec.Model,
	})
	if err != nil {
		return nil, err
	}

	payload, derr := DecodeAnswer(res.Text)
	if derr != nil {
		payload = &AnswerPayload{Answer: strings.TrimSpace(res.Text)}
	}
	claims := BuildClaims(payload.Claims, state.ClaimFact, a.Name(), ec.Cycle)
	if len(claims) == 0 && payload.Answer != "" {
		claims = BuildClaims([]ClaimPayload{{Text: payload.Answer}}, state.ClaimFact, a.Name(), ec.Cycle)
	}

	return &state.AgentResult{
		Content:       payload.Answer,
		ClaimsAdded:   claims,
		TokensIn:      res.TokensIn,
		TokensOut:     res.TokensOut,
		ModelSelected: modelUsed(res, ec.Model),
	}, nil
}

// UserAgent stands in for the person asking. It restates the question's
// implicit constraints so other agents answer what was actually asked.
type UserAgent struct{}

// NewUserAgent creates the user proxy role.
func NewUserAgent() *UserAgent { return &UserAgent{} }

func (a *UserAgent) Name() string { return string(RoleUserAgent) }
func (a *UserAgent) Role() Role   { return RoleUserAgent }

func (a *UserAgent) Execute(ctx context.Context, ec *ExecContext) (*state.AgentResult, error) {
	res, err := ec.Adapter.Generate(ctx, llms.GenerateRequest{
		System: "You speak for the user. List the constraints, scope, and success criteria implied by the question. Do not answer it.",
		Prompt: "Question: " + ec.State.Query() + "\nWhat would a complete answer have to cover?",
		Model:  ec.Model,
	})
	if err != nil {
		return nil, err
	}

	constraints := strings.TrimSpace(res.Text)
	ec.State.SetMeta("user_constraints", constraints)

	return &state.AgentResult{
		Content:       constraints,
		TokensIn:      res.TokensIn,
		TokensOut:     res.TokensOut,
		ModelSelected: modelUsed(res, ec.Model),
	}, nil
}

package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/state"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// FactChecker verifies standing debate claims against retrieval. Each
// checked claim gets fresh evidence and an entailment score; weakly
// supported claims are called out so later cycles (and the auditor) know
// where the debate is soft.
type FactChecker struct{}

// NewFactChecker creates the fact checker role.
func NewFactChecker() *FactChecker { return &FactChecker{} }

const (
	// maxCheckedClaims bounds verification work per cycle.
	maxCheckedClaims = 3
	checkTopK        = 3
	weakSupport      = 0.3
)

func (a *FactChecker) Name() string { return string(RoleFactChecker) }
func (a *FactChecker) Role() Role   { return RoleFactChecker }

func (a *FactChecker) Execute(ctx context.Context, ec *ExecContext) (*state.AgentResult, error) {
	claims := a.checkable(ec.State)
	if len(claims) == 0 {
		return &state.AgentResult{Content: "no unverified claims to check"}, nil
	}

	var (
		evidence []state.Claim
		sources  []state.Source
		weak     []string
		checked  int
	)

	for _, claim := range claims {
		if ec.Retrieval == nil {
			break
		}
		lookup, err := ec.Retrieval.Lookup(ctx, claim.Text, checkTopK)
		if err != nil {
			if protocol.KindOf(err) == protocol.KindCancelled {
				return nil, err
			}
			// Degraded retrieval: the claim stays unverified this cycle.
			continue
		}
		checked++

		best := -1.0
		bestDoc := -1
		for i, doc := range lookup.Documents {
			if doc.Snippet == "" {
				continue
			}
			score, err := ec.Adapter.Entailment(ctx, claim.Text, doc.Snippet)
			if err != nil {
				return nil, err
			}
			if score = utils.Quantize(score); score > best {
				best, bestDoc = score, i
			}
			sources = append(sources, doc.ToSource())
		}

		switch {
		case bestDoc < 0 || best < weakSupport:
			weak = append(weak, claim.Text)
		default:
			doc := lookup.Documents[bestDoc]
			evidence = append(evidence, BuildClaims([]ClaimPayload{{
				Text:    doc.Snippet,
				Type:    string(state.ClaimEvidence),
				Sources: []string{doc.CanonicalURL},
			}}, state.ClaimEvidence, a.Name(), ec.Cycle)...)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "checked %d claims, %d weakly supported", checked, len(weak))
	for _, w := range weak {
		fmt.Fprintf(&b, "\n- weak: %s", w)
	}

	return &state.AgentResult{
		Content:       b.String(),
		ClaimsAdded:   evidence,
		SourcesAdded:  sources,
		ModelSelected: ec.Model,
	}, nil
}

// checkable returns the newest debate claims without an audit record,
// oldest first within the cap. Evidence and fact claims are the checker's
// own output and are skipped.
func (a *FactChecker) checkable(s *state.QueryState) []state.Claim {
	all := s.Claims()
	var out []state.Claim
	for i := len(all) - 1; i >= 0 && len(out) < maxCheckedClaims; i-- {
		c := all[i]
		if c.Audit != nil {
			continue
		}
		switch c.Type {
		case state.ClaimThesis, state.ClaimAntithesis, state.ClaimSynthesis:
			out = append(out, c)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

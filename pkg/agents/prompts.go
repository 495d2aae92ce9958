package agents

import (
	"fmt"
	"strings"

	"github.com/autoresearch/autoresearch/pkg/state"
)

// Digest caps keep prompts bounded on long debates.
const (
	maxDigestClaims  = 12
	maxDigestSources = 6
)

// claimDigest renders the newest claims for prompt context, oldest first
// within the window.
func claimDigest(s *state.QueryState) string {
	claims := s.Claims()
	if len(claims) == 0 {
		return ""
	}
	if len(claims) > maxDigestClaims {
		claims = claims[len(claims)-maxDigestClaims:]
	}

	var b strings.Builder
	for _, c := range claims {
		fmt.Fprintf(&b, "- [%s, by %s, cycle %d] %s\n", c.Type, c.CreatedByAgent, c.CycleCreated, c.Text)
	}
	return b.String()
}

// sourceDigest renders the newest sources for prompt context.
func sourceDigest(s *state.QueryState) string {
	sources := s.Sources()
	if len(sources) == 0 {
		return ""
	}
	if len(sources) > maxDigestSources {
		sources = sources[len(sources)-maxDigestSources:]
	}

	var b strings.Builder
	for _, src := range sources {
		line := src.Title
		if line == "" {
			line = src.URL
		}
		snippet := src.Snippet
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		fmt.Fprintf(&b, "- %s: %s\n", line, snippet)
	}
	return b.String()
}

// debateContext assembles the shared prompt middle: question, claims so
// far, and evidence sources.
func debateContext(ec *ExecContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", ec.State.Query())
	if digest := claimDigest(ec.State); digest != "" {
		b.WriteString("\nClaims so far:\n")
		b.WriteString(digest)
	}
	if digest := sourceDigest(ec.State); digest != "" {
		b.WriteString("\nEvidence:\n")
		b.WriteString(digest)
	}
	return b.String()
}

const answerShape = `Respond with a single JSON object:
{"answer": "<the answer text>", "claims": [{"text": "<one checkable assertion>", "type": "<thesis|antithesis|synthesis|evidence|fact>", "sources": ["<url>"]}]}`

const critiqueShape = `Respond with a single JSON object:
{"critique": "<what is weak or wrong>", "challenges": [{"text": "<one counter-assertion>", "type": "antithesis", "sources": ["<url>"]}]}`

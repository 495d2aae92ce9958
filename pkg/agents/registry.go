package agents

import (
	"fmt"
	"strings"

	"github.com/autoresearch/autoresearch/pkg/protocol"
	"github.com/autoresearch/autoresearch/pkg/registry"
)

// Registry holds the agents available for roster assembly.
type Registry struct {
	*registry.BaseRegistry[Agent]
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Agent]()}
}

// NewDefaultRegistry registers every built-in role under its role name.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range []Agent{
		NewSynthesizer(),
		NewContrarian(),
		NewFactChecker(),
		NewResearcher(),
		NewCritic(),
		NewSummarizer(),
		NewPlannerAgent(),
		NewModerator(),
		NewDomainSpecialist(),
		NewUserAgent(),
	} {
		// Names are unique by construction here.
		_ = r.Register(a.Name(), a)
	}
	return r
}

// FromRoster resolves configured roster names to agents, preserving
// roster order. Unknown names are a configuration error naming every
// missing agent.
func (r *Registry) FromRoster(roster []string) ([]Agent, error) {
	out := make([]Agent, 0, len(roster))
	var missing []string
	for _, name := range roster {
		a, ok := r.Get(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		out = append(out, a)
	}
	if len(missing) > 0 {
		return nil, protocol.New(protocol.KindConfig, "agents.roster",
			fmt.Sprintf("unknown agents in roster: %s (registered: %s)",
				strings.Join(missing, ", "), strings.Join(r.Names(), ", ")))
	}
	return out, nil
}

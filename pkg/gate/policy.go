package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/autoresearch/autoresearch/pkg/config"
	"github.com/autoresearch/autoresearch/pkg/observability"
)

// Gate actions.
const (
	ActionExit   = "exit"
	ActionDebate = "debate"
)

// Thresholds snapshots the configuration the decision was made under, so
// a recorded decision stays interpretable after config changes.
type Thresholds struct {
	Overlap     float64 `json:"overlap"`
	Conflict    float64 `json:"conflict"`
	ForceDebate bool    `json:"force_debate,omitempty"`
	ForceDirect bool    `json:"force_direct,omitempty"`
}

// Decision is the gate verdict for one query.
type Decision struct {
	Action     string     `json:"action"`
	MaxCycles  int        `json:"max_cycles"`
	Rationale  string     `json:"rationale"`
	Signals    Signals    `json:"signals"`
	Thresholds Thresholds `json:"thresholds"`
}

// Exit reports whether the decision skips the debate.
func (d Decision) Exit() bool { return d.Action == ActionExit }

// Evaluate applies the gate policy to scout signals. Exit requires every
// signal inside its threshold; user overrides beat the heuristics. loops
// is the configured debate cycle cap used on escalation.
func Evaluate(ctx context.Context, cfg config.GateConfig, loops int, res *Result) Decision {
	cfg.SetDefaults()
	sig := res.Signals
	d := Decision{
		Signals: sig,
		Thresholds: Thresholds{
			Overlap:     cfg.OverlapThreshold,
			Conflict:    cfg.ConflictThreshold,
			ForceDebate: cfg.ForceDebate,
			ForceDirect: cfg.ForceDirect,
		},
	}

	switch {
	case cfg.ForceDirect:
		d.Action, d.Rationale = ActionExit, "force_direct override"
	case cfg.ForceDebate:
		d.Action, d.Rationale = ActionDebate, "force_debate override"
	default:
		var failing []string
		if sig.RetrievalOverlap < cfg.OverlapThreshold {
			failing = append(failing, fmt.Sprintf("overlap %.2f < %.2f", sig.RetrievalOverlap, cfg.OverlapThreshold))
		}
		if sig.ClaimConflict > cfg.ConflictThreshold {
			failing = append(failing, fmt.Sprintf("conflict %.2f > %.2f", sig.ClaimConflict, cfg.ConflictThreshold))
		}
		if sig.MultiHopRequired {
			failing = append(failing, "multi_hop_required")
		}
		if sig.GraphContradiction {
			failing = append(failing, "graph_contradiction")
		}
		if len(failing) == 0 {
			d.Action = ActionExit
			d.Rationale = "all signals within thresholds"
		} else {
			d.Action = ActionDebate
			d.Rationale = "signals outside thresholds: " + strings.Join(failing, ", ")
		}
	}

	if d.Action == ActionDebate {
		d.MaxCycles = loops
	}

	observability.RecordGateDecision(ctx, d.Action)
	slog.Debug("Gate decision",
		"action", d.Action,
		"rationale", d.Rationale,
		"overlap", sig.RetrievalOverlap,
		"conflict", sig.ClaimConflict)
	return d
}

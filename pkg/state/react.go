package state

// ReActStep records one scheduled task execution: the reasoning, the chosen
// action, and the scheduler context that led to it. The react log is
// append-only.
type ReActStep struct {
	TaskID  string `json:"task_id"`
	Cycle   int    `json:"cycle"`
	Thought string `json:"thought"`
	Action  string `json:"action"`
	Tool    string `json:"tool,omitempty"`

	// AffinityDelta is the margin between the chosen tool's affinity and
	// the runner-up, recording how decisive the selection was.
	AffinityDelta float64 `json:"affinity_delta"`

	// Metadata carries scheduler context: scheduler.candidates (ready ids
	// at selection time) and unlock_events (ids unblocked by completion).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clone deep-copies the step.
func (s ReActStep) Clone() ReActStep {
	out := s
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = cloneValue(v)
		}
	}
	return out
}

// cloneValue deep-copies the JSON-shaped values stored in metadata maps.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}

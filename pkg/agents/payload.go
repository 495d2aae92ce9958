package agents

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/autoresearch/autoresearch/pkg/state"
	"github.com/autoresearch/autoresearch/pkg/utils"
)

// ClaimPayload is the closed claim shape agents ask the model for.
type ClaimPayload struct {
	Text    string   `mapstructure:"text"`
	Type    string   `mapstructure:"type"`
	Sources []string `mapstructure:"sources"`

	// Metadata catches fields outside the closed shape, keeping model
	// improvisation instead of dropping it.
	Metadata map[string]any `mapstructure:",remain"`
}

// AnswerPayload is the synthesizer response shape.
type AnswerPayload struct {
	Answer   string         `mapstructure:"answer"`
	Claims   []ClaimPayload `mapstructure:"claims"`
	Metadata map[string]any `mapstructure:",remain"`
}

// CritiquePayload is the contrarian and critic response shape.
type CritiquePayload struct {
	Critique   string         `mapstructure:"critique"`
	Challenges []ClaimPayload `mapstructure:"challenges"`
	Metadata   map[string]any `mapstructure:",remain"`
}

// DecodeAnswer parses an answer payload out of model text.
func DecodeAnswer(text string) (*AnswerPayload, error) {
	var out AnswerPayload
	if err := decodePayload(text, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeCritique parses a critique payload out of model text.
func DecodeCritique(text string) (*CritiquePayload, error) {
	var out CritiquePayload
	if err := decodePayload(text, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// decodePayload extracts the first JSON object from text and decodes it
// into a closed payload shape, weakly typed so near-miss model output
// (numbers as strings, a single value where a list belongs) still lands.
func decodePayload(text string, out any) error {
	block, err := utils.ExtractJSONBlock(text)
	if err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// BuildClaims converts payload claims into state claims, assigning ids and
// provenance. Empty texts are skipped; unknown types fall back to def.
func BuildClaims(payload []ClaimPayload, def state.ClaimType, agent string, cycle int) []state.Claim {
	claims := make([]state.Claim, 0, len(payload))
	for _, p := range payload {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		ct := state.ClaimType(strings.ToLower(strings.TrimSpace(p.Type)))
		if !state.ValidClaimType(ct) {
			ct = def
		}
		claims = append(claims, state.Claim{
			ID:             uuid.New().String(),
			Text:           text,
			Type:           ct,
			CreatedByAgent: agent,
			CycleCreated:   cycle,
			CreatedAt:      time.Now().UTC(),
			Sources:        append([]string(nil), p.Sources...),
		})
	}
	return claims
}

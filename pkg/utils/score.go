package utils

import "math"

// ScoreGrid is the quantization step applied to ranking and entailment
// scores before any comparison, so float jitter cannot reorder results.
const ScoreGrid = 1e-6

// Quantize snaps f to the score grid.
func Quantize(f float64) float64 {
	return math.Round(f/ScoreGrid) * ScoreGrid
}

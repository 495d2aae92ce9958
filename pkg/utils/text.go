package utils

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// NormalizeSpace trims s and collapses internal whitespace runs to single
// spaces. The original text is preserved by callers for display and prompts.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FoldText normalizes whitespace and case-folds. Used for cache keys and
// claim de-duplication, never for rendering.
func FoldText(s string) string {
	return strings.ToLower(NormalizeSpace(s))
}

// Tokenize splits s into lowercase word tokens, dropping punctuation-only
// and single-character fragments.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r > 127)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Checksum64 returns a stable fnv64a checksum of s in base36, used for
// source fingerprints and content de-duplication.
func Checksum64(s string) string {
	h := fnv.New64a()
	h.Write([]byte(s))
	return strconv.FormatUint(h.Sum64(), 36)
}

// negationTokens flip the polarity of a statement when present.
var negationTokens = map[string]bool{
	"not":     true,
	"no":      true,
	"never":   true,
	"none":    true,
	"cannot":  true,
	"false":   true,
	"without": true,
}

// Negated reports whether s contains an explicit negation token.
func Negated(s string) bool {
	for _, t := range Tokenize(s) {
		if negationTokens[t] {
			return true
		}
	}
	return false
}

// TokenOverlap returns the fraction of a's tokens that also occur in b.
// Returns 0 when a has no tokens.
func TokenOverlap(a, b string) float64 {
	at := Tokenize(a)
	if len(at) == 0 {
		return 0
	}
	bt := make(map[string]bool, len(at))
	for _, t := range Tokenize(b) {
		bt[t] = true
	}
	hits := 0
	for _, t := range at {
		if bt[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(at))
}

// TextConflict reports whether two statements look contradictory: they talk
// about mostly the same tokens but disagree on negation. The 0.5 overlap
// bar keeps unrelated statements from registering as conflicts.
func TextConflict(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	overlap := TokenOverlap(a, b)
	if o := TokenOverlap(b, a); o > overlap {
		overlap = o
	}
	return overlap >= 0.5 && Negated(a) != Negated(b)
}

// TruncateRunes shortens s to at most n runes, appending an ellipsis when
// truncation happened.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

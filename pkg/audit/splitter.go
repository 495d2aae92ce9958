// Package audit verifies the candidate answer claim by claim: a
// deterministic splitter cuts the answer into sentence segments, each
// segment is scored for entailment against retrieved evidence, and
// unsupported segments are hedged without touching supported text.
package audit

import (
	"strings"
	"unicode"
)

// Segment is one audited span of the answer. Raw holds the exact bytes
// including surrounding whitespace; concatenating Raw over all segments
// reproduces the input, which is what keeps supported text byte-identical
// after hedging. Text is the trimmed form used for scoring.
type Segment struct {
	Text string
	Raw  string
}

// abbreviations that end in a period mid-sentence.
var abbreviations = map[string]bool{
	"vs": true, "cf": true, "etc": true, "fig": true,
	"dr": true, "mr": true, "mrs": true, "ms": true, "prof": true,
}

// SplitSegments cuts answer into sentence segments. A sentence ends at
// '.', '!' or '?' (closing quotes and brackets absorbed) followed by
// whitespace and an uppercase letter, digit or opening quote, or by end
// of input. Dotted numbers and single-letter initials do not end a
// sentence.
func SplitSegments(answer string) []Segment {
	if answer == "" {
		return nil
	}

	runes := []rune(answer)
	var segs []Segment
	start := 0

	for i := 0; i < len(runes); {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			i++
			continue
		}

		j := i + 1
		for j < len(runes) && isCloser(runes[j]) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			i = j
			continue
		}
		if r == '.' && !dotEndsSentence(runes, start, i, j) {
			i = j
			continue
		}

		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		segs = append(segs, newSegment(string(runes[start:j])))
		start, i = j, j
	}

	if start < len(runes) {
		segs = append(segs, newSegment(string(runes[start:])))
	}
	return segs
}

func newSegment(raw string) Segment {
	return Segment{Text: strings.TrimSpace(raw), Raw: raw}
}

func isCloser(r rune) bool {
	switch r {
	case ')', ']', '"', '\'', '”', '’':
		return true
	}
	return false
}

// dotEndsSentence filters out initials, abbreviations, and periods not
// followed by a sentence opener. i is the period, j the first rune past
// any closers.
func dotEndsSentence(runes []rune, start, i, j int) bool {
	// Word immediately before the period.
	w := i
	for w > start && (unicode.IsLetter(runes[w-1]) || unicode.IsDigit(runes[w-1])) {
		w--
	}
	word := strings.ToLower(string(runes[w:i]))
	if len(word) == 1 && word[0] >= 'a' && word[0] <= 'z' {
		return false
	}
	if abbreviations[word] {
		return false
	}

	// End of input always closes the sentence.
	k := j
	for k < len(runes) && unicode.IsSpace(runes[k]) {
		k++
	}
	if k >= len(runes) {
		return true
	}
	next := runes[k]
	return unicode.IsUpper(next) || unicode.IsDigit(next) || next == '"' || next == '“' || next == '('
}

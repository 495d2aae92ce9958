package utils

import (
	"fmt"
	"strings"
)

// ExtractJSONBlock returns the first balanced JSON object embedded in s.
// Model output commonly wraps JSON in prose or markdown fences; this scans
// for the first '{' and tracks nesting, honoring string literals and
// escape sequences.
func ExtractJSONBlock(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found")
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("unterminated JSON object")
}

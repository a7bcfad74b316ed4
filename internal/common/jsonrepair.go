package common

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	codeFence     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls a JSON document out of model output. Models wrap JSON in
// prose and code fences and occasionally leave trailing commas or an
// unterminated tail; this recovers the common cases before giving up.
func ExtractJSON(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)

	if m := codeFence.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	// Cut leading prose up to the first brace or bracket.
	start := strings.IndexAny(candidate, "{[")
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in output")
	}
	candidate = candidate[start:]

	// Trim trailing prose after the matching close.
	if end := matchingClose(candidate); end > 0 {
		candidate = candidate[:end]
	}

	if json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	repaired := trailingComma.ReplaceAllString(candidate, "$1")
	if json.Valid([]byte(repaired)) {
		return repaired, nil
	}

	// Close unterminated structures from a truncated response.
	repaired = closeOpenStructures(repaired)
	if json.Valid([]byte(repaired)) {
		return repaired, nil
	}
	return "", fmt.Errorf("output is not valid JSON after repair")
}

// matchingClose returns the index one past the close matching the first
// open, honoring strings and escapes. Zero when unbalanced.
func matchingClose(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
				if depth == 0 {
					return i + 1
				}
			}
		}
	}
	return 0
}

// closeOpenStructures appends the closers a truncated document is missing,
// dropping a trailing dangling token first.
func closeOpenStructures(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				stack = append(stack, '}')
			}
		case '[':
			if !inString {
				stack = append(stack, ']')
			}
		case '}', ']':
			if !inString && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		s += `"`
	}
	s = strings.TrimRight(s, " \t\n\r")
	s = strings.TrimRight(s, ",")
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

// DecodeJSONMap extracts and decodes a JSON object from model output.
func DecodeJSONMap(raw string) (map[string]interface{}, error) {
	extracted, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(extracted), &result); err != nil {
		return nil, fmt.Errorf("failed to decode JSON object: %w", err)
	}
	return result, nil
}

package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
	bareKey       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// CleanJSONResponse removes markdown code fences and surrounding prose from a
// model response and repairs the most common JSON defects.
func CleanJSONResponse(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```") && strings.HasSuffix(response, "```") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	}

	return extractJSON(response)
}

// ParseJSONResponse cleans a potentially messy model response and decodes it
// into target. Decoding failures wrap ErrMalformedOutput.
func ParseJSONResponse(response string, target interface{}) error {
	cleaned := CleanJSONResponse(response)
	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

func extractJSON(response string) string {
	if isValidJSON(response) {
		return response
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return response
	}

	// Find the matching closing brace, ignoring braces inside strings.
	depth := 0
	inString := false
	escaped := false
	end := 0
	for i := start; i < len(response) && end == 0; i++ {
		c := response[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				end = i + 1
			}
		}
	}

	if end == 0 {
		return response
	}

	candidate := response[start:end]
	if isValidJSON(candidate) {
		return candidate
	}

	candidate = trailingComma.ReplaceAllString(candidate, "$1")
	candidate = bareKey.ReplaceAllString(candidate, `$1"$2":`)
	if isValidJSON(candidate) {
		return candidate
	}

	return response
}

func isValidJSON(str string) bool {
	var js interface{}
	return json.Unmarshal([]byte(str), &js) == nil
}

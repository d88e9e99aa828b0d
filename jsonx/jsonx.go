// Package jsonx extracts JSON objects from model output that may wrap them
// in markdown fences, prefix text, or trailing commentary.
//
// All model-response parsing in this codebase goes through ExtractObject so
// tolerance rules live in exactly one place.
package jsonx

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoObject is returned when no balanced JSON object can be located.
var ErrNoObject = errors.New("no JSON object found in text")

// ExtractObject locates the first balanced JSON object in text and decodes
// it into dst.
//
// Tolerated wrappings:
//   - ```json ... ``` and bare ``` fences
//   - leading prose before the first '{' (e.g. "ECharts Configuration: {...}")
//   - trailing prose after the matching '}'
func ExtractObject(text string, dst any) error {
	raw, err := FirstObject(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), dst)
}

// FirstObject returns the first balanced JSON object in text as a string.
// Braces inside JSON string literals are ignored while scanning.
func FirstObject(text string) (string, error) {
	text = StripFences(text)

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", ErrNoObject
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if !json.Valid([]byte(candidate)) {
					return "", ErrNoObject
				}
				return candidate, nil
			}
		}
	}
	return "", ErrNoObject
}

// StripFences removes markdown code fences and surrounding whitespace.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	// Fences may also appear mid-text around the object.
	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	return text
}

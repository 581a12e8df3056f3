// Package jsonutil extracts and decodes JSON from model responses, which may
// arrive wrapped in markdown fences or surrounded by prose even when a
// response schema was requested.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a response holds no object or array.
var ErrNoJSON = errors.New("no JSON content found")

// StripMarkdownFences removes a ```json ... ``` (or bare ```) wrapper.
// Text without an opening fence is returned trimmed.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	_, rest, ok := strings.Cut(text, "\n")
	if !ok {
		return text
	}
	if i := strings.LastIndex(rest, "```"); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

// ExtractJSON returns the first complete JSON object or array in text. Brackets
// inside string literals are ignored, so trailing prose that happens to contain
// a brace does not extend the match.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON starting at offset %d", start)
}

// ParseJSON strips fences, extracts the JSON value, and decodes it into T.
// Numbers are decoded as json.Number when T holds interface values.
func ParseJSON[T any](raw string) (T, error) {
	var zero T
	jsonStr, err := ExtractJSON(StripMarkdownFences(raw))
	if err != nil {
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(jsonStr)))
	dec.UseNumber()
	var result T
	if err := dec.Decode(&result); err != nil {
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, Preview(jsonStr, 200))
	}
	return result, nil
}

// Preview truncates s to n bytes for log and error messages.
func Preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

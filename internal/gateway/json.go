package gateway

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON locates a JSON object inside generated text: a fenced
// ```json block wins, otherwise the span from the first '{' to the last
// '}'. Returns false when no parseable object is found.
func ExtractJSON(text string) (json.RawMessage, bool) {
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if json.Valid([]byte(m[1])) {
			return json.RawMessage(m[1]), true
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	candidate := []byte(text[start : end+1])
	if !json.Valid(candidate) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}

// DecodeJSON extracts a JSON object from text and unmarshals it into v.
func DecodeJSON(text string, v any) bool {
	raw, ok := ExtractJSON(text)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

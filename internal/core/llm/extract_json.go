package llm

import (
	"encoding/json"
	"strings"
)

// extractJSON salvages a JSON payload from a response that may carry
// markdown fences or prose around it. The earliest valid object or array
// wins; when nothing valid is found the text is returned unchanged so the
// caller's unmarshal error carries the original content.
func extractJSON(text string) string {
	best := ""
	bestStart := len(text)

	for _, pair := range [][2]byte{{'[', ']'}, {'{', '}'}} {
		start := strings.IndexByte(text, pair[0])
		end := strings.LastIndexByte(text, pair[1])

		if start == -1 || end <= start {
			continue
		}

		candidate := text[start : end+1]
		if !json.Valid([]byte(candidate)) {
			continue
		}

		if start < bestStart {
			best = candidate
			bestStart = start
		}
	}

	if best == "" {
		return text
	}

	return best
}

package jsonutils

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	reFence         = regexp.MustCompile("(?s)```(?:json)?(.*?)```")
	reObj           = regexp.MustCompile(`(?s)\{.*\}`)
	reArr           = regexp.MustCompile(`(?s)\[.*\]`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ExtractJSON tries to extract a JSON object from LLM output.
//
// Priority:
// 1. Triple-backtick fenced ```json ... ```
// 2. Any {...} JSON object
func ExtractJSON(input string) string {
	return extract(input, reObj)
}

// ExtractJSONArray is ExtractJSON for a top-level [...] array.
func ExtractJSONArray(input string) string {
	return extract(input, reArr)
}

// ParseStringArray extracts and decodes a JSON array of strings from model output.
// An object wrapping the array under "messages", "replies" or "response" is accepted too.
func ParseStringArray(input string) ([]string, bool) {
	if raw := ExtractJSON(input); strings.HasPrefix(raw, "{") {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &wrapped); err == nil {
			for _, key := range []string{"messages", "replies", "response"} {
				var out []string
				if v, ok := wrapped[key]; ok && json.Unmarshal(v, &out) == nil {
					return out, true
				}
			}
		}
	}

	raw := ExtractJSONArray(input)
	if !strings.HasPrefix(raw, "[") {
		return nil, false
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	return out, true
}

func extract(input string, block *regexp.Regexp) string {
	// Remove BOMs and invisible control characters
	input = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\uFEFF' || r == '\u200B' || r == '\u200C' || r == '\u200D' {
			return -1 // skip
		}
		return r
	}, input))

	if match := reFence.FindStringSubmatch(input); len(match) > 1 {
		input = strings.TrimSpace(match[1])
	} else if match := block.FindString(input); match != "" {
		input = strings.TrimSpace(match)
	}

	// Remove any trailing commas before closing braces/brackets
	input = reTrailingComma.ReplaceAllString(input, "$1")

	return strings.TrimSpace(input)
}

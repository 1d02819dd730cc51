// Package extract recovers structured tool invocations from model output.
//
// Models that ignore the native tool_calls field often emit the invocation as
// JSON inside the free-text content instead, either fenced in a markdown code
// block or inline. The extractor finds those candidates and normalizes them
// into the same shape as native calls. Its failure mode is always "find
// nothing": malformed JSON is skipped, never surfaced as an error.
package extract

import (
	"encoding/json"
	"regexp"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/toolgate/internal/chat"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ToolCalls returns the ordered tool invocations carried by an assistant
// message. Natively structured calls are trusted verbatim and always win;
// text-derived candidates with a name already present are discarded.
func ToolCalls(msg chat.Message) []chat.ToolCall {
	detected := make([]chat.ToolCall, 0, len(msg.ToolCalls))
	detected = append(detected, msg.ToolCalls...)

	if msg.Content == "" {
		return detected
	}

	for _, candidate := range scanJSON(msg.Content) {
		call, ok := parseCandidate(candidate)
		if !ok {
			continue
		}
		if hasName(detected, call.Function.Name) {
			continue
		}
		call.Index = len(detected)
		detected = append(detected, call)
	}

	return detected
}

// scanJSON finds JSON object candidates in free text: fenced code blocks
// first, then a brace-depth-matched scan from the first "{". The depth scan
// returns the fully matched outer object, never a prefix truncated at an
// inner "}".
func scanJSON(content string) []string {
	matches := fencedJSONRe.FindAllStringSubmatch(content, -1)
	if len(matches) > 0 {
		out := make([]string, 0, len(matches))
		for _, m := range matches {
			out = append(out, m[1])
		}
		return out
	}

	if obj, ok := matchBraces(content); ok {
		return []string{obj}
	}
	return nil
}

// matchBraces scans from the first "{" tracking nesting depth and string
// literals, and returns the substring up to the matching "}".
func matchBraces(content string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(content); i++ {
		c := content[i]
		if start == -1 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}
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
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return content[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// parseCandidate accepts a JSON object as a tool call only if it has a name
// and an arguments (or args) field. Object arguments are re-serialized to the
// canonical string form; string arguments are used as-is.
func parseCandidate(raw string) (chat.ToolCall, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return chat.ToolCall{}, false
	}

	var name string
	if rawName, ok := obj["name"]; !ok || json.Unmarshal(rawName, &name) != nil || name == "" {
		return chat.ToolCall{}, false
	}

	rawArgs, ok := obj["arguments"]
	if !ok {
		rawArgs, ok = obj["args"]
	}
	if !ok {
		return chat.ToolCall{}, false
	}

	args, ok := normalizeArguments(rawArgs)
	if !ok {
		return chat.ToolCall{}, false
	}

	return chat.ToolCall{
		ID:   "call_" + uuid.NewString()[:8],
		Type: "function",
		Function: chat.ToolFunction{
			Name:      name,
			Arguments: args,
		},
	}, true
}

func normalizeArguments(raw json.RawMessage) (string, bool) {
	// String arguments pass through untouched.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}

	// Object arguments are re-serialized so downstream always sees the
	// canonical map form.
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", false
	}
	canonical, err := json.Marshal(m)
	if err != nil {
		return "", false
	}
	return string(canonical), true
}

func hasName(calls []chat.ToolCall, name string) bool {
	for _, c := range calls {
		if c.Function.Name == name {
			return true
		}
	}
	return false
}

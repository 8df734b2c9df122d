package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON means no JSON value could be recovered from the text.
var ErrNoJSON = errors.New("no json found in model output")

var quoteFixer = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
)

// RecoverJSON decodes model output that may be fenced, smart-quoted or padded with prose.
// It tries the whole text, then the first balanced {...} or [...] span, first as written and
// then with typographic quotes normalized, and finally every line that holds a standalone
// object, returned as a list.
func RecoverJSON(raw string) (any, error) {
	s := StripFences(raw)
	if s == "" {
		return nil, ErrEmptyResponse
	}
	if v, ok := decodeWholeOrSpan(s); ok {
		return v, nil
	}

	s = quoteFixer.Replace(s)
	if v, ok := decodeWholeOrSpan(s); ok {
		return v, nil
	}

	var objs []any
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSuffix(strings.TrimSpace(ln), ",")
		if !strings.HasPrefix(ln, "{") || !strings.HasSuffix(ln, "}") {
			continue
		}
		var o map[string]any
		if err := json.Unmarshal([]byte(ln), &o); err == nil {
			objs = append(objs, o)
		}
	}
	if len(objs) > 0 {
		return objs, nil
	}
	return nil, ErrNoJSON
}

func decodeWholeOrSpan(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, true
	}
	if span, ok := firstBalanced(s); ok {
		if err := json.Unmarshal([]byte(span), &v); err == nil {
			return v, true
		}
	}
	return nil, false
}

// StripFences removes a surrounding markdown code fence and its language tag.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		}
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// firstBalanced returns the first bracket-balanced span, skipping brackets inside strings.
func firstBalanced(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		ch := s[i]
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

package llmguard

import (
	"encoding/json"
	"strings"
)

// repairJSON attempts a best-effort recovery of a malformed or truncated
// JSON document, as produced by completion upstreams that wrap payloads in
// Markdown fences, prepend prose, or cut off mid-token. Heuristics applied:
//
//   - strip ``` / ```json fences
//   - trim prose before the first '{' or '[' and after the value closes
//   - close an unterminated string (dropping a dangling escape)
//   - trim trailing incomplete tokens back to the last structural character,
//     re-validating after each cut
//   - drop trailing commas and balance unclosed brackets
//
// Recovery is not guaranteed; the boolean reports whether the result passes
// json.Valid.
func repairJSON(raw []byte) ([]byte, bool) {
	if json.Valid(raw) {
		return raw, true
	}

	s := stripFences(string(raw))
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return nil, false
	}
	s = s[start:]

	end, stack, inString, _ := scanJSON(s)
	if len(stack) == 0 && !inString {
		// Value closed before EOF; anything after it is trailing prose.
		candidate := strings.TrimSpace(s[:end])
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), true
		}
	}

	for i := 0; i < 64; i++ {
		candidate := closeTruncated(s)
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), true
		}

		cut := lastStructural(s)
		if cut <= 0 {
			return nil, false
		}
		if cut >= len(s) {
			cut = len(s) - 1
			if cut <= 0 {
				return nil, false
			}
		}
		s = s[:cut]
	}

	return nil, false
}

// stripFences removes a surrounding Markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		return ""
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// closeTruncated terminates a dangling string, drops a trailing comma and
// appends the closers for every unbalanced bracket.
func closeTruncated(s string) string {
	t := strings.TrimRight(s, " \t\r\n")

	_, stack, inString, escaped := scanJSON(t)
	if inString {
		if escaped {
			t = t[:len(t)-1]
		}
		t += `"`
	}

	trimmed := strings.TrimRight(t, " \t\r\n")
	if strings.HasSuffix(trimmed, ",") {
		t = strings.TrimRight(trimmed[:len(trimmed)-1], " \t\r\n")
	}

	var b strings.Builder
	b.WriteString(t)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// scanJSON walks s tracking string state and bracket nesting. It returns the
// index just past the top-level value if it closes, or len(s) with the
// residual stack and string state otherwise.
func scanJSON(s string) (end int, stack []byte, inString, escaped bool) {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return i + 1, stack, false, false
			}
		}
	}
	return len(s), stack, inString, escaped
}

// lastStructural returns the cut position at the last ',' or ':' (cut before
// it) or opening bracket (cut after it) outside of strings, so the trailing
// incomplete token can be dropped.
func lastStructural(s string) int {
	last := -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case ',', ':':
			last = i
		case '{', '[':
			last = i + 1
		}
	}
	return last
}

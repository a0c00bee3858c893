package planner

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceRE = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractDraftSpec pulls the first JSON object out of free-form assistant
// text. Fenced code blocks are tried first, then the text as a whole; the
// object is located by balanced-brace scanning (string and escape aware)
// and line comments inside it are stripped before parsing. Extraction is
// best effort: anything unparseable yields nil, never an error.
func ExtractDraftSpec(text string) map[string]any {
	var candidates []string
	for _, m := range fenceRE.FindAllStringSubmatch(text, -1) {
		if obj := firstBalancedObject(m[1]); obj != "" {
			candidates = append(candidates, obj)
		}
	}
	if obj := firstBalancedObject(text); obj != "" {
		candidates = append(candidates, obj)
	}

	for _, candidate := range candidates {
		var spec map[string]any
		if err := json.Unmarshal([]byte(stripLineComments(candidate)), &spec); err == nil {
			return spec
		}
	}
	return nil
}

// firstBalancedObject returns the first {...} span whose braces balance,
// ignoring braces inside JSON strings. Returns "" when no span closes.
func firstBalancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
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
					return text[start : i+1]
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			return ""
		}
		start += 1 + next
	}
	return ""
}

// stripLineComments removes // comments outside of JSON strings. Models
// occasionally annotate example specs this way.
func stripLineComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			b.WriteByte(ch)
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
		if ch == '"' {
			inString = true
			b.WriteByte(ch)
			continue
		}
		if ch == '/' && i+1 < len(s) && s[i+1] == '/' {
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

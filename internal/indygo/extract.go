package indygo

import "regexp"

// ExtractJSONObject returns the substring of text spanning the balanced JSON
// object whose opening brace sits at start. It tracks brace depth and quoted
// strings (with escape awareness) so nested objects and braces inside string
// values do not break extraction, which a regex cannot do. Returns "" and
// false when the text ends before the braces balance.
func ExtractJSONObject(text string, start int) (string, bool) {
	if start < 0 || start >= len(text) || text[start] != '{' {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}

	return "", false
}

// findAssignment locates `<name> = {` in script text, where the variable may
// be declared with var/let/const or hung off window, and returns the offset
// of the opening brace. The match is case-insensitive because the portal has
// shipped both spellings over time.
func findAssignment(text, name string) (int, bool) {
	re := regexp.MustCompile(`(?i)(?:var|let|const|window\.)?\s*` + regexp.QuoteMeta(name) + `\s*=\s*(\{)`)
	m := re.FindStringSubmatchIndex(text)
	if m == nil {
		return 0, false
	}
	return m[2], true
}

// extractNamedObject combines findAssignment and ExtractJSONObject. The bool
// result means "object isolated"; callers treat false as "field not
// available" except where discovery requires the object.
func extractNamedObject(text, name string) (string, bool) {
	start, ok := findAssignment(text, name)
	if !ok {
		return "", false
	}
	return ExtractJSONObject(text, start)
}

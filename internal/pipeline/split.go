package pipeline

import "strings"

// SplitStatements splits a SQL script into statements at top-level
// semicolons. Comments are dropped; string literals and quoted identifiers
// are kept intact. Empty statements are omitted.
//
// Trigger bodies (BEGIN ... END) are not recognized and must not appear in
// step scripts.
func SplitStatements(script string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '\'' || c == '"' || c == '`' || c == '[':
			end := quoteEnd(script, i)
			cur.WriteString(script[i : end+1])
			i = end
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			for i < len(script) && script[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			if end := strings.Index(script[i+2:], "*/"); end < 0 {
				i = len(script)
			} else {
				i += 2 + end + 1
			}
			cur.WriteByte(' ')
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

// quoteEnd returns the index of the character closing the quote opened at
// start, or the last index of s when the quote is unterminated. Doubled
// quote characters are escapes, except inside [brackets].
func quoteEnd(s string, start int) int {
	closing := s[start]
	if closing == '[' {
		closing = ']'
	}
	for j := start + 1; j < len(s); j++ {
		if s[j] != closing {
			continue
		}
		if closing != ']' && j+1 < len(s) && s[j+1] == closing {
			j++
			continue
		}
		return j
	}
	return len(s) - 1
}

// referencesParam reports whether stmt contains the named parameter in any
// of SQLite's named forms (:name, @name, $name).
func referencesParam(stmt, name string) bool {
	for _, prefix := range []string{":", "@", "$"} {
		token := prefix + name
		for from := 0; ; {
			idx := strings.Index(stmt[from:], token)
			if idx < 0 {
				break
			}
			end := from + idx + len(token)
			if end == len(stmt) || !isIdentByte(stmt[end]) {
				return true
			}
			from = end
		}
	}
	return false
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

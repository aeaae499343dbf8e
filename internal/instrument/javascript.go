package instrument

import (
	"encoding/json"
	"strings"
)

// JavaScript instrumentation is textual. The scanner tracks brace, bracket,
// and paren depth plus string, template-literal, and comment state across
// lines; a marker is inserted only before statements that start at depth
// zero with the previous statement visibly terminated. Lines inside string
// literals, comments, or continuation positions are never touched.

// InstrumentJavaScript inserts active-line markers into JavaScript source.
func InstrumentJavaScript(code string, m Markers) string {
	lines := strings.Split(code, "\n")
	out := make([]string, 0, len(lines)*2)

	st := jsState{}
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		startsStatement := st.depth == 0 && !st.inString() && !st.inBlockComment &&
			!st.continuation && trimmed != "" &&
			!strings.HasPrefix(trimmed, "//") && !jsConnective(trimmed)

		if startsStatement {
			// The semicolon is load-bearing: without it ASI glues the marker
			// call to a following line that opens with `[` or `(`.
			marker, _ := json.Marshal(m.ActiveLine(i + 1))
			out = append(out, "console.log("+string(marker)+");")
		}
		st.scan(line)
		out = append(out, line)
	}

	return strings.Join(out, "\n")
}

// WrapJavaScript builds the stdin payload for one JavaScript execution: a
// single line running the instrumented code through indirect eval (so
// declarations land in the global scope and persist across executions),
// printing the stack and the error sentinel on an uncaught exception, then
// the completion sentinel.
func WrapJavaScript(code string, m Markers) string {
	src, _ := json.Marshal(code)
	errLit, _ := json.Marshal(m.Error())
	endLit, _ := json.Marshal(m.End())

	return "try { (0, eval)(" + string(src) + ") } catch (e) { " +
		"console.error(e && e.stack ? e.stack : String(e)); " +
		"console.log(" + string(errLit) + ") }; " +
		"console.log(" + string(endLit) + ")\n"
}

// jsConnective reports trimmed lines that continue the previous statement.
func jsConnective(trimmed string) bool {
	switch {
	case strings.HasPrefix(trimmed, "."),
		strings.HasPrefix(trimmed, "}"),
		strings.HasPrefix(trimmed, "]"),
		strings.HasPrefix(trimmed, ")"),
		strings.HasPrefix(trimmed, "else"),
		strings.HasPrefix(trimmed, "catch"),
		strings.HasPrefix(trimmed, "finally"),
		strings.HasPrefix(trimmed, "case "),
		strings.HasPrefix(trimmed, "default:"),
		strings.HasPrefix(trimmed, "?"),
		strings.HasPrefix(trimmed, ":"):
		return true
	}
	return false
}

// jsState carries scanner state across lines.
type jsState struct {
	depth          int
	quote          byte // ' " or ` while inside a string, 0 otherwise
	inBlockComment bool
	continuation   bool // previous line ended mid-expression
}

func (s *jsState) inString() bool { return s.quote != 0 }

func (s *jsState) scan(line string) {
	i := 0
	for i < len(line) {
		c := line[i]

		switch {
		case s.inBlockComment:
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				s.inBlockComment = false
				i++
			}
		case s.quote != 0:
			if c == '\\' {
				i++
			} else if c == s.quote {
				s.quote = 0
			}
		default:
			switch c {
			case '/':
				if i+1 < len(line) {
					if line[i+1] == '/' {
						i = len(line)
						continue
					}
					if line[i+1] == '*' {
						s.inBlockComment = true
						i++
					}
				}
			case '\'', '"', '`':
				s.quote = c
			case '{', '[', '(':
				s.depth++
			case '}', ']', ')':
				if s.depth > 0 {
					s.depth--
				}
			}
		}
		i++
	}

	// Single-quoted and double-quoted strings do not span lines without a
	// trailing backslash; only template literals legitimately stay open.
	if s.quote == '\'' || s.quote == '"' {
		if !strings.HasSuffix(line, "\\") {
			s.quote = 0
		}
	}

	trimmed := strings.TrimSpace(line)
	s.continuation = false
	if s.quote == 0 && !s.inBlockComment && trimmed != "" {
		last := trimmed[len(trimmed)-1]
		switch last {
		case '+', '-', '*', '/', '%', '=', '<', '>', '&', '|', ',', '.', '?', ':', '\\':
			s.continuation = true
		}
	}
}

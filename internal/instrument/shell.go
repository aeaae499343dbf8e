package instrument

import "strings"

// Shell instrumentation is textual: an echo of the active-line marker is
// inserted before each top-level command. The scanner is deliberately
// conservative: inside compound commands (if/for/while/case, brace or
// subshell groups), heredocs, continuations, or unterminated quotes it
// inserts nothing, since a marker there would change the program. Multi-line
// constructs therefore report the line of their opening keyword.

// shellOpeners are leading keywords that begin a compound command.
var shellOpeners = map[string]bool{
	"if":    true,
	"for":   true,
	"while": true,
	"until": true,
	"case":  true,
	"{":     true,
	"(":     true,
}

// InstrumentShell inserts active-line markers into shell source.
func InstrumentShell(code string, m Markers) string {
	lines := strings.Split(code, "\n")
	out := make([]string, 0, len(lines)*2)

	var depth int
	var continued bool   // previous line ended with a backslash
	var heredoc string   // delimiter terminating the current heredoc, "" if none
	var openQuote byte   // unterminated ' or " carried across lines, 0 if none

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case heredoc != "":
			if trimmed == heredoc {
				heredoc = ""
			}
		case openQuote != 0:
			openQuote = scanShellQuotes(line, openQuote)
		case continued || trimmed == "" || strings.HasPrefix(trimmed, "#"):
			// Not a statement start; emit as-is below.
		default:
			word := firstShellWord(trimmed)
			if depth == 0 && !isShellConnective(word) {
				out = append(out, "echo \""+m.ActiveLine(i+1)+"\"")
			}
			// One-line compounds (`if true; then echo hi; fi`) open and
			// close on the same line, so every word counts, not just the
			// first.
			depth += shellDepthDelta(trimmed)
			if depth < 0 {
				depth = 0
			}
			if d, ok := heredocDelimiter(trimmed); ok {
				heredoc = d
			}
			openQuote = scanShellQuotes(line, 0)
		}

		continued = heredoc == "" && openQuote == 0 && strings.HasSuffix(trimmed, "\\")
		out = append(out, line)
	}

	return strings.Join(out, "\n")
}

// WrapShell appends the error and completion sentinels. The error sentinel
// fires when the final command of the submitted code exited non-zero.
func WrapShell(code string, m Markers) string {
	var b strings.Builder
	b.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString("if [ $? -ne 0 ]; then echo \"" + m.Error() + "\"; fi\n")
	b.WriteString("echo \"" + m.End() + "\"\n")
	return b.String()
}

// isShellConnective reports words that continue an open compound command and
// must never be preceded by a marker.
func isShellConnective(word string) bool {
	switch word {
	case "then", "else", "elif", "do", "done", "fi", "esac", "}", ")", ";;":
		return true
	}
	return false
}

func isShellCloser(word string) bool {
	switch word {
	case "done", "fi", "esac", "}", ")":
		return true
	}
	return false
}

// shellDepthDelta sums compound-command openers and closers across a line.
// One-line compounds (`if true; then echo hi; fi`) open and close within a
// single line, so every semicolon-separated segment is examined, not just
// the leading word. Keywords are only recognized in command position: the
// first word of a segment, or the word after a connective like `then` or
// `do`, so `echo done` never counts as a closer. Quoted keywords keep their
// quote characters attached and never match.
func shellDepthDelta(trimmed string) int {
	delta := 0
	for _, segment := range strings.Split(trimmed, ";") {
		words := strings.Fields(segment)
		i := 0
		for i < len(words) && isCommandPrefix(words[i]) {
			i++
		}
		if i >= len(words) {
			continue
		}
		if shellOpeners[words[i]] {
			delta++
		} else if isShellCloser(words[i]) {
			delta--
		}
	}
	return delta
}

// isCommandPrefix reports keywords that are themselves followed by a command
// in command position.
func isCommandPrefix(word string) bool {
	switch word {
	case "then", "do", "else", "elif":
		return true
	}
	return false
}

// firstShellWord extracts the leading word of a trimmed line.
func firstShellWord(trimmed string) string {
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if c == ' ' || c == '\t' || c == ';' {
			return trimmed[:i]
		}
	}
	return trimmed
}

// heredocDelimiter detects a heredoc redirection and returns its terminator.
func heredocDelimiter(line string) (string, bool) {
	idx := strings.Index(line, "<<")
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimSpace(line[idx+2:])
	rest = strings.TrimPrefix(rest, "-")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", false
	}
	word := firstShellWord(rest)
	word = strings.Trim(word, "'\"")
	if word == "" {
		return "", false
	}
	return word, true
}

// scanShellQuotes tracks single/double quote state across a line, starting
// from the carried-over state. Returns the open quote at end of line.
func scanShellQuotes(line string, open byte) byte {
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch open {
		case 0:
			if c == '\\' {
				i++
			} else if c == '\'' || c == '"' {
				open = c
			} else if c == '#' {
				return 0
			}
		case '\'':
			if c == '\'' {
				open = 0
			}
		case '"':
			if c == '\\' {
				i++
			} else if c == '"' {
				open = 0
			}
		}
	}
	return open
}

package interpreter

import (
	"strings"

	"github.com/OpenInterpreter/open-interpreter-sub000/internal/instrument"
	"github.com/OpenInterpreter/open-interpreter-sub000/internal/protocol"
	"github.com/OpenInterpreter/open-interpreter-sub000/internal/session"
)

// assembler turns the raw OutputEvent stream of one execution into typed
// chunks. Partial lines split across events are buffered per stream and only
// flushed once complete, so a marker fragment is never surfaced as console
// text. The caller owns the console start/end framing; the assembler only
// produces the chunks in between plus the terminal error, if any.
type assembler struct {
	markers  instrument.Markers
	language string
	partial  map[session.Stream]string
	errText  strings.Builder
	sawError bool
}

func newAssembler(m instrument.Markers, language string) *assembler {
	return &assembler{
		markers:  m,
		language: language,
		partial:  make(map[session.Stream]string),
	}
}

// feed consumes one event and returns the chunks it completes.
func (a *assembler) feed(ev session.OutputEvent) []protocol.Chunk {
	buf := a.partial[ev.Stream] + ev.Text
	lines := strings.Split(buf, "\n")
	a.partial[ev.Stream] = lines[len(lines)-1]

	var out []protocol.Chunk
	for _, line := range lines[:len(lines)-1] {
		if c, ok := a.classify(ev.Stream, line); ok {
			out = append(out, c)
		}
	}
	return out
}

// classify maps one complete output line to at most one chunk.
func (a *assembler) classify(stream session.Stream, line string) (protocol.Chunk, bool) {
	line, keep := scrub(a.language, stream, line)
	if !keep {
		return protocol.Chunk{}, false
	}

	if n, ok := a.markers.MatchActiveLine(line); ok {
		return protocol.ActiveLine(n), true
	}
	if a.markers.IsEnd(line) {
		return protocol.Chunk{}, false
	}
	if a.markers.IsError(line) {
		a.sawError = true
		return protocol.Chunk{}, false
	}

	if stream == session.StreamStderr {
		a.errText.WriteString(line)
		a.errText.WriteString("\n")
	}
	return protocol.ConsoleContent(line + "\n"), true
}

// finish flushes buffered partial lines and returns the terminal chunks for
// the execution: remaining console content, then an error chunk when the
// code raised or the process died. The console end chunk itself is the
// caller's responsibility.
func (a *assembler) finish(execErr error) []protocol.Chunk {
	var out []protocol.Chunk

	for _, stream := range []session.Stream{session.StreamStdout, session.StreamStderr} {
		if rest := a.partial[stream]; rest != "" {
			a.partial[stream] = ""
			if c, ok := a.classifyPartial(stream, rest); ok {
				out = append(out, c)
			}
		}
	}

	switch {
	case execErr == session.ErrProcessCrashed:
		out = append(out, protocol.ErrorChunk(
			"execution environment failure: the process exited unexpectedly; "+
				"the session was destroyed and its state is lost"))
	case a.sawError:
		text := strings.TrimRight(a.errText.String(), "\n")
		if text == "" {
			text = "the code raised an error"
		}
		out = append(out, protocol.ErrorChunk(text))
	}

	return out
}

// classifyPartial handles a trailing fragment with no newline.
func (a *assembler) classifyPartial(stream session.Stream, rest string) (protocol.Chunk, bool) {
	rest, keep := scrub(a.language, stream, rest)
	if !keep {
		return protocol.Chunk{}, false
	}
	if n, ok := a.markers.MatchActiveLine(rest); ok {
		return protocol.ActiveLine(n), true
	}
	if a.markers.IsEnd(rest) || a.markers.IsError(rest) {
		if a.markers.IsError(rest) {
			a.sawError = true
		}
		return protocol.Chunk{}, false
	}
	if stream == session.StreamStderr {
		a.errText.WriteString(rest)
	}
	return protocol.ConsoleContent(rest), true
}

// scrub strips interactive-interpreter noise, but only where that noise can
// actually occur: python writes its prompts to stderr, node writes its
// prompts, `undefined` result echoes, and startup banner to stdout. Every
// other language/stream combination passes through verbatim, so genuine
// program output that merely looks like a prompt is never touched. Returns
// the cleaned line and whether to keep it at all.
func scrub(language string, stream session.Stream, line string) (string, bool) {
	switch {
	case language == "python" && stream == session.StreamStderr:
		return scrubPython(line)
	case language == "javascript" && stream == session.StreamStdout:
		return scrubNode(line)
	}
	return line, true
}

// scrubPython removes `>>> ` and `... ` prompt prefixes and drops lines that
// were nothing but prompts.
func scrubPython(line string) (string, bool) {
	s := line
	for stripped := false; !stripped; {
		switch {
		case strings.HasPrefix(s, ">>> "):
			s = s[len(">>> "):]
		case strings.HasPrefix(s, "... "):
			s = s[len("... "):]
		default:
			stripped = true
		}
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" && strings.TrimSpace(line) != "" {
		return "", false
	}
	switch trimmed {
	case ">>>", "...":
		return "", false
	}
	return s, true
}

// scrubNode removes `> ` prompt prefixes and drops `undefined` result echoes
// and the startup banner.
func scrubNode(line string) (string, bool) {
	s := line
	for strings.HasPrefix(s, "> ") {
		s = s[len("> "):]
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" && strings.TrimSpace(line) != "" {
		return "", false
	}
	switch trimmed {
	case ">", "undefined":
		return "", false
	}
	if strings.HasPrefix(trimmed, "Welcome to Node.js") {
		return "", false
	}
	if strings.HasPrefix(trimmed, `Type ".help"`) {
		return "", false
	}
	return s, true
}

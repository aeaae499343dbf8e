// Package instrument rewrites submitted source code so the engine can follow
// execution from the outside. Each execution gets a fresh random marker token;
// instrumented code prints an active-line marker before each executable line
// and end/error sentinels when it finishes, all recognizable (and stripped)
// by the chunk assembler.
package instrument

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Markers holds the sentinel strings for one execution. The token is random
// per execution so genuine program output cannot collide with a marker.
type Markers struct {
	token string
}

// NewMarkers creates markers with a fresh random token.
func NewMarkers() Markers {
	return Markers{token: strings.ReplaceAll(uuid.NewString(), "-", "")}
}

// Token returns the raw random token.
func (m Markers) Token() string { return m.token }

// ActiveLine returns the marker line printed before executing line n.
func (m Markers) ActiveLine(n int) string {
	return fmt.Sprintf("##ACTIVE_LINE:%d:%s##", n, m.token)
}

// End returns the sentinel printed on normal completion.
func (m Markers) End() string {
	return "##END_OF_EXECUTION:" + m.token + "##"
}

// Error returns the sentinel printed after an uncaught error.
func (m Markers) Error() string {
	return "##EXECUTION_ERROR:" + m.token + "##"
}

// MatchActiveLine reports whether a full output line is an active-line
// marker, and if so which 1-based source line it names.
func (m Markers) MatchActiveLine(line string) (int, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "##ACTIVE_LINE:") || !strings.HasSuffix(s, ":"+m.token+"##") {
		return 0, false
	}
	num := s[len("##ACTIVE_LINE:") : len(s)-len(":"+m.token+"##")]
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// IsEnd reports whether a full output line is the completion sentinel.
func (m Markers) IsEnd(line string) bool {
	return strings.TrimSpace(line) == m.End()
}

// IsError reports whether a full output line is the error sentinel.
func (m Markers) IsError(line string) bool {
	return strings.TrimSpace(line) == m.Error()
}

package protocol

import "strconv"

// Role identifies who a chunk speaks for. The engine only ever emits
// computer-role chunks; assistant-role chunks are reserved for the
// orchestrator that embeds the engine.
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleComputer  Role = "computer"
)

// ChunkType classifies a unit of the streaming output protocol.
type ChunkType string

const (
	ChunkConsole      ChunkType = "console"
	ChunkActiveLine   ChunkType = "active_line"
	ChunkConfirmation ChunkType = "confirmation"
	ChunkError        ChunkType = "error"
)

// Confirmation is the structured content of a confirmation chunk, shown to
// the operator before any code is sent to a session.
type Confirmation struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// Chunk is one framed unit of the public streaming protocol. Content is
// either a string or a Confirmation. Consumers recognize execution
// boundaries strictly by the Start/End flags, never by counting chunks.
type Chunk struct {
	Role    Role      `json:"role"`
	Type    ChunkType `json:"type"`
	Content any       `json:"content,omitempty"`
	Start   bool      `json:"start,omitempty"`
	End     bool      `json:"end,omitempty"`
}

// ConsoleStart opens the console frame for one execution.
func ConsoleStart() Chunk {
	return Chunk{Role: RoleComputer, Type: ChunkConsole, Start: true}
}

// ConsoleEnd closes the console frame. It is the last chunk of an execution.
func ConsoleEnd() Chunk {
	return Chunk{Role: RoleComputer, Type: ChunkConsole, End: true}
}

// ConsoleContent wraps a fragment of program output.
func ConsoleContent(text string) Chunk {
	return Chunk{Role: RoleComputer, Type: ChunkConsole, Content: text}
}

// ActiveLine reports the 1-based source line about to execute.
func ActiveLine(line int) Chunk {
	return Chunk{Role: RoleComputer, Type: ChunkActiveLine, Content: strconv.Itoa(line)}
}

// ErrorChunk carries human-readable error text. It appears before the
// closing console end chunk.
func ErrorChunk(text string) Chunk {
	return Chunk{Role: RoleComputer, Type: ChunkError, Content: text}
}

// ConfirmationChunk asks the operator to approve code before execution.
func ConfirmationChunk(language, code string) Chunk {
	return Chunk{
		Role:    RoleComputer,
		Type:    ChunkConfirmation,
		Content: Confirmation{Code: code, Language: language},
	}
}

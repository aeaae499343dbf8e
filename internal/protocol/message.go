package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeExecuteChunk    = "execute.chunk"
	TypeExecuteStarted  = "execute.started"
	TypeExecuteFinished = "execute.finished"
	TypeLanguages       = "languages"
	TypeFilesUpdate     = "files.update"
	TypeFilesTree       = "files.tree"
	TypeError           = "error"
)

// Client → Server message types.
const (
	TypeExecuteRequest   = "execute.request"
	TypeExecuteApprove   = "execute.approve"
	TypeExecuteCancel    = "execute.cancel"
	TypeEngineReset      = "engine.reset"
	TypeLanguagesRequest = "languages.request"
	TypeFilesRequestTree = "files.requestTree"
)

// Error codes.
const (
	ErrLanguageNotSupported = "LANGUAGE_NOT_SUPPORTED"
	ErrSessionBusy          = "SESSION_BUSY"
	ErrSpawnFailed          = "SPAWN_FAILED"
	ErrExecutionNotFound    = "EXECUTION_NOT_FOUND"
	ErrInvalidMessage       = "INVALID_MESSAGE"
)

// Server → Client payloads.

// ChunkPayload wraps one Chunk with the execution it belongs to.
type ChunkPayload struct {
	ExecutionID string `json:"executionId"`
	Chunk       Chunk  `json:"chunk"`
}

// ExecutionPayload announces the start or end of an execution.
type ExecutionPayload struct {
	ExecutionID string `json:"executionId"`
	Language    string `json:"language"`
}

// LanguageInfo describes one registered language.
type LanguageInfo struct {
	Name      string `json:"name"`
	Strategy  string `json:"strategy"` // "subprocess" | "kernel"
	Available bool   `json:"available"`
}

// LanguagesPayload lists the registered languages.
type LanguagesPayload struct {
	Languages []LanguageInfo `json:"languages"`
}

// FilesUpdatePayload reports workspace changes made by executed code.
type FilesUpdatePayload struct {
	FileCount    int      `json:"fileCount"`
	ChangedPaths []string `json:"changedPaths,omitempty"`
}

// FilesTreePayload carries a snapshot of the workspace tree.
type FilesTreePayload struct {
	Tree []FileNode `json:"tree"`
}

// ErrorPayload carries a terminal error for a request.
type ErrorPayload struct {
	Message     string `json:"message"`
	Code        string `json:"code"`
	ExecutionID string `json:"executionId,omitempty"`
}

// Client → Server payloads.

// ExecuteRequestPayload submits code for execution.
type ExecuteRequestPayload struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// ApprovePayload answers a pending confirmation chunk.
type ApprovePayload struct {
	ExecutionID string `json:"executionId"`
	Approved    bool   `json:"approved"`
}

// CancelPayload stops a running execution and kills its process.
type CancelPayload struct {
	ExecutionID string `json:"executionId"`
}

// ResetPayload destroys one language session, or all when Language is empty.
type ResetPayload struct {
	Language string `json:"language,omitempty"`
}

// FileNode represents a file or directory in the workspace tree.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	IsDir    bool       `json:"isDir"`
	Children []FileNode `json:"children,omitempty"`
	Size     int64      `json:"size,omitempty"`
}

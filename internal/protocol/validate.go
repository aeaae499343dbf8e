package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed client→server message types.
var validClientTypes = map[string]bool{
	TypeExecuteRequest:   true,
	TypeExecuteApprove:   true,
	TypeExecuteCancel:    true,
	TypeEngineReset:      true,
	TypeLanguagesRequest: true,
	TypeFilesRequestTree: true,
}

// ValidateClientMessage validates a raw JSON message from a client.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	if msg.Payload == nil && msg.Type != TypeLanguagesRequest && msg.Type != TypeFilesRequestTree {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	// Validate required payload fields per type.
	switch msg.Type {
	case TypeExecuteRequest:
		var p ExecuteRequestPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Language == "" {
			return nil, fmt.Errorf("missing required field 'language' in %s payload", msg.Type)
		}
		if p.Code == "" {
			return nil, fmt.Errorf("missing required field 'code' in %s payload", msg.Type)
		}

	case TypeExecuteApprove:
		var p ApprovePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.ExecutionID == "" {
			return nil, fmt.Errorf("missing required field 'executionId' in %s payload", msg.Type)
		}

	case TypeExecuteCancel:
		var p CancelPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.ExecutionID == "" {
			return nil, fmt.Errorf("missing required field 'executionId' in %s payload", msg.Type)
		}

	case TypeEngineReset:
		var p ResetPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
	}

	return &msg, nil
}

// NewErrorMessage creates an error message ready to send to the client.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}

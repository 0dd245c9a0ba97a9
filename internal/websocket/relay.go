package websocket

import (
	"encoding/json"
	"fmt"
)

// RelayCommandType is a command a UI client may send over the relay
type RelayCommandType string

const (
	RelayCommandSetMuted      RelayCommandType = "set_muted"
	RelayCommandContextUpdate RelayCommandType = "context_update"
)

// RelayCommand is a command from a UI client
type RelayCommand struct {
	Type  RelayCommandType `json:"type"`
	Muted *bool            `json:"muted,omitempty"`
	Data  map[string]any   `json:"data,omitempty"`
}

// RelayError tells a UI client its command was rejected
type RelayError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewRelayError creates a relay error reply
func NewRelayError(message string) *RelayError {
	return &RelayError{Type: "error", Message: message}
}

// ParseRelayCommand parses and validates a UI command
func ParseRelayCommand(b []byte) (*RelayCommand, error) {
	var cmd RelayCommand
	if err := json.Unmarshal(b, &cmd); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch cmd.Type {
	case RelayCommandSetMuted:
		if cmd.Muted == nil {
			return nil, fmt.Errorf("muted is required")
		}
	case RelayCommandContextUpdate:
		if cmd.Data == nil {
			cmd.Data = map[string]any{}
		}
	case "":
		return nil, fmt.Errorf("type is required")
	default:
		return nil, fmt.Errorf("unsupported command type: %s", cmd.Type)
	}

	return &cmd, nil
}

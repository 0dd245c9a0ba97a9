package entities

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConnectionState represents the lifecycle state of a conversation session
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name so it reads well in JSON payloads.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "disconnected":
		*s = StateDisconnected
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	default:
		return fmt.Errorf("unknown connection state %q", b)
	}
	return nil
}

// Session represents one live conversation with a remote agent
type Session struct {
	ID             string          `json:"id"`
	AgentID        string          `json:"agent_id"`
	ConversationID string          `json:"conversation_id,omitempty"`
	State          ConnectionState `json:"state"`
	Context        map[string]any  `json:"context,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ConnectedAt    *time.Time      `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time      `json:"disconnected_at,omitempty"`
}

// NewSession creates a new disconnected session for an agent
func NewSession(agentID string, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		State:     StateDisconnected,
		Context:   make(map[string]any),
		CreatedAt: now,
	}
}

// MarkConnecting starts a new connection attempt. The previous conversation
// id is forgotten since the server assigns a new one per socket.
func (s *Session) MarkConnecting() {
	s.State = StateConnecting
	s.ConversationID = ""
}

// MarkConnected records the socket open
func (s *Session) MarkConnected(now time.Time) {
	s.State = StateConnected
	s.ConnectedAt = &now
	s.DisconnectedAt = nil
}

// MarkDisconnected records the socket close
func (s *Session) MarkDisconnected(now time.Time) {
	s.State = StateDisconnected
	s.DisconnectedAt = &now
}

// ReplaceContext swaps the shared context wholesale. Keys are never merged.
func (s *Session) ReplaceContext(ctx map[string]any) {
	if ctx == nil {
		ctx = make(map[string]any)
	}
	s.Context = ctx
}

// Uptime returns how long the current connection has been open
func (s *Session) Uptime(now time.Time) time.Duration {
	if s.State != StateConnected || s.ConnectedAt == nil {
		return 0
	}
	return now.Sub(*s.ConnectedAt)
}

// Validate validates the session data
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}

	if s.AgentID == "" {
		return errors.New("agent_id is required")
	}

	if s.State != StateDisconnected && s.State != StateConnecting && s.State != StateConnected {
		return errors.New("invalid session state")
	}

	return nil
}

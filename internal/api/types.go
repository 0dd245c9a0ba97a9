package api

import (
	"context"

	"github.com/satriahrh/arunika/convai/domain/entities"
	"github.com/satriahrh/arunika/convai/internal/conversation"
)

// Agent is the conversation the server drives
type Agent interface {
	Connect(ctx context.Context, initialContext map[string]any) error
	Disconnect() error
	SendContextUpdate(ctx map[string]any) error
	SetMuted(muted bool)
	State() entities.ConnectionState
	Status() conversation.Status
}

// SignedURLProvider issues signed conversation URLs for browser clients
type SignedURLProvider interface {
	SignedURL(ctx context.Context) (string, error)
}

// StartAgentRequest represents the request payload for starting the agent
type StartAgentRequest struct {
	Context map[string]any `json:"context"`
}

// ContextUpdateRequest represents the request payload for a context update
type ContextUpdateRequest struct {
	Data map[string]any `json:"data"`
}

// MuteRequest represents the request payload for muting the microphone
type MuteRequest struct {
	Muted *bool `json:"muted"`
}

// MuteResponse represents the microphone state after a mute request
type MuteResponse struct {
	Muted bool `json:"muted"`
}

// SignedURLResponse represents the response payload for a signed URL request
type SignedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// MessageResponse represents a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

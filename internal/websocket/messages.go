package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/satriahrh/arunika/convai/domain"
)

// MessageType defines the type of a conversation message
type MessageType string

// Message types exchanged with the agent
const (
	MessageTypeContextUpdate                  MessageType = "context_update"
	MessageTypeConversationInitiationMetadata MessageType = "conversation_initiation_metadata"
	MessageTypeUserTranscript                 MessageType = "user_transcript"
	MessageTypeAgentResponse                  MessageType = "agent_response"
	MessageTypeAgentResponseCorrection        MessageType = "agent_response_correction"
	MessageTypeAudio                          MessageType = "audio"
	MessageTypeInterruption                   MessageType = "interruption"
	MessageTypePing                           MessageType = "ping"
	MessageTypePong                           MessageType = "pong"
	MessageTypeVADScore                       MessageType = "internal_vad_score"
	MessageTypeTurnProbability                MessageType = "internal_turn_probability"
	MessageTypeTentativeAgentResponse         MessageType = "internal_tentative_agent_response"
)

// IsInternal reports whether the agent sends this type for its own
// diagnostics. Such messages carry nothing a client acts on.
func (t MessageType) IsInternal() bool {
	switch t {
	case MessageTypeVADScore, MessageTypeTurnProbability, MessageTypeTentativeAgentResponse, MessageTypeAgentResponseCorrection:
		return true
	}
	return false
}

// EventID identifies a ping or audio event. The agent sends numbers, we
// send uuids, so both JSON forms are accepted and numbers are echoed back
// as numbers.
type EventID string

func (id *EventID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = EventID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("event_id must be a string or number: %w", err)
		}
		*id = EventID(n.String())
	}
	return nil
}

func (id EventID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Int returns the numeric form of the id, or false when it is not a number
func (id EventID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// InitiationMetadataEvent is sent once when the agent accepts the conversation
type InitiationMetadataEvent struct {
	ConversationID         string `json:"conversation_id"`
	AgentOutputAudioFormat string `json:"agent_output_audio_format,omitempty"`
	UserInputAudioFormat   string `json:"user_input_audio_format,omitempty"`
}

// UserTranscriptionEvent carries recognised user speech
type UserTranscriptionEvent struct {
	UserTranscript string `json:"user_transcript"`
}

// AgentResponseEvent carries the agent's reply text
type AgentResponseEvent struct {
	AgentResponse string `json:"agent_response"`
}

// AudioEvent carries one chunk of agent speech
type AudioEvent struct {
	AudioBase64 string  `json:"audio_base_64"`
	EventID     EventID `json:"event_id,omitempty"`
}

// InterruptionEvent is sent when the user talks over the agent
type InterruptionEvent struct {
	EventID EventID `json:"event_id,omitempty"`
}

// PingEvent carries the id the pong must echo
type PingEvent struct {
	EventID EventID `json:"event_id"`
	PingMs  *int    `json:"ping_ms,omitempty"`
}

// InboundMessage is any message received from the agent. Only the payload
// matching Type is populated.
type InboundMessage struct {
	Type MessageType `json:"type"`

	Data                    map[string]any           `json:"data,omitempty"`
	InitiationMetadataEvent *InitiationMetadataEvent `json:"conversation_initiation_metadata_event,omitempty"`
	UserTranscriptionEvent  *UserTranscriptionEvent  `json:"user_transcription_event,omitempty"`
	AgentResponseEvent      *AgentResponseEvent      `json:"agent_response_event,omitempty"`
	AudioEvent              *AudioEvent              `json:"audio_event,omitempty"`
	InterruptionEvent       *InterruptionEvent       `json:"interruption_event,omitempty"`
	PingEvent               *PingEvent               `json:"ping_event,omitempty"`
	EventID                 EventID                  `json:"event_id,omitempty"`
	IsPartial               bool                     `json:"isPartial,omitempty"`
}

// ContextUpdateMessage shares application context with the agent
type ContextUpdateMessage struct {
	Type MessageType    `json:"type"`
	Data map[string]any `json:"data"`
}

// PingMessage is our liveness probe
type PingMessage struct {
	Type    MessageType `json:"type"`
	EventID EventID     `json:"event_id"`
}

// PongMessage answers the agent's ping
type PongMessage struct {
	Type    MessageType `json:"type"`
	EventID EventID     `json:"event_id"`
}

// UserAudioChunkMessage carries microphone audio. It has no type field.
type UserAudioChunkMessage struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

// NewContextUpdateMessage creates a context_update message
func NewContextUpdateMessage(data map[string]any) *ContextUpdateMessage {
	if data == nil {
		data = map[string]any{}
	}
	return &ContextUpdateMessage{Type: MessageTypeContextUpdate, Data: data}
}

// NewPingMessage creates a ping message
func NewPingMessage(eventID string) *PingMessage {
	return &PingMessage{Type: MessageTypePing, EventID: EventID(eventID)}
}

// NewPongMessage creates a pong response message
func NewPongMessage(eventID string) *PongMessage {
	return &PongMessage{Type: MessageTypePong, EventID: EventID(eventID)}
}

// NewUserAudioChunkMessage wraps base64 audio for sending
func NewUserAudioChunkMessage(audioBase64 string) *UserAudioChunkMessage {
	return &UserAudioChunkMessage{UserAudioChunk: audioBase64}
}

// MessageValidator provides validation for inbound agent messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses an inbound message and checks that the payload
// its type requires is present. Unknown types are returned without error
// so newer agents do not break older clients. All errors are *domain.DecodeError.
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (*InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		return nil, &domain.DecodeError{Kind: "message", Err: fmt.Errorf("invalid JSON format: %w", err)}
	}

	if msg.Type == "" {
		return nil, &domain.DecodeError{Kind: "message", Err: fmt.Errorf("type is required")}
	}

	if err := v.validatePayload(&msg); err != nil {
		return nil, &domain.DecodeError{Kind: string(msg.Type), Err: err}
	}

	return &msg, nil
}

func (v *MessageValidator) validatePayload(msg *InboundMessage) error {
	switch msg.Type {
	case MessageTypeContextUpdate:
		if msg.Data == nil {
			msg.Data = map[string]any{}
		}
	case MessageTypeConversationInitiationMetadata:
		if msg.InitiationMetadataEvent == nil {
			return fmt.Errorf("conversation_initiation_metadata_event is required")
		}
	case MessageTypeUserTranscript:
		if msg.UserTranscriptionEvent == nil {
			return fmt.Errorf("user_transcription_event is required")
		}
	case MessageTypeAgentResponse:
		if msg.AgentResponseEvent == nil {
			return fmt.Errorf("agent_response_event is required")
		}
	case MessageTypeAudio:
		if msg.AudioEvent == nil {
			return fmt.Errorf("audio_event is required")
		}
		if msg.AudioEvent.AudioBase64 == "" {
			return fmt.Errorf("audio_event.audio_base_64 is required")
		}
	case MessageTypePing:
		if msg.PingEvent == nil {
			return fmt.Errorf("ping_event is required")
		}
	}
	return nil
}

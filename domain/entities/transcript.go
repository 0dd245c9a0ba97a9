package entities

import "time"

// Role represents who spoke a transcript line
type Role string

const (
	RoleHuman Role = "human"
	RoleAgent Role = "agent"
)

// Transcript represents a line of conversation text. Partial transcripts
// share the MessageID of the terminal one.
type Transcript struct {
	MessageID string    `json:"message_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Partial   bool      `json:"partial"`
	Timestamp time.Time `json:"timestamp"`
}

package conversation

import (
	"sync"
	"time"

	"github.com/satriahrh/arunika/convai/domain/entities"
)

// EventType names a session event
type EventType string

const (
	EventConnected      EventType = "connected"
	EventDisconnected   EventType = "disconnected"
	EventError          EventType = "error"
	EventTranscript     EventType = "transcript"
	EventContextChanged EventType = "context_changed"
	EventInitiated      EventType = "initiated"
	EventInterrupted    EventType = "interrupted"
	EventHealth         EventType = "health"
	EventAgentSpeaking  EventType = "agent_speaking"
)

// HealthInfo is the payload of a health event
type HealthInfo struct {
	RTTMs        int64 `json:"rtt_ms"`
	AverageRTTMs int64 `json:"average_rtt_ms"`
	Healthy      bool  `json:"healthy"`
}

// Event is something UI collaborators may want to render. Only the fields
// matching Type are set.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	Err            error                `json:"-"`
	Error          string               `json:"error,omitempty"`
	Transcript     *entities.Transcript `json:"transcript,omitempty"`
	Context        map[string]any       `json:"context,omitempty"`
	ConversationID string               `json:"conversation_id,omitempty"`
	Health         *HealthInfo          `json:"health,omitempty"`
	Speaking       *bool                `json:"speaking,omitempty"`
}

// Listener receives session events. Listeners may be called from several
// goroutines and must not block.
type Listener func(Event)

type emitter struct {
	mu        sync.RWMutex
	listeners map[int]Listener
	next      int
}

func (e *emitter) subscribe(l Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[int]Listener)
	}
	id := e.next
	e.next++
	e.listeners[id] = l

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	listeners := make([]Listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.mu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

package conversation

import (
	"maps"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/convai/domain"
	"github.com/satriahrh/arunika/convai/domain/entities"
	"github.com/satriahrh/arunika/convai/internal/codec"
	"github.com/satriahrh/arunika/convai/internal/websocket"
)

// dispatch handles one inbound message. It runs on the read goroutine so
// messages are handled in the order the socket delivered them.
func (s *Session) dispatch(message []byte) {
	msg, err := s.validator.ValidateMessage(message)
	if err != nil {
		s.logger.Warn("Dropping malformed message", zap.Error(err))
		return
	}

	switch msg.Type {
	case websocket.MessageTypeContextUpdate:
		s.handleContextUpdate(msg.Data)

	case websocket.MessageTypeConversationInitiationMetadata:
		s.handleInitiation(msg.InitiationMetadataEvent)

	case websocket.MessageTypeUserTranscript:
		s.emitTranscript(entities.Transcript{
			MessageID: newMessageID(),
			Role:      entities.RoleHuman,
			Text:      msg.UserTranscriptionEvent.UserTranscript,
		})

	case websocket.MessageTypeAgentResponse:
		s.handleAgentResponse(msg.AgentResponseEvent.AgentResponse, msg.IsPartial)

	case websocket.MessageTypeAudio:
		s.handleAudio(msg.AudioEvent)

	case websocket.MessageTypeInterruption:
		// informational only, queued audio keeps playing
		s.logger.Info("Agent reported an interruption")
		s.emit(Event{Type: EventInterrupted})

	case websocket.MessageTypePing:
		s.health.HandlePing(string(msg.PingEvent.EventID))

	case websocket.MessageTypePong:
		s.health.HandlePong(string(msg.EventID))

	default:
		if msg.Type.IsInternal() {
			return
		}
		s.logger.Debug("Ignoring unknown message type", zap.String("type", string(msg.Type)))
	}
}

func (s *Session) handleContextUpdate(data map[string]any) {
	s.mu.Lock()
	s.entity.ReplaceContext(maps.Clone(data))
	snapshot := maps.Clone(s.entity.Context)
	s.mu.Unlock()

	s.emit(Event{Type: EventContextChanged, Context: snapshot})
}

func (s *Session) handleInitiation(ev *websocket.InitiationMetadataEvent) {
	s.mu.Lock()
	s.entity.ConversationID = ev.ConversationID
	s.mu.Unlock()

	s.logger.Info("Conversation initiated",
		zap.String("conversationID", ev.ConversationID),
		zap.String("agentOutputFormat", ev.AgentOutputAudioFormat))
	s.emit(Event{Type: EventInitiated, ConversationID: ev.ConversationID})
}

// handleAgentResponse keeps one message id across partial responses. The
// first non-partial response ends the message.
func (s *Session) handleAgentResponse(text string, partial bool) {
	s.mu.Lock()
	if s.streaming == nil {
		s.streaming = &entities.Transcript{
			MessageID: newMessageID(),
			Role:      entities.RoleAgent,
		}
	}
	t := *s.streaming
	if partial {
		s.streaming.Text = text
	} else {
		s.streaming = nil
	}
	s.mu.Unlock()

	t.Text = text
	t.Partial = partial
	s.emitTranscript(t)
}

func (s *Session) emitTranscript(t entities.Transcript) {
	t.Timestamp = s.clock.Now()
	s.emit(Event{Type: EventTranscript, Transcript: &t})
}

func (s *Session) handleAudio(ev *websocket.AudioEvent) {
	pcm, err := codec.Decode(ev.AudioBase64)
	if err != nil {
		s.logger.Warn("Dropping undecodable audio", zap.Error(&domain.DecodeError{Kind: "audio", Err: err}))
		return
	}

	seq := s.seq.Add(1)
	if n, ok := ev.EventID.Int(); ok {
		seq = n
	}
	s.chunksReceived.Add(1)

	s.buffer.Push(entities.AudioChunk{
		Data:      pcm,
		Timestamp: s.clock.Now(),
		Seq:       seq,
	})
}

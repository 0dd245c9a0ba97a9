// Package conversation runs a realtime voice conversation with a remote
// agent over one websocket: microphone audio goes out, agent speech comes
// back and is played, and the two never overlap.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/convai/domain"
	"github.com/satriahrh/arunika/convai/domain/entities"
	"github.com/satriahrh/arunika/convai/domain/repositories"
	"github.com/satriahrh/arunika/convai/internal/audio"
	"github.com/satriahrh/arunika/convai/internal/codec"
	"github.com/satriahrh/arunika/convai/internal/health"
	"github.com/satriahrh/arunika/convai/internal/websocket"
)

// DefaultMicRetryDelay is the fixed wait before restarting a failed microphone stream
const DefaultMicRetryDelay = 5000 * time.Millisecond

// Socket is an open connection to the agent
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	Close() error
}

// Dialer opens agent connections
type Dialer interface {
	Dial(ctx context.Context) (Socket, error)
}

// Config holds the tunables of a session
type Config struct {
	AgentID       string
	Format        entities.PCMFormat
	Jitter        audio.JitterConfig
	Playback      audio.PlaybackConfig
	Health        health.Config
	MicRetryDelay time.Duration
}

// Dependencies are the collaborators a session drives
type Dependencies struct {
	Dialer     Dialer
	Sink       repositories.AudioSink
	Microphone repositories.Microphone // optional
	Clock      clock.Clock             // optional
}

// Status is a snapshot of a session for operators
type Status struct {
	SessionID      string                   `json:"session_id"`
	AgentID        string                   `json:"agent_id"`
	ConversationID string                   `json:"conversation_id,omitempty"`
	State          entities.ConnectionState `json:"state"`
	Context        map[string]any           `json:"context,omitempty"`
	ConnectedAt    *time.Time               `json:"connected_at,omitempty"`
	Muted          bool                     `json:"muted"`
	AgentSpeaking  bool                     `json:"agent_speaking"`
	PendingChunks  int                      `json:"pending_chunks"`
	ChunksReceived int64                    `json:"chunks_received"`
	FramesSent     int64                    `json:"frames_sent"`
	FramesDropped  int64                    `json:"frames_dropped"`
	BatchesPlayed  int64                    `json:"batches_played"`
	BatchesFailed  int64                    `json:"batches_failed"`
	Health         health.Report            `json:"health"`
}

// Session is one conversation with an agent. It is safe for concurrent use.
type Session struct {
	cfg       Config
	dialer    Dialer
	sink      repositories.AudioSink
	mic       repositories.Microphone
	clock     clock.Clock
	logger    *zap.Logger
	validator *websocket.MessageValidator
	events    emitter

	gate   *audio.Gate
	buffer *audio.JitterBuffer
	player *audio.PlaybackController
	health *health.Monitor

	mu         sync.RWMutex
	entity     *entities.Session
	socket     Socket
	cancel     context.CancelFunc
	dialCancel context.CancelFunc
	aborted    bool
	streaming  *entities.Transcript

	// microphone loop of the current connection
	micWG sync.WaitGroup
	// held while the per-connection loops are started or stopped
	lifecycle sync.Mutex

	seq            atomic.Int64
	chunksReceived atomic.Int64
	framesSent     atomic.Int64
	framesDropped  atomic.Int64
}

// NewSession creates a disconnected session
func NewSession(cfg Config, deps Dependencies, logger *zap.Logger) (*Session, error) {
	if deps.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("audio sink is required")
	}
	if !cfg.Format.Valid() {
		cfg.Format = entities.DefaultPCMFormat
	}
	if cfg.MicRetryDelay <= 0 {
		cfg.MicRetryDelay = DefaultMicRetryDelay
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	s := &Session{
		cfg:       cfg,
		dialer:    deps.Dialer,
		sink:      deps.Sink,
		mic:       deps.Microphone,
		clock:     clk,
		logger:    logger,
		validator: websocket.NewMessageValidator(),
		entity:    entities.NewSession(cfg.AgentID, clk.Now()),
		gate:      audio.NewGate(),
	}

	s.buffer = audio.NewJitterBuffer(cfg.Jitter, clk, logger.Named("jitter"))
	// the gate closes in the same step that accepts agent audio
	s.buffer.OnAccept(func() { s.gate.SetSpeaking(true) })

	s.player = audio.NewPlaybackController(cfg.Playback, deps.Sink, s.gate, s.buffer, clk, logger.Named("playback"))
	s.player.OnStateChange(s.onPlaybackState)

	s.health = health.NewMonitor(cfg.Health, healthSender{s}, clk, logger.Named("health"))
	s.health.OnReport(s.onHealthReport)

	return s, nil
}

// Subscribe registers a listener and returns a function that removes it
func (s *Session) Subscribe(l Listener) func() {
	return s.events.subscribe(l)
}

// ID returns the session id
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entity.ID
}

// State returns the connection state
func (s *Session) State() entities.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entity.State
}

// Context returns a copy of the current shared context
func (s *Session) Context() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.entity.Context)
}

// Connect dials the agent and starts streaming. It returns once the socket
// is open. initialContext, when not empty, is sent before any audio.
func (s *Session) Connect(ctx context.Context, initialContext map[string]any) error {
	s.mu.Lock()
	if s.entity.State != entities.StateDisconnected {
		s.mu.Unlock()
		return domain.ErrAlreadyConnected
	}
	s.entity.MarkConnecting()
	dialCtx, dialCancel := context.WithCancel(ctx)
	s.dialCancel = dialCancel
	s.aborted = false
	s.mu.Unlock()
	defer dialCancel()

	s.logger.Info("Connecting to agent", zap.String("agentID", s.cfg.AgentID))

	socket, err := s.dialer.Dial(dialCtx)

	s.lifecycle.Lock()
	s.mu.Lock()
	aborted := s.aborted
	s.dialCancel = nil
	if err != nil || aborted {
		s.entity.MarkDisconnected(s.clock.Now())
		s.mu.Unlock()
		s.lifecycle.Unlock()

		if socket != nil {
			socket.Close()
		}
		if aborted {
			s.logger.Info("Connect aborted by disconnect")
			s.emit(Event{Type: EventDisconnected})
			return &domain.TransportError{Op: "dial", Err: context.Canceled}
		}

		terr := &domain.TransportError{Op: "dial", Err: err}
		s.logger.Error("Failed to connect to agent", zap.Error(terr))
		s.emit(Event{Type: EventError, Err: terr})
		return terr
	}

	connCtx, cancel := context.WithCancel(context.Background())
	s.socket = socket
	s.cancel = cancel
	s.streaming = nil
	s.entity.MarkConnected(s.clock.Now())
	sessionID := s.entity.ID
	s.mu.Unlock()

	s.gate.SetConnected(true)
	s.health.Start(connCtx)
	if s.mic != nil {
		s.micWG.Add(1)
		go s.runMicrophone(connCtx)
	}
	s.lifecycle.Unlock()

	if len(initialContext) > 0 {
		if err := s.SendContextUpdate(initialContext); err != nil {
			s.logger.Warn("Failed to send initial context", zap.Error(err))
		}
	}

	if !s.owns(socket) {
		s.logger.Info("Connect superseded by disconnect", zap.String("sessionID", sessionID))
		return &domain.TransportError{Op: "dial", Err: context.Canceled}
	}

	s.logger.Info("Connected to agent",
		zap.String("sessionID", sessionID),
		zap.String("agentID", s.cfg.AgentID))
	s.emit(Event{Type: EventConnected})

	go s.readLoop(socket)
	return nil
}

// Disconnect closes the connection. Calling it again, or on a session that
// never connected, does nothing.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.entity.State == entities.StateConnecting && s.dialCancel != nil {
		s.aborted = true
		s.dialCancel()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if !s.teardown(nil) {
		return nil
	}

	s.logger.Info("Disconnected from agent")
	s.emit(Event{Type: EventDisconnected})
	return nil
}

// SendContextUpdate replaces the shared context and sends it to the agent
func (s *Session) SendContextUpdate(ctx map[string]any) error {
	if err := s.sendJSON(websocket.NewContextUpdateMessage(ctx)); err != nil {
		return err
	}

	s.mu.Lock()
	s.entity.ReplaceContext(maps.Clone(ctx))
	s.mu.Unlock()

	s.logger.Debug("Sent context update", zap.Int("keys", len(ctx)))
	return nil
}

// SetMuted mutes or unmutes the microphone. Mute survives reconnects.
func (s *Session) SetMuted(muted bool) {
	s.gate.SetMuted(muted)
	s.logger.Info("Microphone mute changed", zap.Bool("muted", muted))
}

// Muted reports whether the microphone is muted
func (s *Session) Muted() bool {
	return s.gate.Muted()
}

// CanTransmit reports whether a microphone frame would be sent right now
func (s *Session) CanTransmit() bool {
	return s.gate.CanTransmit()
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		SessionID:      s.entity.ID,
		AgentID:        s.entity.AgentID,
		ConversationID: s.entity.ConversationID,
		State:          s.entity.State,
		Context:        maps.Clone(s.entity.Context),
		ConnectedAt:    s.entity.ConnectedAt,
	}
	s.mu.RUnlock()

	st.Muted = s.gate.Muted()
	st.AgentSpeaking = s.gate.Speaking()
	st.PendingChunks = s.buffer.Pending()
	st.ChunksReceived = s.chunksReceived.Load()
	st.FramesSent = s.framesSent.Load()
	st.FramesDropped = s.framesDropped.Load()
	st.BatchesPlayed, st.BatchesFailed = s.player.Stats()
	st.Health = s.health.Report()
	return st
}

// owns reports whether socket is still the live connection
func (s *Session) owns(socket Socket) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.socket == socket
}

// teardown releases the connection identified by socket, or the current one
// when socket is nil. It reports false when that connection is already gone.
func (s *Session) teardown(socket Socket) bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.socket == nil || (socket != nil && s.socket != socket) {
		s.mu.Unlock()
		return false
	}
	current := s.socket
	cancel := s.cancel
	s.socket = nil
	s.cancel = nil
	s.streaming = nil
	s.entity.MarkDisconnected(s.clock.Now())
	s.mu.Unlock()

	s.gate.SetConnected(false)
	cancel()
	s.health.Stop()
	s.micWG.Wait()
	s.buffer.Reset()

	if err := current.Close(); err != nil {
		s.logger.Debug("Error closing socket", zap.Error(err))
	}
	return true
}

func (s *Session) readLoop(socket Socket) {
	for {
		message, err := socket.ReadMessage()
		if err != nil {
			s.onSocketClosed(socket, err)
			return
		}
		s.dispatch(message)
	}
}

func (s *Session) onSocketClosed(socket Socket, err error) {
	if !s.teardown(socket) {
		return
	}

	if errors.Is(err, io.EOF) {
		s.logger.Info("Agent closed the connection", zap.Error(err))
		s.emit(Event{Type: EventDisconnected})
		return
	}

	terr := &domain.TransportError{Op: "read", Err: err}
	s.logger.Error("Connection lost", zap.Error(terr))
	s.emit(Event{Type: EventError, Err: terr})
	s.emit(Event{Type: EventDisconnected})
}

func (s *Session) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	s.mu.RLock()
	socket := s.socket
	s.mu.RUnlock()

	if socket == nil {
		return domain.ErrNotConnected
	}
	if err := socket.WriteMessage(payload); err != nil {
		return &domain.TransportError{Op: "send", Err: err}
	}
	return nil
}

// transmit sends one microphone frame if the gate allows it
func (s *Session) transmit(frame []byte) {
	if !s.gate.CanTransmit() {
		s.framesDropped.Add(1)
		return
	}

	if err := s.sendJSON(websocket.NewUserAudioChunkMessage(codec.Encode(frame))); err != nil {
		s.framesDropped.Add(1)
		s.logger.Debug("Failed to send microphone frame", zap.Error(err))
		return
	}
	s.framesSent.Add(1)
}

func (s *Session) emit(ev Event) {
	ev.SessionID = s.ID()
	ev.Timestamp = s.clock.Now()
	if ev.Err != nil {
		ev.Error = ev.Err.Error()
	}
	s.events.emit(ev)
}

func (s *Session) onPlaybackState(state audio.PlaybackState) {
	speaking := state == audio.PlaybackPlaying
	s.emit(Event{Type: EventAgentSpeaking, Speaking: &speaking})
}

func (s *Session) onHealthReport(r health.Report) {
	s.emit(Event{Type: EventHealth, Health: &HealthInfo{
		RTTMs:        r.RTT.Milliseconds(),
		AverageRTTMs: r.AverageRTT.Milliseconds(),
		Healthy:      r.Healthy,
	}})
}

// healthSender lets the health monitor write through the session socket
type healthSender struct {
	s *Session
}

func (h healthSender) SendPing(eventID string) error {
	return h.s.sendJSON(websocket.NewPingMessage(eventID))
}

func (h healthSender) SendPong(eventID string) error {
	return h.s.sendJSON(websocket.NewPongMessage(eventID))
}

func newMessageID() string {
	return uuid.NewString()
}

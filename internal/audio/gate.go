package audio

import "sync"

// Gate decides whether microphone frames may leave the process. It is
// closed while the agent speaks, while either mute flag is set, and while
// the socket is not open. Frames offered to a closed gate are dropped.
type Gate struct {
	mu            sync.RWMutex
	speaking      bool
	mutedByUser   bool
	mutedBySystem bool
	connected     bool
}

// NewGate creates a gate for a disconnected session
func NewGate() *Gate {
	return &Gate{}
}

// SetSpeaking marks agent playback as active or finished
func (g *Gate) SetSpeaking(speaking bool) {
	g.mu.Lock()
	g.speaking = speaking
	g.mu.Unlock()
}

// SetMuted sets the user mute flag
func (g *Gate) SetMuted(muted bool) {
	g.mu.Lock()
	g.mutedByUser = muted
	g.mu.Unlock()
}

// SetSystemMuted sets the system mute flag
func (g *Gate) SetSystemMuted(muted bool) {
	g.mu.Lock()
	g.mutedBySystem = muted
	g.mu.Unlock()
}

// SetConnected records whether the socket is open
func (g *Gate) SetConnected(connected bool) {
	g.mu.Lock()
	g.connected = connected
	g.mu.Unlock()
}

// CanTransmit reports whether a microphone frame may be sent right now
func (g *Gate) CanTransmit() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected && !g.speaking && !g.mutedByUser && !g.mutedBySystem
}

// Speaking reports whether agent playback holds the gate closed
func (g *Gate) Speaking() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.speaking
}

// Muted reports whether either mute flag is set
func (g *Gate) Muted() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mutedByUser || g.mutedBySystem
}

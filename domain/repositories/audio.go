package repositories

import (
	"context"
	"errors"

	"github.com/satriahrh/arunika/convai/domain/entities"
)

var (
	// ErrDeviceUnavailable means no capture device or capture tool exists
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrDevicePermission means the OS refused access to the capture device
	ErrDevicePermission = errors.New("audio device permission denied")
)

// AudioSink plays raw PCM audio
type AudioSink interface {
	// Play starts playing pcm and returns without waiting for it to finish.
	// done is called exactly once when playback ends or fails. When Play
	// returns an error, done is never called.
	Play(pcm []byte, done func(error)) error
	// Format reports the PCM format the sink expects
	Format() entities.PCMFormat
	Close() error
}

// Microphone captures raw PCM audio
type Microphone interface {
	// Capture streams frames to onFrame until ctx is cancelled or the stream
	// fails. It returns nil only when ctx was cancelled. Errors wrapping
	// ErrDeviceUnavailable or ErrDevicePermission are not worth retrying.
	Capture(ctx context.Context, format entities.PCMFormat, onFrame func([]byte)) error
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by commands that need an open socket
	ErrNotConnected = errors.New("conversation is not connected")
	// ErrAlreadyConnected is returned by Connect when a connection is open or in progress
	ErrAlreadyConnected = errors.New("conversation is already connected")
	// ErrPlaybackStalled is reported when the sink never signals completion
	ErrPlaybackStalled = errors.New("playback stalled")
)

// TransportError wraps a websocket failure. The session is forced to
// disconnected and the operation is not retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is raised for inbound messages or audio payloads that cannot
// be parsed. Offending messages are dropped.
type DecodeError struct {
	Kind string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DeviceError wraps a microphone failure. Permanent errors stop capture.
type DeviceError struct {
	Err       error
	Permanent bool
}

func (e *DeviceError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("microphone (permanent): %v", e.Err)
	}
	return fmt.Sprintf("microphone: %v", e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// PlaybackError is raised when the audio sink rejects a batch
type PlaybackError struct {
	Bytes int
	Err   error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback of %d bytes: %v", e.Bytes, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Package codec converts PCM audio to and from the text form carried in
// websocket messages, and frames PCM as WAV for file output.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// FormatError reports a payload that is not valid base64
type FormatError struct {
	Offset int64
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid base64 audio at byte %d: %v", e.Offset, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Encode returns the base64 text form of pcm
func Encode(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// Decode parses the base64 text form back to PCM bytes
func Decode(s string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var corrupt base64.CorruptInputError
		if errors.As(err, &corrupt) {
			return nil, &FormatError{Offset: int64(corrupt), Err: err}
		}
		return nil, &FormatError{Offset: -1, Err: err}
	}
	return pcm, nil
}

package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/satriahrh/arunika/convai/domain/entities"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header
const WAVHeaderSize = 44

// WAVHeader builds the 44-byte header for dataLen bytes of PCM in format f.
func WAVHeader(dataLen int, f entities.PCMFormat) []byte {
	h := make([]byte, WAVHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(f.BytesRate()))
	binary.LittleEndian.PutUint16(h[32:34], uint16(f.BytesPerSample()))
	binary.LittleEndian.PutUint16(h[34:36], uint16(f.BitDepth))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// WriteWAV writes pcm to w as a complete WAV file
func WriteWAV(w io.Writer, pcm []byte, f entities.PCMFormat) error {
	if !f.Valid() {
		return fmt.Errorf("unsupported pcm format %+v", f)
	}
	if _, err := w.Write(WAVHeader(len(pcm), f)); err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("failed to write wav data: %w", err)
	}
	return nil
}

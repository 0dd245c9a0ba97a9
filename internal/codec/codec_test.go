package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/satriahrh/arunika/convai/domain/entities"
)

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, size := range []int{0, 1, 2, 3, 320, 3200, 4097} {
		pcm := make([]byte, size)
		rng.Read(pcm)

		got, err := Decode(Encode(pcm))
		if err != nil {
			t.Fatalf("Decode failed for %d bytes: %v", size, err)
		}
		if !bytes.Equal(got, pcm) {
			t.Errorf("Round trip mismatch for %d bytes", size)
		}
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		offset int64
	}{
		{name: "bad character", input: "AAA*", offset: 3},
		{name: "bad padding", input: "AA=A", offset: 2},
		{name: "truncated", input: "AAAAA", offset: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("Expected FormatError, got %v", err)
			}
			if fe.Offset != tt.offset {
				t.Errorf("Expected offset %d, got %d", tt.offset, fe.Offset)
			}
		})
	}
}

func TestWriteWAV(t *testing.T) {
	pcm := make([]byte, 3200)
	var buf bytes.Buffer

	if err := WriteWAV(&buf, pcm, entities.DefaultPCMFormat); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}

	out := buf.Bytes()
	if len(out) != WAVHeaderSize+len(pcm) {
		t.Fatalf("Expected %d bytes, got %d", WAVHeaderSize+len(pcm), len(out))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" || string(out[36:40]) != "data" {
		t.Error("Expected RIFF/WAVE/data markers")
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 3200 {
		t.Errorf("Expected data length 3200, got %d", got)
	}

	if err := WriteWAV(&buf, pcm, entities.PCMFormat{}); err == nil {
		t.Error("Expected error for zero format")
	}
}

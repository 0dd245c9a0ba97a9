package entities

import "time"

// PCMFormat describes raw little-endian signed PCM audio
type PCMFormat struct {
	SampleRate int `json:"sampleRate" yaml:"sample_rate"`
	Channels   int `json:"channels" yaml:"channels"`
	BitDepth   int `json:"bitDepth" yaml:"bit_depth"`
}

// DefaultPCMFormat is 16 kHz mono 16-bit, the format the agent speaks and listens in.
var DefaultPCMFormat = PCMFormat{SampleRate: 16000, Channels: 1, BitDepth: 16}

// BytesPerSample returns the size of one frame across all channels.
func (f PCMFormat) BytesPerSample() int {
	return f.Channels * f.BitDepth / 8
}

// BytesRate returns the number of bytes per second of audio.
func (f PCMFormat) BytesRate() int {
	return f.SampleRate * f.BytesPerSample()
}

// Duration returns the playback duration of n bytes.
func (f PCMFormat) Duration(n int) time.Duration {
	rate := f.BytesRate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// BytesInDuration returns the byte length of d, aligned to whole samples.
func (f PCMFormat) BytesInDuration(d time.Duration) int {
	n := int(int64(f.BytesRate()) * int64(d) / int64(time.Second))
	if bps := f.BytesPerSample(); bps > 0 {
		n -= n % bps
	}
	return n
}

// Valid reports whether the format can be played
func (f PCMFormat) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && (f.BitDepth == 8 || f.BitDepth == 16 || f.BitDepth == 32)
}

// AudioChunk is one decoded unit of agent audio. It is never mutated after
// it is received.
type AudioChunk struct {
	Data      []byte
	Timestamp time.Time
	Seq       int64
}

// Before reports whether c was captured before o. Seq breaks timestamp ties.
func (c AudioChunk) Before(o AudioChunk) bool {
	if !c.Timestamp.Equal(o.Timestamp) {
		return c.Timestamp.Before(o.Timestamp)
	}
	return c.Seq < o.Seq
}

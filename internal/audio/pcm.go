// ABOUTME: Deterministic PCM passthrough codec used as a test double
// ABOUTME: Encodes frames as little-endian int16 bytes with no compression
package audio

import (
	"encoding/binary"
	"fmt"
)

// PCMCodec is the deterministic codec double: payloads are raw little-endian
// int16 samples. It honors the same frame contract as the real codec.
type PCMCodec struct {
	channels int
}

// NewPCMCodec creates a passthrough codec.
func NewPCMCodec(channels int) *PCMCodec {
	return &PCMCodec{channels: channels}
}

// Decode parses little-endian int16 bytes into one PCM frame.
func (c *PCMCodec) Decode(data []byte) ([]int16, error) {
	want := FrameSamples(c.channels) * 2
	if len(data) != want {
		return nil, fmt.Errorf("pcm payload length %d, want %d bytes", len(data), want)
	}

	pcm := make([]int16, FrameSamples(c.channels))
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return pcm, nil
}

// Encode serializes one PCM frame as little-endian int16 bytes.
func (c *PCMCodec) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != FrameSamples(c.channels) {
		return nil, fmt.Errorf("pcm frame length %d, want %d", len(pcm), FrameSamples(c.channels))
	}

	data := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}
	return data, nil
}

func (c *PCMCodec) Close() error { return nil }

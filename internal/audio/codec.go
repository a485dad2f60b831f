// ABOUTME: Audio codec interface with runtime-selected implementations
// ABOUTME: Fixed contract: 48kHz, 1-2 channels, 2.5ms (120 samples/channel) frames
package audio

import "fmt"

const (
	// SampleRate is the only supported rate.
	SampleRate = 48000

	// FrameSamplesPerChannel is the samples per channel in one 2.5ms frame.
	FrameSamplesPerChannel = 120

	// FrameDurationMs is the duration of one frame.
	FrameDurationMs = 2.5
)

// Codec converts between encoded payloads and interleaved int16 PCM frames.
// Implementations return an error (never panic) on malformed input; the
// caller counts the failure and skips the frame.
type Codec interface {
	// Decode converts an encoded payload to one PCM frame.
	Decode(data []byte) ([]int16, error)
	// Encode converts one PCM frame to an encoded payload.
	Encode(pcm []int16) ([]byte, error)
	Close() error
}

// NewCodec selects a codec implementation at construction time.
// Supported names: "opus" (real codec) and "pcm" (deterministic double).
func NewCodec(name string, channels int) (Codec, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d", channels)
	}
	switch name {
	case "opus":
		return NewOpusCodec(channels)
	case "pcm":
		return NewPCMCodec(channels), nil
	default:
		return nil, fmt.Errorf("unsupported codec: %s", name)
	}
}

// FrameSamples returns the interleaved sample count of one frame.
func FrameSamples(channels int) int {
	return FrameSamplesPerChannel * channels
}

// ABOUTME: Audio output sink interface with runtime-selected implementations
// ABOUTME: Sinks accept exact block-size PCM frames and report their latency
package output

import "fmt"

const (
	// MinBlockSize and MaxBlockSize bound the sink block size in samples
	// per channel.
	MinBlockSize = 64
	MaxBlockSize = 512
)

// Sink plays interleaved int16 PCM. Write expects exactly
// blockSize*channels samples and reports success; it never blocks the
// caller beyond handing the block to the device buffer.
type Sink interface {
	Start() error
	Write(pcm []int16) bool
	EstimatedLatencyMs() float64
	// Underruns counts writes the device could not honor.
	Underruns() uint64
	Stop()
}

// NewSink selects a sink implementation at construction time.
// Supported names: "oto" (real playback) and "mock" (deterministic double).
func NewSink(name string, sampleRate, channels, blockSize int) (Sink, error) {
	if err := ValidateBlockSize(blockSize); err != nil {
		return nil, err
	}
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d", channels)
	}
	switch name {
	case "oto":
		return NewOtoSink(sampleRate, channels, blockSize)
	case "mock":
		return NewMockSink(channels, blockSize), nil
	default:
		return nil, fmt.Errorf("unsupported sink: %s", name)
	}
}

// ValidateBlockSize checks the sink block-size bounds.
func ValidateBlockSize(blockSize int) error {
	if blockSize < MinBlockSize || blockSize > MaxBlockSize {
		return fmt.Errorf("block size %d out of range [%d, %d]",
			blockSize, MinBlockSize, MaxBlockSize)
	}
	return nil
}

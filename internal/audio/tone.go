// ABOUTME: Sine tone generator producing codec-sized PCM frames
// ABOUTME: Stands in for the mobile capture source in the test sender
package audio

import (
	"math"
	"sync"
)

// ToneSource generates a sine tone, one frame at a time.
type ToneSource struct {
	mu          sync.Mutex
	sampleIndex uint64
	frequency   float64
	channels    int
}

// NewToneSource creates a 440Hz tone generator.
func NewToneSource(channels int) *ToneSource {
	return &ToneSource{frequency: 440.0, channels: channels}
}

// NextFrame returns the next interleaved PCM frame at 50% volume.
func (s *ToneSource) NextFrame() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := make([]int16, FrameSamples(s.channels))
	for i := 0; i < FrameSamplesPerChannel; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(SampleRate)
		value := int16(math.Sin(2*math.Pi*s.frequency*t) * 32767.0 * 0.5)
		for ch := 0; ch < s.channels; ch++ {
			frame[i*s.channels+ch] = value
		}
	}
	s.sampleIndex += FrameSamplesPerChannel
	return frame
}

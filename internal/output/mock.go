// ABOUTME: Deterministic output sink used as a test double
// ABOUTME: Records written blocks and reports a fixed simulated latency
package output

import (
	"sync"
	"sync/atomic"
)

// MockSink records writes instead of playing them.
type MockSink struct {
	channels  int
	blockSize int

	mu      sync.Mutex
	blocks  [][]int16
	started bool

	latencyMs float64
	failing   bool
	underruns atomic.Uint64
}

// NewMockSink creates a sink double with a 2ms simulated latency.
func NewMockSink(channels, blockSize int) *MockSink {
	return &MockSink{channels: channels, blockSize: blockSize, latencyMs: 2.0}
}

func (s *MockSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

// Write records the block. Wrong-size blocks and writes while failing or
// stopped are refused.
func (s *MockSink) Write(pcm []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.failing || len(pcm) != s.blockSize*s.channels {
		s.underruns.Add(1)
		return false
	}
	block := make([]int16, len(pcm))
	copy(block, pcm)
	s.blocks = append(s.blocks, block)
	return true
}

func (s *MockSink) EstimatedLatencyMs() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latencyMs
}

func (s *MockSink) Underruns() uint64 {
	return s.underruns.Load()
}

func (s *MockSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
}

// SetLatencyMs adjusts the simulated device latency.
func (s *MockSink) SetLatencyMs(ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencyMs = ms
}

// SetFailing makes subsequent writes fail.
func (s *MockSink) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// Blocks returns copies of the recorded blocks.
func (s *MockSink) Blocks() [][]int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]int16, len(s.blocks))
	copy(out, s.blocks)
	return out
}

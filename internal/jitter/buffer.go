// ABOUTME: Sequence-ordered jitter buffer for decoded audio frames
// ABOUTME: Bounded capacity with duplicate rejection and oldest-first eviction
package jitter

import (
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	MinCapacity = 1
	MaxCapacity = 20

	MinFrameSize = 64
	MaxFrameSize = 1024

	MinChannels = 1
	MaxChannels = 2
)

// Frame is one decoded PCM frame keyed by its transport sequence id.
type Frame struct {
	SequenceID uint32
	Timestamp  uint64 // capture time in microseconds
	Samples    []int16
}

// Buffer reorders decoded frames by sequence id under a fixed capacity.
// Retrieval is best-effort ordered: the smallest sequence currently present
// is returned, without waiting for contiguity. Safe for concurrent use.
type Buffer struct {
	mu sync.Mutex

	capacity  int
	frameSize int // samples per channel
	channels  int

	frames       map[uint32]Frame
	nextExpected uint32

	packetsAdded      atomic.Uint64
	packetsRetrieved  atomic.Uint64
	packetsDropped    atomic.Uint64
	duplicatesDropped atomic.Uint64

	lastTimestamp  uint64
	jitterSumMs    float64
	jitterCount    uint64
	maxSequenceGap uint32
}

// NewBuffer creates a buffer. Construction fails when capacity, frame size,
// or channel count fall outside their bounds.
func NewBuffer(capacity, frameSize, channels int) (*Buffer, error) {
	if capacity < MinCapacity || capacity > MaxCapacity {
		return nil, fmt.Errorf("jitter buffer capacity %d out of range [%d, %d]",
			capacity, MinCapacity, MaxCapacity)
	}
	if frameSize < MinFrameSize || frameSize > MaxFrameSize {
		return nil, fmt.Errorf("frame size %d out of range [%d, %d]",
			frameSize, MinFrameSize, MaxFrameSize)
	}
	if channels < MinChannels || channels > MaxChannels {
		return nil, fmt.Errorf("channel count %d out of range [%d, %d]",
			channels, MinChannels, MaxChannels)
	}

	return &Buffer{
		capacity:  capacity,
		frameSize: frameSize,
		channels:  channels,
		frames:    make(map[uint32]Frame, capacity),
	}, nil
}

// AddPacket inserts a decoded frame. Duplicates are rejected and counted.
// When the buffer is full the entry with the smallest sequence id is
// evicted first and counted as dropped. The frame's sample count must equal
// frameSize*channels.
func (b *Buffer) AddPacket(sequenceID uint32, timestamp uint64, samples []int16) bool {
	if len(samples) != b.frameSize*b.channels {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.frames[sequenceID]; exists {
		b.duplicatesDropped.Add(1)
		return false
	}

	if len(b.frames) >= b.capacity {
		b.evictOldestLocked()
	}

	b.frames[sequenceID] = Frame{SequenceID: sequenceID, Timestamp: timestamp, Samples: samples}
	b.packetsAdded.Add(1)

	b.updateJitterLocked(timestamp)
	if b.packetsAdded.Load() > 1 && sequenceID > b.nextExpected {
		if gap := sequenceID - b.nextExpected; gap > b.maxSequenceGap {
			b.maxSequenceGap = gap
		}
	}
	return true
}

// NextPacket removes and returns the frame with the smallest sequence id
// currently present. It returns false when the buffer is empty.
func (b *Buffer) NextPacket() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq, ok := b.smallestSequenceLocked()
	if !ok {
		return Frame{}, false
	}

	frame := b.frames[seq]
	delete(b.frames, seq)
	b.nextExpected = seq + 1
	b.packetsRetrieved.Add(1)
	return frame, true
}

// Clear resets all state and counters.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = make(map[uint32]Frame, b.capacity)
	b.nextExpected = 0
	b.packetsAdded.Store(0)
	b.packetsRetrieved.Store(0)
	b.packetsDropped.Store(0)
	b.duplicatesDropped.Store(0)
	b.lastTimestamp = 0
	b.jitterSumMs = 0
	b.jitterCount = 0
	b.maxSequenceGap = 0
}

// Empty reports whether the buffer holds no frames.
func (b *Buffer) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames) == 0
}

// Full reports whether the buffer is at capacity.
func (b *Buffer) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames) >= b.capacity
}

// Size returns the number of buffered frames.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func (b *Buffer) Capacity() int  { return b.capacity }
func (b *Buffer) FrameSize() int { return b.frameSize }
func (b *Buffer) Channels() int  { return b.channels }

func (b *Buffer) PacketsAdded() uint64      { return b.packetsAdded.Load() }
func (b *Buffer) PacketsRetrieved() uint64  { return b.packetsRetrieved.Load() }
func (b *Buffer) PacketsDropped() uint64    { return b.packetsDropped.Load() }
func (b *Buffer) DuplicatesDropped() uint64 { return b.duplicatesDropped.Load() }

// AverageJitterMs returns the mean inter-packet timestamp delta.
func (b *Buffer) AverageJitterMs() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.jitterCount == 0 {
		return 0
	}
	return b.jitterSumMs / float64(b.jitterCount)
}

// MaxSequenceGap returns the largest observed gap between an inserted
// sequence id and the next expected one.
func (b *Buffer) MaxSequenceGap() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxSequenceGap
}

func (b *Buffer) smallestSequenceLocked() (uint32, bool) {
	if len(b.frames) == 0 {
		return 0, false
	}
	first := true
	var smallest uint32
	for seq := range b.frames {
		if first || seq < smallest {
			smallest = seq
			first = false
		}
	}
	return smallest, true
}

func (b *Buffer) evictOldestLocked() {
	seq, ok := b.smallestSequenceLocked()
	if !ok {
		return
	}
	delete(b.frames, seq)
	b.packetsDropped.Add(1)
}

func (b *Buffer) updateJitterLocked(timestamp uint64) {
	if b.lastTimestamp != 0 {
		var delta uint64
		if timestamp > b.lastTimestamp {
			delta = timestamp - b.lastTimestamp
		} else {
			delta = b.lastTimestamp - timestamp
		}
		b.jitterSumMs += float64(delta) / 1000
		b.jitterCount++
	}
	b.lastTimestamp = timestamp
}

// ABOUTME: Tests for the fixed-capacity jitter buffer
// ABOUTME: Covers ordering, duplicates, eviction, and the capacity invariant
package jitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(fill int16) []int16 {
	samples := make([]int16, 120)
	for i := range samples {
		samples[i] = fill
	}
	return samples
}

func TestNewBufferValidation(t *testing.T) {
	cases := []struct {
		name                          string
		capacity, frameSize, channels int
	}{
		{"capacity too small", 0, 120, 1},
		{"capacity too large", 21, 120, 1},
		{"frame too small", 5, 32, 1},
		{"frame too large", 5, 2048, 1},
		{"zero channels", 5, 120, 0},
		{"too many channels", 5, 120, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBuffer(tc.capacity, tc.frameSize, tc.channels)
			assert.Error(t, err)
		})
	}

	b, err := NewBuffer(5, 120, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, b.Capacity())
}

func TestAddAndRetrieveInOrder(t *testing.T) {
	b, err := NewBuffer(5, 120, 1)
	require.NoError(t, err)

	// Insert out of order.
	require.True(t, b.AddPacket(3, 300, testFrame(3)))
	require.True(t, b.AddPacket(1, 100, testFrame(1)))
	require.True(t, b.AddPacket(2, 200, testFrame(2)))

	for want := uint32(1); want <= 3; want++ {
		frame, ok := b.NextPacket()
		require.True(t, ok)
		assert.Equal(t, want, frame.SequenceID)
	}

	_, ok := b.NextPacket()
	assert.False(t, ok)
}

func TestRejectsWrongFrameSize(t *testing.T) {
	b, err := NewBuffer(5, 120, 2)
	require.NoError(t, err)

	// 120 samples is only one channel's worth for stereo.
	assert.False(t, b.AddPacket(1, 100, testFrame(1)))
	assert.True(t, b.AddPacket(1, 100, make([]int16, 240)))
}

func TestDuplicateRejection(t *testing.T) {
	b, err := NewBuffer(5, 120, 1)
	require.NoError(t, err)

	require.True(t, b.AddPacket(1, 100, testFrame(1)))
	assert.False(t, b.AddPacket(1, 100, testFrame(1)))

	assert.Equal(t, uint64(1), b.DuplicatesDropped())
	assert.Equal(t, 1, b.Size())
}

func TestEvictionPolicy(t *testing.T) {
	// Spec scenario: capacity 2, add 1 and 2, then 3 evicts 1.
	b, err := NewBuffer(2, 120, 1)
	require.NoError(t, err)

	require.True(t, b.AddPacket(1, 100, testFrame(1)))
	require.True(t, b.AddPacket(2, 200, testFrame(2)))
	require.True(t, b.Full())

	require.True(t, b.AddPacket(3, 300, testFrame(3)))
	assert.Equal(t, 2, b.Size())
	assert.Equal(t, uint64(1), b.PacketsDropped())

	first, ok := b.NextPacket()
	require.True(t, ok)
	assert.Equal(t, uint32(2), first.SequenceID)

	second, ok := b.NextPacket()
	require.True(t, ok)
	assert.Equal(t, uint32(3), second.SequenceID)
}

func TestCapacityInvariant(t *testing.T) {
	b, err := NewBuffer(4, 120, 1)
	require.NoError(t, err)

	for seq := uint32(1); seq <= 50; seq++ {
		b.AddPacket(seq, uint64(seq)*2500, testFrame(int16(seq)))
		assert.LessOrEqual(t, b.Size(), 4)
	}
}

func TestJitterDiagnostics(t *testing.T) {
	b, err := NewBuffer(10, 120, 1)
	require.NoError(t, err)

	// Timestamps 2.5ms apart in microseconds.
	b.AddPacket(1, 2500, testFrame(1))
	b.AddPacket(2, 5000, testFrame(2))
	b.AddPacket(3, 7500, testFrame(3))

	assert.InDelta(t, 2.5, b.AverageJitterMs(), 0.001)
}

func TestMaxSequenceGap(t *testing.T) {
	b, err := NewBuffer(10, 120, 1)
	require.NoError(t, err)

	b.AddPacket(1, 100, testFrame(1))
	b.NextPacket() // nextExpected is now 2
	b.AddPacket(8, 800, testFrame(8))

	assert.Equal(t, uint32(6), b.MaxSequenceGap())
}

func TestClearResetsEverything(t *testing.T) {
	b, err := NewBuffer(5, 120, 1)
	require.NoError(t, err)

	b.AddPacket(1, 100, testFrame(1))
	b.AddPacket(1, 100, testFrame(1))
	b.Clear()

	assert.True(t, b.Empty())
	assert.Equal(t, uint64(0), b.PacketsAdded())
	assert.Equal(t, uint64(0), b.DuplicatesDropped())
	assert.Equal(t, uint32(0), b.MaxSequenceGap())
}

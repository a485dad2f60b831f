// ABOUTME: Tests for the network-adaptive jitter buffer
// ABOUTME: Covers convergence under poor conditions and lossless migration
package jitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AudioBridge-Protocol/audiobridge-go/internal/netmon"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.UpdateInterval = time.Nanosecond
	return cfg
}

// poorMonitor returns a monitor observing 50% sustained packet loss.
func poorMonitor() *netmon.Monitor {
	m := netmon.New(netmon.DefaultWindowSize, time.Nanosecond)
	for seq := uint32(1); seq <= 100; seq++ {
		m.RecordPacketSent(seq, 100)
	}
	for seq := uint32(1); seq <= 50; seq++ {
		m.RecordPacketReceived(seq, 100)
	}
	return m
}

func TestNewAdaptiveValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinCapacity = 8
	cfg.MaxCapacity = 4
	_, err := NewAdaptive(120, 1, nil, cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.DefaultCapacity = 99
	_, err = NewAdaptive(120, 1, nil, cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.AdaptationRate = 1.5
	_, err = NewAdaptive(120, 1, nil, cfg)
	assert.Error(t, err)
}

func TestStartsAtDefaultCapacity(t *testing.T) {
	a, err := NewAdaptive(120, 1, nil, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 5, a.Capacity())
}

func TestNoMonitorMeansNoAdaptation(t *testing.T) {
	a, err := NewAdaptive(120, 1, nil, fastConfig())
	require.NoError(t, err)

	a.UpdateAdaptation()
	assert.Equal(t, 5, a.Capacity())
	assert.Equal(t, uint64(0), a.Stats().Adaptations)
}

func TestConvergesTowardMaxUnderPoorQuality(t *testing.T) {
	a, err := NewAdaptive(120, 1, poorMonitor(), fastConfig())
	require.NoError(t, err)

	prev := a.Capacity()
	for i := 0; i < 20 && a.Capacity() < a.Config().MaxCapacity; i++ {
		time.Sleep(minAdaptationInterval + 10*time.Millisecond)
		a.UpdateAdaptation()

		current := a.Capacity()
		assert.GreaterOrEqual(t, current, prev, "capacity moved away from target")
		assert.LessOrEqual(t, current-prev, 2, "step larger than expected")
		assert.LessOrEqual(t, current, a.Config().MaxCapacity)
		prev = current
	}

	assert.Equal(t, a.Config().MaxCapacity, a.Capacity(),
		"sustained poor quality should drive capacity to max")
}

func TestAdaptationFloorBetweenChanges(t *testing.T) {
	a, err := NewAdaptive(120, 1, poorMonitor(), fastConfig())
	require.NoError(t, err)

	time.Sleep(minAdaptationInterval + 10*time.Millisecond)
	a.UpdateAdaptation()
	after := a.Capacity()
	require.Greater(t, after, 5)

	// Immediately retrying must not change capacity again.
	a.UpdateAdaptation()
	assert.Equal(t, after, a.Capacity())
}

func TestSetCapacityBounds(t *testing.T) {
	a, err := NewAdaptive(120, 1, nil, DefaultConfig())
	require.NoError(t, err)

	assert.False(t, a.SetCapacity(2))
	assert.False(t, a.SetCapacity(11))
	assert.True(t, a.SetCapacity(8))
	assert.Equal(t, 8, a.Capacity())
}

func TestMigrationPreservesFrames(t *testing.T) {
	a, err := NewAdaptive(120, 1, nil, DefaultConfig())
	require.NoError(t, err)

	for seq := uint32(1); seq <= 4; seq++ {
		require.True(t, a.AddPacket(seq, uint64(seq)*2500, testFrame(int16(seq))))
	}

	require.True(t, a.SetCapacity(9))
	assert.Equal(t, 4, a.Size())

	for want := uint32(1); want <= 4; want++ {
		frame, ok := a.NextPacket()
		require.True(t, ok)
		assert.Equal(t, want, frame.SequenceID)
		assert.Equal(t, testFrame(int16(want)), frame.Samples)
		assert.Equal(t, uint64(want)*2500, frame.Timestamp)
	}
}

func TestUnderrunCounting(t *testing.T) {
	a, err := NewAdaptive(120, 1, nil, DefaultConfig())
	require.NoError(t, err)

	_, ok := a.NextPacket()
	assert.False(t, ok)
	_, _ = a.NextPacket()

	assert.Equal(t, uint64(2), a.Stats().Underruns)
}

func TestUtilizationTracking(t *testing.T) {
	a, err := NewAdaptive(120, 1, nil, DefaultConfig())
	require.NoError(t, err)

	for seq := uint32(1); seq <= 5; seq++ {
		a.AddPacket(seq, uint64(seq)*2500, testFrame(int16(seq)))
	}

	assert.Greater(t, a.Stats().AverageUtilization, 0.0)
	assert.True(t, a.Full())
}

func TestReset(t *testing.T) {
	a, err := NewAdaptive(120, 1, poorMonitor(), fastConfig())
	require.NoError(t, err)

	a.AddPacket(1, 2500, testFrame(1))
	require.True(t, a.SetCapacity(9))

	a.Reset()

	assert.Equal(t, 5, a.Capacity())
	assert.True(t, a.Empty())
	assert.Equal(t, uint64(0), a.Stats().Adaptations)
}

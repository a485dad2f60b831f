// ABOUTME: Tests for sink selection and the mock sink double
// ABOUTME: Real oto playback is exercised manually, not here
package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSinkValidation(t *testing.T) {
	_, err := NewSink("mock", 48000, 2, 32)
	assert.Error(t, err, "block size below minimum")

	_, err = NewSink("mock", 48000, 2, 1024)
	assert.Error(t, err, "block size above maximum")

	_, err = NewSink("mock", 48000, 3, 256)
	assert.Error(t, err, "channel count out of range")

	_, err = NewSink("alsa", 48000, 2, 256)
	assert.Error(t, err, "unknown sink name")

	s, err := NewSink("mock", 48000, 2, 256)
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestMockSinkRecordsWrites(t *testing.T) {
	s := NewMockSink(2, 128)
	require.NoError(t, s.Start())

	block := make([]int16, 128*2)
	for i := range block {
		block[i] = int16(i)
	}
	require.True(t, s.Write(block))

	// The sink keeps its own copy.
	block[0] = -1
	got := s.Blocks()
	require.Len(t, got, 1)
	assert.Equal(t, int16(0), got[0][0])
}

func TestMockSinkRejectsWrongSize(t *testing.T) {
	s := NewMockSink(1, 128)
	require.NoError(t, s.Start())

	assert.False(t, s.Write(make([]int16, 127)))
	assert.Equal(t, uint64(1), s.Underruns())
}

func TestMockSinkFailureToggle(t *testing.T) {
	s := NewMockSink(1, 64)
	require.NoError(t, s.Start())

	s.SetFailing(true)
	assert.False(t, s.Write(make([]int16, 64)))

	s.SetFailing(false)
	assert.True(t, s.Write(make([]int16, 64)))
}

func TestMockSinkStoppedRefusesWrites(t *testing.T) {
	s := NewMockSink(1, 64)
	require.NoError(t, s.Start())
	s.Stop()
	assert.False(t, s.Write(make([]int16, 64)))
}

func TestMockSinkLatency(t *testing.T) {
	s := NewMockSink(2, 256)
	assert.InDelta(t, 2.0, s.EstimatedLatencyMs(), 0.001)
	s.SetLatencyMs(7.5)
	assert.InDelta(t, 7.5, s.EstimatedLatencyMs(), 0.001)
}

func TestValidateBlockSize(t *testing.T) {
	assert.NoError(t, ValidateBlockSize(MinBlockSize))
	assert.NoError(t, ValidateBlockSize(MaxBlockSize))
	assert.Error(t, ValidateBlockSize(MinBlockSize-1))
	assert.Error(t, ValidateBlockSize(MaxBlockSize+1))
}

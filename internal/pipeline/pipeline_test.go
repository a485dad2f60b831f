// ABOUTME: End-to-end tests for the receive pipeline
// ABOUTME: Uses the PCM codec and mock sink doubles for determinism
package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AudioBridge-Protocol/audiobridge-go/internal/audio"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/fec"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/jitter"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/output"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/packet"
)

const testChannels = 1

func testBuffer(t *testing.T) *jitter.AdaptiveBuffer {
	t.Helper()
	config := jitter.DefaultConfig()
	config.MaxCapacity = 20
	config.DefaultCapacity = 20
	config.UpdateInterval = time.Hour
	buf, err := jitter.NewAdaptive(audio.FrameSamplesPerChannel, testChannels, nil, config)
	require.NoError(t, err)
	return buf
}

func testPipeline(t *testing.T, decoder *fec.Decoder) (*Pipeline, *output.MockSink) {
	t.Helper()
	codec, err := audio.NewCodec("pcm", testChannels)
	require.NoError(t, err)
	sink := output.NewMockSink(testChannels, audio.FrameSamplesPerChannel)
	p, err := New(codec, sink, testBuffer(t), decoder, audio.FrameSamplesPerChannel)
	require.NoError(t, err)
	return p, sink
}

// pcmFrame builds one frame whose samples all carry fill, then wraps it as
// FEC datagrams ready for SubmitPacket.
func fecDatagrams(t *testing.T, enc *fec.Encoder, seq uint32, fill int16) [][]byte {
	t.Helper()
	codec, err := audio.NewCodec("pcm", testChannels)
	require.NoError(t, err)

	pcm := make([]int16, audio.FrameSamples(testChannels))
	for i := range pcm {
		pcm[i] = fill
	}
	payload, err := codec.Encode(pcm)
	require.NoError(t, err)

	wire := packet.New(seq, uint64(seq)*2500, payload).Serialize()
	return enc.EncodePacket(seq, wire)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %v", timeout)
}

func TestNewValidation(t *testing.T) {
	codec, err := audio.NewCodec("pcm", testChannels)
	require.NoError(t, err)
	sink := output.NewMockSink(testChannels, 120)
	buf := testBuffer(t)

	_, err = New(nil, sink, buf, nil, 120)
	assert.Error(t, err)

	_, err = New(codec, nil, buf, nil, 120)
	assert.Error(t, err)

	_, err = New(codec, sink, nil, nil, 120)
	assert.Error(t, err)

	_, err = New(codec, sink, buf, nil, 32)
	assert.Error(t, err, "block size below minimum")
}

func TestEndToEndPlayback(t *testing.T) {
	enc := fec.NewEncoder(fec.DefaultEncoderConfig())
	p, sink := testPipeline(t, fec.NewDecoder(0))
	require.NoError(t, p.Start())
	defer p.Stop()

	const n = 8
	for seq := uint32(1); seq <= n; seq++ {
		for _, dg := range fecDatagrams(t, enc, seq, int16(seq)) {
			require.True(t, p.SubmitPacket(dg))
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		return p.Stats().FramesPlayed >= n
	})

	blocks := sink.Blocks()
	require.GreaterOrEqual(t, len(blocks), n)
	// Smallest-sequence ordering means the first block is frame 1.
	assert.Equal(t, int16(1), blocks[0][0])
	assert.Zero(t, p.Stats().DecodeErrors)
}

func TestSubmitRejectsMalformed(t *testing.T) {
	p, _ := testPipeline(t, fec.NewDecoder(0))
	require.NoError(t, p.Start())
	defer p.Stop()

	assert.False(t, p.SubmitPacket(nil))
	assert.False(t, p.SubmitPacket(make([]byte, fec.HeaderSize)))
	assert.False(t, p.SubmitPacket(make([]byte, packet.MaxDatagramSize+1)))
	assert.Equal(t, uint64(3), p.Stats().PacketsRejected)
}

func TestSubmitRefusedWhenStopped(t *testing.T) {
	p, _ := testPipeline(t, nil)
	assert.False(t, p.SubmitPacket(make([]byte, packet.HeaderSize+10)))
}

func TestLostPrimaryRecoveredFromCopies(t *testing.T) {
	enc := fec.NewEncoder(fec.EncoderConfig{
		RedundancyPct:       30,
		WindowSize:          10,
		MaxRecoveryDistance: 5,
	})
	p, _ := testPipeline(t, fec.NewDecoder(5))
	require.NoError(t, p.Start())
	defer p.Stop()

	const n = 10
	const lost = 4
	for seq := uint32(1); seq <= n; seq++ {
		for i, dg := range fecDatagrams(t, enc, seq, int16(seq)) {
			// Drop only the primary framing of the lost packet. Its copies
			// still ride later datagrams.
			if seq == lost && i == 0 {
				continue
			}
			require.True(t, p.SubmitPacket(dg))
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		return p.Stats().FramesPlayed >= n
	})

	stats := p.Stats()
	assert.GreaterOrEqual(t, stats.PacketsRecovered, uint64(1))
	assert.Equal(t, uint64(n), stats.FramesDecoded)
}

func TestWithoutFECDecoder(t *testing.T) {
	p, sink := testPipeline(t, nil)
	require.NoError(t, p.Start())
	defer p.Stop()

	codec, err := audio.NewCodec("pcm", testChannels)
	require.NoError(t, err)
	pcm := make([]int16, audio.FrameSamples(testChannels))
	pcm[0] = 42
	payload, err := codec.Encode(pcm)
	require.NoError(t, err)

	require.True(t, p.SubmitPacket(packet.New(7, 0, payload).Serialize()))
	waitFor(t, time.Second, func() bool {
		return p.Stats().FramesPlayed >= 1
	})
	require.NotEmpty(t, sink.Blocks())
	assert.Equal(t, int16(42), sink.Blocks()[0][0])
}

func TestLatencyAndDeadline(t *testing.T) {
	p, sink := testPipeline(t, nil)
	sink.SetLatencyMs(2.0)
	require.NoError(t, p.Start())
	defer p.Stop()

	waitFor(t, time.Second, func() bool {
		return p.TotalLatencyMs() > 0
	})

	// Empty buffer: decode estimate plus sink latency only.
	assert.InDelta(t, 3.5, p.TotalLatencyMs(), 0.01)
	assert.True(t, p.MeetingRealtimeDeadline())

	sink.SetLatencyMs(20.0)
	waitFor(t, time.Second, func() bool {
		return !p.MeetingRealtimeDeadline()
	})
}

func TestStopDrainsQueues(t *testing.T) {
	enc := fec.NewEncoder(fec.DefaultEncoderConfig())
	p, _ := testPipeline(t, fec.NewDecoder(0))
	require.NoError(t, p.Start())

	for _, dg := range fecDatagrams(t, enc, 1, 1) {
		p.SubmitPacket(dg)
	}
	p.Stop()

	assert.False(t, p.SubmitPacket(make([]byte, 256)))
	// Stop is idempotent.
	p.Stop()
}

func TestSinkFailureCounted(t *testing.T) {
	enc := fec.NewEncoder(fec.DefaultEncoderConfig())
	p, sink := testPipeline(t, fec.NewDecoder(0))
	require.NoError(t, p.Start())
	defer p.Stop()

	sink.SetFailing(true)
	for _, dg := range fecDatagrams(t, enc, 1, 1) {
		p.SubmitPacket(dg)
	}

	waitFor(t, time.Second, func() bool {
		return p.Stats().SinkErrors >= 1
	})
	assert.Zero(t, p.Stats().FramesPlayed)
}

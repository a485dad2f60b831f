// ABOUTME: Real audio output using the oto playback library
// ABOUTME: Streams int16 little-endian PCM through a single oto player
package output

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/sirupsen/logrus"
)

// OtoSink plays PCM through the platform audio device.
type OtoSink struct {
	sampleRate int
	channels   int
	blockSize  int

	otoCtx *oto.Context
	player *oto.Player
	feed   *pcmFeed

	started   bool
	underruns atomic.Uint64
}

// NewOtoSink creates the sink; the device is not opened until Start.
func NewOtoSink(sampleRate, channels, blockSize int) (*OtoSink, error) {
	return &OtoSink{
		sampleRate: sampleRate,
		channels:   channels,
		blockSize:  blockSize,
		feed:       &pcmFeed{},
	}, nil
}

// Start opens the audio device and begins playback.
func (s *OtoSink) Start() error {
	if s.started {
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   s.sampleRate,
		ChannelCount: s.channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize: time.Duration(s.blockSize) * time.Second /
			time.Duration(s.sampleRate) * 2,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	s.otoCtx = ctx
	s.player = ctx.NewPlayer(s.feed)
	s.player.Play()
	s.started = true

	logrus.WithFields(logrus.Fields{
		"sample_rate": s.sampleRate,
		"channels":    s.channels,
		"block_size":  s.blockSize,
	}).Info("Audio output started")
	return nil
}

// Write queues one block for playback.
func (s *OtoSink) Write(pcm []int16) bool {
	if !s.started || len(pcm) != s.blockSize*s.channels {
		s.underruns.Add(1)
		return false
	}

	buf := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	s.feed.push(buf)
	return true
}

// EstimatedLatencyMs reports queued-but-unplayed audio as latency.
func (s *OtoSink) EstimatedLatencyMs() float64 {
	if !s.started {
		return 0
	}
	queued := s.feed.pending() + int(s.player.BufferedSize())
	bytesPerMs := float64(s.sampleRate*s.channels*2) / 1000
	return float64(queued) / bytesPerMs
}

func (s *OtoSink) Underruns() uint64 {
	return s.underruns.Load()
}

// Stop suspends the device.
func (s *OtoSink) Stop() {
	if !s.started {
		return
	}
	if s.player != nil {
		s.player.Pause()
	}
	if s.otoCtx != nil {
		s.otoCtx.Suspend()
	}
	s.started = false
}

// pcmFeed is the io.Reader bridging Write calls to the oto player.
// Reads past the queued data return silence so the device never starves
// into an error state.
type pcmFeed struct {
	mu  sync.Mutex
	buf []byte
}

func (f *pcmFeed) push(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = append(f.buf, data...)
}

func (f *pcmFeed) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

func (f *pcmFeed) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := copy(p, f.buf)
	f.buf = f.buf[n:]
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

var _ io.Reader = (*pcmFeed)(nil)

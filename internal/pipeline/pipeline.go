// ABOUTME: Receive-side processing loop turning raw datagrams into played audio
// ABOUTME: Sequences FEC recovery, codec decode, adaptive buffering and sink output
package pipeline

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AudioBridge-Protocol/audiobridge-go/internal/audio"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/fec"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/jitter"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/output"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/packet"
)

const (
	// TargetLatencyMs is the end-to-end deadline the loop is measured against.
	TargetLatencyMs = 10.0

	// decodeEstimateMs approximates the codec decode stage. Opus decode of a
	// 2.5ms frame lands well under this on every target we run on.
	decodeEstimateMs = 1.5

	// idleWait bounds how long the loop sleeps when no work is queued.
	idleWait = time.Millisecond

	// DefaultQueueDepth is the input queue capacity in datagrams.
	DefaultQueueDepth = 256

	// maxGapScan bounds how many missing sequence ids one arrival may open
	// for recovery, so a corrupt sequence jump cannot stall the loop.
	maxGapScan = 32

	// maxGapRetries bounds how many datagram arrivals a pending gap survives
	// before it is written off as unrecoverable.
	maxGapRetries = 64
)

// Stats is a snapshot of pipeline counters. All counters are cumulative
// since Start.
type Stats struct {
	PacketsSubmitted uint64
	PacketsRejected  uint64
	PacketsDropped   uint64 // queue full
	FramesDecoded    uint64
	DecodeErrors     uint64
	PacketsRecovered uint64
	FramesPlayed     uint64
	SinkErrors       uint64
	SilencePadded    uint64

	TotalLatencyMs float64
	MeetingDeadline bool
}

// Pipeline runs the receive path on a single goroutine. Datagrams enter
// through SubmitPacket; decoded frames leave through the injected sink.
// Every per-stage failure is counted and absorbed, never propagated.
type Pipeline struct {
	codec   audio.Codec
	sink    output.Sink
	buffer  *jitter.AdaptiveBuffer
	decoder *fec.Decoder

	blockSize int
	channels  int

	input  chan []byte
	wake   chan struct{}
	done   chan struct{}
	running atomic.Bool
	stopOnce sync.Once

	// nextExpected is the lowest sequence id not yet handed to the buffer,
	// used to spot gaps worth attempting FEC recovery on. pending holds
	// gaps whose protecting copy has not arrived yet, keyed to a retry
	// count. Both are touched only by the loop goroutine.
	nextExpected uint32
	sawFirst     bool
	pending      map[uint32]int

	packetsSubmitted atomic.Uint64
	packetsRejected  atomic.Uint64
	packetsDropped   atomic.Uint64
	framesDecoded    atomic.Uint64
	decodeErrors     atomic.Uint64
	packetsRecovered atomic.Uint64
	framesPlayed     atomic.Uint64
	sinkErrors       atomic.Uint64
	silencePadded    atomic.Uint64

	totalLatencyBits atomic.Uint64

	log *logrus.Entry
}

// New wires a pipeline. The FEC decoder may be nil, in which case datagrams
// are treated as bare audio packets with no recovery stage.
func New(codec audio.Codec, sink output.Sink, buffer *jitter.AdaptiveBuffer, decoder *fec.Decoder, blockSize int) (*Pipeline, error) {
	if codec == nil {
		return nil, errors.New("pipeline requires a codec")
	}
	if sink == nil {
		return nil, errors.New("pipeline requires an output sink")
	}
	if buffer == nil {
		return nil, errors.New("pipeline requires a jitter buffer")
	}
	if err := output.ValidateBlockSize(blockSize); err != nil {
		return nil, err
	}

	return &Pipeline{
		codec:     codec,
		sink:      sink,
		buffer:    buffer,
		decoder:   decoder,
		blockSize: blockSize,
		channels:  buffer.Buffer().Channels(),
		input:     make(chan []byte, DefaultQueueDepth),
		pending:   make(map[uint32]int),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		log:       logrus.WithField("component", "pipeline"),
	}, nil
}

// Start launches the processing goroutine and the sink.
func (p *Pipeline) Start() error {
	if p.running.Load() {
		return errors.New("pipeline already running")
	}
	if err := p.sink.Start(); err != nil {
		return err
	}
	p.running.Store(true)
	go p.loop()
	p.log.WithFields(logrus.Fields{
		"block_size": p.blockSize,
		"channels":   p.channels,
		"fec":        p.decoder != nil,
	}).Info("Pipeline started")
	return nil
}

// SubmitPacket hands a received datagram to the pipeline. Empty or
// undersized datagrams are rejected here so the queue only ever holds
// parseable input. Returns false when rejected or the queue is full.
func (p *Pipeline) SubmitPacket(data []byte) bool {
	if !p.running.Load() {
		return false
	}
	minSize := packet.HeaderSize
	if p.decoder != nil {
		minSize = fec.HeaderSize + packet.HeaderSize
	}
	if len(data) < minSize || len(data) > packet.MaxDatagramSize {
		p.packetsRejected.Add(1)
		return false
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case p.input <- buf:
		p.packetsSubmitted.Add(1)
		p.signal()
		return true
	default:
		p.packetsDropped.Add(1)
		return false
	}
}

// Stop halts the loop, waits for it to exit, then drains every queue and
// stops the sink. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		if !p.running.Load() {
			return
		}
		p.running.Store(false)
		p.signal()
		<-p.done

		for {
			select {
			case <-p.input:
			default:
				p.buffer.Clear()
				p.sink.Stop()
				p.log.Info("Pipeline stopped")
				return
			}
		}
	})
}

// TotalLatencyMs returns the most recent end-to-end latency estimate:
// decode stage plus buffered frames plus sink-reported output latency.
func (p *Pipeline) TotalLatencyMs() float64 {
	return math.Float64frombits(p.totalLatencyBits.Load())
}

// MeetingRealtimeDeadline reports whether the latest latency estimate is
// within the target.
func (p *Pipeline) MeetingRealtimeDeadline() bool {
	return p.TotalLatencyMs() <= TargetLatencyMs
}

// Stats snapshots the pipeline counters.
func (p *Pipeline) Stats() Stats {
	latency := p.TotalLatencyMs()
	return Stats{
		PacketsSubmitted: p.packetsSubmitted.Load(),
		PacketsRejected:  p.packetsRejected.Load(),
		PacketsDropped:   p.packetsDropped.Load(),
		FramesDecoded:    p.framesDecoded.Load(),
		DecodeErrors:     p.decodeErrors.Load(),
		PacketsRecovered: p.packetsRecovered.Load(),
		FramesPlayed:     p.framesPlayed.Load(),
		SinkErrors:       p.sinkErrors.Load(),
		SilencePadded:    p.silencePadded.Load(),
		TotalLatencyMs:   latency,
		MeetingDeadline:  latency <= TargetLatencyMs,
	}
}

func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) loop() {
	defer close(p.done)

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for p.running.Load() {
		worked := false

	drain:
		for {
			select {
			case data := <-p.input:
				p.handleDatagram(data)
				worked = true
			default:
				break drain
			}
		}

		p.buffer.UpdateAdaptation()

		if frame, ok := p.buffer.NextPacket(); ok {
			p.playFrame(frame)
			worked = true
		}

		p.updateLatency()

		if !worked {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idleWait)
			select {
			case <-p.wake:
			case <-timer.C:
			}
		}
	}
}

// handleDatagram runs the FEC stage and forwards recovered transport
// packets to the decode stage.
func (p *Pipeline) handleDatagram(data []byte) {
	if p.decoder == nil {
		p.decodeAndBuffer(data)
		return
	}

	result := p.decoder.ProcessPacket(data)
	p.retryPendingGaps()
	if !result.Success {
		// Redundant copy or unparseable frame; nothing to decode yet.
		return
	}

	p.recoverGapBefore(result.SequenceID)
	p.decodeAndBuffer(result.Payload)
	if !p.sawFirst || result.SequenceID >= p.nextExpected {
		p.nextExpected = result.SequenceID + 1
		p.sawFirst = true
	}
}

// recoverGapBefore asks the FEC decoder for every sequence id between the
// last delivered packet and seq. Gaps that cannot be recovered yet are
// parked for retry, since their protecting copy may still be in flight.
func (p *Pipeline) recoverGapBefore(seq uint32) {
	if !p.sawFirst || seq <= p.nextExpected {
		return
	}
	first := p.nextExpected
	if seq-first > maxGapScan {
		first = seq - maxGapScan
	}
	for missing := first; missing < seq; missing++ {
		if !p.tryRecover(missing) {
			p.pending[missing] = 0
		}
	}
}

// retryPendingGaps revisits parked gaps after every arrival. A gap is
// dropped once recovered or after enough arrivals that no copy can still
// be in flight.
func (p *Pipeline) retryPendingGaps() {
	for missing, tries := range p.pending {
		switch {
		case p.tryRecover(missing):
			delete(p.pending, missing)
		case tries >= maxGapRetries:
			delete(p.pending, missing)
		default:
			p.pending[missing] = tries + 1
		}
	}
}

// tryRecover asks the FEC decoder for a missing packet and, on success,
// feeds the recovered payload through the decode stage.
func (p *Pipeline) tryRecover(missing uint32) bool {
	result := p.decoder.RecoverPacket(missing)
	if !result.Success {
		return false
	}
	p.packetsRecovered.Add(1)
	p.decodeAndBuffer(result.Payload)
	return true
}

// decodeAndBuffer parses a transport packet, decodes its payload and
// inserts the PCM frame into the adaptive buffer.
func (p *Pipeline) decodeAndBuffer(data []byte) {
	pkt, ok := packet.Deserialize(data)
	if !ok || len(pkt.Payload) == 0 {
		p.decodeErrors.Add(1)
		return
	}

	pcm, err := p.codec.Decode(pkt.Payload)
	if err != nil {
		p.decodeErrors.Add(1)
		return
	}
	p.framesDecoded.Add(1)
	p.buffer.AddPacket(pkt.SequenceID, pkt.Timestamp, pcm)
}

// playFrame fits the frame to the sink block size, padding with silence or
// truncating as needed, and writes it out.
func (p *Pipeline) playFrame(frame jitter.Frame) {
	want := p.blockSize * p.channels
	block := frame.Samples
	if len(block) != want {
		fitted := make([]int16, want)
		copy(fitted, block)
		block = fitted
		p.silencePadded.Add(1)
	}

	if p.sink.Write(block) {
		p.framesPlayed.Add(1)
	} else {
		p.sinkErrors.Add(1)
	}
}

func (p *Pipeline) updateLatency() {
	latency := decodeEstimateMs +
		float64(p.buffer.Size())*audio.FrameDurationMs +
		p.sink.EstimatedLatencyMs()
	p.totalLatencyBits.Store(math.Float64bits(latency))
}

// ABOUTME: UDP receive edge feeding the processing pipeline
// ABOUTME: Tracks link quality from sequence gaps and probe round trips
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AudioBridge-Protocol/audiobridge-go/internal/fec"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/netmon"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/packet"
)

const (
	readTimeout    = 100 * time.Millisecond
	recvBufferSize = 64 * 1024

	// probeInterval spaces the RTT probes sent back toward the peer.
	probeInterval = 500 * time.Millisecond

	// maxInferredGap bounds how many sequence ids one arrival may mark as
	// sent-but-lost, so a corrupt header cannot poison the loss estimate.
	maxInferredGap = 64
)

// PacketSink consumes received datagrams. Implemented by the pipeline.
type PacketSink interface {
	SubmitPacket(data []byte) bool
}

// Receiver owns the listening UDP socket. Audio datagrams go to the sink;
// sequence ids feed the monitor's loss estimate; probe echoes feed its RTT
// estimate. Probes are sent to wherever the most recent datagram came from.
type Receiver struct {
	listenAddr string
	sink       PacketSink
	monitor    *netmon.Monitor
	fecFramed  bool
	enableQoS  bool

	conn *net.UDPConn
	mu   sync.Mutex
	peer *net.UDPAddr

	running atomic.Bool
	done    chan struct{}

	highestSeq uint32
	sawFirst   bool

	packetsReceived atomic.Uint64
	packetsDropped  atomic.Uint64
	bytesReceived   atomic.Uint64
	probesSent      atomic.Uint64
	probesReturned  atomic.Uint64

	log *logrus.Entry
}

// NewReceiver creates the receive edge. The monitor may be nil.
func NewReceiver(listenAddr string, sink PacketSink, monitor *netmon.Monitor, fecFramed, enableQoS bool) (*Receiver, error) {
	if sink == nil {
		return nil, errors.New("receiver requires a packet sink")
	}
	if listenAddr == "" {
		return nil, errors.New("receiver requires a listen address")
	}
	return &Receiver{
		listenAddr: listenAddr,
		sink:       sink,
		monitor:    monitor,
		fecFramed:  fecFramed,
		enableQoS:  enableQoS,
		log:        logrus.WithField("component", "receiver"),
	}, nil
}

// Start binds the socket and launches the receive and probe loops.
func (r *Receiver) Start() error {
	if r.running.Load() {
		return errors.New("receiver already running")
	}

	addr, err := net.ResolveUDPAddr("udp", r.listenAddr)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if err := conn.SetReadBuffer(recvBufferSize); err != nil {
		r.log.WithError(err).Warn("Failed to grow receive buffer")
	}
	if err := applySocketQoS(conn, r.enableQoS); err != nil {
		r.log.WithError(err).Warn("Failed to apply QoS marking")
	}

	r.conn = conn
	r.done = make(chan struct{}, 2)
	r.running.Store(true)
	go r.receiveLoop()
	go r.probeLoop()

	r.log.WithField("addr", conn.LocalAddr().String()).Info("Receiver listening")
	return nil
}

// Stop halts both loops and closes the socket.
func (r *Receiver) Stop() {
	if !r.running.Load() {
		return
	}
	r.running.Store(false)
	<-r.done
	<-r.done
	r.conn.Close()
	r.log.Info("Receiver stopped")
}

// LocalAddr returns the bound address, useful when listening on port 0.
func (r *Receiver) LocalAddr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

func (r *Receiver) PacketsReceived() uint64 { return r.packetsReceived.Load() }
func (r *Receiver) PacketsDropped() uint64  { return r.packetsDropped.Load() }
func (r *Receiver) BytesReceived() uint64   { return r.bytesReceived.Load() }
func (r *Receiver) ProbesReturned() uint64  { return r.probesReturned.Load() }

func (r *Receiver) receiveLoop() {
	defer func() { r.done <- struct{}{} }()

	buf := make([]byte, packet.MaxDatagramSize+1)
	for r.running.Load() {
		r.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if r.running.Load() {
				r.log.WithError(err).Warn("Socket receive error")
			}
			continue
		}
		if n == 0 {
			continue
		}
		r.bytesReceived.Add(uint64(n))
		r.rememberPeer(from)

		data := buf[:n]
		if sentAt, ok := ParseProbe(data); ok {
			r.probesReturned.Add(1)
			if r.monitor != nil {
				r.monitor.RecordRTT(time.Since(sentAt))
			}
			continue
		}
		if n > packet.MaxDatagramSize {
			r.packetsDropped.Add(1)
			continue
		}

		r.trackSequence(data, n)
		if r.sink.SubmitPacket(data) {
			r.packetsReceived.Add(1)
		} else {
			r.packetsDropped.Add(1)
		}
	}
}

// probeLoop sends an RTT probe toward the current peer at a fixed cadence.
// The peer echoes it verbatim and receiveLoop closes the measurement.
func (r *Receiver) probeLoop() {
	defer func() { r.done <- struct{}{} }()

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for r.running.Load() {
		<-ticker.C
		peer := r.currentPeer()
		if peer == nil {
			continue
		}
		if _, err := r.conn.WriteToUDP(BuildProbe(time.Now()), peer); err == nil {
			r.probesSent.Add(1)
		}
		if r.monitor != nil && r.monitor.HasSufficientData() {
			r.conn.WriteToUDP(BuildFeedback(r.monitor.RecommendedFECRedundancy()), peer)
		}
	}
}

func (r *Receiver) rememberPeer(addr *net.UDPAddr) {
	r.mu.Lock()
	r.peer = addr
	r.mu.Unlock()
}

func (r *Receiver) currentPeer() *net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peer
}

// trackSequence feeds the loss estimate. The receiver cannot see the true
// send count, so it infers it from primary sequence ids: a jump from n to
// n+k means k packets were sent and k-1 of them are missing so far.
func (r *Receiver) trackSequence(data []byte, size int) {
	if r.monitor == nil {
		return
	}
	seq, ok := primarySequence(data, r.fecFramed)
	if !ok {
		return
	}

	switch {
	case !r.sawFirst:
		r.sawFirst = true
		r.highestSeq = seq
		r.monitor.RecordPacketSent(seq, size)
	case seq > r.highestSeq:
		gap := seq - r.highestSeq
		if gap > maxInferredGap {
			gap = maxInferredGap
		}
		for missing := seq - gap + 1; missing < seq; missing++ {
			r.monitor.RecordPacketSent(missing, size)
		}
		r.monitor.RecordPacketSent(seq, size)
		r.highestSeq = seq
	}
	r.monitor.RecordPacketReceived(seq, size)
}

// primarySequence pulls the transport sequence id out of a datagram without
// fully parsing it. Redundant FEC frames report no sequence; their loss
// accounting happens via the primaries they protect.
func primarySequence(data []byte, fecFramed bool) (uint32, bool) {
	if fecFramed {
		if len(data) < fec.HeaderSize || fec.PacketType(data[0]) != fec.PacketTypePrimary {
			return 0, false
		}
		return binary.LittleEndian.Uint32(data[1:5]), true
	}
	if len(data) < packet.HeaderSize {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data[0:4]), true
}

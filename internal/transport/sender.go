// ABOUTME: UDP send edge framing audio packets through the FEC encoder
// ABOUTME: Echoes RTT probes and applies redundancy feedback from the peer
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AudioBridge-Protocol/audiobridge-go/internal/fec"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/netmon"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/packet"
)

// Sender owns a connected UDP socket toward the receiver. Packets pass
// through the FEC encoder when one is attached; its redundancy level
// follows feedback frames sent back by the peer.
type Sender struct {
	remoteAddr string
	encoder    *fec.Encoder
	monitor    *netmon.Monitor
	enableQoS  bool

	conn    *net.UDPConn
	running atomic.Bool
	done    chan struct{}

	packetsSent    atomic.Uint64
	bytesSent      atomic.Uint64
	oversizedDrops atomic.Uint64
	probesEchoed   atomic.Uint64
	feedbackApplied atomic.Uint64

	log *logrus.Entry
}

// NewSender creates the send edge. Encoder and monitor may be nil.
func NewSender(remoteAddr string, encoder *fec.Encoder, monitor *netmon.Monitor, enableQoS bool) (*Sender, error) {
	if remoteAddr == "" {
		return nil, errors.New("sender requires a remote address")
	}
	return &Sender{
		remoteAddr: remoteAddr,
		encoder:    encoder,
		monitor:    monitor,
		enableQoS:  enableQoS,
		log:        logrus.WithField("component", "sender"),
	}, nil
}

// Start connects the socket and launches the echo loop.
func (s *Sender) Start() error {
	if s.running.Load() {
		return errors.New("sender already running")
	}

	addr, err := net.ResolveUDPAddr("udp", s.remoteAddr)
	if err != nil {
		return fmt.Errorf("resolve remote address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := applySocketQoS(conn, s.enableQoS); err != nil {
		s.log.WithError(err).Warn("Failed to apply QoS marking")
	}

	s.conn = conn
	s.done = make(chan struct{})
	s.running.Store(true)
	go s.echoLoop()

	s.log.WithField("remote", addr.String()).Info("Sender connected")
	return nil
}

// Stop halts the echo loop and closes the socket.
func (s *Sender) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	<-s.done
	s.conn.Close()
	s.log.Info("Sender stopped")
}

// Send serializes one audio packet and puts it on the wire, FEC-framed
// when an encoder is attached. Oversized datagrams are dropped and
// counted, never truncated.
func (s *Sender) Send(pkt packet.AudioPacket) error {
	if !s.running.Load() {
		return errors.New("sender not running")
	}
	if !pkt.Valid() {
		s.oversizedDrops.Add(1)
		return fmt.Errorf("packet %d exceeds payload bound", pkt.SequenceID)
	}

	wire := pkt.Serialize()
	datagrams := [][]byte{wire}
	if s.encoder != nil {
		datagrams = s.encoder.EncodePacket(pkt.SequenceID, wire)
	}

	for _, dg := range datagrams {
		if len(dg) > packet.MaxDatagramSize {
			s.oversizedDrops.Add(1)
			continue
		}
		n, err := s.conn.Write(dg)
		if err != nil {
			return fmt.Errorf("send packet %d: %w", pkt.SequenceID, err)
		}
		s.bytesSent.Add(uint64(n))
	}

	s.packetsSent.Add(1)
	if s.monitor != nil {
		s.monitor.RecordPacketSent(pkt.SequenceID, len(wire))
	}
	return nil
}

func (s *Sender) PacketsSent() uint64     { return s.packetsSent.Load() }
func (s *Sender) BytesSent() uint64       { return s.bytesSent.Load() }
func (s *Sender) OversizedDrops() uint64  { return s.oversizedDrops.Load() }
func (s *Sender) ProbesEchoed() uint64    { return s.probesEchoed.Load() }
func (s *Sender) FeedbackApplied() uint64 { return s.feedbackApplied.Load() }

// echoLoop returns the peer's RTT probes verbatim and applies redundancy
// feedback to the encoder. Audio flows one way, so anything else arriving
// on this socket is control traffic.
func (s *Sender) echoLoop() {
	defer close(s.done)

	buf := make([]byte, packet.MaxDatagramSize)
	for s.running.Load() {
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := s.conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.running.Load() {
				s.log.WithError(err).Debug("Echo read error")
			}
			continue
		}

		data := buf[:n]
		if IsProbe(data) {
			if _, err := s.conn.Write(data); err == nil {
				s.probesEchoed.Add(1)
			}
			continue
		}
		if pct, ok := ParseFeedback(data); ok && s.encoder != nil {
			s.encoder.SetRedundancyLevel(pct)
			s.feedbackApplied.Add(1)
		}
	}
}

// ABOUTME: Test-tone sender application driving the send edge
// ABOUTME: Paces encoded frames onto the wire at the stream rate
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AudioBridge-Protocol/audiobridge-go/internal/audio"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/config"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/fec"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/netmon"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/packet"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/transport"
)

// sendTick batches frames so the pacing clock stays coarse enough for the
// OS timer. Four 2.5ms frames per 10ms tick.
const (
	sendTick      = 10 * time.Millisecond
	framesPerTick = 4
)

// Sender streams a generated tone toward a receiver. It stands in for a
// live capture source when measuring a link.
type Sender struct {
	sessionID string
	cfg       config.Config

	tone    *audio.ToneSource
	codec   audio.Codec
	encoder *fec.Encoder
	monitor *netmon.Monitor
	edge    *transport.Sender

	seq uint32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	log *logrus.Entry
}

// NewSender builds the send-side component graph.
func NewSender(cfg config.Config) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SendAddr == "" {
		return nil, fmt.Errorf("send_addr must not be empty")
	}

	sessionID := uuid.New().String()
	codec, err := audio.NewCodec(cfg.Codec, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}

	var encoder *fec.Encoder
	if cfg.EnableFEC {
		encoder = fec.NewEncoder(cfg.FECSettings())
	}
	monitor := netmon.New(netmon.DefaultWindowSize, netmon.DefaultUpdateInterval)

	edge, err := transport.NewSender(cfg.SendAddr, encoder, monitor, cfg.EnableQoS)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}

	s := &Sender{
		sessionID: sessionID,
		cfg:       cfg,
		tone:      audio.NewToneSource(cfg.Channels),
		codec:     codec,
		encoder:   encoder,
		monitor:   monitor,
		edge:      edge,
		done:      make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component": "app",
			"session":   sessionID,
		}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// SessionID identifies this run in logs.
func (s *Sender) SessionID() string { return s.sessionID }

// PacketsSent reports how many transport packets have gone out.
func (s *Sender) PacketsSent() uint64 { return s.edge.PacketsSent() }

// Start connects the edge and begins streaming.
func (s *Sender) Start() error {
	s.log.WithFields(logrus.Fields{
		"remote": s.cfg.SendAddr,
		"codec":  s.cfg.Codec,
		"fec":    s.cfg.EnableFEC,
	}).Info("Sender starting")

	if err := s.edge.Start(); err != nil {
		return err
	}
	go s.streamLoop()
	return nil
}

// Run starts streaming and blocks until Stop.
func (s *Sender) Run() error {
	if err := s.Start(); err != nil {
		return err
	}
	<-s.ctx.Done()
	return nil
}

// Stop halts the stream and closes the socket.
func (s *Sender) Stop() {
	s.cancel()
	<-s.done
	s.edge.Stop()
	s.codec.Close()
	s.log.WithField("packets", s.edge.PacketsSent()).Info("Sender stopped")
}

func (s *Sender) streamLoop() {
	defer close(s.done)

	ticker := time.NewTicker(sendTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for i := 0; i < framesPerTick; i++ {
				s.sendFrame()
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Sender) sendFrame() {
	pcm := s.tone.NextFrame()
	payload, err := s.codec.Encode(pcm)
	if err != nil {
		s.log.WithError(err).Warn("Encode failed")
		return
	}

	s.seq++
	pkt := packet.New(s.seq, uint64(time.Now().UnixMicro()), payload)
	if err := s.edge.Send(pkt); err != nil {
		s.log.WithError(err).Debug("Send failed")
	}
}

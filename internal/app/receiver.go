// ABOUTME: Receiver application orchestration
// ABOUTME: Wires monitor, FEC, codec, buffer, pipeline, transport and stats
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
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/jitter"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/netmon"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/output"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/pipeline"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/stats"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/transport"
	"github.com/AudioBridge-Protocol/audiobridge-go/internal/version"
)

const statsLogInterval = 5 * time.Second

// Receiver is the full receive-side application. Every component is
// constructed here and injected; nothing reaches for ambient state.
type Receiver struct {
	sessionID string
	cfg       config.Config

	monitor  *netmon.Monitor
	decoder  *fec.Decoder
	codec    audio.Codec
	sink     output.Sink
	buffer   *jitter.AdaptiveBuffer
	pipe     *pipeline.Pipeline
	receiver *transport.Receiver
	stats    *stats.Server

	ctx    context.Context
	cancel context.CancelFunc

	log *logrus.Entry
}

// NewReceiver builds the component graph from a validated config.
func NewReceiver(cfg config.Config) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	log := logrus.WithFields(logrus.Fields{
		"component": "app",
		"session":   sessionID,
	})

	monitor := netmon.New(netmon.DefaultWindowSize, netmon.DefaultUpdateInterval)

	codec, err := audio.NewCodec(cfg.Codec, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	sink, err := output.NewSink(cfg.Sink, cfg.SampleRate, cfg.Channels, cfg.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}
	buffer, err := jitter.NewAdaptive(audio.FrameSamplesPerChannel, cfg.Channels, monitor, cfg.JitterSettings())
	if err != nil {
		return nil, fmt.Errorf("jitter buffer: %w", err)
	}

	var decoder *fec.Decoder
	if cfg.EnableFEC {
		decoder = fec.NewDecoder(cfg.FEC.MaxRecoveryDistance)
	}

	pipe, err := pipeline.New(codec, sink, buffer, decoder, cfg.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	receiver, err := transport.NewReceiver(cfg.ListenAddr, pipe, monitor, cfg.EnableFEC, cfg.EnableQoS)
	if err != nil {
		return nil, fmt.Errorf("receiver: %w", err)
	}

	r := &Receiver{
		sessionID: sessionID,
		cfg:       cfg,
		monitor:   monitor,
		decoder:   decoder,
		codec:     codec,
		sink:      sink,
		buffer:    buffer,
		pipe:      pipe,
		receiver:  receiver,
		log:       log,
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	if cfg.StatsAddr != "" {
		statsServer, err := stats.NewServer(cfg.StatsAddr, r.report)
		if err != nil {
			return nil, fmt.Errorf("stats server: %w", err)
		}
		r.stats = statsServer
	}
	return r, nil
}

// SessionID identifies this run in logs and stats.
func (r *Receiver) SessionID() string { return r.sessionID }

// Pipeline exposes the processing loop for tests and embedding callers.
func (r *Receiver) Pipeline() *pipeline.Pipeline { return r.pipe }

// Receiver exposes the transport edge, mainly for its bound address.
func (r *Receiver) Transport() *transport.Receiver { return r.receiver }

// Start brings up the pipeline, the transport edge and the stats server,
// then logs a heartbeat until Stop or ctx is done.
func (r *Receiver) Start() error {
	r.log.WithFields(logrus.Fields{
		"product": version.Product,
		"version": version.Version,
		"codec":   r.cfg.Codec,
		"sink":    r.cfg.Sink,
		"fec":     r.cfg.EnableFEC,
	}).Info("Receiver starting")

	if err := r.pipe.Start(); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := r.receiver.Start(); err != nil {
		r.pipe.Stop()
		return fmt.Errorf("start transport: %w", err)
	}
	if r.stats != nil {
		if err := r.stats.Start(); err != nil {
			r.receiver.Stop()
			r.pipe.Stop()
			return fmt.Errorf("start stats: %w", err)
		}
	}

	go r.heartbeat()
	return nil
}

// Run starts the application and blocks until Stop is called.
func (r *Receiver) Run() error {
	if err := r.Start(); err != nil {
		return err
	}
	<-r.ctx.Done()
	return nil
}

// Stop tears everything down in reverse construction order.
func (r *Receiver) Stop() {
	r.cancel()
	if r.stats != nil {
		r.stats.Stop()
	}
	r.receiver.Stop()
	r.pipe.Stop()
	r.codec.Close()
	r.log.Info("Receiver stopped")
}

func (r *Receiver) heartbeat() {
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics := r.monitor.Metrics()
			pstats := r.pipe.Stats()
			r.log.WithFields(logrus.Fields{
				"quality":    metrics.Quality.String(),
				"loss_pct":   metrics.PacketLossRate,
				"rtt":        metrics.AvgRTT,
				"latency_ms": pstats.TotalLatencyMs,
				"deadline":   pstats.MeetingDeadline,
				"played":     pstats.FramesPlayed,
				"recovered":  pstats.PacketsRecovered,
				"capacity":   r.buffer.Capacity(),
			}).Info("Receiver status")
		case <-r.ctx.Done():
			return
		}
	}
}

// report assembles the stats snapshot served over HTTP and websocket.
func (r *Receiver) report() stats.Report {
	report := stats.Report{
		SessionID: r.sessionID,
		Timestamp: time.Now(),
		Pipeline:  r.pipe.Stats(),
		Network:   r.monitor.Metrics(),
		Buffer:    r.buffer.Stats(),
		Transport: map[string]uint64{
			"packets_received": r.receiver.PacketsReceived(),
			"packets_dropped":  r.receiver.PacketsDropped(),
			"bytes_received":   r.receiver.BytesReceived(),
			"probes_returned":  r.receiver.ProbesReturned(),
		},
	}
	if r.decoder != nil {
		report.FEC = r.decoder.Stats()
	}
	return report
}

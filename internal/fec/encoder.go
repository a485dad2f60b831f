// ABOUTME: FEC encoder emitting primary packets plus redundant copies
// ABOUTME: Redundancy count follows a sliding window and an adjustable percentage
package fec

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// MinRedundancyPct and MaxRedundancyPct bound the redundancy level.
	MinRedundancyPct = 0.0
	MaxRedundancyPct = 50.0

	// MaxWindowSize bounds the encoder's packet history.
	MaxWindowSize = 20

	DefaultWindowSize          = 10
	DefaultMaxRecoveryDistance = 5

	windowEntryTTL = time.Second
)

// EncoderConfig controls redundancy generation.
type EncoderConfig struct {
	RedundancyPct       float64 // percentage of the window resent as copies, [0, 50]
	WindowSize          int     // history length, capped at MaxWindowSize
	MaxRecoveryDistance int     // how far back a copy may reach
}

// DefaultEncoderConfig returns the reference configuration (20% redundancy,
// window of 10, recovery distance 5).
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		RedundancyPct:       20,
		WindowSize:          DefaultWindowSize,
		MaxRecoveryDistance: DefaultMaxRecoveryDistance,
	}
}

// EncoderStats summarizes encoder activity.
type EncoderStats struct {
	PrimaryPackets    uint64
	RedundantPackets  uint64
	CurrentRedundancy float64 // percent
	AverageRedundancy float64 // redundant-per-primary across the run, percent
	WindowSize        int
}

type windowEntry struct {
	sequenceID uint32
	payload    []byte
	addedAt    time.Time
}

// Encoder wraps audio payloads in FEC framing. Every call emits one primary
// packet; recent payloads are re-emitted as redundant copies so the receiver
// can reconstruct losses without retransmission. Safe for concurrent use.
type Encoder struct {
	mu     sync.Mutex
	config EncoderConfig
	window []windowEntry
	stats  EncoderStats
}

// NewEncoder creates an encoder, clamping the configuration into range.
func NewEncoder(config EncoderConfig) *Encoder {
	config.RedundancyPct = clampPct(config.RedundancyPct)
	if config.WindowSize <= 0 {
		config.WindowSize = DefaultWindowSize
	}
	if config.WindowSize > MaxWindowSize {
		config.WindowSize = MaxWindowSize
	}
	if config.MaxRecoveryDistance <= 0 {
		config.MaxRecoveryDistance = DefaultMaxRecoveryDistance
	}

	return &Encoder{
		config: config,
		stats:  EncoderStats{CurrentRedundancy: config.RedundancyPct},
	}
}

// EncodePacket frames payload as a primary packet and appends redundant
// copies of recent payloads. The first returned packet is always the primary.
func (e *Encoder) EncodePacket(sequenceID uint32, payload []byte) [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	packets := [][]byte{e.framePrimaryLocked(sequenceID, payload)}

	e.window = append(e.window, windowEntry{
		sequenceID: sequenceID,
		payload:    append([]byte(nil), payload...),
		addedAt:    time.Now(),
	})
	if len(e.window) > e.config.WindowSize {
		e.window = e.window[len(e.window)-e.config.WindowSize:]
	}

	if len(e.window) > 1 {
		packets = append(packets, e.frameRedundantsLocked(sequenceID)...)
	}

	e.stats.PrimaryPackets++
	e.stats.RedundantPackets += uint64(len(packets) - 1)
	if e.stats.PrimaryPackets > 0 {
		e.stats.AverageRedundancy = float64(e.stats.RedundantPackets) /
			float64(e.stats.PrimaryPackets) * 100
	}
	e.stats.WindowSize = len(e.window)

	e.pruneWindowLocked()
	return packets
}

// SetRedundancyLevel adjusts the redundancy percentage, clamped to [0, 50].
// This is the integration point for the network monitor's recommendation.
func (e *Encoder) SetRedundancyLevel(pct float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clamped := clampPct(pct)
	if clamped != e.config.RedundancyPct {
		logrus.WithFields(logrus.Fields{
			"from": e.config.RedundancyPct,
			"to":   clamped,
		}).Debug("FEC redundancy level changed")
	}
	e.config.RedundancyPct = clamped
	e.stats.CurrentRedundancy = clamped
}

// Config returns a copy of the current configuration.
func (e *Encoder) Config() EncoderConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// Stats returns a snapshot of encoder statistics.
func (e *Encoder) Stats() EncoderStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Reset clears the window and statistics.
func (e *Encoder) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.window = nil
	e.stats = EncoderStats{CurrentRedundancy: e.config.RedundancyPct}
}

func (e *Encoder) framePrimaryLocked(sequenceID uint32, payload []byte) []byte {
	header := Header{
		Type:            PacketTypePrimary,
		SequenceID:      sequenceID,
		RedundancyLevel: uint8(e.config.RedundancyPct),
	}
	packet := header.Serialize()
	return append(packet, payload...)
}

// frameRedundantsLocked re-emits the most recent prior payloads as copies
// carried alongside the current sequence id.
func (e *Encoder) frameRedundantsLocked(sequenceID uint32) [][]byte {
	count := e.redundantCountLocked()
	packets := make([][]byte, 0, count)

	for i := 0; i < count && i < len(e.window)-1; i++ {
		prior := e.window[len(e.window)-2-i]

		header := Header{
			Type:                 PacketTypeRedundant,
			SequenceID:           sequenceID,
			RedundantSequenceID:  prior.sequenceID,
			RedundantPayloadSize: uint16(len(prior.payload)),
			RedundancyLevel:      uint8(e.config.RedundancyPct),
		}
		packet := header.Serialize()
		packets = append(packets, append(packet, prior.payload...))
	}
	return packets
}

func (e *Encoder) redundantCountLocked() int {
	if e.config.RedundancyPct <= 0 {
		return 0
	}
	count := int(math.Ceil(e.config.RedundancyPct / 100 * float64(e.config.WindowSize)))
	if max := len(e.window) - 1; count > max {
		count = max
	}
	if count > e.config.MaxRecoveryDistance {
		count = e.config.MaxRecoveryDistance
	}
	return count
}

func (e *Encoder) pruneWindowLocked() {
	cutoff := time.Now().Add(-windowEntryTTL)
	start := 0
	for start < len(e.window) && e.window[start].addedAt.Before(cutoff) {
		start++
	}
	e.window = e.window[start:]
}

func clampPct(pct float64) float64 {
	return math.Min(math.Max(pct, MinRedundancyPct), MaxRedundancyPct)
}

// ABOUTME: FEC decoder reassembling primaries and recovering losses
// ABOUTME: Keeps time- and distance-bounded stores of primary and redundant packets
package fec

import (
	"sort"
	"sync"
	"time"
)

const (
	storedPacketTTL = time.Second

	// frameDuration converts a recovery distance in packets to time.
	frameDuration = 2500 * time.Microsecond

	// recoveryDelayAlpha is the EWMA smoothing factor for the delay stat.
	recoveryDelayAlpha = 0.1
)

// RecoveryResult reports the outcome of processing or recovering a packet.
type RecoveryResult struct {
	Success        bool
	SequenceID     uint32
	Payload        []byte
	FromRedundancy bool

	// RedundantCarrier is the sequence id of the packet that carried the
	// copy used for recovery, when FromRedundancy is set.
	RedundantCarrier     uint32
	RecoveryDelayPackets int
}

// DecoderStats summarizes decoder activity.
type DecoderStats struct {
	PrimaryReceived   uint64
	RedundantReceived uint64
	PacketsRecovered  uint64
	RecoveryAttempts  uint64
	RecoveryFailures  uint64
	SuccessRate       float64 // percent of attempts that recovered a packet

	AverageRecoveryDelayMs  float64
	MaxRecoveryDelayPackets int
}

type storedPacket struct {
	sequenceID          uint32
	payload             []byte
	redundantSequenceID uint32
	storedAt            time.Time
}

// Decoder consumes FEC-framed packets. Primaries pass straight through;
// redundant copies are held so lost primaries can be reconstructed on
// demand. Safe for concurrent use.
type Decoder struct {
	mu                  sync.Mutex
	maxRecoveryDistance int

	primaries  map[uint32]storedPacket   // keyed by sequence id
	redundants map[uint32][]storedPacket // keyed by the sequence id the copy protects
	highestSeq uint32

	stats DecoderStats
}

// NewDecoder creates a decoder. A non-positive recovery distance selects
// the default of 5 packets.
func NewDecoder(maxRecoveryDistance int) *Decoder {
	if maxRecoveryDistance <= 0 {
		maxRecoveryDistance = DefaultMaxRecoveryDistance
	}
	return &Decoder{
		maxRecoveryDistance: maxRecoveryDistance,
		primaries:           make(map[uint32]storedPacket),
		redundants:          make(map[uint32][]storedPacket),
	}
}

// ProcessPacket parses one FEC-framed packet. Primary packets are stored
// and returned immediately; redundant packets are stored for later recovery
// and yield no output.
func (d *Decoder) ProcessPacket(data []byte) RecoveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	header, ok := ParseHeader(data)
	if !ok {
		return RecoveryResult{}
	}

	payload := append([]byte(nil), data[HeaderSize:]...)
	stored := storedPacket{
		sequenceID:          header.SequenceID,
		payload:             payload,
		redundantSequenceID: header.RedundantSequenceID,
		storedAt:            time.Now(),
	}
	if header.SequenceID > d.highestSeq {
		d.highestSeq = header.SequenceID
	}

	var result RecoveryResult
	switch header.Type {
	case PacketTypePrimary:
		d.primaries[header.SequenceID] = stored
		d.stats.PrimaryReceived++
		result = RecoveryResult{
			Success:    true,
			SequenceID: header.SequenceID,
			Payload:    payload,
		}
	case PacketTypeRedundant:
		d.redundants[header.RedundantSequenceID] = append(
			d.redundants[header.RedundantSequenceID], stored)
		d.stats.RedundantReceived++
	}

	d.cleanupLocked(d.highestSeq)
	return result
}

// RecoverPacket attempts to produce the payload for sequenceID, either from
// a stored primary or from the first available redundant copy.
func (d *Decoder) RecoverPacket(sequenceID uint32) RecoveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.RecoveryAttempts++

	if primary, ok := d.primaries[sequenceID]; ok {
		d.updateSuccessRateLocked()
		return RecoveryResult{
			Success:    true,
			SequenceID: sequenceID,
			Payload:    primary.payload,
		}
	}

	copies := d.redundants[sequenceID]
	if len(copies) == 0 {
		d.stats.RecoveryFailures++
		d.updateSuccessRateLocked()
		return RecoveryResult{SequenceID: sequenceID}
	}

	carrier := copies[0]
	result := RecoveryResult{
		Success:          true,
		SequenceID:       sequenceID,
		Payload:          carrier.payload,
		FromRedundancy:   true,
		RedundantCarrier: carrier.sequenceID,
	}
	if carrier.sequenceID > sequenceID {
		result.RecoveryDelayPackets = int(carrier.sequenceID - sequenceID)
		if result.RecoveryDelayPackets > d.stats.MaxRecoveryDelayPackets {
			d.stats.MaxRecoveryDelayPackets = result.RecoveryDelayPackets
		}
		d.recordRecoveryDelayLocked(result.RecoveryDelayPackets)
	}

	d.stats.PacketsRecovered++
	d.updateSuccessRateLocked()
	return result
}

// CanRecoverPacket reports whether sequenceID is available from either store.
func (d *Decoder) CanRecoverPacket(sequenceID uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.primaries[sequenceID]; ok {
		return true
	}
	return len(d.redundants[sequenceID]) > 0
}

// RecoverablePackets returns the sorted sequence ids currently recoverable.
func (d *Decoder) RecoverablePackets() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[uint32]struct{}, len(d.primaries)+len(d.redundants))
	for seq := range d.primaries {
		seen[seq] = struct{}{}
	}
	for seq, copies := range d.redundants {
		if len(copies) > 0 {
			seen[seq] = struct{}{}
		}
	}

	out := make([]uint32, 0, len(seen))
	for seq := range seen {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats returns a snapshot of decoder statistics.
func (d *Decoder) Stats() DecoderStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// SetMaxRecoveryDistance updates the pruning window.
func (d *Decoder) SetMaxRecoveryDistance(distance int) {
	if distance <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxRecoveryDistance = distance
}

// CleanupExpired prunes both stores against the newest sequence id seen.
func (d *Decoder) CleanupExpired() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanupLocked(d.highestSeq)
}

// Reset clears all state and statistics.
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.primaries = make(map[uint32]storedPacket)
	d.redundants = make(map[uint32][]storedPacket)
	d.highestSeq = 0
	d.stats = DecoderStats{}
}

func (d *Decoder) inRecoveryWindowLocked(sequenceID, current uint32) bool {
	if current < sequenceID {
		return true // future packet, keep
	}
	return current-sequenceID <= uint32(d.maxRecoveryDistance)
}

func (d *Decoder) cleanupLocked(current uint32) {
	now := time.Now()

	for seq, stored := range d.primaries {
		if now.Sub(stored.storedAt) > storedPacketTTL || !d.inRecoveryWindowLocked(seq, current) {
			delete(d.primaries, seq)
		}
	}

	for seq, copies := range d.redundants {
		if !d.inRecoveryWindowLocked(seq, current) {
			delete(d.redundants, seq)
			continue
		}
		kept := copies[:0]
		for _, c := range copies {
			if now.Sub(c.storedAt) <= storedPacketTTL {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(d.redundants, seq)
		} else {
			d.redundants[seq] = kept
		}
	}
}

func (d *Decoder) recordRecoveryDelayLocked(delayPackets int) {
	delayMs := float64(delayPackets) * frameDuration.Seconds() * 1000
	if d.stats.AverageRecoveryDelayMs == 0 {
		d.stats.AverageRecoveryDelayMs = delayMs
		return
	}
	d.stats.AverageRecoveryDelayMs = (1-recoveryDelayAlpha)*d.stats.AverageRecoveryDelayMs +
		recoveryDelayAlpha*delayMs
}

func (d *Decoder) updateSuccessRateLocked() {
	if d.stats.RecoveryAttempts == 0 {
		return
	}
	d.stats.SuccessRate = float64(d.stats.PacketsRecovered) /
		float64(d.stats.RecoveryAttempts) * 100
}

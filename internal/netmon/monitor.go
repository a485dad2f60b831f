// ABOUTME: Network quality monitor with sliding-window statistics
// ABOUTME: Classifies link quality and recommends buffer and FEC sizing
package netmon

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Quality classifies the link on a four-level scale.
type Quality int

const (
	QualityExcellent Quality = iota
	QualityGood
	QualityFair
	QualityPoor
)

// String returns the quality name.
func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	default:
		return fmt.Sprintf("unknown(%d)", int(q))
	}
}

// worse returns the lower of two quality levels.
func worse(a, b Quality) Quality {
	if a > b {
		return a
	}
	return b
}

// Metrics is a snapshot of the monitor's view of the link.
type Metrics struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
	PacketLossRate  float64 // percent

	MinRTT time.Duration
	MaxRTT time.Duration
	AvgRTT time.Duration
	Jitter time.Duration // stddev of RTT samples

	BytesSent      uint64
	BytesReceived  uint64
	ThroughputMbps float64

	Quality    Quality
	LastUpdate time.Time
}

// Quality classification breakpoints. The overall quality is the worst of
// the three axis classifications, so a single degraded dimension can only
// ever downgrade the composite.
const (
	excellentLossPct = 1.0
	goodLossPct      = 3.0
	fairLossPct      = 10.0

	excellentRTT = 5 * time.Millisecond
	goodRTT      = 20 * time.Millisecond
	fairRTT      = 50 * time.Millisecond

	excellentJitter = 1 * time.Millisecond
	goodJitter      = 5 * time.Millisecond
	fairJitter      = 20 * time.Millisecond

	minReliableSamples = 10
	recordMaxAge       = 10 * time.Second
)

const (
	DefaultWindowSize     = 100
	DefaultUpdateInterval = time.Second
)

type packetRecord struct {
	sequenceID uint32
	size       int
	at         time.Time
}

// Monitor observes send/receive/RTT events and maintains link statistics
// over a sliding window. Safe for concurrent use.
type Monitor struct {
	mu sync.Mutex

	windowSize     int
	updateInterval time.Duration

	sent       []packetRecord
	received   []packetRecord
	rttSamples []time.Duration

	metrics    Metrics
	lastUpdate time.Time
	startedAt  time.Time
}

// New creates a monitor with the given window size and update interval.
// Zero values select the defaults (100 samples, 1s).
func New(windowSize int, updateInterval time.Duration) *Monitor {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if updateInterval <= 0 {
		updateInterval = DefaultUpdateInterval
	}
	now := time.Now()
	return &Monitor{
		windowSize:     windowSize,
		updateInterval: updateInterval,
		lastUpdate:     now,
		startedAt:      now,
		metrics:        Metrics{Quality: QualityExcellent, LastUpdate: now},
	}
}

// RecordPacketSent records a packet handed to the network.
func (m *Monitor) RecordPacketSent(sequenceID uint32, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, packetRecord{sequenceID: sequenceID, size: size, at: time.Now()})
	m.metrics.PacketsSent++
	m.metrics.BytesSent += uint64(size)

	m.pruneLocked()
	m.maybeUpdateLocked()
}

// RecordPacketReceived records a packet delivered by the network.
func (m *Monitor) RecordPacketReceived(sequenceID uint32, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.received = append(m.received, packetRecord{sequenceID: sequenceID, size: size, at: time.Now()})
	m.metrics.PacketsReceived++
	m.metrics.BytesReceived += uint64(size)

	m.pruneLocked()
	m.maybeUpdateLocked()
}

// RecordRTT records one round-trip time sample.
func (m *Monitor) RecordRTT(rtt time.Duration) {
	if rtt < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rttSamples = append(m.rttSamples, rtt)
	if len(m.rttSamples) > m.windowSize {
		m.rttSamples = m.rttSamples[len(m.rttSamples)-m.windowSize:]
	}
	m.maybeUpdateLocked()
}

// Metrics returns a freshly computed snapshot.
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.computeLocked()
	return m.metrics
}

// Quality returns the current composite quality classification.
func (m *Monitor) Quality() Quality {
	return m.Metrics().Quality
}

// SuitableForAudio reports whether the link can carry low-latency audio.
func (m *Monitor) SuitableForAudio() bool {
	q := m.Quality()
	return q == QualityExcellent || q == QualityGood
}

// HasSufficientData reports whether enough packets have been observed for
// the metrics to be statistically meaningful.
func (m *Monitor) HasSufficientData() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics.PacketsSent >= minReliableSamples
}

// RecommendedJitterCapacity returns a jitter buffer capacity for the
// current conditions, clamped to [min, max].
func (m *Monitor) RecommendedJitterCapacity(min, max int) int {
	metrics := m.Metrics()

	capacity := min
	switch metrics.Quality {
	case QualityExcellent:
		capacity = min
	case QualityGood:
		capacity = min + 1
	case QualityFair:
		capacity = min + 3
	case QualityPoor:
		capacity = max
	}

	if metrics.Jitter > fairJitter {
		capacity += 2
	} else if metrics.Jitter > goodJitter {
		capacity++
	}

	if capacity < min {
		capacity = min
	}
	if capacity > max {
		capacity = max
	}
	return capacity
}

// RecommendedFECRedundancy returns a redundancy percentage in [0, 50]
// suited to the current loss conditions.
func (m *Monitor) RecommendedFECRedundancy() float64 {
	metrics := m.Metrics()

	var pct float64
	switch metrics.Quality {
	case QualityExcellent:
		pct = 5
	case QualityGood:
		pct = 10
	case QualityFair:
		pct = 20
	case QualityPoor:
		pct = 30
	}

	if metrics.PacketLossRate > 15 {
		pct += 10
	} else if metrics.PacketLossRate > 5 {
		pct += 5
	}

	return math.Min(math.Max(pct, 0), 50)
}

// Reset discards all records and statistics.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.sent = nil
	m.received = nil
	m.rttSamples = nil
	m.metrics = Metrics{Quality: QualityExcellent, LastUpdate: now}
	m.lastUpdate = now
	m.startedAt = now
}

// maybeUpdateLocked recomputes metrics once per update interval.
func (m *Monitor) maybeUpdateLocked() {
	if time.Since(m.lastUpdate) < m.updateInterval {
		return
	}
	m.computeLocked()
}

func (m *Monitor) computeLocked() {
	m.computeLossLocked()
	m.computeRTTLocked()
	m.computeThroughputLocked()
	m.classifyLocked()

	now := time.Now()
	m.metrics.LastUpdate = now
	m.lastUpdate = now
}

func (m *Monitor) computeLossLocked() {
	if m.metrics.PacketsSent == 0 {
		m.metrics.PacketsLost = 0
		m.metrics.PacketLossRate = 0
		return
	}
	var lost uint64
	if m.metrics.PacketsSent > m.metrics.PacketsReceived {
		lost = m.metrics.PacketsSent - m.metrics.PacketsReceived
	}
	m.metrics.PacketsLost = lost
	m.metrics.PacketLossRate = float64(lost) / float64(m.metrics.PacketsSent) * 100
}

func (m *Monitor) computeRTTLocked() {
	if len(m.rttSamples) < 2 {
		m.metrics.Jitter = 0
		return
	}

	min, max := m.rttSamples[0], m.rttSamples[0]
	var sum time.Duration
	for _, rtt := range m.rttSamples {
		if rtt < min {
			min = rtt
		}
		if rtt > max {
			max = rtt
		}
		sum += rtt
	}
	avg := sum / time.Duration(len(m.rttSamples))

	var variance float64
	for _, rtt := range m.rttSamples {
		diff := float64(rtt - avg)
		variance += diff * diff
	}
	variance /= float64(len(m.rttSamples))

	m.metrics.MinRTT = min
	m.metrics.MaxRTT = max
	m.metrics.AvgRTT = avg
	m.metrics.Jitter = time.Duration(math.Sqrt(variance))
}

func (m *Monitor) computeThroughputLocked() {
	elapsed := time.Since(m.startedAt).Seconds()
	if elapsed <= 0 {
		return
	}
	m.metrics.ThroughputMbps = float64(m.metrics.BytesSent) * 8 / elapsed / 1e6
}

func (m *Monitor) classifyLocked() {
	lossQuality := QualityExcellent
	switch {
	case m.metrics.PacketLossRate >= fairLossPct:
		lossQuality = QualityPoor
	case m.metrics.PacketLossRate >= goodLossPct:
		lossQuality = QualityFair
	case m.metrics.PacketLossRate >= excellentLossPct:
		lossQuality = QualityGood
	}

	rttQuality := QualityExcellent
	switch {
	case m.metrics.AvgRTT >= fairRTT:
		rttQuality = QualityPoor
	case m.metrics.AvgRTT >= goodRTT:
		rttQuality = QualityFair
	case m.metrics.AvgRTT >= excellentRTT:
		rttQuality = QualityGood
	}

	jitterQuality := QualityExcellent
	switch {
	case m.metrics.Jitter >= fairJitter:
		jitterQuality = QualityPoor
	case m.metrics.Jitter >= goodJitter:
		jitterQuality = QualityFair
	case m.metrics.Jitter >= excellentJitter:
		jitterQuality = QualityGood
	}

	quality := worse(lossQuality, worse(rttQuality, jitterQuality))
	if quality != m.metrics.Quality {
		logrus.WithFields(logrus.Fields{
			"from":      m.metrics.Quality.String(),
			"to":        quality.String(),
			"loss_pct":  m.metrics.PacketLossRate,
			"avg_rtt":   m.metrics.AvgRTT,
			"jitter":    m.metrics.Jitter,
		}).Debug("Network quality changed")
	}
	m.metrics.Quality = quality
}

// pruneLocked drops records older than the retention cutoff and trims the
// deques to the window size.
func (m *Monitor) pruneLocked() {
	cutoff := time.Now().Add(-recordMaxAge)
	m.sent = pruneRecords(m.sent, cutoff, m.windowSize)
	m.received = pruneRecords(m.received, cutoff, m.windowSize)
}

func pruneRecords(records []packetRecord, cutoff time.Time, window int) []packetRecord {
	start := 0
	for start < len(records) && records[start].at.Before(cutoff) {
		start++
	}
	records = records[start:]
	if len(records) > window {
		records = records[len(records)-window:]
	}
	return records
}

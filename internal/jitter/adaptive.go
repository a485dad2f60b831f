// ABOUTME: Network-adaptive jitter buffer that resizes with link conditions
// ABOUTME: Steps capacity toward the monitor's recommendation with stability damping
package jitter

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AudioBridge-Protocol/audiobridge-go/internal/netmon"
)

const (
	minAdaptationFactor = 0.5
	maxAdaptationFactor = 2.0

	maxHistoryLen = 20

	// minAdaptationInterval is the hard floor between structural capacity
	// changes, independent of the configured update interval.
	minAdaptationInterval = 100 * time.Millisecond
)

// Config controls adaptive capacity behavior.
type Config struct {
	MinCapacity     int
	MaxCapacity     int
	DefaultCapacity int

	AdaptationRate float64 // fraction of the capacity gap applied per step, [0, 1]
	UpdateInterval time.Duration

	LossThresholdPct float64
	JitterThreshold  time.Duration
	RTTThreshold     time.Duration

	StabilityWindow    int
	StabilityThreshold float64 // max coefficient of variation considered stable
}

// DefaultConfig returns the reference adaptive configuration.
func DefaultConfig() Config {
	return Config{
		MinCapacity:        3,
		MaxCapacity:        10,
		DefaultCapacity:    5,
		AdaptationRate:     0.1,
		UpdateInterval:     500 * time.Millisecond,
		LossThresholdPct:   5.0,
		JitterThreshold:    10 * time.Millisecond,
		RTTThreshold:       50 * time.Millisecond,
		StabilityWindow:    10,
		StabilityThreshold: 0.2,
	}
}

func (c Config) validate() error {
	if c.MinCapacity < MinCapacity || c.MaxCapacity > MaxCapacity {
		return fmt.Errorf("capacity bounds [%d, %d] outside [%d, %d]",
			c.MinCapacity, c.MaxCapacity, MinCapacity, MaxCapacity)
	}
	if c.MinCapacity > c.MaxCapacity {
		return fmt.Errorf("min capacity %d above max capacity %d", c.MinCapacity, c.MaxCapacity)
	}
	if c.DefaultCapacity < c.MinCapacity || c.DefaultCapacity > c.MaxCapacity {
		return fmt.Errorf("default capacity %d outside [%d, %d]",
			c.DefaultCapacity, c.MinCapacity, c.MaxCapacity)
	}
	if c.AdaptationRate < 0 || c.AdaptationRate > 1 {
		return fmt.Errorf("adaptation rate %v outside [0, 1]", c.AdaptationRate)
	}
	return nil
}

// AdaptiveStats is a snapshot of the adaptive buffer's behavior.
type AdaptiveStats struct {
	CurrentCapacity  int
	TargetCapacity   int
	AdaptationFactor float64

	NetworkQuality netmon.Quality
	PacketLossRate float64
	AvgRTT         time.Duration
	Jitter         time.Duration

	Adaptations       uint64
	CapacityIncreases uint64
	CapacityDecreases uint64

	AverageUtilization float64
	Underruns          uint64
	Overruns           uint64
}

// AdaptiveBuffer composes a jitter buffer with a network monitor and
// resizes the buffer as link conditions change. Resizes migrate every
// buffered frame into the replacement buffer. Safe for concurrent use.
type AdaptiveBuffer struct {
	mu sync.Mutex

	buffer  *Buffer
	monitor *netmon.Monitor
	config  Config

	frameSize int
	channels  int

	stats              AdaptiveStats
	capacityHistory    []int
	utilizationHistory []float64
	lastAdaptation     time.Time
	lastUpdate         time.Time
}

// NewAdaptive creates an adaptive buffer starting at the default capacity.
// The monitor may be nil, in which case capacity stays fixed until one is
// attached with SetMonitor.
func NewAdaptive(frameSize, channels int, monitor *netmon.Monitor, config Config) (*AdaptiveBuffer, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	buffer, err := NewBuffer(config.DefaultCapacity, frameSize, channels)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &AdaptiveBuffer{
		buffer:    buffer,
		monitor:   monitor,
		config:    config,
		frameSize: frameSize,
		channels:  channels,
		stats: AdaptiveStats{
			CurrentCapacity:  config.DefaultCapacity,
			TargetCapacity:   config.DefaultCapacity,
			AdaptationFactor: 1.0,
			NetworkQuality:   netmon.QualityExcellent,
		},
		lastAdaptation: now,
		lastUpdate:     now,
	}, nil
}

// SetMonitor attaches the network monitor driving adaptation.
func (a *AdaptiveBuffer) SetMonitor(monitor *netmon.Monitor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.monitor = monitor
}

// AddPacket inserts a frame, running an adaptation pass first when due.
func (a *AdaptiveBuffer) AddPacket(sequenceID uint32, timestamp uint64, samples []int16) bool {
	a.UpdateAdaptation()

	a.mu.Lock()
	buffer := a.buffer
	a.mu.Unlock()

	if buffer.Full() {
		a.mu.Lock()
		a.stats.Overruns++
		a.mu.Unlock()
	}

	ok := buffer.AddPacket(sequenceID, timestamp, samples)
	a.recordUtilization()
	return ok
}

// NextPacket removes and returns the frame with the smallest sequence id.
// Empty-buffer reads are counted as underruns.
func (a *AdaptiveBuffer) NextPacket() (Frame, bool) {
	a.mu.Lock()
	buffer := a.buffer
	a.mu.Unlock()

	frame, ok := buffer.NextPacket()
	if !ok {
		a.mu.Lock()
		a.stats.Underruns++
		a.mu.Unlock()
	}
	a.recordUtilization()
	return frame, ok
}

// UpdateAdaptation resizes the buffer toward the target capacity for the
// current network conditions. Calls are rate-limited by the configured
// update interval, and structural changes by the 100ms adaptation floor.
func (a *AdaptiveBuffer) UpdateAdaptation() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.monitor == nil {
		return
	}
	now := time.Now()
	if now.Sub(a.lastUpdate) < a.config.UpdateInterval {
		return
	}
	a.lastUpdate = now

	metrics := a.monitor.Metrics()
	a.stats.NetworkQuality = metrics.Quality
	a.stats.PacketLossRate = metrics.PacketLossRate
	a.stats.AvgRTT = metrics.AvgRTT
	a.stats.Jitter = metrics.Jitter

	target := a.targetCapacityLocked(metrics)
	a.stats.TargetCapacity = target
	a.stats.AdaptationFactor = a.adaptationFactorLocked(metrics.Quality)

	if target == a.stats.CurrentCapacity {
		return
	}
	if now.Sub(a.lastAdaptation) < minAdaptationInterval {
		return
	}

	diff := target - a.stats.CurrentCapacity
	step := int(math.Round(float64(diff) * a.config.AdaptationRate * a.stats.AdaptationFactor))
	if diff > 0 && step < 1 {
		step = 1
	} else if diff < 0 && step > -1 {
		step = -1
	}

	next := clampInt(a.stats.CurrentCapacity+step, a.config.MinCapacity, a.config.MaxCapacity)
	if next != a.stats.CurrentCapacity {
		a.applyCapacityLocked(next)
	}
}

// SetCapacity forces the buffer to an explicit capacity within bounds.
func (a *AdaptiveBuffer) SetCapacity(capacity int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if capacity < a.config.MinCapacity || capacity > a.config.MaxCapacity {
		return false
	}
	if capacity != a.stats.CurrentCapacity {
		a.applyCapacityLocked(capacity)
	}
	return true
}

// Stats returns a snapshot of adaptation statistics.
func (a *AdaptiveBuffer) Stats() AdaptiveStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Config returns the adaptive configuration.
func (a *AdaptiveBuffer) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// Reset restores the default capacity and clears all state.
func (a *AdaptiveBuffer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	buffer, err := NewBuffer(a.config.DefaultCapacity, a.frameSize, a.channels)
	if err != nil {
		return // bounds already validated at construction
	}
	a.buffer = buffer

	now := time.Now()
	a.stats = AdaptiveStats{
		CurrentCapacity:  a.config.DefaultCapacity,
		TargetCapacity:   a.config.DefaultCapacity,
		AdaptationFactor: 1.0,
		NetworkQuality:   netmon.QualityExcellent,
	}
	a.capacityHistory = nil
	a.utilizationHistory = nil
	a.lastAdaptation = now
	a.lastUpdate = now
}

// Clear empties the underlying buffer without touching adaptation state.
func (a *AdaptiveBuffer) Clear() {
	a.mu.Lock()
	buffer := a.buffer
	a.mu.Unlock()
	buffer.Clear()
}

// Empty reports whether no frames are buffered.
func (a *AdaptiveBuffer) Empty() bool {
	a.mu.Lock()
	buffer := a.buffer
	a.mu.Unlock()
	return buffer.Empty()
}

// Full reports whether the buffer is at its current capacity.
func (a *AdaptiveBuffer) Full() bool {
	a.mu.Lock()
	buffer := a.buffer
	a.mu.Unlock()
	return buffer.Full()
}

// Capacity returns the current capacity.
func (a *AdaptiveBuffer) Capacity() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats.CurrentCapacity
}

// Size returns the number of buffered frames.
func (a *AdaptiveBuffer) Size() int {
	a.mu.Lock()
	buffer := a.buffer
	a.mu.Unlock()
	return buffer.Size()
}

// Buffer exposes the underlying jitter buffer for diagnostics.
func (a *AdaptiveBuffer) Buffer() *Buffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffer
}

func (a *AdaptiveBuffer) targetCapacityLocked(metrics netmon.Metrics) int {
	target := a.monitor.RecommendedJitterCapacity(a.config.MinCapacity, a.config.MaxCapacity)

	if metrics.PacketLossRate > a.config.LossThresholdPct {
		target += int(metrics.PacketLossRate / 5) // +1 per 5% loss
	}
	if metrics.Jitter > a.config.JitterThreshold {
		target++
	}
	if metrics.AvgRTT > a.config.RTTThreshold {
		target++
	}
	return clampInt(target, a.config.MinCapacity, a.config.MaxCapacity)
}

func (a *AdaptiveBuffer) adaptationFactorLocked(quality netmon.Quality) float64 {
	factor := 1.0
	switch quality {
	case netmon.QualityExcellent:
		factor = 1.2
	case netmon.QualityGood:
		factor = 1.0
	case netmon.QualityFair:
		factor = 0.8
	case netmon.QualityPoor:
		factor = 0.6
	}

	if !a.stableLocked() {
		factor *= 0.5
	}
	return math.Min(math.Max(factor, minAdaptationFactor), maxAdaptationFactor)
}

// stableLocked checks the coefficient of variation of recent capacities.
func (a *AdaptiveBuffer) stableLocked() bool {
	if len(a.capacityHistory) < a.config.StabilityWindow {
		return true
	}

	recent := a.capacityHistory[len(a.capacityHistory)-a.config.StabilityWindow:]
	var sum float64
	for _, c := range recent {
		sum += float64(c)
	}
	mean := sum / float64(len(recent))
	if mean <= 0 {
		return true
	}

	var variance float64
	for _, c := range recent {
		diff := float64(c) - mean
		variance += diff * diff
	}
	variance /= float64(len(recent))

	return math.Sqrt(variance)/mean <= a.config.StabilityThreshold
}

// applyCapacityLocked migrates every buffered frame into a replacement
// buffer at the new capacity. The drain is bounded by the current capacity
// so the lock is held only briefly.
func (a *AdaptiveBuffer) applyCapacityLocked(capacity int) {
	replacement, err := NewBuffer(capacity, a.frameSize, a.channels)
	if err != nil {
		return
	}
	for {
		frame, ok := a.buffer.NextPacket()
		if !ok {
			break
		}
		replacement.AddPacket(frame.SequenceID, frame.Timestamp, frame.Samples)
	}

	logrus.WithFields(logrus.Fields{
		"from":    a.stats.CurrentCapacity,
		"to":      capacity,
		"quality": a.stats.NetworkQuality.String(),
	}).Debug("Jitter buffer capacity changed")

	if capacity > a.stats.CurrentCapacity {
		a.stats.CapacityIncreases++
	} else {
		a.stats.CapacityDecreases++
	}
	a.stats.CurrentCapacity = capacity
	a.stats.Adaptations++
	a.lastAdaptation = time.Now()
	a.buffer = replacement

	a.capacityHistory = append(a.capacityHistory, capacity)
	if len(a.capacityHistory) > maxHistoryLen {
		a.capacityHistory = a.capacityHistory[len(a.capacityHistory)-maxHistoryLen:]
	}
}

func (a *AdaptiveBuffer) recordUtilization() {
	a.mu.Lock()
	defer a.mu.Unlock()

	utilization := float64(a.buffer.Size()) / float64(a.buffer.Capacity())
	a.utilizationHistory = append(a.utilizationHistory, utilization)
	if len(a.utilizationHistory) > maxHistoryLen {
		a.utilizationHistory = a.utilizationHistory[len(a.utilizationHistory)-maxHistoryLen:]
	}

	var sum float64
	for _, u := range a.utilizationHistory {
		sum += u
	}
	a.stats.AverageUtilization = sum / float64(len(a.utilizationHistory))
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

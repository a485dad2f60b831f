// ABOUTME: RTT probe datagrams exchanged alongside the audio stream
// ABOUTME: Fixed 12-byte frame: 4-byte magic plus the send time in nanos
package transport

import (
	"encoding/binary"
	"math"
	"time"
)

// probeMagic keeps probes distinguishable from audio datagrams. FEC frames
// start 0x01/0x02 and audio packets are at least 16 bytes, so a 12-byte
// frame with this prefix is unambiguous.
var probeMagic = [4]byte{'A', 'B', 'Q', 'P'}

const probeSize = 12

// feedbackMagic marks redundancy feedback frames flowing receiver to
// sender, carrying the monitor's recommended FEC redundancy level.
var feedbackMagic = [4]byte{'A', 'B', 'F', 'B'}

const feedbackSize = 12

// BuildProbe frames the given send time for the wire.
func BuildProbe(sentAt time.Time) []byte {
	buf := make([]byte, probeSize)
	copy(buf[:4], probeMagic[:])
	binary.LittleEndian.PutUint64(buf[4:], uint64(sentAt.UnixNano()))
	return buf
}

// IsProbe reports whether a datagram is a probe frame.
func IsProbe(data []byte) bool {
	return len(data) == probeSize &&
		data[0] == probeMagic[0] && data[1] == probeMagic[1] &&
		data[2] == probeMagic[2] && data[3] == probeMagic[3]
}

// ParseProbe extracts the embedded send time. Returns false for anything
// that is not a probe frame.
func ParseProbe(data []byte) (time.Time, bool) {
	if !IsProbe(data) {
		return time.Time{}, false
	}
	nanos := binary.LittleEndian.Uint64(data[4:])
	return time.Unix(0, int64(nanos)), true
}

// BuildFeedback frames a recommended redundancy percentage.
func BuildFeedback(redundancyPct float64) []byte {
	buf := make([]byte, feedbackSize)
	copy(buf[:4], feedbackMagic[:])
	binary.LittleEndian.PutUint64(buf[4:], math.Float64bits(redundancyPct))
	return buf
}

// ParseFeedback extracts the recommended redundancy percentage. Returns
// false for anything that is not a feedback frame.
func ParseFeedback(data []byte) (float64, bool) {
	if len(data) != feedbackSize ||
		data[0] != feedbackMagic[0] || data[1] != feedbackMagic[1] ||
		data[2] != feedbackMagic[2] || data[3] != feedbackMagic[3] {
		return 0, false
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(data[4:])), true
}

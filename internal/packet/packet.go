// ABOUTME: Wire format for audio transport packets
// ABOUTME: Fixed 16-byte little-endian header followed by the payload
package packet

import "encoding/binary"

const (
	// HeaderSize is the fixed header length: sequence (4) + timestamp (8) + payload size (4).
	HeaderSize = 16

	// MaxPayloadSize bounds the declared payload length of a valid packet.
	MaxPayloadSize = 65536

	// MaxDatagramSize is the largest packet the sender will put on the wire.
	MaxDatagramSize = 2048
)

// AudioPacket is one transport unit of encoded audio.
type AudioPacket struct {
	SequenceID uint32
	Timestamp  uint64 // capture time in microseconds
	Payload    []byte
}

// New builds a packet for the given payload.
func New(sequenceID uint32, timestamp uint64, payload []byte) AudioPacket {
	return AudioPacket{SequenceID: sequenceID, Timestamp: timestamp, Payload: payload}
}

// Valid reports whether the packet satisfies the size invariant.
func (p AudioPacket) Valid() bool {
	return len(p.Payload) <= MaxPayloadSize
}

// TotalSize returns the serialized length in bytes.
func (p AudioPacket) TotalSize() int {
	return HeaderSize + len(p.Payload)
}

// Serialize encodes the packet into its wire representation.
func (p AudioPacket) Serialize() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], p.SequenceID)
	binary.LittleEndian.PutUint64(buf[4:12], p.Timestamp)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(p.Payload)))
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// Deserialize parses a wire packet. It returns false when the data is
// shorter than the header, shorter than the declared payload, or the
// reconstructed packet violates the size invariant. The payload is copied
// so the caller may reuse the input buffer.
func Deserialize(data []byte) (AudioPacket, bool) {
	if len(data) < HeaderSize {
		return AudioPacket{}, false
	}

	p := AudioPacket{
		SequenceID: binary.LittleEndian.Uint32(data[0:4]),
		Timestamp:  binary.LittleEndian.Uint64(data[4:12]),
	}
	payloadSize := binary.LittleEndian.Uint32(data[12:16])
	if payloadSize > MaxPayloadSize {
		return AudioPacket{}, false
	}
	if uint32(len(data)-HeaderSize) < payloadSize {
		return AudioPacket{}, false
	}

	p.Payload = make([]byte, payloadSize)
	copy(p.Payload, data[HeaderSize:HeaderSize+int(payloadSize)])
	return p, true
}

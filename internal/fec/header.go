// ABOUTME: FEC wire header shared by encoder and decoder
// ABOUTME: Fixed 13-byte little-endian layout prepended to audio payloads
package fec

import "encoding/binary"

// PacketType distinguishes primary payloads from redundant copies.
type PacketType uint8

const (
	PacketTypePrimary   PacketType = 0x01
	PacketTypeRedundant PacketType = 0x02
)

// HeaderSize is the fixed on-wire header length in bytes.
const HeaderSize = 13

// Header describes one FEC-framed packet. For primary packets
// RedundantSequenceID and RedundantPayloadSize are zero.
type Header struct {
	Type                 PacketType
	SequenceID           uint32
	RedundantSequenceID  uint32 // for redundant packets: the sequence this copy protects
	RedundantPayloadSize uint16
	RedundancyLevel      uint8 // encoder redundancy percentage at send time
	Reserved             uint8
}

// Serialize encodes the header into its 13-byte wire form.
func (h Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[1:5], h.SequenceID)
	binary.LittleEndian.PutUint32(buf[5:9], h.RedundantSequenceID)
	binary.LittleEndian.PutUint16(buf[9:11], h.RedundantPayloadSize)
	buf[11] = h.RedundancyLevel
	buf[12] = h.Reserved
	return buf
}

// ParseHeader decodes a header from the front of data. It returns false
// when data is shorter than HeaderSize or the packet type is unknown.
func ParseHeader(data []byte) (Header, bool) {
	if len(data) < HeaderSize {
		return Header{}, false
	}

	h := Header{
		Type:                 PacketType(data[0]),
		SequenceID:           binary.LittleEndian.Uint32(data[1:5]),
		RedundantSequenceID:  binary.LittleEndian.Uint32(data[5:9]),
		RedundantPayloadSize: binary.LittleEndian.Uint16(data[9:11]),
		RedundancyLevel:      data[11],
		Reserved:             data[12],
	}
	if h.Type != PacketTypePrimary && h.Type != PacketTypeRedundant {
		return Header{}, false
	}
	return h, true
}

// ABOUTME: Opus codec implementation wrapping libopus
// ABOUTME: Encodes and decodes fixed 2.5ms frames at 48kHz
package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacket bounds an encoded Opus packet.
const maxOpusPacket = 4000

// OpusCodec is the real codec implementation.
type OpusCodec struct {
	encoder  *opus.Encoder
	decoder  *opus.Decoder
	channels int
}

// NewOpusCodec creates an Opus encoder/decoder pair for the fixed contract.
func NewOpusCodec(channels int) (*OpusCodec, error) {
	encoder, err := opus.NewEncoder(SampleRate, channels, opus.AppRestrictedLowdelay)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	bitrate := 64000 * channels
	if err := encoder.SetBitrate(bitrate); err != nil {
		logrus.WithField("bitrate", bitrate).Warn("Failed to set Opus bitrate")
	}

	decoder, err := opus.NewDecoder(SampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusCodec{encoder: encoder, decoder: decoder, channels: channels}, nil
}

// Decode converts an Opus packet to one interleaved PCM frame.
func (c *OpusCodec) Decode(data []byte) ([]int16, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty opus packet")
	}

	pcm := make([]int16, FrameSamples(c.channels))
	n, err := c.decoder.Decode(data, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	if n != FrameSamplesPerChannel {
		return nil, fmt.Errorf("opus frame length %d, want %d samples/channel",
			n, FrameSamplesPerChannel)
	}
	return pcm[:n*c.channels], nil
}

// Encode converts one interleaved PCM frame to an Opus packet.
func (c *OpusCodec) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != FrameSamples(c.channels) {
		return nil, fmt.Errorf("pcm frame length %d, want %d", len(pcm), FrameSamples(c.channels))
	}

	output := make([]byte, maxOpusPacket)
	n, err := c.encoder.Encode(pcm, output)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}
	return output[:n], nil
}

// Close releases the codec. libopus handles are garbage collected.
func (c *OpusCodec) Close() error { return nil }

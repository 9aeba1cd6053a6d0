package radiobot

import (
	"layeh.com/gopus"

	"github.com/LightQuotient/discord-radio-bot/internal/stream"
)

// maxOpusBytes bounds a single encoded frame.
const maxOpusBytes = 4000

// FrameEncoder turns one PCM frame into one voice packet.
type FrameEncoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// OpusEncoder is a wrapper around the gopus.Encoder
type OpusEncoder struct {
	encoder *gopus.Encoder
}

// NewOpusEncoder constructs a Gopus encoder set to 48kHz stereo. A bitrate of
// zero keeps the library default.
func NewOpusEncoder(bitrate int) (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(stream.SampleRate, stream.Channels, gopus.Audio)
	if err != nil {
		return nil, err
	}
	if bitrate > 0 {
		enc.SetBitrate(bitrate)
	}
	return &OpusEncoder{encoder: enc}, nil
}

// Encode takes one frame of interleaved PCM and returns the Opus packet.
func (oe *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	// 960 samples at 48 kHz = 20ms of audio
	return oe.encoder.Encode(pcm, stream.FrameSize, maxOpusBytes)
}

// OpusEncoderFactory adapts NewOpusEncoder to Options.NewEncoder.
func OpusEncoderFactory(bitrate int) func() (FrameEncoder, error) {
	return func() (FrameEncoder, error) {
		enc, err := NewOpusEncoder(bitrate)
		if err != nil {
			return nil, err
		}
		return enc, nil
	}
}

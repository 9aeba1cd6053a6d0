package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/faiface/beep"
	mp3 "github.com/hajimehoshi/go-mp3"
)

const defaultResampleQuality = 4

// MP3Decoder decodes MP3 streams in-process and resamples them to SampleRate.
type MP3Decoder struct {
	Quality int
}

func (d MP3Decoder) Decode(_ context.Context, r io.ReadCloser) (Source, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}

	pcm := &pcmStreamer{r: dec}
	var s beep.Streamer = pcm
	if from := beep.SampleRate(dec.SampleRate()); from != SampleRate {
		quality := d.Quality
		if quality <= 0 {
			quality = defaultResampleQuality
		}
		s = beep.Resample(quality, from, SampleRate, pcm)
	}
	return &beepSource{body: r, streamer: s}, nil
}

// pcmStreamer adapts 16-bit little-endian stereo PCM, which is what go-mp3
// produces, to beep.Streamer.
type pcmStreamer struct {
	r   io.Reader
	buf []byte
	err error
}

func (p *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	need := len(samples) * 4
	if cap(p.buf) < need {
		p.buf = make([]byte, need)
	}
	buf := p.buf[:need]

	n, err := io.ReadFull(p.r, buf)
	frames := n / 4
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(buf[i*4:]))
		right := int16(binary.LittleEndian.Uint16(buf[i*4+2:]))
		samples[i][0] = float64(left) / 32768
		samples[i][1] = float64(right) / 32768
	}
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			p.err = err
		}
		return frames, frames > 0
	}
	return frames, true
}

func (p *pcmStreamer) Err() error {
	return p.err
}

type beepSource struct {
	body     io.Closer
	streamer beep.Streamer
	buf      [][2]float64
}

func (s *beepSource) ReadFrame(pcm []int16) error {
	frames := len(pcm) / Channels
	if cap(s.buf) < frames {
		s.buf = make([][2]float64, frames)
	}
	buf := s.buf[:frames]

	filled := 0
	for filled < frames {
		n, ok := s.streamer.Stream(buf[filled:])
		filled += n
		if !ok || n == 0 {
			break
		}
	}
	if filled == 0 {
		if err := s.streamer.Err(); err != nil {
			return err
		}
		return io.EOF
	}

	for i := 0; i < frames; i++ {
		if i >= filled {
			pcm[2*i], pcm[2*i+1] = 0, 0
			continue
		}
		pcm[2*i] = toInt16(buf[i][0])
		pcm[2*i+1] = toInt16(buf[i][1])
	}
	return nil
}

func (s *beepSource) Close() error {
	if s.body == nil {
		return nil
	}
	return s.body.Close()
}

func toInt16(v float64) int16 {
	v = math.Round(v * 32767)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

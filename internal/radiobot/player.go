package radiobot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/LightQuotient/discord-radio-bot/internal/stream"
)

var (
	ErrNotConnected   = errors.New("the bot is not connected to any voice channel")
	ErrUnknownStation = errors.New("unknown radio station")
)

type playbackEventKind int

const (
	playbackStarted playbackEventKind = iota
	playbackFailed
	playbackFinished
	playbackVoiceLost
)

// playbackEvent is how a streaming goroutine reports back to the loop.
type playbackEvent struct {
	kind playbackEventKind
	gen  uint64
	err  error
}

// confirmation is the chat reply held back until the stream is known to work.
type confirmation struct {
	channelID string
	started   string
}

// playback is one station being streamed into one voice connection.
type playback struct {
	gen     uint64
	station Station
	conn    VoiceConn
	gain    *gain
	cancel  context.CancelFunc
	confirm *confirmation
}

// gain is the live volume of a playback, read by its streaming goroutine.
type gain struct {
	bits atomic.Uint64
}

func newGain(v float64) *gain {
	g := &gain{}
	g.set(v)
	return g
}

func (g *gain) set(v float64) { g.bits.Store(math.Float64bits(v)) }

func (g *gain) get() float64 { return math.Float64frombits(g.bits.Load()) }

// apply scales pcm in place.
func (g *gain) apply(pcm []int16) {
	v := g.get()
	if v == 1 {
		return
	}
	for i, sample := range pcm {
		x := math.Round(float64(sample) * v)
		switch {
		case x > math.MaxInt16:
			x = math.MaxInt16
		case x < math.MinInt16:
			x = math.MinInt16
		}
		pcm[i] = int16(x)
	}
}

// startPlayback streams st into the current connection. Any previous
// playback is cancelled first. confirm, when set, is answered once the
// stream opens or fails.
func (b *Bot) startPlayback(st Station, confirm *confirmation) error {
	s := b.session
	if s.conn == nil {
		b.log.Error("The bot is not connected to any voice channel.", "station", st.ID)
		return ErrNotConnected
	}
	b.cancelPlayback("replaced", true)

	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	p := &playback{
		gen:     s.gen,
		station: st,
		conn:    s.conn,
		gain:    newGain(s.volume),
		cancel:  cancel,
		confirm: confirm,
	}
	s.player = p
	s.phase = PhaseConnecting
	s.last = st
	s.hasLast = true

	b.log.Info("Starting playback", "station", st.ID, "url", st.URL, "gen", p.gen)
	b.workers.Add(1)
	go func() {
		defer b.workers.Done()
		b.stream(ctx, p)
	}()
	return nil
}

// stopPlayback stops the current playback, keeping the connection and the
// last station. It reports false when nothing was playing.
func (b *Bot) stopPlayback() bool {
	if !b.session.active() {
		return false
	}
	b.cancelPlayback("stopped", true)
	return true
}

// cancelPlayback drops the player without touching the connection. With
// notify set, a start still waiting for its stream is told it was cancelled;
// otherwise the pending reply is only logged.
func (b *Bot) cancelPlayback(reason string, notify bool) {
	s := b.session
	p := s.player
	if p == nil {
		return
	}
	p.cancel()
	if p.confirm != nil {
		if notify {
			b.reply(p.confirm.channelID, fmt.Sprintf("Playback of %s was cancelled.", p.station.ID))
		} else {
			b.log.Info("Dropping start confirmation", "station", p.station.ID, "reason", reason)
		}
		p.confirm = nil
	}
	b.log.Info("Playback cancelled", "station", p.station.ID, "gen", p.gen, "reason", reason)

	s.player = nil
	s.phase = PhaseStopped
	b.metrics.playing.Set(0)
}

// setVolume stores the new default gain and applies it to live audio.
func (b *Bot) setVolume(level int) {
	s := b.session
	s.level = level
	s.volume = volumeGain(level)
	if s.player != nil {
		s.player.gain.set(s.volume)
	}
}

// stream runs on its own goroutine. It never touches the session; every
// outcome is posted back to the loop tagged with the playback generation.
func (b *Bot) stream(ctx context.Context, p *playback) {
	report := func(kind playbackEventKind, err error) {
		if ctx.Err() != nil {
			return
		}
		b.post(playbackEvent{kind: kind, gen: p.gen, err: err})
	}

	if b.opener == nil || b.newEncoder == nil {
		report(playbackFailed, errors.New("playback is not configured"))
		return
	}

	src, err := b.opener.Open(ctx, p.station.URL)
	if err != nil {
		report(playbackFailed, err)
		return
	}
	defer src.Close()

	enc, err := b.newEncoder()
	if err != nil {
		report(playbackFailed, fmt.Errorf("error creating opus encoder: %w", err))
		return
	}

	report(playbackStarted, nil)

	if err := p.conn.Speaking(true); err != nil {
		b.log.Warn("Couldn't set speaking", "error", err)
	}
	defer func() { _ = p.conn.Speaking(false) }()

	timer := time.NewTimer(b.frameTimeout)
	defer timer.Stop()

	pcm := make([]int16, stream.FrameSize*stream.Channels)
	for {
		if err := src.ReadFrame(pcm); err != nil {
			if errors.Is(err, io.EOF) {
				report(playbackFinished, nil)
			} else {
				report(playbackFinished, fmt.Errorf("error reading station stream: %w", err))
			}
			return
		}
		p.gain.apply(pcm)

		opusBuf, err := enc.Encode(pcm)
		if err != nil {
			report(playbackFinished, fmt.Errorf("error encoding to Opus: %w", err))
			return
		}

		timer.Reset(b.frameTimeout)
		select {
		case p.conn.Frames() <- opusBuf:
			b.metrics.framesSent.Inc()
		case <-ctx.Done():
			return
		case <-timer.C:
			if !p.conn.Ready() {
				report(playbackVoiceLost, errors.New("timed out sending audio to a voice connection that is not ready"))
				return
			}
			// Still connected, the frame is dropped.
		}
	}
}

// onPlayback applies a streaming goroutine's report. Reports from a playback
// that has since been stopped or replaced are ignored.
func (b *Bot) onPlayback(ev playbackEvent) {
	s := b.session
	p := s.player
	if p == nil || p.gen != ev.gen {
		b.log.Debug("Ignoring stale playback event", "gen", ev.gen)
		return
	}

	switch ev.kind {
	case playbackStarted:
		s.phase = PhasePlaying
		b.metrics.playing.Set(1)
		b.log.Info("Playback started", "station", p.station.ID)
		if p.confirm != nil {
			b.reply(p.confirm.channelID, p.confirm.started)
			p.confirm = nil
		}

	case playbackFailed:
		b.log.Error("Error connecting to voice channel or playing audio", "station", p.station.ID, "error", ev.err)
		b.metrics.streamErrors.WithLabelValues("open").Inc()
		b.reporter.CaptureExceptionWithContext(ev.err,
			map[string]string{"component": "playback", "station": p.station.ID},
			map[string]interface{}{"url": p.station.URL})
		if p.confirm != nil {
			b.reply(p.confirm.channelID, fmt.Sprintf("Could not start %s, the station stream is unavailable.", p.station.ID))
			p.confirm = nil
		}
		b.endPlayback(p)

	case playbackFinished:
		if ev.err != nil {
			b.log.Error("Playback ended with error", "station", p.station.ID, "error", ev.err)
			b.metrics.streamErrors.WithLabelValues("stream").Inc()
			b.reporter.CaptureExceptionWithContext(ev.err,
				map[string]string{"component": "playback", "station": p.station.ID}, nil)
		} else {
			b.log.Info("Playback finished", "station", p.station.ID)
		}
		b.endPlayback(p)

	case playbackVoiceLost:
		b.metrics.streamErrors.WithLabelValues("voice").Inc()
		b.reporter.CaptureExceptionWithContext(ev.err, map[string]string{"component": "voice"}, nil)
		b.connectionLost(p.conn, ev.err.Error())
	}
}

// endPlayback clears a playback whose goroutine has already returned.
func (b *Bot) endPlayback(p *playback) {
	p.cancel()
	s := b.session
	s.player = nil
	s.phase = PhaseStopped
	b.metrics.playing.Set(0)
}

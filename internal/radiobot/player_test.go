package radiobot

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const hitradioURL = "https://hitradio-maroc.ice.infomaniak.ch/hitradio-maroc-128.mp3"

func TestStreamFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.opener.fail[hitradioURL] = errBoom
	h.gw.setVoice(allowedID, "voice-A")
	h.say(allowedID, "-c")

	h.say(allowedID, "-p hitradio")
	h.waitForMessage(t, "Could not start hitradio, the station stream is unavailable.")

	snap := h.bot.State()
	assert.Equal(t, PhaseStopped, snap.Phase)
	assert.False(t, snap.Playing)
	assert.True(t, snap.Connected)
	assert.Equal(t, hitradioURL, snap.LastURL)
	assert.NotContains(t, h.gw.sent(), "Started playing hitradio!")
	assert.Equal(t, 1, h.reporter.count())
}

func TestFramesCarryVolume(t *testing.T) {
	h := newHarness(t)
	h.say(allowedID, "-v 10")
	h.connectAndPlay(t, "hitradio")

	conn := h.gw.joined()[0]
	select {
	case frame := <-conn.frames:
		// 1000 * 10/20
		assert.Equal(t, []byte{0xF4, 0x01}, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame sent")
	}
}

func TestNaturalEndKeepsConnection(t *testing.T) {
	h := newHarness(t)
	h.connectAndPlay(t, "hitradio")

	h.opener.finishStreams()
	snap := h.waitFor(t, func(s Snapshot) bool { return s.Phase == PhaseStopped })
	assert.False(t, snap.Playing)
	assert.True(t, snap.Connected)
	assert.Zero(t, h.reporter.count())

	h.say(allowedID, "-resume")
	h.waitForMessage(t, msgResumed)
}

func TestVoiceLostWhenFramesStall(t *testing.T) {
	h := newHarness(t)
	h.gw.frameBuffer = 0
	h.gw.notReady = true
	h.gw.setVoice(allowedID, "voice-A")
	h.say(allowedID, "-c")
	h.say(allowedID, "-p hitradio")

	snap := h.waitFor(t, func(s Snapshot) bool { return !s.Connected })
	assert.False(t, snap.Playing)
	assert.Equal(t, PhaseDisconnected, snap.Phase)
	assert.Equal(t, hitradioURL, snap.LastURL)
	assert.True(t, h.gw.joined()[0].isDisconnected())
}

func TestSlowButReadyVoiceKeepsPlaying(t *testing.T) {
	h := newHarness(t)
	h.gw.frameBuffer = 0
	h.connectAndPlay(t, "hitradio")

	time.Sleep(100 * time.Millisecond)
	snap := h.bot.State()
	assert.True(t, snap.Playing)
	assert.True(t, snap.Connected)
}

func TestStalePlaybackEventsIgnored(t *testing.T) {
	h := newHarness(t)
	h.connectAndPlay(t, "hitradio")
	before := h.bot.State()

	for _, kind := range []playbackEventKind{playbackFailed, playbackFinished, playbackVoiceLost} {
		require.True(t, h.bot.post(playbackEvent{kind: kind, gen: 0, err: errBoom}))
	}
	snap := h.bot.State()
	assert.Equal(t, before, snap)
	assert.True(t, snap.Playing)
	assert.Zero(t, h.reporter.count())
}

func TestRestartIgnoresOldStream(t *testing.T) {
	h := newHarness(t)
	h.connectAndPlay(t, "hitradio")

	h.say(allowedID, "-s")
	h.say(allowedID, "-resume")
	h.waitFor(t, func(s Snapshot) bool { return s.Playing })

	// A failure report from the first playback must not end the second.
	require.True(t, h.bot.post(playbackEvent{kind: playbackFailed, gen: 1, err: errBoom}))
	assert.True(t, h.bot.State().Playing)
	assert.Equal(t, []string{hitradioURL, hitradioURL}, h.opener.opened())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, func(o *Options) { o.Metrics = NewMetrics(reg) })
	m := h.bot.metrics

	h.connectAndPlay(t, "hitradio")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.playing))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.voice))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("connect", resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("play", resultOK)))
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.framesSent) >= 3 }, 2*time.Second, 5*time.Millisecond)

	h.say(strangerID, "-p hitradio")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("any", "denied")))

	h.say(allowedID, "-d")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.playing))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.voice))
}

func TestShutdownLeavesVoice(t *testing.T) {
	gw := newFakeGateway()
	opener := newFakeOpener()
	defer opener.finishStreams()

	b := New(gw, Options{
		Allow:       NewAllowList(allowedID),
		Opener:      opener,
		NewEncoder:  func() (FrameEncoder, error) { return fakeEncoder{}, nil },
		CommandRate: rate.Inf,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, b.Run(ctx))
	}()

	gw.setVoice(allowedID, "voice-A")
	b.HandleMessage(Message{ChannelID: testText, GuildID: testGuild, AuthorID: allowedID, Content: "-c"})
	b.HandleMessage(Message{ChannelID: testText, GuildID: testGuild, AuthorID: allowedID, Content: "-p hitradio"})
	require.Eventually(t, func() bool { return b.State().Playing }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	require.Len(t, gw.joined(), 1)
	assert.True(t, gw.joined()[0].isDisconnected())
	assert.Equal(t, Snapshot{}, b.State())

	// Events after shutdown are dropped rather than blocking.
	b.HandleMessage(Message{ChannelID: testText, GuildID: testGuild, AuthorID: allowedID, Content: "-d"})
}

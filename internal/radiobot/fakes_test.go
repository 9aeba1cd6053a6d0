package radiobot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/LightQuotient/discord-radio-bot/internal/stream"
)

const (
	testGuild  = "guild-1"
	testText   = "text-1"
	testBotID  = "bot-1"
	allowedID  = "user-allowed"
	strangerID = "user-stranger"
)

type fakeConn struct {
	guildID   string
	channelID string
	frames    chan []byte

	mu           sync.Mutex
	ready        bool
	disconnected bool
}

func (c *fakeConn) GuildID() string   { return c.guildID }
func (c *fakeConn) ChannelID() string { return c.channelID }
func (c *fakeConn) Speaking(bool) error {
	return nil
}
func (c *fakeConn) Frames() chan<- []byte { return c.frames }

func (c *fakeConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	c.ready = false
	return nil
}

func (c *fakeConn) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

type fakeGateway struct {
	mu          sync.Mutex
	voice       map[string]string // user -> channel
	unjoinable  map[string]bool
	joinErr     error
	frameBuffer int
	notReady    bool

	conns    []*fakeConn
	messages []string
	embeds   []*discordgo.MessageEmbed
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		voice:       make(map[string]string),
		unjoinable:  make(map[string]bool),
		frameBuffer: 256,
	}
}

func (g *fakeGateway) BotUserID() string { return testBotID }

func (g *fakeGateway) JoinVoice(guildID, channelID string) (VoiceConn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.joinErr != nil {
		return nil, g.joinErr
	}
	c := &fakeConn{
		guildID:   guildID,
		channelID: channelID,
		frames:    make(chan []byte, g.frameBuffer),
		ready:     !g.notReady,
	}
	g.conns = append(g.conns, c)
	return c, nil
}

func (g *fakeGateway) SendMessage(_, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, content)
	return nil
}

func (g *fakeGateway) SendEmbed(_ string, embed *discordgo.MessageEmbed) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.embeds = append(g.embeds, embed)
	return nil
}

func (g *fakeGateway) UserVoiceChannel(_, userID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.voice[userID]
}

func (g *fakeGateway) ChannelName(channelID string) string { return "#" + channelID }

func (g *fakeGateway) CanJoin(channelID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.unjoinable[channelID]
}

func (g *fakeGateway) setVoice(userID, channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.voice[userID] = channelID
}

func (g *fakeGateway) sent() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.messages...)
}

func (g *fakeGateway) lastMessage() string {
	msgs := g.sent()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func (g *fakeGateway) joined() []*fakeConn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*fakeConn(nil), g.conns...)
}

// fakeSource yields a few frames, then waits for the test to end the stream
// or for the playback to be cancelled.
type fakeSource struct {
	ctx   context.Context
	burst int
	end   <-chan struct{}
	read  int
}

func (s *fakeSource) ReadFrame(pcm []int16) error {
	if s.read < s.burst {
		s.read++
		for i := range pcm {
			pcm[i] = 1000
		}
		return nil
	}
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-s.end:
		return io.EOF
	}
}

func (s *fakeSource) Close() error { return nil }

type fakeOpener struct {
	mu     sync.Mutex
	urls   []string
	fail   map[string]error
	gate   chan struct{}
	end    chan struct{}
	burst  int
	endOne sync.Once
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{fail: make(map[string]error), end: make(chan struct{}), burst: 3}
}

func (o *fakeOpener) Open(ctx context.Context, url string) (stream.Source, error) {
	o.mu.Lock()
	o.urls = append(o.urls, url)
	err := o.fail[url]
	gate := o.gate
	o.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &fakeSource{ctx: ctx, burst: o.burst, end: o.end}, nil
}

func (o *fakeOpener) opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}

// finishStreams makes every open fake stream reach its natural end.
func (o *fakeOpener) finishStreams() {
	o.endOne.Do(func() { close(o.end) })
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(pcm []int16) ([]byte, error) {
	return []byte{byte(pcm[0]), byte(pcm[0] >> 8)}, nil
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) CaptureExceptionWithContext(err error, _ map[string]string, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

type harness struct {
	bot      *Bot
	gw       *fakeGateway
	opener   *fakeOpener
	reporter *recordingReporter
}

func newHarness(t *testing.T, tweak ...func(*Options)) *harness {
	t.Helper()

	h := &harness{
		gw:       newFakeGateway(),
		opener:   newFakeOpener(),
		reporter: &recordingReporter{},
	}
	opts := Options{
		Allow:        NewAllowList(allowedID),
		Opener:       h.opener,
		NewEncoder:   func() (FrameEncoder, error) { return fakeEncoder{}, nil },
		CommandRate:  rate.Inf,
		FrameTimeout: 20 * time.Millisecond,
		Reporter:     h.reporter,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	h.bot = New(h.gw, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.bot.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		h.opener.finishStreams()
	})
	return h
}

// say posts a chat message and waits until the loop has handled it.
func (h *harness) say(userID, content string) Snapshot {
	h.bot.HandleMessage(Message{ChannelID: testText, GuildID: testGuild, AuthorID: userID, Content: content})
	return h.bot.State()
}

// move posts a voice state change and waits until the loop has handled it.
func (h *harness) move(userID, from, to string) Snapshot {
	h.bot.HandleVoiceState(VoiceState{UserID: userID, GuildID: testGuild, ChannelID: to, PreviousChannelID: from})
	return h.bot.State()
}

func (h *harness) waitFor(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = h.bot.State()
		return cond(snap)
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func (h *harness) waitForMessage(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, m := range h.gw.sent() {
			if m == want {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "message %q never sent", want)
}

// connectAndPlay gets the harness into a playing state on channel A.
func (h *harness) connectAndPlay(t *testing.T, station string) {
	t.Helper()
	h.gw.setVoice(allowedID, "voice-A")
	require.True(t, h.say(allowedID, "-c").Connected)
	h.say(allowedID, "-p "+station)
	h.waitFor(t, func(s Snapshot) bool { return s.Playing })
}

var errBoom = errors.New("boom")

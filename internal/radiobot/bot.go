// bot.go
package radiobot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/LightQuotient/discord-radio-bot/internal/stream"
)

// StreamOpener fetches a station URL and returns decoded PCM.
type StreamOpener interface {
	Open(ctx context.Context, url string) (stream.Source, error)
}

// Reporter receives transport errors worth an operator's attention.
type Reporter interface {
	CaptureExceptionWithContext(err error, tags map[string]string, extra map[string]interface{})
}

type nopReporter struct{}

func (nopReporter) CaptureExceptionWithContext(error, map[string]string, map[string]interface{}) {}

// Options configure a Bot. Zero values fall back to sensible defaults, except
// Opener and NewEncoder which are required for playback.
type Options struct {
	Prefix      string
	GuildID     string
	Stations    *Stations
	Allow       AllowList
	VolumeLevel int

	Opener     StreamOpener
	NewEncoder func() (FrameEncoder, error)

	// CommandRate and CommandBurst limit commands per user; a zero rate
	// disables limiting.
	CommandRate  rate.Limit
	CommandBurst int
	// FrameTimeout is how long a frame may wait for the voice connection
	// before its readiness is checked.
	FrameTimeout time.Duration

	Metrics  *Metrics
	Reporter Reporter
	Logger   *slog.Logger
}

// Message is an inbound chat message.
type Message struct {
	ChannelID string
	GuildID   string
	AuthorID  string
	AuthorBot bool
	Content   string
}

// VoiceState is one user's voice channel transition. ChannelID is empty when
// the user left voice.
type VoiceState struct {
	UserID            string
	GuildID           string
	ChannelID         string
	PreviousChannelID string
}

type stateQuery struct {
	reply chan Snapshot
}

// Bot is the radio bot. All session state lives on the goroutine running Run;
// the Handle methods and State only post events to it.
type Bot struct {
	gw       Gateway
	prefix   string
	guildID  string
	stations *Stations
	allow    AllowList

	opener       StreamOpener
	newEncoder   func() (FrameEncoder, error)
	frameTimeout time.Duration

	limiter  *userLimiter
	metrics  *Metrics
	reporter Reporter
	log      *slog.Logger

	session *Session
	events  chan any
	done    chan struct{}
	workers sync.WaitGroup
}

// New constructs the Bot. Call Run to start processing events.
func New(gw Gateway, opts Options) *Bot {
	if opts.Prefix == "" {
		opts.Prefix = "-"
	}
	if opts.Stations == nil {
		opts.Stations = DefaultStations()
	}
	if opts.VolumeLevel < MinVolume || opts.VolumeLevel > MaxVolume {
		opts.VolumeLevel = MaxVolume / 2
	}
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = 5 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Bot{
		gw:           gw,
		prefix:       opts.Prefix,
		guildID:      opts.GuildID,
		stations:     opts.Stations,
		allow:        opts.Allow,
		opener:       opts.Opener,
		newEncoder:   opts.NewEncoder,
		frameTimeout: opts.FrameTimeout,
		limiter:      newUserLimiter(opts.CommandRate, opts.CommandBurst),
		metrics:      opts.Metrics,
		reporter:     opts.Reporter,
		log:          opts.Logger.With("component", "radiobot"),
		session:      newSession(opts.VolumeLevel),
		events:       make(chan any, 64),
		done:         make(chan struct{}),
	}
}

// Run handles events one at a time until ctx is cancelled, then stops
// playback and leaves voice. It must be called exactly once.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info("Radio Bot is now running!")
	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case ev := <-b.events:
			b.handle(ev)
		}
	}
}

func (b *Bot) shutdown() {
	close(b.done)
	b.destroyConnection("shutting down", false)
	b.cancelPlayback("shutting down", false)
	b.workers.Wait()
	b.log.Info("Radio Bot stopped.")
}

// HandleMessage queues a chat message for the command dispatcher.
func (b *Bot) HandleMessage(m Message) {
	b.post(m)
}

// HandleVoiceState queues a voice state change for the presence follower.
func (b *Bot) HandleVoiceState(v VoiceState) {
	b.post(v)
}

// State returns a copy of the session once every earlier event is handled.
// After Run has returned it reports the zero Snapshot.
func (b *Bot) State() Snapshot {
	q := stateQuery{reply: make(chan Snapshot, 1)}
	if !b.post(q) {
		return Snapshot{}
	}
	select {
	case snap := <-q.reply:
		return snap
	case <-b.done:
		return Snapshot{}
	}
}

func (b *Bot) post(ev any) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.events <- ev:
		return true
	case <-b.done:
		return false
	}
}

func (b *Bot) handle(ev any) {
	switch ev := ev.(type) {
	case Message:
		b.dispatch(ev)
	case VoiceState:
		b.follow(ev)
	case playbackEvent:
		b.onPlayback(ev)
	case stateQuery:
		ev.reply <- b.session.snapshot()
	default:
		b.log.Error("Unhandled event", "type", fmt.Sprintf("%T", ev))
	}
}

// connect opens a voice connection and makes it the session's connection.
func (b *Bot) connect(guildID, channelID string) error {
	b.log.Info("Joining voice channel", "guild", guildID, "channel", channelID)
	vc, err := b.gw.JoinVoice(guildID, channelID)
	if err != nil {
		b.log.Error("Error joining voice channel", "channel", channelID, "error", err)
		b.metrics.streamErrors.WithLabelValues("join").Inc()
		b.reporter.CaptureExceptionWithContext(err, map[string]string{"component": "voice"}, map[string]interface{}{"channel": channelID})
		return err
	}

	s := b.session
	s.conn = vc
	s.channelID = channelID
	if !s.active() {
		s.phase = PhaseIdle
	}
	b.metrics.voice.Set(1)
	return nil
}

// destroyConnection leaves voice. Playback cannot outlive its connection, so
// it is torn down too; volume and the last station survive for resume.
// notify is passed on to cancelPlayback.
func (b *Bot) destroyConnection(reason string, notify bool) {
	s := b.session
	if s.conn == nil {
		return
	}
	b.cancelPlayback(reason, notify)

	b.log.Info("Disconnecting from the voice channel", "channel", s.channelID, "reason", reason)
	if err := s.conn.Disconnect(); err != nil {
		b.log.Warn("Error disconnecting voice", "error", err)
	}
	s.conn = nil
	s.channelID = ""
	s.phase = PhaseDisconnected
	b.metrics.voice.Set(0)
}

// connectionLost handles the voice connection dropping on its own.
func (b *Bot) connectionLost(conn VoiceConn, reason string) {
	s := b.session
	if s.conn == nil || s.conn != conn {
		return
	}
	b.log.Warn("Voice connection lost", "channel", s.channelID, "reason", reason)
	b.destroyConnection(reason, false)
}

func (b *Bot) reply(channelID, content string) {
	if err := b.gw.SendMessage(channelID, content); err != nil {
		b.log.Error("Error sending message", "channel", channelID, "error", err)
	}
}

// userLimiter keeps one token bucket per user. It is only used from the
// event loop.
type userLimiter struct {
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newUserLimiter(limit rate.Limit, burst int) *userLimiter {
	if burst < 1 {
		burst = 1
	}
	return &userLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *userLimiter) allow(userID string) bool {
	if l.limit <= 0 || l.limit == rate.Inf {
		return true
	}
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	return lim.Allow()
}

package radiobot

// Phase is where the session's playback currently stands.
type Phase int

const (
	// PhaseIdle: nothing has been played on the current connection yet.
	PhaseIdle Phase = iota
	// PhaseConnecting: a station stream is being opened.
	PhaseConnecting
	PhasePlaying
	// PhaseStopped: playback was stopped, failed or reached its end.
	PhaseStopped
	// PhaseDisconnected: the voice connection went away.
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhasePlaying:
		return "playing"
	case PhaseStopped:
		return "stopped"
	case PhaseDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is the bot's only mutable state. It is owned by the event loop and
// must not be touched from any other goroutine.
type Session struct {
	conn      VoiceConn
	channelID string // the channel conn was opened for

	player *playback
	phase  Phase

	level  int
	volume float64

	last    Station
	hasLast bool

	// gen increases with every started playback; notifications carrying an
	// older value are stale.
	gen uint64
}

func newSession(level int) *Session {
	return &Session{level: level, volume: volumeGain(level)}
}

// IsPlaying is true only once audio is actually flowing.
func (s *Session) IsPlaying() bool {
	return s.phase == PhasePlaying && s.player != nil
}

// active also covers a stream that is still being opened.
func (s *Session) active() bool {
	return s.player != nil && (s.phase == PhasePlaying || s.phase == PhaseConnecting)
}

// Snapshot is a copy of the session state, safe to read from any goroutine.
type Snapshot struct {
	Phase       Phase
	Connected   bool
	GuildID     string
	ChannelID   string
	Playing     bool
	VolumeLevel int
	Volume      float64
	// LiveVolume is the gain applied to the current playback, if any.
	LiveVolume  float64
	LastStation string
	LastURL     string
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		Phase:       s.phase,
		Playing:     s.IsPlaying(),
		VolumeLevel: s.level,
		Volume:      s.volume,
	}
	if s.conn != nil {
		snap.Connected = true
		snap.GuildID = s.conn.GuildID()
		snap.ChannelID = s.channelID
	}
	if s.player != nil {
		snap.LiveVolume = s.player.gain.get()
	}
	if s.hasLast {
		snap.LastStation = s.last.ID
		snap.LastURL = s.last.URL
	}
	return snap
}

package radiobot

import (
	"fmt"
	"strings"
)

const (
	msgDenied         = "You do not have permission to use this bot."
	msgNeedVoice      = "You need to be in a voice channel to connect."
	msgAlreadyPlaying = "The radio is already playing!"
	msgNotPlaying     = "The radio is not playing!"
	msgStopped        = "Stopped playing!"
	msgResumed        = "Resumed playback!"
	msgVolumeRange    = "Please provide a volume between 1 and 20."
	msgNotConnected   = "The bot is not connected to any voice channel."
	msgDisconnected   = "Disconnected from the voice channel."
	msgSlowDown       = "You are sending commands too fast, please wait a moment."
)

// Command results, used as the metric label.
const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultFailed   = "failed"
)

// dispatch handles one chat message. Every recognised command from an
// allowed user gets exactly one reply, now or once its stream opens.
func (b *Bot) dispatch(m Message) {
	if m.AuthorBot || !strings.HasPrefix(m.Content, b.prefix) {
		return
	}
	if b.guildID != "" && m.GuildID != b.guildID {
		return
	}
	if !b.allow.Allows(m.AuthorID) {
		b.reply(m.ChannelID, msgDenied)
		b.metrics.commands.WithLabelValues("any", "denied").Inc()
		return
	}
	if !b.limiter.allow(m.AuthorID) {
		b.log.Debug("Command rate limited", "user", m.AuthorID)
		b.reply(m.ChannelID, msgSlowDown)
		b.metrics.commands.WithLabelValues("any", "limited").Inc()
		return
	}

	cmd, _ := ParseCommand(b.prefix, m.Content)
	b.log.Debug("Command received", "command", cmd.Kind.String(), "user", m.AuthorID)

	var result string
	switch cmd.Kind {
	case CommandConnect:
		result = b.cmdConnect(m)
	case CommandPlay:
		result = b.cmdPlay(m, cmd.Station)
	case CommandStop:
		result = b.cmdStop(m)
	case CommandResume:
		result = b.cmdResume(m)
	case CommandVolume:
		result = b.cmdVolume(m, cmd.Volume)
	case CommandHelp:
		result = b.cmdHelp(m)
	case CommandDisconnect:
		result = b.cmdDisconnect(m)
	case CommandUnknown:
		return
	}
	b.metrics.commands.WithLabelValues(cmd.Kind.String(), result).Inc()
}

func (b *Bot) cmdConnect(m Message) string {
	channelID := b.gw.UserVoiceChannel(m.GuildID, m.AuthorID)
	if channelID == "" {
		b.reply(m.ChannelID, msgNeedVoice)
		return resultRejected
	}

	// Disconnect from the previous channel
	b.destroyConnection("connect command", true)

	name := b.gw.ChannelName(channelID)
	if err := b.connect(m.GuildID, channelID); err != nil {
		b.reply(m.ChannelID, fmt.Sprintf("Could not join %s.", name))
		return resultFailed
	}
	b.reply(m.ChannelID, fmt.Sprintf("Connected to %s. Use `%sp <station>` to start playing.", name, b.prefix))
	return resultOK
}

func (b *Bot) cmdPlay(m Message, id string) string {
	if b.session.active() {
		b.reply(m.ChannelID, msgAlreadyPlaying)
		return resultRejected
	}

	st, ok := b.stations.Resolve(id)
	if !ok {
		b.reply(m.ChannelID, stationListing(b.stations))
		return resultRejected
	}
	if b.session.conn == nil {
		b.reply(m.ChannelID, fmt.Sprintf("%s Use `%sc` to connect first.", msgNotConnected, b.prefix))
		return resultRejected
	}

	confirm := &confirmation{channelID: m.ChannelID, started: fmt.Sprintf("Started playing %s!", st.ID)}
	if err := b.startPlayback(st, confirm); err != nil {
		b.reply(m.ChannelID, msgNotConnected)
		return resultFailed
	}
	return resultOK
}

func (b *Bot) cmdStop(m Message) string {
	if !b.stopPlayback() {
		b.reply(m.ChannelID, msgNotPlaying)
		return resultRejected
	}
	b.reply(m.ChannelID, msgStopped)
	return resultOK
}

func (b *Bot) cmdResume(m Message) string {
	s := b.session
	if s.active() {
		b.reply(m.ChannelID, msgAlreadyPlaying)
		return resultRejected
	}
	if !s.hasLast {
		b.reply(m.ChannelID, fmt.Sprintf("No station is currently set to resume. Use `%sp <station>` to start playback.", b.prefix))
		return resultRejected
	}
	if s.conn == nil {
		b.reply(m.ChannelID, fmt.Sprintf("%s Use `%sc` to connect first.", msgNotConnected, b.prefix))
		return resultRejected
	}

	confirm := &confirmation{channelID: m.ChannelID, started: msgResumed}
	if err := b.startPlayback(s.last, confirm); err != nil {
		b.reply(m.ChannelID, msgNotConnected)
		return resultFailed
	}
	return resultOK
}

func (b *Bot) cmdVolume(m Message, level int) string {
	if level == 0 {
		b.reply(m.ChannelID, msgVolumeRange)
		return resultRejected
	}
	b.setVolume(level)
	b.reply(m.ChannelID, fmt.Sprintf("Volume set to %d", level))
	return resultOK
}

func (b *Bot) cmdHelp(m Message) string {
	if err := b.gw.SendEmbed(m.ChannelID, helpEmbed(b.prefix, b.stations)); err != nil {
		b.log.Error("Error sending help embed", "channel", m.ChannelID, "error", err)
		return resultFailed
	}
	return resultOK
}

func (b *Bot) cmdDisconnect(m Message) string {
	if b.session.conn == nil {
		b.reply(m.ChannelID, msgNotConnected)
		return resultRejected
	}
	b.destroyConnection("disconnect command", true)
	b.reply(m.ChannelID, msgDisconnected)
	return resultOK
}

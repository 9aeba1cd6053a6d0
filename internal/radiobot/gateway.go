package radiobot

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Gateway is what the bot needs from the Discord session.
type Gateway interface {
	BotUserID() string
	JoinVoice(guildID, channelID string) (VoiceConn, error)
	SendMessage(channelID, content string) error
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) error
	// UserVoiceChannel returns "" when the user is not in a voice channel.
	UserVoiceChannel(guildID, userID string) string
	ChannelName(channelID string) string
	CanJoin(channelID string) bool
}

// VoiceConn is a live voice connection to one channel.
type VoiceConn interface {
	GuildID() string
	ChannelID() string
	Ready() bool
	Speaking(bool) error
	Frames() chan<- []byte
	Disconnect() error
}

// DiscordGateway implements Gateway on top of a discordgo session.
type DiscordGateway struct {
	s *discordgo.Session
}

func NewGateway(s *discordgo.Session) *DiscordGateway {
	return &DiscordGateway{s: s}
}

func (g *DiscordGateway) BotUserID() string {
	if g.s.State == nil || g.s.State.User == nil {
		return ""
	}
	return g.s.State.User.ID
}

func (g *DiscordGateway) JoinVoice(guildID, channelID string) (VoiceConn, error) {
	vc, err := g.s.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		// discordgo hands back the half-open connection on timeouts.
		if vc != nil {
			_ = vc.Disconnect()
		}
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}
	return &discordVoice{vc: vc}, nil
}

func (g *DiscordGateway) SendMessage(channelID, content string) error {
	_, err := g.s.ChannelMessageSend(channelID, content)
	return err
}

func (g *DiscordGateway) SendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	_, err := g.s.ChannelMessageSendEmbed(channelID, embed)
	return err
}

func (g *DiscordGateway) UserVoiceChannel(guildID, userID string) string {
	vs, err := g.s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

func (g *DiscordGateway) ChannelName(channelID string) string {
	if ch, err := g.s.State.Channel(channelID); err == nil {
		return ch.Name
	}
	if ch, err := g.s.Channel(channelID); err == nil {
		return ch.Name
	}
	return channelID
}

// CanJoin checks the bot's connect permission. When the state cache cannot
// answer, the join is attempted anyway and its error is logged.
func (g *DiscordGateway) CanJoin(channelID string) bool {
	botID := g.BotUserID()
	if botID == "" {
		return true
	}
	perms, err := g.s.State.UserChannelPermissions(botID, channelID)
	if err != nil {
		return true
	}
	return perms&discordgo.PermissionVoiceConnect != 0
}

type discordVoice struct {
	vc *discordgo.VoiceConnection
}

func (v *discordVoice) GuildID() string {
	v.vc.RLock()
	defer v.vc.RUnlock()
	return v.vc.GuildID
}

func (v *discordVoice) ChannelID() string {
	v.vc.RLock()
	defer v.vc.RUnlock()
	return v.vc.ChannelID
}

func (v *discordVoice) Ready() bool {
	v.vc.RLock()
	defer v.vc.RUnlock()
	return v.vc.Ready
}

func (v *discordVoice) Speaking(b bool) error { return v.vc.Speaking(b) }

func (v *discordVoice) Frames() chan<- []byte { return v.vc.OpusSend }

func (v *discordVoice) Disconnect() error { return v.vc.Disconnect() }

// Attach registers the bot's handlers on the session and requests the
// intents they need. activity becomes the bot's "Listening to" label.
func Attach(s *discordgo.Session, b *Bot, activity string) {
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.log.Info("Gateway ready", "user", r.User.String())
		if err := s.UpdateListeningStatus(activity); err != nil {
			b.log.Warn("Failed to set activity", "error", err)
		}
	})

	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		b.HandleMessage(Message{
			ChannelID: m.ChannelID,
			GuildID:   m.GuildID,
			AuthorID:  m.Author.ID,
			AuthorBot: m.Author.Bot,
			Content:   m.Content,
		})
	})

	s.AddHandler(func(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
		if v.VoiceState == nil {
			return
		}
		ev := VoiceState{
			UserID:    v.UserID,
			GuildID:   v.GuildID,
			ChannelID: v.ChannelID,
		}
		if v.BeforeUpdate != nil {
			ev.PreviousChannelID = v.BeforeUpdate.ChannelID
		}
		b.HandleVoiceState(ev)
	})
}

// RouteLogs sends discordgo's own log output through logger.
func RouteLogs(logger *slog.Logger) {
	logger = logger.With("component", "discordgo")
	discordgo.Logger = func(msgL, caller int, format string, a ...interface{}) {
		msg := fmt.Sprintf(format, a...)
		switch msgL {
		case discordgo.LogError:
			logger.Error(msg)
		case discordgo.LogWarning:
			logger.Warn(msg)
		case discordgo.LogInformational:
			logger.Info(msg)
		default:
			logger.Debug(msg)
		}
	}
}

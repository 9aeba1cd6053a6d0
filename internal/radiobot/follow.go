package radiobot

// follow keeps the bot in the same voice channel as the allowed user whose
// state changed. It never writes to chat.
func (b *Bot) follow(v VoiceState) {
	if b.guildID != "" && v.GuildID != b.guildID {
		return
	}
	if botID := b.gw.BotUserID(); botID != "" && v.UserID == botID {
		b.observeSelf(v)
		return
	}
	if !b.allow.Allows(v.UserID) {
		return
	}

	s := b.session
	if v.ChannelID == "" || !b.gw.CanJoin(v.ChannelID) {
		// User left voice or the bot can't join, disconnect
		b.destroyConnection("followed user left voice", false)
		return
	}

	switch {
	case s.conn == nil:
		_ = b.connect(v.GuildID, v.ChannelID)
	case s.channelID != v.ChannelID:
		b.destroyConnection("followed user switched channel", false)
		_ = b.connect(v.GuildID, v.ChannelID)
	}
}

// observeSelf treats the bot being removed from the channel it joined as the
// connection dropping. Leave events for channels the bot already moved away
// from are ignored. The frame timeout in stream is the fallback when no event
// arrives at all.
func (b *Bot) observeSelf(v VoiceState) {
	s := b.session
	if s.conn == nil || v.ChannelID != "" {
		return
	}
	// An empty previous channel means discordgo had no cached state for the
	// bot, which only happens for the channel it is in.
	if v.PreviousChannelID != "" && v.PreviousChannelID != s.channelID {
		return
	}
	b.connectionLost(s.conn, "removed from voice channel")
}

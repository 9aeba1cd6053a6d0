// embed.go
package radiobot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// helpEmbed builds the command reference sent for the help command.
func helpEmbed(prefix string, stations *Stations) *discordgo.MessageEmbed {
	var list strings.Builder
	for i, st := range stations.All() {
		fmt.Fprintf(&list, "%d: **%s**\n", i+1, st.ID)
	}

	field := func(name, value string) *discordgo.MessageEmbedField {
		return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: false}
	}

	return &discordgo.MessageEmbed{
		Title:       "Radio Bot Help",
		Description: "Here is a list of commands you can use with this bot:",
		Color:       0x0099FF,
		Fields: []*discordgo.MessageEmbedField{
			field(fmt.Sprintf("**%sc**", prefix), "Connect the bot to your current voice channel."),
			field(fmt.Sprintf("**%sp <station>**", prefix), "Play the specified radio station. Available stations:\n\n"+list.String()),
			field(fmt.Sprintf("**%ss**", prefix), "Stop playing the current radio stream."),
			field(fmt.Sprintf("**%sresume**", prefix), "Resume playback of the last played station."),
			field(fmt.Sprintf("**%sv <volume>**", prefix), fmt.Sprintf("Set the volume. Range: %d to %d.", MinVolume, MaxVolume)),
			field(fmt.Sprintf("**%sd**", prefix), "Disconnect the bot from the voice channel."),
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "For more info, contact the bot owner.",
		},
	}
}

// stationListing is the reply to an unknown station identifier.
func stationListing(stations *Stations) string {
	var b strings.Builder
	b.WriteString("Invalid radio station name.\nAvailable stations:\n")
	for i, st := range stations.All() {
		fmt.Fprintf(&b, "%d: **%s** (%s)\n", i+1, st.ID, st.Name)
	}
	return b.String()
}

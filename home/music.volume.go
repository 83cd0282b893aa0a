package home

import (
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/reprise/proc"
	"github.com/leeineian/reprise/sys"
)

func handleMusicVolume(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID := event.GuildID()
	if guildID == nil {
		_ = sys.RespondInteractionV2(*event.Client(), event, "This command only works in a server.", true)
		return
	}

	vol := data.Int("set")
	if proc.GetPlayerSystem().SetVolume(*guildID, float64(vol)/100) {
		_ = sys.RespondInteractionV2(*event.Client(), event, fmt.Sprintf("🔊 Volume set to **%d%%**.", vol), false)
		return
	}
	_ = sys.RespondInteractionV2(*event.Client(), event, "Volume can only be changed while a track is playing.", true)
}

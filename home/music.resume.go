package home

import (
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/reprise/proc"
	"github.com/leeineian/reprise/sys"
)

func handleMusicResume(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID()
	if guildID == nil {
		_ = sys.RespondInteractionV2(*event.Client(), event, "This command only works in a server.", true)
		return
	}

	if proc.GetPlayerSystem().Resume(*guildID) {
		_ = sys.RespondInteractionV2(*event.Client(), event, "▶️ Resumed.", false)
		return
	}
	_ = sys.RespondInteractionV2(*event.Client(), event, "Nothing to resume.", true)
}

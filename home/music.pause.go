package home

import (
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/reprise/proc"
	"github.com/leeineian/reprise/sys"
)

func handleMusicPause(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID()
	if guildID == nil {
		_ = sys.RespondInteractionV2(*event.Client(), event, "This command only works in a server.", true)
		return
	}

	if proc.GetPlayerSystem().Pause(*guildID) {
		_ = sys.RespondInteractionV2(*event.Client(), event, "⏸️ Paused.", false)
		return
	}
	_ = sys.RespondInteractionV2(*event.Client(), event, "Nothing to pause.", true)
}

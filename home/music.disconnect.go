package home

import (
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/reprise/proc"
	"github.com/leeineian/reprise/sys"
)

func handleMusicDisconnect(event *events.ApplicationCommandInteractionCreate) {
	if !musicIsAdmin(event) {
		_ = sys.RespondInteractionV2(*event.Client(), event, "You need the Administrator permission to do that.", true)
		return
	}

	guildID := event.GuildID()
	if guildID == nil {
		_ = sys.RespondInteractionV2(*event.Client(), event, "This command only works in a server.", true)
		return
	}

	ps := proc.GetPlayerSystem()
	if !ps.Connected(*guildID) {
		_ = sys.RespondInteractionV2(*event.Client(), event, "Not connected to a voice channel.", true)
		return
	}

	ps.Disconnect(*guildID)
	_ = sys.RespondInteractionV2(*event.Client(), event, "👋 Disconnected.", false)
}

package home

import (
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/reprise/proc"
	"github.com/leeineian/reprise/sys"
)

func handleMusicClear(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID()
	if guildID == nil {
		_ = sys.RespondInteractionV2(*event.Client(), event, "This command only works in a server.", true)
		return
	}

	ps := proc.GetPlayerSystem()
	if ps.Queues().Len(*guildID) == 0 {
		_ = sys.RespondInteractionV2(*event.Client(), event, "The queue is already empty.", true)
		return
	}

	ps.Stop(*guildID)
	_ = sys.RespondInteractionV2(*event.Client(), event, "🧹 Queue cleared.", false)
}

package home

import (
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/reprise/proc"
	"github.com/leeineian/reprise/sys"
)

func handleMusicStop(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID()
	if guildID == nil {
		_ = sys.RespondInteractionV2(*event.Client(), event, "This command only works in a server.", true)
		return
	}

	ps := proc.GetPlayerSystem()
	if !ps.Queues().IsPlaying(*guildID) && ps.Queues().Len(*guildID) == 0 {
		_ = sys.RespondInteractionV2(*event.Client(), event, "Nothing is playing.", true)
		return
	}

	ps.Stop(*guildID)
	_ = sys.RespondInteractionV2(*event.Client(), event, "🛑 Stopped and cleared the queue.", false)
}

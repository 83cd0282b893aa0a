package home

import (
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/reprise/proc"
	"github.com/leeineian/reprise/sys"
)

func handleMusicSkip(event *events.ApplicationCommandInteractionCreate) {
	_ = event.DeferCreateMessage(false)

	guildID := event.GuildID()
	if guildID == nil {
		_ = sys.EditInteractionV2(*event.Client(), event, "This command only works in a server.")
		return
	}

	ps := proc.GetPlayerSystem()
	if !ps.Queues().IsPlaying(*guildID) {
		_ = sys.EditInteractionV2(*event.Client(), event, "Nothing is playing.")
		return
	}

	next := ps.Skip(*guildID)
	switch {
	case next != nil:
		_ = sys.EditInteractionV2(*event.Client(), event, "⏭️ Skipped to: "+next.Display())
	case ps.Queues().IsPlaying(*guildID):
		_ = sys.EditInteractionV2(*event.Client(), event, "A skip is already in progress.")
	default:
		_ = sys.EditInteractionV2(*event.Client(), event, "⏹️ Queue finished.")
	}
}

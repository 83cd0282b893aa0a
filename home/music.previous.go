package home

import (
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/reprise/proc"
	"github.com/leeineian/reprise/sys"
)

func handleMusicPrevious(event *events.ApplicationCommandInteractionCreate) {
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

	prev := ps.Previous(*guildID)
	switch {
	case prev != nil:
		_ = sys.EditInteractionV2(*event.Client(), event, "⏮️ Went back to: "+prev.Display())
	case ps.Queues().IsPlaying(*guildID):
		_ = sys.EditInteractionV2(*event.Client(), event, "Already at the first track.")
	default:
		_ = sys.EditInteractionV2(*event.Client(), event, "⏹️ Playback stopped.")
	}
}

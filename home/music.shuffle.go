package home

import (
	"fmt"

	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/reprise/proc"
	"github.com/leeineian/reprise/sys"
)

func handleMusicShuffle(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID()
	if guildID == nil {
		_ = sys.RespondInteractionV2(*event.Client(), event, "This command only works in a server.", true)
		return
	}

	ps := proc.GetPlayerSystem()
	count := ps.Queues().Len(*guildID)
	if count < 2 {
		_ = sys.RespondInteractionV2(*event.Client(), event, "Not enough tracks to shuffle.", true)
		return
	}

	ps.Queues().Shuffle(*guildID)
	ps.TriggerPrebuffer(*guildID)
	_ = sys.RespondInteractionV2(*event.Client(), event, fmt.Sprintf("🔀 Shuffled %d tracks.", count), false)
}

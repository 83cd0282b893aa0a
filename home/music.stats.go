package home

import (
	"fmt"

	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/reprise/proc"
	"github.com/leeineian/reprise/sys"
)

func handleMusicStats(event *events.ApplicationCommandInteractionCreate) {
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
	stats := ps.CacheStats()

	state := "idle"
	switch {
	case ps.Queues().IsPaused(*guildID):
		state = "paused"
	case ps.Queues().IsPlaying(*guildID):
		state = "playing"
	}

	content := fmt.Sprintf(
		"**Player**\nActive sessions: %d\nThis guild: %s, %d track(s) queued\n\n**Prebuffer cache**\nEntries: %d\nResolved: %d\nPending: %d",
		ps.SessionCount(), state, ps.Queues().Len(*guildID),
		stats.Total, stats.Resolved, stats.Pending,
	)
	_ = sys.RespondInteractionV2(*event.Client(), event, content, true)
}

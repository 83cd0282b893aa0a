package home

import (
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/reprise/proc"
	"github.com/leeineian/reprise/sys"
)

const queueDisplayLimit = 10

func handleMusicQueue(event *events.ApplicationCommandInteractionCreate) {
	_ = event.DeferCreateMessage(true)

	guildID := event.GuildID()
	if guildID == nil {
		_ = sys.EditInteractionV2(*event.Client(), event, "This command only works in a server.")
		return
	}

	ps := proc.GetPlayerSystem()
	tracks, pointer := ps.Queues().Snapshot(*guildID)
	if len(tracks) == 0 {
		_ = sys.EditInteractionV2(*event.Client(), event, "The queue is empty.")
		return
	}

	var components []interface{}

	if pointer >= 0 && pointer < len(tracks) {
		current := tracks[pointer]
		status := "**Now Playing:**"
		if ps.Queues().IsPaused(*guildID) {
			status = "**Paused:**"
		}
		components = append(components, sys.NewTextDisplay(status), sys.NewTextDisplay(current.Display()))
		if current.ArtworkURL != "" {
			components = append(components, sys.NewMediaGallery(current.ArtworkURL))
		}
		components = append(components, sys.NewSeparator(true))
	}

	upcoming := tracks[min(pointer+1, len(tracks)):]
	if len(upcoming) == 0 {
		components = append(components, sys.NewTextDisplay("_Nothing queued up next._"))
	} else {
		var sb strings.Builder
		sb.WriteString("**Up Next:**\n")
		for i, track := range upcoming {
			if i >= queueDisplayLimit {
				fmt.Fprintf(&sb, "*...and %d more*", len(upcoming)-queueDisplayLimit)
				break
			}
			fmt.Fprintf(&sb, "`%d.` %s\n", i+1, track.Display())
		}
		components = append(components, sys.NewTextDisplay(strings.TrimRight(sb.String(), "\n")))
	}

	_ = sys.EditInteractionContainerV2(*event.Client(), event, sys.NewV2Container(components...))
}

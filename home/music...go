package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/reprise/sys"
)

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "music",
		Description: "Music playback",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play a track or add it to the queue",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "A URL or a search term",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip to the next track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "previous",
				Description: "Go back to the previous track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "pause",
				Description: "Pause playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "resume",
				Description: "Resume paused playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop playback and clear the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the current queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "shuffle",
				Description: "Shuffle the queue behind the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "clear",
				Description: "Clear the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "volume",
				Description: "Adjust the volume of the current track",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "set",
						Description: "Volume percentage (0-100)",
						Required:    true,
						MinValue:    intPtr(0),
						MaxValue:    intPtr(100),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "disconnect",
				Description: "Disconnect from the voice channel (Admin Only)",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stats",
				Description: "Show player and cache statistics (Admin Only)",
			},
		},
	}, handleMusic)

	sys.RegisterAutocompleteHandler("music", handleMusicAutocomplete)
}

func handleMusic(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}

	switch *data.SubCommandName {
	case "play":
		handleMusicPlay(event, data)
	case "skip":
		handleMusicSkip(event)
	case "previous":
		handleMusicPrevious(event)
	case "pause":
		handleMusicPause(event)
	case "resume":
		handleMusicResume(event)
	case "stop":
		handleMusicStop(event)
	case "queue":
		handleMusicQueue(event)
	case "shuffle":
		handleMusicShuffle(event)
	case "clear":
		handleMusicClear(event)
	case "volume":
		handleMusicVolume(event, data)
	case "disconnect":
		handleMusicDisconnect(event)
	case "stats":
		handleMusicStats(event)
	}
}

func intPtr(i int) *int {
	return &i
}

// musicIsAdmin gates the subcommands Discord cannot gate individually. The
// resolved member carries the caller's effective channel permissions.
func musicIsAdmin(event *events.ApplicationCommandInteractionCreate) bool {
	if member := event.Member(); member != nil && member.Permissions.Has(discord.PermissionAdministrator) {
		return true
	}
	return sys.GlobalConfig != nil && sys.GlobalConfig.IsOwner(event.User().ID.String())
}

package home

import (
	"context"
	"errors"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/reprise/proc"
	"github.com/leeineian/reprise/sys"
)

func handleMusicPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query, _ := data.OptString("query")

	_ = event.DeferCreateMessage(false)

	guildID := event.GuildID()
	if guildID == nil {
		_ = sys.EditInteractionV2(*event.Client(), event, "This command only works in a server.")
		return
	}

	voiceState, ok := event.Client().Caches.VoiceState(*guildID, event.User().ID)
	if !ok || voiceState.ChannelID == nil {
		_ = sys.EditInteractionV2(*event.Client(), event, "Join a voice channel first.")
		return
	}

	if err := startPlayback(event, *guildID, *voiceState.ChannelID, query); err != nil {
		sys.LogPlayer("Play command failed: %v", err)
		_ = sys.EditInteractionV2(*event.Client(), event, "❌ Failed to play: "+err.Error())
	}
}

func startPlayback(event *events.ApplicationCommandInteractionCreate, guildID, channelID snowflake.ID, query string) error {
	ps := proc.GetPlayerSystem()

	// Join and metadata resolution run concurrently; both must land before
	// the track is enqueued.
	joinErr := make(chan error, 1)
	go func() {
		joinErr <- ps.Join(context.Background(), guildID, channelID)
	}()

	track, err := musicResolveQuery(event, query)
	if err != nil {
		return err
	}

	if err := <-joinErr; err != nil {
		return err
	}

	ps.SetAnnounceChannel(guildID, event.Channel().ID())

	if err := ps.Enqueue(guildID, track); err != nil {
		return err
	}

	wasIdle := !ps.Queues().IsPlaying(guildID)
	if wasIdle {
		if err := ps.Play(context.Background(), guildID); err != nil {
			return err
		}
	}

	content := "🎶 Playing: " + track.Display()
	if !wasIdle {
		content = fmt.Sprintf("✅ Added to queue (#%d): %s", ps.Queues().Len(guildID), track.Display())
	}

	if track.ArtworkURL != "" {
		container := sys.NewV2Container(sys.NewSection(content, sys.NewThumbnail(track.ArtworkURL)))
		return sys.EditInteractionContainerV2(*event.Client(), event, container)
	}
	return sys.EditInteractionV2(*event.Client(), event, content)
}

// musicResolveQuery turns the query option into a track: pasted URLs go
// through metadata resolution, anything else takes the top search result.
func musicResolveQuery(event *events.ApplicationCommandInteractionCreate, query string) (*proc.Track, error) {
	ps := proc.GetPlayerSystem()

	if proc.IsURL(query) {
		if proc.DetectPlatform(query) == proc.PlatformUnknown {
			return nil, errors.New("unsupported platform (YouTube, Spotify and SoundCloud links work)")
		}
		track, err := ps.Resolver().ResolveMetadata(context.Background(), query, event.User().ID)
		if err != nil {
			return nil, fmt.Errorf("could not read that link: %w", err)
		}
		return track, nil
	}

	results, err := ps.Resolver().Search(context.Background(), query)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		return nil, errors.New("no results found")
	}
	track := results[0]
	track.RequestedBy = event.User().ID
	return track, nil
}

func handleMusicAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" {
		return
	}
	query := focused.String()

	if query == "" {
		_ = event.AutocompleteResult(musicHistoryChoices(event))
		return
	}

	results, err := proc.GetPlayerSystem().Resolver().Search(context.Background(), query)
	if err != nil {
		_ = event.AutocompleteResult(nil)
		return
	}

	var choices []discord.AutocompleteChoice
	for i, track := range results {
		if i >= 25 {
			break
		}
		artist := ""
		if track.Artist != "" {
			artist = " · " + track.Artist
		}

		val := track.Address
		if len(val) > 100 {
			val = sys.TruncateCenter(track.Title, 100)
		}

		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  sys.TruncateWithPreserve(track.Title, 100, "", artist),
			Value: val,
		})
	}
	_ = event.AutocompleteResult(choices)
}

// musicHistoryChoices suggests this guild's recently played tracks while the
// query box is still empty.
func musicHistoryChoices(event *events.AutocompleteInteractionCreate) []discord.AutocompleteChoice {
	guildID := event.GuildID()
	if guildID == nil {
		return nil
	}

	entries, err := sys.RecentTracks(context.Background(), *guildID, 10)
	if err != nil || len(entries) == 0 {
		return nil
	}

	var choices []discord.AutocompleteChoice
	for _, e := range entries {
		if len(e.Address) > 100 {
			continue
		}
		artist := ""
		if e.Artist != "" {
			artist = " · " + e.Artist
		}
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  sys.TruncateWithPreserve(e.Title, 100, "🕘 ", artist),
			Value: e.Address,
		})
	}
	return choices
}

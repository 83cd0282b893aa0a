package home

import (
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/reprise/proc"
	"github.com/leeineian/reprise/sys"
)

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "ping",
		Description:              "Check bot latency (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionBool{
				Name:        "ephemeral",
				Description: "Whether the message should be ephemeral (default: true)",
				Required:    false,
			},
		},
	}, handlePing)

	sys.RegisterComponentHandler("ping_refresh", handlePingRefresh)
}

func pingContent(header string, interactionID snowflake.ID, gatewayPing int64) string {
	latency := time.Since(interactionID.Time()).Milliseconds()
	sessions := proc.GetPlayerSystem().SessionCount()
	return fmt.Sprintf("# %s\n\n> **Latency:** %dms\n> **Gateway:** %dms\n> **Voice sessions:** %d",
		header, latency, gatewayPing, sessions)
}

func handlePing(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	ephemeral := true
	if eph, ok := data.OptBool("ephemeral"); ok {
		ephemeral = eph
	}

	builder := discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		SetEphemeral(ephemeral).
		AddComponents(
			discord.NewContainer(
				discord.NewTextDisplay("🏓 Pinging..."),
			),
		)

	err := event.CreateMessage(builder.Build())
	if err != nil {
		sys.LogDebug("Failed to send ping: %v", err)
		return
	}

	go func() {
		content := pingContent("Pong! 🏓", snowflake.ID(event.ID()), event.Client().Gateway.Latency().Milliseconds())

		updateBuilder := discord.NewMessageUpdateBuilder().
			SetIsComponentsV2(true)

		updateBuilder.AddComponents(
			discord.NewContainer(
				discord.NewTextDisplay(content),
				discord.NewActionRow(
					discord.NewSuccessButton("🔄 Refresh", "ping_refresh"),
				),
			),
		)

		_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), updateBuilder.Build())
	}()
}

func handlePingRefresh(event *events.ComponentInteractionCreate) {
	content := pingContent("Pong! 🔁", snowflake.ID(event.ID()), event.Client().Gateway.Latency().Milliseconds())

	updateBuilder := discord.NewMessageUpdateBuilder().
		SetIsComponentsV2(true)

	updateBuilder.AddComponents(
		discord.NewContainer(
			discord.NewTextDisplay(content),
			discord.NewActionRow(
				discord.NewSuccessButton("🔄 Refresh", "ping_refresh"),
			),
		),
	)

	_ = event.UpdateMessage(updateBuilder.Build())
}

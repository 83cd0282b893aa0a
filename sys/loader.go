package sys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
)

const (
	MsgLoaderSyncCommands   = "Syncing %s commands..."
	MsgLoaderCleanup        = "[CLEANUP] Removing commands from previous dev guild: %s"
	MsgLoaderDevStarting    = "[DEV] Registering commands to guild: %s"
	MsgLoaderDevRegistered  = "[DEV] Registered: %s"
	MsgLoaderDevFail        = "[DEV] Registration failed: %v"
	MsgLoaderDevGlobalClear = "[DEV] Verifying global commands are cleared..."
	MsgLoaderProdStarting   = "[PROD] Registering commands globally..."
	MsgLoaderProdRegistered = "[PROD] Registered: %s"
	MsgLoaderProdFail       = "[PROD] Global registration failed: %w"
	MsgLoaderUpToDate       = "[LOADER] Commands are up to date. (Hash: %s)"
	MsgLoaderInvalidGuildID = "invalid GUILD_ID: %w"
	MsgPanicRecovered       = "Panic recovered in handler: %v"
	MsgDaemonStarting       = "Starting..."
	MsgBotReady             = "%s is ready! (ID: %s) (PID: %d) (%dms)"
)

var (
	AppContext  context.Context
	StartupTime = time.Now()
	daemonsOnce sync.Once

	commands                 = []discord.ApplicationCommandCreate{}
	commandHandlers          = map[string]func(event *events.ApplicationCommandInteractionCreate){}
	autocompleteHandlers     = map[string]func(event *events.AutocompleteInteractionCreate){}
	componentHandlers        = map[string]func(event *events.ComponentInteractionCreate){}
	voiceStateUpdateHandlers []func(event *events.GuildVoiceStateUpdate)
	onClientReadyCallbacks   []func(ctx context.Context, client bot.Client)
)

func SetAppContext(ctx context.Context) {
	AppContext = ctx
}

// CreateClient builds the disgo client with the gateway, cache and voice
// configuration the player needs.
func CreateClient(ctx context.Context, cfg *Config) (bot.Client, error) {
	client, err := disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithPlayingActivity("music"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithEventListenerFunc(onApplicationCommandInteraction),
		bot.WithEventListenerFunc(onAutocompleteInteraction),
		bot.WithEventListenerFunc(onComponentInteraction),
		bot.WithEventListenerFunc(onVoiceStateUpdate),
		bot.WithEventListenerFunc(onReady),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{
				Timeout: 60 * time.Second,
				Transport: &http.Transport{
					MaxIdleConns:        1000,
					MaxIdleConnsPerHost: 500,
					IdleConnTimeout:     90 * time.Second,
				},
			}),
		),
	)
	if err != nil {
		return bot.Client{}, err
	}

	return *client, nil
}

func RegisterCommand(cmd discord.ApplicationCommandCreate, handler func(event *events.ApplicationCommandInteractionCreate)) {
	commands = append(commands, cmd)
	switch c := cmd.(type) {
	case discord.SlashCommandCreate:
		commandHandlers[c.CommandName()] = handler
	case discord.UserCommandCreate:
		commandHandlers[c.CommandName()] = handler
	case discord.MessageCommandCreate:
		commandHandlers[c.CommandName()] = handler
	}
}

func RegisterAutocompleteHandler(cmdName string, handler func(event *events.AutocompleteInteractionCreate)) {
	autocompleteHandlers[cmdName] = handler
}

// RegisterComponentHandler binds a component custom ID to a handler. A key
// ending in ":" matches any custom ID with that prefix.
func RegisterComponentHandler(customID string, handler func(event *events.ComponentInteractionCreate)) {
	componentHandlers[customID] = handler
}

func RegisterVoiceStateUpdateHandler(handler func(event *events.GuildVoiceStateUpdate)) {
	voiceStateUpdateHandlers = append(voiceStateUpdateHandlers, handler)
}

func OnClientReady(cb func(ctx context.Context, client bot.Client)) {
	onClientReadyCallbacks = append(onClientReadyCallbacks, cb)
}

func calculateCommandHash(cmds []discord.ApplicationCommandCreate) string {
	data, err := json.Marshal(cmds)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// RegisterCommands syncs the slash command tree, skipping the round trip when
// the registered set is unchanged since the last run.
func RegisterCommands(client bot.Client, guildIDStr string, forceScan bool) error {
	ctx := context.Background()
	lastGuildID, _ := GetBotConfig(ctx, "last_guild_id")

	isProduction := guildIDStr == ""
	currentMode := "guild"
	if isProduction {
		currentMode = "global"
	}

	LogInfo(MsgLoaderSyncCommands, currentMode)

	currentHash := calculateCommandHash(commands)
	lastHash, _ := GetBotConfig(ctx, "last_cmd_hash")
	lastMode, _ := GetBotConfig(ctx, "last_reg_mode")

	shouldRegister := true
	if currentHash != "" && currentHash == lastHash && currentMode == lastMode && !forceScan {
		shouldRegister = false
		LogInfo(MsgLoaderUpToDate, currentHash[:8])
	}

	if isProduction {
		if shouldRegister {
			LogInfo(MsgLoaderProdStarting)
			createdCommands, err := client.Rest.SetGlobalCommands(client.ApplicationID, commands)
			if err != nil {
				return fmt.Errorf(MsgLoaderProdFail, err)
			}
			for _, cmd := range createdCommands {
				LogInfo(MsgLoaderProdRegistered, cmd.Name())
			}
		}

		if lastGuildID != "" {
			if id, err := snowflake.Parse(lastGuildID); err == nil {
				if cmds, err := client.Rest.GetGuildCommands(client.ApplicationID, id, false); err == nil && len(cmds) > 0 {
					LogInfo(MsgLoaderCleanup, lastGuildID)
					_, _ = client.Rest.SetGuildCommands(client.ApplicationID, id, []discord.ApplicationCommandCreate{})
				}
			}
		}
	} else {
		guildID, err := snowflake.Parse(guildIDStr)
		if err != nil {
			return fmt.Errorf(MsgLoaderInvalidGuildID, err)
		}

		if shouldRegister {
			LogInfo(MsgLoaderDevStarting, guildIDStr)
			createdCommands, err := client.Rest.SetGuildCommands(client.ApplicationID, guildID, commands)
			if err != nil {
				LogWarn(MsgLoaderDevFail, err)
			} else {
				for _, cmd := range createdCommands {
					LogInfo(MsgLoaderDevRegistered, cmd.Name())
				}
			}
		}

		if lastMode != currentMode || forceScan {
			if cmds, err := client.Rest.GetGlobalCommands(client.ApplicationID, false); err == nil && len(cmds) > 0 {
				LogInfo(MsgLoaderDevGlobalClear)
				_, _ = client.Rest.SetGlobalCommands(client.ApplicationID, []discord.ApplicationCommandCreate{})
			}
		}

		if lastGuildID != "" && lastGuildID != guildIDStr {
			if oldID, err := snowflake.Parse(lastGuildID); err == nil {
				if cmds, err := client.Rest.GetGuildCommands(client.ApplicationID, oldID, false); err == nil && len(cmds) > 0 {
					LogInfo(MsgLoaderCleanup, lastGuildID)
					_, _ = client.Rest.SetGuildCommands(client.ApplicationID, oldID, []discord.ApplicationCommandCreate{})
				}
			}
		}
	}

	_ = SetBotConfig(ctx, "last_reg_mode", currentMode)
	_ = SetBotConfig(ctx, "last_guild_id", guildIDStr)
	if currentHash != "" {
		_ = SetBotConfig(ctx, "last_cmd_hash", currentHash)
	}

	return nil
}

func onReady(event *events.Ready) {
	client := *event.Client()
	botUser := event.User

	duration := time.Since(StartupTime)
	LogInfo(MsgBotReady, GetProjectName(), botUser.ID.String(), os.Getpid(), duration.Milliseconds())

	TriggerClientReady(AppContext, client)
	StartDaemons(AppContext)
}

func TriggerClientReady(ctx context.Context, client bot.Client) {
	for _, cb := range onClientReadyCallbacks {
		cb(ctx, client)
	}
}

func onApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	data := event.Data
	if h, ok := commandHandlers[data.CommandName()]; ok {
		SafeGo(func() { h(event) })
	}
}

func onAutocompleteInteraction(event *events.AutocompleteInteractionCreate) {
	data := event.Data
	if h, ok := autocompleteHandlers[data.CommandName]; ok {
		SafeGo(func() { h(event) })
	}
}

func onComponentInteraction(event *events.ComponentInteractionCreate) {
	customID := event.Data.CustomID()
	if h, ok := componentHandlers[customID]; ok {
		SafeGo(func() { h(event) })
		return
	}

	for prefix, h := range componentHandlers {
		if strings.HasSuffix(prefix, ":") && strings.HasPrefix(customID, prefix) {
			SafeGo(func() { h(event) })
			return
		}
	}
}

func onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	for _, h := range voiceStateUpdateHandlers {
		SafeGo(func() { h(event) })
	}
}

type daemonEntry struct {
	starter func(ctx context.Context) (bool, func(), func())
	logger  func(format string, v ...any)
}

var (
	registeredDaemons   []daemonEntry
	activeShutdownHooks []func()
	activeShutdownMu    sync.Mutex
)

// RegisterDaemon registers a background daemon. The starter reports whether the
// daemon is active and returns its run loop and shutdown hook.
func RegisterDaemon(logger func(format string, v ...any), starter func(ctx context.Context) (bool, func(), func())) {
	registeredDaemons = append(registeredDaemons, daemonEntry{starter: starter, logger: logger})
}

func StartDaemons(ctx context.Context) {
	daemonsOnce.Do(func() {
		type activeDaemon struct {
			entry daemonEntry
			run   func()
		}
		var active []activeDaemon

		// 1. Evaluate starters sequentially to determine active daemons
		for _, daemon := range registeredDaemons {
			if ok, run, shutdown := daemon.starter(ctx); ok && run != nil {
				if shutdown != nil {
					activeShutdownMu.Lock()
					activeShutdownHooks = append(activeShutdownHooks, shutdown)
					activeShutdownMu.Unlock()
				}
				active = append(active, activeDaemon{daemon, run})
			}
		}

		// 2. Log all "Starting..." messages sequentially
		for _, ad := range active {
			ad.entry.logger(MsgDaemonStarting)
		}

		// 3. Launch the actual daemon loops in parallel
		for _, ad := range active {
			SafeGo(ad.run)
		}
	})
}

func ShutdownDaemons(ctx context.Context) {
	activeShutdownMu.Lock()
	defer activeShutdownMu.Unlock()

	var wg sync.WaitGroup
	for _, shutdown := range activeShutdownHooks {
		if shutdown == nil {
			continue
		}
		wg.Add(1)
		SafeGo(func() {
			defer wg.Done()
			shutdown()
		})
	}
	wg.Wait()
}

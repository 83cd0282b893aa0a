package proc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/reprise/sys"
)

var (
	ErrQueueFull      = errors.New("queue is full")
	ErrNoCurrentTrack = errors.New("no current track")
	ErrNotConnected   = errors.New("not connected to a voice channel")
)

const (
	// maxSkipAttempts bounds how many broken tracks a skip will step over
	// before giving up and stopping the session.
	maxSkipAttempts = 3
	// connectTimeout bounds the whole join retry loop.
	connectTimeout = 30 * time.Second

	eventBufferSize = 16
)

func init() {
	astiav.SetLogLevel(astiav.LogLevelFatal)

	sys.OnClientReady(func(ctx context.Context, client bot.Client) {
		ps := GetPlayerSystem()
		ps.BindClient(client)
		sys.RegisterVoiceStateUpdateHandler(ps.HandleVoiceStateUpdate)
		sys.RegisterDaemon(sys.LogPlayer, func(ctx context.Context) (bool, func(), func()) {
			return true, func() {}, func() {
				sys.LogPlayer("Shutting down player system...")
				ps.Shutdown(context.Background())
			}
		})
	})
}

var (
	playerSystem     *PlayerSystem
	playerSystemOnce sync.Once
)

// GetPlayerSystem returns the process-wide player system, wiring the queue
// manager, the prebuffer cache and the transcode pipeline together on first
// use.
func GetPlayerSystem() *PlayerSystem {
	playerSystemOnce.Do(func() {
		queueLimit, prebufferLimit, defaultVolume, proxy := 500, 50, 100, ""
		if cfg := sys.GlobalConfig; cfg != nil {
			queueLimit = cfg.QueueLimit
			prebufferLimit = cfg.PrebufferLimit
			defaultVolume = cfg.DefaultVolume
			proxy = cfg.YtdlpProxy
		}
		resolver := NewResolver(proxy)
		playerSystem = NewPlayerSystem(
			NewQueueManager(queueLimit, float64(defaultVolume)/100),
			NewStreamCache(prebufferLimit, resolver.ResolveAddress),
			NewTranscodeSystem(proxy),
		)
		playerSystem.resolver = resolver
	})
	return playerSystem
}

// PlayerSystem owns every guild's playback session and coordinates the queue
// manager, the prebuffer cache and the audio pipeline behind the slash
// commands.
type PlayerSystem struct {
	mu       sync.RWMutex
	sessions map[snowflake.ID]*PlayerSession

	queues   *QueueManager
	cache    *StreamCache
	audio    AudioSystem
	resolver *Resolver

	clientMu sync.RWMutex
	client   bot.Client
	bound    bool
}

func NewPlayerSystem(queues *QueueManager, cache *StreamCache, audio AudioSystem) *PlayerSystem {
	return &PlayerSystem{
		sessions: make(map[snowflake.ID]*PlayerSession),
		queues:   queues,
		cache:    cache,
		audio:    audio,
	}
}

func (ps *PlayerSystem) BindClient(client bot.Client) {
	ps.clientMu.Lock()
	ps.client = client
	ps.bound = true
	ps.clientMu.Unlock()
}

func (ps *PlayerSystem) boundClient() (bot.Client, bool) {
	ps.clientMu.RLock()
	defer ps.clientMu.RUnlock()
	return ps.client, ps.bound
}

func (ps *PlayerSystem) Queues() *QueueManager { return ps.queues }

func (ps *PlayerSystem) Resolver() *Resolver { return ps.resolver }

func (ps *PlayerSystem) CacheStats() CacheStats { return ps.cache.Stats() }

// PlayerSession is one guild's live playback state. The busy flags are
// non-blocking guards: a play or skip that finds its flag already set drops
// instead of queueing behind the first one.
type PlayerSession struct {
	GuildID   snowflake.ID
	ChannelID snowflake.ID

	system *PlayerSystem

	mu              sync.Mutex
	conn            voice.Conn
	player          AudioPlayer
	announceChannel snowflake.ID

	events    chan PlayerEvent
	cancelCtx context.Context
	cancel    context.CancelFunc

	playBusy   atomic.Bool
	skipBusy   atomic.Bool
	autoPaused atomic.Bool
}

func (ps *PlayerSystem) getSession(guildID snowflake.ID) *PlayerSession {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.sessions[guildID]
}

func (ps *PlayerSystem) ensureSession(guildID snowflake.ID) *PlayerSession {
	ps.mu.RLock()
	s := ps.sessions[guildID]
	ps.mu.RUnlock()
	if s != nil {
		return s
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if s := ps.sessions[guildID]; s != nil {
		return s
	}
	ctx, cancel := context.WithCancel(context.Background())
	s = &PlayerSession{
		GuildID:   guildID,
		system:    ps,
		events:    make(chan PlayerEvent, eventBufferSize),
		cancelCtx: ctx,
		cancel:    cancel,
	}
	ps.sessions[guildID] = s
	sys.SafeGo(s.eventLoop)
	return s
}

func (s *PlayerSession) currentPlayer() AudioPlayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

func (s *PlayerSession) stopPlayback() {
	if player := s.currentPlayer(); player != nil {
		player.Stop()
	}
}

func (s *PlayerSession) announceChannelID() snowflake.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announceChannel
}

// Connected reports whether the guild has a live voice connection.
func (ps *PlayerSystem) Connected(guildID snowflake.ID) bool {
	s := ps.getSession(guildID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// VoiceChannel returns the channel the bot is connected to, or 0.
func (ps *PlayerSystem) VoiceChannel(guildID snowflake.ID) snowflake.ID {
	s := ps.getSession(guildID)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return 0
	}
	return s.ChannelID
}

func (ps *PlayerSystem) SessionCount() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.sessions)
}

// SetAnnounceChannel records where auto-advance announcements go. The play
// command points this at whatever text channel it was invoked from.
func (ps *PlayerSystem) SetAnnounceChannel(guildID, channelID snowflake.ID) {
	if s := ps.getSession(guildID); s != nil {
		s.mu.Lock()
		s.announceChannel = channelID
		s.mu.Unlock()
	}
}

// Join connects to a voice channel, retrying with exponential backoff inside
// one 30 second window. The session and its event loop are created here.
func (ps *PlayerSystem) Join(ctx context.Context, guildID, channelID snowflake.ID) error {
	client, ok := ps.boundClient()
	if !ok {
		return ErrNotConnected
	}

	s := ps.ensureSession(guildID)
	s.mu.Lock()
	if s.conn != nil && s.ChannelID == channelID {
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	s.mu.Unlock()

	fresh := conn == nil
	if fresh {
		conn = client.VoiceManager.CreateConn(guildID)
	}

	openCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var lastErr error
	for i := range 5 {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 1000 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-openCtx.Done():
			}
		}
		if err := openCtx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		if err := conn.Open(openCtx, channelID, false, false); err != nil {
			lastErr = err
			sys.LogPlayer("Guild %s: voice connect attempt %d failed: %v", guildID, i+1, err)
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.ChannelID = channelID
		if s.player == nil {
			s.player = ps.audio.CreatePlayer(guildID, conn, s.events)
		}
		s.mu.Unlock()
		sys.LogPlayer("Joined voice channel %s in guild %s", channelID, guildID)
		return nil
	}

	if fresh {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn.Close(closeCtx)
		closeCancel()
	}
	return fmt.Errorf("failed to join voice channel %s: %w", channelID, lastErr)
}

// Enqueue appends a track and schedules prebuffering for the upcoming window.
func (ps *PlayerSystem) Enqueue(guildID snowflake.ID, track *Track) error {
	if !ps.queues.Enqueue(guildID, track) {
		return ErrQueueFull
	}
	ps.TriggerPrebuffer(guildID)
	return nil
}

// TriggerPrebuffer schedules background resolution for tracks just past the
// queue pointer.
func (ps *PlayerSystem) TriggerPrebuffer(guildID snowflake.ID) {
	tracks, idx := ps.queues.Snapshot(guildID)
	ps.cache.ScheduleLookahead(tracks, idx, guildID)
}

// Play starts the current track. A play already in flight makes this a no-op;
// a failure is reported and recovered by skipping to the next track, and only
// surfaces if that recovery comes up empty too.
func (ps *PlayerSystem) Play(ctx context.Context, guildID snowflake.ID) error {
	s := ps.getSession(guildID)
	if s == nil {
		return ErrNotConnected
	}

	dropped, err := ps.tryPlay(ctx, s)
	if dropped || err == nil {
		return nil
	}
	if errors.Is(err, ErrNoCurrentTrack) || errors.Is(err, ErrNotConnected) {
		return err
	}

	sys.LogPlayer("Guild %s: play failed, recovering with skip: %v", guildID, err)
	if next := ps.Skip(guildID); next != nil {
		return nil
	}
	return err
}

// tryPlay is the guarded play sequence: resolve, hand to the audio player,
// flip the queue flags and schedule lookahead. The guard is released on every
// exit; recovery belongs to the caller.
func (ps *PlayerSystem) tryPlay(ctx context.Context, s *PlayerSession) (dropped bool, err error) {
	if !s.playBusy.CompareAndSwap(false, true) {
		sys.LogPlayer("Guild %s: play already in progress, dropped", s.GuildID)
		return true, nil
	}
	defer s.playBusy.Store(false)

	track := ps.queues.CurrentTrack(s.GuildID)
	if track == nil {
		return false, ErrNoCurrentTrack
	}

	player := s.currentPlayer()
	if player == nil {
		return false, ErrNotConnected
	}

	address, err := ps.cache.Resolve(ctx, track)
	if err != nil {
		return false, err
	}

	if err := player.Play(ctx, address, ps.queues.Volume(s.GuildID)); err != nil {
		return false, err
	}

	ps.queues.SetPlaying(s.GuildID, true)
	ps.queues.SetPaused(s.GuildID, false)
	s.autoPaused.Store(false)

	tracks, idx := ps.queues.Snapshot(s.GuildID)
	ps.cache.ScheduleLookahead(tracks, idx, s.GuildID)

	sys.LogPlayer("Guild %s: now playing %q", s.GuildID, track.Title)
	sys.SafeGo(func() {
		if err := sys.AddTrackHistory(context.Background(), s.GuildID, track.Title, track.Artist, track.Address, string(track.Platform), track.RequestedBy); err != nil {
			sys.LogPlayer("Guild %s: failed to record history: %v", s.GuildID, err)
		}
	})
	return false, nil
}

// Skip stops the current track and advances, stepping over tracks that fail
// to start up to maxSkipAttempts times. Returns the track that ended up
// playing, or nil if the queue ran out or the skip was dropped.
func (ps *PlayerSystem) Skip(guildID snowflake.ID) *Track {
	s := ps.getSession(guildID)
	if s == nil {
		return nil
	}
	if !ps.queues.IsPlaying(guildID) || ps.queues.Len(guildID) == 0 {
		return nil
	}
	if !s.skipBusy.CompareAndSwap(false, true) {
		sys.LogPlayer("Guild %s: skip already in progress, dropped", guildID)
		return nil
	}
	defer s.skipBusy.Store(false)

	s.stopPlayback()

	for attempt := 1; attempt <= maxSkipAttempts; attempt++ {
		next := ps.queues.Advance(guildID)
		if next == nil {
			ps.Stop(guildID)
			return nil
		}
		dropped, err := ps.tryPlay(s.cancelCtx, s)
		if dropped || err == nil {
			return next
		}
		sys.LogPlayer("Guild %s: skip target %q failed (%d/%d): %v", guildID, next.Title, attempt, maxSkipAttempts, err)
	}

	sys.LogPlayer("Guild %s: skip attempts exhausted, stopping", guildID)
	ps.Stop(guildID)
	return nil
}

// Previous stops the current stream and steps back to the prior track. At the
// head of the queue there is nothing to step back to and nothing restarts. No
// retry cascade here: a previous track that fails to start just stops.
func (ps *PlayerSystem) Previous(guildID snowflake.ID) *Track {
	s := ps.getSession(guildID)
	if s == nil {
		return nil
	}
	if !ps.queues.IsPlaying(guildID) {
		return nil
	}
	if !s.skipBusy.CompareAndSwap(false, true) {
		sys.LogPlayer("Guild %s: skip already in progress, dropped previous", guildID)
		return nil
	}
	defer s.skipBusy.Store(false)

	s.stopPlayback()

	prev := ps.queues.StepBack(guildID)
	if prev == nil {
		return nil
	}

	if _, err := ps.tryPlay(s.cancelCtx, s); err != nil {
		sys.LogPlayer("Guild %s: previous track %q failed: %v", guildID, prev.Title, err)
		ps.queues.SetPlaying(guildID, false)
		return nil
	}
	return prev
}

// Pause suspends playback. Returns false when nothing is playing or already
// paused.
func (ps *PlayerSystem) Pause(guildID snowflake.ID) bool {
	s := ps.getSession(guildID)
	if s == nil {
		return false
	}
	if !ps.queues.IsPlaying(guildID) || ps.queues.IsPaused(guildID) {
		return false
	}
	if player := s.currentPlayer(); player != nil {
		player.Pause()
	}
	ps.queues.SetPaused(guildID, true)
	return true
}

// Resume continues paused playback. Returns false when nothing is playing or
// not paused.
func (ps *PlayerSystem) Resume(guildID snowflake.ID) bool {
	s := ps.getSession(guildID)
	if s == nil {
		return false
	}
	if !ps.queues.IsPlaying(guildID) || !ps.queues.IsPaused(guildID) {
		return false
	}
	if player := s.currentPlayer(); player != nil {
		player.Unpause()
	}
	ps.queues.SetPaused(guildID, false)
	s.autoPaused.Store(false)
	return true
}

// Stop cuts playback and empties the queue. The voice connection stays up.
func (ps *PlayerSystem) Stop(guildID snowflake.ID) {
	if s := ps.getSession(guildID); s != nil {
		s.stopPlayback()
	}
	ps.queues.Clear(guildID)
}

// SetVolume adjusts the live stream gain and persists the guild volume. Only
// allowed while actually playing; the queue default covers everything else.
func (ps *PlayerSystem) SetVolume(guildID snowflake.ID, v float64) bool {
	s := ps.getSession(guildID)
	if s == nil {
		return false
	}
	player := s.currentPlayer()
	if player == nil || player.Status() != StatusPlaying {
		return false
	}
	v = clampVolume(v)
	player.SetGain(v)
	ps.queues.SetVolume(guildID, v)
	return true
}

// Disconnect tears the guild down completely: queue, guards, audio, voice
// connection and the session itself.
func (ps *PlayerSystem) Disconnect(guildID snowflake.ID) {
	ps.mu.Lock()
	s := ps.sessions[guildID]
	delete(ps.sessions, guildID)
	ps.mu.Unlock()

	ps.queues.Clear(guildID)

	if s != nil {
		s.playBusy.Store(false)
		s.skipBusy.Store(false)
		ps.cache.ClearGuild(guildID)
		s.teardown()
	}

	ps.queues.Drop(guildID)
	sys.LogPlayer("Guild %s: disconnected", guildID)
}

// Shutdown tears down every live session. Called once on process exit.
func (ps *PlayerSystem) Shutdown(ctx context.Context) {
	ps.mu.Lock()
	sessions := make([]*PlayerSession, 0, len(ps.sessions))
	for _, s := range ps.sessions {
		sessions = append(sessions, s)
	}
	ps.sessions = make(map[snowflake.ID]*PlayerSession)
	ps.mu.Unlock()

	for _, s := range sessions {
		ps.queues.Clear(s.GuildID)
		s.teardown()
	}
	sys.LogPlayer("Player system shut down (%d sessions)", len(sessions))
}

func (s *PlayerSession) teardown() {
	s.mu.Lock()
	player := s.player
	conn := s.conn
	s.player = nil
	s.conn = nil
	s.ChannelID = 0
	s.mu.Unlock()

	if player != nil {
		player.Stop()
		player.Close()
	}
	if conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn.Close(ctx)
		cancel()
	}
	s.cancel()
}

// eventLoop serializes everything the audio player reports for this guild.
func (s *PlayerSession) eventLoop() {
	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		case <-s.cancelCtx.Done():
			return
		}
	}
}

func (s *PlayerSession) handleEvent(ev PlayerEvent) {
	switch ev.Type {
	case EventIdle:
		s.advanceAfterIdle()
	case EventError:
		sys.LogPlayer("Guild %s: stream error: %v", s.GuildID, ev.Err)
		if s.skipBusy.Load() {
			return
		}
		s.system.Skip(s.GuildID)
	case EventStateChange:
		sys.LogDebug("Guild %s: player state -> %s", s.GuildID, ev.Status)
	}
}

// advanceAfterIdle moves to the next track when a stream drains naturally. A
// skip in flight owns the pointer, so idle reports during one are ignored.
func (s *PlayerSession) advanceAfterIdle() {
	if s.skipBusy.Load() {
		return
	}
	if !s.system.queues.IsPlaying(s.GuildID) {
		return
	}

	next := s.system.queues.Advance(s.GuildID)
	if next == nil {
		sys.LogPlayer("Guild %s: queue finished", s.GuildID)
		return
	}

	dropped, err := s.system.tryPlay(s.cancelCtx, s)
	if dropped {
		return
	}
	if err != nil {
		sys.LogPlayer("Guild %s: auto-advance to %q failed: %v", s.GuildID, next.Title, err)
		s.system.Skip(s.GuildID)
		return
	}
	s.announce(next)
}

func (s *PlayerSession) announce(track *Track) {
	client, ok := s.system.boundClient()
	channelID := s.announceChannelID()
	if !ok || channelID == 0 {
		return
	}

	content := "▶️ Now playing: " + track.Display()
	container := sys.NewV2Container(sys.NewTextDisplay(content))
	if track.ArtworkURL != "" {
		container = sys.NewV2Container(sys.NewSection(content, sys.NewThumbnail(track.ArtworkURL)))
	}
	if _, err := sys.SendContainerV2(client, channelID, container); err != nil {
		sys.LogPlayer("Guild %s: failed to announce track: %v", s.GuildID, err)
	}
}

// HandleVoiceStateUpdate reacts to the bot being kicked or moved and pauses
// playback while nobody is listening.
func (ps *PlayerSystem) HandleVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	s := ps.getSession(event.VoiceState.GuildID)

	if event.VoiceState.UserID == event.Client().ID() {
		ps.handleSelfVoiceUpdate(event, s)
		return
	}
	if s != nil {
		ps.updateAutoPause(event, s)
	}
}

func (ps *PlayerSystem) handleSelfVoiceUpdate(event *events.GuildVoiceStateUpdate, s *PlayerSession) {
	guildID := event.VoiceState.GuildID
	if event.VoiceState.ChannelID == nil {
		if s != nil {
			sys.LogPlayer("Bot disconnected by external event in guild %s", guildID)
			ps.Disconnect(guildID)
		}
		return
	}
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.ChannelID != 0 && *event.VoiceState.ChannelID != s.ChannelID {
		sys.LogPlayer("Bot moved from %s to %s in guild %s", s.ChannelID, *event.VoiceState.ChannelID, guildID)
	}
	s.ChannelID = *event.VoiceState.ChannelID
	s.mu.Unlock()
}

func (ps *PlayerSystem) updateAutoPause(event *events.GuildVoiceStateUpdate, s *PlayerSession) {
	s.mu.Lock()
	channelID := s.ChannelID
	s.mu.Unlock()
	if channelID == 0 {
		return
	}

	humanCount := 0
	for state := range event.Client().Caches.VoiceStates(event.VoiceState.GuildID) {
		if state.ChannelID != nil && *state.ChannelID == channelID && state.UserID != event.Client().ID() {
			if state.SelfDeaf {
				continue
			}
			if m, ok := event.Client().Caches.Member(event.VoiceState.GuildID, state.UserID); !ok || !m.User.Bot {
				humanCount++
			}
		}
	}

	guildID := event.VoiceState.GuildID
	if humanCount == 0 {
		if ps.Pause(guildID) {
			s.autoPaused.Store(true)
			sys.LogPlayer("Guild %s: paused, nobody is listening", guildID)
		}
		return
	}
	if s.autoPaused.CompareAndSwap(true, false) {
		if ps.Resume(guildID) {
			sys.LogPlayer("Guild %s: resumed, listeners returned", guildID)
		}
	}
}

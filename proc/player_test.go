package proc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAudioSystem struct{}

func (f *fakeAudioSystem) CreatePlayer(guildID snowflake.ID, conn voice.Conn, events chan<- PlayerEvent) AudioPlayer {
	return &fakePlayer{events: events, fail: map[string]bool{}}
}

// fakePlayer stands in for the transcode pipeline. Addresses marked in fail
// refuse to start, everything else flips straight to playing.
type fakePlayer struct {
	mu       sync.Mutex
	events   chan<- PlayerEvent
	status   PlayerStatus
	gain     float64
	attempts []string
	stops    int
	closed   bool
	fail     map[string]bool
}

func (p *fakePlayer) Play(ctx context.Context, address string, gain float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = append(p.attempts, address)
	if p.fail[address] {
		return errors.New("stream refused")
	}
	p.gain = gain
	p.status = StatusPlaying
	return nil
}

func (p *fakePlayer) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPlaying {
		return false
	}
	p.status = StatusPaused
	return true
}

func (p *fakePlayer) Unpause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusPaused {
		return false
	}
	p.status = StatusPlaying
	return true
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.status = StatusIdle
}

func (p *fakePlayer) Status() PlayerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakePlayer) SetGain(gain float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gain = gain
}

func (p *fakePlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePlayer) finishTrack() {
	p.events <- PlayerEvent{Type: EventIdle, Status: StatusIdle}
}

func (p *fakePlayer) playedAddresses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.attempts))
	copy(out, p.attempts)
	return out
}

func (p *fakePlayer) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

func (p *fakePlayer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePlayer) currentGain() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gain
}

func testSystem(limit int) *PlayerSystem {
	return NewPlayerSystem(
		NewQueueManager(limit, 0.5),
		NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
			return "resolved://" + track.Title, nil
		}),
		&fakeAudioSystem{},
	)
}

// attachPlayer gives the guild a live session with a fake audio player, the
// state Join would normally leave behind.
func attachPlayer(ps *PlayerSystem, guildID snowflake.ID) (*PlayerSession, *fakePlayer) {
	s := ps.ensureSession(guildID)
	p := &fakePlayer{events: s.events, fail: map[string]bool{}}
	s.mu.Lock()
	s.player = p
	s.mu.Unlock()
	return s, p
}

func TestPlayerSystem_PlayStartsCurrentTrack(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	track := testTrack("a")
	require.NoError(t, ps.Enqueue(g, track))

	require.NoError(t, ps.Play(context.Background(), g))

	assert.Equal(t, []string{track.Address}, p.playedAddresses())
	assert.True(t, ps.queues.IsPlaying(g))
	assert.False(t, ps.queues.IsPaused(g))
	assert.InDelta(t, 0.5, p.currentGain(), 1e-9, "queue volume rides along with play")
}

func TestPlayerSystem_PlayNoCurrentTrack(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	attachPlayer(ps, g)

	err := ps.Play(context.Background(), g)

	assert.ErrorIs(t, err, ErrNoCurrentTrack)
}

func TestPlayerSystem_PlayWithoutSession(t *testing.T) {
	ps := testSystem(500)

	err := ps.Play(context.Background(), snowflake.ID(9))

	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPlayerSystem_PlayWithoutVoiceConnection(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	ps.ensureSession(g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))

	err := ps.Play(context.Background(), g)

	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPlayerSystem_PlayGuardDropsDuplicate(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	s, p := attachPlayer(ps, g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))
	s.playBusy.Store(true)

	err := ps.Play(context.Background(), g)

	assert.NoError(t, err, "a play in flight makes the second one a silent no-op")
	assert.Empty(t, p.playedAddresses())
}

func TestPlayerSystem_PlayFailureFreshStartSurfaces(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	track := testTrack("bad")
	p.fail[track.Address] = true
	require.NoError(t, ps.Enqueue(g, track))

	err := ps.Play(context.Background(), g)

	assert.Error(t, err, "nothing was playing yet, so there is no skip to recover with")
	assert.False(t, ps.queues.IsPlaying(g))
}

func TestPlayerSystem_PlayFailureMidSessionRecoversWithSkip(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	a, b := testTrack("a"), testTrack("b")
	require.NoError(t, ps.Enqueue(g, a))
	require.NoError(t, ps.Enqueue(g, b))
	require.NoError(t, ps.Play(context.Background(), g))

	p.fail[a.Address] = true
	err := ps.Play(context.Background(), g)

	assert.NoError(t, err, "the recovery skip found a working track")
	assert.Equal(t, "b", ps.queues.CurrentTrack(g).Title)
	assert.Equal(t, []string{a.Address, a.Address, b.Address}, p.playedAddresses())
}

func TestPlayerSystem_SkipAdvances(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	a, b := testTrack("a"), testTrack("b")
	require.NoError(t, ps.Enqueue(g, a))
	require.NoError(t, ps.Enqueue(g, b))
	require.NoError(t, ps.Play(context.Background(), g))

	next := ps.Skip(g)

	require.NotNil(t, next)
	assert.Equal(t, "b", next.Title)
	assert.Equal(t, 1, ps.queues.Len(g), "the skipped track is gone")
	assert.Equal(t, "b", ps.queues.CurrentTrack(g).Title)
	assert.Equal(t, 1, p.stopCount())
}

func TestPlayerSystem_SkipLastTrackStops(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	attachPlayer(ps, g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))
	require.NoError(t, ps.Play(context.Background(), g))

	next := ps.Skip(g)

	assert.Nil(t, next)
	assert.Zero(t, ps.queues.Len(g))
	assert.False(t, ps.queues.IsPlaying(g))
}

func TestPlayerSystem_SkipWhenNotPlaying(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))

	next := ps.Skip(g)

	assert.Nil(t, next)
	assert.Empty(t, p.playedAddresses())
	assert.Equal(t, 1, ps.queues.Len(g))
}

func TestPlayerSystem_SkipGuardDrops(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	s, _ := attachPlayer(ps, g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))
	require.NoError(t, ps.Enqueue(g, testTrack("b")))
	require.NoError(t, ps.Play(context.Background(), g))
	s.skipBusy.Store(true)

	next := ps.Skip(g)

	assert.Nil(t, next)
	assert.Equal(t, "a", ps.queues.CurrentTrack(g).Title, "a dropped skip leaves the pointer alone")
	assert.Equal(t, 2, ps.queues.Len(g))
}

func TestPlayerSystem_SkipStepsOverBrokenTrack(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	a, b, c := testTrack("a"), testTrack("b"), testTrack("c")
	p.fail[b.Address] = true
	require.NoError(t, ps.Enqueue(g, a))
	require.NoError(t, ps.Enqueue(g, b))
	require.NoError(t, ps.Enqueue(g, c))
	require.NoError(t, ps.Play(context.Background(), g))

	next := ps.Skip(g)

	require.NotNil(t, next)
	assert.Equal(t, "c", next.Title)
	assert.Equal(t, []string{a.Address, b.Address, c.Address}, p.playedAddresses())
	assert.Equal(t, 1, ps.queues.Len(g))
	assert.Equal(t, "c", ps.queues.CurrentTrack(g).Title)
}

func TestPlayerSystem_SkipRetryCapStops(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	a, b, c, d := testTrack("a"), testTrack("b"), testTrack("c"), testTrack("d")
	p.fail[b.Address] = true
	p.fail[c.Address] = true
	p.fail[d.Address] = true
	for _, track := range []*Track{a, b, c, d} {
		require.NoError(t, ps.Enqueue(g, track))
	}
	require.NoError(t, ps.Play(context.Background(), g))

	next := ps.Skip(g)

	assert.Nil(t, next, "three broken tracks in a row use up every skip attempt")
	assert.False(t, ps.queues.IsPlaying(g))
	assert.Zero(t, ps.queues.Len(g))
	assert.Equal(t, []string{a.Address, b.Address, c.Address, d.Address}, p.playedAddresses())
}

func TestPlayerSystem_PreviousAtHeadStopsStream(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))
	require.NoError(t, ps.Play(context.Background(), g))

	prev := ps.Previous(g)

	assert.Nil(t, prev)
	assert.Equal(t, 1, p.stopCount(), "the stream is cut before the step back is attempted")
	assert.True(t, ps.queues.IsPlaying(g), "the playing flag is left alone, nothing restarts")
	assert.Equal(t, "a", ps.queues.CurrentTrack(g).Title, "nothing was removed")
	assert.Equal(t, 1, ps.queues.Len(g))
}

func TestPlayerSystem_PreviousStepsBack(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	a, b := testTrack("a"), testTrack("b")
	require.NoError(t, ps.Enqueue(g, a))
	require.NoError(t, ps.Enqueue(g, b))
	q := ps.queues.GetOrCreate(g)
	q.mu.Lock()
	q.pointer = 1
	q.mu.Unlock()
	require.NoError(t, ps.Play(context.Background(), g))

	prev := ps.Previous(g)

	require.NotNil(t, prev)
	assert.Equal(t, "a", prev.Title)
	assert.Equal(t, 2, ps.queues.Len(g), "stepping back removes nothing")
	assert.Equal(t, "a", ps.queues.CurrentTrack(g).Title)
	assert.Equal(t, 1, p.stopCount())
}

func TestPlayerSystem_PreviousFailureStopsWithoutRetry(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	a, b := testTrack("a"), testTrack("b")
	p.fail[a.Address] = true
	require.NoError(t, ps.Enqueue(g, a))
	require.NoError(t, ps.Enqueue(g, b))
	q := ps.queues.GetOrCreate(g)
	q.mu.Lock()
	q.pointer = 1
	q.mu.Unlock()
	require.NoError(t, ps.Play(context.Background(), g))

	prev := ps.Previous(g)

	assert.Nil(t, prev)
	assert.False(t, ps.queues.IsPlaying(g))
	assert.Equal(t, []string{b.Address, a.Address}, p.playedAddresses(), "no retry cascade on previous")
}

func TestPlayerSystem_PauseResume(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))
	require.NoError(t, ps.Play(context.Background(), g))

	assert.True(t, ps.Pause(g))
	assert.True(t, ps.queues.IsPaused(g))
	assert.Equal(t, StatusPaused, p.Status())
	assert.False(t, ps.Pause(g), "pausing twice is a no-op")

	assert.True(t, ps.Resume(g))
	assert.False(t, ps.queues.IsPaused(g))
	assert.Equal(t, StatusPlaying, p.Status())
	assert.False(t, ps.Resume(g), "resuming while not paused is a no-op")
}

func TestPlayerSystem_PauseWhenNotPlaying(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)

	assert.False(t, ps.Pause(g), "no session")

	attachPlayer(ps, g)
	assert.False(t, ps.Pause(g), "session but nothing playing")
	assert.False(t, ps.Resume(g))
}

func TestPlayerSystem_SetVolumeOnlyWhilePlaying(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))
	require.NoError(t, ps.Play(context.Background(), g))

	assert.True(t, ps.SetVolume(g, 0.3))
	assert.InDelta(t, 0.3, p.currentGain(), 1e-9)
	assert.InDelta(t, 0.3, ps.queues.Volume(g), 1e-9)

	ps.Pause(g)
	assert.False(t, ps.SetVolume(g, 0.9), "volume changes are rejected while paused")
	assert.InDelta(t, 0.3, ps.queues.Volume(g), 1e-9)

	ps.Resume(g)
	assert.True(t, ps.SetVolume(g, 1.8))
	assert.InDelta(t, 1.0, p.currentGain(), 1e-9, "out-of-range volume clamps")
}

func TestPlayerSystem_SetVolumeWithoutSession(t *testing.T) {
	ps := testSystem(500)

	assert.False(t, ps.SetVolume(snowflake.ID(9), 0.5))
}

func TestPlayerSystem_StopClearsQueueKeepsSession(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))
	require.NoError(t, ps.Enqueue(g, testTrack("b")))
	require.NoError(t, ps.Play(context.Background(), g))

	ps.Stop(g)

	assert.Zero(t, ps.queues.Len(g))
	assert.False(t, ps.queues.IsPlaying(g))
	assert.GreaterOrEqual(t, p.stopCount(), 1)
	assert.Equal(t, 1, ps.SessionCount(), "stop leaves the voice session up")
	assert.InDelta(t, 0.5, ps.queues.Volume(g), 1e-9, "volume survives the clear")
}

func TestPlayerSystem_DisconnectTearsDown(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	s, p := attachPlayer(ps, g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))
	require.NoError(t, ps.Play(context.Background(), g))

	ps.Disconnect(g)

	assert.Zero(t, ps.SessionCount())
	assert.True(t, p.isClosed())
	assert.Zero(t, ps.queues.Len(g))
	select {
	case <-s.cancelCtx.Done():
	default:
		t.Fatal("session context should be canceled after disconnect")
	}
}

func TestPlayerSystem_IdleAdvancesQueue(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))
	require.NoError(t, ps.Enqueue(g, testTrack("b")))
	require.NoError(t, ps.Play(context.Background(), g))

	p.finishTrack()

	assert.Eventually(t, func() bool {
		cur := ps.queues.CurrentTrack(g)
		return cur != nil && cur.Title == "b"
	}, time.Second, 5*time.Millisecond, "a drained stream advances to the next track")
	assert.Equal(t, 1, ps.queues.Len(g))
}

func TestPlayerSystem_IdleDuringSkipIgnored(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	s, p := attachPlayer(ps, g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))
	require.NoError(t, ps.Enqueue(g, testTrack("b")))
	require.NoError(t, ps.Play(context.Background(), g))
	s.skipBusy.Store(true)

	p.finishTrack()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, "a", ps.queues.CurrentTrack(g).Title, "the in-flight skip owns the pointer")
	assert.Equal(t, 2, ps.queues.Len(g))
}

func TestPlayerSystem_IdleOnLastTrackFinishesQueue(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	_, p := attachPlayer(ps, g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))
	require.NoError(t, ps.Play(context.Background(), g))

	p.finishTrack()

	assert.Eventually(t, func() bool { return !ps.queues.IsPlaying(g) }, time.Second, 5*time.Millisecond)
	assert.Zero(t, ps.queues.Len(g))
}

func TestPlayerSystem_ErrorEventSkips(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)
	s, _ := attachPlayer(ps, g)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))
	require.NoError(t, ps.Enqueue(g, testTrack("b")))
	require.NoError(t, ps.Play(context.Background(), g))

	s.events <- PlayerEvent{Type: EventError, Err: errors.New("stream died")}

	assert.Eventually(t, func() bool {
		cur := ps.queues.CurrentTrack(g)
		return cur != nil && cur.Title == "b"
	}, time.Second, 5*time.Millisecond, "a mid-stream error behaves like a skip")
}

func TestPlayerSystem_EnqueueFull(t *testing.T) {
	ps := testSystem(1)
	g := snowflake.ID(1)
	require.NoError(t, ps.Enqueue(g, testTrack("a")))

	err := ps.Enqueue(g, testTrack("b"))

	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestPlayerSystem_EnqueueSchedulesPrebuffer(t *testing.T) {
	var calls atomic.Int32
	ps := NewPlayerSystem(
		NewQueueManager(500, 0.5),
		NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
			calls.Add(1)
			return "resolved://" + track.Title, nil
		}),
		&fakeAudioSystem{},
	)
	g := snowflake.ID(1)

	require.NoError(t, ps.Enqueue(g, testTrack("current")))
	require.NoError(t, ps.Enqueue(g, spotifyTrack("next")))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond,
		"enqueue prebuffers the indirect track behind the pointer")
}

func TestPlayerSystem_TriggerPrebufferAfterPointerMove(t *testing.T) {
	var mu sync.Mutex
	var resolved []string
	ps := NewPlayerSystem(
		NewQueueManager(500, 0.5),
		NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
			mu.Lock()
			resolved = append(resolved, track.Title)
			mu.Unlock()
			return "resolved://" + track.Title, nil
		}),
		&fakeAudioSystem{},
	)
	g := snowflake.ID(1)

	// Native tracks fill the lookahead window, keeping the indirect ones
	// behind them untouched while the queue is built up.
	require.NoError(t, ps.Enqueue(g, testTrack("current")))
	require.NoError(t, ps.Enqueue(g, testTrack("n1")))
	require.NoError(t, ps.Enqueue(g, testTrack("n2")))
	require.NoError(t, ps.Enqueue(g, spotifyTrack("s1")))
	require.NoError(t, ps.Enqueue(g, spotifyTrack("s2")))
	assert.Zero(t, ps.cache.Stats().Total)

	ps.queues.Advance(g)
	ps.TriggerPrebuffer(g)

	assert.Eventually(t, func() bool { return ps.cache.Stats().Resolved == 1 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"s1"}, resolved, "the window is measured from the moved pointer")
}

func TestPlayerSystem_JoinWithoutClient(t *testing.T) {
	ps := testSystem(500)

	err := ps.Join(context.Background(), snowflake.ID(1), snowflake.ID(5))

	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPlayerSystem_ConnectedAndVoiceChannel(t *testing.T) {
	ps := testSystem(500)
	g := snowflake.ID(1)

	assert.False(t, ps.Connected(g))
	assert.Zero(t, ps.VoiceChannel(g))

	attachPlayer(ps, g)
	assert.False(t, ps.Connected(g), "a session without a live conn is not connected")
}

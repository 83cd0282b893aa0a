package proc

import (
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTrack(title string) *Track {
	return &Track{
		Title:    title,
		Address:  "https://www.youtube.com/watch?v=" + title,
		Platform: PlatformYouTube,
	}
}

func TestQueueManager_EnqueueIntoEmptyQueue(t *testing.T) {
	m := NewQueueManager(10, 1.0)
	g := snowflake.ID(1)

	assert.Nil(t, m.CurrentTrack(g))

	ok := m.Enqueue(g, testTrack("a"))

	require.True(t, ok)
	assert.Equal(t, 1, m.Len(g))
	require.NotNil(t, m.CurrentTrack(g))
	assert.Equal(t, "a", m.CurrentTrack(g).Title)

	_, idx := m.Snapshot(g)
	assert.Equal(t, 0, idx)
}

func TestQueueManager_EnqueueRespectsLimit(t *testing.T) {
	m := NewQueueManager(2, 1.0)
	g := snowflake.ID(1)

	assert.True(t, m.Enqueue(g, testTrack("a")))
	assert.True(t, m.Enqueue(g, testTrack("b")))
	assert.False(t, m.Enqueue(g, testTrack("c")))
	assert.Equal(t, 2, m.Len(g))
}

func TestQueueManager_AdvanceRemovesCurrent(t *testing.T) {
	m := NewQueueManager(10, 1.0)
	g := snowflake.ID(1)
	m.Enqueue(g, testTrack("a"))
	m.Enqueue(g, testTrack("b"))

	next := m.Advance(g)

	require.NotNil(t, next)
	assert.Equal(t, "b", next.Title)
	assert.Equal(t, 1, m.Len(g))
	assert.Equal(t, "b", m.CurrentTrack(g).Title)
}

func TestQueueManager_AdvanceRoundTrip(t *testing.T) {
	m := NewQueueManager(10, 1.0)
	g := snowflake.ID(1)
	m.Enqueue(g, testTrack("only"))

	next := m.Advance(g)

	assert.Nil(t, next)
	assert.Equal(t, 0, m.Len(g))
	assert.False(t, m.IsPlaying(g))

	_, idx := m.Snapshot(g)
	assert.Equal(t, 0, idx)
}

func TestQueueManager_AdvanceWrapsPointer(t *testing.T) {
	m := NewQueueManager(10, 1.0)
	g := snowflake.ID(1)
	m.Enqueue(g, testTrack("a"))
	m.Enqueue(g, testTrack("b"))
	m.Enqueue(g, testTrack("c"))

	q := m.GetOrCreate(g)
	q.mu.Lock()
	q.pointer = 2
	q.mu.Unlock()

	next := m.Advance(g)

	require.NotNil(t, next)
	assert.Equal(t, "a", next.Title, "pointer past the end wraps to the front")
	assert.Equal(t, 2, m.Len(g))

	_, idx := m.Snapshot(g)
	assert.Equal(t, 0, idx)
}

func TestQueueManager_StepBack(t *testing.T) {
	m := NewQueueManager(10, 1.0)
	g := snowflake.ID(1)
	m.Enqueue(g, testTrack("a"))
	m.Enqueue(g, testTrack("b"))

	t.Run("at first position", func(t *testing.T) {
		assert.Nil(t, m.StepBack(g))
		assert.Equal(t, 2, m.Len(g), "stepBack never removes tracks")
	})

	t.Run("from a later position", func(t *testing.T) {
		q := m.GetOrCreate(g)
		q.mu.Lock()
		q.pointer = 1
		q.mu.Unlock()

		prev := m.StepBack(g)

		require.NotNil(t, prev)
		assert.Equal(t, "a", prev.Title)
		assert.Equal(t, 2, m.Len(g))

		_, idx := m.Snapshot(g)
		assert.Equal(t, 0, idx)
	})
}

func TestQueueManager_PeekNext(t *testing.T) {
	m := NewQueueManager(10, 1.0)
	g := snowflake.ID(1)

	assert.Nil(t, m.PeekNext(g))

	m.Enqueue(g, testTrack("a"))
	assert.Nil(t, m.PeekNext(g), "no next after the only track")

	m.Enqueue(g, testTrack("b"))
	next := m.PeekNext(g)
	require.NotNil(t, next)
	assert.Equal(t, "b", next.Title)
	assert.Equal(t, "a", m.CurrentTrack(g).Title, "peek must not move the pointer")
}

func TestQueueManager_ShufflePinsCurrent(t *testing.T) {
	m := NewQueueManager(20, 1.0)
	g := snowflake.ID(1)
	titles := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, title := range titles {
		m.Enqueue(g, testTrack(title))
	}

	q := m.GetOrCreate(g)
	q.mu.Lock()
	q.pointer = 3
	q.mu.Unlock()
	current := m.CurrentTrack(g)

	m.Shuffle(g)

	assert.Equal(t, len(titles), m.Len(g))
	require.NotNil(t, m.CurrentTrack(g))
	assert.Equal(t, current.Title, m.CurrentTrack(g).Title, "current track stays current")

	tracks, idx := m.Snapshot(g)
	assert.Equal(t, 0, idx)

	seen := make(map[string]bool)
	for _, track := range tracks {
		seen[track.Title] = true
	}
	for _, title := range titles {
		assert.True(t, seen[title], "shuffle must not lose track %q", title)
	}
}

func TestQueueManager_ShuffleSingleTrackNoop(t *testing.T) {
	m := NewQueueManager(10, 1.0)
	g := snowflake.ID(1)
	m.Enqueue(g, testTrack("only"))

	m.Shuffle(g)

	assert.Equal(t, 1, m.Len(g))
	assert.Equal(t, "only", m.CurrentTrack(g).Title)
}

func TestQueueManager_ClearPreservesVolume(t *testing.T) {
	m := NewQueueManager(10, 1.0)
	g := snowflake.ID(1)
	m.Enqueue(g, testTrack("a"))
	m.Enqueue(g, testTrack("b"))
	m.SetPlaying(g, true)
	m.SetPaused(g, true)
	m.SetVolume(g, 0.7)

	m.Clear(g)

	assert.Equal(t, 0, m.Len(g))
	assert.False(t, m.IsPlaying(g))
	assert.False(t, m.IsPaused(g))
	assert.InDelta(t, 0.7, m.Volume(g), 0.001)

	_, idx := m.Snapshot(g)
	assert.Equal(t, 0, idx)
}

func TestQueueManager_SetVolumeClamps(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"below range", -0.5, 0},
		{"above range", 1.5, 1},
		{"in range", 0.42, 0.42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewQueueManager(10, 1.0)
			g := snowflake.ID(1)

			m.SetVolume(g, tt.in)

			assert.InDelta(t, tt.want, m.Volume(g), 0.001)
		})
	}
}

func TestQueueManager_SetPlayingFalseClearsPaused(t *testing.T) {
	m := NewQueueManager(10, 1.0)
	g := snowflake.ID(1)
	m.SetPlaying(g, true)
	m.SetPaused(g, true)

	m.SetPlaying(g, false)

	assert.False(t, m.IsPlaying(g))
	assert.False(t, m.IsPaused(g))
}

func TestQueueManager_SnapshotCopies(t *testing.T) {
	m := NewQueueManager(10, 1.0)
	g := snowflake.ID(1)
	m.Enqueue(g, testTrack("a"))

	tracks, _ := m.Snapshot(g)
	tracks[0] = testTrack("mutated")

	assert.Equal(t, "a", m.CurrentTrack(g).Title)
}

func TestQueueManager_TenantsAreIsolated(t *testing.T) {
	m := NewQueueManager(10, 1.0)
	g1, g2 := snowflake.ID(1), snowflake.ID(2)

	m.Enqueue(g1, testTrack("a"))
	m.SetVolume(g1, 0.3)

	assert.Equal(t, 0, m.Len(g2))
	assert.InDelta(t, 1.0, m.Volume(g2), 0.001)
}

func TestQueueManager_DropForgetsGuild(t *testing.T) {
	m := NewQueueManager(10, 0.8)
	g := snowflake.ID(1)
	m.Enqueue(g, testTrack("a"))
	m.SetVolume(g, 0.2)

	m.Drop(g)

	assert.Equal(t, 0, m.Len(g))
	assert.InDelta(t, 0.8, m.Volume(g), 0.001, "dropped guild starts over at the default volume")
}

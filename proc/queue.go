package proc

import (
	"context"
	"math/rand"
	"sync"

	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/reprise/sys"
)

// GuildQueue is one guild's ordered track list with a current-position
// pointer. A non-empty queue keeps the pointer in [0, len); an empty queue
// sits at pointer 0 and is not playing. Volume is clamped to [0, 1] on
// every write.
type GuildQueue struct {
	mu      sync.Mutex
	tracks  []*Track
	pointer int
	playing bool
	paused  bool
	volume  float64
}

// QueueManager owns the guild→queue map and all pointer-advance semantics.
type QueueManager struct {
	mu     sync.RWMutex
	queues map[snowflake.ID]*GuildQueue

	limit         int
	defaultVolume float64
}

func NewQueueManager(limit int, defaultVolume float64) *QueueManager {
	if limit <= 0 {
		limit = 500
	}
	return &QueueManager{
		queues:        make(map[snowflake.ID]*GuildQueue),
		limit:         limit,
		defaultVolume: clampVolume(defaultVolume),
	}
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// GetOrCreate returns the guild's queue, creating an empty one on first
// access. A newly created queue seeds its volume from the persisted guild
// setting when one exists.
func (m *QueueManager) GetOrCreate(guildID snowflake.ID) *GuildQueue {
	m.mu.RLock()
	q, ok := m.queues[guildID]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok = m.queues[guildID]; ok {
		return q
	}

	volume := m.defaultVolume
	if percent, ok := sys.GetGuildVolume(context.Background(), guildID); ok {
		volume = clampVolume(float64(percent) / 100)
	}

	q = &GuildQueue{volume: volume}
	m.queues[guildID] = q
	return q
}

// Enqueue appends a track. It returns false when the queue is at capacity.
// Appending to an empty queue that is not playing resets the pointer to 0.
func (m *QueueManager) Enqueue(guildID snowflake.ID, track *Track) bool {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) >= m.limit {
		return false
	}
	if len(q.tracks) == 0 && !q.playing {
		q.pointer = 0
	}
	q.tracks = append(q.tracks, track)
	return true
}

// CurrentTrack returns the track at the pointer, or nil if the queue is empty.
func (m *QueueManager) CurrentTrack(guildID snowflake.ID) *Track {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentLocked()
}

func (q *GuildQueue) currentLocked() *Track {
	if len(q.tracks) == 0 || q.pointer < 0 || q.pointer >= len(q.tracks) {
		return nil
	}
	return q.tracks[q.pointer]
}

// PeekNext returns the track after the pointer without moving it.
func (m *QueueManager) PeekNext(guildID snowflake.ID) *Track {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pointer+1 >= len(q.tracks) {
		return nil
	}
	return q.tracks[q.pointer+1]
}

// Advance removes the track at the pointer, the just-finished or just-skipped
// one, and returns the new current track. When the removal exposes the end of
// the queue the pointer wraps to 0; when it empties the queue entirely,
// Advance returns nil and playback is marked stopped.
func (m *QueueManager) Advance(guildID snowflake.ID) *Track {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) == 0 {
		q.pointer = 0
		q.playing = false
		return nil
	}

	q.tracks = append(q.tracks[:q.pointer], q.tracks[q.pointer+1:]...)
	if len(q.tracks) == 0 {
		q.pointer = 0
		q.playing = false
		return nil
	}
	if q.pointer >= len(q.tracks) {
		q.pointer = 0
	}
	return q.tracks[q.pointer]
}

// StepBack moves the pointer to the previous track without removing anything.
// It returns nil when the pointer is already at the first position.
func (m *QueueManager) StepBack(guildID snowflake.ID) *Track {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pointer <= 0 {
		return nil
	}
	q.pointer--
	return q.currentLocked()
}

// Shuffle reorders everything except the current track, which stays first.
func (m *QueueManager) Shuffle(guildID snowflake.ID) {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tracks) <= 1 {
		return
	}

	current := q.tracks[q.pointer]
	rest := make([]*Track, 0, len(q.tracks)-1)
	rest = append(rest, q.tracks[:q.pointer]...)
	rest = append(rest, q.tracks[q.pointer+1:]...)

	rand.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})

	q.tracks = append([]*Track{current}, rest...)
	q.pointer = 0
}

// Clear empties the queue and resets the playback flags. Volume is preserved.
func (m *QueueManager) Clear(guildID snowflake.ID) {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tracks = nil
	q.pointer = 0
	q.playing = false
	q.paused = false
}

// SetVolume clamps v to [0, 1], stores it and persists it for the guild.
func (m *QueueManager) SetVolume(guildID snowflake.ID, v float64) {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	q.volume = clampVolume(v)
	percent := int(q.volume*100 + 0.5)
	q.mu.Unlock()

	if err := sys.SetGuildVolume(context.Background(), guildID, percent); err != nil {
		sys.LogQueue("Failed to persist volume for guild %s: %v", guildID, err)
	}
}

func (m *QueueManager) Volume(guildID snowflake.ID) float64 {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.volume
}

func (m *QueueManager) IsPlaying(guildID snowflake.ID) bool {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

func (m *QueueManager) IsPaused(guildID snowflake.ID) bool {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

func (m *QueueManager) SetPlaying(guildID snowflake.ID, playing bool) {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.playing = playing
	if !playing {
		q.paused = false
	}
}

func (m *QueueManager) SetPaused(guildID snowflake.ID, paused bool) {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = paused
}

func (m *QueueManager) Len(guildID snowflake.ID) int {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// Snapshot returns a copy of the track list and the pointer for display and
// lookahead scheduling.
func (m *QueueManager) Snapshot(guildID snowflake.ID) ([]*Track, int) {
	q := m.GetOrCreate(guildID)
	q.mu.Lock()
	defer q.mu.Unlock()

	tracks := make([]*Track, len(q.tracks))
	copy(tracks, q.tracks)
	return tracks, q.pointer
}

// Drop removes the guild's queue entry entirely, used on disconnect.
func (m *QueueManager) Drop(guildID snowflake.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, guildID)
}

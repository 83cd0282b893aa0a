package proc

import (
	"context"
	"sync"

	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/reprise/sys"
)

// lookaheadDepth is how many upcoming tracks get pre-resolved.
const lookaheadDepth = 2

// ResolveFunc performs the platform lookup that turns an indirect track into
// a directly streamable address.
type ResolveFunc func(ctx context.Context, track *Track) (string, error)

// cacheEntry is one memoized resolution. While the lookup is in flight the
// entry sits in the map unresolved so concurrent callers can await done;
// once settled it carries either the address or, briefly, the error before
// the entry is dropped. At most one of {pending, resolved} is active.
type cacheEntry struct {
	key      string
	address  string
	resolved bool
	err      error
	done     chan struct{}
}

type CacheStats struct {
	Total    int
	Resolved int
	Pending  int
}

// StreamCache memoizes stream-address resolutions keyed by (platform,
// address). The key space is deliberately process-wide: two guilds queueing
// the same track share a single lookup. Capacity is bounded by evicting the
// oldest-inserted entries on insert; nothing expires on a timer.
type StreamCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []string
	limit   int
	resolve ResolveFunc
}

func NewStreamCache(limit int, resolve ResolveFunc) *StreamCache {
	if limit <= 0 {
		limit = 50
	}
	return &StreamCache{
		entries: make(map[string]*cacheEntry),
		limit:   limit,
		resolve: resolve,
	}
}

// ScheduleLookahead pre-resolves up to the next two tracks after
// currentIndex. Native-streamable platforms are skipped, tracks that already
// have an entry are skipped, and everything else gets a pending entry
// immediately plus a background resolution. Failures drop the entry so the
// next request retries fresh; successes stay cached even if the listener
// skipped past the track in the meantime.
func (c *StreamCache) ScheduleLookahead(tracks []*Track, currentIndex int, guildID snowflake.ID) {
	for i := currentIndex + 1; i <= currentIndex+lookaheadDepth && i < len(tracks); i++ {
		track := tracks[i]
		if track == nil || track.Platform == PlatformUnknown || !track.Platform.NeedsResolution() {
			continue
		}

		entry, owner := c.beginResolve(track)
		if !owner {
			continue
		}

		sys.LogCache("Prebuffering %q (%s) for guild %s", track.Title, track.Platform, guildID)
		t := track
		sys.SafeGo(func() {
			address, err := c.resolve(context.Background(), t)
			c.settle(entry, address, err)
			if err != nil {
				sys.LogCache("Prebuffer failed for %q: %v", t.Title, err)
			}
		})
	}
}

// Resolve returns a streamable address for the track. Native-streamable
// platforms pass their own address through untouched. For the rest: a
// resolved entry answers immediately, a pending entry is awaited, and a miss
// starts a resolution that concurrent callers for the same key will share.
// When an awaited entry settles with an error the caller retries fresh
// rather than propagating the shared failure.
func (c *StreamCache) Resolve(ctx context.Context, track *Track) (string, error) {
	if track.Platform == PlatformUnknown {
		return "", ErrUnsupportedPlatform
	}
	if !track.Platform.NeedsResolution() {
		return track.Address, nil
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		entry, owner := c.beginResolve(track)
		if owner {
			address, err := c.resolve(ctx, track)
			c.settle(entry, address, err)
			if err != nil {
				return "", err
			}
			return address, nil
		}

		select {
		case <-entry.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}

		if entry.err == nil {
			return entry.address, nil
		}
		lastErr = entry.err
	}
	return "", lastErr
}

// beginResolve returns the entry for the track's key, inserting a pending one
// when absent. The second return reports whether the caller owns the
// resolution for a freshly inserted entry.
func (c *StreamCache) beginResolve(track *Track) (*cacheEntry, bool) {
	key := track.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		return entry, false
	}

	entry := &cacheEntry{key: key, done: make(chan struct{})}
	c.entries[key] = entry
	c.order = append(c.order, key)
	c.evictLocked()
	return entry, true
}

// settle completes an in-flight entry. Failures are never cached: the entry
// is removed so the next request starts over.
func (c *StreamCache) settle(entry *cacheEntry, address string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		entry.err = err
		if cur, ok := c.entries[entry.key]; ok && cur == entry {
			delete(c.entries, entry.key)
			c.removeFromOrderLocked(entry.key)
		}
	} else {
		entry.address = address
		entry.resolved = true
	}
	close(entry.done)
}

func (c *StreamCache) evictLocked() {
	for len(c.entries) > c.limit && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			sys.LogCache("Evicted oldest entry %s (over %d)", oldest, c.limit)
		}
	}
}

func (c *StreamCache) removeFromOrderLocked(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// ClearGuild is the per-guild invalidation hook. Entries are keyed by
// (platform, address) and shared across guilds, so dropping them for one
// guild would discard work another guild may still want. This logs and keeps
// everything; eviction bounds the memory.
func (c *StreamCache) ClearGuild(guildID snowflake.ID) {
	c.mu.Lock()
	total := len(c.entries)
	c.mu.Unlock()
	sys.LogCache("ClearGuild %s: keeping %d shared entries", guildID, total)
}

func (c *StreamCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{Total: len(c.entries)}
	for _, entry := range c.entries {
		if entry.resolved {
			stats.Resolved++
		} else {
			stats.Pending++
		}
	}
	return stats
}

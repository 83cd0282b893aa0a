package proc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spotifyTrack(title string) *Track {
	return &Track{
		Title:    title,
		Address:  "https://open.spotify.com/track/" + title,
		Platform: PlatformSpotify,
	}
}

func TestStreamCache_NativeBypass(t *testing.T) {
	var calls atomic.Int32
	c := NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
		calls.Add(1)
		return "resolved://" + track.Title, nil
	})
	track := testTrack("native")

	addr, err := c.Resolve(context.Background(), track)

	require.NoError(t, err)
	assert.Equal(t, track.Address, addr)
	assert.Zero(t, calls.Load(), "native platforms never hit the resolver")
	assert.Zero(t, c.Stats().Total)
}

func TestStreamCache_UnknownPlatform(t *testing.T) {
	c := NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
		return "", nil
	})

	_, err := c.Resolve(context.Background(), &Track{Title: "x", Address: "file://x", Platform: PlatformUnknown})

	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestStreamCache_ResolveCachesResult(t *testing.T) {
	var calls atomic.Int32
	c := NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
		calls.Add(1)
		return "resolved://" + track.Title, nil
	})
	track := spotifyTrack("hit")

	first, err := c.Resolve(context.Background(), track)
	require.NoError(t, err)
	second, err := c.Resolve(context.Background(), track)
	require.NoError(t, err)

	assert.Equal(t, "resolved://hit", first)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, c.Stats().Resolved)
}

func TestStreamCache_DedupConcurrentResolve(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
		calls.Add(1)
		<-release
		return "resolved://" + track.Title, nil
	})
	track := spotifyTrack("shared")

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Resolve(context.Background(), track)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, "resolved://shared", results[0])
	assert.Equal(t, results[0], results[1])
	assert.EqualValues(t, 1, calls.Load(), "concurrent callers share one underlying resolution")
}

func TestStreamCache_SharedFailureRetriesFresh(t *testing.T) {
	var calls atomic.Int32
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	c := NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
		if calls.Add(1) == 1 {
			close(firstStarted)
			<-releaseFirst
			return "", errors.New("backend hiccup")
		}
		return "resolved://fresh", nil
	})
	track := spotifyTrack("flaky")

	ownerErr := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), track)
		ownerErr <- err
	}()
	<-firstStarted

	waiterDone := make(chan struct{})
	var waiterAddr string
	var waiterErr error
	go func() {
		waiterAddr, waiterErr = c.Resolve(context.Background(), track)
		close(waiterDone)
	}()
	time.Sleep(50 * time.Millisecond)
	close(releaseFirst)

	assert.Error(t, <-ownerErr)
	<-waiterDone
	require.NoError(t, waiterErr, "awaiting caller retries fresh instead of inheriting the shared failure")
	assert.Equal(t, "resolved://fresh", waiterAddr)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 1, c.Stats().Resolved, "the fresh result is cached, the failure is not")
}

func TestStreamCache_ResolveContextCanceled(t *testing.T) {
	release := make(chan struct{})
	c := NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
		<-release
		return "resolved://slow", nil
	})
	defer close(release)
	track := spotifyTrack("slow")

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = c.Resolve(context.Background(), track)
	}()
	<-started
	assert.Eventually(t, func() bool { return c.Stats().Pending == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Resolve(ctx, track)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamCache_EvictionOldestFirst(t *testing.T) {
	var calls atomic.Int32
	c := NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
		calls.Add(1)
		return "resolved://" + track.Title, nil
	})

	for i := range 51 {
		_, err := c.Resolve(context.Background(), spotifyTrack(fmt.Sprintf("t%02d", i)))
		require.NoError(t, err)
	}

	assert.Equal(t, 50, c.Stats().Total, "cache settles back at the limit")
	assert.EqualValues(t, 51, calls.Load())

	// t00 was the oldest insert and got evicted; resolving it hits the
	// backend again.
	_, err := c.Resolve(context.Background(), spotifyTrack("t00"))
	require.NoError(t, err)
	assert.EqualValues(t, 52, calls.Load())

	// A younger entry survived.
	_, err = c.Resolve(context.Background(), spotifyTrack("t05"))
	require.NoError(t, err)
	assert.EqualValues(t, 52, calls.Load())
}

func TestStreamCache_ScheduleLookaheadWindow(t *testing.T) {
	var mu sync.Mutex
	var resolved []string
	c := NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
		mu.Lock()
		resolved = append(resolved, track.Title)
		mu.Unlock()
		return "resolved://" + track.Title, nil
	})
	tracks := []*Track{
		spotifyTrack("current"),
		spotifyTrack("s1"),
		spotifyTrack("s2"),
		spotifyTrack("s3"),
	}

	c.ScheduleLookahead(tracks, 0, snowflake.ID(1))
	c.ScheduleLookahead(tracks, 0, snowflake.ID(1))

	assert.Eventually(t, func() bool { return c.Stats().Resolved == 2 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"s1", "s2"}, resolved, "only the next two tracks get prebuffered, once each")
}

func TestStreamCache_ScheduleLookaheadSkipsNative(t *testing.T) {
	var calls atomic.Int32
	c := NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
		calls.Add(1)
		return "resolved://" + track.Title, nil
	})
	tracks := []*Track{
		spotifyTrack("current"),
		testTrack("native"),
		spotifyTrack("indirect"),
	}

	c.ScheduleLookahead(tracks, 0, snowflake.ID(1))

	assert.Eventually(t, func() bool { return c.Stats().Resolved == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestStreamCache_LookaheadFailureDropsEntry(t *testing.T) {
	c := NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
		return "", errors.New("no match")
	})
	tracks := []*Track{spotifyTrack("current"), spotifyTrack("bad")}

	c.ScheduleLookahead(tracks, 0, snowflake.ID(1))

	assert.Eventually(t, func() bool { return c.Stats().Total == 0 }, time.Second, 5*time.Millisecond,
		"failed lookups must not stay cached")
}

func TestStreamCache_ClearGuildKeepsSharedEntries(t *testing.T) {
	c := NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
		return "resolved://" + track.Title, nil
	})
	_, err := c.Resolve(context.Background(), spotifyTrack("kept"))
	require.NoError(t, err)

	c.ClearGuild(snowflake.ID(1))

	assert.Equal(t, 1, c.Stats().Total, "entries are shared across guilds and survive a guild clear")
}

func TestStreamCache_Stats(t *testing.T) {
	release := make(chan struct{})
	c := NewStreamCache(50, func(ctx context.Context, track *Track) (string, error) {
		if track.Title == "slow" {
			<-release
		}
		return "resolved://" + track.Title, nil
	})

	_, err := c.Resolve(context.Background(), spotifyTrack("fast"))
	require.NoError(t, err)

	go func() {
		_, _ = c.Resolve(context.Background(), spotifyTrack("slow"))
	}()
	assert.Eventually(t, func() bool { return c.Stats().Pending == 1 }, time.Second, 5*time.Millisecond)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Pending)

	close(release)
	assert.Eventually(t, func() bool { return c.Stats().Resolved == 2 }, time.Second, 5*time.Millisecond)
}

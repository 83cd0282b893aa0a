package proc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVideoID(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"watch param", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"watch param mid query", "https://www.youtube.com/watch?foo=1&v=dQw4w9WgXcQ&list=PL1", "dQw4w9WgXcQ"},
		{"music host", "https://music.youtube.com/watch?v=abc123", "abc123"},
		{"id param", "https://example.com/play?id=track42", "track42"},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"short link with query", "https://youtu.be/dQw4w9WgXcQ?t=10", "dQw4w9WgXcQ"},
		{"shorts", "https://www.youtube.com/shorts/abc123", "abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractVideoID(tc.url))
		})
	}
}

func TestCanonicalYouTubeURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"short link", "https://youtu.be/dQw4w9WgXcQ?si=share", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"shorts", "https://www.youtube.com/shorts/dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"playlist params stripped", "https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL1&index=3", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"music host folded in", "https://music.youtube.com/watch?v=dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"unextractable left alone", "https://youtu.be/", "https://youtu.be/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, canonicalYouTubeURL(tc.url))
		})
	}
}

func TestExtractVideoIDFallsBackToHash(t *testing.T) {
	// No recognizable ID shape hashes the whole input.
	id := extractVideoID("https://example.com/stream/audio.webm")
	assert.Len(t, id, 32)
	assert.Equal(t, id, extractVideoID("https://example.com/stream/audio.webm"), "hash is stable")

	// Implausibly long captures are treated as garbage too.
	long := "https://youtu.be/" + strings.Repeat("x", 60)
	assert.Len(t, extractVideoID(long), 32)

	// A bare short-link prefix captures nothing.
	assert.Len(t, extractVideoID("https://youtu.be/"), 32)
}

func TestResolverSearchEmptyQuery(t *testing.T) {
	r := NewResolver("")

	results, err := r.Search(context.Background(), "   ")

	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestResolverSearchServesCachedResults(t *testing.T) {
	r := NewResolver("")
	cached := []*Track{{Title: "hit", Address: "https://www.youtube.com/watch?v=hit", Platform: PlatformYouTube}}
	r.cacheMu.Lock()
	r.searchCache["query"] = cachedSearch{results: cached, expiresAt: time.Now().Add(time.Hour)}
	r.cacheMu.Unlock()

	results, err := r.Search(context.Background(), "query")

	require.NoError(t, err)
	assert.Equal(t, cached, results, "a fresh cache entry short-circuits the backends")
}

func TestResolveAddressUnsupportedPlatform(t *testing.T) {
	r := NewResolver("")

	_, err := r.ResolveAddress(context.Background(), &Track{Address: "file://x", Platform: PlatformUnknown})

	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestResolveAddressYouTubePassthrough(t *testing.T) {
	r := NewResolver("")
	track := &Track{Address: "https://www.youtube.com/watch?v=abc", Platform: PlatformYouTube}

	addr, err := r.ResolveAddress(context.Background(), track)

	require.NoError(t, err)
	assert.Equal(t, track.Address, addr)
}

package proc

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Platform identifies where a track's source address points.
type Platform string

const (
	PlatformYouTube    Platform = "youtube"
	PlatformSpotify    Platform = "spotify"
	PlatformSoundCloud Platform = "soundcloud"
	PlatformUnknown    Platform = "unknown"
)

// NeedsResolution reports whether the platform requires a lookup step before
// its address is streamable. YouTube addresses feed the audio engine directly.
func (p Platform) NeedsResolution() bool {
	switch p {
	case PlatformSpotify, PlatformSoundCloud:
		return true
	default:
		return false
	}
}

func (p Platform) String() string {
	return string(p)
}

// Track is one queued item. Address holds the platform page URL for tracks
// that still need resolution and the playable URL for native ones.
type Track struct {
	Title       string
	Artist      string
	Address     string
	Duration    time.Duration
	ArtworkURL  string
	RequestedBy snowflake.ID
	Platform    Platform
}

// Fingerprint is the cache key for a track: platform and address only, so the
// same underlying track shares one entry across guilds.
func (t *Track) Fingerprint() string {
	hash := sha256.Sum256([]byte(string(t.Platform) + "\x00" + t.Address))
	return hex.EncodeToString(hash[:])[:16]
}

// Display renders the track for messages, markdown-bold title with the artist
// tacked on when known.
func (t *Track) Display() string {
	title := t.Title
	if title == "" {
		title = t.Address
	}
	if t.Artist == "" {
		return "**" + title + "**"
	}
	return "**" + title + "** · " + t.Artist
}

// IsURL reports whether the query is a pasted link rather than a search term.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// DetectPlatform classifies a pasted URL by host.
func DetectPlatform(rawURL string) Platform {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return PlatformUnknown
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")

	switch {
	case host == "youtube.com" || host == "m.youtube.com" || host == "music.youtube.com" || host == "youtu.be":
		return PlatformYouTube
	case host == "open.spotify.com" || host == "spotify.com":
		return PlatformSpotify
	case host == "soundcloud.com" || host == "m.soundcloud.com" || host == "on.soundcloud.com":
		return PlatformSoundCloud
	default:
		return PlatformUnknown
	}
}

package proc

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
	"golang.org/x/time/rate"

	"github.com/leeineian/reprise/sys"
)

var (
	ErrResolveFailed       = errors.New("stream resolution failed")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

const maxSearchResults = 25

var (
	videoIDRegex = regexp.MustCompile(`(?:\?|&)v=([^&]+)`)
	rawIDRegex   = regexp.MustCompile(`(?:\?|&)id=([^&]+)`)

	ogTitleRegex = regexp.MustCompile(`<meta[^>]*property=["']og:title["'][^>]*content=["']([^"']+)["']`)
	ogDescRegex  = regexp.MustCompile(`<meta[^>]*property=["']og:description["'][^>]*content=["']([^"']+)["']`)

	jsOnce       sync.Once
	cachedJSArgs []string
)

type cachedSearch struct {
	results   []*Track
	expiresAt time.Time
}

// Resolver is the platform lookup layer: text search across the YouTube
// backends, metadata probes for pasted URLs, and the indirect-platform
// resolution step that turns a Spotify or SoundCloud page into a playable
// address. All external calls go through one rate limiter.
type Resolver struct {
	limiter *rate.Limiter
	client  *http.Client
	proxy   string

	cacheMu     sync.RWMutex
	searchCache map[string]cachedSearch
}

func NewResolver(proxy string) *Resolver {
	return &Resolver{
		limiter:     rate.NewLimiter(rate.Limit(4), 10),
		client:      &http.Client{Timeout: 10 * time.Second},
		proxy:       proxy,
		searchCache: make(map[string]cachedSearch),
	}
}

// Search runs the YouTube Music and plain YouTube legs in parallel,
// deduplicates by video ID and caps the merged list. Results are cached for
// an hour since autocomplete replays the same queries keystroke by keystroke.
func (r *Resolver) Search(ctx context.Context, q string) ([]*Track, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}

	r.cacheMu.RLock()
	if item, ok := r.searchCache[q]; ok && time.Now().Before(item.expiresAt) {
		r.cacheMu.RUnlock()
		return item.results, nil
	}
	r.cacheMu.RUnlock()

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, 2600*time.Millisecond)
	defer cancel()

	resMu := sync.Mutex{}
	var ytm, yt []*Track
	seen := make(map[string]bool)
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		s := ytmusic.TrackSearch(q)
		res, _ := s.Next()
		if res == nil {
			return
		}
		for _, v := range res.Tracks {
			if v.VideoID == "" {
				continue
			}
			artist := ""
			if len(v.Artists) > 0 {
				artist = v.Artists[0].Name
			}
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				ytm = append(ytm, &Track{
					Title:    v.Title,
					Artist:   artist,
					Address:  "https://music.youtube.com/watch?v=" + v.VideoID,
					Platform: PlatformYouTube,
				})
			}
			resMu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		c := ytsearch.NewClient(nil)
		res, _ := c.Search(sctx, q)
		if res == nil {
			return
		}
		for _, v := range res.Results {
			if v.VideoID == "" {
				continue
			}
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				yt = append(yt, &Track{
					Title:    v.Title,
					Address:  "https://www.youtube.com/watch?v=" + v.VideoID,
					Platform: PlatformYouTube,
				})
			}
			resMu.Unlock()
		}
	}()
	d := make(chan struct{})
	go func() {
		wg.Wait()
		close(d)
	}()
	select {
	case <-d:
	case <-time.After(2300 * time.Millisecond):
	}

	resMu.Lock()
	defer resMu.Unlock()
	fin := append(append([]*Track(nil), ytm...), yt...)
	if len(fin) > maxSearchResults {
		fin = fin[:maxSearchResults]
	}

	if len(fin) > 0 {
		r.cacheMu.Lock()
		r.searchCache[q] = cachedSearch{results: fin, expiresAt: time.Now().Add(1 * time.Hour)}
		r.cacheMu.Unlock()
	}

	return fin, nil
}

// ResolveAddress turns an indirect track into a directly streamable address.
// This is the cache's ResolveFunc.
func (r *Resolver) ResolveAddress(ctx context.Context, track *Track) (string, error) {
	switch track.Platform {
	case PlatformYouTube:
		return track.Address, nil
	case PlatformSpotify:
		address, err := r.resolveSpotify(ctx, track)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrResolveFailed, err)
		}
		return address, nil
	case PlatformSoundCloud:
		address, err := r.resolveSoundCloud(ctx, track)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrResolveFailed, err)
		}
		return address, nil
	default:
		return "", ErrUnsupportedPlatform
	}
}

// resolveSpotify scrapes the track page's og: metadata, then matches the
// title/artist pair on YouTube Music. Spotify streams are DRM-protected so
// the page itself is never the source, only the lookup key.
func (r *Resolver) resolveSpotify(ctx context.Context, track *Track) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	title, artist := track.Title, track.Artist
	if title == "" {
		var err error
		title, artist, err = r.scrapeTrackPage(ctx, track.Address)
		if err != nil {
			return "", err
		}
	}

	query := strings.TrimSpace(title + " " + artist)
	s := ytmusic.TrackSearch(query)
	res, err := s.Next()
	if err != nil {
		return "", err
	}
	for _, v := range res.Tracks {
		if v.VideoID != "" {
			sys.LogResolver("Matched %q to YouTube Music (%s)", query, v.VideoID)
			return "https://music.youtube.com/watch?v=" + v.VideoID, nil
		}
	}
	return "", fmt.Errorf("no youtube music match for %q", query)
}

// resolveSoundCloud asks yt-dlp for the direct media URL of the page.
func (r *Resolver) resolveSoundCloud(ctx context.Context, track *Track) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	cmd, cleanup := newYtdlp(r.proxy)
	defer cleanup()

	args := append(buildYtdlpArgs(), "--skip-download")
	res, err := cmd.
		Format("bestaudio/best").
		Print("%(url)s").
		NoSimulate().
		IgnoreConfig().
		Run(ctx, append(args, track.Address)...)
	if err != nil {
		return "", err
	}

	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		u := strings.TrimSpace(l)
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			return u, nil
		}
	}
	return "", errors.New("yt-dlp returned no stream url")
}

// scrapeTrackPage pulls og:title and og:description from the head of a track
// page. Spotify puts "Artist · Song · Year" in the description.
func (r *Resolver) scrapeTrackPage(ctx context.Context, pageURL string) (title, artist string, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body := new(strings.Builder)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Split(bufio.ScanLines)
	linesRead := 0
	for scanner.Scan() && linesRead < 500 {
		body.WriteString(scanner.Text())
		body.WriteString(" ")
		linesRead++
		if strings.Contains(scanner.Text(), "</head>") {
			break
		}
	}

	htmlContent := body.String()

	if matches := ogTitleRegex.FindStringSubmatch(htmlContent); len(matches) > 1 {
		title = matches[1]
		if idx := strings.Index(title, " - song and lyrics by"); idx != -1 {
			title = title[:idx]
		}
		if idx := strings.Index(title, " | Spotify"); idx != -1 {
			title = title[:idx]
		}
	}

	if matches := ogDescRegex.FindStringSubmatch(htmlContent); len(matches) > 1 {
		parts := strings.Split(matches[1], " · ")
		if len(parts) >= 1 {
			artist = strings.TrimSpace(parts[0])
		}
	}

	if title == "" {
		return "", "", errors.New("could not extract metadata")
	}

	return title, artist, nil
}

// ResolveMetadata builds a Track from a pasted URL. YouTube and SoundCloud
// pages are probed through yt-dlp; Spotify pages are scraped since yt-dlp
// refuses DRM sources.
func (r *Resolver) ResolveMetadata(ctx context.Context, rawURL string, requestedBy snowflake.ID) (*Track, error) {
	platform := DetectPlatform(rawURL)
	if platform == PlatformUnknown {
		return nil, ErrUnsupportedPlatform
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if platform == PlatformSpotify {
		title, artist, err := r.scrapeTrackPage(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
		}
		return &Track{
			Title:       title,
			Artist:      artist,
			Address:     rawURL,
			RequestedBy: requestedBy,
			Platform:    platform,
		}, nil
	}

	cmd, cleanup := newYtdlp(r.proxy)
	defer cleanup()

	args := append(buildYtdlpArgs(), "--skip-download")
	res, err := cmd.
		Print("%(title)s\t%(uploader)s\t%(duration)s\t%(thumbnail)s").
		NoSimulate().
		IgnoreConfig().
		NoWarnings().
		Run(ctx, append(args, rawURL)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}

	address := rawURL
	if platform == PlatformYouTube {
		address = canonicalYouTubeURL(rawURL)
	}

	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(l, "\t")
		if len(ps) < 3 {
			continue
		}
		d, _ := time.ParseDuration(ps[2] + "s")
		t := &Track{
			Title:       ps[0],
			Artist:      ps[1],
			Address:     address,
			Duration:    d,
			RequestedBy: requestedBy,
			Platform:    platform,
		}
		if len(ps) >= 4 && strings.HasPrefix(ps[3], "http") {
			t.ArtworkURL = ps[3]
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: no metadata for %s", ErrResolveFailed, rawURL)
}

func newYtdlp(proxy string) (*ytdlp.Command, func()) {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings()

	if proxy != "" {
		cmd.Proxy(proxy)
	}

	return cmd, func() {}
}

// buildYtdlpArgs returns common args for yt-dlp commands
func buildYtdlpArgs() []string {
	jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				cachedJSArgs = append(cachedJSArgs, "--js-runtimes", rt+":"+path)
				break
			}
		}
	})

	args := append([]string(nil), cachedJSArgs...)
	args = append(args,
		"--no-playlist",
		"--no-check-certificates",
		"--no-warnings",
		"--extractor-args", "youtube:player_client=android,web",
		"--prefer-free-formats",
		"--socket-timeout", "30",
		"--retries", "20",
		"--fragment-retries", "20",
	)
	return args
}

// canonicalYouTubeURL rewrites youtu.be, shorts and parameter-laden links to
// the plain watch form so the queue, history and cache see one address per
// video. Real video IDs are 11 characters; anything else means extraction
// fell back to hashing and the URL is left alone.
func canonicalYouTubeURL(rawURL string) string {
	if id := extractVideoID(rawURL); len(id) == 11 {
		return "https://www.youtube.com/watch?v=" + id
	}
	return rawURL
}

// extractVideoID extracts the video ID from a YouTube-related URL.
func extractVideoID(u string) string {
	id := ""
	if matches := videoIDRegex.FindStringSubmatch(u); len(matches) > 1 {
		id = matches[1]
	} else if matches := rawIDRegex.FindStringSubmatch(u); len(matches) > 1 {
		id = matches[1]
	} else if strings.Contains(u, "youtu.be/") {
		parts := strings.Split(u, "youtu.be/")
		if len(parts) >= 2 {
			vidParts := strings.Split(parts[1], "?")
			if len(vidParts) > 0 {
				id = vidParts[0]
			}
		}
	} else if strings.Contains(u, "shorts/") {
		parts := strings.Split(u, "shorts/")
		if len(parts) >= 2 {
			vidParts := strings.Split(parts[1], "?")
			if len(vidParts) > 0 {
				id = vidParts[0]
			}
		}
	}

	if id == "" || len(id) > 50 {
		hash := sha256.Sum256([]byte(u))
		return hex.EncodeToString(hash[:16])
	}
	return id
}

package proc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/reprise/sys"
)

// PlayerStatus is the live state of one guild's audio player.
type PlayerStatus int32

const (
	StatusIdle PlayerStatus = iota
	StatusLoading
	StatusPlaying
	StatusPaused
)

func (s PlayerStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

type PlayerEventType int

const (
	// EventStateChange reports a status transition, logged but not acted on.
	EventStateChange PlayerEventType = iota
	// EventIdle means the current stream drained to its natural end.
	EventIdle
	// EventError means the stream died mid-play and needs recovery.
	EventError
)

// PlayerEvent is what an AudioPlayer reports back to its session loop.
type PlayerEvent struct {
	Type   PlayerEventType
	Status PlayerStatus
	Err    error
}

// AudioPlayer streams one address at a time into a voice connection. Play
// replaces whatever was streaming before. Events for the natural end of a
// stream or a mid-stream failure arrive on the channel given at creation;
// a stream cut short by Play, Stop or Close reports nothing.
type AudioPlayer interface {
	Play(ctx context.Context, address string, gain float64) error
	Pause() bool
	Unpause() bool
	Stop()
	Status() PlayerStatus
	SetGain(gain float64)
	Close()
}

// AudioSystem builds players. The production system transcodes through
// ffmpeg; tests substitute their own.
type AudioSystem interface {
	CreatePlayer(guildID snowflake.ID, conn voice.Conn, events chan<- PlayerEvent) AudioPlayer
}

// TranscodeSystem is the production AudioSystem: yt-dlp or direct HTTP in,
// libopus frames out.
type TranscodeSystem struct {
	proxy string
}

func NewTranscodeSystem(proxy string) *TranscodeSystem {
	return &TranscodeSystem{proxy: proxy}
}

func (a *TranscodeSystem) CreatePlayer(guildID snowflake.ID, conn voice.Conn, events chan<- PlayerEvent) AudioPlayer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &transcodePlayer{
		guildID:    guildID,
		conn:       conn,
		events:     events,
		proxy:      a.proxy,
		lifeCtx:    ctx,
		lifeCancel: cancel,
	}
	p.gain.Store(100)
	p.pauseChan = make(chan struct{})
	close(p.pauseChan)
	return p
}

type transcodePlayer struct {
	guildID snowflake.ID
	conn    voice.Conn
	events  chan<- PlayerEvent
	proxy   string

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu           sync.Mutex
	streamCancel context.CancelFunc

	// pauseChan is closed while unpaused; Pause swaps in a fresh open
	// channel that the provider blocks on until Unpause closes it.
	pauseMu   sync.RWMutex
	pauseChan chan struct{}

	status atomic.Int32
	gain   atomic.Int32
	closed atomic.Bool
}

// Play opens the address, wires up decoder and encoder synchronously so
// construction failures surface to the caller, then streams in the
// background.
func (p *transcodePlayer) Play(ctx context.Context, address string, gain float64) error {
	if p.closed.Load() {
		return errors.New("player closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.streamCancel != nil {
		p.streamCancel()
	}
	streamCtx, cancel := context.WithCancel(p.lifeCtx)
	p.streamCancel = cancel
	p.mu.Unlock()

	p.SetGain(gain)
	p.setStatus(StatusLoading)

	t := NewAstiavTranscoder()
	t.gain = &p.gain

	var err error
	if DetectPlatform(address) == PlatformYouTube {
		pr, pw := io.Pipe()
		sys.SafeGo(func() {
			pw.CloseWithError(streamYtdlp(streamCtx, p.proxy, address, pw))
		})
		err = t.OpenInput("", pr)
	} else {
		err = t.OpenInput(address, nil)
	}
	if err == nil {
		err = t.SetupDecoder()
	}
	if err == nil {
		err = t.SetupEncoder()
	}
	if err != nil {
		t.Close()
		cancel()
		p.setStatus(StatusIdle)
		return err
	}

	provider := NewStreamProvider(streamCtx, p)
	done := make(chan struct{})
	provider.OnFinish = func() { close(done) }

	sys.SafeGo(func() {
		err := t.Transcode(streamCtx, provider.PushFrame)
		t.Close()
		if err != nil && streamCtx.Err() == nil {
			cancel()
			p.setStatus(StatusIdle)
			p.emit(PlayerEvent{Type: EventError, Status: StatusIdle, Err: err})
			return
		}
		provider.PushFrame(nil)
	})

	sys.SafeGo(func() {
		select {
		case <-done:
			if streamCtx.Err() != nil {
				return
			}
			p.setStatus(StatusIdle)
			p.emit(PlayerEvent{Type: EventIdle, Status: StatusIdle})
		case <-streamCtx.Done():
		}
	})

	p.setProviderSafe(provider)
	p.setSpeakingSafe(voice.SpeakingFlagMicrophone)
	p.setStatus(StatusPlaying)
	return nil
}

func (p *transcodePlayer) Pause() bool {
	if !p.status.CompareAndSwap(int32(StatusPlaying), int32(StatusPaused)) {
		return false
	}
	p.pauseMu.Lock()
	p.pauseChan = make(chan struct{})
	p.pauseMu.Unlock()
	p.emit(PlayerEvent{Type: EventStateChange, Status: StatusPaused})
	return true
}

func (p *transcodePlayer) Unpause() bool {
	if !p.status.CompareAndSwap(int32(StatusPaused), int32(StatusPlaying)) {
		return false
	}
	p.unpause()
	p.emit(PlayerEvent{Type: EventStateChange, Status: StatusPlaying})
	return true
}

// Stop cuts the current stream without reporting an event.
func (p *transcodePlayer) Stop() {
	p.mu.Lock()
	cancel := p.streamCancel
	p.streamCancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	p.unpause()
	p.status.Store(int32(StatusIdle))
	p.setProviderSafe(nil)
	p.setSpeakingSafe(0)
}

func (p *transcodePlayer) Status() PlayerStatus {
	return PlayerStatus(p.status.Load())
}

func (p *transcodePlayer) SetGain(gain float64) {
	p.gain.Store(int32(clampVolume(gain)*100 + 0.5))
}

func (p *transcodePlayer) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.Stop()
	p.lifeCancel()
}

func (p *transcodePlayer) setStatus(s PlayerStatus) {
	p.status.Store(int32(s))
	p.emit(PlayerEvent{Type: EventStateChange, Status: s})
}

func (p *transcodePlayer) emit(ev PlayerEvent) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- ev:
	default:
		sys.LogPlayer("Guild %s: player event buffer full, dropped %v", p.guildID, ev.Type)
	}
}

// pauseGate returns the channel the provider must wait on before handing out
// the next frame.
func (p *transcodePlayer) pauseGate() <-chan struct{} {
	p.pauseMu.RLock()
	ch := p.pauseChan
	p.pauseMu.RUnlock()
	return ch
}

func (p *transcodePlayer) unpause() {
	p.pauseMu.Lock()
	select {
	case <-p.pauseChan:
	default:
		close(p.pauseChan)
	}
	p.pauseMu.Unlock()
}

// setProviderSafe sets the opus frame provider, recovering from any potential
// panics while the gateway reconnects underneath us.
func (p *transcodePlayer) setProviderSafe(provider voice.OpusFrameProvider) {
	if p.conn == nil || (reflect.ValueOf(p.conn).Kind() == reflect.Ptr && reflect.ValueOf(p.conn).IsNil()) {
		return
	}
	for i := range 3 {
		if p.trySetProvider(provider) {
			return
		}
		if i < 2 {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-p.lifeCtx.Done():
				return
			}
		}
	}
	sys.LogPlayer("Exhausted retries for SetOpusFrameProvider in guild %s", p.guildID)
}

func (p *transcodePlayer) trySetProvider(provider voice.OpusFrameProvider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	p.conn.SetOpusFrameProvider(provider)
	return true
}

func (p *transcodePlayer) setSpeakingSafe(flags voice.SpeakingFlags) {
	if p.conn == nil || (reflect.ValueOf(p.conn).Kind() == reflect.Ptr && reflect.ValueOf(p.conn).IsNil()) {
		return
	}
	for i := range 3 {
		if p.trySetSpeaking(flags) {
			return
		}
		if i < 2 {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-p.lifeCtx.Done():
				return
			}
		}
	}
	sys.LogPlayer("Exhausted retries for SetSpeaking in guild %s", p.guildID)
}

func (p *transcodePlayer) trySetSpeaking(flags voice.SpeakingFlags) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	p.conn.SetSpeaking(p.lifeCtx, flags)
	return true
}

// streamYtdlp pipes the best audio-only format of u into out. Broken pipes
// and kills from a canceled context are a normal stop, not a failure.
func streamYtdlp(ctx context.Context, proxy, u string, out io.Writer) error {
	u = strings.Replace(u, "music.youtube.com", "www.youtube.com", 1)

	cmd, cleanup := newYtdlp(proxy)
	defer cleanup()

	args := append(buildYtdlpArgs(), "--ignore-config")
	execCmd := cmd.
		Format("bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best").
		Output("-").
		NoSimulate().
		NoPart().
		NoPlaylist().
		NoCheckCertificates().
		BuildCommand(ctx, append(args, u)...)

	execCmd.Stdout = out
	execCmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	if proxy != "" {
		execCmd.Env = append(execCmd.Env, "http_proxy="+proxy, "https_proxy="+proxy, "all_proxy="+proxy)
	}
	execCmd.WaitDelay = 0

	var stderr bytes.Buffer
	execCmd.Stderr = &stderr

	if err := execCmd.Start(); err != nil {
		return err
	}

	if err := execCmd.Wait(); err != nil {
		msg := strings.ToLower(err.Error() + stderr.String())
		if strings.Contains(msg, "broken pipe") || strings.Contains(msg, "signal: killed") {
			return nil
		}
		sys.LogPlayer("yt-dlp stream failed: %v, stderr: %s", err, stderr.String())
		return err
	}

	return nil
}

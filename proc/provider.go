package proc

import (
	"context"
	"io"
	"sync"
	"time"
)

// OpusSilence is the opus frame sent to keep the voice connection fed while
// idle or draining.
var OpusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceDuration is how much silence is appended after the last real frame
// so Discord's jitter buffer plays the track tail in full.
const SilenceDuration = 1 * time.Second

// StreamProvider buffers encoded opus frames between the transcoder and the
// voice gateway. It implements disgo's OpusFrameProvider.
type StreamProvider struct {
	frames        chan []byte
	OnFinish      func()
	once          sync.Once
	player        *transcodePlayer
	ctx           context.Context
	frameCount    int64
	draining      bool
	silenceFrames int64
}

func NewStreamProvider(ctx context.Context, player *transcodePlayer) *StreamProvider {
	return &StreamProvider{
		frames: make(chan []byte, 100),
		player: player,
		ctx:    ctx,
	}
}

// PushFrame hands one encoded frame to the provider. A nil frame marks the
// end of the stream and starts the silence drain.
func (p *StreamProvider) PushFrame(frame []byte) {
	select {
	case p.frames <- frame:
	case <-p.ctx.Done():
	}
}

func (p *StreamProvider) ProvideOpusFrame() ([]byte, error) {
	pause := p.player.pauseGate()
	select {
	case <-pause:
	case <-p.ctx.Done():
		p.Close()
		return nil, io.EOF
	}

	if p.draining {
		if p.silenceFrames >= SilenceDuration.Milliseconds()/20 {
			p.Close()
			return nil, io.EOF
		}
		p.silenceFrames++
		return OpusSilence, nil
	}

	select {
	case frame := <-p.frames:
		if frame == nil {
			p.draining = true
			p.silenceFrames++
			return OpusSilence, nil
		}
		p.frameCount++
		return frame, nil
	case <-p.ctx.Done():
		p.Close()
		return nil, io.EOF
	case <-time.After(500 * time.Millisecond):
		// Keep the connection alive while the transcoder catches up.
		return OpusSilence, nil
	}
}

func (p *StreamProvider) Close() {
	p.once.Do(func() {
		if p.OnFinish != nil {
			p.OnFinish()
		}
	})
}

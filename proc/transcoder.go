package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/asticode/go-astiav"

	"github.com/leeineian/reprise/sys"
)

// AstiavTranscoder decodes an input stream, resamples to 48kHz stereo s16 and
// encodes 20ms libopus frames. Gain is applied per sample from the shared
// atomic so volume changes take effect mid-stream.
type AstiavTranscoder struct {
	inputCtx               *astiav.FormatContext
	decoderCtx, encoderCtx *astiav.CodecContext
	audioStreamIndex       int
	packet                 *astiav.Packet
	frame                  *astiav.Frame
	resampleCtx            *astiav.SoftwareResampleContext
	resampleFrame          *astiav.Frame
	fifo                   *astiav.AudioFifo
	reader                 io.Reader
	onFrame                func([]byte)
	pts                    int64
	gain                   *atomic.Int32
	frameCount             int64
}

func NewAstiavTranscoder() *AstiavTranscoder {
	return &AstiavTranscoder{
		packet:        astiav.AllocPacket(),
		frame:         astiav.AllocFrame(),
		resampleFrame: astiav.AllocFrame(),
	}
}

func (t *AstiavTranscoder) OpenInput(in string, r io.Reader) error {
	t.inputCtx = astiav.AllocFormatContext()
	if t.inputCtx == nil {
		return errors.New("failed to alloc ctx")
	}
	if r != nil {
		t.reader = r
		seekFunc := func(offset int64, whence int) (int64, error) {
			if whence == 2 {
				return -1, errors.New("seeking from end not supported during download")
			}
			if s, ok := r.(io.Seeker); ok {
				return s.Seek(offset, whence)
			}
			return 0, errors.New("seek not supported")
		}

		ioCtx, err := astiav.AllocIOContext(16*1024, false, func(b []byte) (int, error) {
			return t.reader.Read(b)
		}, seekFunc, nil)
		if err != nil {
			return err
		}
		t.inputCtx.SetPb(ioCtx)
		t.inputCtx.SetFlags(t.inputCtx.Flags().Add(astiav.FormatContextFlagCustomIo))

		opts := astiav.NewDictionary()
		defer opts.Free()
		opts.Set("probesize", "10000000", 0)
		opts.Set("analyzeduration", "10000000", 0)
		opts.Set("fflags", "nobuffer", 0)
		opts.Set("flags", "low_delay", 0)

		if err := t.inputCtx.OpenInput(in, nil, opts); err != nil {
			return err
		}
	} else {
		var opts *astiav.Dictionary
		if strings.HasPrefix(in, "http") {
			opts = astiav.NewDictionary()
			defer opts.Free()
			opts.Set("reconnect", "1", 0)
			opts.Set("reconnect_at_eof", "1", 0)
			opts.Set("reconnect_streamed", "1", 0)
			opts.Set("reconnect_delay_max", "30", 0)
			opts.Set("timeout", "30000000", 0)
			opts.Set("probesize", "10000000", 0)
			opts.Set("analyzeduration", "10000000", 0)
		}
		if err := t.inputCtx.OpenInput(in, nil, opts); err != nil {
			return err
		}
	}
	if err := t.inputCtx.FindStreamInfo(nil); err != nil {
		return err
	}
	t.audioStreamIndex = -1
	for _, s := range t.inputCtx.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.audioStreamIndex = s.Index()
			break
		}
	}
	if t.audioStreamIndex == -1 {
		return errors.New("no audio")
	}
	return nil
}

func (t *AstiavTranscoder) SetupDecoder() error {
	p := t.inputCtx.Streams()[t.audioStreamIndex].CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return errors.New("no decoder")
	}
	t.decoderCtx = astiav.AllocCodecContext(d)
	_ = p.ToCodecContext(t.decoderCtx)
	return t.decoderCtx.Open(d, nil)
}

func (t *AstiavTranscoder) SetupEncoder() error {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return errors.New("no encoder")
	}
	t.encoderCtx = astiav.AllocCodecContext(e)
	t.encoderCtx.SetBitRate(192000)
	t.encoderCtx.SetSampleRate(48000)
	t.encoderCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoderCtx.SetSampleFormat(astiav.SampleFormatS16)
	t.encoderCtx.SetTimeBase(astiav.NewRational(1, 48000))
	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("compression_level", "10", 0)
	o.Set("frame_size", "20", 0)
	if err := t.encoderCtx.Open(e, o); err != nil {
		return err
	}
	t.resampleCtx = astiav.AllocSoftwareResampleContext()
	if t.resampleCtx == nil {
		return errors.New("failed to allocate resampler")
	}
	return nil
}

func (t *AstiavTranscoder) Transcode(ctx context.Context, on func([]byte)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcoder panic: %v", r)
			sys.LogPlayer("CRITICAL: Transcoder panic recovered: %v", r)
		}
	}()

	defer t.packet.Unref()
	t.onFrame = on

	fifoSize := 960 * 2
	t.fifo = astiav.AllocAudioFifo(t.encoderCtx.SampleFormat(), t.encoderCtx.ChannelLayout().Channels(), fifoSize)
	if t.fifo == nil {
		return errors.New("failed to alloc fifo")
	}
	defer func() {
		if t.fifo != nil {
			t.fifo.Free()
			t.fifo = nil
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t.packet.Unref()

		if err := t.inputCtx.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return err
		}

		if t.packet.StreamIndex() != t.audioStreamIndex {
			continue
		}

		if err := t.decoderCtx.SendPacket(t.packet); err != nil {
			return err
		}

		for {
			if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
				break
			}

			if err := t.pushToFifo(); err != nil {
				return err
			}

			t.frame.Unref()
		}
	}

	// Flush Decoder
	if t.decoderCtx != nil {
		_ = t.decoderCtx.SendPacket(nil)
		for {
			if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
				break
			}
			if err := t.pushToFifo(); err != nil {
				return err
			}
			t.frame.Unref()
		}
	}

	// Clear FIFO
	if err := t.processFifo(true); err != nil {
		return err
	}

	// Flush Encoder
	if t.encoderCtx != nil {
		_ = t.encoderCtx.SendFrame(nil)
		for {
			t.packet.Unref()
			if t.encoderCtx.ReceivePacket(t.packet) != nil {
				break
			}
			if t.onFrame != nil {
				d := t.packet.Data()
				fd := make([]byte, len(d))
				copy(fd, d)
				t.onFrame(fd)
			}
		}
	}
	return nil
}

func (t *AstiavTranscoder) encodeAndWrite(f *astiav.Frame) error {
	if err := t.encoderCtx.SendFrame(f); err != nil {
		return err
	}
	for {
		t.packet.Unref()
		if t.encoderCtx.ReceivePacket(t.packet) != nil {
			break
		}
		if t.onFrame != nil {
			d := t.packet.Data()
			fd := make([]byte, len(d))
			copy(fd, d)
			t.onFrame(fd)
		}
	}
	return nil
}

func (t *AstiavTranscoder) pushToFifo() error {
	t.resampleFrame.Unref()
	t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
	t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
	t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
	nb := int(astiav.RescaleQ(int64(t.frame.NbSamples()), astiav.NewRational(1, t.frame.SampleRate()), astiav.NewRational(1, t.encoderCtx.SampleRate())))
	if nb > 0 {
		t.resampleFrame.SetNbSamples(nb)
		_ = t.resampleFrame.AllocBuffer(0)
		if t.resampleCtx.ConvertFrame(t.frame, t.resampleFrame) == nil {
			_, _ = t.fifo.Write(t.resampleFrame)
			return t.processFifo(false)
		}
	}
	return nil
}

func (t *AstiavTranscoder) processFifo(drain bool) error {
	if t.fifo == nil {
		return nil
	}
	for {
		sz := 960
		if t.fifo.Size() < sz {
			if !drain || t.fifo.Size() == 0 {
				return nil
			}
			sz = t.fifo.Size()
		}
		t.resampleFrame.Unref()
		t.resampleFrame.SetNbSamples(sz)
		t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
		t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
		t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
		_ = t.resampleFrame.AllocBuffer(0)
		_, _ = t.fifo.Read(t.resampleFrame)

		t.frameCount++

		if t.gain != nil {
			g := t.gain.Load()
			if g != 100 {
				data, _ := t.resampleFrame.Data().Bytes(1)
				limit := sz * 4
				if limit > len(data) {
					limit = len(data)
				}
				for i := 0; i < limit; i += 2 {
					sample := int16(data[i]) | int16(data[i+1])<<8
					scaled := int64(sample) * int64(g) / 100
					if scaled > 32767 {
						scaled = 32767
					} else if scaled < -32768 {
						scaled = -32768
					}
					data[i] = byte(scaled)
					data[i+1] = byte(scaled >> 8)
				}
				_ = t.resampleFrame.Data().SetBytes(data, 1)
			}
		}

		t.resampleFrame.SetPts(atomic.LoadInt64(&t.pts))
		atomic.AddInt64(&t.pts, int64(sz))
		if err := t.encodeAndWrite(t.resampleFrame); err != nil {
			return err
		}
	}
}

func (t *AstiavTranscoder) Close() {
	if t.resampleCtx != nil {
		t.resampleCtx.Free()
	}
	if t.resampleFrame != nil {
		t.resampleFrame.Free()
	}
	if t.packet != nil {
		t.packet.Free()
	}
	if t.frame != nil {
		t.frame.Free()
	}
	if t.decoderCtx != nil {
		t.decoderCtx.Free()
	}
	if t.encoderCtx != nil {
		t.encoderCtx.Free()
	}
	if t.inputCtx != nil {
		t.inputCtx.CloseInput()
		t.inputCtx.Free()
	}
}

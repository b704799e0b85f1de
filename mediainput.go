//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/seydx/av-sub008/avcodec"
	"github.com/seydx/av-sub008/avformat"
	"github.com/seydx/av-sub008/avutil"
	"github.com/seydx/av-sub008/internal/bindings"
)

var urlSchemeRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// isURL reports whether target looks like a scheme-qualified URL, per the
// external-interfaces path/URL disambiguation rule.
func isURL(target string) bool { return urlSchemeRe.MatchString(target) }

// resolveInputPath passes URLs through verbatim and resolves bare paths
// against the process working directory.
func resolveInputPath(target string) string {
	if isURL(target) {
		return target
	}
	if filepath.IsAbs(target) {
		return target
	}
	if abs, err := filepath.Abs(target); err == nil {
		return abs
	}
	return target
}

// MediaInput demuxes packets from a URL, file path, or custom I/O target.
type MediaInput struct {
	mu        sync.Mutex
	formatCtx avformat.FormatContext
	ioCtx     *CustomIOContext
	streams   []*Stream
	closed    bool
}

// MediaInputOptions configures how a MediaInput is opened.
type MediaInputOptions struct {
	Format   string // forces the demuxer; auto-detected if empty
	Options  map[string]string
	IO       *IOCallbacks // when set, target is ignored and this drives I/O
	BufSize  int          // custom I/O buffer size, default defaultIOBufferSize (32 KiB)
}

// OpenMediaInput opens target (a path or URL) for demuxing.
func OpenMediaInput(target string, opts *MediaInputOptions) (*MediaInput, error) {
	if err := bindings.Load(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &MediaInputOptions{}
	}

	formatCtx := avformat.AllocContext()
	if formatCtx == nil {
		return nil, ErrOutOfMemory
	}

	mi := &MediaInput{formatCtx: formatCtx}

	var dict *avutil.Dictionary
	if len(opts.Options) > 0 {
		d := avutil.Dictionary(nil)
		for k, v := range opts.Options {
			if err := avutil.DictSet(&d, k, v, 0); err != nil {
				avformat.FreeContext(formatCtx)
				return nil, NewKindedError(ErrorKindConfigInvalid, "mediainput.open", err)
			}
		}
		dict = &d
	}

	var inputFmt avformat.InputFormat
	if opts.Format != "" {
		inputFmt = avformat.FindInputFormat(opts.Format)
		if inputFmt == nil {
			avformat.FreeContext(formatCtx)
			return nil, NewKindedError(ErrorKindNotFound, "mediainput.open", fmt.Errorf("unknown input format %q", opts.Format))
		}
	}

	if opts.IO != nil {
		bufSize := opts.BufSize
		if bufSize <= 0 {
			bufSize = defaultIOBufferSize
		}
		ioCtx, err := NewCustomIOContextWithSize(opts.IO, false, bufSize)
		if err != nil {
			avformat.FreeContext(formatCtx)
			return nil, err
		}
		mi.ioCtx = ioCtx
		avformat.SetIOContext(formatCtx, ioCtx.AVIOContext())
		if err := avformat.OpenInput(&formatCtx, "", inputFmt, dict); err != nil {
			ioCtx.Close()
			avformat.FreeContext(formatCtx)
			return nil, NewKindedError(ErrorKindIOFailure, "mediainput.open", err)
		}
	} else {
		path := resolveInputPath(target)
		if err := avformat.OpenInput(&formatCtx, path, inputFmt, dict); err != nil {
			avformat.FreeContext(formatCtx)
			return nil, NewKindedError(ErrorKindIOFailure, "mediainput.open", err)
		}
	}
	mi.formatCtx = formatCtx

	if err := avformat.FindStreamInfo(formatCtx, nil); err != nil {
		mi.Close()
		return nil, NewKindedError(ErrorKindIOFailure, "mediainput.open", err)
	}

	mi.streams = buildStreamList(formatCtx)
	return mi, nil
}

func buildStreamList(formatCtx avformat.FormatContext) []*Stream {
	n := avformat.GetNbStreams(formatCtx)
	streams := make([]*Stream, 0, n)
	for i := 0; i < n; i++ {
		raw := avformat.GetStream(formatCtx, i)
		par := avformat.GetStreamCodecPar(raw)
		tbNum, tbDen := avformat.GetStreamTimeBase(raw)
		frNum, frDen := avformat.GetStreamAvgFrameRate(raw)
		s := &Stream{
			Index:        i,
			Type:         avformat.GetCodecParType(par),
			CodecID:      CodecID(avformat.GetCodecParCodecID(par)),
			TimeBase:     Rational{Num: tbNum, Den: tbDen},
			AvgFrameRate: Rational{Num: frNum, Den: frDen},
			RFrameRate:   Rational{Num: frNum, Den: frDen},
			Width:        int(avformat.GetCodecParWidth(par)),
			Height:       int(avformat.GetCodecParHeight(par)),
			PixelFormat:  PixelFormat(avformat.GetCodecParFormat(par)),
			SampleRate:   int(avformat.GetCodecParSampleRate(par)),
			SampleFormat: SampleFormat(avformat.GetCodecParFormat(par)),
			Channels:     int(avformat.GetCodecParChannels(par)),
			raw: avcodecParamHolder{
				formatCtx: formatCtx,
				stream:    raw,
				params:    par,
			},
		}
		streams = append(streams, s)
	}
	return streams
}

// Streams returns the demuxed stream descriptors in container order.
func (m *MediaInput) Streams() []*Stream { return m.streams }

// Stream returns the descriptor for the given index, or nil if out of range.
func (m *MediaInput) Stream(index int) *Stream {
	if index < 0 || index >= len(m.streams) {
		return nil
	}
	return m.streams[index]
}

// BestStream returns the "best" stream of the given media type, as chosen
// by the backend's stream-selection heuristic.
func (m *MediaInput) BestStream(t MediaType) *Stream {
	idx := avformat.FindBestStream(m.formatCtx, t, -1, -1, nil, 0)
	if idx < 0 {
		return nil
	}
	return m.Stream(int(idx))
}

// FormatContext exposes the underlying demuxer handle for interop with the
// BSF/Decoder drivers that need codec parameters directly.
func (m *MediaInput) FormatContext() avformat.FormatContext { return m.formatCtx }

// ReadPacket reads the next packet from any stream. Returns ErrorKindEndOfStream
// (wrapped) at end of input.
func (m *MediaInput) ReadPacket() (*Packet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, NewKindedError(ErrorKindStateError, "mediainput.read", ErrClosed)
	}
	pkt := avcodec.PacketAlloc()
	if pkt == nil {
		return nil, ErrOutOfMemory
	}
	if err := avformat.ReadFrame(m.formatCtx, pkt); err != nil {
		avcodec.PacketFree(&pkt)
		if avutil.IsEOF(err) {
			return nil, NewKindedError(ErrorKindEndOfStream, "mediainput.read", err)
		}
		return nil, NewKindedError(ErrorKindIOFailure, "mediainput.read", err)
	}
	return &Packet{ptr: pkt, owned: true}, nil
}

// Packets returns a lazy sequence of packets, optionally filtered to a
// single stream index (streamIndex < 0 means "all streams").
func (m *MediaInput) Packets(streamIndex int) func(yield func(*Packet) bool) {
	return func(yield func(*Packet) bool) {
		for {
			pkt, err := m.ReadPacket()
			if err != nil {
				return
			}
			if streamIndex >= 0 && pkt.StreamIndex() != streamIndex {
				pkt.Free()
				continue
			}
			if !yield(pkt) {
				pkt.Free()
				return
			}
		}
	}
}

// Close releases the demuxer and any custom I/O context. Idempotent.
func (m *MediaInput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.formatCtx != nil {
		avformat.CloseInput(&m.formatCtx)
	}
	if m.ioCtx != nil {
		m.ioCtx.Close()
	}
	return nil
}

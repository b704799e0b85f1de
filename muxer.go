//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/seydx/av-sub008/avcodec"
	"github.com/seydx/av-sub008/avformat"
)

// outputStreamSource distinguishes a stream-copy source (codec parameters
// known immediately) from an encoder source (known only once the encoder
// opens its codec context on its first frame).
type outputStreamSource struct {
	encoder    *Encoder
	fromStream *Stream
}

// outputStream tracks one muxed stream's initialization and buffering state.
type outputStream struct {
	index           int
	stream          avformat.Stream
	source          outputStreamSource
	initialized     bool
	sourceTimeBase  Rational
	timeBaseOverride *Rational
	bufferedPackets []*Packet
}

// MediaOutputOptions configures MediaOutput.Open.
type MediaOutputOptions struct {
	Format    string
	Options   map[string]string
	IO        *IOCallbacks
	BufSize   int
}

// MediaOutput is a muxing sink: it manages output streams, the header and
// trailer lifecycle, per-stream timestamp rescaling, and interleaving.
type MediaOutput struct {
	mu             sync.Mutex
	formatCtx      avformat.FormatContext
	ioCtx          *CustomIOContext
	fileIOCtx      avformat.IOContext
	path           string
	streams        []*outputStream
	headerOnce     sync.Once
	headerErr      error
	headerWritten  bool
	trailerWritten bool
	closed         bool
}

// OpenMediaOutput opens target for writing: a URL/path, resolved against the
// process working directory when relative (parent directories are created),
// or a callback I/O bundle (requires opts.Format).
func OpenMediaOutput(target string, opts *MediaOutputOptions) (*MediaOutput, error) {
	if opts == nil {
		opts = &MediaOutputOptions{}
	}

	formatName := opts.Format
	if formatName == "" && target != "" && !isURL(target) {
		formatName = filepath.Ext(target)
		if len(formatName) > 0 {
			formatName = formatName[1:]
		}
	}

	var formatCtx avformat.FormatContext
	if err := avformat.AllocOutputContext2(&formatCtx, nil, formatName, target); err != nil {
		return nil, NewKindedError(ErrorKindConfigInvalid, "media_output.open", err)
	}

	out := &MediaOutput{formatCtx: formatCtx}

	if opts.IO != nil {
		bufSize := opts.BufSize
		if bufSize <= 0 {
			bufSize = defaultIOBufferSize
		}
		ioCtx, err := NewCustomIOContextWithSize(opts.IO, true, bufSize)
		if err != nil {
			avformat.FreeContext(formatCtx)
			return nil, NewKindedError(ErrorKindConfigInvalid, "media_output.open", err)
		}
		out.ioCtx = ioCtx
		avformat.SetIOContext(formatCtx, ioCtx.AVIOContext())
		return out, nil
	}

	path := resolveInputPath(target)
	if !isURL(path) {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				avformat.FreeContext(formatCtx)
				return nil, NewKindedError(ErrorKindIOFailure, "media_output.open", err)
			}
		}
	}
	out.path = path
	return out, nil
}

// AddStream allocates an output stream descriptor from either an Encoder
// (deferred initialization) or an existing Stream (stream-copy, initialized
// immediately). timeBaseOverride, if non-nil, fixes the output time base.
func (m *MediaOutput) AddStream(source any, timeBaseOverride *Rational) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.headerWritten {
		return -1, NewKindedError(ErrorKindStateError, "media_output.add_stream", fmt.Errorf("cannot add streams after header is written"))
	}

	switch src := source.(type) {
	case *Encoder:
		stream := avformat.NewStream(m.formatCtx, nil)
		if stream == nil {
			return -1, NewKindedError(ErrorKindFatal, "media_output.add_stream", fmt.Errorf("failed to allocate stream"))
		}
		ost := &outputStream{
			index:            len(m.streams),
			stream:           stream,
			source:           outputStreamSource{encoder: src},
			initialized:      false,
			timeBaseOverride: timeBaseOverride,
		}
		m.streams = append(m.streams, ost)
		return ost.index, nil

	case *Stream:
		stream := avformat.NewStream(m.formatCtx, nil)
		if stream == nil {
			return -1, NewKindedError(ErrorKindFatal, "media_output.add_stream", fmt.Errorf("failed to allocate stream"))
		}
		codecPar := avformat.GetStreamCodecPar(stream)
		if err := avcodec.ParametersCopy(codecPar, src.raw.params); err != nil {
			return -1, NewKindedError(ErrorKindConfigInvalid, "media_output.add_stream", err)
		}
		tb := src.TimeBase
		if timeBaseOverride != nil {
			tb = *timeBaseOverride
		}
		avformat.SetStreamTimeBase(stream, tb.Num, tb.Den)
		ost := &outputStream{
			index:          len(m.streams),
			stream:         stream,
			source:         outputStreamSource{fromStream: src},
			initialized:    true,
			sourceTimeBase: src.TimeBase,
		}
		m.streams = append(m.streams, ost)
		return ost.index, nil

	default:
		return -1, NewKindedError(ErrorKindConfigInvalid, "media_output.add_stream", fmt.Errorf("source must be *Encoder or *Stream"))
	}
}

// WritePacket implements the six-step write algorithm: lazily finalize any
// now-ready encoder-sourced streams, buffer while any stream remains
// uninitialized, write the header exactly once, rescale, and interleave.
func (m *MediaOutput) WritePacket(pkt *Packet, streamIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.trailerWritten {
		pkt.Free()
		return NewKindedError(ErrorKindStateError, "media_output.write_packet", ErrClosed)
	}
	if streamIndex < 0 || streamIndex >= len(m.streams) {
		pkt.Free()
		return NewKindedError(ErrorKindConfigInvalid, "media_output.write_packet", fmt.Errorf("stream index %d not owned by this output", streamIndex))
	}

	for _, ost := range m.streams {
		if ost.initialized || ost.source.encoder == nil {
			continue
		}
		enc := ost.source.encoder
		if !enc.IsOpen() {
			continue
		}
		codecPar := avformat.GetStreamCodecPar(ost.stream)
		if err := avcodec.ParametersFromContext(codecPar, enc.ctx); err != nil {
			return NewKindedError(ErrorKindFatal, "media_output.write_packet", err)
		}
		ost.sourceTimeBase = enc.TimeBase()
		tb := ost.sourceTimeBase
		if ost.timeBaseOverride != nil {
			tb = *ost.timeBaseOverride
		}
		avformat.SetStreamTimeBase(ost.stream, tb.Num, tb.Den)
		ost.initialized = true
	}

	for _, ost := range m.streams {
		if !ost.initialized {
			clone, err := pkt.Clone()
			pkt.Free()
			if err != nil {
				return err
			}
			target := m.streams[streamIndex]
			target.bufferedPackets = append(target.bufferedPackets, clone)
			return nil
		}
	}

	if !m.headerWritten {
		m.headerOnce.Do(func() {
			if m.ioCtx == nil && m.path != "" {
				var ioCtx avformat.IOContext
				if err := avformat.IOOpen(&ioCtx, m.path, avformat.IOFlagWrite); err != nil {
					m.headerErr = err
					return
				}
				m.fileIOCtx = ioCtx
				avformat.SetIOContext(m.formatCtx, ioCtx)
			}
			m.headerErr = avformat.WriteHeader(m.formatCtx, nil)
			if m.headerErr == nil {
				m.headerWritten = true
			}
		})
		if m.headerErr != nil {
			pkt.Free()
			return NewKindedError(ErrorKindFatal, "media_output.write_packet", m.headerErr)
		}
	}

	target := m.streams[streamIndex]
	buffered := target.bufferedPackets
	target.bufferedPackets = nil
	for _, bp := range buffered {
		if err := m.writeOne(target, bp); err != nil {
			return err
		}
	}
	return m.writeOne(target, pkt)
}

func (m *MediaOutput) writeOne(ost *outputStream, pkt *Packet) error {
	outTB := Rational{}
	num, den := avformat.GetStreamTimeBase(ost.stream)
	outTB.Num, outTB.Den = num, den

	if ost.sourceTimeBase.IsValid() && outTB.IsValid() && !ost.sourceTimeBase.Equal(outTB) {
		pkt.Rescale(ost.sourceTimeBase, outTB)
	}
	pkt.SetStreamIndex(ost.index)

	err := avformat.InterleavedWriteFrame(m.formatCtx, pkt.Raw())
	pkt.Free()
	if err != nil {
		return NewKindedError(ErrorKindFatal, "media_output.write_packet", err)
	}
	return nil
}

// Close writes the trailer (if the header was written), detaches and frees
// I/O resources, and frees the format context. Idempotent and best-effort.
func (m *MediaOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for _, ost := range m.streams {
		for _, bp := range ost.bufferedPackets {
			bp.Free()
		}
		ost.bufferedPackets = nil
	}

	if m.headerWritten && !m.trailerWritten {
		_ = avformat.WriteTrailer(m.formatCtx)
		m.trailerWritten = true
	}

	if m.formatCtx != nil {
		avformat.SetIOContext(m.formatCtx, nil)
	}

	if m.ioCtx != nil {
		_ = m.ioCtx.Close()
	} else if m.fileIOCtx != nil {
		_ = avformat.IOCloseP(&m.fileIOCtx)
	}

	if m.formatCtx != nil {
		avformat.FreeContext(m.formatCtx)
		m.formatCtx = nil
	}

	return nil
}

// Streams reports the number of output streams allocated so far.
func (m *MediaOutput) Streams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"errors"

	"github.com/seydx/av-sub008/avcodec"
	"github.com/seydx/av-sub008/avutil"
)

var (
	errMissingTimeBase = errors.New("encoder: time_base is required")
	errHardwareRequired = errors.New("encoder: hardware encoder requires a HardwareContext")
)

// EncoderOptions configures Encoder.create, mirroring the encoder options
// table: time_base is required, the rest are optional.
type EncoderOptions struct {
	TimeBase    Rational
	FrameRate   Rational
	GOPSize     int
	MaxBFrames  int
	BitRate     any // string or integer, parsed via BitrateOrInt
	MinRate     any
	MaxRate     any
	BufSize     any
	Threads     int
	Options     map[string]string
	Hardware    *HardwareContext
}

// Encoder drives a single codec context's frame-to-packet state machine,
// opening lazily from the first frame submitted.
type Encoder struct {
	codec    avcodec.Codec
	ctx      avcodec.Context
	opts     EncoderOptions
	mediaType MediaType
	opened   bool
	closed   bool
	scratch  avcodec.Packet
}

// NewEncoder resolves sel and allocates a context, deferring open until the
// first frame is submitted to Encode.
func NewEncoder(sel CodecSelector, opts EncoderOptions) (*Encoder, error) {
	if !opts.TimeBase.IsValid() {
		return nil, NewKindedError(ErrorKindConfigInvalid, "encoder.create", errMissingTimeBase)
	}
	codec, err := resolveEncoder(sel)
	if err != nil {
		return nil, err
	}

	isHW := codecIsHardware(codec)
	if isHW && opts.Hardware == nil {
		return nil, NewKindedError(ErrorKindConfigInvalid, "encoder.create", errHardwareRequired)
	}

	ctx := avcodec.AllocContext3(codec)
	if ctx == nil {
		return nil, ErrOutOfMemory
	}

	scratch := avcodec.PacketAlloc()
	if scratch == nil {
		avcodec.FreeContext(&ctx)
		return nil, ErrOutOfMemory
	}

	return &Encoder{codec: codec, ctx: ctx, opts: opts, scratch: scratch}, nil
}

// IsHardware reports whether the underlying codec is hardware-accelerated.
func (e *Encoder) IsHardware() bool { return codecIsHardware(e.codec) }

func codecIsHardware(codec avcodec.Codec) bool {
	name := avcodec.GetCodecName(codec)
	for _, suffix := range hardwareCodecSuffixes {
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

// hardwareCodecSuffixes names the conventional FFmpeg hardware-encoder
// wrapper suffixes (e.g. "h264_nvenc", "hevc_vaapi", "h264_videotoolbox").
var hardwareCodecSuffixes = []string{
	"_nvenc", "_vaapi", "_qsv", "_videotoolbox", "_amf", "_v4l2m2m", "_mediacodec",
}

// IsOpen reports whether the codec context has been opened.
func (e *Encoder) IsOpen() bool { return e != nil && e.opened }

func (e *Encoder) openFromFrame(f *Frame) error {
	applyEncoderOptionsBase(e.ctx, e.opts)

	switch {
	case f.Width() > 0 && f.Height() > 0:
		e.mediaType = MediaTypeVideo
		avcodec.SetCtxWidth(e.ctx, int32(f.Width()))
		avcodec.SetCtxHeight(e.ctx, int32(f.Height()))
		avcodec.SetCtxPixFmt(e.ctx, int32(f.PixelFormat()))
		if hwCtx := f.HWFramesCtx(); hwCtx != nil {
			avcodec.SetCtxHWFramesCtx(e.ctx, hwCtx)
			if e.opts.Hardware != nil {
				avcodec.SetCtxHWDeviceCtx(e.ctx, e.opts.Hardware.DeviceContext())
			}
		} else if e.opts.Hardware != nil && e.opts.Hardware.HasFramesContext() {
			avcodec.SetCtxHWFramesCtx(e.ctx, e.opts.Hardware.FramesContext())
			avcodec.SetCtxHWDeviceCtx(e.ctx, e.opts.Hardware.DeviceContext())
		}
	default:
		e.mediaType = MediaTypeAudio
		avcodec.SetCtxSampleRate(e.ctx, int32(f.SampleRate()))
		avcodec.SetCtxSampleFmt(e.ctx, int32(f.SampleFormat()))
	}

	var dict avutil.Dictionary
	for k, v := range e.opts.Options {
		if err := avutil.DictSet(&dict, k, v, 0); err != nil {
			return NewKindedError(ErrorKindConfigInvalid, "encoder.open", err)
		}
	}

	if err := avcodec.Open2(e.ctx, e.codec, &dict); err != nil {
		avcodec.FreeContext(&e.ctx)
		return NewKindedError(ErrorKindConfigInvalid, "encoder.open", err)
	}
	e.opened = true
	return nil
}

func applyEncoderOptionsBase(ctx avcodec.Context, opts EncoderOptions) {
	avcodec.SetCtxTimeBase(ctx, opts.TimeBase.Num, opts.TimeBase.Den)
	if opts.FrameRate.IsValid() {
		avcodec.SetCtxFramerate(ctx, opts.FrameRate.Num, opts.FrameRate.Den)
	}
	if opts.GOPSize > 0 {
		avcodec.SetCtxGopSize(ctx, int32(opts.GOPSize))
	}
	if opts.MaxBFrames > 0 {
		avcodec.SetCtxMaxBFrames(ctx, int32(opts.MaxBFrames))
	}
	if br, err := BitrateOrInt(opts.BitRate); err == nil && br > 0 {
		avcodec.SetCtxBitRate(ctx, br)
	}
	if mr, err := BitrateOrInt(opts.MinRate); err == nil && mr > 0 {
		avcodec.SetCtxRcMinRate(ctx, mr)
	}
	if mr, err := BitrateOrInt(opts.MaxRate); err == nil && mr > 0 {
		avcodec.SetCtxRcMaxRate(ctx, mr)
	}
	if bs, err := BitrateOrInt(opts.BufSize); err == nil && bs > 0 {
		avcodec.SetCtxRcBufferSize(ctx, int32(bs))
	}
	if opts.Threads > 0 {
		avcodec.SetCtxThreadCount(ctx, int32(opts.Threads))
	}
}

// Encode submits one frame (or nil for EOS) and attempts one receive. If
// the encoder has not been opened yet and f is non-nil, it is first
// configured and opened from f's observable properties.
func (e *Encoder) Encode(f *Frame) (*Packet, error) {
	if e.closed {
		return nil, NewKindedError(ErrorKindStateError, "encoder.encode", ErrClosed)
	}
	if !e.opened {
		if f == nil {
			return nil, nil
		}
		if err := e.openFromFrame(f); err != nil {
			return nil, err
		}
	}

	var raw avutil.Frame
	if f != nil {
		raw = f.Raw()
	}

	sendErr := avcodec.SendFrame(e.ctx, raw)
	if sendErr != nil && !avutil.IsAgain(sendErr) && !avutil.IsEOF(sendErr) {
		return nil, NewKindedError(ErrorKindFatal, "encoder.encode", sendErr)
	}

	recvErr := avcodec.ReceivePacket(e.ctx, e.scratch)
	if recvErr != nil {
		if avutil.IsAgain(recvErr) || avutil.IsEOF(recvErr) {
			return nil, nil
		}
		return nil, NewKindedError(ErrorKindFatal, "encoder.encode", recvErr)
	}

	out := avcodec.PacketAlloc()
	if out == nil {
		return nil, ErrOutOfMemory
	}
	if err := avcodec.PacketRef(out, e.scratch); err != nil {
		avcodec.PacketFree(&out)
		return nil, NewKindedError(ErrorKindFatal, "encoder.encode", err)
	}
	avcodec.PacketUnref(e.scratch)
	return &Packet{ptr: out, owned: true}, nil
}

// Packets returns a lazy sequence of encoded packets driven by frames,
// freeing each input frame after processing and draining on completion.
func (e *Encoder) Packets(frames func(yield func(*Frame) bool)) func(yield func(*Packet) bool) {
	return func(yield func(*Packet) bool) {
		stop := false
		frames(func(f *Frame) bool {
			pkt, err := e.Encode(f)
			f.Free()
			if err != nil {
				stop = true
				return false
			}
			if pkt != nil {
				if !yield(pkt) {
					stop = true
					return false
				}
			}
			return true
		})
		if stop {
			return
		}
		for {
			pkt, err := e.Flush()
			if err != nil || pkt == nil {
				return
			}
			if !yield(pkt) {
				return
			}
		}
	}
}

// Flush performs a single flush step.
func (e *Encoder) Flush() (*Packet, error) { return e.Encode(nil) }

// FlushPackets drains all remaining packets after EOS as a lazy sequence.
func (e *Encoder) FlushPackets() func(yield func(*Packet) bool) {
	return func(yield func(*Packet) bool) {
		for {
			pkt, err := e.Flush()
			if err != nil || pkt == nil {
				return
			}
			if !yield(pkt) {
				return
			}
		}
	}
}

// Close releases the codec context. Idempotent.
func (e *Encoder) Close() error {
	if e == nil || e.closed {
		return nil
	}
	e.closed = true
	if e.scratch != nil {
		avcodec.PacketFree(&e.scratch)
	}
	if e.ctx != nil {
		if e.opened {
			avcodec.Close(e.ctx)
		}
		avcodec.FreeContext(&e.ctx)
	}
	return nil
}

// TimeBase reports the codec context's configured time base.
func (e *Encoder) TimeBase() Rational { return e.opts.TimeBase }

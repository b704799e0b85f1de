//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"fmt"

	"github.com/seydx/av-sub008/avcodec"
	"github.com/seydx/av-sub008/avutil"
)

// CodecSelector names a codec by its registered short name, its numeric
// CodecID, or a pre-resolved handle.
type CodecSelector struct {
	Name    string
	ID      CodecID
	Handle  avcodec.Codec
}

// ByCodecName selects a decoder/encoder by registered short name (e.g. "h264").
func ByCodecName(name string) CodecSelector { return CodecSelector{Name: name} }

// ByCodecID selects a decoder/encoder by numeric codec ID.
func ByCodecID(id CodecID) CodecSelector { return CodecSelector{ID: id} }

// ByCodecHandle selects a decoder/encoder by an already-resolved handle.
func ByCodecHandle(h avcodec.Codec) CodecSelector { return CodecSelector{Handle: h} }

func resolveDecoder(sel CodecSelector) (avcodec.Codec, error) {
	switch {
	case sel.Handle != nil:
		return sel.Handle, nil
	case sel.Name != "":
		c := avcodec.FindDecoderByName(sel.Name)
		if c == nil {
			return nil, NewKindedError(ErrorKindNotFound, "decoder.create", fmt.Errorf("decoder %q not found", sel.Name))
		}
		return c, nil
	default:
		c := avcodec.FindDecoder(sel.ID)
		if c == nil {
			return nil, NewKindedError(ErrorKindNotFound, "decoder.create", fmt.Errorf("decoder for codec id %v not found", sel.ID))
		}
		return c, nil
	}
}

func resolveEncoder(sel CodecSelector) (avcodec.Codec, error) {
	switch {
	case sel.Handle != nil:
		return sel.Handle, nil
	case sel.Name != "":
		c := avcodec.FindEncoderByName(sel.Name)
		if c == nil {
			return nil, NewKindedError(ErrorKindNotFound, "encoder.create", fmt.Errorf("encoder %q not found", sel.Name))
		}
		return c, nil
	default:
		c := avcodec.FindEncoder(sel.ID)
		if c == nil {
			return nil, NewKindedError(ErrorKindNotFound, "encoder.create", fmt.Errorf("encoder for codec id %v not found", sel.ID))
		}
		return c, nil
	}
}

// DecoderOptions configures Decoder.create.
type DecoderOptions struct {
	Options  map[string]string
	Hardware *HardwareContext
}

// Decoder drives a single codec context's packet-to-frame state machine.
type Decoder struct {
	ctx      avcodec.Context
	stream   *Stream
	hardware *HardwareContext
	opened   bool
	closed   bool
	scratch  avutil.Frame
}

// NewDecoder resolves sel, configures a codec context from stream (or info
// if stream is nil), and opens it.
func NewDecoder(sel CodecSelector, stream *Stream, info *StreamInfo, opts *DecoderOptions) (*Decoder, error) {
	if opts == nil {
		opts = &DecoderOptions{}
	}
	codec, err := resolveDecoder(sel)
	if err != nil {
		return nil, err
	}

	ctx := avcodec.AllocContext3(codec)
	if ctx == nil {
		return nil, ErrOutOfMemory
	}

	switch {
	case stream != nil:
		if err := avcodec.ParametersToContext(ctx, stream.raw.params); err != nil {
			avcodec.FreeContext(&ctx)
			return nil, NewKindedError(ErrorKindConfigInvalid, "decoder.create", err)
		}
	case info != nil:
		applyStreamInfoToContext(ctx, *info)
	}

	if opts.Hardware != nil {
		avcodec.SetCtxHWDeviceCtx(ctx, opts.Hardware.DeviceContext())
	}

	var dict avutil.Dictionary
	for k, v := range opts.Options {
		if err := avutil.DictSet(&dict, k, v, 0); err != nil {
			avcodec.FreeContext(&ctx)
			return nil, NewKindedError(ErrorKindConfigInvalid, "decoder.create", err)
		}
	}

	if err := avcodec.Open2(ctx, codec, &dict); err != nil {
		avcodec.FreeContext(&ctx)
		return nil, NewKindedError(ErrorKindConfigInvalid, "decoder.create", err)
	}

	scratch := avutil.FrameAlloc()
	if scratch == nil {
		avcodec.Close(ctx)
		avcodec.FreeContext(&ctx)
		return nil, ErrOutOfMemory
	}

	return &Decoder{ctx: ctx, stream: stream, hardware: opts.Hardware, opened: true, scratch: scratch}, nil
}

func applyStreamInfoToContext(ctx avcodec.Context, info StreamInfo) {
	switch info.Type {
	case MediaTypeVideo:
		avcodec.SetCtxWidth(ctx, int32(info.Width))
		avcodec.SetCtxHeight(ctx, int32(info.Height))
		avcodec.SetCtxPixFmt(ctx, int32(info.PixelFormat))
		avcodec.SetCtxSampleAspectRatio(ctx, info.SampleAspect.Num, info.SampleAspect.Den)
		if info.FrameRate.IsValid() {
			avcodec.SetCtxFramerate(ctx, info.FrameRate.Num, info.FrameRate.Den)
		}
	case MediaTypeAudio:
		avcodec.SetCtxSampleRate(ctx, int32(info.SampleRate))
		avcodec.SetCtxSampleFmt(ctx, int32(info.SampleFormat))
		avcodec.SetCtxChannelLayout(ctx, int32(info.ChannelLayout.NumChannels))
	}
	if info.TimeBase.IsValid() {
		avcodec.SetCtxTimeBase(ctx, info.TimeBase.Num, info.TimeBase.Den)
	}
}

// IsReady reports whether the codec context has been opened.
func (d *Decoder) IsReady() bool { return d != nil && d.opened && !d.closed }

// GetStream returns the backing demuxer stream, if the decoder was created
// from one.
func (d *Decoder) GetStream() *Stream { return d.stream }

// Decode feeds one packet (or nil for EOS) and attempts to pull one frame,
// following the submit/recover-on-again/receive algorithm.
func (d *Decoder) Decode(pkt *Packet) (*Frame, error) {
	if d.closed {
		return nil, NewKindedError(ErrorKindStateError, "decoder.decode", ErrClosed)
	}

	var raw avcodec.Packet
	if pkt != nil {
		raw = pkt.Raw()
	}

	sendErr := avcodec.SendPacket(d.ctx, raw)
	if sendErr != nil && !avutil.IsAgain(sendErr) && !avutil.IsEOF(sendErr) {
		return nil, NewKindedError(ErrorKindFatal, "decoder.decode", sendErr)
	}

	recvErr := avcodec.ReceiveFrame(d.ctx, d.scratch)
	if recvErr != nil {
		if avutil.IsAgain(recvErr) || avutil.IsEOF(recvErr) {
			return nil, nil
		}
		return nil, NewKindedError(ErrorKindFatal, "decoder.decode", recvErr)
	}

	out, err := cloneScratchFrame(d.scratch)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func cloneScratchFrame(scratch avutil.Frame) (*Frame, error) {
	clone := avutil.FrameAlloc()
	if clone == nil {
		return nil, ErrOutOfMemory
	}
	if err := avutil.FrameRef(clone, scratch); err != nil {
		avutil.FrameFree(&clone)
		return nil, NewKindedError(ErrorKindFatal, "decoder.decode", err)
	}
	avutil.FrameUnref(scratch)
	return &Frame{ptr: clone, owned: true}, nil
}

// Frames returns a lazy sequence of decoded frames driven by packets,
// freeing each input packet after its send attempt and draining/flushing
// once packets is exhausted.
func (d *Decoder) Frames(packets func(yield func(*Packet) bool)) func(yield func(*Frame) bool) {
	return func(yield func(*Frame) bool) {
		stop := false
		packets(func(pkt *Packet) bool {
			frame, err := d.Decode(pkt)
			pkt.Free()
			if err != nil {
				stop = true
				return false
			}
			if frame != nil {
				if !yield(frame) {
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
			frame, err := d.Flush()
			if err != nil || frame == nil {
				return
			}
			if !yield(frame) {
				return
			}
		}
	}
}

// Flush performs a single flush step: submit EOS once, then attempt a receive.
func (d *Decoder) Flush() (*Frame, error) {
	return d.Decode(nil)
}

// FlushFrames drains all remaining frames after EOS as a lazy sequence.
func (d *Decoder) FlushFrames() func(yield func(*Frame) bool) {
	return func(yield func(*Frame) bool) {
		for {
			frame, err := d.Flush()
			if err != nil || frame == nil {
				return
			}
			if !yield(frame) {
				return
			}
		}
	}
}

// Close releases the codec context. Idempotent.
func (d *Decoder) Close() error {
	if d == nil || d.closed {
		return nil
	}
	d.closed = true
	if d.scratch != nil {
		avutil.FrameFree(&d.scratch)
	}
	if d.ctx != nil {
		avcodec.Close(d.ctx)
		avcodec.FreeContext(&d.ctx)
	}
	return nil
}

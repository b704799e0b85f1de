//go:build !ios && !android && (amd64 || arm64)

// Package media is a composable, resource-safe runtime for decoding,
// filtering, encoding, bitstream-filtering and muxing audio/video streams
// on top of the low-level avcodec/avformat/avutil/avfilter bindings in
// this module. It favors small single-purpose stages (Decoder, Encoder,
// Filter, BSF, MediaOutput) that compose through RunPipeline and
// RunNamedPipeline in pipeline.go.
package media

import (
	"fmt"
	"unsafe"

	"github.com/seydx/av-sub008/avcodec"
	"github.com/seydx/av-sub008/avutil"
)

// Re-exported primitive types from the low-level bindings, so callers of
// this package never need to import avutil/avcodec directly.
type (
	PixelFormat  = avutil.PixelFormat
	SampleFormat = avutil.SampleFormat
	MediaType    = avutil.MediaType
	CodecID      = avcodec.CodecID
)

const (
	MediaTypeVideo    = avutil.MediaTypeVideo
	MediaTypeAudio    = avutil.MediaTypeAudio
	MediaTypeSubtitle = avutil.MediaTypeSubtitle
	MediaTypeData     = avutil.MediaTypeData
	MediaTypeUnknown  = avutil.MediaTypeUnknown
)

// Rational is a pair (Num, Den) used for time bases and frame rates.
// A zero denominator is invalid; IsValid reports this.
type Rational struct {
	Num int32
	Den int32
}

// NewRational builds a Rational from a numerator/denominator pair.
func NewRational(num, den int32) Rational { return Rational{Num: num, Den: den} }

// IsValid reports whether the rational has a non-zero denominator.
func (r Rational) IsValid() bool { return r.Den != 0 }

// Float64 returns the rational as a float64, or 0 if invalid.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Cmp performs an exact cross-multiplied comparison, returning -1, 0, or 1.
func (r Rational) Cmp(o Rational) int {
	left := int64(r.Num) * int64(o.Den)
	right := int64(o.Num) * int64(r.Den)
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}

// Equal reports whether r and o denote the same ratio.
func (r Rational) Equal(o Rational) bool { return r.Cmp(o) == 0 }

func (r Rational) toAVUtil() avutil.Rational { return avutil.Rational{Num: r.Num, Den: r.Den} }

func fromAVUtilRational(r avutil.Rational) Rational { return Rational{Num: r.Num, Den: r.Den} }

// RescaleTS converts ts from time base src to time base dst, rounding to the
// nearest tick: round(ts * src.Num * dst.Den / (src.Den * dst.Num)).
func RescaleTS(ts int64, src, dst Rational) int64 {
	if ts == avutil.NoPTSValue || !src.IsValid() || !dst.IsValid() {
		return ts
	}
	if src == dst {
		return ts
	}
	num := int64(src.Num) * int64(dst.Den)
	den := int64(src.Den) * int64(dst.Num)
	if den == 0 {
		return ts
	}
	if ts >= 0 {
		return (ts*num + den/2) / den
	}
	return (ts*num - den/2) / den
}

// NoPTS is the sentinel timestamp meaning "unknown".
const NoPTS = avutil.NoPTSValue

// Packet owns a reference-counted encoded payload buffer plus metadata.
// It has single-owner semantics: Free releases it exactly once, and Clone
// produces an independent owner sharing the underlying buffer by refcount.
type Packet struct {
	ptr   avcodec.Packet
	owned bool
}

// WrapPacket takes ownership of a raw avcodec.Packet.
func WrapPacket(p avcodec.Packet) *Packet {
	if p == nil {
		return nil
	}
	return &Packet{ptr: p, owned: true}
}

// NewPacket allocates an empty, owned packet.
func NewPacket() (*Packet, error) {
	p := avcodec.PacketAlloc()
	if p == nil {
		return nil, ErrOutOfMemory
	}
	return &Packet{ptr: p, owned: true}, nil
}

// IsNil reports whether the packet wrapper has no underlying payload.
func (p *Packet) IsNil() bool { return p == nil || p.ptr == nil }

// Raw exposes the underlying avcodec.Packet for low-level interop.
func (p *Packet) Raw() avcodec.Packet {
	if p == nil {
		return nil
	}
	return p.ptr
}

func (p *Packet) StreamIndex() int   { return int(avcodec.GetPacketStreamIndex(p.ptr)) }
func (p *Packet) SetStreamIndex(i int) { avcodec.SetPacketStreamIndex(p.ptr, int32(i)) }
func (p *Packet) PTS() int64         { return avcodec.GetPacketPTS(p.ptr) }
func (p *Packet) SetPTS(v int64)     { avcodec.SetPacketPTS(p.ptr, v) }
func (p *Packet) DTS() int64         { return avcodec.GetPacketDTS(p.ptr) }
func (p *Packet) SetDTS(v int64)     { avcodec.SetPacketDTS(p.ptr, v) }
func (p *Packet) Duration() int64    { return avcodec.GetPacketDuration(p.ptr) }
func (p *Packet) Flags() int32       { return avcodec.GetPacketFlags(p.ptr) }
func (p *Packet) Size() int32        { return avcodec.GetPacketSize(p.ptr) }

// EffectiveDTS returns dts, falling back to pts, falling back to 0 — the
// ordering key the interleaved muxer uses to merge streams.
func (p *Packet) EffectiveDTS() int64 {
	if d := p.DTS(); d != NoPTS {
		return d
	}
	if pts := p.PTS(); pts != NoPTS {
		return pts
	}
	return 0
}

// Rescale converts pts/dts/duration from src to dst time base in place.
func (p *Packet) Rescale(src, dst Rational) {
	if p.IsNil() || src.Equal(dst) {
		return
	}
	avcodec.RescalePacketTS(p.ptr, src.toAVUtil(), dst.toAVUtil())
}

// Clone returns a new owner referencing the same underlying buffer.
func (p *Packet) Clone() (*Packet, error) {
	if p.IsNil() {
		return nil, nil
	}
	np := avcodec.PacketAlloc()
	if np == nil {
		return nil, ErrOutOfMemory
	}
	if err := avcodec.PacketRef(np, p.ptr); err != nil {
		avcodec.PacketFree(&np)
		return nil, err
	}
	return &Packet{ptr: np, owned: true}, nil
}

// Unref drops the packet's payload reference without freeing the shell.
func (p *Packet) Unref() {
	if p.IsNil() {
		return
	}
	avcodec.PacketUnref(p.ptr)
}

// Free releases the packet shell and its payload reference. Safe to call
// multiple times.
func (p *Packet) Free() {
	if p == nil || p.ptr == nil || !p.owned {
		return
	}
	avcodec.PacketFree(&p.ptr)
	p.ptr = nil
	p.owned = false
}

// Frame owns decoded media samples plus presentation metadata. Like Packet,
// it has single-owner semantics.
type Frame struct {
	ptr   avutil.Frame
	owned bool
}

// WrapFrame takes ownership of a raw avutil.Frame.
func WrapFrame(f avutil.Frame) *Frame {
	if f == nil {
		return nil
	}
	return &Frame{ptr: f, owned: true}
}

// NewFrame allocates an empty, owned frame.
func NewFrame() (*Frame, error) {
	f := avutil.FrameAlloc()
	if f == nil {
		return nil, ErrOutOfMemory
	}
	return &Frame{ptr: f, owned: true}, nil
}

func (f *Frame) IsNil() bool { return f == nil || f.ptr == nil }

func (f *Frame) Raw() avutil.Frame {
	if f == nil {
		return nil
	}
	return f.ptr
}

func (f *Frame) PTS() int64      { return avutil.GetFramePTS(f.ptr) }
func (f *Frame) SetPTS(v int64)  { avutil.SetFramePTS(f.ptr, v) }
func (f *Frame) Width() int      { return int(avutil.GetFrameWidth(f.ptr)) }
func (f *Frame) Height() int     { return int(avutil.GetFrameHeight(f.ptr)) }
func (f *Frame) Format() int32   { return avutil.GetFrameFormat(f.ptr) }
func (f *Frame) PixelFormat() PixelFormat   { return PixelFormat(f.Format()) }
func (f *Frame) SampleFormat() SampleFormat { return SampleFormat(f.Format()) }
func (f *Frame) SampleRate() int { return int(avutil.GetFrameSampleRate(f.ptr)) }
func (f *Frame) NumSamples() int { return int(avutil.GetFrameNbSamples(f.ptr)) }
func (f *Frame) IsKeyFrame() bool { return avutil.GetFrameKeyFrame(f.ptr) != 0 }

// HWFramesCtx returns the frame's hardware frames context handle, or nil if
// the frame is not hardware-resident.
func (f *Frame) HWFramesCtx() unsafe.Pointer {
	if f.IsNil() {
		return nil
	}
	return frameHWFramesCtx(f.ptr)
}

// Clone returns a new, independently owned reference to the same data.
func (f *Frame) Clone() (*Frame, error) {
	if f.IsNil() {
		return nil, nil
	}
	nf := avutil.FrameAlloc()
	if nf == nil {
		return nil, ErrOutOfMemory
	}
	if err := avutil.FrameRef(nf, f.ptr); err != nil {
		avutil.FrameFree(&nf)
		return nil, err
	}
	return &Frame{ptr: nf, owned: true}, nil
}

// Unref drops the frame's buffer references, keeping the shell allocated for
// reuse by the caller (e.g. a driver's scratch frame).
func (f *Frame) Unref() {
	if f.IsNil() {
		return
	}
	avutil.FrameUnref(f.ptr)
}

// Free releases the frame. Safe to call multiple times; a no-op on a
// borrowed (non-owned) frame.
func (f *Frame) Free() {
	if f == nil || f.ptr == nil || !f.owned {
		return
	}
	avutil.FrameFree(&f.ptr)
	f.ptr = nil
	f.owned = false
}

// Stream describes a demuxed or muxed elementary stream. Identity is
// (format context, index), mirrored here by holding the backing handle.
type Stream struct {
	Index         int
	Type          MediaType
	CodecID       CodecID
	TimeBase      Rational
	AvgFrameRate  Rational
	RFrameRate    Rational
	Width, Height int
	PixelFormat   PixelFormat
	SampleRate    int
	SampleFormat  SampleFormat
	Channels      int

	raw avcodecParamHolder
}

// avcodecParamHolder carries the bits a Decoder/Encoder/BSF/MediaOutput need
// to pull codec parameters straight from the demuxer without re-deriving
// them from the StreamInfo value type.
type avcodecParamHolder struct {
	formatCtx unsafe.Pointer
	stream    unsafe.Pointer
	params    avcodec.Parameters
}

// StreamInfo is a tagged union describing a stream to decode or encode
// without a backing demuxer Stream (e.g. a synthetic source).
type StreamInfo struct {
	Type MediaType

	// Video
	Width, Height   int
	PixelFormat     PixelFormat
	SampleAspect    Rational
	FrameRate       Rational // optional

	// Audio
	SampleRate    int
	SampleFormat  SampleFormat
	ChannelLayout ChannelLayout
	FrameSize     int // optional

	TimeBase Rational
}

// ChannelLayout mirrors AVChannelLayout's "mask of channel bits" form well
// enough for the common stereo/mono cases the filter driver needs to encode
// into a buffersrc argument string.
type ChannelLayout struct {
	NumChannels int
	Mask        uint64
}

const (
	ChannelLayoutMaskMono   uint64 = 0x4
	ChannelLayoutMaskStereo uint64 = 0x3
)

// StereoLayout is the conventional 2-channel layout.
func StereoLayout() ChannelLayout { return ChannelLayout{NumChannels: 2, Mask: ChannelLayoutMaskStereo} }

// MonoLayout is the conventional 1-channel layout.
func MonoLayout() ChannelLayout { return ChannelLayout{NumChannels: 1, Mask: ChannelLayoutMaskMono} }

// FilterConfig is a StreamInfo plus an optional hardware frames context,
// used to configure a Filter's buffer source.
type FilterConfig struct {
	StreamInfo
	HWFramesCtx unsafe.Pointer
}

func (s *Stream) String() string {
	if s == nil {
		return "<nil stream>"
	}
	return fmt.Sprintf("stream[%d] type=%v codec=%v tb=%d/%d", s.Index, s.Type, s.CodecID, s.TimeBase.Num, s.TimeBase.Den)
}

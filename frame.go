//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"unsafe"

	"github.com/seydx/av-sub008/avutil"
)

// offsetFrameHWFramesCtx is the byte offset of AVFrame's hw_frames_ctx
// field, following the same offset-poke convention used for AVBSFContext and
// AVCodecContext elsewhere in this module. frameHWFramesCtx and
// setFrameHWFramesCtx access it with no layout check: on a library whose
// AVFrame layout differs they read or write the wrong field.
const offsetFrameHWFramesCtx = 456

func frameHWFramesCtx(f avutil.Frame) unsafe.Pointer {
	if f == nil {
		return nil
	}
	return *(*unsafe.Pointer)(unsafe.Pointer(uintptr(f) + offsetFrameHWFramesCtx))
}

func setFrameHWFramesCtx(f avutil.Frame, ref unsafe.Pointer) {
	if f == nil {
		return
	}
	*(*unsafe.Pointer)(unsafe.Pointer(uintptr(f) + offsetFrameHWFramesCtx)) = ref
}

// Data returns a slice over the given plane's backing memory, sized by
// linesize and (for planar video) the plane's subsampled height. Returns
// nil if the plane does not exist.
func (f *Frame) Data(plane int) []byte {
	if f.IsNil() || plane < 0 || plane >= 8 {
		return nil
	}
	ptr := avutil.GetFrameDataPlane(f.ptr, plane)
	if ptr == nil {
		return nil
	}
	stride := int(avutil.GetFrameLinesizePlane(f.ptr, plane))
	if stride <= 0 {
		return nil
	}

	var rows int
	switch {
	case avutil.GetFrameNbSamples(f.ptr) > 0 && avutil.GetFrameWidth(f.ptr) == 0:
		// Audio: linesize already covers the whole plane.
		return unsafe.Slice((*byte)(ptr), stride)
	default:
		rows = f.Height()
		if plane > 0 && isChromaSubsampled(f.PixelFormat()) {
			rows = (rows + 1) / 2
		}
	}
	if rows <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(ptr), stride*rows)
}

// isChromaSubsampled reports whether the pixel format halves chroma plane
// height relative to luma, as in 4:2:0 formats.
func isChromaSubsampled(fmt PixelFormat) bool {
	switch fmt {
	case avutil.PixelFormatYUV420P, avutil.PixelFormatNV12, avutil.PixelFormatYUVJ420P:
		return true
	default:
		return false
	}
}

// Linesize returns the stride in bytes for the given plane.
func (f *Frame) Linesize(plane int) int {
	if f.IsNil() || plane < 0 || plane >= 8 {
		return 0
	}
	return int(avutil.GetFrameLinesizePlane(f.ptr, plane))
}

// NumSamples returns the number of audio samples held by the frame.
func (f *Frame) NumSamples() int {
	if f.IsNil() {
		return 0
	}
	return int(avutil.GetFrameNbSamples(f.ptr))
}

// MakeWritable ensures the frame's buffers are not shared with any other
// reference, cloning the underlying data if necessary.
func (f *Frame) MakeWritable() error {
	if f.IsNil() {
		return nil
	}
	return avutil.FrameMakeWritable(f.ptr)
}

// AllocBuffer allocates backing storage for a frame whose format fields
// have already been set via SetVideoParams/SetAudioParams.
func (f *Frame) AllocBuffer(align int32) error {
	if f.IsNil() {
		return ErrClosed
	}
	return avutil.FrameGetBufferErr(f.ptr, align)
}

// SetVideoParams configures an allocated-but-empty frame's video geometry.
func (f *Frame) SetVideoParams(width, height int, format PixelFormat) {
	if f.IsNil() {
		return
	}
	avutil.SetFrameWidth(f.ptr, int32(width))
	avutil.SetFrameHeight(f.ptr, int32(height))
	avutil.SetFrameFormat(f.ptr, int32(format))
}

// SetAudioParams configures an allocated-but-empty frame's audio layout.
func (f *Frame) SetAudioParams(sampleRate, numSamples int, format SampleFormat, layout ChannelLayout) {
	if f.IsNil() {
		return
	}
	avutil.SetFrameFormat(f.ptr, int32(format))
	avutil.SetFrameSampleRate(f.ptr, int32(sampleRate))
	avutil.SetFrameNbSamples(f.ptr, int32(numSamples))
	avutil.FrameSetChannels(f.ptr, int32(layout.NumChannels))
}

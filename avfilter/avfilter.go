//go:build !ios && !android && (amd64 || arm64)

// Package avfilter provides audio/video filtering using FFmpeg's libavfilter.
package avfilter

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/seydx/av-sub008/internal/bindings"
)

// Opaque types
type (
	// Graph represents an AVFilterGraph
	Graph = unsafe.Pointer
	// Context represents an AVFilterContext
	Context = unsafe.Pointer
	// Filter represents an AVFilter
	Filter = unsafe.Pointer
	// InOut represents an AVFilterInOut
	InOut = unsafe.Pointer
)

var (
	libAVFilter uintptr
	initOnce    sync.Once
	initErr     error
)

	// Function bindings
	var (
		// Graph management
		avfilter_graph_alloc         func() uintptr
		avfilter_graph_free          func(graph *Graph)
		avfilter_graph_config        func(graphctx, log_ctx uintptr) int32
		avfilter_graph_parse2        func(graph uintptr, filters *byte, inputs, outputs *InOut) int32
		avfilter_graph_create_filter func(filt_ctx *Context, filt, namePtr, argsPtr, opaque, graphCtx uintptr) int32

		// Filter lookup
		avfilter_get_by_name func(name *byte) uintptr

		// Filter linking
		avfilter_link func(src uintptr, srcpad uint32, dst uintptr, dstpad uint32) int32

		// Buffer source/sink
		av_buffersrc_add_frame_flags  func(ctx, frame uintptr, flags int32) int32
		av_buffersink_get_frame_flags func(ctx, frame uintptr, flags int32) int32
		av_buffersink_get_frame       func(ctx, frame uintptr) int32

		// InOut management
		avfilter_inout_alloc func() uintptr
		avfilter_inout_free  func(inout *InOut)

		// Runtime commands
		avfilter_graph_send_command  func(graph uintptr, target, cmd, arg *byte, res *byte, resLen int32, flags int32) int32
		avfilter_graph_queue_command func(graph uintptr, target, cmd, arg *byte, flags int32, ts float64) int32

		// Hardware-aware buffer source configuration
		av_buffersrc_parameters_alloc func() uintptr
		av_buffersrc_parameters_set   func(ctx, params uintptr) int32

	// Version
	avfilter_version func() uint32

	// AVFilterInOut field accessors (offsets may need verification)
	// We use the offset approach since AVFilterInOut is a struct
)

// AVFilterContext.hw_device_ctx offset (FFmpeg 5.x/6.x/7.x layout).
// Mirrors the offset-based field pokes used for AVBSFContext elsewhere in
// this binding. SetContextHWDeviceCtx writes at this fixed offset with no
// layout check; on a library whose AVFilterContext layout differs it writes
// into the wrong field.
const offsetFilterCtxHWDeviceCtx = 128

// Buffer source flags
const (
	AV_BUFFERSRC_FLAG_NO_CHECK_FORMAT = 1 // Do not check for format changes
	AV_BUFFERSRC_FLAG_PUSH            = 4 // Push frame immediately
	AV_BUFFERSRC_FLAG_KEEP_REF        = 8 // Keep reference to frame
)

// Buffer sink flags
const (
	AV_BUFFERSINK_FLAG_PEEK       = 1 // Peek without consuming
	AV_BUFFERSINK_FLAG_NO_REQUEST = 2 // Don't request frame
)

// Init initializes the avfilter library bindings
func Init() error {
	initOnce.Do(func() {
		initErr = initLibrary()
	})
	return initErr
}

func initLibrary() error {
	var err error
	// libavfilter versions: 9.x (FFmpeg 6.x), 8.x (FFmpeg 5.x), 7.x (FFmpeg 4.x)
	libAVFilter, err = bindings.LoadLibrary("avfilter", []int{10, 9, 8, 7})
	if err != nil {
		return fmt.Errorf("avfilter: failed to load library: %w", err)
	}

	// Bind core functions
	purego.RegisterLibFunc(&avfilter_graph_alloc, libAVFilter, "avfilter_graph_alloc")
	purego.RegisterLibFunc(&avfilter_graph_free, libAVFilter, "avfilter_graph_free")
	purego.RegisterLibFunc(&avfilter_graph_config, libAVFilter, "avfilter_graph_config")
	purego.RegisterLibFunc(&avfilter_graph_parse2, libAVFilter, "avfilter_graph_parse2")
	purego.RegisterLibFunc(&avfilter_graph_create_filter, libAVFilter, "avfilter_graph_create_filter")
	purego.RegisterLibFunc(&avfilter_get_by_name, libAVFilter, "avfilter_get_by_name")
	purego.RegisterLibFunc(&avfilter_link, libAVFilter, "avfilter_link")
	purego.RegisterLibFunc(&avfilter_inout_alloc, libAVFilter, "avfilter_inout_alloc")
	purego.RegisterLibFunc(&avfilter_inout_free, libAVFilter, "avfilter_inout_free")
	purego.RegisterLibFunc(&avfilter_version, libAVFilter, "avfilter_version")
	registerOptionalLibFunc(&avfilter_graph_send_command, libAVFilter, "avfilter_graph_send_command")
	registerOptionalLibFunc(&avfilter_graph_queue_command, libAVFilter, "avfilter_graph_queue_command")
	registerOptionalLibFunc(&av_buffersrc_parameters_alloc, libAVFilter, "av_buffersrc_parameters_alloc")
	registerOptionalLibFunc(&av_buffersrc_parameters_set, libAVFilter, "av_buffersrc_parameters_set")

	// Buffer source/sink functions (from libavfilter)
	purego.RegisterLibFunc(&av_buffersrc_add_frame_flags, libAVFilter, "av_buffersrc_add_frame_flags")
	purego.RegisterLibFunc(&av_buffersink_get_frame_flags, libAVFilter, "av_buffersink_get_frame_flags")
	purego.RegisterLibFunc(&av_buffersink_get_frame, libAVFilter, "av_buffersink_get_frame")

	return nil
}

// Version returns the libavfilter version.
func Version() uint32 {
	if err := Init(); err != nil {
		return 0
	}
	return avfilter_version()
}

// VersionString returns the libavfilter version as a string (e.g., "9.12.100").
func VersionString() string {
	v := Version()
	if v == 0 {
		return "unknown"
	}
	major := (v >> 16) & 0xFF
	minor := (v >> 8) & 0xFF
	micro := v & 0xFF
	return fmt.Sprintf("%d.%d.%d", major, minor, micro)
}

// GraphAlloc allocates a new filter graph.
func GraphAlloc() Graph {
	if err := Init(); err != nil {
		return nil
	}
	return unsafe.Pointer(avfilter_graph_alloc())
}

// GraphFree frees a filter graph and all associated filters.
func GraphFree(graph *Graph) {
	if graph == nil || *graph == nil {
		return
	}
	if err := Init(); err != nil {
		return
	}
	avfilter_graph_free(graph)
}

// GraphConfig validates and configures a filter graph.
func GraphConfig(graph Graph) error {
	if graph == nil {
		return fmt.Errorf("avfilter: nil graph")
	}
	if err := Init(); err != nil {
		return err
	}
	ret := avfilter_graph_config(uintptr(graph), 0)
	if ret < 0 {
		return fmt.Errorf("avfilter_graph_config failed: %d", ret)
	}
	return nil
}

// cString converts a Go string to a null-terminated C string (as *byte)
func cString(s string) *byte {
	if s == "" {
		return nil
	}
	b := append([]byte(s), 0)
	return &b[0]
}

// GraphParse2 parses a filter graph description.
// Returns inputs and outputs that need to be linked.
func GraphParse2(graph Graph, filters string) (inputs, outputs InOut, err error) {
	if graph == nil {
		return nil, nil, fmt.Errorf("avfilter: nil graph")
	}
	if err := Init(); err != nil {
		return nil, nil, err
	}

	ret := avfilter_graph_parse2(uintptr(graph), cString(filters), &inputs, &outputs)
	if ret < 0 {
		return nil, nil, fmt.Errorf("avfilter_graph_parse2 failed: %d", ret)
	}
	return inputs, outputs, nil
}

// GraphCreateFilter creates and adds a filter to a graph.
func GraphCreateFilter(graph Graph, filter Filter, name, args string) (Context, error) {
	if graph == nil {
		return nil, fmt.Errorf("avfilter: nil graph")
	}
	if filter == nil {
		return nil, fmt.Errorf("avfilter: nil filter")
	}
	if err := Init(); err != nil {
		return nil, err
	}

	var ctx Context
	ret := avfilter_graph_create_filter(
		&ctx,
		uintptr(filter),
		uintptr(unsafe.Pointer(cString(name))),
		uintptr(unsafe.Pointer(cString(args))),
		0,
		uintptr(graph),
	)
	if ret < 0 {
		return nil, fmt.Errorf("avfilter_graph_create_filter failed: %d", ret)
	}
	return ctx, nil
}

// GetByName finds a filter by name (e.g., "buffer", "buffersink", "scale").
func GetByName(name string) Filter {
	if err := Init(); err != nil {
		return nil
	}
	return unsafe.Pointer(avfilter_get_by_name(cString(name)))
}

// Link links two filter contexts together.
func Link(src Context, srcPad uint32, dst Context, dstPad uint32) error {
	if src == nil || dst == nil {
		return fmt.Errorf("avfilter: nil context")
	}
	if err := Init(); err != nil {
		return err
	}
	ret := avfilter_link(uintptr(src), srcPad, uintptr(dst), dstPad)
	if ret < 0 {
		return fmt.Errorf("avfilter_link failed: %d", ret)
	}
	return nil
}

// BufferSrcAddFrameFlags pushes a frame to a buffersrc filter.
func BufferSrcAddFrameFlags(ctx Context, frame unsafe.Pointer, flags int32) error {
	if ctx == nil {
		return fmt.Errorf("avfilter: nil context")
	}
	if err := Init(); err != nil {
		return err
	}
	ret := av_buffersrc_add_frame_flags(uintptr(ctx), uintptr(frame), flags)
	if ret < 0 {
		return fmt.Errorf("av_buffersrc_add_frame_flags failed: %d", ret)
	}
	return nil
}

// BufferSinkGetFrameFlags retrieves a frame from a buffersink filter.
// Returns the FFmpeg error code (0 on success, AVERROR_EAGAIN, AVERROR_EOF, or negative on error).
func BufferSinkGetFrameFlags(ctx Context, frame unsafe.Pointer, flags int32) int32 {
	if ctx == nil {
		return -22 // EINVAL
	}
	if err := Init(); err != nil {
		return -22
	}
	return av_buffersink_get_frame_flags(uintptr(ctx), uintptr(frame), flags)
}

// BufferSinkGetFrame retrieves a frame from a buffersink filter (convenience wrapper).
func BufferSinkGetFrame(ctx Context, frame unsafe.Pointer) int32 {
	if ctx == nil {
		return -22 // EINVAL
	}
	if err := Init(); err != nil {
		return -22
	}
	return av_buffersink_get_frame(uintptr(ctx), uintptr(frame))
}

// InOutAlloc allocates an AVFilterInOut structure.
func InOutAlloc() InOut {
	if err := Init(); err != nil {
		return nil
	}
	return unsafe.Pointer(avfilter_inout_alloc())
}

// InOutFree frees an AVFilterInOut structure.
func InOutFree(inout *InOut) {
	if inout == nil || *inout == nil {
		return
	}
	if err := Init(); err != nil {
		return
	}
	avfilter_inout_free(inout)
}

// AVFilterInOut struct offsets (for FFmpeg 6.x)
// struct AVFilterInOut {
//     char *name;            // offset 0
//     AVFilterContext *filter_ctx;  // offset 8
//     int pad_idx;           // offset 16
//     struct AVFilterInOut *next;   // offset 24
// }
const (
	offsetInOutName      = 0
	offsetInOutFilterCtx = 8
	offsetInOutPadIdx    = 16
	offsetInOutNext      = 24
)

// InOutSetName sets the name field of an AVFilterInOut.
func InOutSetName(inout InOut, name string) {
	if inout == nil {
		return
	}
	// Note: In FFmpeg, this is typically "in" or "out" - allocated by avfilter_inout_alloc
	// We need to use av_strdup or similar to set it properly
	// For simplicity, we leave it null and let FFmpeg handle default names
}

// InOutSetFilterCtx sets the filter_ctx field of an AVFilterInOut.
func InOutSetFilterCtx(inout InOut, ctx Context) {
	if inout == nil {
		return
	}
	ptr := uintptr(inout) + offsetInOutFilterCtx
	*(*unsafe.Pointer)(unsafe.Pointer(ptr)) = ctx
}

// InOutSetPadIdx sets the pad_idx field of an AVFilterInOut.
func InOutSetPadIdx(inout InOut, padIdx int32) {
	if inout == nil {
		return
	}
	ptr := uintptr(inout) + offsetInOutPadIdx
	*(*int32)(unsafe.Pointer(ptr)) = padIdx
}

// InOutSetNext sets the next field of an AVFilterInOut.
func InOutSetNext(inout InOut, next InOut) {
	if inout == nil {
		return
	}
	ptr := uintptr(inout) + offsetInOutNext
	*(*unsafe.Pointer)(unsafe.Pointer(ptr)) = next
}

// InOutGetFilterCtx gets the filter_ctx from an AVFilterInOut.
func InOutGetFilterCtx(inout InOut) Context {
	if inout == nil {
		return nil
	}
	ptr := uintptr(inout) + offsetInOutFilterCtx
	return *(*unsafe.Pointer)(unsafe.Pointer(ptr))
}

// InOutGetPadIdx gets the pad_idx from an AVFilterInOut.
func InOutGetPadIdx(inout InOut) int32 {
	if inout == nil {
		return 0
	}
	ptr := uintptr(inout) + offsetInOutPadIdx
	return *(*int32)(unsafe.Pointer(ptr))
}

// InOutGetNext gets the next pointer from an AVFilterInOut.
func InOutGetNext(inout InOut) InOut {
	if inout == nil {
		return nil
	}
	ptr := uintptr(inout) + offsetInOutNext
	return *(*unsafe.Pointer)(unsafe.Pointer(ptr))
}

func registerOptionalLibFunc(fptr any, handle uintptr, name string) {
	defer func() { _ = recover() }()
	purego.RegisterLibFunc(fptr, handle, name)
}

// SendCommand sends a command to one or more filters in the graph identified by target
// (which may contain glob patterns). Returns the filter's text response on success.
func SendCommand(graph Graph, target, cmd, arg string, flags int32) (string, error) {
	if graph == nil {
		return "", fmt.Errorf("avfilter: nil graph")
	}
	if err := Init(); err != nil {
		return "", err
	}
	if avfilter_graph_send_command == nil {
		return "", fmt.Errorf("avfilter: avfilter_graph_send_command unavailable")
	}
	buf := make([]byte, 4096)
	ret := avfilter_graph_send_command(uintptr(graph), cString(target), cString(cmd), cString(arg), &buf[0], int32(len(buf)), flags)
	if ret < 0 {
		return "", fmt.Errorf("avfilter_graph_send_command failed: %d", ret)
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n]), nil
}

// QueueCommand schedules a command to be applied when frames with the given
// timestamp (in seconds) reach the matching filter(s).
func QueueCommand(graph Graph, target, cmd, arg string, ts float64, flags int32) error {
	if graph == nil {
		return fmt.Errorf("avfilter: nil graph")
	}
	if err := Init(); err != nil {
		return err
	}
	if avfilter_graph_queue_command == nil {
		return fmt.Errorf("avfilter: avfilter_graph_queue_command unavailable")
	}
	ret := avfilter_graph_queue_command(uintptr(graph), cString(target), cString(cmd), cString(arg), flags, ts)
	if ret < 0 {
		return fmt.Errorf("avfilter_graph_queue_command failed: %d", ret)
	}
	return nil
}

// AVBufferSrcParameters field offsets (best-effort, FFmpeg 6.x/7.x layout):
// int format; AVRational time_base; int width, height;
// AVRational sample_aspect_ratio; AVRational frame_rate;
// AVBufferRef *hw_frames_ctx; int sample_rate; AVChannelLayout ch_layout;
const (
	offsetSrcParamsFormat      = 0
	offsetSrcParamsTimeBase    = 4
	offsetSrcParamsWidth       = 12
	offsetSrcParamsHeight      = 16
	offsetSrcParamsSAR         = 20
	offsetSrcParamsFrameRate   = 28
	offsetSrcParamsHWFramesCtx = 40
	offsetSrcParamsSampleRate  = 48
)

// ConfigureHWVideoBufferSrc allocates an uninitialized video buffer-source
// context, sets its parameters (including a hardware frames context) via
// av_buffersrc_parameters_set, and initializes it. This is the path the
// backend requires for hardware-resident sources, where the plain
// args-string initializer used by GraphCreateFilter cannot carry a
// hw_frames_ctx.
func ConfigureHWVideoBufferSrc(graph Graph, name string, width, height int32, pixFmt int32, timeBase, frameRate [2]int32, hwFramesCtx unsafe.Pointer) (Context, error) {
	ctx, err := GraphCreateFilter(graph, GetByName("buffer"), name, "")
	if err != nil {
		return nil, err
	}
	if av_buffersrc_parameters_alloc == nil || av_buffersrc_parameters_set == nil {
		return ctx, fmt.Errorf("avfilter: buffersrc parameter API unavailable")
	}
	params := av_buffersrc_parameters_alloc()
	if params == 0 {
		return ctx, fmt.Errorf("avfilter: failed to allocate buffersrc parameters")
	}
	p := unsafe.Pointer(params)
	*(*int32)(unsafe.Pointer(uintptr(p) + offsetSrcParamsFormat)) = pixFmt
	*(*int32)(unsafe.Pointer(uintptr(p) + offsetSrcParamsTimeBase)) = timeBase[0]
	*(*int32)(unsafe.Pointer(uintptr(p) + offsetSrcParamsTimeBase + 4)) = timeBase[1]
	*(*int32)(unsafe.Pointer(uintptr(p) + offsetSrcParamsWidth)) = width
	*(*int32)(unsafe.Pointer(uintptr(p) + offsetSrcParamsHeight)) = height
	*(*int32)(unsafe.Pointer(uintptr(p) + offsetSrcParamsFrameRate)) = frameRate[0]
	*(*int32)(unsafe.Pointer(uintptr(p) + offsetSrcParamsFrameRate + 4)) = frameRate[1]
	*(*unsafe.Pointer)(unsafe.Pointer(uintptr(p) + offsetSrcParamsHWFramesCtx)) = hwFramesCtx
	ret := av_buffersrc_parameters_set(uintptr(ctx), params)
	if ret < 0 {
		return ctx, fmt.Errorf("av_buffersrc_parameters_set failed: %d", ret)
	}
	return ctx, nil
}

// SetContextHWDeviceCtx assigns a hardware device context to a filter context
// that advertises the "hardware device" capability (e.g. scale_vt, scale_cuda).
// The buffer reference is borrowed; the caller retains ownership.
func SetContextHWDeviceCtx(ctx Context, hwDeviceCtx unsafe.Pointer) {
	if ctx == nil || hwDeviceCtx == nil {
		return
	}
	*(*unsafe.Pointer)(unsafe.Pointer(uintptr(ctx) + offsetFilterCtxHWDeviceCtx)) = hwDeviceCtx
}

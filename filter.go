//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/seydx/av-sub008/avfilter"
	"github.com/seydx/av-sub008/avutil"
)

// FilterOutputConstraints narrows the buffer sink's acceptable output
// formats, mirroring the filter options table's "output" sub-object.
type FilterOutputConstraints struct {
	PixelFormats   []PixelFormat
	SampleFormats  []SampleFormat
	SampleRates    []int
	ChannelLayouts []ChannelLayout
}

// FilterOptions configures Filter.create.
type FilterOptions struct {
	Threads      int
	ScaleSwsOpts string
	Output       FilterOutputConstraints
	Hardware     *HardwareContext
}

// hardwareDeviceFilterNames is the closed table of filter names known to
// carry the "hardware device" capability, used for the graph's hardware
// detection pass since this binding does not expose AVFilter capability
// flags directly.
var hardwareDeviceFilterNames = map[string]bool{
	"scale_vt": true, "scale_cuda": true, "scale_npp": true, "scale_vaapi": true, "scale_qsv": true,
	"transpose_vt": true, "transpose_npp": true, "transpose_vaapi": true,
	"overlay_cuda": true, "overlay_vaapi": true, "overlay_qsv": true,
	"yadif_cuda": true, "deinterlace_vaapi": true, "deinterlace_qsv": true,
	"hwmap": true, "vpp_qsv": true, "hflip_vaapi": true, "vflip_vaapi": true,
}

// Filter drives a buffer-source -> user graph -> buffer-sink pipeline
// described by a single filtergraph string.
type Filter struct {
	desc     string
	opts     FilterOptions
	config   FilterConfig
	isVideo  bool

	graph      avfilter.Graph
	bufferSrc  avfilter.Context
	bufferSink avfilter.Context

	needsUpstreamFramesCtx bool
	hardwareRequired       bool

	initialized bool
	closed      bool

	scratch avutil.Frame
}

// NewFilter constructs a Filter. If the graph requires a hardware frames
// context that isn't yet available (from opts.Hardware), initialization is
// deferred to the first Process call.
func NewFilter(desc string, config FilterConfig, opts FilterOptions) (*Filter, error) {
	needsUpstream, hwRequired := detectHardwareRequirements(desc)
	if hwRequired && opts.Hardware == nil {
		return nil, NewKindedError(ErrorKindConfigInvalid, "filter.create", fmt.Errorf("graph %q requires a HardwareContext", desc))
	}

	f := &Filter{
		desc:                   desc,
		opts:                   opts,
		config:                 config,
		isVideo:                config.Type == MediaTypeVideo,
		needsUpstreamFramesCtx: needsUpstream,
		hardwareRequired:       hwRequired,
	}

	scratch := avutil.FrameAlloc()
	if scratch == nil {
		return nil, ErrOutOfMemory
	}
	f.scratch = scratch

	canInitNow := !needsUpstream || (opts.Hardware != nil && opts.Hardware.HasFramesContext())
	if canInitNow {
		if err := f.initialize(config.HWFramesCtx); err != nil {
			avutil.FrameFree(&scratch)
			return nil, err
		}
	}
	return f, nil
}

// detectHardwareRequirements tokenizes desc on commas and inspects each
// clause's leading filter name.
func detectHardwareRequirements(desc string) (needsUpstreamFramesCtx, hardwareRequired bool) {
	desc = strings.TrimSpace(desc)
	if desc == "" || desc == "null" || desc == "anull" {
		return false, false
	}
	hasHWUpload := false
	hasHWDeviceFilter := false
	for _, clause := range strings.Split(desc, ",") {
		name := filterClauseName(clause)
		switch name {
		case "hwupload":
			hasHWUpload = true
		case "hwdownload":
			// presence alone doesn't require a device context
		default:
			if hardwareDeviceFilterNames[name] {
				hasHWDeviceFilter = true
			}
		}
	}
	needsUpstreamFramesCtx = hasHWDeviceFilter && !hasHWUpload
	hardwareRequired = hasHWDeviceFilter
	return needsUpstreamFramesCtx, hardwareRequired
}

func filterClauseName(clause string) string {
	clause = strings.TrimSpace(clause)
	for i, r := range clause {
		if r == '=' || r == ' ' || r == '@' {
			return clause[:i]
		}
	}
	return clause
}

// initialize performs the six-step graph construction once the inputs
// (including any hardware frames context) are known.
func (f *Filter) initialize(hwFramesCtx unsafe.Pointer) error {
	if hwFramesCtx != nil {
		return f.buildGraph(&hwFramesCtxArg{ptr: hwFramesCtx})
	}
	return f.buildGraph(nil)
}

func (f *Filter) buildGraph(hwFramesCtxOverride *hwFramesCtxArg) error {
	graph := avfilter.GraphAlloc()
	if graph == nil {
		return ErrOutOfMemory
	}

	var hwFramesCtx avutilHWFramesCtx
	if hwFramesCtxOverride != nil {
		hwFramesCtx = hwFramesCtxOverride.ptr
	} else if f.config.HWFramesCtx != nil {
		hwFramesCtx = f.config.HWFramesCtx
	} else if f.opts.Hardware != nil {
		hwFramesCtx = f.opts.Hardware.FramesContext()
	}

	var srcCtx avfilter.Context
	var err error
	if f.isVideo && hwFramesCtx != nil {
		tb := [2]int32{f.config.TimeBase.Num, f.config.TimeBase.Den}
		fr := [2]int32{f.config.FrameRate.Num, f.config.FrameRate.Den}
		srcCtx, err = avfilter.ConfigureHWVideoBufferSrc(graph, "in", int32(f.config.Width), int32(f.config.Height), int32(f.config.PixelFormat), tb, fr, hwFramesCtx)
	} else {
		args := f.bufferSourceArgs()
		filterName := "buffer"
		if !f.isVideo {
			filterName = "abuffer"
		}
		srcCtx, err = avfilter.GraphCreateFilter(graph, avfilter.GetByName(filterName), "in", args)
	}
	if err != nil {
		avfilter.GraphFree(&graph)
		return NewKindedError(ErrorKindConfigInvalid, "filter.create", err)
	}

	sinkName := "buffersink"
	if !f.isVideo {
		sinkName = "abuffersink"
	}
	sinkCtx, err := avfilter.GraphCreateFilter(graph, avfilter.GetByName(sinkName), "out", "")
	if err != nil {
		avfilter.GraphFree(&graph)
		return NewKindedError(ErrorKindConfigInvalid, "filter.create", err)
	}

	trimmed := strings.TrimSpace(f.desc)
	if trimmed == "" || trimmed == "null" || trimmed == "anull" {
		if err := avfilter.Link(srcCtx, 0, sinkCtx, 0); err != nil {
			avfilter.GraphFree(&graph)
			return NewKindedError(ErrorKindConfigInvalid, "filter.create", err)
		}
	} else {
		// GraphParse2 parses trimmed as a standalone chain and returns its
		// own open ends; it does not take our buffer source/sink as
		// in/out arguments (that raw-parse shape has linking issues of
		// its own). Link the returned ends to bufferSrc/bufferSink
		// ourselves: bufferSrc feeds the chain's first open input
		// (inputs), and the chain's last open output (outputs) feeds
		// bufferSink.
		inputs, outputs, err := avfilter.GraphParse2(graph, trimmed)
		if err != nil {
			avfilter.GraphFree(&graph)
			return NewKindedError(ErrorKindConfigInvalid, "filter.create", err)
		}

		if inputs != nil {
			inCtx := avfilter.InOutGetFilterCtx(inputs)
			inPad := avfilter.InOutGetPadIdx(inputs)
			if err := avfilter.Link(srcCtx, 0, inCtx, uint32(inPad)); err != nil {
				avfilter.InOutFree(&inputs)
				avfilter.InOutFree(&outputs)
				avfilter.GraphFree(&graph)
				return NewKindedError(ErrorKindConfigInvalid, "filter.create", err)
			}
		}

		if outputs != nil {
			outCtx := avfilter.InOutGetFilterCtx(outputs)
			outPad := avfilter.InOutGetPadIdx(outputs)
			if err := avfilter.Link(outCtx, uint32(outPad), sinkCtx, 0); err != nil {
				avfilter.InOutFree(&inputs)
				avfilter.InOutFree(&outputs)
				avfilter.GraphFree(&graph)
				return NewKindedError(ErrorKindConfigInvalid, "filter.create", err)
			}
		}

		avfilter.InOutFree(&inputs)
		avfilter.InOutFree(&outputs)
	}

	// The device context is set on the buffer source and buffer sink only;
	// the filters parsed from desc are not given it.
	if f.opts.Hardware != nil {
		avfilter.SetContextHWDeviceCtx(srcCtx, f.opts.Hardware.DeviceContext())
		avfilter.SetContextHWDeviceCtx(sinkCtx, f.opts.Hardware.DeviceContext())
	}

	if err := avfilter.GraphConfig(graph); err != nil {
		avfilter.GraphFree(&graph)
		return NewKindedError(ErrorKindConfigInvalid, "filter.create", err)
	}

	f.graph = graph
	f.bufferSrc = srcCtx
	f.bufferSink = sinkCtx
	f.initialized = true
	return nil
}

type hwFramesCtxArg struct{ ptr avutilHWFramesCtx }

type avutilHWFramesCtx = avutil.HWFramesContext

func (f *Filter) bufferSourceArgs() string {
	if f.isVideo {
		sar := f.config.SampleAspect
		if !sar.IsValid() {
			sar = Rational{Num: 1, Den: 1}
		}
		args := fmt.Sprintf("video_size=%dx%d:pix_fmt=%d:time_base=%d/%d:pixel_aspect=%d/%d",
			f.config.Width, f.config.Height, int32(f.config.PixelFormat),
			f.config.TimeBase.Num, f.config.TimeBase.Den, sar.Num, sar.Den)
		if f.config.FrameRate.IsValid() {
			args += fmt.Sprintf(":frame_rate=%d/%d", f.config.FrameRate.Num, f.config.FrameRate.Den)
		}
		return args
	}
	mask := f.config.ChannelLayout.Mask
	if mask == 0 {
		mask = ChannelLayoutMaskStereo
	}
	return fmt.Sprintf("sample_rate=%d:sample_fmt=%d:channel_layout=0x%x:time_base=%d/%d",
		f.config.SampleRate, int32(f.config.SampleFormat), mask, f.config.TimeBase.Num, f.config.TimeBase.Den)
}

// IsInitialized reports whether the graph has been built.
func (f *Filter) IsInitialized() bool { return f.initialized }

// Process submits one frame and attempts one receive. If initialization
// was deferred and frame carries a hw_frames_ctx, the graph is configured
// now using that context before processing.
func (f *Filter) Process(frame *Frame) (*Frame, error) {
	if f.closed {
		return nil, NewKindedError(ErrorKindStateError, "filter.process", ErrClosed)
	}
	if !f.initialized {
		if frame == nil {
			return nil, nil
		}
		hwCtx := frame.HWFramesCtx()
		if hwCtx == nil {
			return nil, NewKindedError(ErrorKindConfigInvalid, "filter.process", fmt.Errorf("deferred filter graph requires a frame with hw_frames_ctx"))
		}
		f.config.PixelFormat = frame.PixelFormat()
		if err := f.buildGraph(&hwFramesCtxArg{ptr: hwCtx}); err != nil {
			return nil, err
		}
	}

	if frame != nil {
		if err := avfilter.BufferSrcAddFrameFlags(f.bufferSrc, frame.Raw(), 0); err != nil {
			return nil, NewKindedError(ErrorKindFatal, "filter.process", err)
		}
	}

	return f.receiveOne()
}

func (f *Filter) receiveOne() (*Frame, error) {
	ret := avfilter.BufferSinkGetFrame(f.bufferSink, f.scratch)
	if ret < 0 {
		if avutil.IsAgain(avutil.NewError(ret, "")) || avutil.IsEOF(avutil.NewError(ret, "")) {
			return nil, nil
		}
		return nil, NewKindedError(ErrorKindFatal, "filter.process", avutil.NewError(ret, "filter.receive"))
	}
	return cloneScratchFrame(f.scratch)
}

// Receive drains one output frame without submitting new input.
func (f *Filter) Receive() (*Frame, error) {
	if !f.initialized {
		return nil, nil
	}
	return f.receiveOne()
}

// Flush submits EOS to the buffer source.
func (f *Filter) Flush() error {
	if !f.initialized {
		return nil
	}
	return avfilter.BufferSrcAddFrameFlags(f.bufferSrc, nil, 0)
}

// FlushFrames submits EOS and drains all remaining output frames.
func (f *Filter) FlushFrames() func(yield func(*Frame) bool) {
	return func(yield func(*Frame) bool) {
		if err := f.Flush(); err != nil {
			return
		}
		for {
			frame, err := f.receiveOne()
			if err != nil || frame == nil {
				return
			}
			if !yield(frame) {
				return
			}
		}
	}
}

// Frames returns a lazy sequence: for each input frame, process then drain
// all immediately available outputs, freeing the input; at the end, flush
// and drain again.
func (f *Filter) Frames(in func(yield func(*Frame) bool)) func(yield func(*Frame) bool) {
	return func(yield func(*Frame) bool) {
		stop := false
		in(func(frame *Frame) bool {
			out, err := f.Process(frame)
			if err != nil {
				frame.Free()
				stop = true
				return false
			}
			if out != nil {
				if !yield(out) {
					frame.Free()
					stop = true
					return false
				}
			}
			for {
				more, err := f.receiveOne()
				if err != nil || more == nil {
					break
				}
				if !yield(more) {
					frame.Free()
					stop = true
					return false
				}
			}
			frame.Free()
			return true
		})
		if stop {
			return
		}
		for frame := range f.FlushFrames() {
			if !yield(frame) {
				return
			}
		}
	}
}

// SendCommand issues a synchronous command to matching filter(s) in the
// graph, returning their text response.
func (f *Filter) SendCommand(target, cmd, arg string, flags int32) (string, error) {
	if !f.initialized {
		return "", NewKindedError(ErrorKindStateError, "filter.send_command", ErrClosed)
	}
	resp, err := avfilter.SendCommand(f.graph, target, cmd, arg, flags)
	if err != nil {
		return "", NewKindedError(ErrorKindFatal, "filter.send_command", err)
	}
	return resp, nil
}

// QueueCommand schedules cmd to apply to target when frames timestamped at
// or after tsSeconds pass through.
func (f *Filter) QueueCommand(target, cmd, arg string, tsSeconds float64, flags int32) error {
	if !f.initialized {
		return NewKindedError(ErrorKindStateError, "filter.queue_command", ErrClosed)
	}
	if err := avfilter.QueueCommand(f.graph, target, cmd, arg, tsSeconds, flags); err != nil {
		return NewKindedError(ErrorKindFatal, "filter.queue_command", err)
	}
	return nil
}

// Close releases the filter graph. Idempotent.
func (f *Filter) Close() error {
	if f == nil || f.closed {
		return nil
	}
	f.closed = true
	if f.scratch != nil {
		avutil.FrameFree(&f.scratch)
	}
	if f.graph != nil {
		avfilter.GraphFree(&f.graph)
	}
	return nil
}

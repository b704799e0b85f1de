//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"errors"
	"sync"

	"github.com/seydx/av-sub008/avutil"
)

// HWDeviceType represents a hardware accelerator type.
type HWDeviceType = avutil.HWDeviceType

// Hardware device type constants (re-exported from avutil)
const (
	HWDeviceTypeNone         = avutil.HWDeviceTypeNone
	HWDeviceTypeVDPAU        = avutil.HWDeviceTypeVDPAU
	HWDeviceTypeCUDA         = avutil.HWDeviceTypeCUDA
	HWDeviceTypeVAAPI        = avutil.HWDeviceTypeVAAPI
	HWDeviceTypeDXVA2        = avutil.HWDeviceTypeDXVA2
	HWDeviceTypeQSV          = avutil.HWDeviceTypeQSV
	HWDeviceTypeVideoToolbox = avutil.HWDeviceTypeVideoToolbox
	HWDeviceTypeD3D11VA      = avutil.HWDeviceTypeD3D11VA
	HWDeviceTypeDRM          = avutil.HWDeviceTypeDRM
	HWDeviceTypeOpenCL       = avutil.HWDeviceTypeOpenCL
	HWDeviceTypeMediaCodec   = avutil.HWDeviceTypeMediaCodec
	HWDeviceTypeVulkan       = avutil.HWDeviceTypeVulkan
)

// devicePixelFormats mirrors FFmpeg's hardware-resident AVPixelFormat
// values per device type. Best-effort: a library version skew here yields
// a wrong-but-harmless PixelFormat rather than a crash, matching the
// offset-poke fallback policy used throughout this package.
var devicePixelFormats = map[HWDeviceType]PixelFormat{
	HWDeviceTypeVAAPI:        PixelFormat(44),
	HWDeviceTypeCUDA:         PixelFormat(119),
	HWDeviceTypeVideoToolbox: PixelFormat(161),
	HWDeviceTypeDXVA2:        PixelFormat(61),
	HWDeviceTypeD3D11VA:      PixelFormat(160),
	HWDeviceTypeQSV:          PixelFormat(118),
	HWDeviceTypeVDPAU:        PixelFormat(57),
	HWDeviceTypeDRM:          PixelFormat(147),
	HWDeviceTypeVulkan:       PixelFormat(189),
}

// HWDevice wraps an FFmpeg hardware device context (AVBufferRef).
type HWDevice struct {
	mu         sync.Mutex
	deviceCtx  avutil.HWDeviceContext
	deviceType HWDeviceType
	closed     bool
}

// NewHWDevice creates a hardware device context for the given type.
// device is an optional device path (e.g. "/dev/dri/renderD128" for VAAPI);
// pass "" for the default device.
func NewHWDevice(deviceType HWDeviceType, device string) (*HWDevice, error) {
	ctx, err := avutil.HWDeviceCtxCreate(deviceType, device)
	if err != nil {
		return nil, err
	}
	return &HWDevice{deviceCtx: ctx, deviceType: deviceType}, nil
}

// NewHWDeviceByName creates a hardware device context by name
// ("vaapi", "cuda", "videotoolbox", ...).
func NewHWDeviceByName(name, device string) (*HWDevice, error) {
	deviceType := avutil.HWDeviceFindTypeByName(name)
	if deviceType == HWDeviceTypeNone {
		return nil, NewKindedError(ErrorKindNotFound, "hwdevice.create", errors.New("unknown hardware device type: "+name))
	}
	return NewHWDevice(deviceType, device)
}

func (d *HWDevice) Type() HWDeviceType { return d.deviceType }

func (d *HWDevice) TypeName() string { return avutil.HWDeviceGetTypeName(d.deviceType) }

// Context returns the underlying hardware device context.
func (d *HWDevice) Context() avutil.HWDeviceContext {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceCtx
}

// Close releases the hardware device context. Idempotent.
func (d *HWDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.deviceCtx != nil {
		avutil.FreeBufferRef(&d.deviceCtx)
	}
	return nil
}

// HardwareContext references a hardware device and, optionally, a frames
// pool derived from it (e.g. by an upstream hwupload filter or a decoder
// that produced hardware-resident frames). It is a shared, creator-owned
// resource: Decoders/Encoders/Filters that consume it MUST NOT call Close.
type HardwareContext struct {
	mu           sync.Mutex
	device       *HWDevice
	framesCtx    avutil.HWFramesContext
	framesCtxSet bool
}

// NewHardwareContext wraps an existing device with no frames pool yet.
func NewHardwareContext(device *HWDevice) *HardwareContext {
	return &HardwareContext{device: device}
}

// DeviceType reports the wrapped device's accelerator kind.
func (h *HardwareContext) DeviceType() HWDeviceType {
	if h == nil || h.device == nil {
		return HWDeviceTypeNone
	}
	return h.device.Type()
}

// DeviceTypeName is the human-readable device kind name.
func (h *HardwareContext) DeviceTypeName() string {
	if h == nil || h.device == nil {
		return ""
	}
	return h.device.TypeName()
}

// DevicePixelFormat is the hardware-resident pixel format frames produced
// on this device are expected to carry.
func (h *HardwareContext) DevicePixelFormat() PixelFormat {
	if h == nil {
		return avutil.PixelFormatNone
	}
	if fmt, ok := devicePixelFormats[h.DeviceType()]; ok {
		return fmt
	}
	return avutil.PixelFormatNone
}

// DeviceContext returns the underlying device context handle.
func (h *HardwareContext) DeviceContext() avutil.HWDeviceContext {
	if h == nil || h.device == nil {
		return nil
	}
	return h.device.Context()
}

// FramesContext returns the bound frames pool, or nil if one has not yet
// been acquired (e.g. before an hwupload filter or a hardware decode has
// run).
func (h *HardwareContext) FramesContext() avutil.HWFramesContext {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.framesCtx
}

// SetFramesContext binds a frames pool acquired from upstream (a decoder's
// output frame, or a filter graph's hwupload node). Does not take
// ownership: the caller that owns the AVBufferRef remains responsible for
// it, consistent with the "driver MUST NOT dispose the HardwareContext"
// policy for both the device and any frames pool it carries.
func (h *HardwareContext) SetFramesContext(ctx avutil.HWFramesContext) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.framesCtx = ctx
	h.framesCtxSet = ctx != nil
}

// HasFramesContext reports whether a frames pool has been bound yet.
func (h *HardwareContext) HasFramesContext() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.framesCtxSet
}

// AvailableHWDeviceTypes probes the candidate device types listed below
// (OpenCL and MediaCodec are not probed) and returns those the local FFmpeg
// build can actually create a context for.
func AvailableHWDeviceTypes() []HWDeviceType {
	candidates := []HWDeviceType{
		HWDeviceTypeVAAPI,
		HWDeviceTypeCUDA,
		HWDeviceTypeVideoToolbox,
		HWDeviceTypeDXVA2,
		HWDeviceTypeD3D11VA,
		HWDeviceTypeQSV,
		HWDeviceTypeVDPAU,
		HWDeviceTypeVulkan,
		HWDeviceTypeDRM,
	}
	var available []HWDeviceType
	for _, t := range candidates {
		ctx, err := avutil.HWDeviceCtxCreate(t, "")
		if err == nil && ctx != nil {
			available = append(available, t)
			avutil.FreeBufferRef(&ctx)
		}
	}
	return available
}

// GetHWDeviceTypeName returns the name for a hardware device type.
func GetHWDeviceTypeName(t HWDeviceType) string { return avutil.HWDeviceGetTypeName(t) }

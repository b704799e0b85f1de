//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/seydx/av-sub008/avcodec"
	"github.com/seydx/av-sub008/avutil"
	"github.com/seydx/av-sub008/internal/bindings"
)

// bsfContext is an opaque AVBSFContext pointer.
type bsfContext = unsafe.Pointer

var (
	avBsfGetByName     func(name string) uintptr
	avBsfAllocContext  func(filter uintptr, ctx *unsafe.Pointer) int32
	avBsfInit          func(ctx uintptr) int32
	avBsfFlush         func(ctx uintptr)
	avBsfFree          func(ctx *unsafe.Pointer)
	avBsfSendPacket    func(ctx, pkt uintptr) int32
	avBsfReceivePacket func(ctx, pkt uintptr) int32

	bsfBindingsOnce       sync.Once
	bsfBindingsRegistered bool
)

func registerBSFBindings() {
	bsfBindingsOnce.Do(func() {
		if err := bindings.Load(); err != nil {
			return
		}
		lib := bindings.LibAVCodec()
		if lib == 0 {
			return
		}
		purego.RegisterLibFunc(&avBsfGetByName, lib, "av_bsf_get_by_name")
		purego.RegisterLibFunc(&avBsfAllocContext, lib, "av_bsf_alloc")
		purego.RegisterLibFunc(&avBsfInit, lib, "av_bsf_init")
		purego.RegisterLibFunc(&avBsfFlush, lib, "av_bsf_flush")
		purego.RegisterLibFunc(&avBsfFree, lib, "av_bsf_free")
		purego.RegisterLibFunc(&avBsfSendPacket, lib, "av_bsf_send_packet")
		purego.RegisterLibFunc(&avBsfReceivePacket, lib, "av_bsf_receive_packet")
		bsfBindingsRegistered = true
	})
}

// Well-known bitstream filter names.
const (
	BSFNameH264Mp4ToAnnexB  = "h264_mp4toannexb"
	BSFNameHEVCMp4ToAnnexB  = "hevc_mp4toannexb"
	BSFNameAACADTSToASC     = "aac_adtstoasc"
	BSFNameExtractExtradata = "extract_extradata"
	BSFNameDumpExtradata    = "dump_extra"
	BSFNameRemoveExtradata  = "remove_extra"
	BSFNameNull             = "null"
)

// AVBSFContext field offsets, best-effort for the common FFmpeg 6.x/7.x layout.
const (
	offsetBsfParIn       = 24 // AVCodecParameters *par_in
	offsetBsfParOut      = 32 // AVCodecParameters *par_out
	offsetBsfTimeBaseIn  = 40 // AVRational time_base_in
	offsetBsfTimeBaseOut = 48 // AVRational time_base_out
)

// BSF drives a packet-to-packet bitstream transform such as a format
// conversion or a metadata strip.
type BSF struct {
	ctx     bsfContext
	stream  *Stream
	scratch avcodec.Packet
	closed  bool
}

// NewBSF locates filter by name, copies codec parameters and time base from
// stream, and initializes the context.
func NewBSF(name string, stream *Stream) (*BSF, error) {
	registerBSFBindings()
	if !bsfBindingsRegistered {
		return nil, NewKindedError(ErrorKindFatal, "bsf.create", bindings.ErrNotLoaded)
	}

	filter := unsafe.Pointer(avBsfGetByName(name))
	if filter == nil {
		return nil, NewKindedError(ErrorKindNotFound, "bsf.create", fmt.Errorf("bitstream filter %q not found", name))
	}

	var ctx bsfContext
	if ret := avBsfAllocContext(uintptr(filter), &ctx); ret < 0 {
		return nil, NewKindedError(ErrorKindFatal, "bsf.create", avutil.NewError(ret, "av_bsf_alloc"))
	}

	if stream != nil {
		parIn := *(*unsafe.Pointer)(unsafe.Pointer(uintptr(ctx) + offsetBsfParIn))
		if parIn != nil {
			if err := avcodec.ParametersCopy(parIn, stream.raw.params); err != nil {
				avBsfFree(&ctx)
				return nil, NewKindedError(ErrorKindConfigInvalid, "bsf.create", err)
			}
		}
		*(*int32)(unsafe.Pointer(uintptr(ctx) + offsetBsfTimeBaseIn)) = stream.TimeBase.Num
		*(*int32)(unsafe.Pointer(uintptr(ctx) + offsetBsfTimeBaseIn + 4)) = stream.TimeBase.Den
	}

	if ret := avBsfInit(uintptr(ctx)); ret < 0 {
		avBsfFree(&ctx)
		return nil, NewKindedError(ErrorKindConfigInvalid, "bsf.create", avutil.NewError(ret, "av_bsf_init"))
	}

	scratch := avcodec.PacketAlloc()
	if scratch == nil {
		avBsfFree(&ctx)
		return nil, ErrOutOfMemory
	}

	return &BSF{ctx: ctx, stream: stream, scratch: scratch}, nil
}

// GetStream returns the stream this filter was created from, if any.
func (b *BSF) GetStream() *Stream { return b.stream }

// OutputTimeBase reports the output time base, observable after creation.
func (b *BSF) OutputTimeBase() Rational {
	num := *(*int32)(unsafe.Pointer(uintptr(b.ctx) + offsetBsfTimeBaseOut))
	den := *(*int32)(unsafe.Pointer(uintptr(b.ctx) + offsetBsfTimeBaseOut + 4))
	if den == 0 {
		den = 1
	}
	return Rational{Num: num, Den: den}
}

// receiveOne attempts one av_bsf_receive_packet call, mapping "again"/EOF
// to (nil, nil) and any other error to a fatal, kinded error.
func (b *BSF) receiveOne() (*Packet, error) {
	ret := avBsfReceivePacket(uintptr(b.ctx), uintptr(b.scratch))
	if ret < 0 {
		recvErr := avutil.NewError(ret, "av_bsf_receive_packet")
		if avutil.IsAgain(recvErr) || avutil.IsEOF(recvErr) {
			return nil, nil
		}
		return nil, NewKindedError(ErrorKindFatal, "bsf.process", recvErr)
	}

	out := avcodec.PacketAlloc()
	if out == nil {
		return nil, ErrOutOfMemory
	}
	if err := avcodec.PacketRef(out, b.scratch); err != nil {
		avcodec.PacketFree(&out)
		return nil, NewKindedError(ErrorKindFatal, "bsf.process", err)
	}
	avcodec.PacketUnref(b.scratch)
	return &Packet{ptr: out, owned: true}, nil
}

// Process submits one packet (or nil for EOS) and drains every packet it
// produces in response: a bitstream filter may hold a submitted packet and
// emit zero, one, or several output packets, so a single receive is not
// enough to empty what send just made available.
func (b *BSF) Process(pkt *Packet) ([]*Packet, error) {
	if b.closed {
		return nil, NewKindedError(ErrorKindStateError, "bsf.process", ErrClosed)
	}

	var raw uintptr
	if pkt != nil {
		raw = uintptr(pkt.Raw())
	}

	if ret := avBsfSendPacket(uintptr(b.ctx), raw); ret < 0 {
		sendErr := avutil.NewError(ret, "av_bsf_send_packet")
		if !avutil.IsAgain(sendErr) {
			return nil, NewKindedError(ErrorKindFatal, "bsf.process", sendErr)
		}
	}

	var out []*Packet
	for {
		pkt, err := b.receiveOne()
		if err != nil {
			return out, err
		}
		if pkt == nil {
			return out, nil
		}
		out = append(out, pkt)
	}
}

// Drain repeatedly calls receiveOne to collect every packet currently
// buffered without submitting new input or EOS.
func (b *BSF) Drain() ([]*Packet, error) {
	var out []*Packet
	for {
		pkt, err := b.receiveOne()
		if err != nil {
			return out, err
		}
		if pkt == nil {
			return out, nil
		}
		out = append(out, pkt)
	}
}

// Packets returns a lazy sequence: for each input packet, process and yield
// every output it produces, freeing the input; on completion, flush and
// drain. No input packet is submitted while a prior send's output is still
// pending, so none are dropped when one input expands into several outputs.
func (b *BSF) Packets(in func(yield func(*Packet) bool)) func(yield func(*Packet) bool) {
	return func(yield func(*Packet) bool) {
		stop := false
		in(func(pkt *Packet) bool {
			outs, err := b.Process(pkt)
			pkt.Free()
			if err != nil {
				b.Reset()
				stop = true
				return false
			}
			for _, out := range outs {
				if !yield(out) {
					stop = true
					return false
				}
			}
			return true
		})
		if stop {
			return
		}
		for _, pkt := range b.flushAll() {
			if !yield(pkt) {
				return
			}
		}
	}
}

func (b *BSF) flushAll() []*Packet {
	pkts, err := b.Flush()
	if err != nil {
		return nil
	}
	return pkts
}

// Flush submits EOS, drains all outputs, and resets internal state.
func (b *BSF) Flush() ([]*Packet, error) {
	if b.closed {
		return nil, NewKindedError(ErrorKindStateError, "bsf.flush", ErrClosed)
	}
	results, err := b.Process(nil)
	b.Reset()
	if err != nil {
		return results, err
	}
	return results, nil
}

// Reset clears internal filter state without draining buffered output.
func (b *BSF) Reset() {
	if b.closed || avBsfFlush == nil {
		return
	}
	avBsfFlush(uintptr(b.ctx))
}

// Close releases the filter context. Idempotent.
func (b *BSF) Close() error {
	if b == nil || b.closed {
		return nil
	}
	b.closed = true
	if b.scratch != nil {
		avcodec.PacketFree(&b.scratch)
	}
	if b.ctx != nil && avBsfFree != nil {
		avBsfFree(&b.ctx)
	}
	return nil
}

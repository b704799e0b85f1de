//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"errors"
	"io"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/seydx/av-sub008/avcodec"
	"github.com/seydx/av-sub008/avformat"
	"github.com/seydx/av-sub008/avutil"
	"github.com/seydx/av-sub008/internal/bindings"
	"github.com/seydx/av-sub008/internal/handles"
)

// IOCallbacks provides custom I/O operations for reading and writing media.
type IOCallbacks struct {
	// Read reads up to len(buf) bytes into buf.
	// Returns the number of bytes read and any error encountered.
	// At end of file, returns 0, io.EOF.
	Read func(buf []byte) (int, error)

	// Write writes len(buf) bytes from buf.
	// Returns the number of bytes written and any error encountered.
	Write func(buf []byte) (int, error)

	// Seek seeks to the given offset.
	// whence: 0 = SEEK_SET, 1 = SEEK_CUR, 2 = SEEK_END
	// Returns the new offset and any error encountered.
	Seek func(offset int64, whence int) (int64, error)
}

// CustomIOContext wraps an AVIOContext with custom callbacks.
type CustomIOContext struct {
	mu        sync.Mutex
	avioCtx   avformat.IOContext
	buffer    unsafe.Pointer // Allocated with av_malloc, owned by FFmpeg
	bufferGo  []byte         // Go slice view of buffer (for callbacks)
	callbacks *IOCallbacks
	handle    uintptr
	closed    bool
}

// Default buffer size for custom I/O (32KB)
const defaultIOBufferSize = 32 * 1024

// Pre-registered callbacks to avoid hitting purego's callback limit.
// These are registered once and reused across all CustomIOContext instances.
var (
	ioCallbacksOnce    sync.Once
	readCallbackPtr    uintptr
	writeCallbackPtr   uintptr
	seekCallbackPtr    uintptr
	ioCallbacksInitErr error
)

func initIOCallbacks() error {
	ioCallbacksOnce.Do(func() {
		// Read callback: int read_packet(void *opaque, uint8_t *buf, int buf_size)
		readCallbackPtr = purego.NewCallback(func(_ purego.CDecl, opaque unsafe.Pointer, buf *byte, bufSize int32) int32 {
			ctx := handles.Lookup(uintptr(opaque))
			if ctx == nil {
				return -1
			}
			ioCtx := ctx.(*CustomIOContext)
			if ioCtx.callbacks == nil || ioCtx.callbacks.Read == nil {
				return -1
			}

			// Create Go slice from C buffer
			goBuf := unsafe.Slice(buf, bufSize)

			n, err := ioCtx.callbacks.Read(goBuf)
			if err != nil {
				if err == io.EOF {
					if n > 0 {
						return int32(n)
					}
					return avutil.AVERROR_EOF
				}
				return -1
			}
			return int32(n)
		})

		// Write callback: int write_packet(void *opaque, uint8_t *buf, int buf_size)
		writeCallbackPtr = purego.NewCallback(func(_ purego.CDecl, opaque unsafe.Pointer, buf *byte, bufSize int32) int32 {
			ctx := handles.Lookup(uintptr(opaque))
			if ctx == nil {
				return -1
			}
			ioCtx := ctx.(*CustomIOContext)
			if ioCtx.callbacks == nil || ioCtx.callbacks.Write == nil {
				return -1
			}

			// Create Go slice from C buffer
			goBuf := unsafe.Slice(buf, bufSize)

			n, err := ioCtx.callbacks.Write(goBuf)
			if err != nil {
				return -1
			}
			return int32(n)
		})

		// Seek callback: int64_t seek(void *opaque, int64_t offset, int whence)
		seekCallbackPtr = purego.NewCallback(func(_ purego.CDecl, opaque unsafe.Pointer, offset int64, whence int32) int64 {
			ctx := handles.Lookup(uintptr(opaque))
			if ctx == nil {
				return -1
			}
			ioCtx := ctx.(*CustomIOContext)
			if ioCtx.callbacks == nil || ioCtx.callbacks.Seek == nil {
				// If no seek callback but whence is AVSEEK_SIZE, return -1 (unknown size)
				if whence == 0x10000 { // AVSEEK_SIZE
					return -1
				}
				return -1
			}

			// Handle AVSEEK_SIZE request
			if whence == 0x10000 { // AVSEEK_SIZE
				// Try to get size by seeking to end and back
				current, err := ioCtx.callbacks.Seek(0, io.SeekCurrent)
				if err != nil {
					return -1
				}
				end, err := ioCtx.callbacks.Seek(0, io.SeekEnd)
				if err != nil {
					return -1
				}
				_, err = ioCtx.callbacks.Seek(current, io.SeekStart)
				if err != nil {
					return -1
				}
				return end
			}

			newPos, err := ioCtx.callbacks.Seek(offset, int(whence))
			if err != nil {
				return -1
			}
			return newPos
		})
	})

	return ioCallbacksInitErr
}

// NewCustomIOContext creates a new custom I/O context with the given callbacks.
func NewCustomIOContext(callbacks *IOCallbacks, writable bool) (*CustomIOContext, error) {
	return NewCustomIOContextWithSize(callbacks, writable, defaultIOBufferSize)
}

// NewCustomIOContextWithSize creates a new custom I/O context with a specific buffer size.
func NewCustomIOContextWithSize(callbacks *IOCallbacks, writable bool, bufferSize int) (*CustomIOContext, error) {
	if callbacks == nil {
		return nil, errors.New("ffgo: callbacks cannot be nil")
	}
	if !writable && callbacks.Read == nil {
		return nil, errors.New("ffgo: read callback required for readable I/O context")
	}
	if writable && callbacks.Write == nil {
		return nil, errors.New("ffgo: write callback required for writable I/O context")
	}

	// Ensure FFmpeg is loaded
	if err := bindings.Load(); err != nil {
		return nil, err
	}

	// Initialize global callbacks
	if err := initIOCallbacks(); err != nil {
		return nil, err
	}

	// Allocate buffer with av_malloc (required by FFmpeg - it will free it)
	buffer := avutil.Malloc(uintptr(bufferSize))
	if buffer == nil {
		return nil, errors.New("ffgo: failed to allocate I/O buffer")
	}

	ctx := &CustomIOContext{
		buffer:    buffer,
		bufferGo:  unsafe.Slice((*byte)(buffer), bufferSize),
		callbacks: callbacks,
	}

	// Register handle for callback lookup
	ctx.handle = handles.Register(ctx)

	// Determine which callbacks to use
	var readCb, writeCb, seekCb uintptr
	if callbacks.Read != nil {
		readCb = readCallbackPtr
	}
	if callbacks.Write != nil {
		writeCb = writeCallbackPtr
	}
	if callbacks.Seek != nil {
		seekCb = seekCallbackPtr
	}

	// Create AVIOContext
	ctx.avioCtx = avformat.IOAllocContext(
		buffer,
		bufferSize,
		writable,
		unsafe.Pointer(ctx.handle),
		readCb,
		writeCb,
		seekCb,
	)

	if ctx.avioCtx == nil {
		avutil.Free(buffer)
		handles.Unregister(ctx.handle)
		return nil, errors.New("ffgo: failed to create AVIOContext")
	}

	return ctx, nil
}

// Close releases the I/O context.
// Note: avio_context_free also frees the buffer, so we don't free it manually.
func (c *CustomIOContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	// Free AVIOContext (this also frees the buffer)
	if c.avioCtx != nil {
		avformat.IOContextFree(&c.avioCtx)
	}

	// Clear buffer references (buffer is freed by IOContextFree)
	c.buffer = nil
	c.bufferGo = nil

	// Unregister handle
	if c.handle != 0 {
		handles.Unregister(c.handle)
		c.handle = 0
	}

	return nil
}

// AVIOContext returns the underlying AVIOContext pointer.
func (c *CustomIOContext) AVIOContext() avformat.IOContext {
	return c.avioCtx
}


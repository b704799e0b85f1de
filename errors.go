//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"errors"

	"github.com/seydx/av-sub008/avutil"
)

// FFmpegError is an error from FFmpeg operations.
// It contains the raw FFmpeg error code and a human-readable message.
type FFmpegError = avutil.Error

// Common errors
var (
	// ErrOutOfMemory indicates memory allocation failed.
	ErrOutOfMemory = errors.New("ffgo: out of memory")

	// ErrNotLoaded indicates FFmpeg libraries are not loaded.
	ErrNotLoaded = errors.New("ffgo: FFmpeg libraries not loaded")

	// ErrClosed indicates the resource has been closed.
	ErrClosed = errors.New("ffgo: resource is closed")

	// ErrNoVideoStream indicates no video stream is present.
	ErrNoVideoStream = errors.New("ffgo: no video stream")

	// ErrNoAudioStream indicates no audio stream is present.
	ErrNoAudioStream = errors.New("ffgo: no audio stream")

	// ErrDecoderNotOpened indicates the decoder has not been opened.
	ErrDecoderNotOpened = errors.New("ffgo: decoder not opened")
)

// Error code constants re-exported from avutil
const (
	AVERROR_EOF               = avutil.AVERROR_EOF
	AVERROR_EAGAIN            = avutil.AVERROR_EAGAIN
	AVERROR_EINVAL            = avutil.AVERROR_EINVAL
	AVERROR_ENOMEM            = avutil.AVERROR_ENOMEM
	AVERROR_DECODER_NOT_FOUND = avutil.AVERROR_DECODER_NOT_FOUND
	AVERROR_ENCODER_NOT_FOUND = avutil.AVERROR_ENCODER_NOT_FOUND
)

// NewError creates an FFmpegError from an error code.
// Returns nil if code >= 0.
func NewError(code int32, op string) error {
	return avutil.NewError(code, op)
}

// ErrorCode returns the FFmpeg error code from an error, or 0 if not an FFmpeg error.
func ErrorCode(err error) int32 {
	return avutil.Code(err)
}

// ErrorKind classifies failures into the categories callers branch on:
// the transient Again that a caller is expected to retry past, the
// EndOfStream marker of a fully drained stage, and the failure conditions
// (ConfigInvalid, ResourceExhausted, IOFailure, StateError, Fatal, NotFound)
// that end a stage.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindNotFound
	ErrorKindConfigInvalid
	ErrorKindResourceExhausted
	ErrorKindAgain
	ErrorKindEndOfStream
	ErrorKindIOFailure
	ErrorKindStateError
	ErrorKindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNotFound:
		return "not_found"
	case ErrorKindConfigInvalid:
		return "config_invalid"
	case ErrorKindResourceExhausted:
		return "resource_exhausted"
	case ErrorKindAgain:
		return "again"
	case ErrorKindEndOfStream:
		return "end_of_stream"
	case ErrorKindIOFailure:
		return "io_failure"
	case ErrorKindStateError:
		return "state_error"
	case ErrorKindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// kindedError pairs an underlying error with its classification, letting
// Kind(err) recover ErrorKindUnknown gracefully for plain errors.
type kindedError struct {
	kind ErrorKind
	op   string
	err  error
}

func (e *kindedError) Error() string {
	if e.op != "" {
		return e.op + ": " + e.err.Error()
	}
	return e.err.Error()
}

func (e *kindedError) Unwrap() error { return e.err }

// NewKindedError wraps err with an explicit classification and operation
// label, e.g. NewKindedError(ErrorKindConfigInvalid, "filter.create", err).
func NewKindedError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: kind, op: op, err: err}
}

// Kind classifies err. An explicit kindedError wrapping anywhere in the chain
// takes precedence; otherwise FFmpeg error codes are inspected (EOF ->
// EndOfStream, EAGAIN -> Again), and ErrorKindUnknown is returned for
// anything else.
func Kind(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}
	var ke *kindedError
	if errors.As(err, &ke) {
		return ke.kind
	}
	if avutil.IsEOF(err) {
		return ErrorKindEndOfStream
	}
	if avutil.IsAgain(err) {
		return ErrorKindAgain
	}
	return ErrorKindUnknown
}

// IsAgain reports whether err signals a transient "try again" condition
// that a decode/encode/filter/bsf loop should retry after feeding more
// input, per the send/receive protocol's EAGAIN contract.
func IsAgain(err error) bool {
	return Kind(err) == ErrorKindAgain || avutil.IsAgain(err)
}

// IsEndOfStream reports whether err signals that a stage has been fully
// flushed and will produce no further output.
func IsEndOfStream(err error) bool {
	return Kind(err) == ErrorKindEndOfStream || avutil.IsEOF(err)
}

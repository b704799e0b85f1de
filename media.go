//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"github.com/seydx/av-sub008/internal/bindings"
)

// Init loads the FFmpeg shared libraries. Every constructor in this package
// calls it lazily on first use, so most callers never need to call it
// directly; it is exposed so a program can fail fast at startup instead of
// on the first decode/encode call, and it is safe to call multiple times.
func Init() error {
	return bindings.Load()
}

// IsLoaded reports whether the FFmpeg libraries have been successfully
// loaded by a prior call to Init or by any constructor in this package.
func IsLoaded() bool {
	return bindings.IsLoaded()
}

// Version returns the libavutil, libavcodec, and libavformat version
// integers as packed by FFmpeg's AV_VERSION_INT macro.
func Version() (avutilVersion, avcodecVersion, avformatVersion uint32) {
	return bindings.AVUtilVersion(), bindings.AVCodecVersion(), bindings.AVFormatVersion()
}

//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// requireFFmpeg loads the bound FFmpeg libraries and skips the test if they
// are not installed on the machine running the suite, matching the
// environment-dependent tests elsewhere in this module.
func requireFFmpeg(t *testing.T) bool {
	t.Helper()
	if err := Init(); err != nil {
		t.Skipf("FFmpeg libraries not available: %v", err)
		return false
	}
	return true
}

// createTestVideo renders a short synthetic MP4 via the ffmpeg CLI, used
// only to exercise MediaInput/Decoder/Encoder/MediaOutput against a real
// container; skips if the CLI tool itself is unavailable.
func createTestVideo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.mp4")

	cmd := exec.Command("ffmpeg", "-y",
		"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=25",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=1",
		"-c:v", "libx264", "-preset", "ultrafast",
		"-c:a", "aac", "-b:a", "128k",
		"-pix_fmt", "yuv420p",
		path)
	if err := cmd.Run(); err != nil {
		t.Skipf("ffmpeg CLI not available or failed: %v", err)
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		t.Skipf("test file not created: %v", err)
		return ""
	}
	return path
}

func TestInitIsLoadedVersion(t *testing.T) {
	if !requireFFmpeg(t) {
		return
	}
	if !IsLoaded() {
		t.Fatalf("IsLoaded() = false after a successful Init()")
	}
	avutilV, avcodecV, avformatV := Version()
	if avutilV == 0 || avcodecV == 0 || avformatV == 0 {
		t.Fatalf("Version() returned a zero component: avutil=%d avcodec=%d avformat=%d", avutilV, avcodecV, avformatV)
	}
}

func TestStreamCopyPipeline(t *testing.T) {
	if !requireFFmpeg(t) {
		return
	}
	src := createTestVideo(t)
	if src == "" {
		return
	}

	in, err := OpenMediaInput(src, nil)
	if err != nil {
		t.Fatalf("OpenMediaInput: %v", err)
	}
	defer in.Close()

	dst := filepath.Join(t.TempDir(), "copy.mp4")
	out, err := OpenMediaOutput(dst, nil)
	if err != nil {
		t.Fatalf("OpenMediaOutput: %v", err)
	}

	ctrl, err := StreamCopyPipeline(in, out)
	if err != nil {
		t.Fatalf("StreamCopyPipeline: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("MediaOutput.Close: %v", err)
	}
	if ctrl.State() != PipelineCompleted {
		t.Fatalf("pipeline state = %v, want completed", ctrl.State())
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("output file missing: %v", err)
	}
}

func TestFilterScalesRealGraph(t *testing.T) {
	if !requireFFmpeg(t) {
		return
	}
	src := createTestVideo(t)
	if src == "" {
		return
	}

	in, err := OpenMediaInput(src, nil)
	if err != nil {
		t.Fatalf("OpenMediaInput: %v", err)
	}
	defer in.Close()

	stream := in.BestStream(MediaTypeVideo)
	if stream == nil {
		t.Fatalf("no video stream found")
	}

	dec, err := NewDecoder(ByCodecID(stream.CodecID), stream, nil, nil)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	defer dec.Close()

	var first *Frame
	for f := range dec.Frames(in.Packets(stream.Index)) {
		first = f
		break
	}
	if first == nil {
		t.Fatalf("expected at least one decoded frame")
	}
	defer first.Free()

	cfg := FilterConfig{StreamInfo: StreamInfo{
		Type:        MediaTypeVideo,
		Width:       first.Width(),
		Height:      first.Height(),
		PixelFormat: first.PixelFormat(),
		TimeBase:    stream.TimeBase,
	}}

	// A non-trivial graph (more than the direct source->sink link) exercises
	// the GraphParse2 linking path: bufferSrc must feed the parsed chain's
	// open input and the chain's open output must feed bufferSink.
	filt, err := NewFilter("scale=160:120", cfg, FilterOptions{})
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	defer filt.Close()

	out, err := filt.Process(first)
	if err != nil {
		t.Fatalf("Filter.Process: %v", err)
	}
	if out == nil {
		t.Fatalf("expected a scaled frame, got none")
	}
	defer out.Free()

	if out.Width() != 160 || out.Height() != 120 {
		t.Fatalf("scaled frame = %dx%d, want 160x120", out.Width(), out.Height())
	}
}

func TestBSFProcessDrainsAllOutputsPerInput(t *testing.T) {
	if !requireFFmpeg(t) {
		return
	}
	src := createTestVideo(t)
	if src == "" {
		return
	}

	in, err := OpenMediaInput(src, nil)
	if err != nil {
		t.Fatalf("OpenMediaInput: %v", err)
	}
	defer in.Close()

	stream := in.BestStream(MediaTypeVideo)
	if stream == nil {
		t.Fatalf("no video stream found")
	}

	bsf, err := NewBSF(BSFNameH264Mp4ToAnnexB, stream)
	if err != nil {
		t.Fatalf("NewBSF: %v", err)
	}
	defer bsf.Close()

	inPackets := 0
	outPackets := 0
	for pkt := range in.Packets(stream.Index) {
		inPackets++
		outs, err := bsf.Process(pkt)
		pkt.Free()
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		outPackets += len(outs)
		for _, out := range outs {
			out.Free()
		}
	}
	flushed, err := bsf.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	outPackets += len(flushed)
	for _, out := range flushed {
		out.Free()
	}

	// h264_mp4toannexb never drops a packet: every input must surface as
	// at least one Annex-B output somewhere in the stream.
	if outPackets < inPackets {
		t.Fatalf("got %d output packets for %d input packets, want >= %d (no input dropped)", outPackets, inPackets, inPackets)
	}
}

func TestDecoderFramesLifecycle(t *testing.T) {
	if !requireFFmpeg(t) {
		return
	}
	src := createTestVideo(t)
	if src == "" {
		return
	}

	in, err := OpenMediaInput(src, nil)
	if err != nil {
		t.Fatalf("OpenMediaInput: %v", err)
	}
	defer in.Close()

	stream := in.BestStream(MediaTypeVideo)
	if stream == nil {
		t.Fatalf("no video stream found")
	}

	dec, err := NewDecoder(ByCodecID(stream.CodecID), stream, nil, nil)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	defer dec.Close()

	count := 0
	for f := range dec.Frames(in.Packets(stream.Index)) {
		count++
		f.Free()
	}
	if count == 0 {
		t.Fatalf("expected at least one decoded frame")
	}
}

//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxConcurrentRoleChains bounds how many named-form role chains may pull
// from their underlying demux/decode/filter/encode stack at once; beyond
// this, iterPull's goroutines queue on the semaphore instead of all running
// unbounded in parallel.
const maxConcurrentRoleChains = 8

// Role names a named-form pipeline input/stage/output.
type Role string

const (
	RoleVideo    Role = "video"
	RoleAudio    Role = "audio"
	RoleSubtitle Role = "subtitle"
)

// Stage is the closed sum type the pipeline's small interpreter dispatches
// on: exactly one field should be set.
type Stage struct {
	Decoder *Decoder
	Encoder *Encoder
	Filter  *Filter
	Filters []*Filter
	BSF     *BSF
	BSFs    []*BSF
}

func DecoderStage(d *Decoder) Stage       { return Stage{Decoder: d} }
func EncoderStage(e *Encoder) Stage       { return Stage{Encoder: e} }
func FilterStage(f *Filter) Stage         { return Stage{Filter: f} }
func FilterStages(fs ...*Filter) Stage    { return Stage{Filters: fs} }
func BSFStage(b *BSF) Stage               { return Stage{BSF: b} }
func BSFStages(bs ...*BSF) Stage          { return Stage{BSFs: bs} }

// anySeq erases the element type (Packet or Frame) of a lazy sequence so the
// interpreter can compose stages of mixed kind without generics gymnastics.
type anySeq func(yield func(any) bool)

func packetSeqToAny(s func(yield func(*Packet) bool)) anySeq {
	return func(yield func(any) bool) {
		s(func(p *Packet) bool { return yield(p) })
	}
}

func frameSeqToAny(s func(yield func(*Frame) bool)) anySeq {
	return func(yield func(any) bool) {
		s(func(f *Frame) bool { return yield(f) })
	}
}

func (a anySeq) asPackets() func(yield func(*Packet) bool) {
	return func(yield func(*Packet) bool) {
		a(func(v any) bool { return yield(v.(*Packet)) })
	}
}

func (a anySeq) asFrames() func(yield func(*Frame) bool) {
	return func(yield func(*Frame) bool) {
		a(func(v any) bool { return yield(v.(*Frame)) })
	}
}

// composeStage applies one Stage's driver to in, per the dispatch table:
// Decoder -> decoder.frames, Filter(s) -> filter.frames, Encoder ->
// encoder.packets, BSF(s) -> bsf.packets.
func composeStage(stage Stage, in anySeq) (anySeq, error) {
	switch {
	case stage.Decoder != nil:
		return frameSeqToAny(stage.Decoder.Frames(in.asPackets())), nil
	case stage.Encoder != nil:
		return packetSeqToAny(stage.Encoder.Packets(in.asFrames())), nil
	case stage.Filter != nil:
		return frameSeqToAny(stage.Filter.Frames(in.asFrames())), nil
	case len(stage.Filters) > 0:
		cur := in
		for _, f := range stage.Filters {
			cur = frameSeqToAny(f.Frames(cur.asFrames()))
		}
		return cur, nil
	case stage.BSF != nil:
		return packetSeqToAny(stage.BSF.Packets(in.asPackets())), nil
	case len(stage.BSFs) > 0:
		cur := in
		for _, b := range stage.BSFs {
			cur = packetSeqToAny(b.Packets(cur.asPackets()))
		}
		return cur, nil
	default:
		return nil, NewKindedError(ErrorKindConfigInvalid, "pipeline", fmt.Errorf("empty stage"))
	}
}

// sourceStream returns the *Stream a stage's driver was created from, used
// both to filter packet reads by stream index and to key muxer stream
// addition for stream-copy-flavored chains.
func (s Stage) sourceStream() *Stream {
	switch {
	case s.Decoder != nil:
		return s.Decoder.GetStream()
	case s.BSF != nil:
		return s.BSF.GetStream()
	case len(s.BSFs) > 0:
		return s.BSFs[0].GetStream()
	default:
		return nil
	}
}

// PipelineState is the pipeline control's lifecycle state.
type PipelineState int32

const (
	PipelineIdle PipelineState = iota
	PipelineRunning
	PipelineDraining
	PipelineCompleted
	PipelineCancelled
	PipelineFailed
)

func (s PipelineState) String() string {
	switch s {
	case PipelineIdle:
		return "idle"
	case PipelineRunning:
		return "running"
	case PipelineDraining:
		return "draining"
	case PipelineCompleted:
		return "completed"
	case PipelineCancelled:
		return "cancelled"
	case PipelineFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PipelineControl offers cooperative cancellation and completion signaling
// for a running pipeline.
type PipelineControl struct {
	// ID uniquely identifies one RunPipeline/RunNamedPipeline invocation,
	// for correlating log lines and Stop calls across concurrent runs.
	ID uuid.UUID

	state    atomic.Int32
	stopFlag atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
	err      error
	errMu    sync.Mutex
}

func newPipelineControl() *PipelineControl {
	c := &PipelineControl{ID: uuid.New(), done: make(chan struct{})}
	c.state.Store(int32(PipelineIdle))
	return c
}

// Stop requests cooperative cancellation. Idempotent.
func (c *PipelineControl) Stop() { c.stopFlag.Store(true) }

// IsStopped reports whether Stop has been called.
func (c *PipelineControl) IsStopped() bool { return c.stopFlag.Load() }

// State returns the current lifecycle state.
func (c *PipelineControl) State() PipelineState { return PipelineState(c.state.Load()) }

// Completion returns a channel that is closed once the pipeline reaches a
// terminal state; Err then reports the terminal error, if any.
func (c *PipelineControl) Completion() <-chan struct{} { return c.done }

// Err returns the terminal error, if the pipeline failed.
func (c *PipelineControl) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// finish transitions to a terminal state and closes Completion. Only the
// first call has any effect, matching the cooperative-cancellation
// contract that a pipeline's terminal state, once reached, does not move.
func (c *PipelineControl) finish(state PipelineState, err error) {
	c.doneOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		c.state.Store(int32(state))
		close(c.done)
	})
}

func (c *PipelineControl) setState(state PipelineState) { c.state.Store(int32(state)) }

// PipelineSource is either a MediaInput (its packets drive the chain) or a
// pre-built frame sequence (e.g. synthetic frames bypassing demuxing).
type PipelineSource struct {
	Input  *MediaInput
	Frames func(yield func(*Frame) bool)
}

func SourceFromInput(in *MediaInput) PipelineSource { return PipelineSource{Input: in} }
func SourceFromFrames(seq func(yield func(*Frame) bool)) PipelineSource {
	return PipelineSource{Frames: seq}
}

// PipelineResult is returned by the simple form when no sink is given: the
// composed chain as a lazy sequence of either Packets or Frames, whichever
// the final stage produces.
type PipelineResult struct {
	packets func(yield func(*Packet) bool)
	frames  func(yield func(*Frame) bool)
}

func (r *PipelineResult) Packets() func(yield func(*Packet) bool) { return r.packets }
func (r *PipelineResult) Frames() func(yield func(*Frame) bool)   { return r.frames }

// RunPipeline implements the simple positional form: source, a chain of
// stages, and an optional sink.
func RunPipeline(source PipelineSource, stages []Stage, sink *MediaOutput) (*PipelineResult, *PipelineControl, error) {
	ctrl := newPipelineControl()

	var firstKeyStream *Stream
	for _, st := range stages {
		if s := st.sourceStream(); s != nil {
			firstKeyStream = s
			break
		}
	}

	var chain anySeq
	switch {
	case source.Input != nil:
		streamIdx := -1
		if firstKeyStream != nil {
			streamIdx = firstKeyStream.Index
		}
		chain = packetSeqToAny(guardedPacketSeq(ctrl, source.Input.Packets(streamIdx)))
	case source.Frames != nil:
		chain = frameSeqToAny(guardedFrameSeq(ctrl, source.Frames))
	default:
		return nil, nil, NewKindedError(ErrorKindConfigInvalid, "pipeline", fmt.Errorf("source must provide an Input or Frames"))
	}

	var lastEncoder *Encoder
	for _, st := range stages {
		next, err := composeStage(st, chain)
		if err != nil {
			ctrl.finish(PipelineFailed, err)
			return nil, ctrl, err
		}
		chain = next
		if st.Encoder != nil {
			lastEncoder = st.Encoder
		}
	}

	if sink == nil {
		ctrl.setState(PipelineRunning)
		result := &PipelineResult{}
		result.packets = func(yield func(*Packet) bool) {
			chain(func(v any) bool {
				pkt, ok := v.(*Packet)
				if !ok {
					return false
				}
				return yield(pkt)
			})
			ctrl.finish(PipelineCompleted, nil)
		}
		result.frames = func(yield func(*Frame) bool) {
			chain(func(v any) bool {
				f, ok := v.(*Frame)
				if !ok {
					return false
				}
				return yield(f)
			})
			ctrl.finish(PipelineCompleted, nil)
		}
		return result, ctrl, nil
	}

	var keySource any
	if lastEncoder != nil {
		keySource = lastEncoder
	} else if firstKeyStream != nil {
		keySource = firstKeyStream
	} else {
		err := NewKindedError(ErrorKindConfigInvalid, "pipeline", fmt.Errorf("sink given but no Encoder/Decoder/BSF stage to key the stream on"))
		ctrl.finish(PipelineFailed, err)
		return nil, ctrl, err
	}

	streamIndex, err := sink.AddStream(keySource, nil)
	if err != nil {
		ctrl.finish(PipelineFailed, err)
		return nil, ctrl, err
	}

	ctrl.setState(PipelineRunning)
	var writeErr error
	chain(func(v any) bool {
		if ctrl.IsStopped() {
			if pkt, ok := v.(*Packet); ok {
				pkt.Free()
			} else if f, ok := v.(*Frame); ok {
				f.Free()
			}
			return false
		}
		pkt, ok := v.(*Packet)
		if !ok {
			if f, ok := v.(*Frame); ok {
				f.Free()
			}
			writeErr = NewKindedError(ErrorKindConfigInvalid, "pipeline", fmt.Errorf("stage chain yielded a Frame with a sink present; only encoded Packets can be muxed"))
			return false
		}
		if err := sink.WritePacket(pkt, streamIndex); err != nil {
			writeErr = err
			return false
		}
		return true
	})

	if ctrl.IsStopped() {
		ctrl.finish(PipelineCancelled, nil)
		return nil, ctrl, nil
	}
	if writeErr != nil {
		ctrl.finish(PipelineFailed, writeErr)
		return nil, ctrl, writeErr
	}
	ctrl.finish(PipelineCompleted, nil)
	return nil, ctrl, nil
}

func guardedPacketSeq(ctrl *PipelineControl, in func(yield func(*Packet) bool)) func(yield func(*Packet) bool) {
	return func(yield func(*Packet) bool) {
		in(func(pkt *Packet) bool {
			if ctrl.IsStopped() {
				pkt.Free()
				return false
			}
			return yield(pkt)
		})
	}
}

func guardedFrameSeq(ctrl *PipelineControl, in func(yield func(*Frame) bool)) func(yield func(*Frame) bool) {
	return func(yield func(*Frame) bool) {
		in(func(f *Frame) bool {
			if ctrl.IsStopped() {
				f.Free()
				return false
			}
			return yield(f)
		})
	}
}

// StreamCopyPipeline implements the simple-form shortcut: (MediaInput,
// MediaOutput) — enumerate input streams, add each to the output, forward
// packets rewriting stream_index through the mapping.
func StreamCopyPipeline(input *MediaInput, output *MediaOutput) (*PipelineControl, error) {
	ctrl := newPipelineControl()

	mapping := make([]int, len(input.Streams()))
	for i, s := range input.Streams() {
		idx, err := output.AddStream(s, nil)
		if err != nil {
			ctrl.finish(PipelineFailed, err)
			return ctrl, err
		}
		mapping[i] = idx
	}

	ctrl.setState(PipelineRunning)
	var writeErr error
	for pkt := range input.Packets(-1) {
		if ctrl.IsStopped() {
			pkt.Free()
			continue
		}
		idx := pkt.StreamIndex()
		if idx < 0 || idx >= len(mapping) {
			pkt.Free()
			continue
		}
		if err := output.WritePacket(pkt, mapping[idx]); err != nil {
			writeErr = err
			break
		}
	}

	if ctrl.IsStopped() {
		ctrl.finish(PipelineCancelled, nil)
		return ctrl, nil
	}
	if writeErr != nil {
		ctrl.finish(PipelineFailed, writeErr)
		return ctrl, writeErr
	}
	ctrl.finish(PipelineCompleted, nil)
	return ctrl, nil
}

// NamedRoleStage is either a built Stage chain or the literal "passthrough"
// sentinel (copy packets verbatim).
type NamedRoleStage struct {
	Passthrough bool
	Stages      []Stage
}

func Passthrough() NamedRoleStage               { return NamedRoleStage{Passthrough: true} }
func Stages(stages ...Stage) NamedRoleStage     { return NamedRoleStage{Stages: stages} }

// NamedPipelineSpec is the named form's role-keyed configuration.
type NamedPipelineSpec struct {
	Inputs map[Role]*MediaInput
	Stages map[Role]NamedRoleStage
	// Output: exactly one of Output or Outputs should be set. Output
	// drives the interleaved multi-stream sink; Outputs drives one
	// independent MediaOutput per role.
	Output  *MediaOutput
	Outputs map[Role]*MediaOutput
}

// roleOrder fixes the named form's tie-break order: construction order of
// the Inputs map, realized here as a stable role priority since Go map
// iteration order is not significant — callers are expected to name roles
// from this fixed set.
var roleOrder = []Role{RoleVideo, RoleAudio, RoleSubtitle}

func orderedRoles(m map[Role]*MediaInput) []Role {
	var out []Role
	for _, r := range roleOrder {
		if _, ok := m[r]; ok {
			out = append(out, r)
		}
	}
	for r := range m {
		found := false
		for _, known := range roleOrder {
			if r == known {
				found = true
				break
			}
		}
		if !found {
			out = append(out, r)
		}
	}
	return out
}

// RunNamedPipeline implements the named form. With Output set, it drives the
// DTS-based K-way interleaved merge into a single MediaOutput. With Outputs
// set, each role is driven to its own independent MediaOutput.
func RunNamedPipeline(spec NamedPipelineSpec) (map[Role]*PipelineResult, *PipelineControl, error) {
	ctrl := newPipelineControl()
	roles := orderedRoles(spec.Inputs)

	chains := make([]*pipelineRoleChain, 0, len(roles))
	for _, role := range roles {
		in := spec.Inputs[role]
		rs := spec.Stages[role]

		var bestStreamType MediaType
		switch role {
		case RoleVideo:
			bestStreamType = MediaTypeVideo
		case RoleAudio:
			bestStreamType = MediaTypeAudio
		case RoleSubtitle:
			bestStreamType = MediaTypeSubtitle
		}
		srcStream := in.BestStream(bestStreamType)
		if srcStream == nil && len(in.Streams()) > 0 {
			srcStream = in.Streams()[0]
		}

		if rs.Passthrough {
			streamIdx := -1
			if srcStream != nil {
				streamIdx = srcStream.Index
			}
			chains = append(chains, &pipelineRoleChain{role: role, stream: srcStream, seq: guardedPacketSeq(ctrl, in.Packets(streamIdx))})
			continue
		}

		var keyStream *Stream
		for _, st := range rs.Stages {
			if s := st.sourceStream(); s != nil {
				keyStream = s
				break
			}
		}
		if keyStream == nil {
			keyStream = srcStream
		}
		streamIdx := -1
		if keyStream != nil {
			streamIdx = keyStream.Index
		}

		chain := packetSeqToAny(guardedPacketSeq(ctrl, in.Packets(streamIdx)))
		var enc *Encoder
		for _, st := range rs.Stages {
			next, err := composeStage(st, chain)
			if err != nil {
				ctrl.finish(PipelineFailed, err)
				return nil, ctrl, err
			}
			chain = next
			if st.Encoder != nil {
				enc = st.Encoder
			}
		}
		chains = append(chains, &pipelineRoleChain{role: role, stream: keyStream, seq: chain.asPackets(), enc: enc})
	}

	if spec.Output == nil && spec.Outputs == nil {
		results := make(map[Role]*PipelineResult)
		for _, rc := range chains {
			seq := rc.seq
			results[rc.role] = &PipelineResult{packets: seq}
		}
		ctrl.setState(PipelineRunning)
		return results, ctrl, nil
	}

	if spec.Outputs != nil {
		ctrl.setState(PipelineRunning)
		var group errgroup.Group
		for _, rc := range chains {
			rc := rc
			out := spec.Outputs[rc.role]
			if out == nil {
				continue
			}
			group.Go(func() error {
				var keySource any
				if rc.enc != nil {
					keySource = rc.enc
				} else {
					keySource = rc.stream
				}
				idx, err := out.AddStream(keySource, nil)
				if err != nil {
					return err
				}
				for pkt := range rc.seq {
					if ctrl.IsStopped() {
						pkt.Free()
						continue
					}
					if err := out.WritePacket(pkt, idx); err != nil {
						return err
					}
				}
				return nil
			})
		}
		writeErr := group.Wait()
		if ctrl.IsStopped() {
			ctrl.finish(PipelineCancelled, nil)
			return nil, ctrl, nil
		}
		if writeErr != nil {
			ctrl.finish(PipelineFailed, writeErr)
			return nil, ctrl, writeErr
		}
		ctrl.finish(PipelineCompleted, nil)
		return nil, ctrl, nil
	}

	// Single shared output: register one stream per role, then run the
	// DTS-based K-way merge.
	streamIndexByRole := make(map[Role]int, len(chains))
	for _, rc := range chains {
		var keySource any
		if rc.enc != nil {
			keySource = rc.enc
		} else {
			keySource = rc.stream
		}
		idx, err := spec.Output.AddStream(keySource, nil)
		if err != nil {
			ctrl.finish(PipelineFailed, err)
			return nil, ctrl, err
		}
		streamIndexByRole[rc.role] = idx
	}

	ctrl.setState(PipelineRunning)
	err := interleaveMerge(ctrl, chains, streamIndexByRole, spec.Output)
	if ctrl.IsStopped() {
		ctrl.finish(PipelineCancelled, nil)
		return nil, ctrl, nil
	}
	if err != nil {
		ctrl.finish(PipelineFailed, err)
		return nil, ctrl, err
	}
	ctrl.finish(PipelineCompleted, nil)
	return nil, ctrl, nil
}

// pipelineRoleChain is one named-form role's fully-composed packet chain.
type pipelineRoleChain struct {
	role   Role
	stream *Stream
	seq    func(yield func(*Packet) bool)
	enc    *Encoder
}

// interleaveMerge implements the DTS-based K-way merge: one iterator per
// role, primed one packet ahead; at each step the smallest effective_dts
// packet is written, ties broken by role enumeration order.
func interleaveMerge(ctrl *PipelineControl, chains []*pipelineRoleChain, streamIndexByRole map[Role]int, output *MediaOutput) error {
	type pullState struct {
		next   func() (*Packet, bool)
		stop   func()
		done   bool
		queued *Packet
	}

	sem := semaphore.NewWeighted(maxConcurrentRoleChains)
	states := make([]*pullState, len(chains))
	for i, rc := range chains {
		pull, stop := iterPull(sem, rc.seq)
		states[i] = &pullState{next: pull, stop: stop}
	}
	defer func() {
		for _, st := range states {
			st.stop()
		}
	}()

	prime := func(i int) {
		if states[i].done || states[i].queued != nil {
			return
		}
		pkt, ok := states[i].next()
		if !ok {
			states[i].done = true
			return
		}
		states[i].queued = pkt
	}

	for i := range states {
		prime(i)
	}

	for {
		if ctrl.IsStopped() {
			return nil
		}
		allDone := true
		best := -1
		for i, st := range states {
			if st.queued != nil {
				allDone = false
				if best == -1 || st.queued.EffectiveDTS() < states[best].queued.EffectiveDTS() {
					best = i
				}
			} else if !st.done {
				allDone = false
			}
		}
		if allDone {
			break
		}
		if best == -1 {
			for i := range states {
				prime(i)
			}
			continue
		}
		pkt := states[best].queued
		states[best].queued = nil
		if err := output.WritePacket(pkt, streamIndexByRole[chains[best].role]); err != nil {
			return err
		}
		prime(best)
	}
	return nil
}

// iterPull adapts a lazy push-style sequence into a pull-style next()
// function backed by a goroutine, so the K-way merge can interleave
// multiple sequences' production on demand.
func iterPull(sem *semaphore.Weighted, seq func(yield func(*Packet) bool)) (next func() (*Packet, bool), stop func()) {
	items := make(chan *Packet)
	stopCh := make(chan struct{})
	var once sync.Once

	go func() {
		defer close(items)
		if err := sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer sem.Release(1)
		seq(func(pkt *Packet) bool {
			select {
			case items <- pkt:
				return true
			case <-stopCh:
				pkt.Free()
				return false
			}
		})
	}()

	next = func() (*Packet, bool) {
		pkt, ok := <-items
		return pkt, ok
	}
	stop = func() {
		once.Do(func() { close(stopCh) })
		for range items {
		}
	}
	return next, stop
}

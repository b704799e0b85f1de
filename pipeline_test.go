//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"reflect"
	"testing"
)

func TestOrderedRolesFixesConstructionOrderNotAlphabetical(t *testing.T) {
	inputs := map[Role]*MediaInput{
		RoleSubtitle: nil,
		RoleAudio:    nil,
		RoleVideo:    nil,
	}
	got := orderedRoles(inputs)
	want := []Role{RoleVideo, RoleAudio, RoleSubtitle}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("orderedRoles = %v, want %v (video/audio/subtitle priority, not alphabetical)", got, want)
	}
}

func TestOrderedRolesOmitsAbsentRoles(t *testing.T) {
	inputs := map[Role]*MediaInput{RoleAudio: nil}
	got := orderedRoles(inputs)
	want := []Role{RoleAudio}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("orderedRoles = %v, want %v", got, want)
	}
}

func TestOrderedRolesAppendsUnknownRolesAfterKnown(t *testing.T) {
	custom := Role("commentary")
	inputs := map[Role]*MediaInput{
		custom:    nil,
		RoleVideo: nil,
	}
	got := orderedRoles(inputs)
	if len(got) != 2 || got[0] != RoleVideo || got[1] != custom {
		t.Fatalf("orderedRoles = %v, want [video commentary]", got)
	}
}

func TestPipelineStateString(t *testing.T) {
	cases := map[PipelineState]string{
		PipelineIdle:      "idle",
		PipelineRunning:   "running",
		PipelineDraining:  "draining",
		PipelineCompleted: "completed",
		PipelineCancelled: "cancelled",
		PipelineFailed:    "failed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("PipelineState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestPipelineControlStopIsIdempotent(t *testing.T) {
	ctrl := newPipelineControl()
	if ctrl.IsStopped() {
		t.Fatalf("new control must not start stopped")
	}
	ctrl.Stop()
	ctrl.Stop()
	if !ctrl.IsStopped() {
		t.Fatalf("Stop must be observable via IsStopped")
	}
}

func TestPipelineControlFinishIsIdempotent(t *testing.T) {
	ctrl := newPipelineControl()
	ctrl.finish(PipelineCompleted, nil)
	ctrl.finish(PipelineFailed, nil) // second finish must not panic on closing done twice
	select {
	case <-ctrl.Completion():
	default:
		t.Fatalf("Completion channel must be closed after finish")
	}
	if ctrl.State() != PipelineCompleted {
		t.Fatalf("first finish call should set the terminal state, got %v", ctrl.State())
	}
}

package videotest

import (
	"slices"

	"github.com/jdgilhuly/visitvideo/pkg/video"
)

// AssertNoError asserts that err is nil.
func (vc *VisitCase) AssertNoError(err error) {
	vc.t.Helper()
	if err != nil {
		vc.t.Errorf("unexpected error: %v", err)
	}
}

// AssertErrorKind asserts that err is a typed provider error of the given
// kind.
func (vc *VisitCase) AssertErrorKind(err error, kind video.ErrorKind) {
	vc.t.Helper()
	if err == nil {
		vc.t.Errorf("expected %s error, got nil", kind)
		return
	}
	if got := video.KindOf(err); got != kind {
		vc.t.Errorf("error kind = %q, want %q (%v)", got, kind, err)
	}
}

// AssertRecordingStatus asserts the current status of a recording.
func (vc *VisitCase) AssertRecordingStatus(recordingID string, want video.RecordingStatus) {
	vc.t.Helper()
	rec, err := vc.provider.GetRecording(vc.ctx, recordingID)
	if err != nil {
		vc.t.Errorf("GetRecording(%s): %v", recordingID, err)
		return
	}
	if rec.Status != want {
		vc.t.Errorf("recording %s status = %s, want %s", recordingID, rec.Status, want)
	}
}

// AssertParticipants asserts the exact set of participant ids in a room,
// in any order.
func (vc *VisitCase) AssertParticipants(roomID string, ids ...string) {
	vc.t.Helper()
	room, err := vc.provider.GetRoomInfo(vc.ctx, roomID)
	if err != nil {
		vc.t.Errorf("GetRoomInfo(%s): %v", roomID, err)
		return
	}
	got := make([]string, 0, len(room.Participants))
	for _, p := range room.Participants {
		got = append(got, p.ID)
	}
	want := slices.Clone(ids)
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		vc.t.Errorf("room %s participants = %v, want %v", roomID, got, want)
	}
}

// AssertRecordingAllowed asserts whether the room's policy permits
// recording.
func (vc *VisitCase) AssertRecordingAllowed(roomID string, want bool) {
	vc.t.Helper()
	room, err := vc.provider.GetRoomInfo(vc.ctx, roomID)
	if err != nil {
		vc.t.Errorf("GetRoomInfo(%s): %v", roomID, err)
		return
	}
	if room.Security.AllowRecording != want {
		vc.t.Errorf("room %s AllowRecording = %t, want %t", roomID, room.Security.AllowRecording, want)
	}
}

// AssertOpFailed asserts that the most recent traced call of op failed
// with the given kind.
func (vc *VisitCase) AssertOpFailed(op string, kind video.ErrorKind) {
	vc.t.Helper()
	steps := vc.trace.GetSteps()
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Op != op {
			continue
		}
		if steps[i].ErrorKind != string(kind) {
			vc.t.Errorf("last %s error kind = %q, want %q", op, steps[i].ErrorKind, kind)
		}
		return
	}
	vc.t.Errorf("%s was not called", op)
}

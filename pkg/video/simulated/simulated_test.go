package simulated

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jdgilhuly/visitvideo/pkg/video"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return t }
}

func TestCreateRoom_IDsFromClock(t *testing.T) {
	b := New("twilio", WithClock(fixedClock()))
	ctx := context.Background()

	first, err := b.CreateRoom(ctx, video.RoomSpec{Name: "a", MaxParticipants: 2})
	if err != nil {
		t.Fatalf("CreateRoom() error: %v", err)
	}
	second, err := b.CreateRoom(ctx, video.RoomSpec{MaxParticipants: 2})
	if err != nil {
		t.Fatalf("CreateRoom() error: %v", err)
	}

	want := "mock-twilio-" + "1767323045000000000"
	if first.ID != want {
		t.Errorf("first ID = %q, want %q", first.ID, want)
	}
	if second.ID != want+"-1" {
		t.Errorf("second ID = %q, want %q", second.ID, want+"-1")
	}
	if second.Name != second.ID {
		t.Errorf("unnamed room Name = %q, want id %q", second.Name, second.ID)
	}
}

func TestAddParticipant_Capacity(t *testing.T) {
	b := New("daily")
	ctx := context.Background()
	room, _ := b.CreateRoom(ctx, video.RoomSpec{MaxParticipants: 2})

	for _, id := range []string{"p1", "p2"} {
		if err := b.AddParticipant(ctx, room.ID, video.Participant{ID: id, Role: video.RoleVisitor}); err != nil {
			t.Fatalf("AddParticipant(%s) error: %v", id, err)
		}
	}
	// Rejoining updates in place and does not count against capacity.
	if err := b.AddParticipant(ctx, room.ID, video.Participant{ID: "p1", Role: video.RoleVisitor, AudioEnabled: true}); err != nil {
		t.Fatalf("AddParticipant(rejoin) error: %v", err)
	}
	err := b.AddParticipant(ctx, room.ID, video.Participant{ID: "p3", Role: video.RoleVisitor})
	if !video.IsValidation(err) {
		t.Fatalf("AddParticipant(full) error = %v, want validation error", err)
	}

	st, _ := b.GetRoom(ctx, room.ID)
	if len(st.Participants) != 2 || !st.Participants[0].AudioEnabled {
		t.Errorf("Participants = %+v, want p1 (audio on), p2", st.Participants)
	}
}

func TestUnknownRoom(t *testing.T) {
	b := New("livekit")
	_, err := b.GetRoom(context.Background(), "nope")
	if !errors.Is(err, video.ErrRoomNotFound) {
		t.Fatalf("GetRoom() error = %v, want ErrRoomNotFound", err)
	}
}

func TestRecordingSegments(t *testing.T) {
	b := New("twilio")
	ctx := context.Background()
	room, _ := b.CreateRoom(ctx, video.RoomSpec{MaxParticipants: 2})

	seg, err := b.StartRecording(ctx, room.ID, video.RecordingSpec{})
	if err != nil {
		t.Fatalf("StartRecording() error: %v", err)
	}
	if !strings.HasPrefix(seg, "mock-recording-") {
		t.Errorf("segment id = %q, want mock-recording- prefix", seg)
	}
	if err := b.PauseRecording(ctx, room.ID, seg); err != nil {
		t.Fatalf("PauseRecording() error: %v", err)
	}
	resumed, err := b.ResumeRecording(ctx, room.ID, seg, video.RecordingSpec{})
	if err != nil {
		t.Fatalf("ResumeRecording() error: %v", err)
	}
	if resumed != seg {
		t.Errorf("ResumeRecording() = %q, want same segment %q", resumed, seg)
	}
	if err := b.StopRecording(ctx, room.ID, seg, false); err != nil {
		t.Fatalf("StopRecording() error: %v", err)
	}
	if err := b.PauseRecording(ctx, room.ID, seg); !errors.Is(err, video.ErrRecordingNotFound) {
		t.Errorf("PauseRecording() after stop error = %v, want ErrRecordingNotFound", err)
	}
}

func TestInjectFault(t *testing.T) {
	b := New("twilio")
	boom := errors.New("boom")
	b.Inject("Close", Fault{Err: boom})

	if err := b.Close(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Close() error = %v, want %v", err, boom)
	}
	if !b.Closed() {
		t.Error("Closed() = false after failing Close")
	}
	calls := b.GetCallsFor("Close")
	if len(calls) != 1 || calls[0].Error != "boom" {
		t.Errorf("Close calls = %+v, want one failed call", calls)
	}
}

func TestInjectDelay_ContextCancel(t *testing.T) {
	b := New("twilio")
	b.Inject("ListRooms", Fault{Delay: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.ListRooms(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ListRooms() error = %v, want deadline exceeded", err)
	}
}

func TestGetCalls(t *testing.T) {
	b := New("daily")
	ctx := context.Background()
	room, _ := b.CreateRoom(ctx, video.RoomSpec{MaxParticipants: 4})
	_, _ = b.GetRoom(ctx, room.ID)
	_, _ = b.JoinToken(ctx, room.ID, video.Participant{ID: "u"})

	calls := b.GetCalls()
	if len(calls) != 3 {
		t.Fatalf("len(GetCalls()) = %d, want 3", len(calls))
	}
	ops := []string{calls[0].Op, calls[1].Op, calls[2].Op}
	want := []string{"CreateRoom", "GetRoom", "JoinToken"}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, ops[i], want[i])
		}
	}
	if calls[1].RoomID != room.ID {
		t.Errorf("GetRoom call RoomID = %q, want %q", calls[1].RoomID, room.ID)
	}
}

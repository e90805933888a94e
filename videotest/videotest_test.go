package videotest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/jdgilhuly/visitvideo/pkg/factory"
	"github.com/jdgilhuly/visitvideo/pkg/video"
	"github.com/jdgilhuly/visitvideo/pkg/video/daily"
)

func boolp(b bool) *bool { return &b }

func resident(id string) video.Participant {
	return video.Participant{ID: id, Name: "Resident " + id, Role: video.RoleResident}
}

func TestHarness_RecordingLifecycle(t *testing.T) {
	h := New(t, WithProvider("twilio"))
	h.Run("lifecycle", func(vc *VisitCase) {
		room := vc.CreateRoom(video.RoomOptions{Name: "family-visit", MaxParticipants: 4})
		vc.MustJoin(room.ID, resident("r1"))
		vc.AssertParticipants(room.ID, "r1")

		rec, err := vc.StartRecording(room.ID, video.RecordingOptions{})
		vc.AssertNoError(err)
		vc.AssertRecordingStatus(rec.ID, video.RecordingActive)

		vc.AssertNoError(vc.PauseRecording(room.ID))
		vc.AssertRecordingStatus(rec.ID, video.RecordingPaused)
		vc.AssertErrorKind(vc.PauseRecording(room.ID), video.KindInvalidState)
		vc.AssertOpFailed("pause_recording", video.KindInvalidState)

		vc.AssertNoError(vc.ResumeRecording(room.ID))
		vc.AssertNoError(vc.StopRecording(room.ID))
		vc.AssertRecordingStatus(rec.ID, video.RecordingStopped)

		if vc.Provider().Mode() != video.ModeMock {
			t.Errorf("Mode() = %q, want mock", vc.Provider().Mode())
		}
		if n := len(vc.Trace().GetSteps()); n != 8 {
			t.Errorf("trace recorded %d steps, want 8", n)
		}
	})
}

func TestHarness_ProtectedCall(t *testing.T) {
	h := New(t)
	h.RunEach("protected", func(vc *VisitCase) {
		room := vc.CreateRoom(video.RoomOptions{
			Name: "attorney-call",
			Security: &video.SecuritySettingsUpdate{
				IsProtectedCall:          boolp(true),
				RequiredParticipantRoles: []video.Role{video.RoleResident, video.RoleAttorney},
			},
		})
		vc.AssertRecordingAllowed(room.ID, false)

		_, err := vc.StartRecording(room.ID, video.RecordingOptions{})
		vc.AssertErrorKind(err, video.KindSecurityPolicy)

		err = vc.Join(room.ID, video.Participant{ID: "v1", Role: video.RoleVisitor})
		vc.AssertErrorKind(err, video.KindSecurityPolicy)

		vc.MustJoin(room.ID, resident("r1"))
		vc.AssertNoError(vc.Join(room.ID, video.Participant{ID: "a1", Role: video.RoleAttorney}))
		vc.AssertParticipants(room.ID, "a1", "r1")
	})
}

func TestHarness_RunEachCoversEveryKind(t *testing.T) {
	h := New(t)
	var seen []string
	h.RunEach("names", func(vc *VisitCase) {
		seen = append(seen, vc.Provider().Name())
	})
	if len(seen) != len(factory.Kinds()) {
		t.Fatalf("RunEach visited %v, want every kind", seen)
	}
	for i, k := range factory.Kinds() {
		if seen[i] != k.String() {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], k)
		}
	}
}

func TestHarness_SettingsAndSecurityUpdates(t *testing.T) {
	h := New(t, WithProvider("daily"))
	h.Run("updates", func(vc *VisitCase) {
		room := vc.CreateRoom(video.RoomOptions{})
		vc.AssertRecordingAllowed(room.ID, true)

		layout := video.LayoutPresentation
		updated, err := vc.UpdateSettings(room.ID, video.RoomSettingsUpdate{Layout: &layout})
		vc.AssertNoError(err)
		if updated.Settings.Layout != video.LayoutPresentation {
			t.Errorf("Layout = %s, want presentation", updated.Settings.Layout)
		}

		_, err = vc.UpdateSecurity(room.ID, video.SecuritySettingsUpdate{IsProtectedCall: boolp(true)})
		vc.AssertNoError(err)
		vc.AssertRecordingAllowed(room.ID, false)

		_, err = vc.TryCreateRoom(video.RoomOptions{MaxParticipants: 1})
		vc.AssertErrorKind(err, video.KindValidation)
	})
}

func TestHarness_FactoryOptions(t *testing.T) {
	var built atomic.Int32
	h := New(t,
		WithProvider("daily"),
		WithFactoryOptions(factory.WithConstructor(factory.KindDaily, func(l *logrus.Logger) video.Provider {
			built.Add(1)
			return daily.New(l)
		})),
	)
	h.Run("first", func(vc *VisitCase) { vc.CreateRoom(video.RoomOptions{}) })
	h.Run("second", func(vc *VisitCase) {
		rooms, err := vc.Provider().ListRooms(vc.Context())
		vc.AssertNoError(err)
		if len(rooms) != 0 {
			t.Errorf("second case sees %d rooms, want a fresh provider", len(rooms))
		}
	})
	if got := built.Load(); got != 2 {
		t.Errorf("constructor called %d times, want 2", got)
	}
	if len(h.Factory().Active()) != 0 {
		t.Error("harness registered providers in the factory")
	}
}

func TestHarness_ResultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")

	t.Run("cases", func(t *testing.T) {
		h := New(t, WithProvider("livekit"), WithResultFile(path))
		h.Run("create", func(vc *VisitCase) {
			vc.CreateRoom(video.RoomOptions{Name: "lk-visit"})
		})
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading results: %v", err)
	}
	var results []CaseResult
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatalf("parsing results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Provider != "livekit" || results[0].Failed {
		t.Errorf("result = %+v, want passing livekit case", results[0])
	}
	if len(results[0].Steps) != 1 || results[0].Steps[0].Op != "create_room" {
		t.Errorf("steps = %+v, want one create_room", results[0].Steps)
	}
}

func TestVisitCase_DisconnectOnExit(t *testing.T) {
	h := New(t)
	var p video.Provider
	h.Run("capture", func(vc *VisitCase) {
		p = vc.Provider()
	})
	if _, err := p.ListRooms(context.Background()); !video.IsInvalidState(err) {
		t.Errorf("ListRooms() after case error = %v, want invalid state", err)
	}
}

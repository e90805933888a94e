package trace

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestNewTrace(t *testing.T) {
	before := time.Now()
	tr := New("twilio")
	after := time.Now()

	if tr.StartTime.Before(before) || tr.StartTime.After(after) {
		t.Error("StartTime should be between before and after New()")
	}
	if tr.Provider != "twilio" {
		t.Errorf("Provider = %q, want twilio", tr.Provider)
	}
	if len(tr.Steps) != 0 {
		t.Errorf("expected 0 steps, got %d", len(tr.Steps))
	}
}

func TestAddStep(t *testing.T) {
	tr := New("daily")
	tr.SetMode("mock")

	start := time.Now()
	tr.AddStep(StepTrace{
		Index:     0,
		Op:        "create_room",
		RoomID:    "room-1",
		StartTime: start,
		EndTime:   start.Add(5 * time.Millisecond),
		Duration:  5 * time.Millisecond,
	})
	tr.AddStep(StepTrace{
		Index:     1,
		Op:        "start_recording",
		RoomID:    "room-1",
		Error:     "security_policy error: recording not allowed",
		ErrorKind: "security_policy",
		Failures:  []string{"unexpected error"},
	})

	steps := tr.GetSteps()
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Op != "create_room" || !steps[0].Passed() {
		t.Errorf("step 0 = %+v, want passing create_room", steps[0])
	}
	if steps[1].Passed() {
		t.Error("step 1 should not pass with failures recorded")
	}
	if got := tr.FailedSteps(); got != 1 {
		t.Errorf("FailedSteps() = %d, want 1", got)
	}
	if tr.Mode != "mock" {
		t.Errorf("Mode = %q, want mock", tr.Mode)
	}
}

func TestFinish(t *testing.T) {
	tr := New("livekit")
	time.Sleep(10 * time.Millisecond)
	tr.Finish()

	if tr.EndTime.IsZero() {
		t.Error("EndTime should not be zero after Finish()")
	}
	if tr.Duration < 10*time.Millisecond {
		t.Errorf("Duration = %v, want >= 10ms", tr.Duration)
	}
}

func TestJSONSerialization(t *testing.T) {
	tr := New("google-meet")
	tr.AddStep(StepTrace{Op: "create_room", RoomID: "spaces/sp1"})
	tr.AddStep(StepTrace{Op: "start_recording", ErrorKind: "backend", Error: "unsupported"})
	tr.Finish()

	data, err := tr.JSON()
	if err != nil {
		t.Fatalf("JSON() error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
	if decoded["provider"] != "google-meet" {
		t.Errorf("provider = %v, want google-meet", decoded["provider"])
	}
	steps, ok := decoded["steps"].([]interface{})
	if !ok || len(steps) != 2 {
		t.Fatalf("steps = %v, want 2 entries", decoded["steps"])
	}
	first := steps[0].(map[string]interface{})
	if _, ok := first["error"]; ok {
		t.Error("successful step should omit error")
	}
	second := steps[1].(map[string]interface{})
	if second["error_kind"] != "backend" {
		t.Errorf("error_kind = %v, want backend", second["error_kind"])
	}
}

func TestGetStepsCopySafety(t *testing.T) {
	tr := New("twilio")
	tr.AddStep(StepTrace{Op: "original"})

	steps := tr.GetSteps()
	steps[0].Op = "modified"

	if tr.GetSteps()[0].Op != "original" {
		t.Error("GetSteps should return a copy, not a reference to internal data")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := New("twilio")

	const goroutines = 50
	const opsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				tr.AddStep(StepTrace{Op: "list_rooms"})
			}
		}()
	}
	wg.Wait()
	tr.Finish()

	if got, want := len(tr.GetSteps()), goroutines*opsPerGoroutine; got != want {
		t.Errorf("expected %d steps, got %d", want, got)
	}
}

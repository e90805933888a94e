package scenario

import (
	"errors"
	"fmt"

	"github.com/jdgilhuly/visitvideo/pkg/video"
)

// ErrorAny matches a failure of any kind.
const ErrorAny = "any"

// Expect lists what a step should produce. Unset fields are not checked.
// An empty Error means the step must succeed.
type Expect struct {
	Error           string                `yaml:"error"`
	RecordingStatus video.RecordingStatus `yaml:"recording_status"`
	Layout          video.Layout          `yaml:"layout"`
	MaxParticipants *int                  `yaml:"max_participants"`
	Participants    *int                  `yaml:"participants"`
	Protected       *bool                 `yaml:"protected"`
	Count           *int                  `yaml:"count"`
	Token           bool                  `yaml:"token"`
}

var errorKinds = map[string]bool{
	ErrorAny:                              true,
	string(video.KindConfiguration):       true,
	string(video.KindValidation):          true,
	string(video.KindUnsupportedProvider): true,
	string(video.KindSecurityPolicy):      true,
	string(video.KindInvalidState):        true,
	string(video.KindBackend):             true,
}

func (e Expect) validate() error {
	if e.Error != "" && !errorKinds[e.Error] {
		return fmt.Errorf("unknown expected error kind %q", e.Error)
	}
	if e.RecordingStatus != "" {
		switch e.RecordingStatus {
		case video.RecordingActive, video.RecordingPaused, video.RecordingStopped, video.RecordingCompleted:
		default:
			return fmt.Errorf("unknown recording status %q", e.RecordingStatus)
		}
	}
	if e.Layout != "" && !e.Layout.Valid() {
		return fmt.Errorf("unknown layout %q", e.Layout)
	}
	return nil
}

// Observation is what a step actually produced.
type Observation struct {
	Err       error
	Room      *video.Room
	Recording *video.RecordingInfo
	// Count is set by list operations.
	Count *int
	Token string
}

// Check compares an observation against the expectation and returns one
// message per mismatch. A nil result means the step passed.
func (e Expect) Check(obs Observation) []string {
	var failures []string

	switch {
	case e.Error == "" && obs.Err != nil:
		return []string{fmt.Sprintf("unexpected error: %v", obs.Err)}
	case e.Error != "" && obs.Err == nil:
		return []string{fmt.Sprintf("expected %s error, got success", e.Error)}
	case e.Error != "":
		if e.Error != ErrorAny && string(video.KindOf(obs.Err)) != e.Error {
			failures = append(failures, fmt.Sprintf("error kind = %q, want %q (%v)", kindLabel(obs.Err), e.Error, obs.Err))
		}
		return failures
	}

	if e.RecordingStatus != "" {
		rec := obs.Recording
		if rec == nil && obs.Room != nil {
			rec = obs.Room.Recording
		}
		switch {
		case rec == nil:
			failures = append(failures, fmt.Sprintf("recording_status = <none>, want %s", e.RecordingStatus))
		case rec.Status != e.RecordingStatus:
			failures = append(failures, fmt.Sprintf("recording_status = %s, want %s", rec.Status, e.RecordingStatus))
		}
	}

	if e.Layout != "" || e.MaxParticipants != nil || e.Participants != nil || e.Protected != nil {
		if obs.Room == nil {
			failures = append(failures, "expected a room in the result, got none")
		} else {
			failures = append(failures, e.checkRoom(obs.Room)...)
		}
	}

	if e.Count != nil {
		switch {
		case obs.Count == nil:
			failures = append(failures, fmt.Sprintf("count = <none>, want %d", *e.Count))
		case *obs.Count != *e.Count:
			failures = append(failures, fmt.Sprintf("count = %d, want %d", *obs.Count, *e.Count))
		}
	}

	if e.Token && obs.Token == "" {
		failures = append(failures, "expected a join token, got empty")
	}

	return failures
}

func (e Expect) checkRoom(r *video.Room) []string {
	var failures []string
	if e.Layout != "" && r.Settings.Layout != e.Layout {
		failures = append(failures, fmt.Sprintf("layout = %s, want %s", r.Settings.Layout, e.Layout))
	}
	if e.MaxParticipants != nil && r.Settings.MaxParticipants != *e.MaxParticipants {
		failures = append(failures, fmt.Sprintf("max_participants = %d, want %d", r.Settings.MaxParticipants, *e.MaxParticipants))
	}
	if e.Participants != nil && len(r.Participants) != *e.Participants {
		failures = append(failures, fmt.Sprintf("participants = %d, want %d", len(r.Participants), *e.Participants))
	}
	if e.Protected != nil && r.Security.IsProtectedCall != *e.Protected {
		failures = append(failures, fmt.Sprintf("protected = %t, want %t", r.Security.IsProtectedCall, *e.Protected))
	}
	return failures
}

func kindLabel(err error) string {
	if k := video.KindOf(err); k != "" {
		return string(k)
	}
	var verr *video.Error
	if errors.As(err, &verr) {
		return "unknown"
	}
	return "untyped"
}

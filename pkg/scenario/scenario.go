// Package scenario defines scripted provider exercises: an ordered list of
// room, participant, and recording operations with expectations, loaded
// from YAML.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jdgilhuly/visitvideo/pkg/video"
)

// Op names one provider operation.
type Op string

const (
	OpCreateRoom         Op = "create_room"
	OpJoinRoom           Op = "join_room"
	OpLeaveRoom          Op = "leave_room"
	OpListRooms          Op = "list_rooms"
	OpGetRoom            Op = "get_room"
	OpUpdateRoomSettings Op = "update_room_settings"
	OpUpdateSecurity     Op = "update_security"
	OpStartRecording     Op = "start_recording"
	OpPauseRecording     Op = "pause_recording"
	OpResumeRecording    Op = "resume_recording"
	OpStopRecording      Op = "stop_recording"
	OpGetRecording       Op = "get_recording"
	OpListRecordings     Op = "list_recordings"
	OpJoinToken          Op = "join_token"
)

var knownOps = map[Op]bool{
	OpCreateRoom: true, OpJoinRoom: true, OpLeaveRoom: true, OpListRooms: true,
	OpGetRoom: true, OpUpdateRoomSettings: true, OpUpdateSecurity: true,
	OpStartRecording: true, OpPauseRecording: true, OpResumeRecording: true,
	OpStopRecording: true, OpGetRecording: true, OpListRecordings: true,
	OpJoinToken: true,
}

// needsRoom lists ops that act on a room named by room_ref or room_id.
var needsRoom = map[Op]bool{
	OpJoinRoom: true, OpLeaveRoom: true, OpGetRoom: true,
	OpUpdateRoomSettings: true, OpUpdateSecurity: true,
	OpStartRecording: true, OpPauseRecording: true, OpResumeRecording: true,
	OpStopRecording: true, OpListRecordings: true, OpJoinToken: true,
}

// Scenario is a named sequence of steps run against one provider.
type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Provider    string        `yaml:"provider"`
	Tags        []string      `yaml:"tags"`
	Timeout     time.Duration `yaml:"timeout"`
	Steps       []Step        `yaml:"steps"`

	// Path is the file the scenario was loaded from, if any.
	Path string `yaml:"-"`
}

// Step is one operation and what it should produce.
type Step struct {
	Op Op `yaml:"op"`

	// As names the room created by a create_room step for later room_ref use.
	As string `yaml:"as"`
	// RoomRef refers to a room created earlier under As; RoomID names a
	// room directly.
	RoomRef string `yaml:"room_ref"`
	RoomID  string `yaml:"room_id"`

	Room          *video.RoomOptions            `yaml:"room"`
	Participant   *video.Participant            `yaml:"participant"`
	ParticipantID string                        `yaml:"participant_id"`
	Settings      *video.RoomSettingsUpdate     `yaml:"settings"`
	Security      *video.SecuritySettingsUpdate `yaml:"security"`
	Recording     *video.RecordingOptions       `yaml:"recording"`

	// RecordingID names a recording for get_recording. When empty the most
	// recent recording started in RoomRef is used.
	RecordingID string `yaml:"recording_id"`

	Expect Expect `yaml:"expect"`
}

// Load reads a single Scenario from a YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario file %s: %w", path, err)
	}
	s.Path = path
	return &s, nil
}

// LoadDir loads all .yaml and .yml files from dir as scenarios.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario directory %s: %w", dir, err)
	}

	var out []*Scenario
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		s, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	return out, nil
}

// Validate checks that the scenario is well formed: known ops, the inputs
// each op needs, and room_ref values that point at an earlier create_room.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return errors.New("scenario name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q must have at least one step", s.Name)
	}

	var errs []error
	aliases := make(map[string]bool)
	for i, st := range s.Steps {
		where := fmt.Sprintf("scenario %q: step %d (%s)", s.Name, i+1, st.Op)
		if !knownOps[st.Op] {
			errs = append(errs, fmt.Errorf("scenario %q: step %d: unknown op %q", s.Name, i+1, st.Op))
			continue
		}
		if needsRoom[st.Op] && st.RoomRef == "" && st.RoomID == "" {
			errs = append(errs, fmt.Errorf("%s: room_ref or room_id is required", where))
		}
		if st.RoomRef != "" && !aliases[st.RoomRef] {
			errs = append(errs, fmt.Errorf("%s: room_ref %q is not defined by an earlier create_room", where, st.RoomRef))
		}
		switch st.Op {
		case OpCreateRoom:
			if st.As != "" {
				if aliases[st.As] {
					errs = append(errs, fmt.Errorf("%s: alias %q is already defined", where, st.As))
				}
				aliases[st.As] = true
			}
		case OpJoinRoom, OpJoinToken:
			if st.Participant == nil {
				errs = append(errs, fmt.Errorf("%s: participant is required", where))
			}
		case OpLeaveRoom:
			if st.ParticipantID == "" {
				errs = append(errs, fmt.Errorf("%s: participant_id is required", where))
			}
		case OpUpdateRoomSettings:
			if st.Settings == nil {
				errs = append(errs, fmt.Errorf("%s: settings is required", where))
			}
		case OpUpdateSecurity:
			if st.Security == nil {
				errs = append(errs, fmt.Errorf("%s: security is required", where))
			}
		case OpGetRecording:
			if st.RecordingID == "" && st.RoomRef == "" {
				errs = append(errs, fmt.Errorf("%s: recording_id or room_ref is required", where))
			}
		}
		if err := st.Expect.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		}
	}
	return errors.Join(errs...)
}

// HasTag reports whether the scenario carries any of tags. An empty list
// matches every scenario.
func (s *Scenario) HasTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, t := range s.Tags {
			if t == want {
				return true
			}
		}
	}
	return false
}

// FilterByTag returns the scenarios that have at least one of the given
// tags. An empty tag list returns all scenarios.
func FilterByTag(scenarios []*Scenario, tags []string) []*Scenario {
	if len(tags) == 0 {
		return scenarios
	}
	var out []*Scenario
	for _, s := range scenarios {
		if s.HasTag(tags) {
			out = append(out, s)
		}
	}
	return out
}

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jdgilhuly/visitvideo/pkg/factory"
	"github.com/jdgilhuly/visitvideo/pkg/scenario"
	"github.com/jdgilhuly/visitvideo/pkg/trace"
	"github.com/jdgilhuly/visitvideo/pkg/video"
)

// ScenarioResult holds the outcome of running a single scenario.
type ScenarioResult struct {
	ScenarioName string                `json:"scenario_name"`
	Path         string                `json:"path,omitempty"`
	Provider     string                `json:"provider"`
	Mode         string                `json:"mode,omitempty"`
	Steps        int                   `json:"steps"`
	Failures     []string              `json:"failures,omitempty"`
	Trace        *trace.OperationTrace `json:"trace,omitempty"`
	Error        string                `json:"error,omitempty"`
	Duration     time.Duration         `json:"duration"`
}

// Passed reports whether the scenario ran and every step met its
// expectations.
func (r ScenarioResult) Passed() bool {
	return r.Error == "" && len(r.Failures) == 0
}

// RunResult holds the output from an entire run.
type RunResult struct {
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Duration  time.Duration    `json:"duration"`
	Scenarios []ScenarioResult `json:"scenarios"`
}

// ConfigFunc returns the provider configuration for a resolved provider
// name.
type ConfigFunc func(provider string) (video.ProviderConfig, error)

// Config controls runner behavior.
type Config struct {
	Concurrency int
	Timeout     time.Duration

	// DefaultProvider is used by scenarios that do not name one. Empty
	// defers to the factory default.
	DefaultProvider string

	// ProviderConfig supplies credentials per provider. Nil means an empty
	// configuration, which selects simulated backends outside production.
	ProviderConfig ConfigFunc

	Logger *logrus.Logger
}

// Runner executes scenarios with bounded concurrency. Each scenario gets
// its own provider instance from the factory so room listings and
// recordings never leak between scenarios.
type Runner struct {
	cfg     Config
	factory *factory.Factory
}

// New creates a Runner that builds providers with f.
func New(cfg Config, f *factory.Factory) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.ProviderConfig == nil {
		cfg.ProviderConfig = func(string) (video.ProviderConfig, error) { return video.ProviderConfig{}, nil }
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Runner{cfg: cfg, factory: f}
}

// ProgressFunc is called after each scenario completes. Index is 0-based,
// total is the number of scenarios.
type ProgressFunc func(index, total int, scenarioName string, elapsed time.Duration, err error)

// Run executes all scenarios. It respects bounded concurrency and
// per-scenario timeouts. The optional progress callback is invoked after
// each scenario completes.
func (r *Runner) Run(ctx context.Context, scenarios []*scenario.Scenario, progress ProgressFunc) (*RunResult, error) {
	result := &RunResult{
		StartTime: time.Now(),
		Scenarios: make([]ScenarioResult, len(scenarios)),
	}

	sem := make(chan struct{}, r.cfg.Concurrency)
	var mu sync.Mutex
	var completed int

	var wg sync.WaitGroup
	for i, s := range scenarios {
		wg.Add(1)
		go func(idx int, sc *scenario.Scenario) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			sr := r.runChecked(ctx, sc)
			mu.Lock()
			result.Scenarios[idx] = sr
			completed++
			current := completed
			mu.Unlock()

			if progress != nil {
				var scErr error
				switch {
				case sr.Error != "":
					scErr = errors.New(sr.Error)
				case len(sr.Failures) > 0:
					scErr = fmt.Errorf("%d expectation(s) failed", len(sr.Failures))
				}
				progress(current-1, len(scenarios), sc.Name, time.Since(result.StartTime), scErr)
			}
		}(i, s)
	}

	wg.Wait()
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	return result, nil
}

// runChecked validates sc before running it. Invalid scenarios are
// reported as errored without opening a provider.
func (r *Runner) runChecked(ctx context.Context, sc *scenario.Scenario) ScenarioResult {
	if err := sc.Validate(); err != nil {
		return ScenarioResult{
			ScenarioName: sc.Name,
			Path:         sc.Path,
			Provider:     sc.Provider,
			Steps:        len(sc.Steps),
			Error:        fmt.Sprintf("invalid scenario: %v", err),
		}
	}
	return r.RunScenario(ctx, sc)
}

// runState tracks aliases and recordings created while a scenario runs.
type runState struct {
	rooms      map[string]string // alias -> room id
	recordings map[string]string // room id -> most recent recording id
}

// RunScenario executes one scenario against a fresh provider instance. The
// scenario must already have passed Validate.
func (r *Runner) RunScenario(ctx context.Context, s *scenario.Scenario) (sr ScenarioResult) {
	start := time.Now()
	sr = ScenarioResult{
		ScenarioName: s.Name,
		Path:         s.Path,
		Steps:        len(s.Steps),
	}
	defer func() { sr.Duration = time.Since(start) }()

	name := s.Provider
	if name == "" {
		name = r.cfg.DefaultProvider
	}
	kind, err := r.factory.Resolve(name)
	if err != nil {
		sr.Provider = name
		sr.Error = err.Error()
		return sr
	}
	sr.Provider = kind.String()

	timeout := r.cfg.Timeout
	if s.Timeout > 0 {
		timeout = s.Timeout
	}
	scCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pc, err := r.cfg.ProviderConfig(kind.String())
	if err != nil {
		sr.Error = fmt.Sprintf("provider config: %v", err)
		return sr
	}
	p, err := r.factory.Open(scCtx, pc, kind.String())
	if err != nil {
		sr.Error = fmt.Sprintf("opening provider: %v", err)
		return sr
	}
	defer func() {
		if err := p.Disconnect(context.WithoutCancel(ctx)); err != nil {
			r.cfg.Logger.WithFields(logrus.Fields{"scenario": s.Name, "provider": kind}).WithError(err).Warn("disconnecting provider")
		}
	}()
	sr.Mode = string(p.Mode())

	tr := trace.New(kind.String())
	tr.SetMode(sr.Mode)
	sr.Trace = tr

	st := &runState{rooms: make(map[string]string), recordings: make(map[string]string)}
	for i, step := range s.Steps {
		stepStart := time.Now()
		obs, roomID, recID := r.execStep(scCtx, p, step, st)
		failures := step.Expect.Check(obs)

		rec := trace.StepTrace{
			Index:       i,
			Op:          string(step.Op),
			RoomID:      roomID,
			RecordingID: recID,
			Failures:    failures,
			StartTime:   stepStart,
			EndTime:     time.Now(),
		}
		rec.Duration = rec.EndTime.Sub(stepStart)
		if obs.Err != nil {
			rec.Error = obs.Err.Error()
			rec.ErrorKind = string(video.KindOf(obs.Err))
		}
		tr.AddStep(rec)

		for _, f := range failures {
			sr.Failures = append(sr.Failures, fmt.Sprintf("step %d (%s): %s", i+1, step.Op, f))
		}
	}
	tr.Finish()

	r.cfg.Logger.WithFields(logrus.Fields{
		"scenario": s.Name,
		"provider": kind,
		"mode":     sr.Mode,
		"failures": len(sr.Failures),
	}).Debug("scenario finished")
	return sr
}

// errUnresolved is returned when a step refers to a room or recording
// that an earlier step failed to produce.
var errUnresolved = errors.New("unresolved reference")

func (st *runState) roomID(step scenario.Step) (string, error) {
	if step.RoomID != "" {
		return step.RoomID, nil
	}
	if step.RoomRef == "" {
		return "", nil
	}
	id, ok := st.rooms[step.RoomRef]
	if !ok {
		return "", fmt.Errorf("%w: room_ref %q", errUnresolved, step.RoomRef)
	}
	return id, nil
}

// execStep performs one operation and returns what it observed together
// with the room and recording it touched.
func (r *Runner) execStep(ctx context.Context, p video.Provider, step scenario.Step, st *runState) (obs scenario.Observation, roomID, recID string) {
	roomID, err := st.roomID(step)
	if err != nil {
		obs.Err = err
		return obs, "", ""
	}

	switch step.Op {
	case scenario.OpCreateRoom:
		var opts video.RoomOptions
		if step.Room != nil {
			opts = *step.Room
		}
		obs.Room, obs.Err = p.CreateRoom(ctx, opts)
		if obs.Err == nil {
			roomID = obs.Room.ID
			if step.As != "" {
				st.rooms[step.As] = roomID
			}
		}

	case scenario.OpJoinRoom:
		if obs.Err = p.JoinRoom(ctx, roomID, *step.Participant); obs.Err == nil {
			obs.Room, obs.Err = p.GetRoomInfo(ctx, roomID)
		}

	case scenario.OpLeaveRoom:
		if obs.Err = p.LeaveRoom(ctx, roomID, step.ParticipantID); obs.Err == nil {
			obs.Room, obs.Err = p.GetRoomInfo(ctx, roomID)
		}

	case scenario.OpListRooms:
		var rooms []*video.Room
		if rooms, obs.Err = p.ListRooms(ctx); obs.Err == nil {
			n := len(rooms)
			obs.Count = &n
		}

	case scenario.OpGetRoom:
		obs.Room, obs.Err = p.GetRoomInfo(ctx, roomID)

	case scenario.OpUpdateRoomSettings:
		obs.Room, obs.Err = p.UpdateRoomSettings(ctx, roomID, *step.Settings)

	case scenario.OpUpdateSecurity:
		obs.Room, obs.Err = p.UpdateSecuritySettings(ctx, roomID, *step.Security)

	case scenario.OpStartRecording:
		var opts video.RecordingOptions
		if step.Recording != nil {
			opts = *step.Recording
		}
		obs.Recording, obs.Err = p.StartRecording(ctx, roomID, opts)
		if obs.Err == nil {
			recID = obs.Recording.ID
			st.recordings[roomID] = recID
		}

	case scenario.OpPauseRecording, scenario.OpResumeRecording, scenario.OpStopRecording:
		switch step.Op {
		case scenario.OpPauseRecording:
			obs.Err = p.PauseRecording(ctx, roomID)
		case scenario.OpResumeRecording:
			obs.Err = p.ResumeRecording(ctx, roomID)
		default:
			obs.Err = p.StopRecording(ctx, roomID)
		}
		recID = st.recordings[roomID]
		if obs.Err == nil && recID != "" {
			obs.Recording, obs.Err = p.GetRecording(ctx, recID)
		}

	case scenario.OpGetRecording:
		recID = step.RecordingID
		if recID == "" {
			var ok bool
			if recID, ok = st.recordings[roomID]; !ok {
				obs.Err = fmt.Errorf("%w: no recording started in room_ref %q", errUnresolved, step.RoomRef)
				return obs, roomID, ""
			}
		}
		obs.Recording, obs.Err = p.GetRecording(ctx, recID)

	case scenario.OpListRecordings:
		var recs []*video.RecordingInfo
		if recs, obs.Err = p.ListRecordings(ctx, roomID); obs.Err == nil {
			n := len(recs)
			obs.Count = &n
		}

	case scenario.OpJoinToken:
		issuer, ok := p.(video.TokenIssuer)
		if !ok {
			obs.Err = video.NewBackendError(video.ErrUnsupported)
			break
		}
		obs.Token, obs.Err = issuer.JoinToken(ctx, roomID, *step.Participant)

	default:
		obs.Err = fmt.Errorf("unknown op %q", step.Op)
	}
	return obs, roomID, recID
}

// JSON serializes the RunResult to indented JSON bytes.
func (r *RunResult) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

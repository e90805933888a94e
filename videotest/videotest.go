package videotest

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jdgilhuly/visitvideo/pkg/factory"
	"github.com/jdgilhuly/visitvideo/pkg/trace"
	"github.com/jdgilhuly/visitvideo/pkg/video"
)

// Option configures a Harness.
type Option func(*Harness)

// WithProvider selects the provider kind. Defaults to the factory default.
func WithProvider(name string) Option {
	return func(h *Harness) {
		h.provider = name
	}
}

// WithConfig sets the provider configuration. Defaults to a mock config.
func WithConfig(cfg video.ProviderConfig) Option {
	return func(h *Harness) {
		h.config = cfg
	}
}

// WithFactoryOptions passes options to the underlying factory, for example
// to register a wrapping constructor.
func WithFactoryOptions(opts ...factory.Option) Option {
	return func(h *Harness) {
		h.factoryOpts = append(h.factoryOpts, opts...)
	}
}

// WithLogger sets the logger handed to providers. Defaults to a logger
// that discards output.
func WithLogger(l *logrus.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// WithTimeout sets the per-case timeout. Defaults to 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(h *Harness) {
		h.timeout = d
	}
}

// WithResultFile configures the harness to write case results to a JSON
// file when all cases are complete.
func WithResultFile(path string) Option {
	return func(h *Harness) {
		h.resultFile = path
	}
}

// CaseResult captures the outcome of a single case.
type CaseResult struct {
	Name     string            `json:"name"`
	Provider string            `json:"provider"`
	Steps    []trace.StepTrace `json:"steps"`
	Failed   bool              `json:"failed"`
	Duration time.Duration     `json:"duration"`
}

// Harness runs provider cases as subtests.
type Harness struct {
	t           *testing.T
	provider    string
	config      video.ProviderConfig
	logger      *logrus.Logger
	factoryOpts []factory.Option
	factory     *factory.Factory
	timeout     time.Duration
	resultFile  string

	mu      sync.Mutex
	results []CaseResult
}

// New creates a Harness bound to t. Defaults: the factory default provider
// in mock mode, a silent logger, and a 30 second timeout per case.
func New(t *testing.T, opts ...Option) *Harness {
	t.Helper()
	h := &Harness{
		t:       t,
		config:  video.ProviderConfig{Mock: true},
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logrus.New()
		h.logger.SetOutput(io.Discard)
	}
	fopts := append([]factory.Option{factory.WithLogger(h.logger)}, h.factoryOpts...)
	h.factory = factory.New(fopts...)

	if h.resultFile != "" {
		t.Cleanup(func() {
			h.writeResults()
		})
	}
	return h
}

// Factory returns the factory the harness builds providers with.
func (h *Harness) Factory() *factory.Factory { return h.factory }

// Run executes a named case as a subtest against a fresh provider.
func (h *Harness) Run(name string, fn func(vc *VisitCase)) {
	h.t.Helper()
	h.run(h.t, name, h.provider, fn)
}

// RunEach executes the case once per provider kind the factory can build,
// as nested subtests named after each kind.
func (h *Harness) RunEach(name string, fn func(vc *VisitCase)) {
	h.t.Helper()
	h.t.Run(name, func(t *testing.T) {
		for _, k := range h.factory.Kinds() {
			h.run(t, k.String(), k.String(), fn)
		}
	})
}

func (h *Harness) run(parent *testing.T, name, provider string, fn func(vc *VisitCase)) {
	parent.Helper()
	parent.Run(name, func(t *testing.T) {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		p, err := h.factory.Open(ctx, h.config, provider)
		if err != nil {
			t.Fatalf("opening provider %q: %v", provider, err)
		}
		tr := trace.New(p.Name())
		tr.SetMode(string(p.Mode()))

		vc := &VisitCase{t: t, ctx: ctx, provider: p, trace: tr}
		defer func() {
			if err := p.Disconnect(context.Background()); err != nil {
				t.Errorf("disconnecting %s: %v", p.Name(), err)
			}
			tr.Finish()
			h.recordResult(CaseResult{
				Name:     t.Name(),
				Provider: p.Name(),
				Steps:    tr.GetSteps(),
				Failed:   t.Failed(),
				Duration: tr.Duration,
			})
		}()
		fn(vc)
	})
}

func (h *Harness) recordResult(r CaseResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, r)
}

// Results returns a copy of the recorded case results.
func (h *Harness) Results() []CaseResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CaseResult, len(h.results))
	copy(out, h.results)
	return out
}

// writeResults saves all recorded results to the configured JSON file.
func (h *Harness) writeResults() {
	data, err := json.MarshalIndent(h.Results(), "", "  ")
	if err != nil {
		h.t.Errorf("videotest: failed to marshal results: %v", err)
		return
	}
	if err := os.WriteFile(h.resultFile, data, 0o644); err != nil {
		h.t.Errorf("videotest: failed to write results to %s: %v", h.resultFile, err)
	}
}

// VisitCase wraps one provider instance for the duration of a case.
type VisitCase struct {
	t        *testing.T
	ctx      context.Context
	provider video.Provider
	trace    *trace.OperationTrace
}

// T returns the subtest's *testing.T.
func (vc *VisitCase) T() *testing.T { return vc.t }

// Context returns the case context, bounded by the harness timeout.
func (vc *VisitCase) Context() context.Context { return vc.ctx }

// Provider returns the provider under test for direct calls.
func (vc *VisitCase) Provider() video.Provider { return vc.provider }

// Trace returns the operations recorded so far.
func (vc *VisitCase) Trace() *trace.OperationTrace { return vc.trace }

// record runs fn and appends its outcome to the trace.
func (vc *VisitCase) record(op, roomID string, fn func() (string, error)) error {
	start := time.Now()
	recID, err := fn()
	st := trace.StepTrace{
		Index:       len(vc.trace.GetSteps()),
		Op:          op,
		RoomID:      roomID,
		RecordingID: recID,
		StartTime:   start,
		EndTime:     time.Now(),
	}
	st.Duration = st.EndTime.Sub(start)
	if err != nil {
		st.Error = err.Error()
		st.ErrorKind = string(video.KindOf(err))
	}
	vc.trace.AddStep(st)
	return err
}

// CreateRoom creates a room and fails the test on error.
func (vc *VisitCase) CreateRoom(opts video.RoomOptions) *video.Room {
	vc.t.Helper()
	var room *video.Room
	err := vc.record("create_room", "", func() (string, error) {
		var err error
		room, err = vc.provider.CreateRoom(vc.ctx, opts)
		return "", err
	})
	if err != nil {
		vc.t.Fatalf("CreateRoom(%+v): %v", opts, err)
	}
	return room
}

// TryCreateRoom creates a room and returns the error for inspection.
func (vc *VisitCase) TryCreateRoom(opts video.RoomOptions) (*video.Room, error) {
	var room *video.Room
	err := vc.record("create_room", "", func() (string, error) {
		var err error
		room, err = vc.provider.CreateRoom(vc.ctx, opts)
		return "", err
	})
	return room, err
}

// Join admits p to the room.
func (vc *VisitCase) Join(roomID string, p video.Participant) error {
	return vc.record("join_room", roomID, func() (string, error) {
		return "", vc.provider.JoinRoom(vc.ctx, roomID, p)
	})
}

// MustJoin admits p and fails the test on error.
func (vc *VisitCase) MustJoin(roomID string, p video.Participant) {
	vc.t.Helper()
	if err := vc.Join(roomID, p); err != nil {
		vc.t.Fatalf("JoinRoom(%s, %s): %v", roomID, p.ID, err)
	}
}

// Leave removes a participant from the room.
func (vc *VisitCase) Leave(roomID, participantID string) error {
	return vc.record("leave_room", roomID, func() (string, error) {
		return "", vc.provider.LeaveRoom(vc.ctx, roomID, participantID)
	})
}

// Room fetches the room and fails the test on error.
func (vc *VisitCase) Room(roomID string) *video.Room {
	vc.t.Helper()
	var room *video.Room
	err := vc.record("get_room", roomID, func() (string, error) {
		var err error
		room, err = vc.provider.GetRoomInfo(vc.ctx, roomID)
		return "", err
	})
	if err != nil {
		vc.t.Fatalf("GetRoomInfo(%s): %v", roomID, err)
	}
	return room
}

// UpdateSettings applies a room settings change.
func (vc *VisitCase) UpdateSettings(roomID string, u video.RoomSettingsUpdate) (*video.Room, error) {
	var room *video.Room
	err := vc.record("update_room_settings", roomID, func() (string, error) {
		var err error
		room, err = vc.provider.UpdateRoomSettings(vc.ctx, roomID, u)
		return "", err
	})
	return room, err
}

// UpdateSecurity applies a security policy change.
func (vc *VisitCase) UpdateSecurity(roomID string, u video.SecuritySettingsUpdate) (*video.Room, error) {
	var room *video.Room
	err := vc.record("update_security", roomID, func() (string, error) {
		var err error
		room, err = vc.provider.UpdateSecuritySettings(vc.ctx, roomID, u)
		return "", err
	})
	return room, err
}

// StartRecording starts a recording in the room.
func (vc *VisitCase) StartRecording(roomID string, opts video.RecordingOptions) (*video.RecordingInfo, error) {
	var rec *video.RecordingInfo
	err := vc.record("start_recording", roomID, func() (string, error) {
		var err error
		rec, err = vc.provider.StartRecording(vc.ctx, roomID, opts)
		if err != nil {
			return "", err
		}
		return rec.ID, nil
	})
	return rec, err
}

// PauseRecording pauses the room's recording.
func (vc *VisitCase) PauseRecording(roomID string) error {
	return vc.record("pause_recording", roomID, func() (string, error) {
		return "", vc.provider.PauseRecording(vc.ctx, roomID)
	})
}

// ResumeRecording resumes the room's recording.
func (vc *VisitCase) ResumeRecording(roomID string) error {
	return vc.record("resume_recording", roomID, func() (string, error) {
		return "", vc.provider.ResumeRecording(vc.ctx, roomID)
	})
}

// StopRecording stops the room's recording.
func (vc *VisitCase) StopRecording(roomID string) error {
	return vc.record("stop_recording", roomID, func() (string, error) {
		return "", vc.provider.StopRecording(vc.ctx, roomID)
	})
}

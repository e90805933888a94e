package trace

import (
	"encoding/json"
	"sync"
	"time"
)

// OperationTrace captures every provider call made while running one
// scenario, with timing and the outcome of each step.
type OperationTrace struct {
	Provider  string        `json:"provider"`
	Mode      string        `json:"mode,omitempty"`
	Steps     []StepTrace   `json:"steps"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	mu sync.Mutex
}

// StepTrace records a single provider operation.
type StepTrace struct {
	Index       int           `json:"index"`
	Op          string        `json:"op"`
	RoomID      string        `json:"room_id,omitempty"`
	RecordingID string        `json:"recording_id,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Failures    []string      `json:"failures,omitempty"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`
}

// Passed reports whether the step met its expectations.
func (s StepTrace) Passed() bool { return len(s.Failures) == 0 }

// New creates a trace for the named provider and marks the start time.
func New(provider string) *OperationTrace {
	return &OperationTrace{
		Provider:  provider,
		StartTime: time.Now(),
	}
}

// SetMode records whether the provider ran live or simulated.
func (t *OperationTrace) SetMode(mode string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Mode = mode
}

// AddStep appends a step record to the trace.
func (t *OperationTrace) AddStep(s StepTrace) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Steps = append(t.Steps, s)
}

// Finish marks the trace as complete and records the end time and duration.
func (t *OperationTrace) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.EndTime = time.Now()
	t.Duration = t.EndTime.Sub(t.StartTime)
}

// GetSteps returns a copy of all recorded steps.
func (t *OperationTrace) GetSteps() []StepTrace {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StepTrace, len(t.Steps))
	copy(out, t.Steps)
	return out
}

// FailedSteps returns the number of steps with at least one failure.
func (t *OperationTrace) FailedSteps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.Steps {
		if !s.Passed() {
			n++
		}
	}
	return n
}

// JSON serializes the trace to indented JSON bytes.
func (t *OperationTrace) JSON() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.MarshalIndent(t, "", "  ")
}

package result

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jdgilhuly/visitvideo/pkg/runner"
)

// RunSummary is the top-level structure persisted to JSON for each
// scenario run.
type RunSummary struct {
	RunID     string           `json:"run_id"`
	Label     string           `json:"label"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Duration  time.Duration    `json:"duration"`
	Stats     Stats            `json:"stats"`
	Results   []ScenarioResult `json:"results"`
}

// Stats holds aggregate statistics for the run.
type Stats struct {
	TotalScenarios   int                      `json:"total_scenarios"`
	PassedScenarios  int                      `json:"passed_scenarios"`
	FailedScenarios  int                      `json:"failed_scenarios"`
	ErroredScenarios int                      `json:"errored_scenarios"`
	PassRate         float64                  `json:"pass_rate"`
	TotalSteps       int                      `json:"total_steps"`
	FailedSteps      int                      `json:"failed_steps"`
	LatencyP50       time.Duration            `json:"latency_p50"`
	LatencyP95       time.Duration            `json:"latency_p95"`
	ByProvider       map[string]ProviderStats `json:"by_provider,omitempty"`
}

// ProviderStats counts scenario outcomes for one provider.
type ProviderStats struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
}

// ScenarioResult is the per-scenario result stored in the JSON output.
type ScenarioResult struct {
	ScenarioName string        `json:"scenario_name"`
	Path         string        `json:"path,omitempty"`
	Provider     string        `json:"provider"`
	Mode         string        `json:"mode,omitempty"`
	Pass         bool          `json:"pass"`
	Steps        int           `json:"steps"`
	FailedSteps  int           `json:"failed_steps"`
	Failures     []string      `json:"failures,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// FromRunResult converts a runner.RunResult into a RunSummary, generating
// a run ID and computing summary statistics.
func FromRunResult(rr *runner.RunResult, label string) *RunSummary {
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		Label:     label,
		StartTime: rr.StartTime,
		EndTime:   rr.EndTime,
		Duration:  rr.Duration,
	}

	for _, sr := range rr.Scenarios {
		res := ScenarioResult{
			ScenarioName: sr.ScenarioName,
			Path:         sr.Path,
			Provider:     sr.Provider,
			Mode:         sr.Mode,
			Pass:         sr.Passed(),
			Steps:        sr.Steps,
			Failures:     sr.Failures,
			Error:        sr.Error,
			Duration:     sr.Duration,
		}
		if sr.Trace != nil {
			res.FailedSteps = sr.Trace.FailedSteps()
		}
		summary.Results = append(summary.Results, res)
	}

	summary.Stats = ComputeStats(summary.Results)
	return summary
}

// ComputeStats calculates aggregate statistics from a slice of
// ScenarioResults.
func ComputeStats(results []ScenarioResult) Stats {
	s := Stats{TotalScenarios: len(results)}
	if len(results) == 0 {
		return s
	}

	s.ByProvider = make(map[string]ProviderStats)
	var durations []time.Duration

	for _, r := range results {
		ps := s.ByProvider[r.Provider]
		switch {
		case r.Error != "":
			s.ErroredScenarios++
			ps.Errored++
		case r.Pass:
			s.PassedScenarios++
			ps.Passed++
		default:
			s.FailedScenarios++
			ps.Failed++
		}
		s.ByProvider[r.Provider] = ps
		s.TotalSteps += r.Steps
		s.FailedSteps += r.FailedSteps
		durations = append(durations, r.Duration)
	}

	nonErrored := s.TotalScenarios - s.ErroredScenarios
	if nonErrored > 0 {
		s.PassRate = float64(s.PassedScenarios) / float64(nonErrored)
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	s.LatencyP50 = percentile(durations, 0.5)
	s.LatencyP95 = percentile(durations, 0.95)

	return s
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice of durations.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := p * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper || upper >= len(sorted) {
		return sorted[lower]
	}
	frac := idx - float64(lower)
	return time.Duration(float64(sorted[lower])*(1-frac) + float64(sorted[upper])*frac)
}

// DefaultPath returns the default output file path for a run result.
func DefaultPath(outputDir, label string, startTime time.Time) string {
	filename := fmt.Sprintf("%s-%s.json", startTime.Format("20060102-150405"), label)
	return filepath.Join(outputDir, filename)
}

// Save writes the RunSummary as pretty-printed JSON to the given path.
// Parent directories are created automatically.
func (s *RunSummary) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating result directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing result to %s: %w", path, err)
	}

	return nil
}

// LoadSummary reads a RunSummary from a JSON file.
func LoadSummary(path string) (*RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result file %s: %w", path, err)
	}

	var s RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing result file %s: %w", path, err)
	}

	return &s, nil
}

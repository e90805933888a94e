package result

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jdgilhuly/visitvideo/pkg/runner"
	"github.com/jdgilhuly/visitvideo/pkg/trace"
)

func TestFromRunResult(t *testing.T) {
	tr := trace.New("daily")
	tr.AddStep(trace.StepTrace{Op: "create_room"})
	tr.AddStep(trace.StepTrace{Op: "start_recording", Failures: []string{"unexpected error"}})
	tr.Finish()

	rr := &runner.RunResult{
		StartTime: time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 6, 15, 10, 0, 5, 0, time.UTC),
		Duration:  5 * time.Second,
		Scenarios: []runner.ScenarioResult{
			{
				ScenarioName: "family-visit",
				Provider:     "daily",
				Mode:         "mock",
				Steps:        2,
				Failures:     []string{"step 2 (start_recording): unexpected error"},
				Trace:        tr,
				Duration:     2 * time.Second,
			},
			{ScenarioName: "ok", Provider: "twilio", Steps: 1, Duration: time.Second},
		},
	}

	summary := FromRunResult(rr, "nightly")

	if _, err := uuid.Parse(summary.RunID); err != nil {
		t.Errorf("RunID %q is not a UUID: %v", summary.RunID, err)
	}
	if summary.Label != "nightly" {
		t.Errorf("Label = %q, want nightly", summary.Label)
	}
	if len(summary.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(summary.Results))
	}

	first := summary.Results[0]
	if first.Pass {
		t.Error("family-visit Pass = true, want false")
	}
	if first.FailedSteps != 1 {
		t.Errorf("FailedSteps = %d, want 1", first.FailedSteps)
	}
	if !summary.Results[1].Pass {
		t.Error("ok Pass = false, want true")
	}
	if summary.Stats.TotalSteps != 3 {
		t.Errorf("TotalSteps = %d, want 3", summary.Stats.TotalSteps)
	}
}

func TestComputeStats(t *testing.T) {
	results := []ScenarioResult{
		{ScenarioName: "s1", Provider: "twilio", Pass: true, Steps: 3, Duration: 100 * time.Millisecond},
		{ScenarioName: "s2", Provider: "twilio", Pass: true, Steps: 2, Duration: 200 * time.Millisecond},
		{ScenarioName: "s3", Provider: "daily", Pass: false, Steps: 4, FailedSteps: 2, Duration: 300 * time.Millisecond},
		{ScenarioName: "s4", Provider: "daily", Error: "opening provider", Duration: 500 * time.Millisecond},
	}

	s := ComputeStats(results)

	if s.TotalScenarios != 4 {
		t.Errorf("TotalScenarios = %d, want 4", s.TotalScenarios)
	}
	if s.PassedScenarios != 2 || s.FailedScenarios != 1 || s.ErroredScenarios != 1 {
		t.Errorf("passed/failed/errored = %d/%d/%d, want 2/1/1", s.PassedScenarios, s.FailedScenarios, s.ErroredScenarios)
	}

	// Pass rate = 2 / (4 - 1 errored) = 2/3
	expectedPassRate := 2.0 / 3.0
	if diff := s.PassRate - expectedPassRate; diff > 0.001 || diff < -0.001 {
		t.Errorf("PassRate = %f, want %f", s.PassRate, expectedPassRate)
	}

	if s.TotalSteps != 9 || s.FailedSteps != 2 {
		t.Errorf("steps = %d (%d failed), want 9 (2 failed)", s.TotalSteps, s.FailedSteps)
	}

	// P50 of sorted [100ms, 200ms, 300ms, 500ms] = interpolated at index 1.5 = 250ms
	if s.LatencyP50 != 250*time.Millisecond {
		t.Errorf("LatencyP50 = %v, want 250ms", s.LatencyP50)
	}

	if got := s.ByProvider["twilio"]; got != (ProviderStats{Passed: 2}) {
		t.Errorf("ByProvider[twilio] = %+v", got)
	}
	if got := s.ByProvider["daily"]; got != (ProviderStats{Failed: 1, Errored: 1}) {
		t.Errorf("ByProvider[daily] = %+v", got)
	}
}

func TestComputeStats_Empty(t *testing.T) {
	s := ComputeStats(nil)
	if s.TotalScenarios != 0 {
		t.Errorf("TotalScenarios = %d, want 0", s.TotalScenarios)
	}
	if s.PassRate != 0 {
		t.Errorf("PassRate = %f, want 0", s.PassRate)
	}
}

func TestDefaultPath(t *testing.T) {
	ts := time.Date(2026, 6, 15, 10, 30, 45, 0, time.UTC)
	path := DefaultPath("results", "nightly", ts)
	expected := filepath.Join("results", "20260615-103045-nightly.json")
	if path != expected {
		t.Errorf("DefaultPath = %q, want %q", path, expected)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output", "test-result.json")

	summary := &RunSummary{
		RunID:     "test-run-id",
		Label:     "save-test",
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC),
		Duration:  5 * time.Second,
		Stats: Stats{
			TotalScenarios:  2,
			PassedScenarios: 1,
			FailedScenarios: 1,
			PassRate:        0.5,
		},
		Results: []ScenarioResult{
			{ScenarioName: "pass", Provider: "twilio", Pass: true, Duration: time.Second},
			{ScenarioName: "fail", Provider: "daily", Failures: []string{"step 1 (create_room): layout = grid, want spotlight"}, Duration: 2 * time.Second},
		},
	}

	if err := summary.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("output directory not created: %v", err)
	}

	loaded, err := LoadSummary(path)
	if err != nil {
		t.Fatalf("LoadSummary() error: %v", err)
	}

	if loaded.RunID != summary.RunID || loaded.Label != summary.Label {
		t.Errorf("loaded = %s/%s, want %s/%s", loaded.RunID, loaded.Label, summary.RunID, summary.Label)
	}
	if len(loaded.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(loaded.Results))
	}
	if len(loaded.Results[1].Failures) != 1 {
		t.Errorf("Results[1].Failures = %v, want 1", loaded.Results[1].Failures)
	}
	if loaded.Stats.PassRate != 0.5 {
		t.Errorf("Stats.PassRate = %f, want 0.5", loaded.Stats.PassRate)
	}
}

func TestLoadSummary_NotFound(t *testing.T) {
	if _, err := LoadSummary("/nonexistent/result.json"); err == nil {
		t.Fatal("LoadSummary() expected error for missing file, got nil")
	}
}

func TestLoadSummary_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{invalid json}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSummary(path); err == nil {
		t.Fatal("LoadSummary() expected error for invalid JSON, got nil")
	}
}

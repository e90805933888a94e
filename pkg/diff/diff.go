package diff

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jdgilhuly/visitvideo/pkg/report"
	"github.com/jdgilhuly/visitvideo/pkg/result"
)

// Category classifies a scenario comparison.
type Category string

const (
	Improved  Category = "improved"
	Regressed Category = "regressed"
	Unchanged Category = "unchanged"
	New       Category = "new"
	Removed   Category = "removed"
)

// ScenarioDiff represents the comparison of a single scenario between two
// runs.
type ScenarioDiff struct {
	ScenarioName string   `json:"scenario_name"`
	Category     Category `json:"category"`
	ProviderA    string   `json:"provider_a,omitempty"`
	ProviderB    string   `json:"provider_b,omitempty"`
	StatusA      string   `json:"status_a,omitempty"`
	StatusB      string   `json:"status_b,omitempty"`
	FailedStepsA int      `json:"failed_steps_a"`
	FailedStepsB int      `json:"failed_steps_b"`
}

// DiffResult holds the full comparison between two runs.
type DiffResult struct {
	RunA      string         `json:"run_a"`
	RunB      string         `json:"run_b"`
	Scenarios []ScenarioDiff `json:"scenarios"`
	Summary
}

// Summary holds counts by category.
type Summary struct {
	Improved  int `json:"improved"`
	Regressed int `json:"regressed"`
	Unchanged int `json:"unchanged"`
	New       int `json:"new"`
	Removed   int `json:"removed"`
}

// Compare produces a diff between two run summaries. Scenarios are matched
// by name. A change in status (error < fail < pass) decides the category;
// with equal status, fewer failed steps counts as an improvement.
func Compare(a, b *result.RunSummary) *DiffResult {
	dr := &DiffResult{
		RunA: a.RunID,
		RunB: b.RunID,
	}

	aMap := make(map[string]result.ScenarioResult, len(a.Results))
	for _, sr := range a.Results {
		aMap[sr.ScenarioName] = sr
	}

	seen := make(map[string]bool, len(b.Results))
	for _, srB := range b.Results {
		seen[srB.ScenarioName] = true

		sd := ScenarioDiff{
			ScenarioName: srB.ScenarioName,
			ProviderB:    srB.Provider,
			StatusB:      status(srB),
			FailedStepsB: srB.FailedSteps,
		}

		srA, inA := aMap[srB.ScenarioName]
		if !inA {
			sd.Category = New
			dr.Summary.New++
			dr.Scenarios = append(dr.Scenarios, sd)
			continue
		}
		sd.ProviderA = srA.Provider
		sd.StatusA = status(srA)
		sd.FailedStepsA = srA.FailedSteps

		switch delta := compare(srA, srB); {
		case delta > 0:
			sd.Category = Improved
			dr.Summary.Improved++
		case delta < 0:
			sd.Category = Regressed
			dr.Summary.Regressed++
		default:
			sd.Category = Unchanged
			dr.Summary.Unchanged++
		}
		dr.Scenarios = append(dr.Scenarios, sd)
	}

	for _, srA := range a.Results {
		if !seen[srA.ScenarioName] {
			dr.Scenarios = append(dr.Scenarios, ScenarioDiff{
				ScenarioName: srA.ScenarioName,
				Category:     Removed,
				ProviderA:    srA.Provider,
				StatusA:      status(srA),
				FailedStepsA: srA.FailedSteps,
			})
			dr.Summary.Removed++
		}
	}

	return dr
}

// compare returns >0 when b is better than a, <0 when worse.
func compare(a, b result.ScenarioResult) int {
	if d := rank(b) - rank(a); d != 0 {
		return d
	}
	return a.FailedSteps - b.FailedSteps
}

func rank(sr result.ScenarioResult) int {
	switch {
	case sr.Error != "":
		return 0
	case sr.Pass:
		return 2
	default:
		return 1
	}
}

func status(sr result.ScenarioResult) string {
	return strings.ToLower(report.StatusLabelPlain(sr))
}

// Regressions reports whether any scenario got worse.
func (dr *DiffResult) Regressions() bool {
	return dr.Summary.Regressed > 0
}

// Filter returns a new DiffResult with only scenarios matching the given
// categories. Pass nil to include all.
func (dr *DiffResult) Filter(categories []Category) *DiffResult {
	if len(categories) == 0 {
		return dr
	}

	catSet := make(map[Category]bool, len(categories))
	for _, c := range categories {
		catSet[c] = true
	}

	filtered := &DiffResult{
		RunA: dr.RunA,
		RunB: dr.RunB,
	}
	for _, sd := range dr.Scenarios {
		if catSet[sd.Category] {
			filtered.Scenarios = append(filtered.Scenarios, sd)
		}
	}
	filtered.Summary = dr.Summary
	return filtered
}

// JSON serializes the diff result.
func (dr *DiffResult) JSON() ([]byte, error) {
	return json.MarshalIndent(dr, "", "  ")
}

// PrintTable writes a formatted diff table.
func (dr *DiffResult) PrintTable(w io.Writer) {
	sep := strings.Repeat("-", 78)
	fmt.Fprintf(w, "%s\n", sep)
	fmt.Fprintf(w, "  %-25s  %-10s  %-8s  %-8s  %s\n", "SCENARIO", "CHANGE", "BEFORE", "AFTER", "FAILED STEPS")
	fmt.Fprintf(w, "%s\n", sep)

	for _, sd := range dr.Scenarios {
		name := sd.ScenarioName
		if len(name) > 25 {
			name = name[:22] + "..."
		}

		var steps string
		switch sd.Category {
		case New:
			steps = fmt.Sprintf("- -> %d", sd.FailedStepsB)
		case Removed:
			steps = fmt.Sprintf("%d -> -", sd.FailedStepsA)
		default:
			steps = fmt.Sprintf("%d -> %d", sd.FailedStepsA, sd.FailedStepsB)
		}

		fmt.Fprintf(w, "  %-25s  %-10s  %-8s  %-8s  %s\n",
			name, string(sd.Category), dash(sd.StatusA), dash(sd.StatusB), steps)
	}

	fmt.Fprintf(w, "%s\n", sep)
	fmt.Fprintf(w, "  %d improved  %d regressed  %d unchanged  %d new  %d removed\n",
		dr.Summary.Improved, dr.Summary.Regressed, dr.Summary.Unchanged,
		dr.Summary.New, dr.Summary.Removed)
	fmt.Fprintf(w, "%s\n", sep)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jdgilhuly/visitvideo/pkg/result"
	"github.com/jdgilhuly/visitvideo/pkg/video"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// StatusLabel returns a colored status string for terminal display.
func StatusLabel(sr result.ScenarioResult) string {
	if sr.Error != "" {
		return colorYellow + "ERROR" + colorReset
	}
	if sr.Pass {
		return colorGreen + "PASS" + colorReset
	}
	return colorRed + "FAIL" + colorReset
}

// StatusLabelPlain returns an uncolored status string.
func StatusLabelPlain(sr result.ScenarioResult) string {
	if sr.Error != "" {
		return "ERROR"
	}
	if sr.Pass {
		return "PASS"
	}
	return "FAIL"
}

// FormatDuration formats a duration for table display.
func FormatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dus", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// PrintSummaryTable writes a formatted summary table of run results.
func PrintSummaryTable(w io.Writer, summary *result.RunSummary, color bool) {
	sep := strings.Repeat("-", 78)
	fmt.Fprintf(w, "%s\n", sep)
	fmt.Fprintf(w, "  %-28s  %-11s  %-7s  %7s  %8s\n", "SCENARIO", "PROVIDER", "STATUS", "STEPS", "LATENCY")
	fmt.Fprintf(w, "%s\n", sep)

	for _, sr := range summary.Results {
		status := StatusLabelPlain(sr)
		if color {
			status = StatusLabel(sr)
		}
		steps := fmt.Sprintf("%d/%d", sr.Steps-sr.FailedSteps, sr.Steps)
		fmt.Fprintf(w, "  %-28s  %-11s  %-7s  %7s  %8s\n",
			truncate(sr.ScenarioName, 28), truncate(sr.Provider, 11), status, steps, FormatDuration(sr.Duration))
	}

	fmt.Fprintf(w, "%s\n", sep)
	s := summary.Stats
	if color {
		fmt.Fprintf(w, "  %s%d passed%s  %s%d failed%s  %s%d errored%s  | pass rate %.0f%% | %s total\n",
			colorGreen, s.PassedScenarios, colorReset,
			colorRed, s.FailedScenarios, colorReset,
			colorYellow, s.ErroredScenarios, colorReset,
			s.PassRate*100, FormatDuration(summary.Duration))
	} else {
		fmt.Fprintf(w, "  %d passed  %d failed  %d errored  | pass rate %.0f%% | %s total\n",
			s.PassedScenarios, s.FailedScenarios, s.ErroredScenarios,
			s.PassRate*100, FormatDuration(summary.Duration))
	}
	fmt.Fprintf(w, "  p50 %s | p95 %s | steps: %d run / %d failed\n",
		FormatDuration(s.LatencyP50), FormatDuration(s.LatencyP95),
		s.TotalSteps, s.FailedSteps)

	if len(s.ByProvider) > 1 {
		names := make([]string, 0, len(s.ByProvider))
		for name := range s.ByProvider {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ps := s.ByProvider[name]
			fmt.Fprintf(w, "  %-11s %d passed  %d failed  %d errored\n", name, ps.Passed, ps.Failed, ps.Errored)
		}
	}
	fmt.Fprintf(w, "%s\n", sep)
}

// PrintVerbose writes detailed per-scenario output including every failed
// expectation.
func PrintVerbose(w io.Writer, summary *result.RunSummary, color bool) {
	PrintSummaryTable(w, summary, color)

	fmt.Fprintf(w, "\n--- Detailed Results ---\n\n")

	for _, sr := range summary.Results {
		status := StatusLabelPlain(sr)
		if color {
			status = StatusLabel(sr)
		}

		fmt.Fprintf(w, "Scenario: %s [%s]\n", sr.ScenarioName, status)
		if sr.Path != "" {
			fmt.Fprintf(w, "  File:     %s\n", sr.Path)
		}
		fmt.Fprintf(w, "  Provider: %s", sr.Provider)
		if sr.Mode != "" {
			fmt.Fprintf(w, " (%s)", sr.Mode)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  Steps:    %d (%d failed)\n", sr.Steps, sr.FailedSteps)
		fmt.Fprintf(w, "  Latency:  %s\n", FormatDuration(sr.Duration))

		if sr.Error != "" {
			fmt.Fprintf(w, "  Error:    %s\n", sr.Error)
		}
		if len(sr.Failures) > 0 {
			fmt.Fprintf(w, "  Failures:\n")
			for _, f := range sr.Failures {
				if color {
					fmt.Fprintf(w, "    %s- %s%s\n", colorRed, f, colorReset)
				} else {
					fmt.Fprintf(w, "    - %s\n", f)
				}
			}
		}
		fmt.Fprintln(w)
	}
}

// PrintRoom writes a human-readable description of a room.
func PrintRoom(w io.Writer, r *video.Room, color bool) {
	title := r.Name
	if title == "" {
		title = r.ID
	}
	if color {
		fmt.Fprintf(w, "%sRoom %s%s %s(%s)%s\n", colorBold, title, colorReset, colorDim, r.ID, colorReset)
	} else {
		fmt.Fprintf(w, "Room %s (%s)\n", title, r.ID)
	}
	fmt.Fprintf(w, "  Capacity: %d participants, %d min, %s layout\n",
		r.Settings.MaxParticipants, r.Settings.Duration, r.Settings.Layout)

	sec := r.Security
	fmt.Fprintf(w, "  Security: protected=%t encrypted=%t recording=%t ai=%t\n",
		sec.IsProtectedCall, sec.EncryptionEnabled, sec.AllowRecording, sec.AllowAIMonitoring)
	if len(sec.RequiredParticipantRoles) > 0 {
		roles := make([]string, len(sec.RequiredParticipantRoles))
		for i, role := range sec.RequiredParticipantRoles {
			roles[i] = string(role)
		}
		fmt.Fprintf(w, "  Roles:    %s\n", strings.Join(roles, ", "))
	}

	fmt.Fprintf(w, "  Participants (%d):\n", len(r.Participants))
	for _, p := range r.Participants {
		fmt.Fprintf(w, "    - %s %s [%s]\n", p.ID, p.Name, p.Role)
	}
	if rec := r.Recording; rec != nil {
		fmt.Fprintf(w, "  Recording: %s %s (%s recorded)\n", rec.ID, rec.Status, FormatDuration(rec.Duration))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

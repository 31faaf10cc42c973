// Package report renders a finished run for people (coloured text) and for
// machines (a JSON document written atomically next to the project).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/lucasnoah/selfheal/internal/heal"
)

// Report is the JSON document written by `selfheal run --report`.
type Report struct {
	Dir         string    `json:"dir"`
	Healthcheck string    `json:"healthcheck"`
	ExitCode    int       `json:"exit_code"`
	Run         *heal.Run `json:"run"`
}

// New builds the report for run.
func New(run *heal.Run, dir, healthcheck string) *Report {
	return &Report{Dir: dir, Healthcheck: healthcheck, ExitCode: run.ExitCode(), Run: run}
}

// JSON returns the report as indented JSON.
func (r *Report) JSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Save writes the report to path.
func (r *Report) Save(path string) error {
	return WriteJSON(path, r)
}

var (
	passLabel = color.New(color.FgGreen, color.Bold).SprintFunc()
	failLabel = color.New(color.FgRed, color.Bold).SprintFunc()
	skipLabel = color.New(color.FgYellow).SprintFunc()
	dim       = color.New(color.Faint).SprintFunc()
)

// Label returns the bracketed status tag used on summary lines.
func Label(ok bool) string {
	if ok {
		return passLabel("[PASS]")
	}
	return failLabel("[FAIL]")
}

// WriteText prints one line per stage followed by the verdict.
func WriteText(w io.Writer, run *heal.Run) {
	fmt.Fprintf(w, "%s healthcheck (baseline) - %s\n", Label(run.BaselineProbe.Passed()), run.BaselineProbe)
	for _, s := range run.Stages {
		fmt.Fprintln(w, stageLine(s))
	}
	fmt.Fprintln(w, verdict(run))
}

func stageLine(s heal.StageReport) string {
	if !s.Executed() {
		return fmt.Sprintf("%s %s - %s", skipLabel("[SKIP]"), s.Name, s.Outcome.SkipReason)
	}

	var parts []string
	for _, c := range s.Outcome.Commands {
		switch {
		case c.Succeeded:
			parts = append(parts, c.Winner)
		case len(c.Attempts) > 0:
			parts = append(parts, fmt.Sprintf("%s (exit %d)", c.Attempts[len(c.Attempts)-1].Command, c.Attempts[len(c.Attempts)-1].ExitCode))
		}
	}
	changed := "no"
	if s.Changed {
		changed = "yes"
	}
	return fmt.Sprintf("%s %s - %s (%s) %s",
		Label(s.Outcome.Succeeded), s.Name, strings.Join(parts, "; "),
		s.Outcome.Duration.Round(100*time.Millisecond),
		dim(fmt.Sprintf("probe=%s changed=%s", s.Probe, changed)))
}

func verdict(run *heal.Run) string {
	code := run.ExitCode()
	switch run.State {
	case heal.StateConverged:
		return fmt.Sprintf("%s self-heal converged, fixed by %q (exit %d)", Label(true), run.FixedBy, code)
	case heal.StateHealthy:
		return fmt.Sprintf("%s healthcheck already passing, nothing to repair (exit %d)", Label(true), code)
	case heal.StateAborted:
		return fmt.Sprintf("%s self-heal aborted: %s (exit %d)", Label(false), run.Error, code)
	default:
		reason := "healthcheck still failing"
		if run.FinalProbe.Passed() {
			reason = "healthcheck passes but no change was made"
		}
		return fmt.Sprintf("%s self-heal exhausted, %s (exit %d)", Label(false), reason, code)
	}
}

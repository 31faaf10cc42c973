package heal

import (
	"time"

	"github.com/lucasnoah/selfheal/internal/probe"
	"github.com/lucasnoah/selfheal/internal/stage"
)

// State is the lifecycle state of a run.
type State string

const (
	StatePending   State = "PENDING"
	StateConverged State = "CONVERGED"
	StateHealthy   State = "HEALTHY"
	StateExhausted State = "EXHAUSTED"
	StateAborted   State = "ABORTED"
)

// Process exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// StageReport records what happened to one stage.
type StageReport struct {
	Index        int           `json:"index"`
	Name         string        `json:"name"`
	When         string        `json:"when"`
	Precondition probe.Outcome `json:"precondition,omitempty"`
	Outcome      stage.Outcome `json:"outcome"`
	Probe        probe.Outcome `json:"probe,omitempty"`
	Changed      bool          `json:"changed"`
}

// Executed reports whether the stage's commands ran.
func (s StageReport) Executed() bool {
	return s.Outcome.Attempted
}

// Run is one execution of the self-heal procedure.
type Run struct {
	ID            string        `json:"id"`
	State         State         `json:"state"`
	Fixed         bool          `json:"fixed"`
	FixedBy       string        `json:"fixed_by,omitempty"`
	DirtyAtStart  bool          `json:"dirty_at_start"`
	BaselineProbe probe.Outcome `json:"baseline_probe,omitempty"`
	FinalProbe    probe.Outcome `json:"final_probe,omitempty"`
	Stages        []StageReport `json:"stages"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	Error         string        `json:"error,omitempty"`
}

// credit ORs a (pass, changed) observation into Fixed. Fixed never goes back
// to false.
func (r *Run) credit(outcome probe.Outcome, changed bool, stageName string) {
	if r.Fixed {
		return
	}
	if outcome.Passed() && changed {
		r.Fixed = true
		r.FixedBy = stageName
	}
}

// ExitCode maps the run to the process exit status.
func (r *Run) ExitCode() int {
	switch r.State {
	case StateConverged, StateHealthy:
		return ExitSuccess
	default:
		return ExitFailure
	}
}

// Succeeded reports whether ExitCode is zero.
func (r *Run) Succeeded() bool {
	return r.ExitCode() == ExitSuccess
}

// Executed returns the names of stages whose commands ran, in order.
func (r *Run) Executed() []string {
	var names []string
	for _, s := range r.Stages {
		if s.Executed() {
			names = append(names, s.Name)
		}
	}
	return names
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

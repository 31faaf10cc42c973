package heal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lucasnoah/selfheal/internal/config"
	"github.com/lucasnoah/selfheal/internal/probe"
	"github.com/lucasnoah/selfheal/internal/stage"
)

// world is a fake project: stages can make it healthy and dirty the tree, the
// probe reports health, the detector reports dirtiness.
type world struct {
	healthy bool
	dirty   bool

	fixers   map[string]bool // running the stage makes the probe pass
	changers map[string]bool // running the stage modifies the tree
	failing  map[string]bool // the stage's commands exit non-zero
	absent   map[string]bool // the stage's if_exists paths are missing

	// script overrides the health model when non-empty, one outcome per call.
	script []probe.Outcome

	probeErr    error
	detectorErr error

	executed      []string
	probeCalls    int
	detectorCalls int
	passSeen      bool
	violations    []string
}

func newWorld() *world {
	return &world{
		fixers:   map[string]bool{},
		changers: map[string]bool{},
		failing:  map[string]bool{},
		absent:   map[string]bool{},
	}
}

func (w *world) Check(ctx context.Context) (probe.Outcome, error) {
	w.probeCalls++
	if w.probeErr != nil {
		return probe.Fail, w.probeErr
	}
	out := probe.Fail
	if len(w.script) > 0 {
		out, w.script = w.script[0], w.script[1:]
	} else if w.healthy {
		out = probe.Pass
	}
	if out.Passed() {
		w.passSeen = true
	}
	return out, nil
}

func (w *world) HasChanges(ctx context.Context) (bool, error) {
	w.detectorCalls++
	if w.detectorErr != nil {
		return false, w.detectorErr
	}
	return w.dirty, nil
}

func (w *world) Run(ctx context.Context, st config.Stage) stage.Outcome {
	if w.absent[st.Name] {
		return stage.Outcome{Stage: st.Name, SkipReason: "missing"}
	}
	if w.passSeen {
		w.violations = append(w.violations, st.Name)
	}
	w.executed = append(w.executed, st.Name)
	if w.changers[st.Name] {
		w.dirty = true
	}
	if w.fixers[st.Name] {
		w.healthy = true
	}
	return stage.Outcome{Stage: st.Name, Attempted: true, Succeeded: !w.failing[st.Name]}
}

// commit simulates the caller committing the repair.
func (w *world) commit() {
	w.dirty = false
	w.passSeen = false
}

func stages(defs ...string) []config.Stage {
	var out []config.Stage
	for _, s := range defs {
		when := config.WhenFailing
		name := s
		if len(s) > 1 && s[0] == '!' {
			when = config.WhenAlways
			name = s[1:]
		}
		out = append(out, config.Stage{Name: name, When: when, Commands: []config.Command{config.Cmd(name)}})
	}
	return out
}

func newController(w *world, st []config.Stage) *Controller {
	c := New(Options{Probe: w, Detector: w, Executor: w, Stages: st})
	c.newID = func() string { return "run-1" }
	return c
}

func TestRun_ProbeFailsThenDependencyReinstallFixes(t *testing.T) {
	w := newWorld()
	w.changers["dependencies"] = true
	w.fixers["dependencies"] = true

	run, err := newController(w, stages("format", "dependencies", "generators")).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateConverged, run.State)
	assert.True(t, run.Fixed)
	assert.Equal(t, "dependencies", run.FixedBy)
	assert.Equal(t, 0, run.ExitCode())
	assert.Equal(t, probe.Fail, run.BaselineProbe)
	assert.Equal(t, probe.Pass, run.FinalProbe)
	assert.Equal(t, []string{"format", "dependencies"}, w.executed)

	require.Len(t, run.Stages, 2)
	assert.Equal(t, probe.Fail, run.Stages[0].Probe)
	assert.False(t, run.Stages[0].Changed)
	assert.Equal(t, probe.Pass, run.Stages[1].Probe)
	assert.True(t, run.Stages[1].Changed)
}

func TestRun_NothingHelpsIsExhausted(t *testing.T) {
	w := newWorld()

	run, err := newController(w, stages("format", "dependencies", "upgrade")).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, run.State)
	assert.False(t, run.Fixed)
	assert.Equal(t, 1, run.ExitCode())
	assert.Equal(t, probe.Fail, run.FinalProbe)
	assert.Equal(t, []string{"format", "dependencies", "upgrade"}, w.executed)
}

func TestRun_HealthyFromStartRunsNoStages(t *testing.T) {
	w := newWorld()
	w.healthy = true

	run, err := newController(w, stages("!format", "dependencies")).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateHealthy, run.State)
	assert.NotEqual(t, StateConverged, run.State)
	assert.False(t, run.Fixed)
	assert.Equal(t, 0, run.ExitCode())
	assert.Empty(t, w.executed)
	assert.Empty(t, run.Stages)
	assert.Equal(t, 1, w.probeCalls)
}

func TestRun_FailOpen(t *testing.T) {
	w := newWorld()
	w.failing["broken"] = true
	w.fixers["repair"] = true
	w.changers["repair"] = true

	run, err := newController(w, stages("broken", "repair")).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"broken", "repair"}, w.executed)
	assert.False(t, run.Stages[0].Outcome.Succeeded)
	assert.True(t, run.Stages[1].Outcome.Succeeded)
	assert.Equal(t, StateConverged, run.State)
	assert.Equal(t, 0, run.ExitCode())
}

func TestRun_IdempotentSecondRun(t *testing.T) {
	w := newWorld()
	w.fixers["dependencies"] = true
	w.changers["dependencies"] = true
	c := newController(w, stages("!format", "dependencies"))

	first, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, first.ExitCode())
	assert.Equal(t, StateConverged, first.State)

	w.commit()
	w.executed = nil

	second, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.ExitCode())
	assert.Equal(t, StateHealthy, second.State)
	assert.False(t, second.DirtyAtStart)
	assert.False(t, second.Fixed)
	assert.Empty(t, w.executed)
}

func TestRun_PassWithoutChangeIsNotCredited(t *testing.T) {
	w := newWorld()
	w.fixers["retry"] = true

	run, err := newController(w, stages("retry", "never")).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, probe.Pass, run.FinalProbe)
	assert.False(t, run.Fixed)
	assert.Equal(t, StateExhausted, run.State)
	assert.Equal(t, 1, run.ExitCode())
	assert.Equal(t, []string{"retry"}, w.executed, "early success still stops further stages")
}

func TestRun_DirtyTreeAtStartIsCreditedOnPass(t *testing.T) {
	w := newWorld()
	w.dirty = true
	w.fixers["dependencies"] = true

	run, err := newController(w, stages("dependencies")).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, run.DirtyAtStart)
	assert.True(t, run.Fixed)
	assert.Equal(t, StateConverged, run.State)
}

func TestRun_AlwaysStageSkipsPreconditionProbe(t *testing.T) {
	w := newWorld()

	_, err := newController(w, stages("!format", "dependencies")).Run(context.Background())
	require.NoError(t, err)

	// baseline + format post + dependencies precondition + dependencies post
	assert.Equal(t, 4, w.probeCalls)
	// start + one per executed stage
	assert.Equal(t, 3, w.detectorCalls)
}

func TestRun_PreconditionPassStopsBeforeStage(t *testing.T) {
	w := newWorld()
	w.changers["format"] = true
	// baseline fail, format post fail, dependencies precondition pass (flaky suite recovered)
	w.script = []probe.Outcome{probe.Fail, probe.Fail, probe.Pass}

	run, err := newController(w, stages("!format", "dependencies", "upgrade")).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"format"}, w.executed)
	require.Len(t, run.Stages, 2)
	assert.False(t, run.Stages[1].Executed())
	assert.Equal(t, probe.Pass, run.Stages[1].Precondition)
	assert.Equal(t, "healthcheck passing", run.Stages[1].Outcome.SkipReason)
	assert.True(t, run.Fixed, "changes made by format are credited once the healthcheck passes")
	assert.Equal(t, StateConverged, run.State)
}

func TestRun_SkippedStageIsNotProbed(t *testing.T) {
	w := newWorld()
	w.absent["generators"] = true

	run, err := newController(w, stages("!generators", "!last")).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"last"}, w.executed)
	require.Len(t, run.Stages, 2)
	assert.Empty(t, run.Stages[0].Probe)
	// baseline + last post
	assert.Equal(t, 2, w.probeCalls)
}

func TestRun_ProbeUnavailableAborts(t *testing.T) {
	w := newWorld()
	w.probeErr = errors.Mark(fmt.Errorf("sh: healthcheck: not found"), probe.ErrUnavailable)

	run, err := newController(w, stages("format")).Run(context.Background())
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrInfrastructure))
	assert.True(t, errors.Is(err, probe.ErrUnavailable))
	assert.Equal(t, StateAborted, run.State)
	assert.Equal(t, 1, run.ExitCode())
	assert.NotEmpty(t, run.Error)
	assert.Empty(t, w.executed)
}

func TestRun_AbortLogCarriesMessageAndHintNotStack(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	w := newWorld()
	w.probeErr = errors.WithHint(errors.Mark(errors.New("healthcheck exited 127"), probe.ErrUnavailable), "install the healthcheck")

	c := New(Options{Probe: w, Detector: w, Executor: w, Stages: stages("format"), Logger: zap.New(core)})
	_, err := c.Run(context.Background())
	require.Error(t, err)

	entries := logs.FilterMessage("infrastructure failure, self-heal aborted").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Contains(t, fields["error"], "healthcheck exited 127")
	assert.Equal(t, "install the healthcheck", fields["hint"])
	assert.NotContains(t, fields, "errorVerbose")
}

func TestRun_DetectorFailureAborts(t *testing.T) {
	w := newWorld()
	w.detectorErr = fmt.Errorf("fatal: not a git repository")

	run, err := newController(w, stages("format")).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInfrastructure))
	assert.Equal(t, StateAborted, run.State)
	assert.Equal(t, 0, w.probeCalls)
}

func TestRun_CancelledContextAborts(t *testing.T) {
	w := newWorld()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := newController(w, stages("format")).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrInfrastructure))
	assert.Equal(t, StateAborted, run.State)
	assert.Empty(t, w.executed)
}

func TestRun_Timestamps(t *testing.T) {
	w := newWorld()
	c := newController(w, stages("format"))
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	calls := 0
	c.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	run, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, time.Second, run.Duration())
}

// For every stage count, every always/failing mix and every flip index, no
// stage executes after a passing healthcheck and the executed stages are
// exactly the prefix up to the fixer.
func TestRun_NeverExecutesAfterPass(t *testing.T) {
	for n := 1; n <= 4; n++ {
		for mask := 0; mask < 1<<n; mask++ {
			for flip := 0; flip <= n; flip++ {
				name := fmt.Sprintf("n=%d/mask=%b/flip=%d", n, mask, flip)
				t.Run(name, func(t *testing.T) {
					var defs []string
					for i := 0; i < n; i++ {
						s := fmt.Sprintf("s%d", i)
						if mask&(1<<i) != 0 {
							s = "!" + s
						}
						defs = append(defs, s)
					}
					w := newWorld()
					if flip < n {
						w.fixers[fmt.Sprintf("s%d", flip)] = true
						w.changers[fmt.Sprintf("s%d", flip)] = true
					}

					run, err := newController(w, stages(defs...)).Run(context.Background())
					require.NoError(t, err)
					assert.Empty(t, w.violations)

					want := n
					if flip < n {
						want = flip + 1
					}
					assert.Len(t, w.executed, want)
					if flip < n {
						assert.Equal(t, StateConverged, run.State)
						assert.Equal(t, 0, run.ExitCode())
					} else {
						assert.Equal(t, StateExhausted, run.State)
						assert.Equal(t, 1, run.ExitCode())
					}
				})
			}
		}
	}
}

func TestCredit_Monotonic(t *testing.T) {
	r := &Run{}
	r.credit(probe.Fail, true, "a")
	assert.False(t, r.Fixed)
	r.credit(probe.Pass, false, "b")
	assert.False(t, r.Fixed)
	r.credit(probe.Pass, true, "c")
	assert.True(t, r.Fixed)
	assert.Equal(t, "c", r.FixedBy)

	r.credit(probe.Fail, false, "d")
	r.credit(probe.Pass, false, "e")
	r.credit(probe.Fail, true, "f")
	assert.True(t, r.Fixed)
	assert.Equal(t, "c", r.FixedBy)
}

func TestExitCode(t *testing.T) {
	cases := map[State]int{
		StatePending:   1,
		StateConverged: 0,
		StateHealthy:   0,
		StateExhausted: 1,
		StateAborted:   1,
	}
	for state, want := range cases {
		assert.Equal(t, want, (&Run{State: state}).ExitCode(), state)
	}
}

// Package heal is the self-heal controller: it applies an ordered list of
// repair stages, re-running the healthcheck after each, until the healthcheck
// passes or the stages run out.
//
// Termination policy (early success): a run starts with a baseline
// healthcheck. If it passes, no stage executes. Otherwise stages are attempted
// in order, and the run stops as soon as any healthcheck passes, whether that
// is the check taken after a stage or the precondition check of a "failing"
// stage. No stage ever executes after a passing healthcheck.
//
// Success policy: a run converges only when a healthcheck passes while the
// working tree has uncommitted changes (the fixed flag). A run whose baseline
// healthcheck passes is reported as HEALTHY, a no-op success distinct from
// CONVERGED. A healthcheck that flips to passing without any change is not
// credited and the run ends EXHAUSTED.
package heal

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasnoah/selfheal/internal/config"
	"github.com/lucasnoah/selfheal/internal/logging"
	"github.com/lucasnoah/selfheal/internal/probe"
	"github.com/lucasnoah/selfheal/internal/stage"
)

// ErrInfrastructure marks failures of the tool itself: the healthcheck or
// the version-control query could not be run. No decision is possible.
var ErrInfrastructure = errors.New("infrastructure failure")

// Prober runs the healthcheck.
type Prober interface {
	Check(ctx context.Context) (probe.Outcome, error)
}

// ChangeDetector reports whether the working tree has uncommitted changes.
type ChangeDetector interface {
	HasChanges(ctx context.Context) (bool, error)
}

// StageRunner executes one repair stage.
type StageRunner interface {
	Run(ctx context.Context, st config.Stage) stage.Outcome
}

// Options configures a Controller.
type Options struct {
	Probe    Prober
	Detector ChangeDetector
	Executor StageRunner
	Stages   []config.Stage
	Logger   *zap.Logger
}

// Controller drives one self-heal run at a time. It is not safe for
// concurrent use; callers serialize runs against the same tree.
type Controller struct {
	probe    Prober
	detector ChangeDetector
	executor StageRunner
	stages   []config.Stage
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
}

// New creates a Controller.
func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		probe:    opts.Probe,
		detector: opts.Detector,
		executor: opts.Executor,
		stages:   opts.Stages,
		log:      log,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Run executes the self-heal procedure and returns the finished run. The
// returned error is non-nil only when the run was aborted, either by an
// infrastructure failure (marked ErrInfrastructure) or by ctx; the run is
// returned in both cases with State ABORTED.
func (c *Controller) Run(ctx context.Context) (*Run, error) {
	run := &Run{
		ID:        c.newID(),
		State:     StatePending,
		StartedAt: c.now().UTC(),
	}
	log := c.log.With(zap.String("run_id", run.ID))
	log.Info("self-heal start", zap.Int("stages", len(c.stages)))

	err := c.execute(ctx, log, run)
	run.FinishedAt = c.now().UTC()
	if err != nil {
		run.State = StateAborted
		run.Error = err.Error()
		if errors.Is(err, ErrInfrastructure) {
			log.Error("infrastructure failure, self-heal aborted", logging.Error(err), logging.Hint(err))
		} else {
			log.Warn("self-heal interrupted", logging.Error(err))
		}
		return run, err
	}

	switch run.State {
	case StateConverged:
		log.Info("self-heal converged", zap.String("stage", run.FixedBy), zap.Int("exit_code", run.ExitCode()))
	case StateHealthy:
		log.Info("healthcheck already passing, nothing to repair", zap.Int("exit_code", run.ExitCode()))
	default:
		log.Error("self-heal exhausted",
			zap.String("final_probe", string(run.FinalProbe)),
			zap.Int("exit_code", run.ExitCode()))
	}
	return run, nil
}

func (c *Controller) execute(ctx context.Context, log *zap.Logger, run *Run) error {
	dirty, err := c.changed(ctx)
	if err != nil {
		return err
	}
	run.DirtyAtStart = dirty
	if dirty {
		log.Warn("working tree has uncommitted changes before any repair; a passing healthcheck will be credited as a fix")
	}

	baseline, err := c.check(ctx)
	if err != nil {
		return err
	}
	run.BaselineProbe = baseline
	run.FinalProbe = baseline
	if baseline.Passed() {
		run.State = StateHealthy
		return nil
	}

	for i, st := range c.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		stop, err := c.step(ctx, log, run, i, st)
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}

	if run.Fixed {
		run.State = StateConverged
	} else {
		run.State = StateExhausted
	}
	return nil
}

// step runs stage i and reports whether the run should stop.
func (c *Controller) step(ctx context.Context, log *zap.Logger, run *Run, i int, st config.Stage) (bool, error) {
	log = log.With(zap.String("stage", st.Name), zap.Int("index", i+1), zap.Int("of", len(c.stages)))
	rep := StageReport{Index: i, Name: st.Name, When: st.When}

	if st.When != config.WhenAlways {
		pre, err := c.check(ctx)
		if err != nil {
			return true, err
		}
		rep.Precondition = pre
		run.FinalProbe = pre
		if pre.Passed() {
			changed, err := c.changed(ctx)
			if err != nil {
				return true, err
			}
			rep.Changed = changed
			rep.Outcome = stage.Outcome{Stage: st.Name, SkipReason: "healthcheck passing"}
			run.credit(pre, changed, st.Name)
			run.Stages = append(run.Stages, rep)
			log.Info("healthcheck passing, skipping remaining stages", zap.Bool("changed", changed))
			return true, nil
		}
	}

	rep.Outcome = c.executor.Run(ctx, st)
	if err := ctx.Err(); err != nil {
		run.Stages = append(run.Stages, rep)
		return true, err
	}
	if !rep.Outcome.Attempted {
		run.Stages = append(run.Stages, rep)
		return false, nil
	}

	post, err := c.check(ctx)
	if err != nil {
		run.Stages = append(run.Stages, rep)
		return true, err
	}
	changed, err := c.changed(ctx)
	if err != nil {
		run.Stages = append(run.Stages, rep)
		return true, err
	}
	rep.Probe = post
	rep.Changed = changed
	run.FinalProbe = post
	run.credit(post, changed, st.Name)
	run.Stages = append(run.Stages, rep)

	log.Info("stage evaluated",
		zap.Bool("stage_succeeded", rep.Outcome.Succeeded),
		zap.String("probe", string(post)),
		zap.Bool("changed", changed),
		zap.Bool("fixed", run.Fixed))

	if post.Passed() {
		if !run.Fixed {
			log.Warn("healthcheck passes but no change was detected; not credited as a fix")
		}
		return true, nil
	}
	return false, nil
}

func (c *Controller) check(ctx context.Context) (probe.Outcome, error) {
	out, err := c.probe.Check(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return probe.Fail, ctx.Err()
		}
		return probe.Fail, errors.Mark(errors.Wrap(err, "healthcheck"), ErrInfrastructure)
	}
	return out, nil
}

func (c *Controller) changed(ctx context.Context) (bool, error) {
	changed, err := c.detector.HasChanges(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, errors.Mark(errors.Wrap(err, "change detector"), ErrInfrastructure)
	}
	return changed, nil
}

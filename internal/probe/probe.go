// Package probe wraps the external healthcheck command. Its exit status is
// the only health signal the self-heal controller trusts.
package probe

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lucasnoah/selfheal/internal/command"
)

// ErrUnavailable means the healthcheck command could not be run at all.
var ErrUnavailable = errors.New("healthcheck unavailable")

// Outcome is the binary result of one healthcheck invocation.
type Outcome string

const (
	Pass Outcome = "pass"
	Fail Outcome = "fail"
)

// Passed reports whether o is Pass.
func (o Outcome) Passed() bool { return o == Pass }

// Probe runs the healthcheck command. It keeps no state between calls.
type Probe struct {
	runner  command.Runner
	command string
	dir     string
	timeout time.Duration
	log     *zap.Logger
}

// Config describes the healthcheck invocation.
type Config struct {
	Command string
	Dir     string
	Timeout time.Duration
}

// New creates a Probe. A nil logger disables logging.
func New(runner command.Runner, cfg Config, log *zap.Logger) *Probe {
	if log == nil {
		log = zap.NewNop()
	}
	return &Probe{
		runner:  runner,
		command: cfg.Command,
		dir:     cfg.Dir,
		timeout: cfg.Timeout,
		log:     log,
	}
}

// Check invokes the healthcheck synchronously. Exit 0 is Pass, any other exit
// is Fail. A healthcheck that times out counts as Fail. An error is returned
// only when the command cannot be started, or the shell exits 126/127 and the
// healthcheck's own program cannot be resolved, so callers can tell a broken
// tool from a broken project.
func (p *Probe) Check(ctx context.Context) (Outcome, error) {
	start := time.Now()
	code, err := p.runner.Run(ctx, p.dir, p.command, p.timeout)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, command.ErrTimeout) {
			p.log.Warn("healthcheck timed out", zap.String("command", p.command), zap.Duration("timeout", p.timeout))
			return Fail, nil
		}
		return Fail, errors.Mark(errors.Wrapf(err, "run healthcheck %q", p.command), ErrUnavailable)
	}
	// A missing tool inside a compound healthcheck is a failure stages can
	// repair; only a healthcheck whose own program is missing is unavailable.
	if command.Unavailable(code) && !command.Resolvable(p.dir, p.command) {
		return Fail, errors.WithHint(
			errors.Mark(errors.Newf("healthcheck %q exited %d", p.command, code), ErrUnavailable),
			"check that the healthcheck command exists and is executable",
		)
	}

	outcome := Fail
	if code == 0 {
		outcome = Pass
	}
	p.log.Info("healthcheck",
		zap.String("outcome", string(outcome)),
		zap.Int("exit_code", code),
		zap.Duration("duration", elapsed),
	)
	return outcome, nil
}

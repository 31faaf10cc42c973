// Package stage runs one repair stage. A failing command is recorded, never
// raised: the caller always gets an Outcome and decides what to do next.
package stage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/selfheal/internal/command"
	"github.com/lucasnoah/selfheal/internal/config"
	"github.com/lucasnoah/selfheal/internal/logging"
)

// Attempt is one candidate invocation.
type Attempt struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CommandResult is the result of one logical command and its fallbacks.
type CommandResult struct {
	Succeeded bool      `json:"succeeded"`
	Winner    string    `json:"winner,omitempty"`
	Attempts  []Attempt `json:"attempts"`
}

// Outcome is the result of running a stage.
type Outcome struct {
	Stage      string          `json:"stage"`
	Attempted  bool            `json:"attempted"`
	Succeeded  bool            `json:"succeeded"`
	SkipReason string          `json:"skip_reason,omitempty"`
	Commands   []CommandResult `json:"commands,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// Executor runs stage commands in the project directory.
type Executor struct {
	runner command.Runner
	dir    string
	log    *zap.Logger
}

// NewExecutor creates an Executor. A nil logger disables logging.
func NewExecutor(runner command.Runner, dir string, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{runner: runner, dir: dir, log: log}
}

// Run executes every command of st in order. Each command tries its
// candidates until one exits 0. The stage succeeded only if every command
// did; a failed command does not stop the ones after it.
func (e *Executor) Run(ctx context.Context, st config.Stage) Outcome {
	out := Outcome{Stage: st.Name}
	log := e.log.With(zap.String("stage", st.Name))

	if missing := e.missingPaths(st.IfExists); len(missing) > 0 {
		out.SkipReason = "missing " + missing[0]
		log.Info("stage skipped", zap.Strings("missing", missing))
		return out
	}

	out.Attempted = true
	out.Succeeded = true
	timeout := config.ParseDuration(st.Timeout, command.DefaultTimeout)
	start := time.Now()
	log.Info("stage start", zap.Int("commands", len(st.Commands)), zap.Bool("required", st.Required))

	for _, c := range st.Commands {
		if ctx.Err() != nil {
			out.Succeeded = false
			break
		}
		res := e.runCommand(ctx, log, c, timeout)
		out.Commands = append(out.Commands, res)
		if !res.Succeeded {
			out.Succeeded = false
		}
	}
	out.Duration = time.Since(start)

	fields := []zap.Field{zap.Bool("succeeded", out.Succeeded), zap.Duration("duration", out.Duration)}
	switch {
	case out.Succeeded:
		log.Info("stage result", fields...)
	case st.Required:
		log.Error("stage result", fields...)
	default:
		log.Warn("stage result", fields...)
	}
	return out
}

func (e *Executor) runCommand(ctx context.Context, log *zap.Logger, c config.Command, timeout time.Duration) CommandResult {
	var res CommandResult
	for i, cand := range c.Candidates {
		if ctx.Err() != nil {
			return res
		}
		log.Info("repair command", zap.String("command", cand))
		start := time.Now()
		code, err := e.runner.Run(ctx, e.dir, cand, timeout)
		a := Attempt{Command: cand, ExitCode: code, Duration: time.Since(start)}
		if err != nil {
			a.Error = err.Error()
		}
		res.Attempts = append(res.Attempts, a)

		if err == nil && code == 0 {
			res.Succeeded = true
			res.Winner = cand
			return res
		}
		if i < len(c.Candidates)-1 {
			log.Info("command failed, trying fallback",
				zap.String("command", cand), zap.Int("exit_code", code), zap.String("next", c.Candidates[i+1]))
		} else {
			log.Warn("command failed", zap.String("command", cand), zap.Int("exit_code", code), logging.NamedError("cause", err))
		}
	}
	return res
}

// missingPaths returns the if_exists entries that are not present under dir.
func (e *Executor) missingPaths(paths []string) []string {
	var missing []string
	for _, p := range paths {
		full := p
		if !filepath.IsAbs(full) {
			full = filepath.Join(e.dir, full)
		}
		if _, err := os.Stat(full); err != nil {
			missing = append(missing, p)
		}
	}
	return missing
}

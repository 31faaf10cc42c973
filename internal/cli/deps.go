package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/selfheal/internal/command"
	"github.com/lucasnoah/selfheal/internal/config"
	"github.com/lucasnoah/selfheal/internal/logging"
	"github.com/lucasnoah/selfheal/internal/probe"
)

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

// loadValidConfig loads the config, rejects it if invalid, and resolves the
// project directory (the --dir flag wins over selfheal.dir).
func loadValidConfig(cmd *cobra.Command) (*config.Config, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, "", fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	dir := cfg.SelfHeal.Dir
	if f := cmd.Flags().Lookup("dir"); f != nil && f.Changed {
		dir = f.Value.String()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, "", fmt.Errorf("resolve project dir %q: %w", dir, err)
	}
	return cfg, abs, nil
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:  logLevel,
		Format: logFormat,
		Color:  !color.NoColor,
		Output: cmd.ErrOrStderr(),
	})
}

// newRunner wires subprocess output to the command's streams, which are the
// process's own stdout/stderr outside of tests. With machineOutput set, stdout
// belongs to the JSON document, so subprocess stdout goes to stderr as well.
func newRunner(cmd *cobra.Command, machineOutput bool) *command.ExecRunner {
	stdout := cmd.OutOrStdout()
	if machineOutput {
		stdout = cmd.ErrOrStderr()
	}
	return &command.ExecRunner{Stdout: stdout, Stderr: cmd.ErrOrStderr()}
}

func newProbe(cfg *config.Config, dir string, runner command.Runner, log *zap.Logger) *probe.Probe {
	return probe.New(runner, probe.Config{
		Command: cfg.SelfHeal.Healthcheck.Command,
		Dir:     dir,
		Timeout: config.ParseDuration(cfg.SelfHeal.Healthcheck.Timeout, command.DefaultTimeout),
	}, log)
}

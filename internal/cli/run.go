package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/selfheal/internal/config"
	"github.com/lucasnoah/selfheal/internal/heal"
	"github.com/lucasnoah/selfheal/internal/history"
	"github.com/lucasnoah/selfheal/internal/logging"
	"github.com/lucasnoah/selfheal/internal/report"
	"github.com/lucasnoah/selfheal/internal/stage"
	"github.com/lucasnoah/selfheal/internal/vcs"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the healthcheck and apply repair stages until it passes",
	Args:  cobra.NoArgs,
	RunE:  runSelfHeal,
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("dir", "", "project directory (overrides selfheal.dir)")
	cmd.Flags().String("report", "", "write a JSON run report to this path (overrides selfheal.report)")
	cmd.Flags().Bool("no-history", false, "do not record the run in history")
	cmd.Flags().String("format", "text", "Output format: text or json")
}

func runSelfHeal(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid format %q (want text or json)", format)
	}
	noHistory, err := cmd.Flags().GetBool("no-history")
	if err != nil {
		return err
	}
	reportPath, err := cmd.Flags().GetString("report")
	if err != nil {
		return err
	}

	cfg, dir, err := loadValidConfig(cmd)
	if err != nil {
		return err
	}
	if reportPath == "" {
		reportPath = cfg.SelfHeal.Report
	}

	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	detector, err := vcs.New(cfg.SelfHeal.ChangeDetector, dir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := newRunner(cmd, format == "json")
	ctrl := heal.New(heal.Options{
		Probe:    newProbe(cfg, dir, runner, log),
		Detector: detector,
		Executor: stage.NewExecutor(runner, dir, log),
		Stages:   cfg.SelfHeal.Stages,
		Logger:   log,
	})

	run, runErr := ctrl.Run(ctx)

	if !noHistory {
		recordHistory(cfg.SelfHeal.History, run, dir, log)
	}

	rep := report.New(run, dir, cfg.SelfHeal.Healthcheck.Command)
	if reportPath != "" {
		if err := rep.Save(reportPath); err != nil {
			log.Warn("write run report", zap.String("path", reportPath), logging.Error(err))
		} else {
			log.Debug("run report written", zap.String("path", reportPath))
		}
	}

	if format == "json" {
		out, err := rep.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	} else {
		report.WriteText(cmd.OutOrStdout(), run)
	}

	if code := run.ExitCode(); code != heal.ExitSuccess || runErr != nil {
		return &ExitError{Code: code, Err: runErr}
	}
	return nil
}

// recordHistory stores the run. It runs after the controller may have been
// interrupted, so it uses its own deadline, and a history failure never
// changes the run's exit status.
func recordHistory(cfg config.History, run *heal.Run, dir string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := history.Open(ctx, cfg)
	if err != nil {
		log.Warn("open history store", zap.String("driver", cfg.Driver), logging.Error(err))
		return
	}
	defer store.Close()

	if err := store.Record(ctx, run, dir); err != nil {
		log.Warn("record run history", zap.String("run_id", run.ID), logging.Error(err))
	}
}

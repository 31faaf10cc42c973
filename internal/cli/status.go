package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/selfheal/internal/config"
	"github.com/lucasnoah/selfheal/internal/vcs"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the uncommitted changes the change detector sees",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _ := cmd.Flags().GetString("detector")
		dir, _ := cmd.Flags().GetString("dir")

		// Fall back to the config only for what the flags leave unset; status
		// is useful before any config exists.
		if !cmd.Flags().Changed("detector") || !cmd.Flags().Changed("dir") {
			if cfg, err := loadConfig(); err == nil {
				if !cmd.Flags().Changed("detector") {
					backend = cfg.SelfHeal.ChangeDetector
				}
				if !cmd.Flags().Changed("dir") {
					dir = cfg.SelfHeal.Dir
				}
			}
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}

		detector, err := vcs.New(backend, abs)
		if err != nil {
			return err
		}
		st, err := detector.Status(cmd.Context())
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(st, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := cmd.OutOrStdout()
		if !st.HasChanges() {
			fmt.Fprintln(w, "Working tree clean.")
			return nil
		}
		fmt.Fprintf(w, "%d uncommitted change(s):\n", st.Count())
		groups := []struct {
			tag   string
			paths []string
		}{
			{"M", st.Modified}, {"A", st.Added}, {"D", st.Deleted}, {"R", st.Renamed}, {"?", st.Untracked},
		}
		for _, g := range groups {
			for _, p := range g.paths {
				fmt.Fprintf(w, "  %s %s\n", g.tag, p)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("dir", ".", "project directory")
	statusCmd.Flags().String("detector", config.DefaultChangeDetector, "change detector backend: git or go-git")
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/selfheal/internal/config"
	"github.com/lucasnoah/selfheal/internal/report"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the selfheal configuration file",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the selfheal configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			cmd.Println("Configuration is valid.")
			return nil
		}

		cmd.Println("Validation errors:")
		for _, e := range errs {
			cmd.Printf("  - %s\n", e)
		}
		return fmt.Errorf("config has %d validation error(s)", len(errs))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}

		cmd.Print(string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config from a built-in preset",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		preset, _ := cmd.Flags().GetString("preset")
		healthcheck, _ := cmd.Flags().GetString("healthcheck")
		force, _ := cmd.Flags().GetBool("force")

		cfg, err := config.Preset(preset)
		if err != nil {
			return err
		}
		if healthcheck != "" {
			cfg.SelfHeal.Healthcheck.Command = healthcheck
		}

		path := configFile
		if path == "" {
			path = "selfheal.yaml"
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}
		if err := report.WriteAtomic(path, data); err != nil {
			return err
		}
		cmd.Printf("Wrote %s (preset %s).\n", path, preset)
		return nil
	},
}

func init() {
	configInitCmd.Flags().String("preset", "python", "preset: "+strings.Join(config.PresetNames(), ", "))
	configInitCmd.Flags().String("healthcheck", "", "healthcheck command (overrides the preset's)")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing config file")

	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

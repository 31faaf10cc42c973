package config

import (
	"fmt"
	"sort"
)

// presets are starting configurations for common project layouts. Stages run
// cheapest first: formatting and lint auto-fix, then dependency repair, then
// generators.
var presets = map[string]func() *Config{
	"python": pythonPreset,
	"node":   nodePreset,
}

// PresetNames returns the known preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset returns a fresh copy of the named preset with defaults applied.
func Preset(name string) (*Config, error) {
	build, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q (available: %v)", name, PresetNames())
	}
	cfg := build()
	applyDefaults(cfg)
	return cfg, nil
}

// pip tries each interpreter spelling in turn.
func pip(args string) Command {
	return Cmd(
		"python3 -m pip "+args,
		"python -m pip "+args,
		"pip "+args,
	)
}

func ruff(args string) Command {
	return Cmd(
		"python3 -m ruff "+args,
		"python -m ruff "+args,
		"ruff "+args,
	)
}

func pythonPreset() *Config {
	return &Config{SelfHeal: SelfHeal{
		Healthcheck: Healthcheck{Command: "python3 scripts/healthcheck.py"},
		Stages: []Stage{
			{
				Name:     "lint-format",
				When:     WhenAlways,
				Commands: []Command{ruff("check --fix ."), ruff("format .")},
			},
			{
				Name:     "install-dependencies",
				Required: true,
				Commands: []Command{pip("install -e ."), pip("install pytest ruff")},
			},
			{
				Name:     "upgrade-dependencies",
				Commands: []Command{pip("install --upgrade -e .")},
			},
			{
				Name:     "force-reinstall",
				Commands: []Command{pip("install --upgrade --force-reinstall -e .")},
			},
		},
	}}
}

func nodePreset() *Config {
	return &Config{SelfHeal: SelfHeal{
		Healthcheck: Healthcheck{Command: "node scripts/healthcheck.mjs"},
		Stages: []Stage{
			{
				Name: "lint-format",
				When: WhenAlways,
				Commands: []Command{
					Cmd("pnpm run lint -- --fix", "npm run lint -- --fix"),
					Cmd("pnpm run format", "npm run format"),
				},
			},
			{
				Name:     "type-acquisition",
				Commands: []Command{Cmd("pnpm dlx typesync --save-dev"), Cmd("pnpm install", "npm install")},
			},
			{
				Name:     "lockfile-repair",
				Required: true,
				Commands: []Command{Cmd("pnpm install", "npm install")},
			},
			{
				Name:     "upgrade-dependencies",
				Commands: []Command{Cmd("pnpm up --latest --interactive=false", "npm update")},
			},
			{
				Name:     "icon-docs",
				IfExists: []string{"scripts/update-icon-docs.mjs"},
				Commands: []Command{Cmd("node scripts/update-icon-docs.mjs")},
			},
			{
				Name:     "verify-static",
				IfExists: []string{"scripts/verify-static.mjs"},
				Commands: []Command{Cmd("node scripts/verify-static.mjs")},
			},
		},
	}}
}

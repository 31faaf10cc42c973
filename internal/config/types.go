package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Stage preconditions.
const (
	// WhenFailing stages take a fresh healthcheck first and run only if it fails.
	WhenFailing = "failing"
	// WhenAlways stages run without a precondition check.
	WhenAlways = "always"
)

// History drivers.
const (
	HistorySQLite   = "sqlite"
	HistoryPostgres = "postgres"
	HistoryNone     = "none"
)

// Config is the top-level configuration structure parsed from YAML.
type Config struct {
	SelfHeal SelfHeal `yaml:"selfheal"`
}

// SelfHeal holds the healthcheck, the repair stages and run plumbing.
type SelfHeal struct {
	Dir            string      `yaml:"dir"`
	Healthcheck    Healthcheck `yaml:"healthcheck"`
	ChangeDetector string      `yaml:"change_detector"`
	StageTimeout   string      `yaml:"stage_timeout"`
	History        History     `yaml:"history"`
	Report         string      `yaml:"report,omitempty"`
	Stages         []Stage     `yaml:"stages"`
}

// Healthcheck is the external probe command. Exit 0 means healthy.
type Healthcheck struct {
	Command string `yaml:"command"`
	Timeout string `yaml:"timeout"`
}

// History configures where finished runs are recorded.
type History struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn,omitempty"`
}

// Stage is one ordered repair step. Its commands run in order; every command
// is attempted even if an earlier one fails.
type Stage struct {
	Name     string    `yaml:"name"`
	When     string    `yaml:"when"`
	Required bool      `yaml:"required,omitempty"`
	IfExists []string  `yaml:"if_exists,omitempty"`
	Timeout  string    `yaml:"timeout,omitempty"`
	Commands []Command `yaml:"commands"`
}

// Command is one logical repair command with ordered fallback candidates;
// the first candidate that exits 0 wins. In YAML it is either a string or a
// list of strings.
type Command struct {
	Candidates []string
}

// Cmd builds a Command from candidates.
func Cmd(candidates ...string) Command {
	return Command{Candidates: candidates}
}

func (c *Command) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		c.Candidates = []string{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return fmt.Errorf("line %d: command candidates must be strings: %w", node.Line, err)
		}
		c.Candidates = list
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list of fallback strings", node.Line)
	}
}

func (c Command) MarshalYAML() (interface{}, error) {
	if len(c.Candidates) == 1 {
		return c.Candidates[0], nil
	}
	return c.Candidates, nil
}

// String returns the primary candidate.
func (c Command) String() string {
	if len(c.Candidates) == 0 {
		return ""
	}
	return c.Candidates[0]
}

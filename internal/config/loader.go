package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load.
const (
	DefaultTimeout        = "10m"
	DefaultChangeDetector = "git"
)

// EnvHistoryDSN overrides selfheal.history.dsn so credentials can stay out of the file.
const EnvHistoryDSN = "SELFHEAL_HISTORY_DSN"

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it applies defaults to fields left empty.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// SearchPaths lists the locations LoadDefault tries, in order.
func SearchPaths() []string {
	candidates := []string{"selfheal.yaml", ".selfheal.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".selfheal", "config.yaml"))
	}
	return candidates
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./selfheal.yaml, ./.selfheal.yaml,
// ~/.selfheal/config.yaml
func LoadDefault() (*Config, error) {
	candidates := SearchPaths()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return nil, fmt.Errorf("no selfheal config found (searched: %v)", candidates)
}

// applyDefaults fills run-level defaults and pushes stage_timeout down into
// stages that don't set their own.
func applyDefaults(cfg *Config) {
	s := &cfg.SelfHeal

	if s.Dir == "" {
		s.Dir = "."
	}
	if s.Healthcheck.Timeout == "" {
		s.Healthcheck.Timeout = DefaultTimeout
	}
	if s.ChangeDetector == "" {
		s.ChangeDetector = DefaultChangeDetector
	}
	if s.StageTimeout == "" {
		s.StageTimeout = DefaultTimeout
	}
	if s.History.Driver == "" {
		s.History.Driver = HistorySQLite
	}
	if dsn := os.Getenv(EnvHistoryDSN); dsn != "" {
		s.History.DSN = dsn
	}

	for i := range s.Stages {
		st := &s.Stages[i]
		if st.When == "" {
			st.When = WhenFailing
		}
		if st.Timeout == "" {
			st.Timeout = s.StageTimeout
		}
	}
}

// ParseDuration parses a duration string, falling back to a default.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

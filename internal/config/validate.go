package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var recognizedDetectors = map[string]bool{
	"git":    true,
	"go-git": true,
}

var recognizedDrivers = map[string]bool{
	HistorySQLite:   true,
	HistoryPostgres: true,
	HistoryNone:     true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	s := cfg.SelfHeal

	if strings.TrimSpace(s.Healthcheck.Command) == "" {
		errs = append(errs, ValidationError{Field: "selfheal.healthcheck.command", Message: "is required"})
	}
	validateDuration("selfheal.healthcheck.timeout", s.Healthcheck.Timeout, &errs)
	validateDuration("selfheal.stage_timeout", s.StageTimeout, &errs)

	if !recognizedDetectors[s.ChangeDetector] {
		errs = append(errs, ValidationError{
			Field:   "selfheal.change_detector",
			Message: fmt.Sprintf("unrecognized change detector %q (want git or go-git)", s.ChangeDetector),
		})
	}

	if !recognizedDrivers[s.History.Driver] {
		errs = append(errs, ValidationError{
			Field:   "selfheal.history.driver",
			Message: fmt.Sprintf("unrecognized history driver %q", s.History.Driver),
		})
	}
	if s.History.Driver == HistoryPostgres && s.History.DSN == "" {
		errs = append(errs, ValidationError{
			Field:   "selfheal.history.dsn",
			Message: "is required for the postgres driver (or set " + EnvHistoryDSN + ")",
		})
	}

	if len(s.Stages) == 0 {
		errs = append(errs, ValidationError{Field: "selfheal.stages", Message: "at least one stage is required"})
	}

	names := make(map[string]bool)
	for i, st := range s.Stages {
		prefix := fmt.Sprintf("selfheal.stages[%d]", i)

		if st.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "is required"})
		} else if names[st.Name] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".name",
				Message: fmt.Sprintf("duplicate stage name %q", st.Name),
			})
		}
		names[st.Name] = true

		if st.When != WhenFailing && st.When != WhenAlways {
			errs = append(errs, ValidationError{
				Field:   prefix + ".when",
				Message: fmt.Sprintf("must be %q or %q, got %q", WhenFailing, WhenAlways, st.When),
			})
		}
		validateDuration(prefix+".timeout", st.Timeout, &errs)

		if len(st.Commands) == 0 {
			errs = append(errs, ValidationError{Field: prefix + ".commands", Message: "at least one command is required"})
		}
		for j, c := range st.Commands {
			if len(c.Candidates) == 0 {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.commands[%d]", prefix, j),
					Message: "fallback list is empty",
				})
			}
			for k, cand := range c.Candidates {
				if strings.TrimSpace(cand) == "" {
					errs = append(errs, ValidationError{
						Field:   fmt.Sprintf("%s.commands[%d][%d]", prefix, j, k),
						Message: "command is empty",
					})
				}
			}
		}
	}

	return errs
}

func validateDuration(field, value string, errs *[]ValidationError) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
		return
	}
	if d <= 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: "must be positive"})
	}
}

package config

import (
	"fmt"
	"time"

	"github.com/lucasnoah/fixloop/internal/llm"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedParsers is the set of valid parser names for checks.
var recognizedParsers = map[string]bool{
	"flake8":  true,
	"bandit":  true,
	"pylint":  true,
	"generic": true,
}

var recognizedDrivers = map[string]bool{
	"sqlite":   true,
	"postgres": true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Fixer.MaxIterations < 0 {
		errs = append(errs, ValidationError{Field: "fixer.max_iterations", Message: "must not be negative"})
	}
	for _, name := range cfg.Fixer.DefaultChecks {
		if _, ok := cfg.Checks[name]; !ok {
			errs = append(errs, ValidationError{
				Field:   "fixer.default_checks",
				Message: fmt.Sprintf("references undefined check %q", name),
			})
		}
	}

	validProvider := false
	for _, p := range llm.Providers() {
		if llm.Provider(cfg.LLM.Provider) == p {
			validProvider = true
		}
	}
	if !validProvider {
		errs = append(errs, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unsupported provider %q", cfg.LLM.Provider),
		})
	}
	validateDuration("llm.timeout", cfg.LLM.Timeout, &errs)
	if cfg.LLM.RequestsPerMinute < 0 {
		errs = append(errs, ValidationError{Field: "llm.requests_per_minute", Message: "must not be negative"})
	}

	for _, name := range cfg.CheckNames() {
		check := cfg.Checks[name]
		prefix := "checks." + name
		if check.Command == "" {
			errs = append(errs, ValidationError{Field: prefix + ".command", Message: "is required"})
		}
		if check.Parser != "" && !recognizedParsers[check.Parser] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".parser",
				Message: fmt.Sprintf("unrecognized parser %q", check.Parser),
			})
		}
		validateDuration(prefix+".timeout", check.Timeout, &errs)
		if check.AutoFix && check.FixCommand == "" {
			errs = append(errs, ValidationError{Field: prefix + ".fix_command", Message: "is required when auto_fix is set"})
		}
	}

	if !recognizedDrivers[cfg.Storage.Driver] {
		errs = append(errs, ValidationError{
			Field:   "storage.driver",
			Message: fmt.Sprintf("unsupported driver %q (supported: sqlite, postgres)", cfg.Storage.Driver),
		})
	}
	if cfg.Storage.Driver == "postgres" && cfg.Storage.DSN == "" {
		errs = append(errs, ValidationError{Field: "storage.dsn", Message: "is required for postgres"})
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

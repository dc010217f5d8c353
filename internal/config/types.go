package config

// Config is the top-level configuration structure parsed from fixloop YAML.
type Config struct {
	Fixer        Fixer            `yaml:"fixer" json:"fixer"`
	LLM          LLM              `yaml:"llm" json:"llm"`
	Checks       map[string]Check `yaml:"checks" json:"checks"`
	Storage      Storage          `yaml:"storage" json:"storage"`
	Server       Server           `yaml:"server" json:"server"`
	TemplatesDir string           `yaml:"templates_dir,omitempty" json:"templates_dir,omitempty"`

	// Path is the file the config was loaded from; empty for built-in defaults.
	Path string `yaml:"-" json:"-"`
}

// Fixer tunes the fix-and-test loop.
type Fixer struct {
	MaxIterations              int  `yaml:"max_iterations" json:"max_iterations"`
	RollbackOnFailedValidation bool `yaml:"rollback_on_failed_validation" json:"rollback_on_failed_validation"`
	// DefaultChecks run with `fix --checks` when no names are given.
	DefaultChecks []string `yaml:"default_checks,omitempty" json:"default_checks,omitempty"`
}

// LLM selects the completion provider for the fallback fixer and reviews.
type LLM struct {
	Provider          string `yaml:"provider" json:"provider"`
	Model             string `yaml:"model,omitempty" json:"model,omitempty"`
	APIKeyEnv         string `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	BaseURL           string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Timeout           string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	RequestsPerMinute int    `yaml:"requests_per_minute,omitempty" json:"requests_per_minute,omitempty"`
}

// Check defines an external tool run against a Python file. {{file}} in
// Command and FixCommand is replaced with the target path.
type Check struct {
	Command    string `yaml:"command" json:"command"`
	Parser     string `yaml:"parser" json:"parser"`
	Timeout    string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	FixCommand string `yaml:"fix_command,omitempty" json:"fix_command,omitempty"`
	AutoFix    bool   `yaml:"auto_fix,omitempty" json:"auto_fix,omitempty"`
}

// Storage configures run history.
type Storage struct {
	Driver  string `yaml:"driver" json:"driver"`
	DSN     string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	RunsDir string `yaml:"runs_dir,omitempty" json:"runs_dir,omitempty"`
}

// Server configures `fixloop serve`.
type Server struct {
	Addr string `yaml:"addr" json:"addr"`
}

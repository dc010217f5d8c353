package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/fixloop/internal/checks"
	"github.com/lucasnoah/fixloop/internal/llm"
)

// FileName is the project-local config file looked up by LoadDefault.
const FileName = "fixloop.yaml"

const (
	defaultMaxIterations = 10
	defaultLLMTimeout    = "60s"
	defaultCheckTimeout  = "2m"
	defaultServerAddr    = ":8080"
)

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it applies defaults and environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes YAML config data and applies defaults and environment
// overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	applyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, nil
}

// Default returns the built-in configuration with environment overrides.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./fixloop.yaml, ~/.fixloop/config.yaml.
// When none exists the built-in defaults are returned.
func LoadDefault() (*Config, error) {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), nil
}

// Resolve loads path when set, otherwise falls back to LoadDefault.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	return LoadDefault()
}

// SearchPaths lists the locations LoadDefault checks, in order.
func SearchPaths() []string {
	candidates := []string{FileName}
	if dir := HomeDir(); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "config.yaml"))
	}
	return candidates
}

// HomeDir returns ~/.fixloop, or "" when the home directory is unknown.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fixloop")
}

// DefaultChecks returns the flake8 and bandit checks used when a config
// defines none.
func DefaultChecks() map[string]Check {
	return map[string]Check{
		"flake8": {Command: "flake8 {{file}}", Parser: "flake8", Timeout: "1m"},
		"bandit": {Command: "bandit -f json -q {{file}}", Parser: "bandit", Timeout: defaultCheckTimeout},
	}
}

// applyDefaults fills unset fields with built-in values.
func applyDefaults(cfg *Config) {
	if cfg.Fixer.MaxIterations == 0 {
		cfg.Fixer.MaxIterations = defaultMaxIterations
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = string(llm.ProviderOpenAI)
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = llm.DefaultKeyEnv(llm.Provider(cfg.LLM.Provider))
	}
	if cfg.LLM.Timeout == "" {
		cfg.LLM.Timeout = defaultLLMTimeout
	}

	if cfg.Checks == nil {
		cfg.Checks = DefaultChecks()
	}
	for name, chk := range cfg.Checks {
		if chk.Parser == "" {
			chk.Parser = "generic"
		}
		if chk.Timeout == "" {
			chk.Timeout = defaultCheckTimeout
		}
		cfg.Checks[name] = chk
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if dir := HomeDir(); dir != "" {
		if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
			cfg.Storage.DSN = filepath.Join(dir, "fixloop.db")
		}
		if cfg.Storage.RunsDir == "" {
			cfg.Storage.RunsDir = filepath.Join(dir, "runs")
		}
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultServerAddr
	}
}

// applyEnv lets FIXLOOP_* variables override the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FIXLOOP_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
		cfg.LLM.APIKeyEnv = llm.DefaultKeyEnv(llm.Provider(v))
	}
	if v := os.Getenv("FIXLOOP_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("FIXLOOP_DATABASE_URL"); v != "" {
		cfg.Storage.Driver = "postgres"
		cfg.Storage.DSN = v
	}
}

// LLMConfig converts the llm section, reading the key from APIKeyEnv.
func (c *Config) LLMConfig() llm.Config {
	timeout, _ := time.ParseDuration(c.LLM.Timeout)
	out := llm.Config{
		Provider:          llm.Provider(c.LLM.Provider),
		Model:             c.LLM.Model,
		BaseURL:           c.LLM.BaseURL,
		Timeout:           timeout,
		RequestsPerMinute: c.LLM.RequestsPerMinute,
	}
	if c.LLM.APIKeyEnv != "" {
		out.APIKey = os.Getenv(c.LLM.APIKeyEnv)
	}
	return out
}

// CheckNames returns the configured check names, sorted.
func (c *Config) CheckNames() []string {
	names := make([]string, 0, len(c.Checks))
	for name := range c.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GateChecks resolves names (all configured checks, sorted, when empty) into
// gate check configs.
func (c *Config) GateChecks(names ...string) ([]checks.GateCheckConfig, error) {
	if len(names) == 0 {
		names = c.CheckNames()
	}
	out := make([]checks.GateCheckConfig, 0, len(names))
	for _, name := range names {
		chk, ok := c.Checks[name]
		if !ok {
			return nil, fmt.Errorf("check %q not found in config", name)
		}
		timeout, _ := time.ParseDuration(chk.Timeout)
		out = append(out, checks.GateCheckConfig{
			Name:       name,
			Command:    chk.Command,
			Parser:     chk.Parser,
			Timeout:    timeout,
			AutoFix:    chk.AutoFix,
			FixCommand: chk.FixCommand,
		})
	}
	return out, nil
}

// YAML renders the effective config.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

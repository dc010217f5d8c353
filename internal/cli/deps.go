package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixloop/internal/config"
	"github.com/lucasnoah/fixloop/internal/db"
	"github.com/lucasnoah/fixloop/internal/fixer"
	"github.com/lucasnoah/fixloop/internal/issue"
	"github.com/lucasnoah/fixloop/internal/llm"
	"github.com/lucasnoah/fixloop/internal/report"
	"github.com/lucasnoah/fixloop/internal/runs"
	"github.com/lucasnoah/fixloop/internal/workflow"
)

func loadConfig() (*config.Config, error) {
	return config.Resolve(configPath)
}

// newLogger logs to stderr: debug and up with --verbose, errors otherwise.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// progressWriter returns stderr when --verbose is set.
func progressWriter(cmd *cobra.Command) io.Writer {
	if verbose {
		return cmd.ErrOrStderr()
	}
	return nil
}

// newCompleter builds the configured completer. When required is false a
// missing API key only disables the fallback.
func newCompleter(cfg *config.Config, logger *slog.Logger, required bool) (llm.Completer, error) {
	c, err := llm.New(cfg.LLMConfig())
	if err == nil {
		if c == nil && required {
			return nil, fmt.Errorf("llm provider is %q; set llm.provider to openai or anthropic", cfg.LLM.Provider)
		}
		return c, nil
	}
	if !required && errors.Is(err, llm.ErrNoCredentials) {
		logger.Warn("language-model fallback disabled", "provider", cfg.LLM.Provider, "key_env", cfg.LLM.APIKeyEnv)
		return nil, nil
	}
	return nil, err
}

// workflowOptions wires the fallback fixer, logger and progress output.
func workflowOptions(cmd *cobra.Command, cfg *config.Config) (workflow.Options, error) {
	logger := newLogger(cmd)
	c, err := newCompleter(cfg, logger, false)
	if err != nil {
		return workflow.Options{}, err
	}
	return workflow.Options{
		MaxIterations:              cfg.Fixer.MaxIterations,
		Progress:                   progressWriter(cmd),
		Logger:                     logger,
		RollbackOnFailedValidation: cfg.Fixer.RollbackOnFailedValidation,
		Fallback:                   fixer.New(c, fixer.WithTemplateDir(cfg.TemplatesDir), fixer.WithLogger(logger)),
	}, nil
}

// history is the persistent run record: the database and the artifact store.
type history struct {
	db   *db.DB
	runs *runs.Store
}

// openHistory opens and migrates the configured database and the run
// artifact store.
func openHistory(cfg *config.Config) (*history, error) {
	d, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Storage.RunsDir, 0o755); err != nil {
		d.Close()
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	return &history{db: d, runs: runs.NewStore(cfg.Storage.RunsDir)}, nil
}

func openDB(cfg *config.Config) (*db.DB, error) {
	d, err := db.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (h *history) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// record persists a finished run and returns its id.
func (h *history) record(cmd *cobra.Command, source string, res workflow.Result, dur time.Duration) (string, error) {
	rec, err := h.runs.Save(source, res)
	if err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}
	if err := h.db.LogResult(cmd.Context(), rec.ID, source, res, dur); err != nil {
		return rec.ID, fmt.Errorf("log run: %w", err)
	}
	return rec.ID, nil
}

// loadIssues reads the issue file at path; an empty path yields no issues.
func loadIssues(path string) ([]issue.Issue, error) {
	if path == "" {
		return nil, nil
	}
	return issue.LoadFile(path)
}

func outputFormat(cmd *cobra.Command) (report.Format, error) {
	s, _ := cmd.Flags().GetString("output")
	return report.ParseFormat(s)
}

// startSpinner shows a spinner on stderr for interactive human output.
// The returned func stops it.
func startSpinner(cmd *cobra.Command, format report.Format, suffix string) func() {
	if verbose || format != report.FormatHuman || color.NoColor {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " " + suffix
	s.Start()
	return s.Stop
}

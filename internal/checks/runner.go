// Package checks runs external Python tools (flake8, bandit, pylint, ...)
// against a file or code string and normalizes their output.
package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// FilePlaceholder in a command is replaced with the shell-quoted target path.
const FilePlaceholder = "{{file}}"

// Result holds the structured output of a check run.
type Result struct {
	CheckName  string    `json:"check_name"`
	Passed     bool      `json:"passed"`
	AutoFixed  bool      `json:"auto_fixed"`
	ExitCode   int       `json:"exit_code"`
	DurationMs int       `json:"duration_ms"`
	Summary    string    `json:"summary"`
	Findings   []Finding `json:"findings,omitempty"`
	Output     string    `json:"output,omitempty"`
	Stdout     string    `json:"stdout,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
}

// CheckConfig mirrors config.Check with the fields the runner needs.
type CheckConfig struct {
	Name       string
	Command    string
	Parser     string
	Timeout    time.Duration
	AutoFix    bool
	FixCommand string
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes checks and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	r := &Runner{
		cmd:     cmd,
		parsers: make(map[string]Parser),
	}
	r.parsers["flake8"] = &Flake8Parser{}
	r.parsers["bandit"] = &BanditParser{}
	r.parsers["pylint"] = &PylintParser{}
	r.parsers["generic"] = &GenericParser{}
	return r
}

// ParserNames lists the registered parsers.
func (r *Runner) ParserNames() []string {
	names := make([]string, 0, len(r.parsers))
	for n := range r.parsers {
		names = append(names, n)
	}
	return names
}

// HasParser reports whether name is a registered parser.
func (r *Runner) HasParser(name string) bool {
	_, ok := r.parsers[name]
	return ok
}

// Expand substitutes the target path into a command.
func Expand(command, path string) string {
	return strings.ReplaceAll(command, FilePlaceholder, shellQuote(path))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// RunFile executes a single check against path, from path's directory.
func (r *Runner) RunFile(ctx context.Context, path string, cfg CheckConfig) (*Result, error) {
	dir := filepath.Dir(path)
	cfg.Command = Expand(cfg.Command, path)
	cfg.FixCommand = Expand(cfg.FixCommand, path)
	return r.Run(ctx, dir, cfg)
}

// Run executes a single check in the given directory.
func (r *Runner) Run(ctx context.Context, dir string, cfg CheckConfig) (*Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	result, err := r.runOnce(ctx, dir, cfg, timeout)
	if err != nil {
		return nil, err
	}

	// Auto-fix: if check failed, auto_fix enabled, and fix_command set, run fix then re-check
	if !result.Passed && cfg.AutoFix && cfg.FixCommand != "" {
		fixCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		// Run fix command (fix commands often exit non-zero, so the exit code is ignored)
		_, _, _, _ = r.cmd.Run(fixCtx, dir, cfg.FixCommand)

		// Re-run the check
		recheck, err := r.runOnce(ctx, dir, cfg, timeout)
		if err != nil {
			return nil, fmt.Errorf("re-run after fix: %w", err)
		}
		recheck.AutoFixed = true
		return recheck, nil
	}

	return result, nil
}

// runOnce executes a check command once and parses the output.
func (r *Runner) runOnce(parent context.Context, dir string, cfg CheckConfig, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, dir, cfg.Command)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		// Context deadline exceeded → timeout
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			return &Result{
				CheckName:  cfg.Name,
				Passed:     false,
				ExitCode:   -1,
				DurationMs: durationMs,
				Summary:    fmt.Sprintf("timeout after %s", timeout),
				Stdout:     stdout,
				Stderr:     stderr,
			}, nil
		}
		return nil, fmt.Errorf("run check %q: %w", cfg.Name, err)
	}

	// Parse output
	parser, ok := r.parsers[cfg.Parser]
	if !ok {
		parser = r.parsers["generic"]
	}

	parsed := parser.Parse(stdout, stderr, exitCode)

	return &Result{
		CheckName:  cfg.Name,
		Passed:     parsed.Passed,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    parsed.Summary,
		Findings:   parsed.Findings,
		Output:     parsed.Output,
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}

// CodeRun is the outcome of checking a code string.
type CodeRun struct {
	Gate    *GateResult
	Results []*Result
	// Code is the file content after the run; auto-fix commands may have
	// rewritten it.
	Code string
}

// snippetName is the file name code strings are checked under.
const snippetName = "snippet.py"

// CheckCode writes code to a temporary snippet.py, runs the gate against it
// and removes the file afterwards.
func (r *Runner) CheckCode(ctx context.Context, code string, opts GateOpts) (*CodeRun, error) {
	dir, err := os.MkdirTemp("", "fixloop-check-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, snippetName)
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("write snippet: %w", err)
	}

	gate, results, err := r.RunGate(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	after, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snippet: %w", err)
	}
	// Report findings against the snippet name rather than the temp path.
	for _, res := range results {
		for i := range res.Findings {
			if res.Findings[i].File == path {
				res.Findings[i].File = snippetName
			}
		}
	}
	return &CodeRun{Gate: gate, Results: results, Code: string(after)}, nil
}

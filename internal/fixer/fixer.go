// Package fixer is the language-model fallback used when no deterministic
// rule changes the code.
package fixer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasnoah/fixloop/internal/issue"
	"github.com/lucasnoah/fixloop/internal/llm"
	"github.com/lucasnoah/fixloop/internal/prompt"
)

var (
	// ErrNoCompleter means no completion backend is configured.
	ErrNoCompleter = errors.New("fixer: no completer configured")
	// ErrEmptyResponse means the model returned nothing usable.
	ErrEmptyResponse = errors.New("fixer: empty response")
)

// Outcome is the result of one fix attempt. On failure Code is the input,
// Changed is false and Err says why.
type Outcome struct {
	Code    string
	Changed bool
	Err     error
}

// OK reports whether the attempt produced new code.
func (o Outcome) OK() bool { return o.Err == nil && o.Changed }

// Fixer asks a Completer to rewrite code for a single issue.
type Fixer struct {
	completer   llm.Completer
	templateDir string
	logger      *slog.Logger
}

// Option configures a Fixer.
type Option func(*Fixer)

// WithTemplateDir loads fix.md from dir before the built-in copy.
func WithTemplateDir(dir string) Option {
	return func(f *Fixer) { f.templateDir = dir }
}

// WithLogger sets the logger for failed attempts.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fixer) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates a Fixer. A nil completer is allowed; every Fix then reports
// ErrNoCompleter.
func New(c llm.Completer, opts ...Option) *Fixer {
	f := &Fixer{
		completer: c,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fix never returns an error directly and never panics; failures come back
// in Outcome.Err with the original code.
func (f *Fixer) Fix(ctx context.Context, code string, iss issue.Issue) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = f.fail(code, iss, fmt.Errorf("fixer: completer panicked: %v", r))
		}
	}()

	if f == nil || f.completer == nil {
		return f.fail(code, iss, ErrNoCompleter)
	}

	vars := prompt.Vars{
		"description": iss.Description,
		"severity":    string(iss.Severity),
		"code":        code,
	}
	if vars["severity"] == "" {
		vars["severity"] = "Unknown"
	}
	if iss.Line != nil {
		vars["line"] = strconv.Itoa(*iss.Line)
	}
	p, err := prompt.RenderNamed(prompt.FixTemplate, f.templateDir, vars)
	if err != nil {
		return f.fail(code, iss, fmt.Errorf("build fix prompt: %w", err))
	}

	resp, err := f.completer.Complete(ctx, p)
	if err != nil {
		return f.fail(code, iss, fmt.Errorf("complete: %w", err))
	}
	fixed := StripFences(resp)
	if strings.TrimSpace(fixed) == "" {
		return f.fail(code, iss, ErrEmptyResponse)
	}
	if strings.HasSuffix(code, "\n") && !strings.HasSuffix(fixed, "\n") {
		fixed += "\n"
	}
	return Outcome{Code: fixed, Changed: fixed != code}
}

func (f *Fixer) fail(code string, iss issue.Issue, err error) Outcome {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if f != nil {
		logger = f.logger
	}
	logger.Warn("fallback fix failed", "issue", iss.Description, "severity", string(iss.Severity), "error", err)
	return Outcome{Code: code, Err: err}
}

var fenceRe = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n(.*?)\r?\n?```")

// StripFences returns the body of the first fenced code block in s, or s
// trimmed of surrounding blank lines when there is no fence.
func StripFences(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.Trim(s, "\r\n")
}

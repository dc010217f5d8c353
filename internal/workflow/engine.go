// Package workflow runs the iterative fix-and-test loop: pop the most severe
// pending issue, rewrite the code with a rule or the fallback fixer,
// validate, route.
package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/lucasnoah/fixloop/internal/fixer"
	"github.com/lucasnoah/fixloop/internal/issue"
	"github.com/lucasnoah/fixloop/internal/rules"
	"github.com/lucasnoah/fixloop/internal/validate"
)

// DefaultMaxIterations is used when neither Options nor the caller set a budget.
const DefaultMaxIterations = 10

// Fallback rewrites code when no rule changed it. *fixer.Fixer implements it.
type Fallback interface {
	Fix(ctx context.Context, code string, iss issue.Issue) fixer.Outcome
}

// ValidateFunc produces the verdict for a candidate.
type ValidateFunc func(ctx context.Context, code string) validate.TestReport

// Options configures an Engine. The zero value is usable.
type Options struct {
	// MaxIterations is the budget when FixCode is called with maxIterations <= 0.
	MaxIterations int

	// Progress receives human-readable progress lines; nil is silent.
	Progress io.Writer

	// Logger receives structured diagnostics; nil discards them.
	Logger *slog.Logger

	// RollbackOnFailedValidation reverts a fix whose candidate fails
	// validation worse than the code it replaced. Off by default: a fix is
	// kept whatever the validator says.
	RollbackOnFailedValidation bool

	// Fallback is consulted when no rule changes the code. nil means every
	// fallback attempt fails with fixer.ErrNoCompleter.
	Fallback Fallback

	// Validate overrides the validator, mainly for tests.
	Validate ValidateFunc

	// Observer is notified of every step and of the final result.
	Observer Observer
}

// Engine runs fix workflows. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	opts   Options
	logger *slog.Logger
	mu     sync.Mutex // serializes progress writes
}

// New creates an Engine, filling unset options with defaults.
func New(opts Options) *Engine {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Fallback == nil {
		opts.Fallback = fixer.New(nil, fixer.WithLogger(logger))
	}
	if opts.Validate == nil {
		opts.Validate = validate.ValidateContext
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Engine{opts: opts, logger: logger}
}

// MaxIterations returns the default budget.
func (e *Engine) MaxIterations() int { return e.opts.MaxIterations }

// logf prints a progress line if a progress writer is configured.
func (e *Engine) logf(format string, args ...interface{}) {
	if e.opts.Progress == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.opts.Progress, "  → "+format+"\n", args...)
}

// FixCode runs the workflow to completion. maxIterations <= 0 selects the
// engine default. It never fails: an exhausted budget is reported as
// StatusFailed on the Result.
func (e *Engine) FixCode(ctx context.Context, code string, issues []issue.Issue, maxIterations int) Result {
	if maxIterations <= 0 {
		maxIterations = e.opts.MaxIterations
	}
	s := NewState(code, issues, maxIterations)
	e.logf("fixing %d issue(s), budget %d iteration(s)", len(issues), maxIterations)

	for {
		if len(s.pending) == 0 {
			s = s.withStatus(StatusDone)
			break
		}
		s = e.fixStep(ctx, s)
		s = e.testStep(ctx, s)
		e.opts.Observer.OnStep(s.steps[len(s.steps)-1])

		next := Route(s)
		s = s.withStatus(next)
		if next != StatusFixing {
			break
		}
	}
	s = finalize(s)

	res := s.Result()
	e.logf("%s after %d iteration(s): %d handled, %d remaining", res.Status, res.Iterations, res.IssuesFixed, res.IssuesRemaining)
	e.logger.Info("fix run finished",
		"status", string(res.Status),
		"iterations", res.Iterations,
		"issues_fixed", res.IssuesFixed,
		"issues_remaining", res.IssuesRemaining,
		"passed", res.LastTestReport.Passed,
	)
	e.opts.Observer.OnFinish(res)
	return res
}

// fixStep pops the head issue and rewrites the code, trying the rule table
// first and the fallback when no rule changed anything.
func (e *Engine) fixStep(ctx context.Context, s FixState) FixState {
	s, iss := s.popIssue()
	e.logf("iteration %d/%d: %s", s.iteration, s.maxIterations, iss)

	step := Step{Iteration: s.iteration, Issue: iss, Strategy: StrategyNone}
	code := s.currentCode

	fixed, rule := rules.Apply(code, iss)
	if rule != "" && fixed != code {
		step.Strategy = RuleStrategy(rule)
		step.Changed = true
		e.logf("applied rule %s", rule)
		return s.applyFix(iss, fixed, step)
	}
	if rule != "" {
		e.logf("rule %s matched but changed nothing, trying fallback", rule)
	}

	out := e.opts.Fallback.Fix(ctx, code, iss)
	switch {
	case out.Err != nil:
		step.FallbackErr = out.Err.Error()
		e.logf("fallback failed: %v", out.Err)
		out.Code = code
	case out.Changed:
		step.Strategy = StrategyLLM
		step.Changed = true
		e.logf("applied fallback fix")
	default:
		e.logf("fallback returned the code unchanged")
	}
	return s.applyFix(iss, out.Code, step)
}

// testStep validates the current code and, when rollback is enabled and the
// fix made things worse, restores the previous code.
func (e *Engine) testStep(ctx context.Context, s FixState) FixState {
	report := e.opts.Validate(ctx, s.currentCode)
	last := s.steps[len(s.steps)-1]

	if e.opts.RollbackOnFailedValidation && last.Changed && !report.Passed {
		before := s.report
		if !s.hasReport {
			before = e.opts.Validate(ctx, s.previousCode)
		}
		if regressed(before, report) {
			e.logf("validation regressed (%s), rolling back", describe(report))
			e.logger.Warn("rolled back fix", "issue", last.Issue.Description, "strategy", last.Strategy)
			return s.recordReport(before, true)
		}
	}

	if report.Passed {
		e.logf("validation passed")
	} else {
		e.logf("validation failed: %s", describe(report))
	}
	return s.recordReport(report, false)
}

// regressed reports whether after is strictly worse than before.
func regressed(before, after validate.TestReport) bool {
	if before.SyntaxValid && !after.SyntaxValid {
		return true
	}
	return len(after.FlaggedPatterns) > len(before.FlaggedPatterns)
}

func describe(r validate.TestReport) string {
	if !r.SyntaxValid {
		return fmt.Sprintf("syntax invalid, flags %v", r.FlaggedPatterns)
	}
	return fmt.Sprintf("flags %v", r.FlaggedPatterns)
}

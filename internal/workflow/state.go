package workflow

import (
	"github.com/lucasnoah/fixloop/internal/issue"
	"github.com/lucasnoah/fixloop/internal/validate"
)

// Status is the phase of a fix run.
type Status string

const (
	StatusFixing  Status = "fixing"
	StatusTesting Status = "testing"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the run has stopped.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusFailed }

// Strategy values recorded on a Step.
const (
	StrategyLLM  = "llm"
	StrategyNone = "none"
)

// RuleStrategy names a deterministic rule as a Step strategy.
func RuleStrategy(name string) string { return "rule:" + name }

// Step records one iteration.
type Step struct {
	Iteration   int                 `json:"iteration" yaml:"iteration"`
	Issue       issue.Issue         `json:"issue" yaml:"issue"`
	Strategy    string              `json:"strategy" yaml:"strategy"`
	Changed     bool                `json:"changed" yaml:"changed"`
	RolledBack  bool                `json:"rolled_back,omitempty" yaml:"rolled_back,omitempty"`
	FallbackErr string              `json:"fallback_error,omitempty" yaml:"fallback_error,omitempty"`
	Report      validate.TestReport `json:"test_report" yaml:"test_report"`
}

// FixState is one snapshot of a fix run. It is a value: transitions return a
// new FixState and never modify the receiver or the slices it shares.
type FixState struct {
	originalCode  string
	currentCode   string
	previousCode  string
	pending       []issue.Issue
	handled       []issue.Issue
	iteration     int
	maxIterations int
	report        validate.TestReport
	hasReport     bool
	status        Status
	steps         []Step
}

// NewState returns the initial state: issues sorted by severity (stable),
// nothing handled, iteration 0.
func NewState(code string, issues []issue.Issue, maxIterations int) FixState {
	return FixState{
		originalCode:  code,
		currentCode:   code,
		pending:       issue.SortBySeverity(issues),
		maxIterations: maxIterations,
		status:        StatusFixing,
	}
}

func (s FixState) OriginalCode() string            { return s.originalCode }
func (s FixState) CurrentCode() string             { return s.currentCode }
func (s FixState) Iteration() int                  { return s.iteration }
func (s FixState) MaxIterations() int              { return s.maxIterations }
func (s FixState) Status() Status                  { return s.status }
func (s FixState) TestReport() validate.TestReport { return s.report }

// Pending returns a copy of the issues not yet attempted, in processing order.
func (s FixState) Pending() []issue.Issue { return cloneIssues(s.pending) }

// Handled returns a copy of the issues already attempted.
func (s FixState) Handled() []issue.Issue { return cloneIssues(s.handled) }

// Steps returns a copy of the per-iteration records.
func (s FixState) Steps() []Step {
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// popIssue removes the head of the queue and counts an iteration.
func (s FixState) popIssue() (FixState, issue.Issue) {
	head := s.pending[0]
	s.pending = cloneIssues(s.pending[1:])
	s.iteration++
	return s, head
}

// applyFix records the outcome of a fix attempt and moves to Testing.
func (s FixState) applyFix(iss issue.Issue, code string, step Step) FixState {
	s.previousCode = s.currentCode
	s.currentCode = code
	s.handled = appendIssue(s.handled, iss)
	s.steps = appendStep(s.steps, step)
	s.status = StatusTesting
	return s
}

// recordReport stores the verdict on the state and on the latest step.
// When rollback is set, the code reverts to what it was before the fix.
func (s FixState) recordReport(report validate.TestReport, rollback bool) FixState {
	if rollback {
		s.currentCode = s.previousCode
	}
	s.report = report
	s.hasReport = true
	if n := len(s.steps); n > 0 {
		steps := make([]Step, n)
		copy(steps, s.steps)
		steps[n-1].Report = report
		steps[n-1].RolledBack = rollback
		s.steps = steps
	}
	return s
}

func (s FixState) withStatus(st Status) FixState {
	s.status = st
	return s
}

// Route decides what follows a test step. Budget exhaustion is checked
// before the queue, so a run that spends its last iteration routes to
// Failed even when nothing is left; finalize settles the terminal status.
func Route(s FixState) Status {
	if s.iteration >= s.maxIterations {
		return StatusFailed
	}
	if len(s.pending) == 0 {
		return StatusDone
	}
	return StatusFixing
}

// finalize sets the terminal status from what is left: Done exactly when
// every issue was attempted.
func finalize(s FixState) FixState {
	if len(s.pending) == 0 {
		return s.withStatus(StatusDone)
	}
	return s.withStatus(StatusFailed)
}

// Result is the terminal report of a fix run.
type Result struct {
	OriginalCode    string              `json:"original_code" yaml:"original_code"`
	FixedCode       string              `json:"fixed_code" yaml:"fixed_code"`
	Iterations      int                 `json:"iterations" yaml:"iterations"`
	MaxIterations   int                 `json:"max_iterations" yaml:"max_iterations"`
	IssuesFixed     int                 `json:"issues_fixed" yaml:"issues_fixed"`
	IssuesRemaining int                 `json:"issues_remaining" yaml:"issues_remaining"`
	Status          Status              `json:"status" yaml:"status"`
	HandledIssues   []issue.Issue       `json:"handled_issues" yaml:"handled_issues"`
	RemainingIssues []issue.Issue       `json:"remaining_issues,omitempty" yaml:"remaining_issues,omitempty"`
	LastTestReport  validate.TestReport `json:"last_test_report" yaml:"last_test_report"`
	Steps           []Step              `json:"steps" yaml:"steps"`
}

// Changed reports whether the fixed code differs from the input.
func (r Result) Changed() bool { return r.FixedCode != r.OriginalCode }

// Result summarizes the state.
func (s FixState) Result() Result {
	return Result{
		OriginalCode:    s.originalCode,
		FixedCode:       s.currentCode,
		Iterations:      s.iteration,
		MaxIterations:   s.maxIterations,
		IssuesFixed:     len(s.handled),
		IssuesRemaining: len(s.pending),
		Status:          s.status,
		HandledIssues:   s.Handled(),
		RemainingIssues: s.Pending(),
		LastTestReport:  s.report,
		Steps:           s.Steps(),
	}
}

func cloneIssues(in []issue.Issue) []issue.Issue {
	out := make([]issue.Issue, len(in))
	copy(out, in)
	return out
}

func appendIssue(in []issue.Issue, iss issue.Issue) []issue.Issue {
	out := make([]issue.Issue, len(in), len(in)+1)
	copy(out, in)
	return append(out, iss)
}

func appendStep(in []Step, st Step) []Step {
	out := make([]Step, len(in), len(in)+1)
	copy(out, in)
	return append(out, st)
}

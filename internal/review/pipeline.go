package review

import (
	"context"

	"github.com/lucasnoah/fixloop/internal/issue"
	"github.com/lucasnoah/fixloop/internal/workflow"
)

// NoIssuesMessage is set on a Report when the review found nothing to fix.
const NoIssuesMessage = "no fixable issues found"

// Report combines a review with the fix run that followed it.
type Report struct {
	Transcript  Transcript       `json:"review" yaml:"review"`
	Issues      []issue.Issue    `json:"issues" yaml:"issues"`
	IssuesFound int              `json:"issues_found" yaml:"issues_found"`
	Fix         *workflow.Result `json:"fix_results,omitempty" yaml:"fix_results,omitempty"`
	Message     string           `json:"message,omitempty" yaml:"message,omitempty"`
}

// ReviewAndFix reviews code, extracts issues and, when engine is non-nil,
// runs the fix workflow on them. A review failure is returned as an error;
// the fix step never fails.
func ReviewAndFix(ctx context.Context, r *Reviewer, engine *workflow.Engine, code string, maxIterations int) (*Report, error) {
	t, err := r.Review(ctx, code)
	if err != nil {
		return nil, err
	}

	issues := ExtractIssues(t)
	rep := &Report{
		Transcript:  t,
		Issues:      issues,
		IssuesFound: len(issues),
	}
	if len(issues) == 0 {
		rep.Message = NoIssuesMessage
	}
	if engine == nil {
		return rep, nil
	}

	res := engine.FixCode(ctx, code, issues, maxIterations)
	rep.Fix = &res
	return rep, nil
}

package workflow

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/fixloop/internal/issue"
)

// Job is one independent FixCode request.
type Job struct {
	Name          string
	Code          string
	Issues        []issue.Issue
	MaxIterations int
}

// JobResult pairs a job name with its result.
type JobResult struct {
	Name   string `json:"name" yaml:"name"`
	Result Result `json:"result" yaml:"result"`
}

// FixBatch runs jobs with at most concurrency in flight (<= 0 means one per
// job). Results keep the order of jobs. The only error is ctx ending before
// every job started.
func (e *Engine) FixBatch(ctx context.Context, jobs []Job, concurrency int) ([]JobResult, error) {
	results := make([]JobResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, job := range jobs {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("job %s: %w", job.Name, err)
			}
			results[i] = JobResult{Name: job.Name, Result: e.FixCode(gctx, job.Code, job.Issues, job.MaxIterations)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

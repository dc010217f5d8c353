// Package review runs the reviewer agents over a piece of code and turns
// their replies into issues for the fix workflow.
package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/fixloop/internal/checks"
	"github.com/lucasnoah/fixloop/internal/llm"
	"github.com/lucasnoah/fixloop/internal/prompt"
)

// ErrNoCompleter means the reviewer has no completion backend.
var ErrNoCompleter = errors.New("review: no completer configured")

// Reviewer agent names, as they appear as transcript speakers.
const (
	AgentCodeAnalyzer         = "CodeAnalyzer"
	AgentSecurityReviewer     = "SecurityReviewer"
	AgentPerformanceOptimizer = "PerformanceOptimizer"
	// SpeakerChecks carries external check output; it is not parsed for issues.
	SpeakerChecks = "StaticAnalysis"
)

// Agent pairs a speaker name with its prompt template.
type Agent struct {
	Name     string
	Template string
}

// DefaultAgents returns the three reviewers in transcript order.
func DefaultAgents() []Agent {
	return []Agent{
		{Name: AgentCodeAnalyzer, Template: prompt.AnalyzerTemplate},
		{Name: AgentSecurityReviewer, Template: prompt.SecurityTemplate},
		{Name: AgentPerformanceOptimizer, Template: prompt.PerformanceTemplate},
	}
}

// Message is one transcript entry.
type Message struct {
	Speaker string `json:"speaker" yaml:"speaker"`
	Content string `json:"content" yaml:"content"`
}

// Transcript is the ordered conversation produced by a review.
type Transcript struct {
	Messages []Message `json:"conversation" yaml:"conversation"`
}

// Reviewer sends code to each agent and collects the replies.
type Reviewer struct {
	completer   llm.Completer
	agents      []Agent
	templateDir string
	runner      *checks.Runner
	gate        checks.GateOpts
	logger      *slog.Logger
	progress    io.Writer
	mu          sync.Mutex
}

// Option configures a Reviewer.
type Option func(*Reviewer)

// WithAgents replaces the default agents.
func WithAgents(agents ...Agent) Option {
	return func(r *Reviewer) { r.agents = agents }
}

// WithTemplateDir loads agent templates from dir before the built-in copies.
func WithTemplateDir(dir string) Option {
	return func(r *Reviewer) { r.templateDir = dir }
}

// WithChecks runs the given checks before the agents and shares their
// findings with them.
func WithChecks(runner *checks.Runner, opts checks.GateOpts) Option {
	return func(r *Reviewer) {
		r.runner = runner
		r.gate = opts
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reviewer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithProgress writes progress lines to w.
func WithProgress(w io.Writer) Option {
	return func(r *Reviewer) { r.progress = w }
}

// New creates a Reviewer. A nil completer makes every Review fail with
// ErrNoCompleter.
func New(c llm.Completer, opts ...Option) *Reviewer {
	r := &Reviewer{
		completer: c,
		agents:    DefaultAgents(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reviewer) logf(format string, args ...interface{}) {
	if r.progress == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.progress, "  → "+format+"\n", args...)
}

// Review asks every agent about code concurrently. Replies appear in agent
// order regardless of completion order; with checks configured, a
// StaticAnalysis message comes first.
func (r *Reviewer) Review(ctx context.Context, code string) (Transcript, error) {
	if r.completer == nil {
		return Transcript{}, ErrNoCompleter
	}

	var (
		t        Transcript
		findings string
	)
	if r.runner != nil && len(r.gate.Checks) > 0 {
		r.logf("running %d check(s)", len(r.gate.Checks))
		opts := r.gate
		opts.Continue = true
		run, err := r.runner.CheckCode(ctx, code, opts)
		if err != nil {
			// Checks are advisory; agents still run without them.
			r.logger.Warn("review checks failed", "error", err)
		} else {
			findings = strings.TrimSpace(checks.Summarize(run.Results))
			if findings != "" {
				t.Messages = append(t.Messages, Message{Speaker: SpeakerChecks, Content: findings})
			}
		}
	}

	replies := make([]Message, len(r.agents))
	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range r.agents {
		g.Go(func() error {
			p, err := prompt.RenderNamed(agent.Template, r.templateDir, prompt.Vars{
				"code":     code,
				"findings": findings,
			})
			if err != nil {
				return fmt.Errorf("%s: render prompt: %w", agent.Name, err)
			}
			r.logf("asking %s", agent.Name)
			reply, err := r.completer.Complete(gctx, p)
			if err != nil {
				return fmt.Errorf("%s: %w", agent.Name, err)
			}
			replies[i] = Message{Speaker: agent.Name, Content: reply}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("review failed", "error", err)
		return Transcript{}, fmt.Errorf("review: %w", err)
	}

	t.Messages = append(t.Messages, replies...)
	r.logf("review complete: %d message(s)", len(t.Messages))
	return t, nil
}

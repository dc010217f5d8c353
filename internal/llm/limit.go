package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

type timeoutCompleter struct {
	next    Completer
	timeout time.Duration
}

// WithTimeout bounds every Complete call by d.
func WithTimeout(c Completer, d time.Duration) Completer {
	return &timeoutCompleter{next: c, timeout: d}
}

func (t *timeoutCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Complete(ctx, prompt)
}

func (t *timeoutCompleter) Name() string { return Name(t.next) }

type limitedCompleter struct {
	next    Completer
	limiter *rate.Limiter
}

// RateLimited allows at most perMinute calls per minute through c, with a
// burst of one. Callers block until a token is available or ctx ends.
func RateLimited(c Completer, perMinute int) Completer {
	return &limitedCompleter{
		next:    c,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (l *limitedCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return l.next.Complete(ctx, prompt)
}

func (l *limitedCompleter) Name() string { return Name(l.next) }

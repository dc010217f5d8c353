// Package llm provides the text-completion capability used by the fallback
// fixer and the review agents.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrNoCredentials is returned when the provider's API key is not set.
var ErrNoCredentials = errors.New("llm: no API credentials configured")

// Completer turns a prompt into a completion. Implementations must be safe
// for concurrent use.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Provider names a completion backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderNone      Provider = "none"
)

// Providers lists the accepted provider names.
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderAnthropic, ProviderNone}
}

// Config selects and tunes a provider.
type Config struct {
	Provider          Provider
	Model             string
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
}

// SystemPrompt frames every fix request.
const SystemPrompt = "You are a code fixing assistant. Return only fixed code."

// New builds the completer described by cfg, wrapped with its timeout and
// rate limit. ProviderNone yields a nil Completer and no error.
func New(cfg Config) (Completer, error) {
	var c Completer
	switch Provider(strings.ToLower(string(cfg.Provider))) {
	case ProviderNone:
		return nil, nil
	case ProviderOpenAI, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: %w", ErrNoCredentials)
		}
		c = NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderAnthropic, "claude":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic: %w", ErrNoCredentials)
		}
		c = NewAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (supported: openai, anthropic, none)", cfg.Provider)
	}

	if cfg.Timeout > 0 {
		c = WithTimeout(c, cfg.Timeout)
	}
	if cfg.RequestsPerMinute > 0 {
		c = RateLimited(c, cfg.RequestsPerMinute)
	}
	return c, nil
}

// FromEnv builds a completer from FIXLOOP_LLM_PROVIDER / FIXLOOP_LLM_MODEL and
// the provider's conventional key variable (OPENAI_API_KEY or
// ANTHROPIC_API_KEY).
func FromEnv() (Completer, error) {
	cfg := Config{
		Provider: Provider(strings.ToLower(os.Getenv("FIXLOOP_LLM_PROVIDER"))),
		Model:    os.Getenv("FIXLOOP_LLM_MODEL"),
		Timeout:  60 * time.Second,
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	cfg.APIKey = os.Getenv(DefaultKeyEnv(cfg.Provider))
	return New(cfg)
}

// DefaultKeyEnv returns the environment variable conventionally holding the
// provider's API key.
func DefaultKeyEnv(p Provider) string {
	switch p {
	case ProviderAnthropic, "claude":
		return "ANTHROPIC_API_KEY"
	case ProviderNone:
		return ""
	}
	return "OPENAI_API_KEY"
}

// Name reports "provider/model" for completers that know it, else "custom".
func Name(c Completer) string {
	if c == nil {
		return "none"
	}
	if n, ok := c.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "custom"
}

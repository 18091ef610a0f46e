package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/quorumbi/quorum/config"
)

// Request is a single completion request against an LLM provider.
type Request struct {
	Model       string  // model key from the provider's configured models
	System      string  // optional system instructions
	Prompt      string  // user prompt
	Temperature float64 // 0 means use the model default
	MaxTokens   int     // 0 means use the model default
}

// Completion is the provider's answer plus accounting metadata.
type Completion struct {
	Text         string
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Completion, error)
}

// Kind classifies provider failures for the fallback chain.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindRateLimit   Kind = "rate_limit"
	KindServerError Kind = "server_error"
	KindBadResponse Kind = "bad_response"
)

// Error is a typed provider failure.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a provider error of the given kind.
func IsKind(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// New creates an LLM client for one named provider entry from the config.
func New(name string, cfg config.LLMProvider) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return newOpenAI(name, cfg)
	case "deepseek":
		return newDeepSeek(name, cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", cfg.Type)
	}
}

// NewChain builds the primary/secondary fallback pair declared in the config.
func NewChain(cfg config.LLMConfig) (Provider, error) {
	primary, err := New(cfg.Fallback.Primary, cfg.Providers[cfg.Fallback.Primary])
	if err != nil {
		return nil, fmt.Errorf("primary provider: %w", err)
	}
	if cfg.Fallback.Secondary == "" {
		return primary, nil
	}
	secondary, err := New(cfg.Fallback.Secondary, cfg.Providers[cfg.Fallback.Secondary])
	if err != nil {
		return nil, fmt.Errorf("secondary provider: %w", err)
	}
	return NewFallback(primary, secondary), nil
}

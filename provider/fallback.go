package provider

import (
	"context"
	"fmt"
	"log"
)

// Fallback wraps a primary and a secondary provider. Every call goes to the
// primary first; on any provider error it is retried once against the
// secondary. The completion records which provider actually served it.
type Fallback struct {
	primary   Provider
	secondary Provider
	logger    *log.Logger

	// OnFallback, when set, is invoked each time the secondary is tried.
	OnFallback func()
}

// NewFallback creates a two-tier provider chain.
func NewFallback(primary, secondary Provider) *Fallback {
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		logger:    log.New(log.Writer(), "[PROVIDER] ", log.LstdFlags),
	}
}

func (f *Fallback) Name() string {
	return fmt.Sprintf("%s+%s", f.primary.Name(), f.secondary.Name())
}

func (f *Fallback) Complete(ctx context.Context, req Request) (Completion, error) {
	comp, primaryErr := f.primary.Complete(ctx, req)
	if primaryErr == nil {
		return comp, nil
	}
	if ctx.Err() != nil {
		// Caller is gone; retrying the secondary would just burn its budget.
		return Completion{}, primaryErr
	}
	f.logger.Printf("primary %s failed (%v), retrying on %s", f.primary.Name(), primaryErr, f.secondary.Name())
	if f.OnFallback != nil {
		f.OnFallback()
	}

	comp, secondaryErr := f.secondary.Complete(ctx, req)
	if secondaryErr == nil {
		return comp, nil
	}
	return Completion{}, fmt.Errorf("both providers failed: primary: %v: secondary: %w", primaryErr, secondaryErr)
}

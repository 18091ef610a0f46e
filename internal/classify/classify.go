package classify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/quorumbi/quorum/config"
	"github.com/quorumbi/quorum/provider"
)

// Label is the coarse complexity category gating the downstream pipeline.
type Label string

const (
	Simple   Label = "simple"
	Business Label = "business"
	Complex  Label = "complex"
)

// Classifier labels a query simple, business or complex. It never fails:
// anything ambiguous or erroring defaults to business, the safe middle.
type Classifier struct {
	llm     provider.Provider
	model   string
	timeout time.Duration
	logger  *log.Logger
}

// New creates a classifier backed by the shared provider chain.
func New(cfg *config.Config, llm provider.Provider) *Classifier {
	return &Classifier{
		llm:     llm,
		model:   cfg.LLM.Routing.Classification,
		timeout: cfg.General.ClassifyTimeout,
		logger:  log.New(log.Writer(), "[CLASSIFY] ", log.LstdFlags),
	}
}

// researchMarkers short-circuit straight to complex: the caller is asking for
// reference-backed material, no model call needed.
var researchMarkers = []string{
	"research",
	"peer-reviewed",
	"peer reviewed",
	"academic",
	"studies say",
	"studies show",
	"literature",
	"papers",
}

// Classify returns exactly one label with bounded latency.
func (c *Classifier) Classify(ctx context.Context, query string, history []string) (Label, provider.Completion) {
	lowered := strings.ToLower(query)
	for _, marker := range researchMarkers {
		if strings.Contains(lowered, marker) {
			return Complex, provider.Completion{}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	comp, err := c.llm.Complete(ctx, provider.Request{
		Model:       c.model,
		System:      "You classify queries for a business advisory system. Respond with exactly one word.",
		Prompt:      classifyPrompt(query, history),
		Temperature: 0.0,
		MaxTokens:   8,
	})
	if err != nil {
		c.logger.Printf("classification failed (%v), defaulting to business", err)
		return Business, provider.Completion{}
	}

	return parseLabel(comp.Text), comp
}

func classifyPrompt(query string, history []string) string {
	ctxBlock := ""
	if len(history) > 0 {
		ctxBlock = "Recent conversation:\n" + strings.Join(history, "\n") + "\n\n"
	}
	return fmt.Sprintf(`%sClassify this query's complexity:

Query: %s

Categories:
- simple: non-business questions, general knowledge, casual conversation
- business: business questions our specialists can answer without reference documents
- complex: deep business questions that need reference-document backing

Examples:
"What's the color of the sky?" -> simple
"How do I improve customer retention?" -> business
"What's the optimal pricing strategy for B2B SaaS based on latest research?" -> complex

Respond with ONLY ONE WORD: simple, business, or complex`, ctxBlock, query)
}

// parseLabel reads the model's answer leniently: any recognizable label
// substring wins, everything else is business.
func parseLabel(response string) Label {
	r := strings.ToLower(strings.TrimSpace(response))
	switch {
	case strings.Contains(r, "simple"):
		return Simple
	case strings.Contains(r, "complex"):
		return Complex
	case strings.Contains(r, "business"):
		return Business
	default:
		return Business
	}
}

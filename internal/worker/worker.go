package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/quorumbi/quorum/config"
	"github.com/quorumbi/quorum/internal/cache"
	"github.com/quorumbi/quorum/provider"
)

// Input is the shared payload handed to every selected worker.
type Input struct {
	Query           string
	ResearchContext string
	History         []string
}

// Result is one worker's output plus accounting metadata.
type Result struct {
	Text     string  `json:"text"`
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Cost     float64 `json:"cost"`
	Tokens   int64   `json:"tokens"`
	Cached   bool    `json:"cached"`
}

// Worker is a domain specialist. Its reasoning is opaque to the orchestration
// core: a worker takes the query plus optional shared context and returns
// free-text analysis.
type Worker interface {
	ID() string
	Describe() string
	Invoke(ctx context.Context, input Input) (Result, error)
}

// Error marks a failure inside one worker. It never aborts the batch.
type Error struct {
	WorkerID string
	Err      error
}

func (e *Error) Error() string { return fmt.Sprintf("worker %s: %v", e.WorkerID, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Registry is the closed worker catalog, built once at startup. Adding a
// specialist means registering a new entry here.
type Registry struct {
	workers map[string]Worker
}

// NewRegistry builds the stock catalog: four domain specialists plus the
// general-purpose default.
func NewRegistry(cfg *config.Config, llm provider.Provider, c *cache.Cache) *Registry {
	r := &Registry{}
	model := cfg.LLM.Routing.Worker
	for _, spec := range catalog {
		r.Register(&llmWorker{
			id:          spec.id,
			description: spec.description,
			system:      spec.system,
			llm:         llm,
			model:       model,
			cache:       c,
		})
	}
	return r
}

// Register adds a specialist to the catalog, replacing any previous worker
// with the same id.
func (r *Registry) Register(w Worker) {
	if r.workers == nil {
		r.workers = make(map[string]Worker)
	}
	r.workers[w.ID()] = w
}

// Get returns the worker for an id.
func (r *Registry) Get(id string) (Worker, bool) {
	w, ok := r.workers[id]
	return w, ok
}

// IDs returns all registered worker ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Describe returns the catalog description for an id, empty when unknown.
func (r *Registry) Describe(id string) string {
	if w, ok := r.workers[id]; ok {
		return w.Describe()
	}
	return ""
}

type spec struct {
	id          string
	description string
	system      string
}

var catalog = []spec{
	{
		id:          "market",
		description: "Market research, trends, competition, market sizing, customer segmentation",
		system:      "You are a market analysis specialist. Assess market dynamics, competitive positioning, sizing and segmentation relevant to the query. Be concrete and quantify where possible.",
	},
	{
		id:          "financial",
		description: "Financial projections, ROI calculations, revenue/cost analysis, pricing",
		system:      "You are a financial modeling specialist. Produce revenue, cost and ROI analysis relevant to the query. State assumptions explicitly.",
	},
	{
		id:          "operations",
		description: "Process optimization, efficiency analysis, workflow improvement",
		system:      "You are an operations audit specialist. Identify process bottlenecks, efficiency gains and workflow improvements relevant to the query.",
	},
	{
		id:          "leadgen",
		description: "Customer acquisition, sales funnel, growth strategies, marketing",
		system:      "You are a lead generation strategist. Propose acquisition channels, funnel improvements and growth tactics relevant to the query.",
	},
	{
		id:          "general",
		description: "General business advisory covering any topic the other specialists do not",
		system:      "You are a general business advisor. Give a well-rounded, actionable analysis of the query.",
	},
}

// llmWorker is the uniform specialist implementation: a prompt template over
// the shared provider chain, memoized at the worker cache tier.
type llmWorker struct {
	id          string
	description string
	system      string
	llm         provider.Provider
	model       string
	cache       *cache.Cache
}

func (w *llmWorker) ID() string       { return w.id }
func (w *llmWorker) Describe() string { return w.description }

func (w *llmWorker) Invoke(ctx context.Context, input Input) (Result, error) {
	hasResearch := input.ResearchContext != ""
	key := w.cache.Key(cache.TierWorker, input.Query, w.id, fmt.Sprintf("research=%t", hasResearch))
	if raw, ok := w.cache.Get(ctx, key); ok {
		return Result{Text: string(raw), Cached: true}, nil
	}

	comp, err := w.llm.Complete(ctx, provider.Request{
		Model:  w.model,
		System: w.system,
		Prompt: w.prompt(input),
	})
	if err != nil {
		return Result{}, &Error{WorkerID: w.id, Err: err}
	}

	w.cache.Set(ctx, cache.TierWorker, key, []byte(comp.Text), 0)
	return Result{
		Text:     comp.Text,
		Provider: comp.Provider,
		Model:    comp.Model,
		Cost:     comp.Cost,
		Tokens:   comp.InputTokens + comp.OutputTokens,
	}, nil
}

func (w *llmWorker) prompt(input Input) string {
	var sb strings.Builder
	if len(input.History) > 0 {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(strings.Join(input.History, "\n"))
		sb.WriteString("\n\n")
	}
	if input.ResearchContext != "" {
		sb.WriteString("Reference research context:\n")
		sb.WriteString(input.ResearchContext)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Query: ")
	sb.WriteString(input.Query)
	return sb.String()
}

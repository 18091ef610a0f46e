package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quorumbi/quorum/config"
	"github.com/quorumbi/quorum/internal/cache"
	"github.com/quorumbi/quorum/internal/classify"
	"github.com/quorumbi/quorum/internal/executor"
	"github.com/quorumbi/quorum/internal/research"
	"github.com/quorumbi/quorum/internal/router"
	"github.com/quorumbi/quorum/internal/telemetry"
	"github.com/quorumbi/quorum/internal/worker"
	"github.com/quorumbi/quorum/provider"
)

// Orchestrator drives one query through the pipeline: classify, route,
// optionally research, fan out to workers, synthesize. It owns no worker
// logic itself; specialists stay opaque behind the registry.
type Orchestrator struct {
	cfg        *config.Config
	llm        provider.Provider
	classifier *classify.Classifier
	router     *router.Router
	registry   *worker.Registry
	executor   *executor.Executor
	augmentor  *research.Augmentor // nil when research is disabled
	cache      *cache.Cache
	telemetry  *telemetry.Telemetry
	logger     *log.Logger
}

// New wires the pipeline from config. The same provider chain serves every
// LLM call; per-task models come from cfg.LLM.Routing.
func New(cfg *config.Config, llm provider.Provider, c *cache.Cache, tel *telemetry.Telemetry) *Orchestrator {
	registry := worker.NewRegistry(cfg, llm, c)

	catalog := make([]router.CatalogEntry, 0, len(registry.IDs()))
	for _, id := range registry.IDs() {
		catalog = append(catalog, router.CatalogEntry{ID: id, Description: registry.Describe(id)})
	}

	var augmentor *research.Augmentor
	if cfg.Research.Enabled {
		augmentor = research.New(cfg, llm, c)
	}

	return &Orchestrator{
		cfg:        cfg,
		llm:        llm,
		classifier: classify.New(cfg, llm),
		router:     router.New(cfg, llm, catalog),
		registry:   registry,
		executor:   executor.New(registry, cfg.Workers.MaxConcurrent, cfg.Workers.Timeout),
		augmentor:  augmentor,
		cache:      c,
		telemetry:  tel,
		logger:     log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags),
	}
}

// Registry exposes the worker catalog for introspection endpoints.
func (o *Orchestrator) Registry() *worker.Registry { return o.registry }

// Ask runs one query end to end. The Response shape is identical on every
// path; err is non-nil only for fatal outcomes (every worker failed, or the
// overall deadline fired before anything useful happened).
func (o *Orchestrator) Ask(ctx context.Context, query string, opts Options) (Response, error) {
	start := time.Now()
	resp := Response{
		ID:               uuid.NewString(),
		Query:            query,
		State:            StateStart,
		WorkersConsulted: []string{},
	}

	if o.cfg.General.MaxProcessingTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.General.MaxProcessingTime)
		defer cancel()
	}

	history := opts.History
	if max := o.cfg.General.MaxHistoryMessages; max > 0 && len(history) > max {
		history = history[len(history)-max:]
	}

	o.transition(&resp, StateClassifying)
	label, classComp := o.classifier.Classify(ctx, query, history)
	resp.Classification = string(label)
	resp.CostEstimate += classComp.Cost
	resp.TokensUsed += completionTokens(classComp)

	var err error
	if label == classify.Simple {
		err = o.fastAnswer(ctx, query, history, opts, &resp)
	} else {
		err = o.consult(ctx, query, label, history, opts, &resp)
	}

	resp.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		o.transition(&resp, StateFailed)
	} else {
		o.transition(&resp, StateDone)
	}
	o.record(resp, err)
	return resp, err
}

// fastAnswer handles simple queries with a single low-effort model call,
// memoized at the fast-answer tier. No workers are consulted.
func (o *Orchestrator) fastAnswer(ctx context.Context, query string, history []string, opts Options, resp *Response) error {
	o.transition(resp, StateFastAnswer)

	key := o.cache.Key(cache.TierFastAnswer, query)
	if !opts.SkipCache {
		if raw, ok := o.cache.Get(ctx, key); ok {
			resp.ResultText = string(raw)
			resp.CacheHit = true
			return nil
		}
	}

	prompt := query
	if len(history) > 0 {
		prompt = "Conversation so far:\n" + strings.Join(history, "\n") + "\n\nQuery: " + query
	}
	comp, err := o.llm.Complete(ctx, provider.Request{
		Model:  o.cfg.LLM.Routing.FastAnswer,
		System: "You are a helpful assistant. Answer directly and concisely.",
		Prompt: prompt,
	})
	if err != nil {
		return fmt.Errorf("fast answer: %w", err)
	}
	resp.ResultText = comp.Text
	resp.CostEstimate += comp.Cost
	resp.TokensUsed += completionTokens(comp)
	o.cache.Set(ctx, cache.TierFastAnswer, key, []byte(comp.Text), 0)
	return nil
}

// consult is the full pipeline for business and complex queries.
func (o *Orchestrator) consult(ctx context.Context, query string, label classify.Label, history []string, opts Options, resp *Response) error {
	o.transition(resp, StateRouting)
	decision, routeComp := o.router.Route(ctx, query)
	resp.RoutingMethod = string(decision.Method)
	resp.WorkersConsulted = decision.Selected
	resp.CostEstimate += routeComp.Cost
	resp.TokensUsed += completionTokens(routeComp)
	o.logger.Printf("request %s routed to %v via %s", resp.ID, decision.Selected, decision.Method)

	// Check the synthesis cache before paying for research or workers. The
	// key includes the selected worker set: the same query answered by a
	// different panel is a different answer.
	synthKey := o.cache.Key(cache.TierSynthesis, query, decision.Selected...)
	if !opts.SkipCache {
		if raw, ok := o.cache.Get(ctx, synthKey); ok {
			var cached cachedSynthesis
			if err := json.Unmarshal(raw, &cached); err == nil {
				resp.ResultText = cached.Result
				resp.Citations = cached.Citations
				resp.CacheHit = true
				return nil
			}
		}
	}

	var researchCtx research.Context
	if label == classify.Complex && o.augmentor != nil {
		o.transition(resp, StateResearching)
		rc, err := o.augmentor.Augment(ctx, query)
		if err != nil {
			// Research never blocks the pipeline.
			o.logger.Printf("request %s research degraded: %v", resp.ID, err)
		}
		researchCtx = rc
		resp.CostEstimate += rc.Cost
		resp.TokensUsed += rc.Tokens
	}

	o.transition(resp, StateExecuting)
	invocations := o.executor.Execute(ctx, decision.Selected, worker.Input{
		Query:           query,
		ResearchContext: researchCtx.Summary,
		History:         history,
	})

	resp.PerWorkerResults = make(map[string]WorkerOutcome, len(invocations))
	var succeeded []string
	for id, inv := range invocations {
		outcome := WorkerOutcome{
			WorkerID: id,
			Status:   string(inv.Status),
			Error:    inv.Error,
			Cached:   inv.Result.Cached,
			Latency:  inv.Latency,
		}
		if inv.Status == executor.StatusSuccess {
			outcome.Text = inv.Result.Text
			resp.CostEstimate += inv.Result.Cost
			resp.TokensUsed += inv.Result.Tokens
			succeeded = append(succeeded, id)
		}
		resp.PerWorkerResults[id] = outcome
		if o.telemetry != nil {
			o.telemetry.RecordWorkerEvent(telemetry.WorkerEvent{
				WorkerID: id,
				Status:   string(inv.Status),
				Provider: inv.Result.Provider,
				Cost:     inv.Result.Cost,
				Latency:  inv.Latency,
			})
		}
	}
	if len(succeeded) == 0 {
		return fmt.Errorf("%w: %v", ErrAllWorkersFailed, decision.Selected)
	}
	sort.Strings(succeeded)

	o.transition(resp, StateSynthesizing)
	result, cost, tokens := o.synthesize(ctx, query, succeeded, resp.PerWorkerResults, researchCtx)
	resp.ResultText = result
	resp.CostEstimate += cost
	resp.TokensUsed += tokens
	resp.Citations = researchCtx.Citations

	data, err := json.Marshal(cachedSynthesis{Result: result, Citations: resp.Citations})
	if err == nil {
		o.cache.Set(ctx, cache.TierSynthesis, synthKey, data, 0)
	}
	return nil
}

type cachedSynthesis struct {
	Result    string   `json:"result"`
	Citations []string `json:"citations,omitempty"`
}

// synthesize combines successful worker outputs into one answer. A single
// success passes through verbatim; several go through a combining model call,
// degrading to labelled sections if that call fails.
func (o *Orchestrator) synthesize(ctx context.Context, query string, succeeded []string, outcomes map[string]WorkerOutcome, rc research.Context) (string, float64, int64) {
	if len(succeeded) == 1 {
		return outcomes[succeeded[0]].Text, 0, 0
	}

	var sb strings.Builder
	for _, id := range succeeded {
		fmt.Fprintf(&sb, "### %s\n%s\n\n", o.registry.Describe(id), outcomes[id].Text)
	}
	sections := sb.String()

	prompt := fmt.Sprintf(`Query: %s

Specialist analyses:

%sCombine these analyses into one coherent answer to the query. Resolve contradictions explicitly, do not repeat yourself, and keep the specialists' concrete figures.`, query, sections)
	if rc.Summary != "" {
		prompt += "\n\nReference research context:\n" + rc.Summary
	}

	comp, err := o.llm.Complete(ctx, provider.Request{
		Model:  o.cfg.LLM.Routing.Synthesis,
		System: "You merge specialist analyses into a single well-structured answer.",
		Prompt: prompt,
	})
	if err != nil {
		o.logger.Printf("synthesis call failed (%v), returning sectioned output", err)
		return sections, 0, 0
	}
	return comp.Text, comp.Cost, completionTokens(comp)
}

func completionTokens(c provider.Completion) int64 {
	return c.InputTokens + c.OutputTokens
}

func (o *Orchestrator) transition(resp *Response, next State) {
	if o.cfg.General.Debug {
		o.logger.Printf("request %s: %s -> %s", resp.ID, resp.State, next)
	}
	resp.State = next
}

func (o *Orchestrator) record(resp Response, err error) {
	if o.telemetry == nil {
		return
	}
	event := telemetry.RequestEvent{
		ID:             resp.ID,
		QueryHash:      o.cache.Key(cache.TierSynthesis, resp.Query),
		Classification: resp.Classification,
		RoutingMethod:  resp.RoutingMethod,
		WorkersUsed:    resp.WorkersConsulted,
		Success:        err == nil,
		CacheHit:       resp.CacheHit,
		Cost:           resp.CostEstimate,
		TokensUsed:     resp.TokensUsed,
		Latency:        time.Duration(resp.LatencyMS) * time.Millisecond,
	}
	if err != nil {
		event.Error = err.Error()
	}
	o.telemetry.RecordRequest(event)
}

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quorumbi/quorum/config"
	"github.com/quorumbi/quorum/internal/cache"
	"github.com/quorumbi/quorum/internal/executor"
	"github.com/quorumbi/quorum/internal/telemetry"
	"github.com/quorumbi/quorum/provider"
)

// scriptedLLM answers by the requested model key, so one stub serves the
// classifier, router, workers and synthesizer at once.
type scriptedLLM struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     map[string]int
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) Complete(ctx context.Context, req provider.Request) (provider.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[req.Model]++
	if err := s.errs[req.Model]; err != nil {
		return provider.Completion{}, err
	}
	return provider.Completion{
		Text: s.responses[req.Model], Provider: "scripted", Model: req.Model,
		Cost: 0.001, InputTokens: 10, OutputTokens: 5,
	}, nil
}

func (s *scriptedLLM) callCount(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[model]
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		General: config.GeneralConfig{
			MaxProcessingTime:  time.Minute,
			ClassifyTimeout:    5 * time.Second,
			MaxHistoryMessages: 10,
		},
		LLM: config.LLMConfig{
			Routing: config.LLMRoutingConfig{
				Classification: "cls",
				Routing:        "route",
				FastAnswer:     "fast",
				Worker:         "wrk",
				Research:       "research",
				Synthesis:      "syn",
			},
		},
		Cache: config.CacheConfig{
			Enabled: true,
			File:    config.FileCacheConfig{Dir: t.TempDir()},
		}.Normalize(),
		Research: config.ResearchConfig{Enabled: false},
	}
	cfg.Router = config.RouterConfig{}.Normalize()
	cfg.Workers = config.WorkersConfig{}.Normalize()
	return cfg
}

func newTestOrchestrator(t *testing.T, llm *scriptedLLM) *Orchestrator {
	t.Helper()
	cfg := testConfig(t)
	c, err := cache.New(context.Background(), cfg.Cache, nil)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	tel := telemetry.New(config.TelemetryConfig{Enabled: true, CostTracking: true}, nil)
	return New(cfg, llm, c, tel)
}

func TestSimpleQuerySkipsWorkers(t *testing.T) {
	llm := &scriptedLLM{responses: map[string]string{
		"cls":  "simple",
		"fast": "The sky is blue.",
	}}
	o := newTestOrchestrator(t, llm)

	resp, err := o.Ask(context.Background(), "What's the color of the sky?", Options{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if resp.Classification != "simple" {
		t.Fatalf("expected simple, got %s", resp.Classification)
	}
	if len(resp.WorkersConsulted) != 0 || len(resp.PerWorkerResults) != 0 {
		t.Fatalf("simple queries must not consult workers: %+v", resp)
	}
	if resp.ResultText != "The sky is blue." {
		t.Fatalf("got %q", resp.ResultText)
	}
	if resp.State != StateDone {
		t.Fatalf("expected done, got %s", resp.State)
	}
	if llm.callCount("wrk") != 0 || llm.callCount("route") != 0 {
		t.Fatal("no routing or worker calls allowed on the fast path")
	}
}

func TestFastAnswerCached(t *testing.T) {
	llm := &scriptedLLM{responses: map[string]string{
		"cls":  "simple",
		"fast": "42",
	}}
	o := newTestOrchestrator(t, llm)
	ctx := context.Background()

	first, err := o.Ask(ctx, "meaning of life?", Options{})
	if err != nil || first.CacheHit {
		t.Fatalf("first ask: err=%v cacheHit=%v", err, first.CacheHit)
	}
	second, err := o.Ask(ctx, "Meaning  of LIFE?", Options{})
	if err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if !second.CacheHit {
		t.Fatal("normalized repeat should hit the fast-answer cache")
	}
	if second.ResultText != "42" {
		t.Fatalf("got %q", second.ResultText)
	}
	if llm.callCount("fast") != 1 {
		t.Fatalf("expected one fast-answer model call, got %d", llm.callCount("fast"))
	}
}

func TestSingleWorkerPassthrough(t *testing.T) {
	llm := &scriptedLLM{responses: map[string]string{
		"cls":   "business",
		"route": `["financial"]`,
		"wrk":   "margin analysis verbatim",
		"syn":   "must not appear",
	}}
	o := newTestOrchestrator(t, llm)

	resp, err := o.Ask(context.Background(), "what margin should we target", Options{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if resp.ResultText != "margin analysis verbatim" {
		t.Fatalf("single success must pass through verbatim, got %q", resp.ResultText)
	}
	if llm.callCount("syn") != 0 {
		t.Fatal("synthesis model must not run for a single worker")
	}
	if resp.RoutingMethod != "semantic-fallback" {
		t.Fatalf("got routing method %q", resp.RoutingMethod)
	}
	if len(resp.WorkersConsulted) != 1 || resp.WorkersConsulted[0] != "financial" {
		t.Fatalf("got workers %v", resp.WorkersConsulted)
	}
}

func TestMultiWorkerSynthesis(t *testing.T) {
	llm := &scriptedLLM{responses: map[string]string{
		"cls":   "business",
		"route": `["market", "financial"]`,
		"wrk":   "specialist output",
		"syn":   "combined answer",
	}}
	o := newTestOrchestrator(t, llm)

	resp, err := o.Ask(context.Background(), "should we enter the EU market", Options{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if resp.ResultText != "combined answer" {
		t.Fatalf("got %q", resp.ResultText)
	}
	if len(resp.PerWorkerResults) != 2 {
		t.Fatalf("expected 2 per-worker results, got %d", len(resp.PerWorkerResults))
	}
	for _, id := range []string{"market", "financial"} {
		out, ok := resp.PerWorkerResults[id]
		if !ok || out.Status != string(executor.StatusSuccess) {
			t.Fatalf("worker %s: %+v", id, out)
		}
	}
	if resp.CostEstimate <= 0 {
		t.Fatal("cost must accumulate across calls")
	}
	// classification + routing + two workers + synthesis, 15 tokens each.
	if resp.TokensUsed != 75 {
		t.Fatalf("expected 75 tokens across 5 calls, got %d", resp.TokensUsed)
	}
}

func TestAllWorkersFailed(t *testing.T) {
	llm := &scriptedLLM{
		responses: map[string]string{
			"cls":   "business",
			"route": `["market", "financial"]`,
		},
		errs: map[string]error{"wrk": errors.New("provider down")},
	}
	o := newTestOrchestrator(t, llm)

	resp, err := o.Ask(context.Background(), "doomed question", Options{})
	if !errors.Is(err, ErrAllWorkersFailed) {
		t.Fatalf("expected ErrAllWorkersFailed, got %v", err)
	}
	if resp.State != StateFailed {
		t.Fatalf("expected failed state, got %s", resp.State)
	}
	for id, out := range resp.PerWorkerResults {
		if out.Status != string(executor.StatusFailed) {
			t.Fatalf("worker %s: expected failed, got %s", id, out.Status)
		}
	}
}

func TestPartialFailureStillAnswers(t *testing.T) {
	// The router picks two workers; the executor runs both against the same
	// scripted stub, so simulate partial failure at the worker-cache level by
	// pre-seeding one worker's cache entry and erroring the live call.
	llm := &scriptedLLM{
		responses: map[string]string{
			"cls":   "business",
			"route": `["market", "financial"]`,
			"syn":   "unused",
		},
		errs: map[string]error{"wrk": errors.New("provider down")},
	}
	cfg := testConfig(t)
	c, err := cache.New(context.Background(), cfg.Cache, nil)
	if err != nil {
		t.Fatal(err)
	}
	o := New(cfg, llm, c, telemetry.New(config.TelemetryConfig{Enabled: true}, nil))

	// Seed market's worker-tier entry so it succeeds from cache while
	// financial fails against the dead provider.
	key := c.Key(cache.TierWorker, "mixed outcome question", "market", "research=false")
	c.Set(context.Background(), cache.TierWorker, key, []byte("cached market take"), 0)

	resp, err := o.Ask(context.Background(), "mixed outcome question", Options{})
	if err != nil {
		t.Fatalf("one surviving worker must be enough: %v", err)
	}
	if resp.ResultText != "cached market take" {
		t.Fatalf("got %q", resp.ResultText)
	}
	if resp.PerWorkerResults["financial"].Status != string(executor.StatusFailed) {
		t.Fatalf("financial should have failed: %+v", resp.PerWorkerResults["financial"])
	}
	if resp.PerWorkerResults["market"].Status != string(executor.StatusSuccess) {
		t.Fatalf("market should have succeeded: %+v", resp.PerWorkerResults["market"])
	}
}

func TestSynthesisCacheHit(t *testing.T) {
	llm := &scriptedLLM{responses: map[string]string{
		"cls":   "business",
		"route": `["market", "financial"]`,
		"wrk":   "specialist output",
		"syn":   "combined answer",
	}}
	o := newTestOrchestrator(t, llm)
	ctx := context.Background()

	if _, err := o.Ask(ctx, "repeatable question", Options{}); err != nil {
		t.Fatalf("first ask: %v", err)
	}
	workerCalls := llm.callCount("wrk")

	second, err := o.Ask(ctx, "repeatable question", Options{})
	if err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if !second.CacheHit {
		t.Fatal("expected synthesis cache hit")
	}
	if second.ResultText != "combined answer" {
		t.Fatalf("got %q", second.ResultText)
	}
	if llm.callCount("wrk") != workerCalls {
		t.Fatal("cache hit must not re-run workers")
	}
	if llm.callCount("syn") != 1 {
		t.Fatalf("expected one synthesis call, got %d", llm.callCount("syn"))
	}
}

func TestSkipCacheBypassesReads(t *testing.T) {
	llm := &scriptedLLM{responses: map[string]string{
		"cls":   "business",
		"route": `["market", "financial"]`,
		"wrk":   "specialist output",
		"syn":   "combined answer",
	}}
	o := newTestOrchestrator(t, llm)
	ctx := context.Background()

	if _, err := o.Ask(ctx, "repeat with skip", Options{}); err != nil {
		t.Fatal(err)
	}
	resp, err := o.Ask(ctx, "repeat with skip", Options{SkipCache: true})
	if err != nil {
		t.Fatal(err)
	}
	if resp.CacheHit {
		t.Fatal("skip_cache must bypass the synthesis cache read")
	}
	if llm.callCount("syn") != 2 {
		t.Fatalf("expected a fresh synthesis call, got %d", llm.callCount("syn"))
	}
}

func TestSynthesisFailureDegradesToSections(t *testing.T) {
	llm := &scriptedLLM{
		responses: map[string]string{
			"cls":   "business",
			"route": `["market", "financial"]`,
			"wrk":   "specialist output",
		},
		errs: map[string]error{"syn": errors.New("llm down")},
	}
	o := newTestOrchestrator(t, llm)

	resp, err := o.Ask(context.Background(), "question needing two specialists", Options{})
	if err != nil {
		t.Fatalf("synthesis failure must not be fatal: %v", err)
	}
	if !strings.Contains(resp.ResultText, "specialist output") {
		t.Fatalf("sectioned output missing worker text: %q", resp.ResultText)
	}
}

func TestComplexQueryDegradesWithoutResearch(t *testing.T) {
	// Research is disabled in the test config; a complex query must still
	// run the full pipeline with an empty research context.
	llm := &scriptedLLM{responses: map[string]string{
		"route": `["market"]`,
		"wrk":   "market findings",
	}}
	o := newTestOrchestrator(t, llm)

	resp, err := o.Ask(context.Background(), "what does the research say about churn", Options{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if resp.Classification != "complex" {
		t.Fatalf("research markers should classify complex, got %s", resp.Classification)
	}
	if llm.callCount("cls") != 0 {
		t.Fatal("marker queries must not call the classifier model")
	}
	if resp.ResultText != "market findings" {
		t.Fatalf("got %q", resp.ResultText)
	}
	if len(resp.Citations) != 0 {
		t.Fatalf("no research ran, no citations expected: %v", resp.Citations)
	}
}

func TestClassifierFailureDefaultsToBusinessPipeline(t *testing.T) {
	llm := &scriptedLLM{
		responses: map[string]string{
			"route": `["general"]`,
			"wrk":   "general take",
		},
		errs: map[string]error{"cls": errors.New("classifier down")},
	}
	o := newTestOrchestrator(t, llm)

	resp, err := o.Ask(context.Background(), "anything", Options{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if resp.Classification != "business" {
		t.Fatalf("expected business default, got %s", resp.Classification)
	}
	if resp.ResultText != "general take" {
		t.Fatalf("got %q", resp.ResultText)
	}
}

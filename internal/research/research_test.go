package research

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/quorumbi/quorum/config"
	"github.com/quorumbi/quorum/internal/cache"
	"github.com/quorumbi/quorum/internal/research/sources"
	"github.com/quorumbi/quorum/provider"
)

type stubSource struct {
	name  string
	docs  []sources.Document
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Search(ctx context.Context, q string, k int) ([]sources.Document, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

type stubLLM struct {
	text string
	err  error
}

func (s *stubLLM) Name() string { return "stub" }

func (s *stubLLM) Complete(ctx context.Context, req provider.Request) (provider.Completion, error) {
	if s.err != nil {
		return provider.Completion{}, s.err
	}
	return provider.Completion{Text: s.text, Cost: 0.001}, nil
}

func testAugmentor(t *testing.T, primary, secondary sources.Client, llm provider.Provider) *Augmentor {
	t.Helper()
	cfg := config.CacheConfig{Enabled: true, File: config.FileCacheConfig{Dir: t.TempDir()}}.Normalize()
	c, err := cache.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	return &Augmentor{
		primary:   primary,
		secondary: secondary,
		llm:       llm,
		model:     "research",
		cache:     c,
		topK:      3,
		timeout:   time.Second,
		logger:    log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags),
	}
}

func doc(id, title string, year, citations int) sources.Document {
	return sources.Document{ID: id, Title: title, Abstract: title, Year: year, Citations: citations, Source: "test", URL: "https://example.org/" + id}
}

func TestAugmentFallsBackToSecondary(t *testing.T) {
	primary := &stubSource{name: "primary", err: errors.New("rate limited")}
	secondary := &stubSource{name: "secondary", docs: []sources.Document{doc("1", "pricing strategies in saas", 2024, 10)}}
	a := testAugmentor(t, primary, secondary, &stubLLM{text: "summary [1]"})

	rc, err := a.Augment(context.Background(), "saas pricing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secondary.calls != 1 {
		t.Fatal("secondary source was not consulted")
	}
	if rc.Summary != "summary [1]" || len(rc.Documents) != 1 {
		t.Fatalf("unexpected context: %+v", rc)
	}
}

func TestAugmentAllSourcesFail(t *testing.T) {
	primary := &stubSource{name: "primary", err: errors.New("down")}
	secondary := &stubSource{name: "secondary", err: errors.New("also down")}
	a := testAugmentor(t, primary, secondary, &stubLLM{text: "unused"})

	rc, err := a.Augment(context.Background(), "anything")
	if err == nil {
		t.Fatal("expected advisory error")
	}
	if !rc.Empty() {
		t.Fatalf("expected empty context, got %+v", rc)
	}
}

func TestAugmentSurvivesSynthesisFailure(t *testing.T) {
	primary := &stubSource{name: "primary", docs: []sources.Document{doc("1", "a study of funnels", 2023, 5)}}
	a := testAugmentor(t, primary, &stubSource{name: "secondary"}, &stubLLM{err: errors.New("llm down")})

	rc, err := a.Augment(context.Background(), "funnels")
	if err != nil {
		t.Fatalf("synthesis failure must be absorbed: %v", err)
	}
	if rc.Summary != "" {
		t.Fatalf("expected no summary, got %q", rc.Summary)
	}
	if len(rc.Documents) != 1 || len(rc.Citations) != 1 {
		t.Fatalf("documents must still ship: %+v", rc)
	}
}

func TestAugmentCacheHit(t *testing.T) {
	primary := &stubSource{name: "primary", docs: []sources.Document{doc("1", "retention economics", 2024, 50)}}
	a := testAugmentor(t, primary, &stubSource{name: "secondary"}, &stubLLM{text: "narrative [1]"})
	ctx := context.Background()

	first, err := a.Augment(ctx, "retention economics")
	if err != nil {
		t.Fatalf("first augment: %v", err)
	}
	if first.CacheHit {
		t.Fatal("first call cannot be a cache hit")
	}

	second, err := a.Augment(ctx, "retention economics")
	if err != nil {
		t.Fatalf("second augment: %v", err)
	}
	if !second.CacheHit {
		t.Fatal("second call should hit the reference cache")
	}
	if second.Cost != 0 {
		t.Fatalf("cached context must not re-bill, got %v", second.Cost)
	}
	if primary.calls != 1 {
		t.Fatalf("source should be queried once, got %d", primary.calls)
	}
}

func TestDedupe(t *testing.T) {
	docs := []sources.Document{
		doc("1", "Pricing Strategy for SaaS", 2024, 10),
		doc("2", "pricing   strategy for saas", 2020, 5), // same title, different spacing
		doc("3", "Something Else", 2022, 1),
		{ID: "4", Title: ""}, // untitled documents are dropped
	}
	out := dedupe(docs)
	if len(out) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(out))
	}
	if out[0].ID != "1" || out[1].ID != "3" {
		t.Fatalf("wrong survivors: %v, %v", out[0].ID, out[1].ID)
	}
}

func TestRankPrefersRelevantRecentCited(t *testing.T) {
	docs := []sources.Document{
		doc("old-uncited", "unrelated topic entirely", 1995, 0),
		doc("relevant", "customer churn prediction models", 2024, 120),
		doc("cited-only", "ancient but famous study of churn", 2000, 100),
	}
	rank(docs, "customer churn prediction")
	if docs[0].ID != "relevant" {
		t.Fatalf("expected the relevant recent cited doc first, got %s", docs[0].ID)
	}
	if docs[len(docs)-1].ID != "old-uncited" {
		t.Fatalf("expected the irrelevant doc last, got %s", docs[len(docs)-1].ID)
	}
}

func TestCitationsFormat(t *testing.T) {
	lines := citations([]sources.Document{doc("1", "A Title", 2021, 3)})
	if len(lines) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(lines))
	}
	want := "[1] A Title (2021). test. https://example.org/1"
	if lines[0] != want {
		t.Fatalf("got %q, want %q", lines[0], want)
	}
}

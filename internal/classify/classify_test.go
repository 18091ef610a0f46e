package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quorumbi/quorum/config"
	"github.com/quorumbi/quorum/provider"
)

type stubLLM struct {
	text  string
	err   error
	calls int
}

func (s *stubLLM) Name() string { return "stub" }

func (s *stubLLM) Complete(ctx context.Context, req provider.Request) (provider.Completion, error) {
	s.calls++
	if s.err != nil {
		return provider.Completion{}, s.err
	}
	return provider.Completion{Text: s.text, Provider: "stub", Model: req.Model}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		General: config.GeneralConfig{ClassifyTimeout: 5 * time.Second},
		LLM:     config.LLMConfig{Routing: config.LLMRoutingConfig{Classification: "cls"}},
	}
}

func TestResearchMarkersShortCircuit(t *testing.T) {
	llm := &stubLLM{text: "simple"}
	c := New(testConfig(), llm)

	queries := []string{
		"What does the research say about B2B pricing?",
		"Summarize the academic literature on churn",
		"Any peer-reviewed papers on funnels?",
	}
	for _, q := range queries {
		label, _ := c.Classify(context.Background(), q, nil)
		if label != Complex {
			t.Fatalf("query %q: expected complex, got %s", q, label)
		}
	}
	if llm.calls != 0 {
		t.Fatalf("marker queries must not hit the model, got %d calls", llm.calls)
	}
}

func TestClassifyUsesModelAnswer(t *testing.T) {
	for _, tc := range []struct {
		response string
		want     Label
	}{
		{"simple", Simple},
		{"SIMPLE", Simple},
		{"The query is complex.", Complex},
		{"business", Business},
		{"banana", Business}, // unrecognized defaults to the middle
		{"", Business},
	} {
		llm := &stubLLM{text: tc.response}
		c := New(testConfig(), llm)
		label, _ := c.Classify(context.Background(), "how do I do the thing", nil)
		if label != tc.want {
			t.Fatalf("response %q: expected %s, got %s", tc.response, tc.want, label)
		}
	}
}

func TestClassifyDefaultsToBusinessOnError(t *testing.T) {
	llm := &stubLLM{err: errors.New("provider down")}
	c := New(testConfig(), llm)

	label, comp := c.Classify(context.Background(), "how do I do the thing", nil)
	if label != Business {
		t.Fatalf("expected business on error, got %s", label)
	}
	if comp.Cost != 0 {
		t.Fatalf("failed call must not report cost, got %v", comp.Cost)
	}
}

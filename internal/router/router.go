package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/quorumbi/quorum/config"
	"github.com/quorumbi/quorum/provider"
)

// Method records which mechanism produced a routing decision.
type Method string

const (
	MethodML       Method = "ml"
	MethodSemantic Method = "semantic-fallback"
	MethodDefault  Method = "default"
)

// CatalogEntry describes one worker to the semantic fallback router.
type CatalogEntry struct {
	ID          string
	Description string
}

// Decision is the immutable outcome of routing one query.
type Decision struct {
	Selected   []string           `json:"selected"` // descending score order
	Scores     map[string]float64 `json:"scores"`
	Thresholds map[string]float64 `json:"thresholds"`
	Method     Method             `json:"method"`
}

// Router selects the worker subset for a query: ML first, semantic LLM
// fallback when the model is uncertain, fixed default worker as the last
// resort. It never returns an empty selection.
type Router struct {
	model         *Model // nil when no artifact is available
	thresholds    map[string]float64
	band          float64
	defaultWorker string
	catalog       []CatalogEntry
	llm           provider.Provider
	llmModel      string
	logger        *log.Logger
}

// New creates a router. A missing or unreadable model artifact is not fatal:
// routing degrades to the semantic fallback for every query.
func New(cfg *config.Config, llm provider.Provider, catalog []CatalogEntry) *Router {
	logger := log.New(log.Writer(), "[ROUTER] ", log.LstdFlags)
	var model *Model
	if cfg.Router.ModelPath != "" {
		m, err := LoadModel(cfg.Router.ModelPath)
		if err != nil {
			logger.Printf("model artifact unavailable (%v), using semantic routing", err)
		} else {
			model = m
		}
	}
	return &Router{
		model:         model,
		thresholds:    cfg.Router.Thresholds,
		band:          cfg.Router.UncertainBand,
		defaultWorker: cfg.Router.DefaultWorker,
		catalog:       catalog,
		llm:           llm,
		llmModel:      cfg.LLM.Routing.Routing,
		logger:        logger,
	}
}

// Route decides which workers handle the query. The returned Decision always
// has at least one selected worker.
func (r *Router) Route(ctx context.Context, query string) (Decision, provider.Completion) {
	var scores map[string]float64
	if r.model != nil {
		scores = r.model.Predict(query)
		selected := selectByThreshold(scores, r.thresholds)
		if len(selected) > 0 && !Escalate(scores, r.thresholds, r.band) {
			return Decision{
				Selected:   selected,
				Scores:     scores,
				Thresholds: r.thresholds,
				Method:     MethodML,
			}, provider.Completion{}
		}
		r.logger.Printf("model uncertain for query hash, escalating to semantic routing")
	}

	selected, comp, err := r.semanticRoute(ctx, query)
	if err == nil && len(selected) > 0 {
		return Decision{
			Selected:   selected,
			Scores:     scores,
			Thresholds: r.thresholds,
			Method:     MethodSemantic,
		}, comp
	}
	if err != nil {
		r.logger.Printf("semantic routing failed (%v), using default worker", err)
	}

	return Decision{
		Selected:   []string{r.defaultWorker},
		Scores:     scores,
		Thresholds: r.thresholds,
		Method:     MethodDefault,
	}, comp
}

// Escalate is the pure uncertainty rule: escalate when every score sits in the
// muddy middle, when the scores are indecisive without a confident leader, or
// when nothing clears its threshold.
func Escalate(scores, thresholds map[string]float64, band float64) bool {
	if len(scores) == 0 {
		return true
	}
	allInMiddle := true
	maxScore, minScore := -1.0, 2.0
	anyCleared := false
	for id, s := range scores {
		if s < 0.3 || s > 0.7 {
			allInMiddle = false
		}
		if s > maxScore {
			maxScore = s
		}
		if s < minScore {
			minScore = s
		}
		if s >= thresholds[id] {
			anyCleared = true
		}
	}
	indecisive := (maxScore-minScore) < band && maxScore < 0.7
	return allInMiddle || indecisive || !anyCleared
}

func selectByThreshold(scores, thresholds map[string]float64) []string {
	var selected []string
	for id, s := range scores {
		if s >= thresholds[id] {
			selected = append(selected, id)
		}
	}
	sort.Slice(selected, func(i, j int) bool {
		if scores[selected[i]] == scores[selected[j]] {
			return selected[i] < selected[j]
		}
		return scores[selected[i]] > scores[selected[j]]
	})
	return selected
}

// semanticRoute asks the LLM to pick workers from the catalog description.
func (r *Router) semanticRoute(ctx context.Context, query string) ([]string, provider.Completion, error) {
	var sb strings.Builder
	for _, entry := range r.catalog {
		fmt.Fprintf(&sb, "- %s: %s\n", entry.ID, entry.Description)
	}
	prompt := fmt.Sprintf(`Analyze the following query and determine which specialists should be consulted.

Available specialists:
%s
Query: %s

Respond with a JSON array of specialist names. For comprehensive decisions, include multiple relevant specialists.
Example: ["market", "financial"]

Only output the JSON array, nothing else.`, sb.String(), query)

	comp, err := r.llm.Complete(ctx, provider.Request{
		Model:       r.llmModel,
		Prompt:      prompt,
		Temperature: 0.0,
		MaxTokens:   64,
	})
	if err != nil {
		return nil, provider.Completion{}, err
	}

	ids, err := parseWorkerArray(comp.Text)
	if err != nil {
		return nil, comp, err
	}

	known := make(map[string]bool, len(r.catalog))
	for _, entry := range r.catalog {
		known[entry.ID] = true
	}
	var selected []string
	for _, id := range ids {
		if known[id] {
			selected = append(selected, id)
		}
	}
	if len(selected) == 0 {
		return nil, comp, fmt.Errorf("no known worker ids in response")
	}
	return selected, comp, nil
}

// parseWorkerArray extracts the first balanced JSON array from the response.
// Models wrap output in markdown fences often enough that plain Unmarshal on
// the raw text is not reliable.
func parseWorkerArray(response string) ([]string, error) {
	start := strings.Index(response, "[")
	if start == -1 {
		return nil, fmt.Errorf("no JSON array found in response")
	}
	depth := 0
	end := -1
	for i := start; i < len(response); i++ {
		switch response[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end != -1 {
			break
		}
	}
	if end == -1 {
		return nil, fmt.Errorf("unbalanced JSON array in response")
	}
	var ids []string
	if err := json.Unmarshal([]byte(response[start:end+1]), &ids); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	for i, id := range ids {
		ids[i] = strings.ToLower(strings.TrimSpace(id))
	}
	return ids, nil
}

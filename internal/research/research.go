package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/quorumbi/quorum/config"
	"github.com/quorumbi/quorum/internal/cache"
	"github.com/quorumbi/quorum/internal/research/sources"
	"github.com/quorumbi/quorum/provider"
)

// Context is the synthesized, citation-bearing research blob attached to
// complex queries.
type Context struct {
	Documents []sources.Document `json:"documents"`
	Summary   string             `json:"summary"`
	Citations []string           `json:"citations"`
	CacheHit  bool               `json:"cache_hit"`
	Cost      float64            `json:"cost"`
	Tokens    int64              `json:"tokens"`
}

// Empty reports whether the context carries no usable material.
func (c Context) Empty() bool {
	return c.Summary == "" && len(c.Documents) == 0
}

// Augmentor retrieves reference documents and condenses them into a context
// narrative. Every failure mode degrades: the orchestrator always gets a
// usable (possibly empty) context back alongside the advisory error.
type Augmentor struct {
	primary   sources.Client
	secondary sources.Client
	llm       provider.Provider
	model     string
	cache     *cache.Cache
	topK      int
	timeout   time.Duration
	logger    *log.Logger
}

// New creates the augmentor with Semantic Scholar as the primary source and
// arXiv as the secondary.
func New(cfg *config.Config, llm provider.Provider, c *cache.Cache) *Augmentor {
	return &Augmentor{
		primary:   &sources.SemanticScholar{ApiKey: cfg.Research.SemanticScholarKey},
		secondary: &sources.Arxiv{},
		llm:       llm,
		model:     cfg.LLM.Routing.Research,
		cache:     c,
		topK:      cfg.Research.TopK,
		timeout:   cfg.Research.SourceTimeout,
		logger:    log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags),
	}
}

// Augment builds the research context for a query. The returned error is
// advisory only; callers must treat it as "proceed without research".
func (a *Augmentor) Augment(ctx context.Context, query string) (Context, error) {
	key := a.cache.Key(cache.TierReference, query)
	if raw, ok := a.cache.Get(ctx, key); ok {
		var cached Context
		if err := json.Unmarshal(raw, &cached); err == nil {
			cached.CacheHit = true
			cached.Cost = 0
			cached.Tokens = 0
			return cached, nil
		}
	}

	docs, err := a.retrieve(ctx, query)
	if err != nil {
		return Context{}, err
	}
	if len(docs) == 0 {
		return Context{}, nil
	}

	docs = dedupe(docs)
	rank(docs, query)
	if len(docs) > a.topK {
		docs = docs[:a.topK]
	}

	var summary string
	var cost float64
	var tokens int64
	if comp, err := a.synthesize(ctx, query, docs); err != nil {
		// Retrieval worked; ship the raw documents without a narrative.
		a.logger.Printf("synthesis failed (%v), returning unsummarized documents", err)
	} else {
		summary = comp.Text
		cost = comp.Cost
		tokens = comp.InputTokens + comp.OutputTokens
	}

	result := Context{
		Documents: docs,
		Summary:   summary,
		Citations: citations(docs),
		Cost:      cost,
		Tokens:    tokens,
	}
	if data, err := json.Marshal(result); err == nil {
		a.cache.Set(ctx, cache.TierReference, key, data, 0)
	}
	return result, nil
}

// retrieve queries the primary source, falling back to the secondary on error.
func (a *Augmentor) retrieve(ctx context.Context, query string) ([]sources.Document, error) {
	// Over-fetch so dedupe and ranking have something to discard.
	fetch := a.topK * 2

	srcCtx, cancel := context.WithTimeout(ctx, a.timeout)
	docs, err := a.primary.Search(srcCtx, query, fetch)
	cancel()
	if err == nil {
		return docs, nil
	}
	a.logger.Printf("%s failed (%v), trying %s", a.primary.Name(), err, a.secondary.Name())

	srcCtx, cancel = context.WithTimeout(ctx, a.timeout)
	defer cancel()
	docs, err2 := a.secondary.Search(srcCtx, query, fetch)
	if err2 != nil {
		return nil, fmt.Errorf("all sources failed: %v: %w", err, err2)
	}
	return docs, nil
}

// dedupe removes documents that share a normalized title.
func dedupe(docs []sources.Document) []sources.Document {
	seen := make(map[string]bool, len(docs))
	out := docs[:0]
	for _, d := range docs {
		norm := strings.Join(strings.Fields(strings.ToLower(d.Title)), " ")
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, d)
	}
	return out
}

// rank scores documents by textual relevance (in-memory full-text match),
// citation count and recency, then sorts descending in place.
func rank(docs []sources.Document, query string) {
	relevance := relevanceScores(docs, query)

	maxCitations := 0
	for _, d := range docs {
		if d.Citations > maxCitations {
			maxCitations = d.Citations
		}
	}
	now := time.Now().Year()
	for i := range docs {
		cite := 0.0
		if maxCitations > 0 {
			cite = float64(docs[i].Citations) / float64(maxCitations)
		}
		recency := 0.0
		if docs[i].Year > 0 {
			age := now - docs[i].Year
			if age < 0 {
				age = 0
			}
			recency = 1.0 / (1.0 + float64(age))
		}
		docs[i].Score = 0.5*relevance[docs[i].ID] + 0.3*cite + 0.2*recency
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
}

// relevanceScores indexes title+abstract in a throwaway mem-only index and
// returns per-document match scores normalized to [0,1].
func relevanceScores(docs []sources.Document, query string) map[string]float64 {
	out := make(map[string]float64, len(docs))
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return out
	}
	defer index.Close()
	for _, d := range docs {
		_ = index.Index(d.ID, map[string]string{"title": d.Title, "abstract": d.Abstract})
	}
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = len(docs)
	res, err := index.Search(req)
	if err != nil || len(res.Hits) == 0 {
		return out
	}
	maxScore := res.Hits[0].Score
	if maxScore <= 0 {
		return out
	}
	for _, hit := range res.Hits {
		out[hit.ID] = hit.Score / maxScore
	}
	return out
}

// synthesize condenses the top documents into a narrative context.
func (a *Augmentor) synthesize(ctx context.Context, query string, docs []sources.Document) (provider.Completion, error) {
	var sb strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&sb, "[%d] %s (%d, %d citations)\n%s\n\n", i+1, d.Title, d.Year, d.Citations, d.Abstract)
	}
	return a.llm.Complete(ctx, provider.Request{
		Model:  a.model,
		System: "You condense reference documents into grounded context for business specialists. Cite documents by their bracketed number.",
		Prompt: fmt.Sprintf(`Query: %s

Reference documents:

%sSynthesize the findings relevant to the query into a concise narrative. Reference documents as [1], [2], etc. Note where findings conflict.`, query, sb.String()),
	})
}

func citations(docs []sources.Document) []string {
	out := make([]string, 0, len(docs))
	for i, d := range docs {
		year := ""
		if d.Year > 0 {
			year = fmt.Sprintf(" (%d)", d.Year)
		}
		out = append(out, fmt.Sprintf("[%d] %s%s. %s. %s", i+1, d.Title, year, d.Source, d.URL))
	}
	return out
}

package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// SemanticScholar is the primary reference-document source.
// https://api.semanticscholar.org/api-docs/graph
type SemanticScholar struct {
	ApiKey string
	Http   *http.Client
}

func (s *SemanticScholar) Name() string { return "semantic_scholar" }

func (s *SemanticScholar) Search(ctx context.Context, q string, k int) ([]Document, error) {
	endpoint := fmt.Sprintf(
		"https://api.semanticscholar.org/graph/v1/paper/search?query=%s&limit=%d&fields=title,abstract,year,citationCount,url",
		url.QueryEscape(q), k)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.ApiKey != "" {
		req.Header.Set("x-api-key", s.ApiKey)
	}
	client := s.Http
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("semantic scholar status %d", resp.StatusCode)
	}
	var raw struct {
		Data []struct {
			PaperID       string `json:"paperId"`
			Title         string `json:"title"`
			Abstract      string `json:"abstract"`
			Year          int    `json:"year"`
			CitationCount int    `json:"citationCount"`
			URL           string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	var out []Document
	for i, d := range raw.Data {
		if i >= k {
			break
		}
		out = append(out, Document{
			ID:        d.PaperID,
			Title:     d.Title,
			Abstract:  d.Abstract,
			URL:       d.URL,
			Year:      d.Year,
			Citations: d.CitationCount,
			Source:    s.Name(),
		})
	}
	return out, nil
}

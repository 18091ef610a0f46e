package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Arxiv is the secondary reference-document source, used when the primary
// errors or rate-limits. The arXiv API speaks Atom XML.
// https://info.arxiv.org/help/api
type Arxiv struct {
	Http *http.Client
}

func (a *Arxiv) Name() string { return "arxiv" }

func (a *Arxiv) Search(ctx context.Context, q string, k int) ([]Document, error) {
	endpoint := fmt.Sprintf(
		"http://export.arxiv.org/api/query?search_query=all:%s&start=0&max_results=%d",
		url.QueryEscape(q), k)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	client := a.Http
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv status %d", resp.StatusCode)
	}
	var feed struct {
		Entries []struct {
			ID        string `xml:"id"`
			Title     string `xml:"title"`
			Summary   string `xml:"summary"`
			Published string `xml:"published"`
		} `xml:"entry"`
	}
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, err
	}
	var out []Document
	for i, e := range feed.Entries {
		if i >= k {
			break
		}
		year := 0
		if t, err := time.Parse(time.RFC3339, e.Published); err == nil {
			year = t.Year()
		}
		out = append(out, Document{
			ID:       e.ID,
			Title:    strings.Join(strings.Fields(e.Title), " "),
			Abstract: strings.Join(strings.Fields(e.Summary), " "),
			URL:      e.ID, // arXiv entry ids are canonical URLs
			Year:     year,
			Source:   a.Name(),
		})
	}
	return out, nil
}

package sources

import "context"

// Document is one reference document returned by a source client.
type Document struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Abstract  string  `json:"abstract"`
	URL       string  `json:"url"`
	Year      int     `json:"year"`
	Citations int     `json:"citations"`
	Source    string  `json:"source"`
	Score     float64 `json:"score"`
}

// Client retrieves candidate reference documents for a query.
type Client interface {
	Name() string
	Search(ctx context.Context, query string, topK int) ([]Document, error)
}

package router

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
)

// Model is the routing classifier artifact: one bag-of-words logistic model
// per worker, trained offline. Read-only after load, safe for concurrent use.
type Model struct {
	workers map[string]workerModel
}

type workerModel struct {
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
}

// LoadModel reads the model artifact from disk.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model artifact: %w", err)
	}
	var raw struct {
		Workers map[string]workerModel `json:"workers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing model artifact: %w", err)
	}
	if len(raw.Workers) == 0 {
		return nil, fmt.Errorf("model artifact has no workers")
	}
	return &Model{workers: raw.Workers}, nil
}

// Predict scores the query against every worker, returning a probability per
// worker id.
func (m *Model) Predict(query string) map[string]float64 {
	tokens := tokenize(query)
	scores := make(map[string]float64, len(m.workers))
	for id, wm := range m.workers {
		z := wm.Bias
		for _, tok := range tokens {
			z += wm.Weights[tok]
		}
		scores[id] = sigmoid(z)
	}
	return scores
}

// Workers returns the worker ids the model knows about.
func (m *Model) Workers() []string {
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	return ids
}

func tokenize(query string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return ' '
	}, query)
	return strings.Fields(cleaned)
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

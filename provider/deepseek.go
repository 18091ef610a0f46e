package provider

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/quorumbi/quorum/config"
)

// deepSeek talks to the DeepSeek API, which speaks the OpenAI chat wire format.
type deepSeek struct {
	name    string
	config  config.LLMProvider
	client  *http.Client
	baseURL string
}

func newDeepSeek(name string, cfg config.LLMProvider) (*deepSeek, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("DEEPSEEK_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("DeepSeek API key not configured")
	}
	cfg.APIKey = apiKey
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.deepseek.com/v1"
	}
	return &deepSeek{
		name:    name,
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: baseURL,
	}, nil
}

func (p *deepSeek) Name() string { return p.name }

func (p *deepSeek) Complete(ctx context.Context, req Request) (Completion, error) {
	return chatComplete(ctx, p.client, p.name, p.baseURL, p.config, req)
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/quorumbi/quorum/config"
)

// openAI talks to the OpenAI chat-completions API.
type openAI struct {
	name    string
	config  config.LLMProvider
	client  *http.Client
	baseURL string
}

func newOpenAI(name string, cfg config.LLMProvider) (*openAI, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}
	cfg.APIKey = apiKey
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &openAI{
		name:    name,
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: baseURL,
	}, nil
}

func (p *openAI) Name() string { return p.name }

func (p *openAI) Complete(ctx context.Context, req Request) (Completion, error) {
	return chatComplete(ctx, p.client, p.name, p.baseURL, p.config, req)
}

// chatComplete implements the OpenAI-compatible chat wire format shared by
// the OpenAI and DeepSeek clients.
func chatComplete(ctx context.Context, client *http.Client, name, baseURL string, cfg config.LLMProvider, req Request) (Completion, error) {
	m, ok := cfg.Models[req.Model]
	if !ok {
		return Completion{}, &Error{Provider: name, Kind: KindBadResponse, Err: fmt.Errorf("model %s not configured", req.Model)}
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}

	temperature := m.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := m.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	msgs := make([]chatMsg, 0, 2)
	if req.System != "" {
		msgs = append(msgs, chatMsg{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMsg{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatReq{
		Model:       apiModel,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return Completion{}, fmt.Errorf("request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return Completion{}, &Error{Provider: name, Kind: KindTimeout, Err: err}
		}
		return Completion{}, &Error{Provider: name, Kind: KindServerError, Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Completion{}, &Error{Provider: name, Kind: KindRateLimit, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return Completion{}, &Error{Provider: name, Kind: KindServerError, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return Completion{}, &Error{Provider: name, Kind: KindBadResponse, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Completion{}, &Error{Provider: name, Kind: KindBadResponse, Err: fmt.Errorf("decode: %w", err)}
	}
	if len(out.Choices) == 0 {
		return Completion{}, &Error{Provider: name, Kind: KindBadResponse, Err: fmt.Errorf("no choices")}
	}

	in := int64(out.Usage.PromptTokens)
	outTok := int64(out.Usage.CompletionTokens)
	return Completion{
		Text:         out.Choices[0].Message.Content,
		Provider:     name,
		Model:        apiModel,
		InputTokens:  in,
		OutputTokens: outTok,
		Cost:         float64(in)/1000.0*m.CostPer1K + float64(outTok)/1000.0*m.CostPer1KOutput,
	}, nil
}

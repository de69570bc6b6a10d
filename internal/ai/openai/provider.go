package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/ai/transport"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// Provider implements models.AIProvider using the OpenAI chat completions API.
type Provider struct {
	cfg    config.OpenAIConfig
	client *transport.Client
}

func NewProvider(cfg config.OpenAIConfig, timeout time.Duration) *Provider {
	return &Provider{cfg: cfg, client: transport.NewClient(timeout)}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	res, err := ChatCompletion(ctx, p.client, p.cfg.BaseURL, p.cfg.APIKey, p.cfg.Model, req)
	if err != nil {
		return models.GenerationResult{}, fmt.Errorf("openai generate: %w", err)
	}
	return res, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// ChatCompletion calls an OpenAI-compatible /v1/chat/completions endpoint.
// An empty apiKey sends no Authorization header.
func ChatCompletion(ctx context.Context, client *transport.Client, baseURL, apiKey, model string, req models.GenerationRequest) (models.GenerationResult, error) {
	body := chatRequest{Model: model, MaxTokens: req.MaxTokens}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	var headers map[string]string
	if apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + apiKey}
	}

	var resp chatResponse
	url := strings.TrimRight(baseURL, "/") + "/v1/chat/completions"
	if err := client.PostJSON(ctx, url, headers, body, &resp); err != nil {
		return models.GenerationResult{}, err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return models.GenerationResult{}, fmt.Errorf("%w: no completion returned", transport.ErrInvalidResponse)
	}

	if resp.Model != "" {
		model = resp.Model
	}
	return models.GenerationResult{Text: resp.Choices[0].Message.Content, Model: model}, nil
}

var _ models.AIProvider = (*Provider)(nil)

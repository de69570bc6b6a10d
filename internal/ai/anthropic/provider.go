package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/ai/transport"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const (
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
)

// Provider implements models.AIProvider using the Anthropic Messages API.
type Provider struct {
	cfg    config.AnthropicConfig
	client *transport.Client
}

func NewProvider(cfg config.AnthropicConfig, timeout time.Duration) *Provider {
	return &Provider{cfg: cfg, client: transport.NewClient(timeout)}
}

func (p *Provider) Name() string { return "anthropic" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

func (p *Provider) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body := messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []message{{Role: "user", Content: req.Prompt}},
	}
	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": apiVersion,
	}

	var resp messagesResponse
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
	if err := p.client.PostJSON(ctx, url, headers, body, &resp); err != nil {
		return models.GenerationResult{}, fmt.Errorf("anthropic generate: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return models.GenerationResult{}, fmt.Errorf("anthropic generate: %w: no text content", transport.ErrInvalidResponse)
	}

	model := resp.Model
	if model == "" {
		model = p.cfg.Model
	}
	return models.GenerationResult{Text: text.String(), Model: model}, nil
}

var _ models.AIProvider = (*Provider)(nil)

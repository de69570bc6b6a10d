package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/ai/transport"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// Provider implements models.AIProvider using Ollama's generate endpoint.
type Provider struct {
	cfg    config.OllamaConfig
	client *transport.Client
}

func NewProvider(cfg config.OllamaConfig, timeout time.Duration) *Provider {
	return &Provider{cfg: cfg, client: transport.NewClient(timeout)}
}

func (p *Provider) Name() string { return "ollama" }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]int `json:"options,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (p *Provider) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	body := generateRequest{
		Model:  p.cfg.Model,
		Prompt: req.Prompt,
		System: req.System,
	}
	if req.MaxTokens > 0 {
		body.Options = map[string]int{"num_predict": req.MaxTokens}
	}

	var resp generateResponse
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/generate"
	if err := p.client.PostJSON(ctx, url, nil, body, &resp); err != nil {
		return models.GenerationResult{}, fmt.Errorf("ollama generate: %w", err)
	}
	if strings.TrimSpace(resp.Response) == "" {
		return models.GenerationResult{}, fmt.Errorf("ollama generate: %w: empty response", transport.ErrInvalidResponse)
	}

	model := resp.Model
	if model == "" {
		model = p.cfg.Model
	}
	return models.GenerationResult{Text: resp.Response, Model: model}, nil
}

var _ models.AIProvider = (*Provider)(nil)

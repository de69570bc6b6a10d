package vllm

import (
	"context"
	"fmt"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/ai/openai"
	"github.com/kiranshivaraju/genqueue/internal/ai/transport"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// Provider implements models.AIProvider against vLLM's OpenAI-compatible server.
type Provider struct {
	cfg    config.VLLMConfig
	client *transport.Client
}

func NewProvider(cfg config.VLLMConfig, timeout time.Duration) *Provider {
	return &Provider{cfg: cfg, client: transport.NewClient(timeout)}
}

func (p *Provider) Name() string { return "vllm" }

func (p *Provider) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	res, err := openai.ChatCompletion(ctx, p.client, p.cfg.BaseURL, "", p.cfg.Model, req)
	if err != nil {
		return models.GenerationResult{}, fmt.Errorf("vllm generate: %w", err)
	}
	return res, nil
}

var _ models.AIProvider = (*Provider)(nil)

package ai

import (
	"fmt"

	"github.com/kiranshivaraju/genqueue/internal/ai/anthropic"
	"github.com/kiranshivaraju/genqueue/internal/ai/mock"
	"github.com/kiranshivaraju/genqueue/internal/ai/ollama"
	"github.com/kiranshivaraju/genqueue/internal/ai/openai"
	"github.com/kiranshivaraju/genqueue/internal/ai/vllm"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at worker startup.
func NewProvider(cfg config.AIConfig) (models.AIProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewProvider(cfg.Ollama, cfg.InferenceTimeout), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM, cfg.InferenceTimeout), nil
	case "openai":
		return openai.NewProvider(cfg.OpenAI, cfg.InferenceTimeout), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic, cfg.InferenceTimeout), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of ollama, vllm, openai, anthropic, mock", cfg.Provider)
	}
}

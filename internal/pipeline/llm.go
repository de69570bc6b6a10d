package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/genqueue/internal/ai"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const defaultMaxTokens = 1024

var instructions = map[models.JobType]string{
	models.JobTypeResearchSite:          "Research the website below. Summarise its subject, audience and main topics.",
	models.JobTypeGenerateCategories:    "Propose content categories for the topic below. Answer with a JSON array of category names.",
	models.JobTypeGenerateSubcategories: "Propose subcategories for the category below. Answer with a JSON array of subcategory names.",
	models.JobTypeGenerateQuestions:     "Write frequently asked questions about the subject below. Answer with a JSON array of questions.",
	models.JobTypeGenerateDraft:         "Write a concise, accurate answer to the question below.",
	models.JobTypeFactCheck:             "Fact-check the statement below. Answer with JSON: {\"verdict\": ..., \"explanation\": ...}.",
}

const systemPrompt = "You are a content generation assistant. Follow the instruction exactly and answer only with the requested content."

// Record is the output stored for one processed item.
type Record struct {
	Item   string          `json:"item"`
	Model  string          `json:"model,omitempty"`
	Result json.RawMessage `json:"result"`
}

// LLMStage renders a per-type instruction and asks the provider for a completion.
type LLMStage struct {
	provider    models.AIProvider
	instruction string
	maxTokens   int
}

func NewLLMStage(provider models.AIProvider, t models.JobType) *LLMStage {
	return &LLMStage{provider: provider, instruction: instructions[t], maxTokens: defaultMaxTokens}
}

// NewLLMRegistry registers an LLMStage for every job type.
func NewLLMRegistry(provider models.AIProvider) (*Registry, error) {
	stages := make(map[models.JobType]Stage, len(models.JobTypes))
	for _, t := range models.JobTypes {
		stages[t] = NewLLMStage(provider, t)
	}
	return NewRegistry(stages)
}

func (s *LLMStage) Process(ctx context.Context, job *models.Job, item string) (json.RawMessage, error) {
	item = strings.TrimSpace(item)
	if item == "" {
		return nil, fmt.Errorf("%w: empty input item", ErrNonRetriable)
	}

	res, err := s.provider.Generate(ctx, models.GenerationRequest{
		System:    systemPrompt,
		Prompt:    s.instruction + "\n\n" + item,
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		if ai.Retriable(err) {
			return nil, fmt.Errorf("%s via %s: %w", job.Type, s.provider.Name(), err)
		}
		return nil, fmt.Errorf("%s via %s: %w: %w", job.Type, s.provider.Name(), ErrNonRetriable, err)
	}

	out, err := json.Marshal(Record{Item: item, Model: res.Model, Result: asJSON(res.Text)})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding result: %v", ErrNonRetriable, err)
	}
	return out, nil
}

// asJSON keeps structured completions as JSON and quotes plain text.
func asJSON(text string) json.RawMessage {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(strings.TrimSpace(text))
	return quoted
}

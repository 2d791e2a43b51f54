// Package llm adapts langchaingo providers to the analysis model interface.
package llm

import (
	"context"

	"github.com/Lllllllleong/documentanalysisflow/internal/config"
	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// SystemPrompt frames every analysis call.
const SystemPrompt = "You are a careful document analyst. Answer the user's request using only the content of the provided document. If the document does not contain the information requested, say so plainly."

// Model wraps a langchaingo LLM for text generation.
type Model struct {
	llm       llms.Model
	modelName string
}

// NewModel creates an LLM model based on configuration.
func NewModel(cfg *config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.AIProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, errors.Wrap(err, "create ollama model")
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, errors.Wrap(err, "create openai model")
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, errors.Wrap(err, "create anthropic model")
		}

	default:
		return nil, errors.Newf("unsupported LLM provider: %s", cfg.AIProvider)
	}

	return New(model, cfg.LLMModel), nil
}

// New wraps an existing langchaingo model.
func New(model llms.Model, name string) *Model {
	return &Model{llm: model, modelName: name}
}

// Name returns the LLM model name.
func (m *Model) Name() string {
	return m.modelName
}

// Generate sends the prompt with the analyst system prompt.
func (m *Model) Generate(ctx context.Context, prompt string) (*models.AIResponse, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return nil, errors.Wrap(err, "generate")
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("no response choices")
	}

	choice := response.Choices[0]
	return &models.AIResponse{
		Text:  choice.Content,
		Model: m.modelName,
		Usage: usageFrom(choice.GenerationInfo),
	}, nil
}

// usageFrom reads token counts from provider specific generation info.
func usageFrom(info map[string]any) models.TokenUsage {
	u := models.TokenUsage{
		PromptTokens:   intFrom(info, "PromptTokens", "InputTokens"),
		ResponseTokens: intFrom(info, "CompletionTokens", "OutputTokens"),
		TotalTokens:    intFrom(info, "TotalTokens"),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.ResponseTokens
	}
	return u
}

func intFrom(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

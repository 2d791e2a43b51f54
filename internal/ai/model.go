// Package ai dispatches prompts to an external model with per-call
// timeouts, bounded retries and an explicit policy for documents that do not
// fit the model's context.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/Lllllllleong/documentanalysisflow/internal/models"
)

// Model is a single-shot text generation backend. Implementations return raw
// provider errors; the Adapter classifies them.
type Model interface {
	Name() string
	Generate(ctx context.Context, prompt string) (*models.AIResponse, error)
}

// ModelFunc adapts a function to Model. Useful for testing.
type ModelFunc func(ctx context.Context, prompt string) (*models.AIResponse, error)

func (f ModelFunc) Name() string { return "func" }

func (f ModelFunc) Generate(ctx context.Context, prompt string) (*models.AIResponse, error) {
	return f(ctx, prompt)
}

// PreviewModel answers without calling any provider. It is the default when
// no provider is configured and returns a deterministic preview of the
// prompt so the rest of the flow can be exercised end to end.
type PreviewModel struct{}

func (PreviewModel) Name() string { return "preview-model" }

func (PreviewModel) Generate(ctx context.Context, prompt string) (*models.AIResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	preview := []rune(prompt)
	if len(preview) > 200 {
		preview = preview[:200]
	}
	words := len(strings.Fields(prompt))
	return &models.AIResponse{
		Text:  fmt.Sprintf("Preview analysis (no AI provider configured).\n\nPrompt preview: %s...", string(preview)),
		Model: "preview-model",
		Usage: models.TokenUsage{PromptTokens: words, TotalTokens: words},
	}, nil
}

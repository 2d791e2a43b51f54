package gcp

import (
	"context"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
)

// AnalystSystemPrompt frames every analysis call.
const AnalystSystemPrompt = "You are a careful document analyst. Answer the user's request using only the content of the provided document. If the document does not contain the information requested, say so plainly."

// VertexClient is a Gemini model on Vertex AI used for document analysis.
type VertexClient struct {
	AnalysisModel *genai.GenerativeModel
	modelName     string
	baseClient    *genai.Client
}

// NewVertexClient creates a client holding the configured analysis model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "vertex client needs a project ID and region")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create genai client")
	}

	analysisModel := baseClient.GenerativeModel(modelName)
	analysisModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(AnalystSystemPrompt)},
	}
	analysisModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.2),
	}
	analysisModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockOnlyHigh},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockOnlyHigh},
	}

	return &VertexClient{
		AnalysisModel: analysisModel,
		modelName:     modelName,
		baseClient:    baseClient,
	}, nil
}

// Name returns the Gemini model name.
func (c *VertexClient) Name() string { return c.modelName }

// BlockedError reports a response withheld by Vertex safety filters.
// Retrying the same prompt will not help.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "gemini response blocked: " + e.Reason
}

// Generate sends one prompt to Gemini and returns the text and token usage.
func (c *VertexClient) Generate(ctx context.Context, prompt string) (*models.AIResponse, error) {
	resp, err := c.AnalysisModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return nil, errors.Mark(&BlockedError{Reason: blocked.Error()}, errors.ErrFatalFailure)
		}
		return nil, errors.Wrap(err, "failed to generate content from gemini")
	}

	out := &models.AIResponse{
		Text:  extractText(resp),
		Model: c.modelName,
	}
	if resp.UsageMetadata != nil {
		out.Usage = models.TokenUsage{
			PromptTokens:   int(resp.UsageMetadata.PromptTokenCount),
			ResponseTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:    int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

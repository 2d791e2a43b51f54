package models

import "time"

// AnalysisRequest asks for one prompt to be run against a ready document.
// When both are set, Prompt takes precedence over the template text.
type AnalysisRequest struct {
	DocumentID       string `json:"document_id"`
	PromptTemplateID string `json:"prompt_template_id,omitempty"`
	Prompt           string `json:"prompt"`
}

// TokenUsage as reported by the model provider. Zero when unknown.
type TokenUsage struct {
	PromptTokens   int `firestore:"promptTokens" json:"prompt_tokens"`
	ResponseTokens int `firestore:"responseTokens" json:"response_tokens"`
	TotalTokens    int `firestore:"totalTokens" json:"total_tokens"`
}

// Add accumulates usage across chunk calls.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:   u.PromptTokens + o.PromptTokens,
		ResponseTokens: u.ResponseTokens + o.ResponseTokens,
		TotalTokens:    u.TotalTokens + o.TotalTokens,
	}
}

// AIResponse is what the adapter returns and what the cache stores.
type AIResponse struct {
	Text            string     `firestore:"text" json:"text"`
	Model           string     `firestore:"model" json:"model"`
	Usage           TokenUsage `firestore:"usage" json:"usage"`
	ChunksProcessed int        `firestore:"chunksProcessed" json:"chunks_processed"`
	Attempts        int        `firestore:"attempts" json:"attempts"`
}

// AnalysisResult is an immutable record of one analysis request.
type AnalysisResult struct {
	ID               string     `firestore:"-" json:"id"`
	DocumentID       string     `firestore:"documentId" json:"document_id"`
	PromptTemplateID string     `firestore:"promptTemplateId,omitempty" json:"prompt_template_id,omitempty"`
	FinalPrompt      string     `firestore:"finalPrompt" json:"final_prompt"`
	Response         string     `firestore:"response" json:"response"`
	Model            string     `firestore:"model,omitempty" json:"model,omitempty"`
	Usage            TokenUsage `firestore:"usage" json:"usage"`
	ExecutionTimeMs  int64      `firestore:"executionTimeMs" json:"execution_time_ms"`
	Cached           bool       `firestore:"cached" json:"cached"`
	Error            string     `firestore:"error,omitempty" json:"error,omitempty"`
	ErrorCategory    string     `firestore:"errorCategory,omitempty" json:"error_category,omitempty"`
	CreatedAt        time.Time  `firestore:"createdAt" json:"created_at"`
}

// Failed reports whether the AI call behind this result failed.
func (r *AnalysisResult) Failed() bool {
	return r.Error != ""
}

package models

// These structs define the JSON payloads for HTTP requests and responses
// of the analysis API and the serverless entry points.

// UploadResponse is returned after a file is accepted for processing.
type UploadResponse struct {
	FileID   string         `json:"file_id"`
	Filename string         `json:"filename"`
	FileSize int64          `json:"file_size"`
	Status   DocumentStatus `json:"status"`
	Message  string         `json:"message"`
}

// AnalyzeResponse is the output of the analyze endpoint.
type AnalyzeResponse struct {
	AnalysisID      string `json:"id"`
	Response        string `json:"response"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	TokensUsed      int    `json:"tokens_used,omitempty"`
	Cached          bool   `json:"cached"`
	Error           string `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Detail   string `json:"detail"`
	Category string `json:"category,omitempty"`
	Hint     string `json:"hint,omitempty"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// TemplateInput is the body for creating or updating a prompt template.
// Nil pointer fields are left untouched on update.
type TemplateInput struct {
	Name          *string            `json:"name"`
	Description   *string            `json:"description"`
	PromptText    *string            `json:"prompt_text"`
	Category      *string            `json:"category"`
	Variables     []TemplateVariable `json:"variables"`
	ExampleOutput *string            `json:"example_output"`
	IsPublic      *bool              `json:"is_public"`
}

// ReadyEvent is the workflow argument sent when a document becomes ready.
type ReadyEvent struct {
	DocumentID string `json:"documentId"`
	TextLength int    `json:"textLength"`
	ChunkCount int    `json:"chunkCount"`
	Language   string `json:"language,omitempty"`
}

// GCSEvent is the data of a storage object finalize CloudEvent.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        string `json:"size"`
}

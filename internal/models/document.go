package models

import "time"

// DocumentStatus is the pipeline state of a document.
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusExtracting DocumentStatus = "extracting"
	StatusPreparing  DocumentStatus = "preparing"
	StatusReady      DocumentStatus = "ready"
	StatusError      DocumentStatus = "error"
)

// Terminal reports whether no further transition can follow this status.
func (s DocumentStatus) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// Stage labels and progress checkpoints written by the pipeline.
const (
	StageUploaded   = "File uploaded"
	StageExtracting = "Extracting text from document"
	StagePreparing  = "Preparing for analysis"
	StageReady      = "Ready for AI analysis"

	ProgressUploaded   = 0
	ProgressExtracting = 20
	ProgressPreparing  = 60
	ProgressReady      = 100
)

// Document is the persisted record of an uploaded file and its pipeline state.
// It is mutated only by the pipeline executor.
type Document struct {
	ID           string         `firestore:"-" json:"id"`
	Filename     string         `firestore:"filename" json:"filename"`
	FileSize     int64          `firestore:"fileSize" json:"file_size"`
	MimeType     string         `firestore:"mimeType,omitempty" json:"mime_type,omitempty"`
	BlobPath     string         `firestore:"blobPath,omitempty" json:"-"`
	UploadTime   time.Time      `firestore:"uploadTime" json:"upload_time"`
	Status       DocumentStatus `firestore:"status" json:"status"`
	CurrentStage string         `firestore:"currentStage" json:"current_stage"`
	Progress     int            `firestore:"progress" json:"progress"`
	// ExtractedText is nil until extraction completes.
	ExtractedText *string `firestore:"extractedText,omitempty" json:"extracted_text,omitempty"`
	TextLength    int     `firestore:"textLength" json:"text_length"`
	Language      *string `firestore:"language,omitempty" json:"language,omitempty"`
	Chunks        []Chunk `firestore:"chunks,omitempty" json:"-"`
	ErrorDetails  string  `firestore:"errorDetails,omitempty" json:"error_details,omitempty"`
	// WorkflowExecutionID is set when the ready hook started a workflow.
	WorkflowExecutionID string `firestore:"workflowExecutionId,omitempty" json:"workflow_execution_id,omitempty"`
}

// Text returns the extracted text or "" when extraction has not happened.
func (d *Document) Text() string {
	if d.ExtractedText == nil {
		return ""
	}
	return *d.ExtractedText
}

// Chunk is a contiguous slice of the extracted text, in rune offsets.
// OverlapPrev runes at the head of Text repeat the tail of the previous chunk.
// Text is not persisted; stores rebuild it from the document's text.
type Chunk struct {
	Index       int    `firestore:"index" json:"index"`
	Start       int    `firestore:"start" json:"start"`
	End         int    `firestore:"end" json:"end"`
	OverlapPrev int    `firestore:"overlapPrev" json:"overlap_prev"`
	Text        string `firestore:"-" json:"text,omitempty"`
}

// ChunkOffsets returns a copy of chunks with Text cleared.
func ChunkOffsets(chunks []Chunk) []Chunk {
	if chunks == nil {
		return nil
	}
	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		c.Text = ""
		out[i] = c
	}
	return out
}

// FillChunkText sets each chunk's Text to runes [Start, End) of the
// extracted text. Offsets outside the text are clamped.
func (d *Document) FillChunkText() {
	if d.ExtractedText == nil || len(d.Chunks) == 0 {
		return
	}
	runes := []rune(*d.ExtractedText)
	for i := range d.Chunks {
		c := &d.Chunks[i]
		start := min(max(c.Start, 0), len(runes))
		end := min(max(c.End, start), len(runes))
		c.Text = string(runes[start:end])
	}
}

// ProgressEvent is one stage transition, streamed to listeners only.
type ProgressEvent struct {
	DocumentID string         `json:"documentId"`
	Stage      string         `json:"stage"`
	Progress   int            `json:"progress"`
	Status     DocumentStatus `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Terminal reports whether the event ends the document's stream.
func (e ProgressEvent) Terminal() bool {
	return e.Status.Terminal()
}

// DocumentUpdate is one atomic write of pipeline state. Nil payload fields
// are left untouched.
type DocumentUpdate struct {
	Status        DocumentStatus
	Stage         string
	Progress      int
	ExtractedText *string
	Language      *string
	Chunks        []Chunk
	ErrorDetails  string
}

// Apply copies the update onto a document.
func (u DocumentUpdate) Apply(d *Document) {
	d.Status = u.Status
	d.CurrentStage = u.Stage
	d.Progress = u.Progress
	if u.ExtractedText != nil {
		text := *u.ExtractedText
		d.ExtractedText = &text
		d.TextLength = len([]rune(text))
	}
	if u.Language != nil {
		lang := *u.Language
		d.Language = &lang
	}
	if u.Chunks != nil {
		d.Chunks = u.Chunks
	}
	if u.ErrorDetails != "" {
		d.ErrorDetails = u.ErrorDetails
	}
}

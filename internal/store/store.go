// Package store persists documents, prompt templates and analysis results.
// Missing records are reported as errors.ErrNotFound.
package store

import (
	"context"

	"github.com/Lllllllleong/documentanalysisflow/internal/models"
)

// Collection names shared by the Firestore implementation and tooling.
const (
	DocumentsCollection = "documents"
	TemplatesCollection = "prompt_templates"
	AnalysesCollection  = "ai_analyses"
)

// DefaultListLimit caps list queries when the caller passes zero.
const DefaultListLimit = 100

// DocumentStore holds document records. UpdateDocument applies one
// pipeline transition as a single atomic write.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, limit int) ([]*models.Document, error)
	UpdateDocument(ctx context.Context, id string, update models.DocumentUpdate) error
	SetWorkflowExecution(ctx context.Context, id, executionID string) error
	DeleteDocument(ctx context.Context, id string) error
}

// AnalysisStore holds immutable analysis results.
type AnalysisStore interface {
	SaveAnalysis(ctx context.Context, result *models.AnalysisResult) error
	GetAnalysis(ctx context.Context, id string) (*models.AnalysisResult, error)
	ListAnalyses(ctx context.Context, documentID string, limit int) ([]*models.AnalysisResult, error)
}

// TemplateStore holds prompt templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, tpl *models.PromptTemplate) error
	GetTemplate(ctx context.Context, id string) (*models.PromptTemplate, error)
	ListTemplates(ctx context.Context, category string, limit int) ([]*models.PromptTemplate, error)
	UpdateTemplate(ctx context.Context, id string, in models.TemplateInput) (*models.PromptTemplate, error)
	DeleteTemplate(ctx context.Context, id string) error
	IncrementTemplateUsage(ctx context.Context, id string) error
	// SeedDefaults creates the built-in templates when the store has none
	// and returns how many were created.
	SeedDefaults(ctx context.Context) (int, error)
}

// Store is the full persistence surface.
type Store interface {
	DocumentStore
	AnalysisStore
	TemplateStore
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// applyTemplateInput copies the set fields of in onto tpl.
func applyTemplateInput(tpl *models.PromptTemplate, in models.TemplateInput) {
	if in.Name != nil {
		tpl.Name = *in.Name
	}
	if in.Description != nil {
		tpl.Description = *in.Description
	}
	if in.PromptText != nil {
		tpl.PromptText = *in.PromptText
	}
	if in.Category != nil {
		tpl.Category = *in.Category
	}
	if in.Variables != nil {
		tpl.Variables = in.Variables
	}
	if in.ExampleOutput != nil {
		tpl.ExampleOutput = *in.ExampleOutput
	}
	if in.IsPublic != nil {
		tpl.IsPublic = *in.IsPublic
	}
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/google/uuid"
)

// Memory is an in-process Store for local runs and tests. Records are copied
// on the way in and out so callers never share state with the store.
type Memory struct {
	mu        sync.RWMutex
	documents map[string]models.Document
	analyses  map[string]models.AnalysisResult
	templates map[string]models.PromptTemplate
	timeNow   func() time.Time
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		documents: make(map[string]models.Document),
		analyses:  make(map[string]models.AnalysisResult),
		templates: make(map[string]models.PromptTemplate),
		timeNow:   time.Now,
	}
}

func copyDocument(d models.Document) *models.Document {
	if d.ExtractedText != nil {
		text := *d.ExtractedText
		d.ExtractedText = &text
	}
	if d.Language != nil {
		lang := *d.Language
		d.Language = &lang
	}
	if d.Chunks != nil {
		d.Chunks = append([]models.Chunk(nil), d.Chunks...)
	}
	return &d
}

// storedDocument copies d the way it is kept, with chunks as offsets only.
func storedDocument(d models.Document) models.Document {
	out := copyDocument(d)
	out.Chunks = models.ChunkOffsets(out.Chunks)
	return *out
}

// loadedDocument copies a kept record and rebuilds its chunk text.
func loadedDocument(d models.Document) *models.Document {
	out := copyDocument(d)
	out.FillChunkText()
	return out
}

func (m *Memory) CreateDocument(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, exists := m.documents[doc.ID]; exists {
		return errors.Newf("document %s already exists", doc.ID)
	}
	if doc.UploadTime.IsZero() {
		doc.UploadTime = m.timeNow()
	}
	m.documents[doc.ID] = storedDocument(*doc)
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "document %s", id)
	}
	return loadedDocument(d), nil
}

func (m *Memory) ListDocuments(_ context.Context, limit int) ([]*models.Document, error) {
	m.mu.RLock()
	out := make([]*models.Document, 0, len(m.documents))
	for _, d := range m.documents {
		out = append(out, loadedDocument(d))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UploadTime.After(out[j].UploadTime) })
	if limit = limitOrDefault(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateDocument(_ context.Context, id string, update models.DocumentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "document %s", id)
	}
	update.Apply(&d)
	m.documents[id] = storedDocument(d)
	return nil
}

func (m *Memory) SetWorkflowExecution(_ context.Context, id, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "document %s", id)
	}
	d.WorkflowExecutionID = executionID
	m.documents[id] = d
	return nil
}

func (m *Memory) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return errors.Wrapf(errors.ErrNotFound, "document %s", id)
	}
	delete(m.documents, id)
	return nil
}

func (m *Memory) SaveAnalysis(_ context.Context, result *models.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if _, exists := m.analyses[result.ID]; exists {
		return errors.Newf("analysis %s already exists", result.ID)
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = m.timeNow()
	}
	m.analyses[result.ID] = *result
	return nil
}

func (m *Memory) GetAnalysis(_ context.Context, id string) (*models.AnalysisResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.analyses[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "analysis %s", id)
	}
	return &a, nil
}

func (m *Memory) ListAnalyses(_ context.Context, documentID string, limit int) ([]*models.AnalysisResult, error) {
	m.mu.RLock()
	out := make([]*models.AnalysisResult, 0)
	for _, a := range m.analyses {
		if documentID != "" && a.DocumentID != documentID {
			continue
		}
		a := a
		out = append(out, &a)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = limitOrDefault(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateTemplate(_ context.Context, tpl *models.PromptTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createTemplateLocked(tpl)
	return nil
}

func (m *Memory) createTemplateLocked(tpl *models.PromptTemplate) {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = m.timeNow()
	}
	m.templates[tpl.ID] = *tpl
}

func (m *Memory) GetTemplate(_ context.Context, id string) (*models.PromptTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "prompt template %s", id)
	}
	return &t, nil
}

func (m *Memory) ListTemplates(_ context.Context, category string, limit int) ([]*models.PromptTemplate, error) {
	m.mu.RLock()
	out := make([]*models.PromptTemplate, 0)
	for _, t := range m.templates {
		if !t.IsPublic || (category != "" && t.Category != category) {
			continue
		}
		t := t
		out = append(out, &t)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = limitOrDefault(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateTemplate(_ context.Context, id string, in models.TemplateInput) (*models.PromptTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "prompt template %s", id)
	}
	applyTemplateInput(&t, in)
	m.templates[id] = t
	return &t, nil
}

func (m *Memory) DeleteTemplate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[id]; !ok {
		return errors.Wrapf(errors.ErrNotFound, "prompt template %s", id)
	}
	delete(m.templates, id)
	return nil
}

func (m *Memory) IncrementTemplateUsage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "prompt template %s", id)
	}
	t.UsageCount++
	m.templates[id] = t
	return nil
}

func (m *Memory) SeedDefaults(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.templates) > 0 {
		return 0, nil
	}
	defaults := models.DefaultTemplates()
	for i := range defaults {
		m.createTemplateLocked(&defaults[i])
	}
	return len(defaults), nil
}

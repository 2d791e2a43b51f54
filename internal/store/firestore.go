package store

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxDocumentTextBytes keeps a document record with its text under
// Firestore's 1 MiB document limit.
const maxDocumentTextBytes = 900 << 10

// Firestore is a Store backed by three Firestore collections.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore creates a store over an existing client.
func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

func (f *Firestore) documents() *firestore.CollectionRef {
	return f.client.Collection(DocumentsCollection)
}

func (f *Firestore) analyses() *firestore.CollectionRef {
	return f.client.Collection(AnalysesCollection)
}

func (f *Firestore) templates() *firestore.CollectionRef {
	return f.client.Collection(TemplatesCollection)
}

// notFound maps a Firestore NotFound status to errors.ErrNotFound.
func notFound(err error, kind, id string) error {
	if status.Code(err) == codes.NotFound {
		return errors.Wrapf(errors.ErrNotFound, "%s %s", kind, id)
	}
	return errors.Wrapf(err, "%s %s", kind, id)
}

func (f *Firestore) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UploadTime.IsZero() {
		doc.UploadTime = time.Now().UTC()
	}
	if _, err := f.documents().Doc(doc.ID).Create(ctx, doc); err != nil {
		return errors.Wrap(err, "failed to create document record")
	}
	return nil
}

func (f *Firestore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	snap, err := f.documents().Doc(id).Get(ctx)
	if err != nil {
		return nil, notFound(err, "document", id)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, errors.Wrapf(err, "failed to decode document %s", id)
	}
	doc.ID = snap.Ref.ID
	doc.FillChunkText()
	return &doc, nil
}

func (f *Firestore) ListDocuments(ctx context.Context, limit int) ([]*models.Document, error) {
	iter := f.documents().OrderBy("uploadTime", firestore.Desc).Limit(limitOrDefault(limit)).Documents(ctx)
	defer iter.Stop()

	var out []*models.Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to list documents")
		}
		var doc models.Document
		if err := snap.DataTo(&doc); err != nil {
			return nil, errors.Wrapf(err, "failed to decode document %s", snap.Ref.ID)
		}
		doc.ID = snap.Ref.ID
		doc.FillChunkText()
		out = append(out, &doc)
	}
	return out, nil
}

// UpdateDocument writes all fields of one transition in a single Update,
// which Firestore applies atomically.
func (f *Firestore) UpdateDocument(ctx context.Context, id string, update models.DocumentUpdate) error {
	updates, err := documentUpdates(update)
	if err != nil {
		return errors.Wrapf(err, "document %s", id)
	}
	if _, err := f.documents().Doc(id).Update(ctx, updates); err != nil {
		return notFound(err, "document", id)
	}
	return nil
}

// documentUpdates lists the field writes of one transition. Chunks are
// written as offsets into extractedText so the text is stored once.
func documentUpdates(update models.DocumentUpdate) ([]firestore.Update, error) {
	updates := []firestore.Update{
		{Path: "status", Value: update.Status},
		{Path: "currentStage", Value: update.Stage},
		{Path: "progress", Value: update.Progress},
	}
	if update.ExtractedText != nil {
		text := *update.ExtractedText
		if len(text) > maxDocumentTextBytes {
			return nil, errors.WithHint(
				errors.Newf("extracted text is %d bytes, above the %d byte record limit", len(text), maxDocumentTextBytes),
				"use the memory store or upload a smaller document")
		}
		updates = append(updates,
			firestore.Update{Path: "extractedText", Value: text},
			firestore.Update{Path: "textLength", Value: len([]rune(text))},
		)
	}
	if update.Language != nil {
		updates = append(updates, firestore.Update{Path: "language", Value: *update.Language})
	}
	if update.Chunks != nil {
		updates = append(updates, firestore.Update{Path: "chunks", Value: models.ChunkOffsets(update.Chunks)})
	}
	if update.ErrorDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: update.ErrorDetails})
	}
	return updates, nil
}

func (f *Firestore) SetWorkflowExecution(ctx context.Context, id, executionID string) error {
	_, err := f.documents().Doc(id).Update(ctx, []firestore.Update{
		{Path: "workflowExecutionId", Value: executionID},
	})
	if err != nil {
		return notFound(err, "document", id)
	}
	return nil
}

func (f *Firestore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := f.documents().Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return notFound(err, "document", id)
	}
	return nil
}

func (f *Firestore) SaveAnalysis(ctx context.Context, result *models.AnalysisResult) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	if _, err := f.analyses().Doc(result.ID).Create(ctx, result); err != nil {
		return errors.Wrap(err, "failed to save analysis")
	}
	return nil
}

func (f *Firestore) GetAnalysis(ctx context.Context, id string) (*models.AnalysisResult, error) {
	snap, err := f.analyses().Doc(id).Get(ctx)
	if err != nil {
		return nil, notFound(err, "analysis", id)
	}
	var a models.AnalysisResult
	if err := snap.DataTo(&a); err != nil {
		return nil, errors.Wrapf(err, "failed to decode analysis %s", id)
	}
	a.ID = snap.Ref.ID
	return &a, nil
}

func (f *Firestore) ListAnalyses(ctx context.Context, documentID string, limit int) ([]*models.AnalysisResult, error) {
	q := f.analyses().Query
	if documentID != "" {
		q = q.Where("documentId", "==", documentID)
	}
	iter := q.OrderBy("createdAt", firestore.Desc).Limit(limitOrDefault(limit)).Documents(ctx)
	defer iter.Stop()

	var out []*models.AnalysisResult
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to list analyses")
		}
		var a models.AnalysisResult
		if err := snap.DataTo(&a); err != nil {
			return nil, errors.Wrapf(err, "failed to decode analysis %s", snap.Ref.ID)
		}
		a.ID = snap.Ref.ID
		out = append(out, &a)
	}
	return out, nil
}

func (f *Firestore) CreateTemplate(ctx context.Context, tpl *models.PromptTemplate) error {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	if _, err := f.templates().Doc(tpl.ID).Create(ctx, tpl); err != nil {
		return errors.Wrap(err, "failed to create prompt template")
	}
	return nil
}

func (f *Firestore) GetTemplate(ctx context.Context, id string) (*models.PromptTemplate, error) {
	snap, err := f.templates().Doc(id).Get(ctx)
	if err != nil {
		return nil, notFound(err, "prompt template", id)
	}
	return decodeTemplate(snap)
}

func decodeTemplate(snap *firestore.DocumentSnapshot) (*models.PromptTemplate, error) {
	var tpl models.PromptTemplate
	if err := snap.DataTo(&tpl); err != nil {
		return nil, errors.Wrapf(err, "failed to decode prompt template %s", snap.Ref.ID)
	}
	tpl.ID = snap.Ref.ID
	return &tpl, nil
}

func (f *Firestore) ListTemplates(ctx context.Context, category string, limit int) ([]*models.PromptTemplate, error) {
	q := f.templates().Where("isPublic", "==", true)
	if category != "" {
		q = q.Where("category", "==", category)
	}
	iter := q.OrderBy("createdAt", firestore.Desc).Limit(limitOrDefault(limit)).Documents(ctx)
	defer iter.Stop()

	var out []*models.PromptTemplate
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to list prompt templates")
		}
		tpl, err := decodeTemplate(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, nil
}

func (f *Firestore) UpdateTemplate(ctx context.Context, id string, in models.TemplateInput) (*models.PromptTemplate, error) {
	ref := f.templates().Doc(id)
	var updated *models.PromptTemplate
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		tpl, err := decodeTemplate(snap)
		if err != nil {
			return err
		}
		applyTemplateInput(tpl, in)
		updated = tpl
		return tx.Set(ref, tpl)
	})
	if err != nil {
		return nil, notFound(err, "prompt template", id)
	}
	return updated, nil
}

func (f *Firestore) DeleteTemplate(ctx context.Context, id string) error {
	if _, err := f.templates().Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return notFound(err, "prompt template", id)
	}
	return nil
}

func (f *Firestore) IncrementTemplateUsage(ctx context.Context, id string) error {
	_, err := f.templates().Doc(id).Update(ctx, []firestore.Update{
		{Path: "usageCount", Value: firestore.Increment(1)},
	})
	if err != nil {
		return notFound(err, "prompt template", id)
	}
	return nil
}

// SeedDefaults checks for existing templates and creates the defaults in
// one transaction, so concurrent callers seed at most once.
func (f *Firestore) SeedDefaults(ctx context.Context) (int, error) {
	created := 0
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = 0
		existing, err := tx.Documents(f.templates().Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		now := time.Now().UTC()
		for _, tpl := range models.DefaultTemplates() {
			tpl.CreatedAt = now
			if err := tx.Create(f.templates().Doc(uuid.NewString()), tpl); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to seed default templates")
	}
	return created, nil
}

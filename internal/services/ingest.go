package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/extract"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/Lllllllleong/documentanalysisflow/internal/progress"
	"github.com/Lllllllleong/documentanalysisflow/internal/store"
	"github.com/google/uuid"
)

// BlobStore keeps the raw uploaded files. gcp.BucketStore and gcp.DirStore
// implement it.
type BlobStore interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}

// Runner schedules document pipelines. *pipeline.Executor implements it.
type Runner interface {
	Submit(ctx context.Context, documentID string, raw []byte, mimeType string) (<-chan models.DocumentStatus, error)
	Process(ctx context.Context, documentID string, raw []byte, mimeType string) (models.DocumentStatus, error)
	Active(documentID string) bool
}

// Progress is the part of *progress.Broadcaster uploads use.
type Progress interface {
	Register(documentID string)
	Subscribe(documentID string) *progress.Subscription
	Forget(documentID string)
}

// IngestConfig holds upload validation settings.
type IngestConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
}

// Ingest accepts uploads, stores them and starts their pipeline run.
type Ingest struct {
	docs   store.DocumentStore
	blobs  BlobStore
	runner Runner
	events Progress
	config IngestConfig
	logger *slog.Logger
}

// NewIngest creates an Ingest service.
func NewIngest(docs store.DocumentStore, blobs BlobStore, runner Runner, events Progress, cfg IngestConfig, logger *slog.Logger) *Ingest {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingest{docs: docs, blobs: blobs, runner: runner, events: events, config: cfg, logger: logger}
}

// Validate checks an upload's name and size against the configured limits.
func (s *Ingest) Validate(filename string, size int64) error {
	ext := strings.ToLower(path.Ext(filename))
	if len(s.config.AllowedExtensions) > 0 && !slices.Contains(s.config.AllowedExtensions, ext) {
		err := errors.Mark(errors.Newf("file type %q not allowed", ext), errors.ErrInvalidRequest)
		return errors.WithHintf(err, "allowed types: %s", strings.Join(s.config.AllowedExtensions, ", "))
	}
	if size == 0 {
		return errors.Mark(errors.New("file is empty"), errors.ErrInvalidRequest)
	}
	if s.config.MaxFileSize > 0 && size > s.config.MaxFileSize {
		err := errors.Mark(errors.Newf("file too large: %d bytes", size), errors.ErrInvalidRequest)
		return errors.WithHintf(err, "maximum size is %d bytes", s.config.MaxFileSize)
	}
	return nil
}

// Upload validates and stores a file, creates its document record and
// schedules the pipeline. It returns as soon as the run is scheduled.
func (s *Ingest) Upload(ctx context.Context, filename string, data []byte) (*models.Document, error) {
	return s.upload(ctx, filename, data, nil)
}

// UploadAndWatch is Upload with a subscription to the run's progress. The
// subscription is taken before the run is scheduled, so it sees every
// event of the run. The caller closes it.
func (s *Ingest) UploadAndWatch(ctx context.Context, filename string, data []byte) (*models.Document, *progress.Subscription, error) {
	var sub *progress.Subscription
	doc, err := s.upload(ctx, filename, data, func(id string) {
		s.events.Register(id)
		sub = s.events.Subscribe(id)
	})
	if err != nil {
		if sub != nil {
			sub.Close()
			s.events.Forget(sub.DocumentID())
		}
		return nil, nil, err
	}
	return doc, sub, nil
}

// upload calls beforeSubmit, when set, once the record exists and before
// the run is scheduled.
func (s *Ingest) upload(ctx context.Context, filename string, data []byte, beforeSubmit func(id string)) (*models.Document, error) {
	if err := s.Validate(filename, int64(len(data))); err != nil {
		return nil, err
	}

	doc := s.newDocument(uuid.NewString(), filename, int64(len(data)))
	logCtx := s.logger.With("documentId", doc.ID)
	logCtx.Info("Accepted upload.", "filename", filename, "bytes", len(data))

	if err := s.blobs.Put(ctx, doc.BlobPath, data); err != nil {
		return nil, errors.Wrap(err, "failed to store upload")
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		s.cleanupBlob(ctx, logCtx, doc.BlobPath)
		return nil, err
	}
	if beforeSubmit != nil {
		beforeSubmit(doc.ID)
	}
	if _, err := s.runner.Submit(ctx, doc.ID, data, doc.MimeType); err != nil {
		return nil, s.handleError(ctx, logCtx, doc.ID, "failed to schedule pipeline", err)
	}
	return doc, nil
}

// IngestObject processes a file that was written to the upload bucket by
// another client. The object name without extension becomes the document
// id, so a redelivered event reuses the same record. It blocks until the
// pipeline finishes.
func (s *Ingest) IngestObject(ctx context.Context, ev models.GCSEvent) (models.DocumentStatus, error) {
	base := path.Base(ev.Name)
	id := strings.TrimSuffix(base, path.Ext(base))
	logCtx := s.logger.With("documentId", id, "object", ev.Name)

	existing, err := s.docs.GetDocument(ctx, id)
	switch {
	case err == nil && existing.Status != models.StatusUploaded:
		logCtx.Info("Skipping object already picked up.", "status", existing.Status)
		return existing.Status, nil
	case err != nil && !errors.Is(err, errors.ErrNotFound):
		return "", err
	}

	data, err := s.blobs.Get(ctx, ev.Name)
	if err != nil {
		return "", errors.Wrap(err, "failed to read uploaded object")
	}
	if err := s.Validate(base, int64(len(data))); err != nil {
		return "", err
	}

	if existing == nil {
		doc := s.newDocument(id, base, int64(len(data)))
		doc.BlobPath = ev.Name
		if err := s.docs.CreateDocument(ctx, doc); err != nil {
			return "", err
		}
		existing = doc
	}
	return s.runner.Process(ctx, id, data, existing.MimeType)
}

// Delete removes a document, its stored file and its progress state.
func (s *Ingest) Delete(ctx context.Context, documentID string) error {
	if s.runner.Active(documentID) {
		err := errors.Wrapf(errors.ErrRunActive, "document %s", documentID)
		return errors.WithHint(err, "wait for the pipeline to finish before deleting")
	}
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	logCtx := s.logger.With("documentId", documentID)
	if err := s.docs.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if doc.BlobPath != "" {
		s.cleanupBlob(ctx, logCtx, doc.BlobPath)
	}
	s.events.Forget(documentID)
	logCtx.Info("Document deleted.")
	return nil
}

func (s *Ingest) newDocument(id, filename string, size int64) *models.Document {
	return &models.Document{
		ID:           id,
		Filename:     filename,
		FileSize:     size,
		MimeType:     extract.MimeFromFilename(filename),
		BlobPath:     id + strings.ToLower(path.Ext(filename)),
		Status:       models.StatusUploaded,
		CurrentStage: models.StageUploaded,
		Progress:     models.ProgressUploaded,
	}
}

func (s *Ingest) cleanupBlob(ctx context.Context, logCtx *slog.Logger, name string) {
	if err := s.blobs.Delete(ctx, name); err != nil {
		logCtx.Warn("Failed to delete stored file.", "blob", name, "error", err)
	}
}

// handleError marks the document as failed and returns a wrapped error.
func (s *Ingest) handleError(ctx context.Context, logCtx *slog.Logger, documentID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error("Ingest failed.", "error", fullError)
	update := models.DocumentUpdate{
		Status:       models.StatusError,
		Stage:        "Error: " + fullError,
		Progress:     models.ProgressUploaded,
		ErrorDetails: fullError,
	}
	if err := s.docs.UpdateDocument(ctx, documentID, update); err != nil {
		logCtx.Error("CRITICAL: Failed to mark document as failed.", "error", err)
	}
	return errors.Wrap(originalErr, message)
}

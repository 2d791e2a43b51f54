// Package pipeline drives uploaded documents through extraction and
// preparation, publishing a progress event after every committed transition.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/metrics"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/Lllllllleong/documentanalysisflow/internal/store"
	"golang.org/x/sync/semaphore"
)

// maxErrorDetails bounds the diagnostic stored on a failed document.
const maxErrorDetails = 400

// Extractor turns raw upload bytes into text.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Publisher receives progress events. *progress.Broadcaster implements it.
type Publisher interface {
	Register(documentID string)
	Publish(ev models.ProgressEvent)
}

// ReadyHook is notified after a document reaches ready. Failures are logged
// and never change the document state.
type ReadyHook interface {
	DocumentReady(ctx context.Context, ev models.ReadyEvent) error
}

// Config of the executor.
type Config struct {
	Workers int
	Chunker Chunker
}

// Executor runs document pipelines on a bounded worker pool. At most one
// run per document is active at a time.
type Executor struct {
	store     store.DocumentStore
	extractor Extractor
	events    Publisher
	hook      ReadyHook
	chunker   Chunker
	pool      *semaphore.Weighted
	metrics   *metrics.Collector
	logger    *slog.Logger
	timeNow   func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// Option customises an Executor.
type Option func(*Executor)

// WithReadyHook sets the hook fired after a document becomes ready.
func WithReadyHook(h ReadyHook) Option {
	return func(e *Executor) { e.hook = h }
}

// WithMetrics records run timings and outcomes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = c }
}

// WithClock replaces the event timestamp source (for testing).
func WithClock(timeNow func() time.Time) Option {
	return func(e *Executor) { e.timeNow = timeNow }
}

// NewExecutor creates an executor.
func NewExecutor(docs store.DocumentStore, extractor Extractor, events Publisher, cfg Config, logger *slog.Logger, opts ...Option) *Executor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		store:     docs,
		extractor: extractor,
		events:    events,
		chunker:   cfg.Chunker,
		pool:      semaphore.NewWeighted(int64(cfg.Workers)),
		logger:    logger,
		timeNow:   time.Now,
		active:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit schedules a run for documentID and returns a channel that receives
// its terminal status once. The run is registered with the publisher before
// Submit returns, so a subscriber attached afterwards sees every event. The
// run does not inherit cancellation from ctx.
func (e *Executor) Submit(ctx context.Context, documentID string, raw []byte, mimeType string) (<-chan models.DocumentStatus, error) {
	if err := e.begin(documentID); err != nil {
		return nil, err
	}

	done := make(chan models.DocumentStatus, 1)
	runCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(done)
		defer e.end(documentID)

		if err := e.pool.Acquire(runCtx, 1); err != nil {
			done <- e.fail(runCtx, documentID, models.ProgressUploaded, err)
			return
		}
		defer e.pool.Release(1)
		done <- e.run(runCtx, documentID, raw, mimeType)
	}()
	return done, nil
}

// Process runs the pipeline for documentID synchronously and returns the
// terminal status.
func (e *Executor) Process(ctx context.Context, documentID string, raw []byte, mimeType string) (models.DocumentStatus, error) {
	if err := e.begin(documentID); err != nil {
		return "", err
	}
	defer e.end(documentID)

	if err := e.pool.Acquire(ctx, 1); err != nil {
		err = errors.Wrap(err, "waiting for a pipeline worker")
		return e.fail(ctx, documentID, models.ProgressUploaded, err), err
	}
	defer e.pool.Release(1)
	return e.run(ctx, documentID, raw, mimeType), nil
}

// Active reports whether documentID has a run in progress.
func (e *Executor) Active(documentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[documentID]
	return ok
}

// Wait blocks until every submitted run has finished or ctx is done.
func (e *Executor) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) begin(documentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[documentID]; ok {
		return errors.Wrapf(errors.ErrRunActive, "document %s", documentID)
	}
	e.active[documentID] = struct{}{}
	e.events.Register(documentID)
	return nil
}

func (e *Executor) end(documentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, documentID)
}

func (e *Executor) run(ctx context.Context, documentID string, raw []byte, mimeType string) models.DocumentStatus {
	logCtx := e.logger.With("documentId", documentID)
	logCtx.Info("Starting document pipeline.", "bytes", len(raw), "mimeType", mimeType)
	start := time.Now()

	status := e.stages(ctx, logCtx, documentID, raw, mimeType)

	elapsed := time.Since(start)
	e.metrics.RecordTiming(metrics.OpPipelineRun, elapsed, status == models.StatusError)
	if status == models.StatusReady {
		e.metrics.Inc(metrics.CounterDocsReady)
	} else {
		e.metrics.Inc(metrics.CounterDocsFailed)
	}
	logCtx.Info("Document pipeline finished.", "status", status, "durationMs", elapsed.Milliseconds())
	return status
}

func (e *Executor) stages(ctx context.Context, logCtx *slog.Logger, documentID string, raw []byte, mimeType string) models.DocumentStatus {
	// --- 1. Extract ---
	if err := e.transition(ctx, documentID, models.DocumentUpdate{
		Status:   models.StatusExtracting,
		Stage:    models.StageExtracting,
		Progress: models.ProgressExtracting,
	}); err != nil {
		return e.fail(ctx, documentID, models.ProgressUploaded, err)
	}

	extractStart := time.Now()
	text, err := e.extractor.ExtractText(ctx, raw, mimeType)
	e.metrics.RecordTiming(metrics.OpExtract, time.Since(extractStart), err != nil)
	if err != nil {
		logCtx.Error("Text extraction failed.", "error", err)
		return e.fail(ctx, documentID, models.ProgressExtracting, err)
	}

	// --- 2. Prepare ---
	language := DetectLanguage(text)
	var chunks []models.Chunk
	if e.chunker.NeedsSplit(text) {
		chunks = e.chunker.Split(text)
	}
	if err := e.transition(ctx, documentID, models.DocumentUpdate{
		Status:        models.StatusPreparing,
		Stage:         models.StagePreparing,
		Progress:      models.ProgressPreparing,
		ExtractedText: &text,
		Language:      &language,
		Chunks:        chunks,
	}); err != nil {
		return e.fail(ctx, documentID, models.ProgressExtracting, err)
	}
	logCtx.Info("Document prepared.", "textLength", utf8.RuneCountInString(text), "language", language, "chunks", len(chunks))

	// --- 3. Ready ---
	if err := e.transition(ctx, documentID, models.DocumentUpdate{
		Status:   models.StatusReady,
		Stage:    models.StageReady,
		Progress: models.ProgressReady,
	}); err != nil {
		return e.fail(ctx, documentID, models.ProgressPreparing, err)
	}

	if e.hook != nil {
		ev := models.ReadyEvent{
			DocumentID: documentID,
			TextLength: utf8.RuneCountInString(text),
			ChunkCount: len(chunks),
			Language:   language,
		}
		if err := e.hook.DocumentReady(ctx, ev); err != nil {
			logCtx.Warn("Ready hook failed.", "error", err)
		}
	}
	return models.StatusReady
}

// transition commits update and then publishes the matching event.
func (e *Executor) transition(ctx context.Context, documentID string, update models.DocumentUpdate) error {
	if err := e.store.UpdateDocument(ctx, documentID, update); err != nil {
		return errors.Wrapf(err, "failed to move document to %s", update.Status)
	}
	e.events.Publish(models.ProgressEvent{
		DocumentID: documentID,
		Stage:      update.Stage,
		Progress:   update.Progress,
		Status:     update.Status,
		Timestamp:  e.timeNow().UTC(),
	})
	return nil
}

// fail records the error state with progress frozen at its last committed
// value. The write ignores cancellation of ctx so a run cut short by its
// caller still ends in a terminal record. The terminal event is published
// even when the write fails so that listeners are released.
func (e *Executor) fail(ctx context.Context, documentID string, progress int, cause error) models.DocumentStatus {
	ctx = context.WithoutCancel(ctx)
	details := truncate(cause.Error(), maxErrorDetails)
	update := models.DocumentUpdate{
		Status:       models.StatusError,
		Stage:        "Error: " + details,
		Progress:     progress,
		ErrorDetails: details,
	}
	if err := e.transition(ctx, documentID, update); err != nil {
		e.logger.Error("Failed to record pipeline error.", "documentId", documentID, "error", err, "cause", cause)
		e.events.Publish(models.ProgressEvent{
			DocumentID: documentID,
			Stage:      update.Stage,
			Progress:   progress,
			Status:     models.StatusError,
			Timestamp:  e.timeNow().UTC(),
		})
	}
	return models.StatusError
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

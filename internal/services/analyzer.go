package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/ai"
	"github.com/Lllllllleong/documentanalysisflow/internal/cache"
	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/metrics"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/Lllllllleong/documentanalysisflow/internal/store"
)

// Limiter gates calls to the model.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Invoker runs one analysis against the model. *ai.Adapter implements it.
type Invoker interface {
	Invoke(ctx context.Context, req ai.Request) (*models.AIResponse, error)
	ModelName() string
}

// Analyzer coordinates analysis requests: it renders the prompt, serves
// repeats from the cache, rate limits and calls the model on a miss, and
// persists one result per request.
type Analyzer struct {
	store   store.Store
	cache   *cache.Cache
	limiter Limiter
	model   Invoker
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewAnalyzer creates an Analyzer. metrics may be nil.
func NewAnalyzer(st store.Store, c *cache.Cache, limiter Limiter, model Invoker, m *metrics.Collector, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{store: st, cache: c, limiter: limiter, model: model, metrics: m, logger: logger}
}

// Analyze runs req against a ready document. Failures of the model are
// recorded on the returned result and persisted; errors are returned for
// rejected requests (unknown ids, document not ready, empty prompt, rate
// limited) and for persistence failures.
func (a *Analyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	start := time.Now()
	logCtx := a.logger.With("documentId", req.DocumentID)

	doc, err := a.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusReady {
		err := errors.Wrapf(errors.ErrDocumentNotReady, "document %s is %s", doc.ID, doc.Status)
		return nil, errors.WithHint(err, "wait for the ready progress event before analyzing")
	}

	prompt, err := a.renderPrompt(ctx, req)
	if err != nil {
		return nil, err
	}

	text := doc.Text()
	key := cache.Fingerprint(prompt, text)
	resp, outcome, err := a.cache.Do(ctx, key, func(ctx context.Context) (*models.AIResponse, error) {
		if err := a.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		return a.invoke(ctx, ai.Request{Prompt: prompt, DocumentText: text, Chunks: doc.Chunks})
	})
	switch {
	case err == nil && (outcome.Hit || outcome.Shared):
		a.metrics.Inc(metrics.CounterCacheHit)
		if outcome.Shared {
			a.metrics.Inc(metrics.CounterCacheShared)
		}
	case err == nil:
		a.metrics.Inc(metrics.CounterCacheMiss)
	case errors.Is(err, errors.ErrRateLimited):
		a.metrics.Inc(metrics.CounterRateLimited)
		wait, _ := errors.RetryAfter(err)
		logCtx.Warn("Analysis rate limited.", "retryAfter", wait.String())
		return nil, err
	case ctx.Err() != nil:
		return nil, errors.Wrap(ctx.Err(), "analysis abandoned by caller")
	}

	result := &models.AnalysisResult{
		DocumentID:       doc.ID,
		PromptTemplateID: req.PromptTemplateID,
		FinalPrompt:      prompt,
		Model:            a.model.ModelName(),
		CreatedAt:        time.Now().UTC(),
	}
	if err != nil {
		a.metrics.Inc(metrics.CounterAnalysisError)
		result.Error = err.Error()
		result.ErrorCategory = errors.Category(err)
		logCtx.Error("Analysis failed.", "category", result.ErrorCategory, "error", err)
	} else {
		result.Response = resp.Text
		result.Usage = resp.Usage
		result.Cached = outcome.Hit || outcome.Shared
		if resp.Model != "" {
			result.Model = resp.Model
		}
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	if err := a.store.SaveAnalysis(ctx, result); err != nil {
		return nil, errors.Wrap(err, "failed to persist analysis result")
	}
	a.metrics.RecordTiming(metrics.OpAnalyze, time.Since(start), result.Failed())

	if !result.Failed() && req.PromptTemplateID != "" {
		if err := a.store.IncrementTemplateUsage(ctx, req.PromptTemplateID); err != nil {
			logCtx.Warn("Failed to increment template usage.", "templateId", req.PromptTemplateID, "error", err)
		}
	}

	logCtx.Info("Analysis complete.",
		"analysisId", result.ID,
		"cached", result.Cached,
		"failed", result.Failed(),
		"executionTimeMs", result.ExecutionTimeMs,
	)
	return result, nil
}

// renderPrompt resolves the instruction for req. An explicit prompt wins
// over the template text.
func (a *Analyzer) renderPrompt(ctx context.Context, req models.AnalysisRequest) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if req.PromptTemplateID != "" {
		tpl, err := a.store.GetTemplate(ctx, req.PromptTemplateID)
		if err != nil {
			return "", err
		}
		if prompt == "" {
			prompt = strings.TrimSpace(tpl.PromptText)
		}
	}
	if prompt == "" {
		err := errors.Mark(errors.New("prompt is empty"), errors.ErrInvalidRequest)
		return "", errors.WithHint(err, "send a prompt or a prompt_template_id")
	}
	return prompt, nil
}

func (a *Analyzer) invoke(ctx context.Context, req ai.Request) (*models.AIResponse, error) {
	start := time.Now()
	resp, err := a.model.Invoke(ctx, req)
	if err != nil {
		a.metrics.RecordAIUsage(time.Since(start), 0, 0, true)
		return nil, err
	}
	a.metrics.RecordAIUsage(time.Since(start), int64(resp.Usage.PromptTokens), int64(resp.Usage.ResponseTokens), false)
	return resp, nil
}

package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/ai"
	"github.com/Lllllllleong/documentanalysisflow/internal/cache"
	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/logging"
	"github.com/Lllllllleong/documentanalysisflow/internal/metrics"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/Lllllllleong/documentanalysisflow/internal/ratelimit"
	"github.com/Lllllllleong/documentanalysisflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingModel answers every prompt after delay and counts calls.
type countingModel struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (m *countingModel) ModelName() string { return "counting-model" }

func (m *countingModel) Invoke(ctx context.Context, req ai.Request) (*models.AIResponse, error) {
	m.calls.Add(1)
	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return &models.AIResponse{
		Text:  "analysis of: " + req.Prompt,
		Usage: models.TokenUsage{PromptTokens: 12, ResponseTokens: 5, TotalTokens: 17},
	}, nil
}

type analyzerFixture struct {
	store    *store.Memory
	analyzer *Analyzer
	metrics  *metrics.Collector
	docID    string
}

func frozenLimiter(requests int) *ratelimit.Limiter {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return ratelimit.NewLimiterWithClock(ratelimit.Config{Requests: requests, Window: time.Minute}, func() time.Time { return now })
}

func newAnalyzerFixture(t *testing.T, model Invoker, limiter Limiter) *analyzerFixture {
	t.Helper()
	st := store.NewMemory()
	text := "The quarterly report shows revenue growth in all regions."
	lang := "en"
	doc := &models.Document{Filename: "report.txt", Status: models.StatusUploaded}
	require.NoError(t, st.CreateDocument(context.Background(), doc))
	require.NoError(t, st.UpdateDocument(context.Background(), doc.ID, models.DocumentUpdate{
		Status: models.StatusReady, Stage: models.StageReady, Progress: 100,
		ExtractedText: &text, Language: &lang,
	}))

	m := metrics.NewCollector()
	c := cache.New(cache.NewMemoryStore(), time.Hour, logging.Discard())
	return &analyzerFixture{
		store:    st,
		analyzer: NewAnalyzer(st, c, limiter, model, m, logging.Discard()),
		metrics:  m,
		docID:    doc.ID,
	}
}

func TestAnalyze_DocumentNotReady(t *testing.T) {
	model := &countingModel{}
	f := newAnalyzerFixture(t, model, frozenLimiter(10))
	pending := &models.Document{Filename: "b.txt", Status: models.StatusExtracting}
	require.NoError(t, f.store.CreateDocument(context.Background(), pending))

	_, err := f.analyzer.Analyze(context.Background(), models.AnalysisRequest{DocumentID: pending.ID, Prompt: "Summarize"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDocumentNotReady))
	assert.Equal(t, int32(0), model.calls.Load())

	doc, err := f.store.GetDocument(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExtracting, doc.Status, "document is unaffected")
}

func TestAnalyze_RejectedRequests(t *testing.T) {
	f := newAnalyzerFixture(t, &countingModel{}, frozenLimiter(10))
	ctx := context.Background()

	_, err := f.analyzer.Analyze(ctx, models.AnalysisRequest{DocumentID: "missing", Prompt: "x"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = f.analyzer.Analyze(ctx, models.AnalysisRequest{DocumentID: f.docID, PromptTemplateID: "missing"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = f.analyzer.Analyze(ctx, models.AnalysisRequest{DocumentID: f.docID, Prompt: "   "})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	list, err := f.store.ListAnalyses(ctx, f.docID, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAnalyze_SecondCallServedFromCache(t *testing.T) {
	model := &countingModel{delay: 40 * time.Millisecond}
	f := newAnalyzerFixture(t, model, frozenLimiter(10))
	ctx := context.Background()
	req := models.AnalysisRequest{DocumentID: f.docID, Prompt: "Summarize this document"}

	first, err := f.analyzer.Analyze(ctx, req)
	require.NoError(t, err)
	second, err := f.analyzer.Analyze(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), model.calls.Load())
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Response, second.Response)
	assert.NotEqual(t, first.ID, second.ID, "each request gets its own record")
	assert.GreaterOrEqual(t, first.ExecutionTimeMs, int64(40))
	assert.Less(t, second.ExecutionTimeMs, first.ExecutionTimeMs)
	assert.Equal(t, 17, second.Usage.TotalTokens)

	assert.Equal(t, int64(1), f.metrics.Counter(metrics.CounterCacheMiss))
	assert.Equal(t, int64(1), f.metrics.Counter(metrics.CounterCacheHit))
}

func TestAnalyze_WhitespaceVariantsShareCacheEntry(t *testing.T) {
	model := &countingModel{}
	f := newAnalyzerFixture(t, model, frozenLimiter(10))
	ctx := context.Background()

	_, err := f.analyzer.Analyze(ctx, models.AnalysisRequest{DocumentID: f.docID, Prompt: "Summarize  this\ndocument"})
	require.NoError(t, err)
	res, err := f.analyzer.Analyze(ctx, models.AnalysisRequest{DocumentID: f.docID, Prompt: "Summarize this document "})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, int32(1), model.calls.Load())
}

func TestAnalyze_TimeoutProducesFailedResult(t *testing.T) {
	var calls atomic.Int32
	hanging := ai.ModelFunc(func(ctx context.Context, prompt string) (*models.AIResponse, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := ai.DefaultConfig()
	cfg.Timeout = 10 * time.Millisecond
	adapter := ai.NewAdapter(hanging, cfg, logging.Discard(),
		ai.WithSleep(func(context.Context, time.Duration) error { return nil }))

	f := newAnalyzerFixture(t, adapter, frozenLimiter(10))
	ctx := context.Background()
	req := models.AnalysisRequest{DocumentID: f.docID, Prompt: "Summarize"}

	res, err := f.analyzer.Analyze(ctx, req)
	require.NoError(t, err, "model failures are recorded on the result")
	require.NotNil(t, res)
	assert.True(t, res.Failed())
	assert.Equal(t, "timeout", res.ErrorCategory)
	assert.Empty(t, res.Response)
	assert.Equal(t, int32(3), calls.Load(), "retried up to the attempt bound")

	stored, err := f.store.GetAnalysis(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Error, stored.Error)

	// failures are not cached
	_, err = f.analyzer.Analyze(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(6), calls.Load())
}

func TestAnalyze_EleventhCallRateLimited(t *testing.T) {
	model := &countingModel{}
	f := newAnalyzerFixture(t, model, frozenLimiter(10))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := f.analyzer.Analyze(ctx, models.AnalysisRequest{DocumentID: f.docID, Prompt: fmt.Sprintf("Question %d", i)})
		require.NoError(t, err)
		require.False(t, res.Failed())
	}

	_, err := f.analyzer.Analyze(ctx, models.AnalysisRequest{DocumentID: f.docID, Prompt: "Question 10"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateLimited))
	wait, ok := errors.RetryAfter(err)
	require.True(t, ok)
	assert.InDelta(t, 6*time.Second, wait, float64(100*time.Millisecond))

	// a cached prompt is still served while the bucket is empty
	res, err := f.analyzer.Analyze(ctx, models.AnalysisRequest{DocumentID: f.docID, Prompt: "Question 3"})
	require.NoError(t, err)
	assert.True(t, res.Cached)

	list, err := f.store.ListAnalyses(ctx, f.docID, 0)
	require.NoError(t, err)
	assert.Len(t, list, 11, "rate limited requests are not persisted")
	assert.Equal(t, int32(10), model.calls.Load())
	assert.Equal(t, int64(1), f.metrics.Counter(metrics.CounterRateLimited))
}

func TestAnalyze_TemplateUsage(t *testing.T) {
	model := &countingModel{}
	f := newAnalyzerFixture(t, model, frozenLimiter(10))
	ctx := context.Background()

	tpl := &models.PromptTemplate{Name: "Summary", PromptText: "Summarize:\n{document_content}", IsPublic: true}
	require.NoError(t, f.store.CreateTemplate(ctx, tpl))

	res, err := f.analyzer.Analyze(ctx, models.AnalysisRequest{DocumentID: f.docID, PromptTemplateID: tpl.ID})
	require.NoError(t, err)
	assert.Equal(t, "Summarize:\n{document_content}", res.FinalPrompt)
	assert.Equal(t, tpl.ID, res.PromptTemplateID)

	got, err := f.store.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)

	// explicit prompt wins over the template text
	res, err = f.analyzer.Analyze(ctx, models.AnalysisRequest{DocumentID: f.docID, PromptTemplateID: tpl.ID, Prompt: "List the regions"})
	require.NoError(t, err)
	assert.Equal(t, "List the regions", res.FinalPrompt)

	got, err = f.store.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
}

func TestAnalyze_FailureDoesNotCountTemplateUsage(t *testing.T) {
	model := &countingModel{err: errors.Mark(errors.New("bad request"), errors.ErrInvalidRequest)}
	f := newAnalyzerFixture(t, model, frozenLimiter(10))
	ctx := context.Background()

	tpl := &models.PromptTemplate{Name: "Summary", PromptText: "Summarize", IsPublic: true}
	require.NoError(t, f.store.CreateTemplate(ctx, tpl))

	res, err := f.analyzer.Analyze(ctx, models.AnalysisRequest{DocumentID: f.docID, PromptTemplateID: tpl.ID})
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, "invalid_request", res.ErrorCategory)

	got, err := f.store.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UsageCount)
}

func TestAnalyze_ConcurrentIdenticalRequestsCallModelOnce(t *testing.T) {
	model := &countingModel{delay: 50 * time.Millisecond}
	f := newAnalyzerFixture(t, model, frozenLimiter(10))
	ctx := context.Background()
	req := models.AnalysisRequest{DocumentID: f.docID, Prompt: "What are the key findings?"}

	const n = 8
	var wg sync.WaitGroup
	results := make([]*models.AnalysisResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.analyzer.Analyze(ctx, req)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), model.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Response, results[i].Response)
	}
	list, err := f.store.ListAnalyses(ctx, f.docID, 0)
	require.NoError(t, err)
	assert.Len(t, list, n, "one record per request")
}

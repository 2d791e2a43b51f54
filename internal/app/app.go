// Package app wires the configured backends into the services shared by the
// HTTP server, the CLI and the Cloud Functions.
package app

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/documentanalysisflow/internal/ai"
	"github.com/Lllllllleong/documentanalysisflow/internal/cache"
	"github.com/Lllllllleong/documentanalysisflow/internal/config"
	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/extract"
	"github.com/Lllllllleong/documentanalysisflow/internal/gcp"
	"github.com/Lllllllleong/documentanalysisflow/internal/httpapi"
	"github.com/Lllllllleong/documentanalysisflow/internal/llm"
	"github.com/Lllllllleong/documentanalysisflow/internal/metrics"
	"github.com/Lllllllleong/documentanalysisflow/internal/pipeline"
	"github.com/Lllllllleong/documentanalysisflow/internal/progress"
	"github.com/Lllllllleong/documentanalysisflow/internal/ratelimit"
	"github.com/Lllllllleong/documentanalysisflow/internal/services"
	"github.com/Lllllllleong/documentanalysisflow/internal/store"
)

// App holds the wired services.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    store.Store
	Events   *progress.Broadcaster
	Executor *pipeline.Executor
	Analyzer *services.Analyzer
	Ingest   *services.Ingest
	Metrics  *metrics.Collector
	Model    *ai.Adapter

	memoryCache *cache.MemoryStore
	closers     []func() error
}

// Build creates every client and service named by cfg. Close releases them.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Events:  progress.New(cfg.ProgressQueueSize),
		Metrics: metrics.NewCollector(),
	}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	var fs *firestore.Client
	if cfg.StoreBackend == config.BackendFirestore || cfg.CacheBackend == config.BackendFirestore {
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return err
		}
		fs = client
		a.closers = append(a.closers, client.Close)
	}

	if cfg.StoreBackend == config.BackendFirestore {
		a.Store = store.NewFirestore(fs)
	} else {
		a.Store = store.NewMemory()
	}

	var cacheStore cache.Store
	switch cfg.CacheBackend {
	case config.BackendFirestore:
		cacheStore = cache.NewFirestoreStore(fs, cfg.CacheCollection)
	case config.BackendMemory:
		a.memoryCache = cache.NewMemoryStore()
		cacheStore = a.memoryCache
	}
	analysisCache := cache.New(cacheStore, cfg.CacheTTL, a.Logger)

	blobs, err := a.blobStore(ctx)
	if err != nil {
		return err
	}

	model, err := a.model(ctx)
	if err != nil {
		return err
	}
	a.Model = ai.NewAdapter(model, ai.Config{
		Timeout: cfg.AITimeout,
		Backoff: ai.BackoffPolicy{
			MaxAttempts: cfg.AIMaxAttempts,
			Initial:     cfg.AIBackoffInitial,
			Max:         cfg.AIBackoffMax,
			Multiplier:  2,
		},
		MaxContextTokens: cfg.AIMaxContextTokens,
		OversizePolicy:   cfg.AIOversizePolicy,
		ChunkConcurrency: cfg.AIChunkConcurrency,
	}, a.Logger)

	opts := []pipeline.Option{pipeline.WithMetrics(a.Metrics)}
	if cfg.WorkflowID != "" {
		client, err := gcp.NewExecutionsClient(ctx)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		trigger := gcp.NewWorkflowTrigger(client, a.Store, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
		opts = append(opts, pipeline.WithReadyHook(trigger))
	}
	a.Executor = pipeline.NewExecutor(a.Store, extract.New(), a.Events, pipeline.Config{
		Workers: cfg.PipelineWorkers,
		Chunker: pipeline.Chunker{MaxChars: cfg.ChunkMaxChars, Overlap: cfg.ChunkOverlapChars},
	}, a.Logger, opts...)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Requests: cfg.RateLimitRequests,
		Window:   cfg.RateLimitWindow,
		MaxWait:  cfg.RateLimitMaxWait,
	})
	a.Analyzer = services.NewAnalyzer(a.Store, analysisCache, limiter, a.Model, a.Metrics, a.Logger)
	a.Ingest = services.NewIngest(a.Store, blobs, a.Executor, a.Events, services.IngestConfig{
		MaxFileSize:       cfg.MaxFileSize,
		AllowedExtensions: cfg.AllowedExtensions,
	}, a.Logger)
	return nil
}

func (a *App) blobStore(ctx context.Context) (services.BlobStore, error) {
	if a.Config.UploadBucket == "" {
		return gcp.NewDirStore(a.Config.UploadDir)
	}
	client, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return gcp.NewBucketStore(client, a.Config.UploadBucket), nil
}

func (a *App) model(ctx context.Context) (ai.Model, error) {
	cfg := a.Config
	switch cfg.AIProvider {
	case config.ProviderVertex:
		client, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexRegion, cfg.GeminiModel)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create vertex client")
		}
		a.closers = append(a.closers, client.Close)
		return client, nil
	case config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderOllama:
		model, err := llm.NewModel(cfg)
		if err != nil {
			return nil, err
		}
		return model, nil
	default:
		a.Logger.Warn("No AI provider configured, analyses return canned preview text.", "provider", cfg.AIProvider)
		return ai.PreviewModel{}, nil
	}
}

// HTTPServer builds the API server over the wired services.
func (a *App) HTTPServer() *httpapi.Server {
	return httpapi.NewServer(httpapi.Deps{
		Store:          a.Store,
		Analyzer:       a.Analyzer,
		Ingest:         a.Ingest,
		Events:         a.Events,
		Metrics:        a.Metrics,
		Logger:         a.Logger,
		ModelName:      a.Model.ModelName(),
		MaxUploadBytes: a.Config.MaxFileSize,
	})
}

// SweepCache evicts expired in-memory cache entries every interval until
// ctx is done. It returns at once for other cache backends.
func (a *App) SweepCache(ctx context.Context, interval time.Duration) {
	if a.memoryCache == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.memoryCache.Sweep(); n > 0 {
				a.Logger.Debug("Swept expired cache entries.", "count", n)
			}
		}
	}
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

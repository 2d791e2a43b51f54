package ai

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"golang.org/x/sync/errgroup"
)

// Oversize policies.
const (
	PolicySummarize = "summarize"
	PolicyReject    = "reject"
)

// Config of the adapter.
type Config struct {
	Timeout          time.Duration // per attempt
	Backoff          BackoffPolicy
	MaxContextTokens int
	OversizePolicy   string
	ChunkConcurrency int
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 60 * time.Second,
		Backoff: BackoffPolicy{
			MaxAttempts: 3,
			Initial:     4 * time.Second,
			Max:         10 * time.Second,
			Multiplier:  2,
		},
		MaxContextTokens: 4000,
		OversizePolicy:   PolicySummarize,
		ChunkConcurrency: 4,
	}
}

// Request is one logical analysis call. Prompt is the instruction, which may
// contain the document placeholder. Chunks are the prepared slices of
// DocumentText used when the whole text does not fit the model context.
type Request struct {
	Prompt       string
	DocumentText string
	Chunks       []models.Chunk
}

// Adapter wraps a Model with the timeout, retry and oversize policies.
type Adapter struct {
	model  Model
	cfg    Config
	logger *slog.Logger
	jitter func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithJitter replaces the random jitter source (for testing).
func WithJitter(f func() float64) Option {
	return func(a *Adapter) { a.jitter = f }
}

// WithSleep replaces the backoff sleep (for testing).
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Adapter) { a.sleep = f }
}

// NewAdapter creates an adapter over model.
func NewAdapter(model Model, cfg Config, logger *slog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkConcurrency < 1 {
		cfg.ChunkConcurrency = 1
	}
	if cfg.OversizePolicy == "" {
		cfg.OversizePolicy = PolicySummarize
	}
	a := &Adapter{model: model, cfg: cfg, logger: logger, sleep: sleepCtx}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ModelName returns the name of the underlying model.
func (a *Adapter) ModelName() string { return a.model.Name() }

// EstimateTokens approximates the token count of text at 1.33 tokens per
// whitespace separated word.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(len(strings.Fields(text))) * 1.33))
}

// Fits reports whether prompt fits the configured context window.
func (a *Adapter) Fits(prompt string) bool {
	return a.cfg.MaxContextTokens <= 0 || EstimateTokens(prompt) <= a.cfg.MaxContextTokens
}

// Invoke runs req against the model. Failures are classified into the
// taxonomy of the errors package.
func (a *Adapter) Invoke(ctx context.Context, req Request) (*models.AIResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.Mark(errors.New("prompt is empty"), errors.ErrInvalidRequest)
	}

	full := models.ComposePrompt(req.Prompt, req.DocumentText)
	if a.Fits(full) {
		resp, err := a.call(ctx, full)
		if err != nil {
			return nil, err
		}
		resp.ChunksProcessed = 1
		return resp, nil
	}

	tokens := EstimateTokens(full)
	switch a.cfg.OversizePolicy {
	case PolicyReject:
		err := errors.Mark(errors.Newf("document needs ~%d tokens, model context is %d", tokens, a.cfg.MaxContextTokens), errors.ErrInvalidRequest)
		return nil, errors.WithHint(err, "shorten the document or enable the summarize oversize policy")
	case PolicySummarize:
		a.logger.Info("Document exceeds model context, analyzing in chunks.", "estimatedTokens", tokens, "chunks", len(req.Chunks))
		return a.summarize(ctx, req)
	default:
		return nil, errors.Mark(errors.Newf("unknown oversize policy %q", a.cfg.OversizePolicy), errors.ErrInvalidRequest)
	}
}

// summarize analyzes every chunk, then asks the model to merge the partial
// analyses into one answer.
func (a *Adapter) summarize(ctx context.Context, req Request) (*models.AIResponse, error) {
	n := len(req.Chunks)
	if n == 0 {
		return nil, errors.Mark(errors.New("document exceeds the model context and has no prepared chunks"), errors.ErrInvalidRequest)
	}

	prompts := make([]string, n)
	for i, chunk := range req.Chunks {
		prompts[i] = fmt.Sprintf("This is part %d of %d of the document. Please analyze this section:\n\n%s",
			i+1, n, models.ComposePrompt(req.Prompt, chunk.Text))
		if !a.Fits(prompts[i]) {
			return nil, errors.Mark(errors.Newf("chunk %d needs ~%d tokens, model context is %d",
				i+1, EstimateTokens(prompts[i]), a.cfg.MaxContextTokens), errors.ErrInvalidRequest)
		}
	}

	partials := make([]*models.AIResponse, n)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(a.cfg.ChunkConcurrency)
	for i := range prompts {
		eg.Go(func() error {
			resp, err := a.call(gctx, prompts[i])
			if err != nil {
				return errors.Wrapf(err, "chunk %d", i+1)
			}
			partials[i] = resp
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Please synthesize the following %d analysis results into a cohesive summary.\n", n)
	fmt.Fprintf(&b, "Original request: %s\n\n", strings.ReplaceAll(req.Prompt, models.DocumentPlaceholder, "(the document)"))
	usage := models.TokenUsage{}
	attempts := 0
	for i, p := range partials {
		fmt.Fprintf(&b, "Part %d: %s\n\n", i+1, p.Text)
		usage = usage.Add(p.Usage)
		attempts += p.Attempts
	}
	synthesis := b.String()
	if !a.Fits(synthesis) {
		return nil, errors.Mark(errors.Newf("synthesis of %d chunks needs ~%d tokens, model context is %d",
			n, EstimateTokens(synthesis), a.cfg.MaxContextTokens), errors.ErrInvalidRequest)
	}

	final, err := a.call(ctx, synthesis)
	if err != nil {
		return nil, errors.Wrap(err, "synthesis")
	}
	final.Usage = usage.Add(final.Usage)
	final.Attempts += attempts
	final.ChunksProcessed = n
	return final, nil
}

// call performs one logical model call with timeout and retries.
func (a *Adapter) call(ctx context.Context, prompt string) (*models.AIResponse, error) {
	backoff := NewBackoff(a.cfg.Backoff, a.jitter)
	for {
		resp, err := a.attempt(ctx, prompt)
		if err == nil {
			resp.Attempts = backoff.Attempt() + 1
			if resp.Model == "" {
				resp.Model = a.model.Name()
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay, retry := backoff.Next(err)
		if !retry {
			a.logger.Error("AI call failed.", "attempts", backoff.Attempt(), "category", errors.Category(err), "error", err)
			return nil, err
		}
		a.logger.Warn("AI call failed, will retry.",
			"attempt", backoff.Attempt(),
			"maxAttempts", a.cfg.Backoff.MaxAttempts,
			"backoff", delay.String(),
			"category", errors.Category(err),
			"error", err,
		)
		if err := a.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (a *Adapter) attempt(ctx context.Context, prompt string) (*models.AIResponse, error) {
	attemptCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	resp, err := a.model.Generate(attemptCtx, prompt)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, errors.Mark(errors.Wrapf(err, "no response within %s", a.cfg.Timeout), errors.ErrTimeout)
		}
		return nil, Classify(err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return nil, errors.Mark(errors.New("model returned an empty response"), errors.ErrTransientFailure)
	}
	return resp, nil
}

// Package cache stores AI responses keyed by the semantic identity of a
// (prompt, document text) pair, with single-flight deduplication of
// concurrent misses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"
)

// KeyPrefix namespaces cache keys in shared backends.
const KeyPrefix = "analysis_cache:"

// Store is a pluggable cache backend. Backend errors are reported but the
// Cache treats them as a miss or a skipped write.
type Store interface {
	Get(ctx context.Context, key string) (*models.AIResponse, bool, error)
	Put(ctx context.Context, key string, resp *models.AIResponse, ttl time.Duration) error
}

// Fingerprint derives the cache key for a prompt and document text. Prompts
// that differ only in Unicode composition or whitespace share a key.
func Fingerprint(prompt, documentText string) string {
	docSum := sha256.Sum256([]byte(documentText))

	h := sha256.New()
	h.Write([]byte(NormalizePrompt(prompt)))
	h.Write([]byte{0})
	h.Write(docSum[:])
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// NormalizePrompt applies NFC, collapses whitespace runs to one space and
// trims both ends.
func NormalizePrompt(prompt string) string {
	s := norm.NFC.String(prompt)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// Outcome describes how a Do call was served.
type Outcome struct {
	Hit    bool // served from the store
	Shared bool // joined another caller's in-flight computation
}

// Cache wraps a Store with single-flight semantics.
type Cache struct {
	store  Store
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// New creates a cache over store. A nil store disables caching but keeps
// single-flight deduplication.
func New(store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, ttl: ttl, logger: logger}
}

// Lookup reads key from the store. Backend errors degrade to a miss.
func (c *Cache) Lookup(ctx context.Context, key string) (*models.AIResponse, bool) {
	if c.store == nil {
		return nil, false
	}
	resp, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache read failed, treating as miss.", "key", key, "error", err)
		return nil, false
	}
	return resp, ok
}

// Do returns the cached response for key or runs compute exactly once for
// all concurrent callers of the same key. Only successful results are
// stored; a failure is handed to every waiter and then forgotten. The
// computation ignores the first caller's cancellation. Each caller stops
// waiting when its own ctx ends.
func (c *Cache) Do(ctx context.Context, key string, compute func(ctx context.Context) (*models.AIResponse, error)) (*models.AIResponse, Outcome, error) {
	if resp, ok := c.Lookup(ctx, key); ok {
		return resp, Outcome{Hit: true}, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// another flight may have filled the store between our miss and now
		if resp, ok := c.Lookup(flightCtx, key); ok {
			return flight{resp: resp, hit: true}, nil
		}
		resp, err := compute(flightCtx)
		if err != nil {
			return nil, err
		}
		c.save(flightCtx, key, resp)
		return flight{resp: resp}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, Outcome{Shared: res.Shared}, res.Err
		}
		f := res.Val.(flight)
		return f.resp, Outcome{Hit: f.hit, Shared: res.Shared}, nil
	case <-ctx.Done():
		return nil, Outcome{}, ctx.Err()
	}
}

type flight struct {
	resp *models.AIResponse
	hit  bool
}

func (c *Cache) save(ctx context.Context, key string, resp *models.AIResponse) {
	if c.store == nil {
		return
	}
	if err := c.store.Put(ctx, key, resp, c.ttl); err != nil {
		c.logger.Warn("Cache write failed, response not cached.", "key", key, "error", err)
	}
}

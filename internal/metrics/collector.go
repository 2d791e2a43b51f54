// Package metrics provides in-memory runtime statistics for the stats
// endpoint.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for AI operations)
	TotalPromptTokens   int64
	TotalResponseTokens int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Failures    int64   `json:"failures"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	TotalPromptTokens   *int64 `json:"total_prompt_tokens,omitempty"`
	TotalResponseTokens *int64 `json:"total_response_tokens,omitempty"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	AIGenerate    *OperationSnapshot `json:"ai_generate,omitempty"`
	Analyze       *OperationSnapshot `json:"analyze,omitempty"`
	Extract       *OperationSnapshot `json:"extract,omitempty"`
	PipelineRun   *OperationSnapshot `json:"pipeline_run,omitempty"`
	Counters      map[string]int64   `json:"counters"`
}

// Operation names for the collector.
const (
	OpAIGenerate  = "ai_generate"
	OpAnalyze     = "analyze"
	OpExtract     = "extract"
	OpPipelineRun = "pipeline_run"
)

// Counter names for the collector.
const (
	CounterCacheHit      = "cache_hit"
	CounterCacheMiss     = "cache_miss"
	CounterCacheShared   = "cache_shared"
	CounterRateLimited   = "rate_limited"
	CounterDocsReady     = "documents_ready"
	CounterDocsFailed    = "documents_failed"
	CounterAnalysisError = "analysis_errors"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe and a nil *Collector records nothing.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	counters  map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		counters:  make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// Caller must hold write lock.
func (m *OperationMetrics) observe(duration time.Duration, failed bool) {
	m.Count++
	if failed {
		m.Failures++
	}
	m.TotalTime += duration
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration, failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(op).observe(duration, failed)
}

// RecordAIUsage records timing and token usage for a model call.
func (c *Collector) RecordAIUsage(duration time.Duration, promptTokens, responseTokens int64, failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(OpAIGenerate)
	m.observe(duration, failed)
	m.TotalPromptTokens += promptTokens
	m.TotalResponseTokens += responseTokens
}

// Inc increments a named counter.
func (c *Collector) Inc(counter string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[counter]++
}

// Counter returns the current value of a named counter.
func (c *Collector) Counter(counter string) int64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[counter]
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeTokens bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeTokens && (m.TotalPromptTokens > 0 || m.TotalResponseTokens > 0) {
		prompt, response := m.TotalPromptTokens, m.TotalResponseTokens
		snap.TotalPromptTokens = &prompt
		snap.TotalResponseTokens = &response
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Counters: map[string]int64{}}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		AIGenerate:    snapshotOp(c.ops[OpAIGenerate], true),
		Analyze:       snapshotOp(c.ops[OpAnalyze], false),
		Extract:       snapshotOp(c.ops[OpExtract], false),
		PipelineRun:   snapshotOp(c.ops[OpPipelineRun], false),
		Counters:      counters,
	}
}

// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"strings"
	"sync"
	"time"
)

// Operation names for the collector. Analysis and stage operations are
// recorded under a prefix plus the pipeline or stage name.
const (
	OpSink         = "sink"
	OpBlobPut      = "blob_put"
	analysisPrefix = "analysis:"
	stagePrefix    = "stage:"
)

// series accumulates one operation.
type series struct {
	count    int64
	failures int64
	total    time.Duration
	min      time.Duration
	max      time.Duration

	tokensIn, tokensOut       int64
	maxTokensIn, maxTokensOut int64
}

func (s *series) observe(d time.Duration, ok bool) {
	if s.count == 0 || d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
	s.count++
	s.total += d
	if !ok {
		s.failures++
	}
}

func (s *series) tokens(in, out int64) {
	s.tokensIn += in
	s.tokensOut += out
	s.maxTokensIn = max(s.maxTokensIn, in)
	s.maxTokensOut = max(s.maxTokensOut, out)
}

// OperationSnapshot is the computed view of one operation.
type OperationSnapshot struct {
	Count       int64          `json:"count"`
	Failures    int64          `json:"failures"`
	TotalTimeMs int64          `json:"total_time_ms"`
	AvgTimeMs   float64        `json:"avg_time_ms"`
	MinTimeMs   int64          `json:"min_time_ms"`
	MaxTimeMs   int64          `json:"max_time_ms"`
	Tokens      *TokenSnapshot `json:"tokens,omitempty"`
}

// TokenSnapshot is token usage of analysis calls.
type TokenSnapshot struct {
	Input     int64   `json:"input"`
	Output    int64   `json:"output"`
	AvgInput  float64 `json:"avg_input"`
	AvgOutput float64 `json:"avg_output"`
	MaxInput  int64   `json:"max_input"`
	MaxOutput int64   `json:"max_output"`
}

func (s *series) snapshot() *OperationSnapshot {
	if s == nil || s.count == 0 {
		return nil
	}
	n := float64(s.count)
	snap := &OperationSnapshot{
		Count:       s.count,
		Failures:    s.failures,
		TotalTimeMs: s.total.Milliseconds(),
		AvgTimeMs:   float64(s.total.Milliseconds()) / n,
		MinTimeMs:   s.min.Milliseconds(),
		MaxTimeMs:   s.max.Milliseconds(),
	}
	if s.tokensIn > 0 || s.tokensOut > 0 {
		snap.Tokens = &TokenSnapshot{
			Input:     s.tokensIn,
			Output:    s.tokensOut,
			AvgInput:  float64(s.tokensIn) / n,
			AvgOutput: float64(s.tokensOut) / n,
			MaxInput:  s.maxTokensIn,
			MaxOutput: s.maxTokensOut,
		}
	}
	return snap
}

// Snapshot is the server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64                       `json:"uptime_seconds"`
	Analysis      map[string]*OperationSnapshot `json:"analysis,omitempty"`
	Stages        map[string]*OperationSnapshot `json:"stages,omitempty"`
	Sink          *OperationSnapshot            `json:"sink,omitempty"`
	BlobPut       *OperationSnapshot            `json:"blob_put,omitempty"`
	JobsStarted   int64                         `json:"jobs_started"`
	JobsCompleted int64                         `json:"jobs_completed"`
	JobsFailed    int64                         `json:"jobs_failed"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are safe for concurrent use. Recording on a nil Collector is
// a no-op.
type Collector struct {
	mu    sync.RWMutex
	start time.Time
	ops   map[string]*series

	jobsStarted   int64
	jobsCompleted int64
	jobsFailed    int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{start: time.Now(), ops: make(map[string]*series)}
}

// op returns the series for name. Caller must hold the write lock.
func (c *Collector) op(name string) *series {
	s, ok := c.ops[name]
	if !ok {
		s = &series{}
		c.ops[name] = s
	}
	return s
}

// RecordTiming records one execution of op.
func (c *Collector) RecordTiming(op string, d time.Duration, ok bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.op(op).observe(d, ok)
}

// Timer starts timing op. Call the returned function with the outcome.
func (c *Collector) Timer(op string) func(ok bool) {
	start := time.Now()
	return func(ok bool) {
		c.RecordTiming(op, time.Since(start), ok)
	}
}

// RecordStage records how long a pipeline stage took.
func (c *Collector) RecordStage(stage string, d time.Duration, ok bool) {
	c.RecordTiming(stagePrefix+stage, d, ok)
}

// RecordAnalysis records timing and token usage for one analysis call.
func (c *Collector) RecordAnalysis(pipeline string, d time.Duration, inputTokens, outputTokens int64, ok bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.op(analysisPrefix + pipeline)
	s.observe(d, ok)
	s.tokens(inputTokens, outputTokens)
}

// JobStarted counts a launched job.
func (c *Collector) JobStarted() {
	c.count(func() { c.jobsStarted++ })
}

// JobCompleted counts a job that reached COMPLETE.
func (c *Collector) JobCompleted() {
	c.count(func() { c.jobsCompleted++ })
}

// JobFailed counts a job that reached FAILED.
func (c *Collector) JobFailed() {
	c.count(func() { c.jobsFailed++ })
}

func (c *Collector) count(inc func()) {
	if c == nil {
		return
	}
	c.mu.Lock()
	inc()
	c.mu.Unlock()
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.start).Seconds(),
		Sink:          c.ops[OpSink].snapshot(),
		BlobPut:       c.ops[OpBlobPut].snapshot(),
		JobsStarted:   c.jobsStarted,
		JobsCompleted: c.jobsCompleted,
		JobsFailed:    c.jobsFailed,
	}
	group := func(dst *map[string]*OperationSnapshot, name string, s *series) {
		if *dst == nil {
			*dst = make(map[string]*OperationSnapshot)
		}
		(*dst)[name] = s.snapshot()
	}
	for name, s := range c.ops {
		if rest, ok := strings.CutPrefix(name, analysisPrefix); ok {
			group(&snap.Analysis, rest, s)
		} else if rest, ok := strings.CutPrefix(name, stagePrefix); ok {
			group(&snap.Stages, rest, s)
		}
	}
	return snap
}

package metrics

import (
	"sync"
	"time"
)

// Snapshot is a read-only copy of the collector's counters.
type Snapshot struct {
	TotalQueries     int64
	CacheHits        int64
	CacheMisses      int64
	ErrorCount       int64
	RetryCount       int64
	BatchCount       int64
	DedupCount       int64
	ExecutionSamples int64
	AvgExecutionMs   float64
	MinExecutionMs   float64 // 0 until the first sample
	MaxExecutionMs   float64
}

// Collector keeps running counters for the engine. All methods are safe for concurrent use.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector returns a zeroed collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordExecution folds one provider execution time into min/avg/max.
// The average is recomputed as (avg*(n-1) + x) / n on every sample.
func (c *Collector) RecordExecution(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.s.ExecutionSamples++
	n := float64(c.s.ExecutionSamples)
	c.s.AvgExecutionMs = (c.s.AvgExecutionMs*(n-1) + ms) / n

	if c.s.ExecutionSamples == 1 || ms < c.s.MinExecutionMs {
		c.s.MinExecutionMs = ms
	}
	if ms > c.s.MaxExecutionMs {
		c.s.MaxExecutionMs = ms
	}
}

func (c *Collector) incr(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Counter helpers ---

func (c *Collector) RecordQuery()     { c.incr(&c.s.TotalQueries) }
func (c *Collector) RecordCacheHit()  { c.incr(&c.s.CacheHits) }
func (c *Collector) RecordCacheMiss() { c.incr(&c.s.CacheMisses) }
func (c *Collector) RecordError()     { c.incr(&c.s.ErrorCount) }
func (c *Collector) RecordRetry()     { c.incr(&c.s.RetryCount) }
func (c *Collector) RecordBatch()     { c.incr(&c.s.BatchCount) }
func (c *Collector) RecordDedup()     { c.incr(&c.s.DedupCount) }

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// Reset zeroes every counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s = Snapshot{}
}

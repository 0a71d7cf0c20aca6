package queryopt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/burugo/queryopt/internal/batch"
	"github.com/burugo/queryopt/internal/cache"
	"github.com/burugo/queryopt/internal/dedup"
	"github.com/burugo/queryopt/internal/metrics"
)

// cachedResult is the cache payload: the executed result plus the collection it was read
// from, used by InvalidateCollection.
type cachedResult struct {
	collection string
	result     *QueryResult
}

// Metrics is a snapshot of the optimizer counters.
type Metrics struct {
	TotalQueries     int64
	CacheHits        int64
	CacheMisses      int64
	ErrorCount       int64
	RetryCount       int64
	BatchCount       int64
	DedupCount       int64
	ExecutionSamples int64
	AvgExecutionMs   float64
	MinExecutionMs   float64 // 0 until the first provider execution
	MaxExecutionMs   float64

	InFlightQueries int // distinct keys currently executing
	PendingBatch    int // members waiting in the open batch group
}

// CacheStats describes the result cache.
type CacheStats struct {
	Size           int
	MaxSize        int
	Hits           int64
	Misses         int64
	HitRate        float64
	OldestEntryAge time.Duration
	NewestEntryAge time.Duration
	TotalEntryHits int64
}

// Option customizes an Optimizer.
type Option func(*Optimizer)

// WithClock replaces the time source used for cache expiry and history timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) { o.now = now }
}

// WithListener subscribes l from the start.
func WithListener(l Listener) Option {
	return func(o *Optimizer) { o.listeners.add(l) }
}

// Optimizer executes read queries against a Provider through a result cache, a
// deduplication registry and an optional batch scheduler, and keeps metrics and a
// bounded query history. It is safe for concurrent use.
type Optimizer struct {
	cfg       Config
	provider  Provider
	exec      *executor
	cache     *cache.Store[cachedResult]
	pending   *dedup.Registry[*QueryResult]
	scheduler *batch.Scheduler[execRequest, *QueryResult]
	metrics   *metrics.Collector
	history   *history
	listeners listenerSet
	now       func() time.Time
	closed    atomic.Bool
}

// New creates an optimizer for provider with the given configuration.
func New(provider Provider, cfg Config, opts ...Option) (*Optimizer, error) {
	if provider == nil {
		return nil, ErrProviderNotSet
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Optimizer{
		cfg:      cfg,
		provider: provider,
		metrics:  metrics.NewCollector(),
		pending:  dedup.New[*QueryResult](),
		history:  newHistory(cfg.HistorySize),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.exec = &executor{provider: provider, cfg: cfg, metrics: o.metrics}
	o.cache = cache.NewStore[cachedResult](cfg.MaxCacheSize, cfg.CacheTTL)
	o.cache.SetClock(o.now)
	if cfg.EnableBatching {
		o.scheduler = batch.New(batch.Config{Size: cfg.BatchSize, Timeout: cfg.BatchTimeout},
			o.exec.executeWithRetry, o.onFlush)
	}
	return o, nil
}

// ExecuteQuery runs a query on collection: cache lookup, then deduplication against
// identical in-flight queries, then the batch scheduler or a direct provider call, then
// the cache write.
func (o *Optimizer) ExecuteQuery(ctx context.Context, collection string, opts QueryOptions) (*QueryResult, error) {
	return o.query(ctx, collection, opts, true)
}

func (o *Optimizer) query(ctx context.Context, collection string, opts QueryOptions, record bool) (*QueryResult, error) {
	start := time.Now()
	queryID := uuid.NewString()
	d := opts.descriptor(collection)
	o.metrics.RecordQuery()

	if o.closed.Load() {
		return nil, o.failed(queryID, "", collection, opts, start, ErrClosed, record)
	}
	if err := d.Validate(); err != nil {
		return nil, o.failed(queryID, "", collection, opts, start, err, record)
	}

	key := DeriveCacheKey(d)
	if opts.IncludeTotalCount {
		key += "#count"
	}

	if o.cfg.EnableCaching && !opts.SkipCache {
		if entry, ok := o.cache.Get(key); ok {
			o.cache.RecordHit(key)
			o.metrics.RecordCacheHit()
			log.Printf("CACHE HIT: Query Key: %s", key)

			res := entry.Value.result.clone()
			res.FromCache = true
			res.QueryID = queryID
			res.CacheKey = key
			res.ExecutionTime = time.Since(start)
			o.observe(record, QueryRecord{
				QueryID: queryID, Key: key, Collection: collection, Options: opts,
				Duration: res.ExecutionTime, FromCache: true, At: o.now(),
			}, CacheHit{At: o.now(), QueryID: queryID, Key: key, Collection: collection, HitCount: entry.HitCount + 1})
			return res, nil
		}
		o.metrics.RecordCacheMiss()
		log.Printf("CACHE MISS: Query Key: %s", key)
		o.emit(CacheMiss{At: o.now(), QueryID: queryID, Key: key, Collection: collection})
	}

	req := execRequest{desc: d, key: key, includeCount: opts.IncludeTotalCount}
	var (
		shared *QueryResult
		joined bool
		err    error
	)
	if o.cfg.EnableDeduplication {
		shared, joined, err = o.pending.Do(ctx, key, func(ctx context.Context) (*QueryResult, error) {
			return o.run(ctx, req)
		})
		if joined {
			o.metrics.RecordDedup()
			log.Printf("DEDUP JOIN: Query Key: %s", key)
		}
	} else {
		shared, err = o.run(ctx, req)
	}
	if err != nil {
		return nil, o.failed(queryID, key, collection, opts, start, err, record)
	}

	res := shared.clone()
	res.QueryID = queryID
	res.CacheKey = key
	res.FromCache = false
	res.ExecutionTime = time.Since(start)
	o.observe(record, QueryRecord{
		QueryID: queryID, Key: key, Collection: collection, Options: opts,
		Duration: res.ExecutionTime, At: o.now(),
	}, QueryExecuted{
		At: o.now(), QueryID: queryID, Key: key, Collection: collection,
		Duration: res.ExecutionTime, Records: len(res.Data), Joined: joined,
	})
	return res, nil
}

// run executes req once (through the scheduler when batching is on) and caches the result.
// With deduplication it runs once per shared call, not once per caller.
func (o *Optimizer) run(ctx context.Context, req execRequest) (*QueryResult, error) {
	var (
		res *QueryResult
		err error
	)
	if o.scheduler != nil {
		res, err = o.scheduler.Enqueue(ctx, req)
		if errors.Is(err, batch.ErrClosed) {
			err = ErrClosed
		}
	} else {
		res, err = o.exec.executeWithRetry(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	if o.cfg.EnableCaching {
		if evicted, ok := o.cache.Put(req.key, cachedResult{collection: req.desc.Collection, result: res}); ok {
			log.Printf("CACHE EVICT: Key: %s", evicted)
			o.emit(CacheEvicted{At: o.now(), Key: evicted})
		}
	}
	return res, nil
}

func (o *Optimizer) failed(queryID, key, collection string, opts QueryOptions, start time.Time, err error, record bool) error {
	o.metrics.RecordError()
	log.Printf("QUERY ERROR: collection %s, key %q: %v", collection, key, err)
	o.observe(record, QueryRecord{
		QueryID: queryID, Key: key, Collection: collection, Options: opts,
		Duration: time.Since(start), Err: err, At: o.now(),
	}, QueryError{At: o.now(), QueryID: queryID, Key: key, Collection: collection, Err: err})
	return err
}

func (o *Optimizer) onFlush(fi batch.FlushInfo) {
	o.metrics.RecordBatch()
	if fi.Err != nil {
		log.Printf("BATCH ERROR: batch %s (%d members) failed after %s: %v", fi.ID, fi.Size, fi.Duration, fi.Err)
	}
	o.emit(BatchProcessed{At: o.now(), BatchID: fi.ID, Size: fi.Size, Duration: fi.Duration, Err: fi.Err})
}

// observe records r in the history (when record is set) and emits e, if monitoring is on.
func (o *Optimizer) observe(record bool, r QueryRecord, e Event) {
	if !o.cfg.EnableMonitoring {
		return
	}
	if record {
		r.Options.SkipCache = false
		o.history.add(r)
	}
	o.listeners.emit(e)
}

func (o *Optimizer) emit(e Event) {
	if o.cfg.EnableMonitoring {
		o.listeners.emit(e)
	}
}

// ExecuteBatch runs every query concurrently through ExecuteQuery and returns the results
// in input order. When batching is enabled the queries are grouped by the batch scheduler.
// The first error is returned and the remaining queries are cancelled.
func (o *Optimizer) ExecuteBatch(ctx context.Context, queries []BatchQuery) ([]*QueryResult, error) {
	results := make([]*QueryResult, len(queries))
	eg, ctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		eg.Go(func() error {
			res, err := o.ExecuteQuery(ctx, q.Collection, q.Options)
			if err != nil {
				return fmt.Errorf("batch query %d (%s): %w", i, q.Collection, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Preload executes the queries and writes their results into the cache, bypassing the
// cache lookup. Preloads are not recorded in the query history.
func (o *Optimizer) Preload(ctx context.Context, queries ...BatchQuery) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		q := q
		q.Options.SkipCache = true
		eg.Go(func() error {
			_, err := o.query(ctx, q.Collection, q.Options, false)
			return err
		})
	}
	return eg.Wait()
}

// PreloadFrequent refreshes the cached results of the n most frequent queries in the
// history and returns how many were preloaded.
func (o *Optimizer) PreloadFrequent(ctx context.Context, n int) (int, error) {
	freq := o.history.mostFrequent(n)
	queries := make([]BatchQuery, len(freq))
	for i, f := range freq {
		queries[i] = BatchQuery{Collection: f.Collection, Options: f.Options}
	}
	if err := o.Preload(ctx, queries...); err != nil {
		return 0, err
	}
	return len(queries), nil
}

// GetMetrics returns a snapshot of the counters.
func (o *Optimizer) GetMetrics() Metrics {
	s := o.metrics.Snapshot()
	m := Metrics{
		TotalQueries:     s.TotalQueries,
		CacheHits:        s.CacheHits,
		CacheMisses:      s.CacheMisses,
		ErrorCount:       s.ErrorCount,
		RetryCount:       s.RetryCount,
		BatchCount:       s.BatchCount,
		DedupCount:       s.DedupCount,
		ExecutionSamples: s.ExecutionSamples,
		AvgExecutionMs:   s.AvgExecutionMs,
		MinExecutionMs:   s.MinExecutionMs,
		MaxExecutionMs:   s.MaxExecutionMs,
		InFlightQueries:  o.pending.InFlight(),
	}
	if o.scheduler != nil {
		m.PendingBatch = o.scheduler.Pending()
	}
	return m
}

// GetCacheStats returns the cache statistics.
func (o *Optimizer) GetCacheStats() CacheStats {
	s := o.cache.Stats()
	return CacheStats{
		Size:           s.Size,
		MaxSize:        s.MaxSize,
		Hits:           s.Hits,
		Misses:         s.Misses,
		HitRate:        s.HitRate,
		OldestEntryAge: s.OldestEntryAge,
		NewestEntryAge: s.NewestEntryAge,
		TotalEntryHits: s.TotalEntryHits,
	}
}

// ClearCache drops every cached result and resets the metrics.
func (o *Optimizer) ClearCache() {
	n := o.cache.Clear()
	o.metrics.Reset()
	log.Printf("CACHE CLEAR: %d entries dropped", n)
	o.emit(CacheCleared{At: o.now(), Entries: n})
}

// InvalidateCollection drops the cached results read from collection and returns how many
// were dropped.
func (o *Optimizer) InvalidateCollection(collection string) int {
	n := o.cache.DeleteFunc(func(_ string, v cachedResult) bool {
		return v.collection == collection
	})
	log.Printf("CACHE INVALIDATE: collection %s, %d entries dropped", collection, n)
	o.emit(CacheCleared{At: o.now(), Collection: collection, Entries: n})
	return n
}

// ClearHistory empties the query history.
func (o *Optimizer) ClearHistory() {
	o.history.clear()
}

// GetSlowestQueries returns up to n successful history records, slowest first.
func (o *Optimizer) GetSlowestQueries(n int) []QueryRecord {
	return o.history.slowest(n)
}

// GetMostFrequentQueries returns up to n history groups, most frequent first.
func (o *Optimizer) GetMostFrequentQueries(n int) []QueryFrequency {
	return o.history.mostFrequent(n)
}

// Subscribe adds a listener and returns a function that removes it.
func (o *Optimizer) Subscribe(l Listener) (unsubscribe func()) {
	return o.listeners.add(l)
}

// Provider returns the provider the optimizer reads from.
func (o *Optimizer) Provider() Provider {
	return o.provider
}

// Close flushes any pending batch and rejects later queries with ErrClosed. It does not
// close the provider.
func (o *Optimizer) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	if o.scheduler != nil {
		o.scheduler.Close()
	}
	return nil
}

// IsClosed reports whether Close was called.
func (o *Optimizer) IsClosed() bool {
	return o.closed.Load()
}

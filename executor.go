package queryopt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/burugo/queryopt/internal/metrics"
)

// execRequest is the unit handed to the dedup registry and the batch scheduler.
type execRequest struct {
	desc         Descriptor
	key          string
	includeCount bool
}

// executor turns descriptors into provider calls and normalizes the response.
type executor struct {
	provider Provider
	cfg      Config
	metrics  *metrics.Collector
}

// execute runs one provider attempt under the configured query timeout.
func (e *executor) execute(ctx context.Context, req execRequest) (*QueryResult, error) {
	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	q := buildProviderQuery(req.desc)
	start := time.Now()

	docs, err := e.provider.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: find %s: %w", e.provider.Name(), req.desc.Collection, err)
	}

	records := make([]Record, len(docs))
	for i, doc := range docs {
		records[i] = doc.Record()
	}

	requested := req.desc.PageSize
	if requested <= 0 {
		requested = e.cfg.DefaultPageSize
	}
	res := &QueryResult{
		Data:    records,
		HasMore: len(records) == requested,
	}
	if len(records) > 0 {
		res.LastRecord = records[len(records)-1].ID()
	}

	if req.includeCount {
		if counter, ok := e.provider.(Counter); ok {
			n, err := counter.Count(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("%s: count %s: %w", e.provider.Name(), req.desc.Collection, err)
			}
			res.TotalCount = &n
		}
	}

	res.ExecutionTime = time.Since(start)
	e.metrics.RecordExecution(res.ExecutionTime)
	return res, nil
}

// executeWithRetry wraps execute with the configured retry policy. Invalid queries, missing
// cursors and cancellations are returned at once.
func (e *executor) executeWithRetry(ctx context.Context, req execRequest) (*QueryResult, error) {
	for attempt := 0; ; attempt++ {
		res, err := e.execute(ctx, req)
		if err == nil {
			return res, nil
		}
		if attempt >= e.cfg.MaxRetries || !retryable(err) || ctx.Err() != nil {
			return nil, err
		}

		delay := e.cfg.retryDelay(attempt)
		e.metrics.RecordRetry()
		log.Printf("WARN: query %s failed (attempt %d/%d), retrying in %s: %v",
			req.key, attempt+1, e.cfg.MaxRetries+1, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("retry %s: %w (last error: %v)", req.key, ctx.Err(), err)
		case <-timer.C:
		}
	}
}

func retryable(err error) bool {
	return !errors.Is(err, ErrInvalidQuery) &&
		!errors.Is(err, ErrCursorNotFound) &&
		!errors.Is(err, context.Canceled)
}

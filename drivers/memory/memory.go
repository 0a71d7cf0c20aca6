// Package memory is an in-process provider keeping each collection in a B-tree ordered by
// document id. Queries are evaluated with internal/match.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/btree"

	"github.com/burugo/queryopt"
	"github.com/burugo/queryopt/internal/match"
	"github.com/burugo/queryopt/internal/utils"
)

// Stats counts provider calls.
type Stats struct {
	Finds   int64
	Counts  int64
	Puts    int64
	Deletes int64
}

// Option configures a Provider.
type Option func(*Provider)

// WithLatency delays every Find and Count by d, to stand in for a remote store.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// Provider is a queryopt.Provider, Counter and Writer held in memory.
type Provider struct {
	mu          sync.RWMutex
	collections map[string]*btree.Map[string, queryopt.Document]
	latency     time.Duration

	finds, counts, puts, deletes atomic.Int64
}

var (
	_ queryopt.Provider = (*Provider)(nil)
	_ queryopt.Counter  = (*Provider)(nil)
	_ queryopt.Writer   = (*Provider)(nil)
)

// NewProvider returns an empty provider.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{collections: make(map[string]*btree.Map[string, queryopt.Document])}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (*Provider) Name() string { return "memory" }

func (p *Provider) wait(ctx context.Context) error {
	if p.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// snapshot returns the documents of a collection in id order.
func (p *Provider) snapshot(collection string) []queryopt.Document {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tree, ok := p.collections[collection]
	if !ok {
		return nil
	}
	docs := make([]queryopt.Document, 0, tree.Len())
	tree.Scan(func(_ string, doc queryopt.Document) bool {
		docs = append(docs, doc)
		return true
	})
	return docs
}

func (p *Provider) Find(ctx context.Context, q *queryopt.ProviderQuery) ([]queryopt.Document, error) {
	p.finds.Add(1)
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	docs, err := match.Apply(p.snapshot(q.Collection), q)
	if err != nil {
		return nil, err
	}
	out := make([]queryopt.Document, len(docs))
	for i, doc := range docs {
		out[i] = copyDocument(doc)
	}
	return out, nil
}

func (p *Provider) Count(ctx context.Context, q *queryopt.ProviderQuery) (int64, error) {
	p.counts.Add(1)
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	return match.Count(p.snapshot(q.Collection), q)
}

// Put inserts or replaces docs. Payloads are copied and normalized to their JSON shape.
func (p *Provider) Put(_ context.Context, collection string, docs ...queryopt.Document) error {
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("%w: document without id in %s", queryopt.ErrInvalidQuery, collection)
		}
	}
	p.puts.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	tree, ok := p.collections[collection]
	if !ok {
		tree = btree.NewMap[string, queryopt.Document](0)
		p.collections[collection] = tree
	}
	for _, doc := range docs {
		tree.Set(doc.ID, copyDocument(doc))
	}
	return nil
}

func (p *Provider) Delete(_ context.Context, collection string, ids ...string) error {
	p.deletes.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	tree, ok := p.collections[collection]
	if !ok {
		return nil
	}
	for _, id := range ids {
		tree.Delete(id)
	}
	return nil
}

// Len returns the number of documents in collection.
func (p *Provider) Len(collection string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if tree, ok := p.collections[collection]; ok {
		return tree.Len()
	}
	return 0
}

func (p *Provider) Stats() Stats {
	return Stats{
		Finds:   p.finds.Load(),
		Counts:  p.counts.Load(),
		Puts:    p.puts.Load(),
		Deletes: p.deletes.Load(),
	}
}

func copyDocument(doc queryopt.Document) queryopt.Document {
	data, _ := utils.NormalizeValue(doc.Data).(map[string]interface{})
	if data == nil {
		data = map[string]interface{}{}
	}
	return queryopt.Document{ID: doc.ID, Data: data}
}

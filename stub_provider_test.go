package queryopt

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// stubProvider is an in-test Provider with call counters, modeled on a mock client: it
// records every query it receives and can be told to block, fail or return fixed docs.
type stubProvider struct {
	mu        sync.Mutex
	calls     int
	counts    int
	queries   []*ProviderQuery
	gate      chan struct{}
	findFn    func(q *ProviderQuery) ([]Document, error)
	totalSize int64
}

func newStubProvider() *stubProvider {
	return &stubProvider{findFn: echoDocs(3), totalSize: 42}
}

// echoDocs returns q.Max documents (or n when unlimited) whose "value" field echoes the
// first filter value.
func echoDocs(n int) func(q *ProviderQuery) ([]Document, error) {
	return func(q *ProviderQuery) ([]Document, error) {
		size := n
		if q.Max > 0 {
			size = q.Max
		}
		var value any
		if len(q.Filters) > 0 {
			value = q.Filters[0].Value
		}
		docs := make([]Document, size)
		for i := range docs {
			docs[i] = Document{ID: fmt.Sprintf("%s-%d", q.Collection, i), Data: map[string]any{"value": value}}
		}
		return docs, nil
	}
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Find(ctx context.Context, q *ProviderQuery) ([]Document, error) {
	p.mu.Lock()
	p.calls++
	p.queries = append(p.queries, q)
	gate, fn := p.gate, p.findFn
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return fn(q)
}

func (p *stubProvider) Count(ctx context.Context, q *ProviderQuery) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts++
	return p.totalSize, nil
}

func (p *stubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *stubProvider) LastQuery() *ProviderQuery {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queries) == 0 {
		return nil
	}
	return p.queries[len(p.queries)-1]
}

func (p *stubProvider) setFind(fn func(q *ProviderQuery) ([]Document, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.findFn = fn
}

func (p *stubProvider) block() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate = make(chan struct{})
	return p.gate
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// eventRecorder collects events delivered to it.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(match func(Event) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if match(e) {
			n++
		}
	}
	return n
}

func isEvent[T Event](e Event) bool {
	_, ok := e.(T)
	return ok
}

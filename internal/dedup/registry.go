// Package dedup collapses concurrent identical requests into a single underlying call.
package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Registry maps a key to the call currently in flight for it.
//
// The first caller for a key (the leader) starts the call; every caller that arrives while
// it is still running joins it and observes the same value or error. The registration is
// dropped as soon as the call settles, whether it succeeded or failed, so a failed call
// never blocks later attempts.
type Registry[V any] struct {
	mu       sync.Mutex
	group    singleflight.Group
	calls    map[string]uint64 // key -> generation of the running call
	gen      uint64
	inFlight atomic.Int64
}

// New creates an empty registry.
func New[V any]() *Registry[V] {
	return &Registry[V]{calls: make(map[string]uint64)}
}

// Do runs fn under key unless a call for key is already running, in which case it waits for
// that call instead. joined reports whether this caller attached to an existing call; it is
// decided before Do waits, so it holds even when ctx ends first.
//
// fn runs with a context detached from ctx's cancellation so that the leader going away does
// not fail the joiners; callers stop waiting (and get ctx.Err()) when their own ctx ends.
func (r *Registry[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (v V, joined bool, err error) {
	shared := context.WithoutCancel(ctx)

	r.mu.Lock()
	_, joined = r.calls[key]
	if !joined {
		r.gen++
		gen := r.gen
		r.calls[key] = gen
		r.inFlight.Add(1)
		ch := r.group.DoChan(key, func() (interface{}, error) {
			defer r.settle(key, gen)
			return fn(shared)
		})
		r.mu.Unlock()
		return wait[V](ctx, ch, joined)
	}
	ch := r.group.DoChan(key, func() (interface{}, error) {
		return nil, errors.New("dedup: call for key settled before join")
	})
	r.mu.Unlock()
	return wait[V](ctx, ch, joined)
}

func wait[V any](ctx context.Context, ch <-chan singleflight.Result, joined bool) (v V, _ bool, err error) {
	select {
	case res := <-ch:
		if res.Err != nil {
			return v, joined, res.Err
		}
		if res.Val != nil {
			v = res.Val.(V)
		}
		return v, joined, nil
	case <-ctx.Done():
		return v, joined, ctx.Err()
	}
}

// settle drops the registration of the call with generation gen. The singleflight entry
// is forgotten under the same lock so that the two never disagree about a running call.
func (r *Registry[V]) settle(key string, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight.Add(-1)
	if r.calls[key] == gen {
		delete(r.calls, key)
		r.group.Forget(key)
	}
}

// InFlight reports how many calls are currently running.
func (r *Registry[V]) InFlight() int {
	return int(r.inFlight.Load())
}

// Forget drops the registration for key so the next caller starts a fresh call.
// Callers already waiting keep waiting for the original call.
func (r *Registry[V]) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, key)
	r.group.Forget(key)
}

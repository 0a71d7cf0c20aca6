// Package batch groups independent requests and executes them together.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("batch: scheduler closed")

// ExecFunc executes a single member of a flushed group.
type ExecFunc[Req, Res any] func(ctx context.Context, req Req) (Res, error)

// FlushInfo describes a finished flush.
type FlushInfo struct {
	ID       string
	Size     int
	Duration time.Duration
	Err      error
}

// Config holds the flush thresholds.
type Config struct {
	Size    int           // Flush as soon as a group holds this many members
	Timeout time.Duration // Flush this long after the first member joined an empty group
}

type outcome[Res any] struct {
	res Res
	err error
}

type member[Req, Res any] struct {
	req  Req
	done chan outcome[Res]
}

// Group is one batch: its members in enqueue order plus the timer that will flush it.
type Group[Req, Res any] struct {
	ID        string
	CreatedAt time.Time
	members   []member[Req, Res]
	timer     *time.Timer
}

// Scheduler accumulates requests into the open group and flushes it when it reaches
// Config.Size members or Config.Timeout after its first member, whichever comes first.
//
// A flushed group is detached under the lock before it runs, so it never accepts new
// members; later arrivals open a fresh group. Every member of a group is started before
// any is awaited. If any member fails, every member of that group receives the same error.
type Scheduler[Req, Res any] struct {
	cfg     Config
	exec    ExecFunc[Req, Res]
	onFlush func(FlushInfo)

	mu     sync.Mutex
	open   *Group[Req, Res]
	closed bool
	wg     sync.WaitGroup
}

// New creates a scheduler. onFlush may be nil.
func New[Req, Res any](cfg Config, exec ExecFunc[Req, Res], onFlush func(FlushInfo)) *Scheduler[Req, Res] {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	return &Scheduler[Req, Res]{cfg: cfg, exec: exec, onFlush: onFlush}
}

// Enqueue adds req to the open group and waits for the group's outcome.
// If ctx ends first, Enqueue returns ctx.Err(); the member still executes with its group.
func (s *Scheduler[Req, Res]) Enqueue(ctx context.Context, req Req) (Res, error) {
	done := make(chan outcome[Res], 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		var zero Res
		return zero, ErrClosed
	}
	if s.open == nil {
		g := &Group[Req, Res]{ID: uuid.NewString(), CreatedAt: time.Now()}
		s.open = g
		if s.cfg.Timeout > 0 {
			g.timer = time.AfterFunc(s.cfg.Timeout, func() { s.flushIfOpen(g) })
		}
	}
	g := s.open
	g.members = append(g.members, member[Req, Res]{req: req, done: done})
	full := len(g.members) >= s.cfg.Size || s.cfg.Timeout <= 0
	if full {
		s.detachLocked()
	}
	s.mu.Unlock()

	if full {
		s.run(g)
	}

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		var zero Res
		return zero, ctx.Err()
	}
}

// detachLocked closes the open group to new members. Caller holds s.mu.
func (s *Scheduler[Req, Res]) detachLocked() {
	if s.open == nil {
		return
	}
	if s.open.timer != nil {
		s.open.timer.Stop()
	}
	s.open = nil
	s.wg.Add(1)
}

// flushIfOpen is the timer callback; it only flushes g if g is still the open group.
func (s *Scheduler[Req, Res]) flushIfOpen(g *Group[Req, Res]) {
	s.mu.Lock()
	if s.open != g {
		s.mu.Unlock()
		return
	}
	s.detachLocked()
	s.mu.Unlock()
	s.run(g)
}

// run executes every member of g concurrently and settles all of them together.
func (s *Scheduler[Req, Res]) run(g *Group[Req, Res]) {
	defer s.wg.Done()
	start := time.Now()

	results := make([]Res, len(g.members))
	eg, ctx := errgroup.WithContext(context.Background())
	for i, m := range g.members {
		i, req := i, m.req
		eg.Go(func() error {
			res, err := s.exec(ctx, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	err := eg.Wait()

	for i, m := range g.members {
		if err != nil {
			m.done <- outcome[Res]{err: err}
			continue
		}
		m.done <- outcome[Res]{res: results[i]}
	}

	if s.onFlush != nil {
		s.onFlush(FlushInfo{ID: g.ID, Size: len(g.members), Duration: time.Since(start), Err: err})
	}
}

// Pending reports how many members are waiting in the open group.
func (s *Scheduler[Req, Res]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return 0
	}
	return len(s.open.members)
}

// Flush flushes the open group now, if there is one, and waits for it to settle.
func (s *Scheduler[Req, Res]) Flush() {
	s.mu.Lock()
	g := s.open
	s.detachLocked()
	s.mu.Unlock()
	if g != nil {
		s.run(g)
	}
}

// Close flushes the open group, waits for running flushes and rejects later Enqueue calls.
func (s *Scheduler[Req, Res]) Close() {
	s.mu.Lock()
	s.closed = true
	g := s.open
	s.detachLocked()
	s.mu.Unlock()
	if g != nil {
		s.run(g)
	}
	s.wg.Wait()
}

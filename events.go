package queryopt

import (
	"sync"
	"time"
)

// Event is one of CacheHit, CacheMiss, QueryExecuted, QueryError, BatchProcessed,
// CacheCleared or CacheEvicted. Listeners switch on the concrete type.
type Event interface {
	EventTime() time.Time
	isEvent()
}

// CacheHit is emitted when a query is answered from the cache.
type CacheHit struct {
	At         time.Time
	QueryID    string
	Key        string
	Collection string
	HitCount   int64
}

// CacheMiss is emitted when a cache lookup finds nothing usable.
type CacheMiss struct {
	At         time.Time
	QueryID    string
	Key        string
	Collection string
}

// QueryExecuted is emitted after a successful provider execution. Joined is true for
// callers that shared another caller's in-flight execution.
type QueryExecuted struct {
	At         time.Time
	QueryID    string
	Key        string
	Collection string
	Duration   time.Duration
	Records    int
	Joined     bool
}

// QueryError is emitted once per failed caller.
type QueryError struct {
	At         time.Time
	QueryID    string
	Key        string
	Collection string
	Err        error
}

// BatchProcessed is emitted after every batch flush.
type BatchProcessed struct {
	At       time.Time
	BatchID  string
	Size     int
	Duration time.Duration
	Err      error
}

// CacheCleared is emitted by ClearCache (Collection empty) and InvalidateCollection.
type CacheCleared struct {
	At         time.Time
	Collection string
	Entries    int
}

// CacheEvicted is emitted when a capacity eviction drops an entry.
type CacheEvicted struct {
	At  time.Time
	Key string
}

func (e CacheHit) EventTime() time.Time       { return e.At }
func (e CacheMiss) EventTime() time.Time      { return e.At }
func (e QueryExecuted) EventTime() time.Time  { return e.At }
func (e QueryError) EventTime() time.Time     { return e.At }
func (e BatchProcessed) EventTime() time.Time { return e.At }
func (e CacheCleared) EventTime() time.Time   { return e.At }
func (e CacheEvicted) EventTime() time.Time   { return e.At }

func (CacheHit) isEvent()       {}
func (CacheMiss) isEvent()      {}
func (QueryExecuted) isEvent()  {}
func (QueryError) isEvent()     {}
func (BatchProcessed) isEvent() {}
func (CacheCleared) isEvent()   {}
func (CacheEvicted) isEvent()   {}

// listenerSet holds subscribed listeners. emit copies the set under the lock and calls
// listeners after releasing it, so a listener may subscribe or unsubscribe re-entrantly.
type listenerSet struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
}

func (s *listenerSet) add(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[int]Listener)
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *listenerSet) emit(e Event) {
	s.mu.Lock()
	if len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()

	for _, l := range ls {
		l.OnEvent(e)
	}
}

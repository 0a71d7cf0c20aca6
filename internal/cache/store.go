package cache

import (
	"sync"
	"time"
)

// Entry is a single cached value together with its bookkeeping.
type Entry[V any] struct {
	Key        string
	Value      V
	InsertedAt time.Time
	HitCount   int64
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Size           int
	MaxSize        int
	Hits           int64
	Misses         int64
	HitRate        float64 // Hits / (Hits + Misses), 0 before the first lookup
	OldestEntryAge time.Duration
	NewestEntryAge time.Duration
	TotalEntryHits int64 // Sum of HitCount over live entries
}

// Store is a bounded key->value mapping with insertion timestamps and per-entry hit counters.
//
// Expiry is lazy: Get treats an entry older than the TTL as absent but leaves it in place,
// so it still occupies a slot until it is overwritten or evicted. When the store is full,
// inserting a new key evicts exactly one entry, the one with the oldest InsertedAt.
type Store[V any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[V]
	maxSize int
	ttl     time.Duration // <= 0 disables expiry
	now     func() time.Time

	hits   int64
	misses int64
}

// NewStore creates a store holding at most maxSize entries, each valid for ttl.
// A maxSize below 1 is treated as 1.
func NewStore[V any](maxSize int, ttl time.Duration) *Store[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Store[V]{
		entries: make(map[string]*Entry[V], maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Store[V]) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store[V]) expired(e *Entry[V], now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.InsertedAt) >= s.ttl
}

// Get returns a copy of the live entry for key. Missing and expired entries both report false.
func (s *Store[V]) Get(key string) (Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || s.expired(e, s.now()) {
		s.misses++
		return Entry[V]{}, false
	}
	s.hits++
	return *e, true
}

// Put stores value under key and resets its hit counter.
// It returns the key evicted to make room, if any.
func (s *Store[V]) Put(key string, value V) (evicted string, didEvict bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok {
		e.Value = value
		e.InsertedAt = now
		e.HitCount = 0
		return "", false
	}

	if len(s.entries) >= s.maxSize {
		evicted, didEvict = s.evictOldestLocked()
	}
	s.entries[key] = &Entry[V]{Key: key, Value: value, InsertedAt: now}
	return evicted, didEvict
}

// evictOldestLocked removes the single entry with the smallest InsertedAt.
func (s *Store[V]) evictOldestLocked() (string, bool) {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, e := range s.entries {
		if !found || e.InsertedAt.Before(oldest) || (e.InsertedAt.Equal(oldest) && k < oldestKey) {
			oldestKey, oldest, found = k, e.InsertedAt, true
		}
	}
	if found {
		delete(s.entries, oldestKey)
	}
	return oldestKey, found
}

// RecordHit increments the hit counter of key, if present.
func (s *Store[V]) RecordHit(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.HitCount++
	}
}

// Delete removes key. Missing keys are ignored.
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// DeleteFunc removes every entry for which pred returns true and reports how many were removed.
func (s *Store[V]) DeleteFunc(pred func(key string, value V) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if pred(k, e.Value) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Clear removes all entries and resets the lookup counters. It returns the number of entries dropped.
func (s *Store[V]) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[string]*Entry[V], s.maxSize)
	s.hits, s.misses = 0, 0
	return n
}

// Len reports the number of stored entries, expired ones included.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns a snapshot of the store.
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Size:    len(s.entries),
		MaxSize: s.maxSize,
		Hits:    s.hits,
		Misses:  s.misses,
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
	}

	now := s.now()
	first := true
	for _, e := range s.entries {
		age := now.Sub(e.InsertedAt)
		if first || age > st.OldestEntryAge {
			st.OldestEntryAge = age
		}
		if first || age < st.NewestEntryAge {
			st.NewestEntryAge = age
		}
		first = false
		st.TotalEntryHits += e.HitCount
	}
	return st
}

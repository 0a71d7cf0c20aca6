package queryopt

import (
	"sort"
	"sync"
	"time"
)

// QueryRecord is one ExecuteQuery call kept in the query history.
type QueryRecord struct {
	QueryID    string
	Key        string
	Collection string
	Options    QueryOptions
	Duration   time.Duration
	FromCache  bool
	Err        error
	At         time.Time
}

// QueryFrequency aggregates the history records sharing a cache key.
type QueryFrequency struct {
	Key         string
	Collection  string
	Options     QueryOptions // options of the most recent call
	Count       int
	AvgDuration time.Duration
	LastAt      time.Time
}

// history is a fixed-size ring buffer of query records; the oldest record is overwritten
// once it is full. A capacity of 0 disables recording.
type history struct {
	mu    sync.Mutex
	buf   []QueryRecord
	next  int
	count int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]QueryRecord, capacity)}
}

func (h *history) add(r QueryRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buf) == 0 {
		return
	}
	h.buf[h.next] = r
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// records returns the retained records, oldest first.
func (h *history) records() []QueryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]QueryRecord, 0, h.count)
	start := (h.next - h.count + len(h.buf)) % max(len(h.buf), 1)
	for i := 0; i < h.count; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

func (h *history) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.buf)
	h.next = 0
	h.count = 0
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// slowest returns up to n records ordered by descending duration. Failed calls are left
// out; cache hits are kept.
func (h *history) slowest(n int) []QueryRecord {
	if n <= 0 {
		return nil
	}
	var recs []QueryRecord
	for _, r := range h.records() {
		if r.Err == nil {
			recs = append(recs, r)
		}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Duration > recs[j].Duration
	})
	if len(recs) > n {
		recs = recs[:n]
	}
	return recs
}

// mostFrequent groups records by cache key and returns up to n groups ordered by
// descending count, most recent first on ties.
func (h *history) mostFrequent(n int) []QueryFrequency {
	if n <= 0 {
		return nil
	}
	byKey := make(map[string]*QueryFrequency)
	total := make(map[string]time.Duration)
	var order []string
	for _, r := range h.records() {
		f, ok := byKey[r.Key]
		if !ok {
			f = &QueryFrequency{Key: r.Key, Collection: r.Collection}
			byKey[r.Key] = f
			order = append(order, r.Key)
		}
		f.Count++
		f.Options = r.Options
		f.LastAt = r.At
		total[r.Key] += r.Duration
	}

	out := make([]QueryFrequency, 0, len(order))
	for _, k := range order {
		f := byKey[k]
		f.AvgDuration = total[k] / time.Duration(f.Count)
		out = append(out, *f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].LastAt.After(out[j].LastAt)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upper(ctx context.Context, s string) (string, error) {
	return strings.ToUpper(s), nil
}

func TestScheduler_FlushOnSize(t *testing.T) {
	var flushes []FlushInfo
	var mu sync.Mutex
	s := New[string, string](Config{Size: 3, Timeout: time.Hour}, upper, func(fi FlushInfo) {
		mu.Lock()
		defer mu.Unlock()
		flushes = append(flushes, fi)
	})

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i, in := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(i int, in string) {
			defer wg.Done()
			out, err := s.Enqueue(context.Background(), in)
			assert.NoError(t, err)
			results[i] = out
		}(i, in)
	}
	wg.Wait()

	assert.Equal(t, []string{"A", "B", "C"}, results)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushes, 1)
	assert.Equal(t, 3, flushes[0].Size)
	assert.NoError(t, flushes[0].Err)
	assert.NotEmpty(t, flushes[0].ID)
}

func TestScheduler_FlushOnTimeout(t *testing.T) {
	var flushed atomic.Int32
	s := New[string, string](Config{Size: 100, Timeout: 20 * time.Millisecond}, upper, func(FlushInfo) { flushed.Add(1) })

	start := time.Now()
	out, err := s.Enqueue(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "X", out)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int32(1), flushed.Load())
	assert.Zero(t, s.Pending())
}

func TestScheduler_PreservesEnqueueOrder(t *testing.T) {
	// Later members finish first; results must still line up with their requests.
	exec := func(ctx context.Context, d time.Duration) (time.Duration, error) {
		time.Sleep(d)
		return d, nil
	}
	s := New[time.Duration, time.Duration](Config{Size: 3, Timeout: time.Hour}, exec, nil)

	inputs := []time.Duration{30 * time.Millisecond, 10 * time.Millisecond, 1 * time.Millisecond}
	results := make([]time.Duration, len(inputs))
	var wg sync.WaitGroup
	for i, d := range inputs {
		wg.Add(1)
		go func(i int, d time.Duration) {
			defer wg.Done()
			r, err := s.Enqueue(context.Background(), d)
			assert.NoError(t, err)
			results[i] = r
		}(i, d)
	}
	wg.Wait()
	assert.Equal(t, inputs, results)
}

func TestScheduler_AllOrNothing(t *testing.T) {
	boom := errors.New("member b failed")
	var executed atomic.Int32
	exec := func(ctx context.Context, s string) (string, error) {
		executed.Add(1)
		if s == "b" {
			return "", boom
		}
		return s, nil
	}
	var info FlushInfo
	s := New[string, string](Config{Size: 3, Timeout: time.Hour}, exec, func(fi FlushInfo) { info = fi })

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i, in := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(i int, in string) {
			defer wg.Done()
			_, errs[i] = s.Enqueue(context.Background(), in)
		}(i, in)
	}
	wg.Wait()

	for i, err := range errs {
		assert.ErrorIs(t, err, boom, "member %d should be rejected with the batch error", i)
	}
	assert.ErrorIs(t, info.Err, boom)
	assert.Equal(t, int32(3), executed.Load(), "all members are started before any is awaited")
}

func TestScheduler_GroupsDoNotMix(t *testing.T) {
	var sizes []int
	var mu sync.Mutex
	s := New[string, string](Config{Size: 2, Timeout: time.Hour}, upper, func(fi FlushInfo) {
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, fi.Size)
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Enqueue(context.Background(), "x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 2}, sizes)
}

func TestScheduler_CloseFlushesAndRejects(t *testing.T) {
	s := New[string, string](Config{Size: 10, Timeout: time.Hour}, upper, nil)

	res := make(chan string, 1)
	go func() {
		out, err := s.Enqueue(context.Background(), "late")
		assert.NoError(t, err)
		res <- out
	}()
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, time.Millisecond)

	s.Close()
	assert.Equal(t, "LATE", <-res)

	_, err := s.Enqueue(context.Background(), "after")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestScheduler_CallerContext(t *testing.T) {
	s := New[string, string](Config{Size: 10, Timeout: time.Hour}, upper, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Enqueue(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, s.Pending(), "the member stays with its group")
	s.Flush()
	assert.Zero(t, s.Pending())
}

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fastOptions keeps retry backoff out of test runtime.
func fastOptions() FetcherOptions {
	return FetcherOptions{
		MaxRetries:     2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func TestFetcher_FreshHitSkipsUpstream(t *testing.T) {
	c := New[string](10, time.Minute)
	c.Put("k", "cached", `"v1"`)

	var calls int32
	f := NewFetcher(c, func(ctx context.Context, key, validator string) (Outcome[string], error) {
		atomic.AddInt32(&calls, 1)
		return Outcome[string]{Payload: "upstream"}, nil
	}, fastOptions())

	got, err := f.Fetch(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "cached" {
		t.Fatalf("expected cached payload, got %q", got)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("fresh hit must not call upstream, got %d calls", calls)
	}
}

func TestFetcher_MissFetchesAndCaches(t *testing.T) {
	c := New[string](10, time.Minute)
	f := NewFetcher(c, func(ctx context.Context, key, validator string) (Outcome[string], error) {
		if validator != "" {
			t.Errorf("miss must not send a validator, got %q", validator)
		}
		return Outcome[string]{Payload: "fetched", Validator: `"v1"`}, nil
	}, fastOptions())

	got, err := f.Fetch(context.Background(), "k")
	if err != nil || got != "fetched" {
		t.Fatalf("unexpected result: %q, %v", got, err)
	}

	entry, fresh := c.Get("k")
	if entry == nil || !fresh || entry.Validator != `"v1"` {
		t.Fatalf("expected fresh cached entry with validator, got %+v fresh=%v", entry, fresh)
	}
}

func TestFetcher_NotModifiedRefreshesFreshness(t *testing.T) {
	base := time.Now()
	now = func() time.Time { return base }
	t.Cleanup(func() { now = time.Now })

	c := New[string](10, time.Second)
	c.Put("k", "payload1", `"v1"`)
	base = base.Add(2 * time.Second) // stale now

	f := NewFetcher(c, func(ctx context.Context, key, validator string) (Outcome[string], error) {
		if validator != `"v1"` {
			t.Errorf("expected conditional fetch with stored validator, got %q", validator)
		}
		return Outcome[string]{NotModified: true}, nil
	}, fastOptions())

	got, err := f.Fetch(context.Background(), "k")
	if err != nil || got != "payload1" {
		t.Fatalf("unexpected result: %q, %v", got, err)
	}

	entry, fresh := c.Get("k")
	if !fresh || entry.Payload != "payload1" || entry.Validator != `"v1"` {
		t.Fatalf("expected refreshed entry with original payload, got %+v fresh=%v", entry, fresh)
	}
}

func TestFetcher_StaleServeOnTransientFailure(t *testing.T) {
	base := time.Now()
	now = func() time.Time { return base }
	t.Cleanup(func() { now = time.Now })

	c := New[string](10, time.Second)
	c.Put("k", "stale-payload", `"v1"`)
	base = base.Add(time.Minute)

	var staleServed int32
	opts := fastOptions()
	opts.OnStaleServe = func(key string, err error) {
		atomic.AddInt32(&staleServed, 1)
		if !IsTransient(err) {
			t.Errorf("stale-serve cause should be transient, got %v", err)
		}
	}

	var calls int32
	f := NewFetcher(c, func(ctx context.Context, key, validator string) (Outcome[string], error) {
		atomic.AddInt32(&calls, 1)
		return Outcome[string]{}, Transient(errors.New("connection refused"))
	}, opts)

	got, err := f.Fetch(context.Background(), "k")
	if err != nil {
		t.Fatalf("expected stale fallback, got error %v", err)
	}
	if got != "stale-payload" {
		t.Fatalf("expected stale payload, got %q", got)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if atomic.LoadInt32(&staleServed) != 1 {
		t.Fatalf("expected stale-serve hook to fire once, got %d", staleServed)
	}
}

func TestFetcher_NoFallbackPropagatesUnavailable(t *testing.T) {
	c := New[string](10, time.Minute)
	f := NewFetcher(c, func(ctx context.Context, key, validator string) (Outcome[string], error) {
		return Outcome[string]{}, Transient(errors.New("connection refused"))
	}, fastOptions())

	_, err := f.Fetch(context.Background(), "k")
	if err == nil {
		t.Fatalf("expected error on empty cache with unreachable upstream")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestFetcher_DefinitiveErrorBypassesRetry(t *testing.T) {
	notFound := errors.New("prompt not found")
	c := New[string](10, time.Minute)

	var calls int32
	f := NewFetcher(c, func(ctx context.Context, key, validator string) (Outcome[string], error) {
		atomic.AddInt32(&calls, 1)
		return Outcome[string]{}, notFound
	}, fastOptions())

	_, err := f.Fetch(context.Background(), "k")
	if !errors.Is(err, notFound) {
		t.Fatalf("expected the definitive error back, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("definitive failure must not be retried, got %d calls", calls)
	}
}

func TestFetcher_DefinitiveErrorNotMaskedByStale(t *testing.T) {
	base := time.Now()
	now = func() time.Time { return base }
	t.Cleanup(func() { now = time.Now })

	c := New[string](10, time.Second)
	c.Put("k", "stale-payload", "")
	base = base.Add(time.Minute)

	notFound := errors.New("prompt not found")
	f := NewFetcher(c, func(ctx context.Context, key, validator string) (Outcome[string], error) {
		return Outcome[string]{}, notFound
	}, fastOptions())

	_, err := f.Fetch(context.Background(), "k")
	if !errors.Is(err, notFound) {
		t.Fatalf("a definitive failure must surface even with a stale entry, got %v", err)
	}
}

func TestFetcher_TransientRecoversMidRetry(t *testing.T) {
	c := New[string](10, time.Minute)

	var calls int32
	f := NewFetcher(c, func(ctx context.Context, key, validator string) (Outcome[string], error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return Outcome[string]{}, Transient(errors.New("i/o timeout"))
		}
		return Outcome[string]{Payload: "recovered", Validator: `"v2"`}, nil
	}, fastOptions())

	got, err := f.Fetch(context.Background(), "k")
	if err != nil || got != "recovered" {
		t.Fatalf("unexpected result: %q, %v", got, err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected success on third attempt, got %d calls", calls)
	}
}

func TestFetcher_StaleWhileRevalidate(t *testing.T) {
	base := time.Now()
	var mu sync.Mutex
	now = func() time.Time { mu.Lock(); defer mu.Unlock(); return base }
	advance := func(d time.Duration) { mu.Lock(); base = base.Add(d); mu.Unlock() }
	t.Cleanup(func() { now = time.Now })

	c := New[string](10, time.Second)
	c.Put("k", "old-payload", `"v1"`)
	advance(time.Minute)

	done := make(chan error, 1)
	opts := fastOptions()
	opts.StaleWhileRevalidate = true
	opts.OnRevalidated = func(key string, err error) { done <- err }

	blockUpstream := make(chan struct{})
	f := NewFetcher(c, func(ctx context.Context, key, validator string) (Outcome[string], error) {
		<-blockUpstream
		return Outcome[string]{Payload: "new-payload", Validator: `"v2"`}, nil
	}, opts)

	// caller gets the stale payload without waiting on the upstream
	got, err := f.Fetch(context.Background(), "k")
	if err != nil || got != "old-payload" {
		t.Fatalf("expected immediate stale payload, got %q, %v", got, err)
	}

	close(blockUpstream)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("background revalidation failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("background revalidation never completed")
	}

	entry, fresh := c.Get("k")
	if !fresh || entry.Payload != "new-payload" || entry.Validator != `"v2"` {
		t.Fatalf("expected updated entry after revalidation, got %+v fresh=%v", entry, fresh)
	}
}

func TestFetcher_BackgroundFailureIsIsolated(t *testing.T) {
	base := time.Now()
	var mu sync.Mutex
	now = func() time.Time { mu.Lock(); defer mu.Unlock(); return base }
	t.Cleanup(func() { now = time.Now })

	c := New[string](10, time.Second)
	c.Put("k", "old-payload", "")
	mu.Lock()
	base = base.Add(time.Minute)
	mu.Unlock()

	done := make(chan error, 1)
	opts := fastOptions()
	opts.StaleWhileRevalidate = true
	opts.OnRevalidated = func(key string, err error) { done <- err }

	f := NewFetcher(c, func(ctx context.Context, key, validator string) (Outcome[string], error) {
		panic("upstream blew up")
	}, opts)

	got, err := f.Fetch(context.Background(), "k")
	if err != nil || got != "old-payload" {
		t.Fatalf("caller must not see background failures, got %q, %v", got, err)
	}
	// the panic is recovered at the task boundary; nothing to wait for beyond
	// the entry still being intact
	time.Sleep(50 * time.Millisecond)
	if entry, _ := c.Get("k"); entry == nil || entry.Payload != "old-payload" {
		t.Fatalf("stale entry should survive a failed revalidation")
	}
}

func TestFetcher_CoalescesConcurrentRefetches(t *testing.T) {
	c := New[string](10, time.Minute)

	var calls int32
	release := make(chan struct{})
	f := NewFetcher(c, func(ctx context.Context, key, validator string) (Outcome[string], error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return Outcome[string]{Payload: "shared", Validator: `"v1"`}, nil
	}, fastOptions())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.Fetch(context.Background(), "k")
		}()
	}

	// let every caller reach the flight before releasing the upstream
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil || results[i] != "shared" {
			t.Fatalf("caller %d got %q, %v", i, results[i], errs[i])
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected one coalesced upstream call, got %d", got)
	}
}

func TestFetcher_RetryAfterHintFloorsBackoff(t *testing.T) {
	c := New[string](10, time.Minute)

	var timestamps []time.Time
	f := NewFetcher(c, func(ctx context.Context, key, validator string) (Outcome[string], error) {
		timestamps = append(timestamps, time.Now())
		if len(timestamps) == 1 {
			return Outcome[string]{}, &TransientError{Err: errors.New("rate limited"), RetryAfter: 100 * time.Millisecond}
		}
		return Outcome[string]{Payload: "ok"}, nil
	}, FetcherOptions{
		MaxRetries:     1,
		BaseDelay:      time.Millisecond,
		MaxDelay:       time.Second,
		AttemptTimeout: time.Second,
	})

	got, err := f.Fetch(context.Background(), "k")
	if err != nil || got != "ok" {
		t.Fatalf("unexpected result: %q, %v", got, err)
	}
	if gap := timestamps[1].Sub(timestamps[0]); gap < 100*time.Millisecond {
		t.Fatalf("Retry-After hint ignored, retried after %v", gap)
	}
}

package cache

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"golang.org/x/sync/singleflight"
)

// Outcome is the result of one upstream fetch. Exactly one of the two shapes
// applies: NotModified set (the supplied validator still matches, payload and
// validator fields are ignored), or fresh content with its new validator.
type Outcome[V any] struct {
	Payload     V
	Validator   string
	NotModified bool
}

// UpstreamFunc fetches the current content for key. When validator is
// non-empty the fetch is conditional and the upstream may report
// NotModified instead of re-sending the payload. Failures that are safe to
// retry must be wrapped with Transient; every other error is definitive.
type UpstreamFunc[V any] func(ctx context.Context, key, validator string) (Outcome[V], error)

// FetcherOptions configures a Fetcher. Zero values select the defaults.
type FetcherOptions struct {
	// MaxRetries is the number of additional attempts after the first on a
	// transient failure (default 2, i.e. 3 attempts total).
	MaxRetries int

	// BaseDelay is the backoff before the first retry; it doubles per attempt
	// with a little jitter on top (default 500ms).
	BaseDelay time.Duration

	// MaxDelay caps the backoff (default 10s).
	MaxDelay time.Duration

	// AttemptTimeout bounds each individual upstream attempt (default 10s).
	AttemptTimeout time.Duration

	// StaleWhileRevalidate makes Fetch return a stale entry immediately and
	// refresh it in the background. When false, stale hits block on the
	// upstream call.
	StaleWhileRevalidate bool

	// OnStaleServe is invoked when a payload is served from stale cache after
	// retries were exhausted. Intended for counters and tests; the fallback is
	// also logged at warning level when the hook is nil.
	OnStaleServe func(key string, err error)

	// OnRevalidated is invoked when a background revalidation finishes, with
	// the error it ended in (nil on success). Intended for tests.
	OnRevalidated func(key string, err error)
}

// Fetcher layers a revalidation policy over a Cache and an upstream source.
// Fresh hits are served with zero upstream calls; stale or missing entries
// trigger a conditional refetch with retry, backoff and stale-serving
// fallback. Concurrent refetches of the same key are coalesced into a single
// in-flight upstream call.
type Fetcher[V any] struct {
	cache    *Cache[V]
	upstream UpstreamFunc[V]
	opts     FetcherOptions
	group    singleflight.Group
}

// NewFetcher creates a Fetcher over cache and upstream.
func NewFetcher[V any](c *Cache[V], upstream UpstreamFunc[V], opts FetcherOptions) *Fetcher[V] {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 2
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 10 * time.Second
	}
	return &Fetcher[V]{cache: c, upstream: upstream, opts: opts}
}

// Cache exposes the underlying cache for invalidation and introspection.
func (f *Fetcher[V]) Cache() *Cache[V] {
	return f.cache
}

// Fetch returns the payload for key. Fresh cache hits return immediately.
// On a stale hit with StaleWhileRevalidate enabled, the stale payload is
// returned and a background refresh is scheduled; otherwise the caller blocks
// on the upstream call. See FetcherOptions and the error types in this
// package for the failure contract.
func (f *Fetcher[V]) Fetch(ctx context.Context, key string) (V, error) {
	entry, fresh := f.cache.Get(key)
	if entry != nil && fresh {
		return entry.Payload, nil
	}

	if entry != nil && f.opts.StaleWhileRevalidate {
		f.revalidateBackground(key, entry.Validator)
		return entry.Payload, nil
	}

	validator := ""
	if entry != nil {
		validator = entry.Validator
	}
	return f.refetch(ctx, key, validator)
}

// revalidateBackground refreshes key without blocking the caller. The task is
// never joined; failures are reported through OnRevalidated and the log.
func (f *Fetcher[V]) revalidateBackground(key, validator string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("cache: background revalidation panic for %q: %v", key, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(f.opts.MaxRetries+1)*(f.opts.AttemptTimeout+f.opts.MaxDelay))
		defer cancel()

		_, err := f.refetch(ctx, key, validator)
		if err != nil {
			log.Printf("cache: background revalidation failed for %q: %v", key, err)
		}
		if f.opts.OnRevalidated != nil {
			f.opts.OnRevalidated(key, err)
		}
	}()
}

// refetch performs the upstream call with retry and folds the outcome back
// into the cache. Concurrent calls for the same key share one flight.
func (f *Fetcher[V]) refetch(ctx context.Context, key, validator string) (V, error) {
	v, err, _ := f.group.Do(key, func() (interface{}, error) {
		return f.refetchOnce(ctx, key, validator)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (f *Fetcher[V]) refetchOnce(ctx context.Context, key, validator string) (V, error) {
	var zero V
	var lastErr error

	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, f.opts.AttemptTimeout)
		outcome, err := f.upstream(attemptCtx, key, validator)
		cancel()

		if err == nil {
			if outcome.NotModified {
				f.cache.RefreshFreshness(key)
				if entry, _ := f.cache.Get(key); entry != nil {
					return entry.Payload, nil
				}
				// Entry vanished between the conditional fetch and now
				// (concurrent invalidation); retry unconditionally.
				validator = ""
				continue
			}
			f.cache.Put(key, outcome.Payload, outcome.Validator)
			return outcome.Payload, nil
		}

		if !IsTransient(err) {
			return zero, err
		}
		lastErr = err

		if attempt < f.opts.MaxRetries {
			if err := sleepCtx(ctx, f.backoffDelay(attempt, err)); err != nil {
				return zero, Transient(err)
			}
		}
	}

	// Retries exhausted: serve stale if anything is cached for this key.
	if entry, _ := f.cache.Get(key); entry != nil {
		if f.opts.OnStaleServe != nil {
			f.opts.OnStaleServe(key, lastErr)
		} else {
			log.Printf("cache: upstream unreachable, serving stale entry for %q: %v", key, lastErr)
		}
		return entry.Payload, nil
	}

	return zero, &unavailableError{err: lastErr}
}

// backoffDelay computes the wait before the next attempt: exponential from
// BaseDelay with up to 25% jitter, floored by any upstream Retry-After hint
// and capped at MaxDelay.
func (f *Fetcher[V]) backoffDelay(attempt int, err error) time.Duration {
	delay := f.opts.BaseDelay << uint(attempt)
	delay += time.Duration(rand.Int63n(int64(f.opts.BaseDelay)/4 + 1))

	var te *TransientError
	if errors.As(err, &te) && te.RetryAfter > delay {
		delay = te.RetryAfter
	}
	if delay > f.opts.MaxDelay {
		delay = f.opts.MaxDelay
	}
	return delay
}

// sleepCtx sleeps for d, returning early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// unavailableError carries the last transient failure while matching
// ErrUnavailable under errors.Is.
type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string {
	return ErrUnavailable.Error() + ": " + e.err.Error()
}

func (e *unavailableError) Unwrap() error {
	return e.err
}

func (e *unavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// invalidateTimeout bounds the delete issued after a successful write.
	invalidateTimeout = time.Second
	// loadTimeout bounds a shared load, which outlives any single caller.
	loadTimeout = 5 * time.Second
)

// ReadThrough is the lookup, load, populate pipeline shared by every cached
// read path. Cache errors never reach the caller: they are logged and the
// request falls through to the loader.
type ReadThrough[T any] struct {
	cache     Cache
	ttl       time.Duration
	logger    *zap.Logger
	cacheable func(T) bool
	group     singleflight.Group
}

// Option configures a ReadThrough.
type Option[T any] func(*ReadThrough[T])

// WithCacheIf stores loaded values only when keep returns true.
func WithCacheIf[T any](keep func(T) bool) Option[T] {
	return func(r *ReadThrough[T]) {
		r.cacheable = keep
	}
}

func NewReadThrough[T any](c Cache, ttl time.Duration, logger *zap.Logger, opts ...Option[T]) *ReadThrough[T] {
	r := &ReadThrough[T]{
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the cached value for key, or calls load and caches its result.
// Concurrent misses on the same key share one load.
func (r *ReadThrough[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	value, err := GetJSON[T](ctx, r.cache, key)
	if err == nil {
		r.logger.Debug("Cache hit", zap.String("key", key))
		return value, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		r.logger.Warn("Cache get failed, falling back to store", zap.String("key", key), zap.Error(err))
	}

	// The shared load is detached from the caller that started it: one
	// caller giving up must not fail the others waiting on the same key.
	results := r.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		loaded, err := load(loadCtx)
		if err != nil {
			return nil, err
		}

		if r.cacheable == nil || r.cacheable(loaded) {
			if err := SetJSON(loadCtx, r.cache, key, loaded, r.ttl); err != nil {
				r.logger.Warn("Cache set failed", zap.String("key", key), zap.Error(err))
			}
		}
		return loaded, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// Invalidate deletes keys after a successful store write. The delete runs
// even if ctx was cancelled once the write committed, so a caller that gives
// up late cannot leave a stale entry behind.
func (r *ReadThrough[T]) Invalidate(ctx context.Context, keys ...string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	if err := r.cache.Delete(ctx, keys...); err != nil {
		r.logger.Warn("Cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

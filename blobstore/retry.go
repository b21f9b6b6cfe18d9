package blobstore

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryOptions tunes the backoff applied to transient failures.
type RetryOptions struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryOptions bounds retries to 15 seconds total.
var DefaultRetryOptions = RetryOptions{
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxElapsedTime:  15 * time.Second,
}

// RetryingStore wraps a Store and retries transient errors with bounded
// exponential backoff. ErrNotFound and ErrPreconditionFailed are permanent
// and never retried.
type RetryingStore struct {
	inner Store
	opts  RetryOptions
}

// NewRetryingStore wraps inner with retry behavior.
func NewRetryingStore(inner Store, opts RetryOptions) *RetryingStore {
	if opts.InitialInterval <= 0 {
		opts = DefaultRetryOptions
	}
	return &RetryingStore{inner: inner, opts: opts}
}

func permanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrPreconditionFailed) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *RetryingStore) backoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.InitialInterval
	bo.MaxInterval = s.opts.MaxInterval
	bo.MaxElapsedTime = s.opts.MaxElapsedTime
	return backoff.WithContext(bo, ctx)
}

func retryValue[T any](ctx context.Context, s *RetryingStore, op func() (T, error)) (T, error) {
	var out T
	err := backoff.Retry(func() error {
		v, err := op()
		if err != nil {
			if permanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}, s.backoff(ctx))
	return out, err
}

func (s *RetryingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return retryValue(ctx, s, func() ([]byte, error) { return s.inner.Get(ctx, key) })
}

func (s *RetryingStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	return retryValue(ctx, s, func() ([]byte, error) { return s.inner.GetRange(ctx, key, offset, length) })
}

func (s *RetryingStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := retryValue(ctx, s, func() (struct{}, error) {
		return struct{}{}, s.inner.Put(ctx, key, data)
	})
	return err
}

func (s *RetryingStore) PutIf(ctx context.Context, key string, data []byte, cond Condition) (string, error) {
	// Conditional writes are not blindly retried: a retry after an
	// ambiguous success would observe its own write and fail the
	// precondition. Callers own the read-modify-write loop.
	return s.inner.PutIf(ctx, key, data, cond)
}

func (s *RetryingStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	return retryValue(ctx, s, func() (*ObjectInfo, error) { return s.inner.Head(ctx, key) })
}

func (s *RetryingStore) Delete(ctx context.Context, key string) error {
	_, err := retryValue(ctx, s, func() (struct{}, error) {
		return struct{}{}, s.inner.Delete(ctx, key)
	})
	return err
}

func (s *RetryingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return retryValue(ctx, s, func() ([]string, error) { return s.inner.List(ctx, prefix) })
}

var _ Store = (*RetryingStore)(nil)

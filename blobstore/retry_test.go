package blobstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first n Get calls.
type flakyStore struct {
	*MemoryStore
	failures int
	calls    int
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("transient backend error")
	}
	return f.MemoryStore.Get(ctx, key)
}

func fastRetry() RetryOptions {
	return RetryOptions{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	}
}

func TestRetryingStoreRecoversFromTransientErrors(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	require.NoError(t, inner.MemoryStore.Put(ctx, "k", []byte("v")))

	s := NewRetryingStore(inner, fastRetry())
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingStoreDoesNotRetryNotFound(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	s := NewRetryingStore(inner, fastRetry())

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, inner.calls, "not-found is permanent")
}

func TestRetryingStoreDoesNotRetryConditionalPuts(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	s := NewRetryingStore(inner, fastRetry())

	_, err := s.PutIf(ctx, "ptr", []byte("v"), Condition{IfNoneMatch: true})
	require.NoError(t, err)
	_, err = s.PutIf(ctx, "ptr", []byte("v2"), Condition{IfNoneMatch: true})
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

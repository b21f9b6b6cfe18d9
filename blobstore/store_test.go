package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// both backends must satisfy the same contract.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"local":  local,
	}
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "a/b/key", []byte("payload")))

			got, err := s.Get(ctx, "a/b/key")
			require.NoError(t, err)
			assert.Equal(t, []byte("payload"), got)

			info, err := s.Head(ctx, "a/b/key")
			require.NoError(t, err)
			assert.Equal(t, int64(7), info.Size)
			assert.NotEmpty(t, info.ETag)

			require.NoError(t, s.Delete(ctx, "a/b/key"))
			_, err = s.Get(ctx, "a/b/key")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting a missing key is not an error.
			assert.NoError(t, s.Delete(ctx, "a/b/key"))
		})
	}
}

func TestGetRange(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "k", []byte("0123456789")))

			got, err := s.GetRange(ctx, "k", 2, 3)
			require.NoError(t, err)
			assert.Equal(t, []byte("234"), got)

			got, err = s.GetRange(ctx, "k", 5, -1)
			require.NoError(t, err)
			assert.Equal(t, []byte("56789"), got)
		})
	}
}

func TestConditionalPut(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// If-none-match creates, then refuses.
			etag, err := s.PutIf(ctx, "ptr", []byte("v1"), Condition{IfNoneMatch: true})
			require.NoError(t, err)
			require.NotEmpty(t, etag)

			_, err = s.PutIf(ctx, "ptr", []byte("v1b"), Condition{IfNoneMatch: true})
			assert.ErrorIs(t, err, ErrPreconditionFailed)

			// If-match swaps only against the current etag.
			etag2, err := s.PutIf(ctx, "ptr", []byte("v2"), Condition{IfMatch: etag})
			require.NoError(t, err)

			_, err = s.PutIf(ctx, "ptr", []byte("v3"), Condition{IfMatch: etag})
			assert.ErrorIs(t, err, ErrPreconditionFailed, "stale etag must fail")

			_, err = s.PutIf(ctx, "ptr", []byte("v3"), Condition{IfMatch: etag2})
			require.NoError(t, err)

			got, err := s.Get(ctx, "ptr")
			require.NoError(t, err)
			assert.Equal(t, []byte("v3"), got)
		})
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "ns/a", []byte("1")))
			require.NoError(t, s.Put(ctx, "ns/b/c", []byte("2")))
			require.NoError(t, s.Put(ctx, "other/x", []byte("3")))

			keys, err := s.List(ctx, "ns/")
			require.NoError(t, err)
			assert.Equal(t, []string{"ns/a", "ns/b/c"}, keys)
		})
	}
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "ns/a", []byte("1")))
	require.NoError(t, s.Put(ctx, "ns/b", []byte("2")))
	require.NoError(t, s.Put(ctx, "keep/c", []byte("3")))

	require.NoError(t, DeleteAll(ctx, s, "ns/"))
	keys, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep/c"}, keys)
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ok, err := Exists(ctx, s, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "yes", []byte("1")))
	ok, err = Exists(ctx, s, "yes")
	require.NoError(t, err)
	assert.True(t, ok)
}

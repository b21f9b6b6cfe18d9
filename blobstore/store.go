package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("blobstore: key not found")

// ErrPreconditionFailed is returned when a conditional put loses the race.
var ErrPreconditionFailed = errors.New("blobstore: precondition failed")

// Condition guards a conditional Put.
type Condition struct {
	// IfMatch requires the current object's etag to equal this value.
	IfMatch string
	// IfNoneMatch requires the key to not exist.
	IfNoneMatch bool
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

// Store is the object store adapter used by every engine component.
type Store interface {
	// Get reads the full object. Returns ErrNotFound for missing keys.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetRange reads length bytes starting at offset. A negative length
	// reads to the end of the object.
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)

	// Put writes the object unconditionally.
	Put(ctx context.Context, key string, data []byte) error

	// PutIf writes the object subject to a precondition and returns the
	// new etag. Returns ErrPreconditionFailed when the condition fails.
	PutIf(ctx context.Context, key string, data []byte, cond Condition) (string, error)

	// Head returns object metadata without reading the payload.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Exists reports whether the key is present.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteAll removes every key under the prefix.
func DeleteAll(ctx context.Context, s Store, prefix string) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

package blobstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// MemoryStore is an in-memory Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	data []byte
	etag string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

func contentETag(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (s *MemoryStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return sliceRange(data, offset, length)
}

func sliceRange(data []byte, offset, length int64) ([]byte, error) {
	if offset < 0 || offset > int64(len(data)) {
		return nil, fmt.Errorf("range offset %d out of bounds (size %d)", offset, len(data))
	}
	end := int64(len(data))
	if length >= 0 && offset+length < end {
		end = offset + length
	}
	return data[offset:end], nil
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{data: cp, etag: contentETag(cp)}
	return nil
}

func (s *MemoryStore) PutIf(_ context.Context, key string, data []byte, cond Condition) (string, error) {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.objects[key]
	if cond.IfNoneMatch && exists {
		return "", fmt.Errorf("%w: %s exists", ErrPreconditionFailed, key)
	}
	if cond.IfMatch != "" && (!exists || cur.etag != cond.IfMatch) {
		return "", fmt.Errorf("%w: etag mismatch on %s", ErrPreconditionFailed, key)
	}
	obj := memObject{data: cp, etag: contentETag(cp)}
	s.objects[key] = obj
	return obj.etag, nil
}

func (s *MemoryStore) Head(_ context.Context, key string) (*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return &ObjectInfo{Key: key, Size: int64(len(obj.data)), ETag: obj.etag}, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

var _ Store = (*MemoryStore)(nil)

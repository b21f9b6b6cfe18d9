package cache

import (
	"bytes"
	"container/list"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pierrec/lz4/v4"
)

// diskTier spills large immutable blobs (segment payloads, code slabs)
// onto local NVMe. Files are lz4-framed; eviction is LRU over an in-memory
// index that starts empty: files already in the directory at startup are
// neither read back nor counted against the budget.
type diskTier struct {
	dir      string
	capacity int64
	pins     *pinSet

	mu      sync.Mutex
	order   *list.List // front = most recent
	entries map[string]*list.Element
	size    int64
}

type diskEntry struct {
	key  string
	path string
	size int64
}

func newDiskTier(dir string, capacity int64, pins *pinSet) (*diskTier, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &diskTier{
		dir:      dir,
		capacity: capacity,
		pins:     pins,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}, nil
}

func (t *diskTier) path(key string) string {
	return filepath.Join(t.dir, fmt.Sprintf("%016x.blk", xxhash.Sum64String(key)))
}

func (t *diskTier) Get(key string) ([]byte, bool) {
	t.mu.Lock()
	el, ok := t.entries[key]
	if ok {
		t.order.MoveToFront(el)
	}
	t.mu.Unlock()
	if !ok {
		return nil, false
	}

	f, err := os.Open(el.Value.(*diskEntry).path)
	if err != nil {
		t.drop(key)
		return nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(lz4.NewReader(f))
	if err != nil {
		t.drop(key)
		return nil, false
	}
	return data, true
}

func (t *diskTier) Put(key string, val []byte) bool {
	if int64(len(val)) > t.capacity/admissionDivisor {
		return false
	}

	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(val); err != nil {
		return false
	}
	if err := w.Close(); err != nil {
		return false
	}

	path := t.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o640); err != nil {
		return false
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false
	}
	stored := int64(buf.Len())

	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.entries[key]; ok {
		entry := el.Value.(*diskEntry)
		t.size += stored - entry.size
		entry.size = stored
		t.order.MoveToFront(el)
	} else {
		el := t.order.PushFront(&diskEntry{key: key, path: path, size: stored})
		t.entries[key] = el
		t.size += stored
	}
	t.evictLocked()
	return true
}

func (t *diskTier) evictLocked() {
	var skipped []*list.Element
	for t.size > t.capacity {
		el := t.order.Back()
		if el == nil {
			break
		}
		entry := el.Value.(*diskEntry)
		t.order.Remove(el)
		if t.pins.pinned(namespaceOf(entry.key)) {
			skipped = append(skipped, el)
			continue
		}
		delete(t.entries, entry.key)
		t.size -= entry.size
		os.Remove(entry.path)
	}
	for i := len(skipped) - 1; i >= 0; i-- {
		entry := skipped[i].Value.(*diskEntry)
		t.entries[entry.key] = t.order.PushBack(entry)
	}
}

func (t *diskTier) drop(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.entries[key]; ok {
		entry := el.Value.(*diskEntry)
		t.order.Remove(el)
		delete(t.entries, key)
		t.size -= entry.size
		os.Remove(entry.path)
	}
}

func (t *diskTier) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

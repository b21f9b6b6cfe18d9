package cache

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const memoryShards = 16

// memoryTier is a sharded, insertion-ordered LRU over byte values.
type memoryTier struct {
	shards   [memoryShards]*memoryShard
	capacity int64
	pins     *pinSet
}

type memoryShard struct {
	mu      sync.Mutex
	order   *list.List // front = most recent
	entries map[string]*list.Element
	size    int64
}

type memoryEntry struct {
	key string
	val []byte
}

func newMemoryTier(capacity int64, pins *pinSet) *memoryTier {
	t := &memoryTier{capacity: capacity, pins: pins}
	for i := range t.shards {
		t.shards[i] = &memoryShard{
			order:   list.New(),
			entries: make(map[string]*list.Element),
		}
	}
	return t
}

func (t *memoryTier) shard(key string) *memoryShard {
	return t.shards[xxhash.Sum64String(key)%memoryShards]
}

func (t *memoryTier) shardCapacity() int64 {
	return t.capacity / memoryShards
}

func (t *memoryTier) Get(key string) ([]byte, bool) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*memoryEntry).val, true
}

// Put admits the value unless it alone exceeds the admission limit.
// Returns false when admission was rejected.
func (t *memoryTier) Put(key string, val []byte) bool {
	limit := t.shardCapacity()
	if int64(len(val)) > limit/admissionDivisor {
		return false
	}

	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		s.size += int64(len(val)) - int64(len(entry.val))
		entry.val = val
		s.order.MoveToFront(el)
	} else {
		el := s.order.PushFront(&memoryEntry{key: key, val: val})
		s.entries[key] = el
		s.size += int64(len(val))
	}
	t.evictLocked(s, limit)
	return true
}

// evictLocked drops least-recently-used entries until the shard fits its
// budget, skipping pinned namespaces.
func (t *memoryTier) evictLocked(s *memoryShard, limit int64) {
	var skipped []*list.Element
	for s.size > limit {
		el := s.order.Back()
		if el == nil {
			break
		}
		entry := el.Value.(*memoryEntry)
		if t.pins.pinned(namespaceOf(entry.key)) {
			s.order.Remove(el)
			skipped = append(skipped, el)
			continue
		}
		s.order.Remove(el)
		delete(s.entries, entry.key)
		s.size -= int64(len(entry.val))
	}
	// Reinsert pinned survivors at the cold end, preserving their order.
	for i := len(skipped) - 1; i >= 0; i-- {
		entry := skipped[i].Value.(*memoryEntry)
		s.entries[entry.key] = s.order.PushBack(entry)
	}
}

func (t *memoryTier) Size() int64 {
	var total int64
	for _, s := range t.shards {
		s.mu.Lock()
		total += s.size
		s.mu.Unlock()
	}
	return total
}

// pinSet tracks pinned namespaces.
type pinSet struct {
	mu   sync.RWMutex
	pins map[string]struct{}
}

func newPinSet() *pinSet {
	return &pinSet{pins: make(map[string]struct{})}
}

func (p *pinSet) set(ns string, pinned bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pinned {
		p.pins[ns] = struct{}{}
	} else {
		delete(p.pins, ns)
	}
}

func (p *pinSet) pinned(ns string) bool {
	if ns == "" {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.pins[ns]
	return ok
}

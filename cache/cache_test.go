package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, memSize, diskSize int64) *Cache {
	t.Helper()
	c, err := New(Options{
		MemorySize: memSize,
		DiskSize:   diskSize,
		DiskPath:   t.TempDir(),
	})
	require.NoError(t, err)
	return c
}

func TestPutGet(t *testing.T) {
	c := newTestCache(t, 1<<20, 0)
	c.Put("seg:ns:a", []byte("hello"))

	got, ok := c.Get("seg:ns:a")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)

	_, ok = c.Get("seg:ns:missing")
	assert.False(t, ok)
}

func TestMemoryEviction(t *testing.T) {
	// One shard gets capacity/16; keep values small enough to admit but
	// large enough to force eviction within a shard.
	c := newTestCache(t, 16*1024, 0)
	for i := 0; i < 200; i++ {
		c.Put(fmt.Sprintf("seg:ns:%d", i), make([]byte, 100))
	}
	assert.LessOrEqual(t, c.MemorySize(), int64(16*1024))
}

func TestAdmissionRejectsHugeEntries(t *testing.T) {
	c := newTestCache(t, 16*1024, 0)
	c.Put("seg:ns:huge", make([]byte, 8*1024))
	_, ok := c.Get("seg:ns:huge")
	assert.False(t, ok, "entries above the admission bound are rejected")
}

func TestDiskTierRoundTrip(t *testing.T) {
	c := newTestCache(t, 4*1024, 1<<20)
	// Too big for the small RAM tier, fits on disk.
	val := make([]byte, 64*1024)
	for i := range val {
		val[i] = byte(i)
	}
	c.Put("seg:ns:big", val)

	got, ok := c.Get("seg:ns:big")
	require.True(t, ok)
	assert.Equal(t, val, got)
	assert.Greater(t, c.DiskSize(), int64(0))
}

func TestPinnedNamespaceSurvivesEviction(t *testing.T) {
	c := newTestCache(t, 8*1024, 0)
	c.PinNamespace("vip", true)

	c.Put("seg:vip:1", make([]byte, 60))
	for i := 0; i < 500; i++ {
		c.Put(fmt.Sprintf("seg:other:%d", i), make([]byte, 60))
	}
	_, ok := c.Get("seg:vip:1")
	assert.True(t, ok, "pinned namespace entries must not be evicted")

	c.PinNamespace("vip", false)
	for i := 0; i < 500; i++ {
		c.Put(fmt.Sprintf("seg:other:b%d", i), make([]byte, 60))
	}
	// After unpinning the entry is evictable again (no assertion on
	// timing, only that the cache stays within budget).
	assert.LessOrEqual(t, c.MemorySize(), int64(8*1024))
}

func TestGetOrFetchSingleFlight(t *testing.T) {
	c := newTestCache(t, 1<<20, 0)
	ctx := context.Background()

	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) ([]byte, error) {
		fetches.Add(1)
		<-release
		return []byte("value"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 16)
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrFetch(ctx, "seg:ns:sf", fetch)
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load(), "concurrent misses must coalesce")
	for _, v := range results {
		assert.Equal(t, []byte("value"), v)
	}
}

func TestGetOrFetchError(t *testing.T) {
	c := newTestCache(t, 1<<20, 0)
	wantErr := fmt.Errorf("backend down")
	_, err := c.GetOrFetch(context.Background(), "seg:ns:err",
		func(context.Context) ([]byte, error) { return nil, wantErr })
	assert.ErrorIs(t, err, wantErr)

	// Errors are not cached; a later fetch succeeds.
	got, err := c.GetOrFetch(context.Background(), "seg:ns:err",
		func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "seg:ns:s1", SegmentKey("ns", "s1"))
	assert.Equal(t, "vidx:ns:s1", VectorIndexKey("ns", "s1"))
	assert.Equal(t, "ftidx:ns:s1:title", FullTextKey("ns", "s1", "title"))
	assert.Equal(t, "ilist:ns:s1:7", PostingKey("ns", "s1", 7))
	assert.Equal(t, "ns", namespaceOf("seg:ns:s1"))
	assert.Equal(t, "", namespaceOf("weird"))
}

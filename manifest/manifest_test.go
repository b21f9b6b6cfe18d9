package manifest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqhl/elacsym"
	"github.com/lqhl/elacsym/blobstore"
	"github.com/lqhl/elacsym/model"
)

func testSchema() model.Schema {
	return model.Schema{
		VectorDim:    4,
		VectorMetric: model.MetricCosine,
		Attributes: map[string]model.AttributeSchema{
			"title": {Type: model.TypeString},
		},
	}
}

func seg(id model.SegmentID, minID, maxID model.DocID, rows int) model.SegmentEntry {
	return model.SegmentEntry{
		SegmentID: id, RowCount: rows, MinID: minID, MaxID: maxID,
		RowsKey: "ns/segments/" + string(id) + "/rows.bin",
	}
}

func TestCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewStore(blobstore.NewMemoryStore(), nil, nil)

	m := New("tenant", testSchema())
	require.NoError(t, store.Create(ctx, m))

	loaded, err := store.Load(ctx, "tenant", Strong)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loaded.Version)
	assert.Equal(t, "tenant", loaded.Namespace)
	assert.Equal(t, 4, loaded.Schema.VectorDim)
}

func TestCreateConflicts(t *testing.T) {
	ctx := context.Background()
	store := NewStore(blobstore.NewMemoryStore(), nil, nil)

	require.NoError(t, store.Create(ctx, New("tenant", testSchema())))
	err := store.Create(ctx, New("tenant", testSchema()))
	assert.True(t, elacsym.IsKind(err, elacsym.KindConflict))
}

func TestLoadUnknownNamespace(t *testing.T) {
	ctx := context.Background()
	store := NewStore(blobstore.NewMemoryStore(), nil, nil)
	_, err := store.Load(ctx, "ghost", Strong)
	assert.True(t, elacsym.IsKind(err, elacsym.KindNotFound))
}

func TestPublishMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewStore(blobstore.NewMemoryStore(), nil, nil)

	m := New("tenant", testSchema())
	require.NoError(t, store.Create(ctx, m))

	last := uint64(1)
	for i := 0; i < 5; i++ {
		next := m.Clone()
		next.Version = m.Version + 1
		next.AddSegment(seg(model.SegmentID(fmt.Sprintf("s%d", i)), 1, 10, 10))
		require.NoError(t, store.Publish(ctx, next))
		m = next

		loaded, err := store.Load(ctx, "tenant", Strong)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, loaded.Version, last,
			"observed versions must never decrease")
		last = loaded.Version
	}
	assert.Equal(t, uint64(6), last)
}

func TestPublishDetectsLostRace(t *testing.T) {
	ctx := context.Background()
	blob := blobstore.NewMemoryStore()
	writerA := NewStore(blob, nil, nil)
	writerB := NewStore(blob, nil, nil)

	m := New("tenant", testSchema())
	require.NoError(t, writerA.Create(ctx, m))

	// Both writers read version 1, then both derive version 2; the
	// second swap must observe the lost race.
	_, err := writerB.Load(ctx, "tenant", Strong)
	require.NoError(t, err)

	fromA := m.Clone()
	fromA.Version = 2
	require.NoError(t, writerA.Publish(ctx, fromA))

	fromB := m.Clone()
	fromB.Version = 2
	err = writerB.Publish(ctx, fromB)
	assert.True(t, elacsym.IsKind(err, elacsym.KindConflict))
}

func TestPointerEventualUsesTTLCache(t *testing.T) {
	ctx := context.Background()
	blob := blobstore.NewMemoryStore()
	store := NewStore(blob, nil, nil)

	m := New("tenant", testSchema())
	require.NoError(t, store.Create(ctx, m))

	// Another writer advances the pointer behind this store's back.
	other := NewStore(blob, nil, nil)
	_, err := other.Load(ctx, "tenant", Strong)
	require.NoError(t, err)
	next := m.Clone()
	next.Version = 2
	require.NoError(t, other.Publish(ctx, next))

	// Eventual read inside the TTL still sees version 1.
	ptr, err := store.Pointer(ctx, "tenant", Eventual)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ptr.Version)

	// Strong read revalidates.
	ptr, err = store.Pointer(ctx, "tenant", Strong)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ptr.Version)
}

func TestMarkDeleted(t *testing.T) {
	m := New("tenant", testSchema())
	m.AddSegment(seg("s1", 1, 5, 5))
	m.AddSegment(seg("s2", 6, 10, 5))

	m.MarkDeleted([]model.DocID{2, 7, 99})
	assert.Equal(t, []model.DocID{2}, m.Segments[0].Tombstones)
	assert.Equal(t, []model.DocID{7}, m.Segments[1].Tombstones)
	assert.Equal(t, 8, m.Stats.TotalDocs)

	// Marking again is a no-op.
	m.MarkDeleted([]model.DocID{2})
	assert.Equal(t, []model.DocID{2}, m.Segments[0].Tombstones)
}

func TestReplaceSegments(t *testing.T) {
	m := New("tenant", testSchema())
	m.AddSegment(seg("s1", 1, 5, 5))
	m.AddSegment(seg("s2", 6, 10, 5))
	m.AddSegment(seg("s3", 11, 15, 5))

	merged := seg("merged", 1, 10, 10)
	m.ReplaceSegments(map[model.SegmentID]bool{"s1": true, "s2": true}, merged)

	require.Len(t, m.Segments, 2)
	assert.Equal(t, model.SegmentID("merged"), m.Segments[0].SegmentID)
	assert.Equal(t, model.SegmentID("s3"), m.Segments[1].SegmentID)
	assert.Equal(t, 15, m.Stats.TotalDocs)
}

func TestGCDropsOldVersions(t *testing.T) {
	ctx := context.Background()
	blob := blobstore.NewMemoryStore()
	store := NewStore(blob, nil, nil)

	m := New("tenant", testSchema())
	require.NoError(t, store.Create(ctx, m))
	for v := uint64(2); v <= 6; v++ {
		next := m.Clone()
		next.Version = v
		require.NoError(t, store.Publish(ctx, next))
		m = next
	}

	require.NoError(t, store.GC(ctx, "tenant", 6, 2))

	keys, err := blob.List(ctx, "tenant/manifests/")
	require.NoError(t, err)
	// v4, v5, v6 and the pointer survive.
	assert.Len(t, keys, 4)

	_, err = store.LoadVersion(ctx, "tenant", 6)
	assert.NoError(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	m := New("tenant", testSchema())
	entry := seg("s1", 1, 5, 5)
	entry.Tombstones = []model.DocID{2}
	entry.FullTextKeys = map[string]string{"title": "k"}
	m.AddSegment(entry)

	clone := m.Clone()
	clone.Segments[0].Tombstones[0] = 99
	clone.Segments[0].FullTextKeys["title"] = "other"

	assert.Equal(t, model.DocID(2), m.Segments[0].Tombstones[0])
	assert.Equal(t, "k", m.Segments[0].FullTextKeys["title"])
}

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqhl/elacsym/model"
)

func testSchema() *model.Schema {
	return &model.Schema{
		VectorDim:    4,
		VectorMetric: model.MetricCosine,
		Attributes: map[string]model.AttributeSchema{
			"title":  {Type: model.TypeString},
			"rank":   {Type: model.TypeInt, Indexed: true},
			"score":  {Type: model.TypeFloat},
			"live":   {Type: model.TypeBool},
			"labels": {Type: model.TypeStringArray},
		},
	}
}

func testDocs() []model.Document {
	return []model.Document{
		{
			ID:     3,
			Vector: model.Vector{0, 1, 0, 0},
			Attributes: map[string]model.Value{
				"title":  model.String("gamma"),
				"rank":   model.Int(30),
				"score":  model.Float(0.25),
				"live":   model.Bool(true),
				"labels": model.Strings("x", "y"),
			},
		},
		{
			ID: 1,
			Attributes: map[string]model.Value{
				"title": model.String("alpha"),
				"rank":  model.Int(10),
			},
		},
		{
			ID:     2,
			Vector: model.Vector{1, 0, 0, 0},
			Attributes: map[string]model.Value{
				"labels": model.Strings("z"),
				"live":   model.Bool(false),
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	schema := testSchema()
	docs := testDocs()

	for _, comp := range []Compression{CompressionNone, CompressionZstd, CompressionS2} {
		data, err := Write(schema, docs, WriteOptions{Compression: comp})
		require.NoError(t, err)

		seg, err := Open(data)
		require.NoError(t, err)
		assert.Equal(t, 3, seg.RowCount())
		minID, maxID := seg.IDRange()
		assert.Equal(t, model.DocID(1), minID)
		assert.Equal(t, model.DocID(3), maxID)

		got, err := seg.ReadByIDs([]model.DocID{1, 2, 3}, nil, true)
		require.NoError(t, err)
		require.Len(t, got, 3)

		// Rows come back sorted by id; compare as a set keyed by id.
		byID := make(map[model.DocID]model.Document)
		for _, doc := range got {
			byID[doc.ID] = doc
		}
		for _, want := range docs {
			assert.Equal(t, want, byID[want.ID], "compression %d", comp)
		}
	}
}

func TestUndeclaredAttributesDropped(t *testing.T) {
	schema := testSchema()
	docs := []model.Document{{
		ID: 1,
		Attributes: map[string]model.Value{
			"title":   model.String("kept"),
			"unknown": model.String("dropped"),
		},
	}}
	data, err := Write(schema, docs, DefaultWriteOptions)
	require.NoError(t, err)
	seg, err := Open(data)
	require.NoError(t, err)

	got, err := seg.ReadByIDs([]model.DocID{1}, nil, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.String("kept"), got[0].Attributes["title"])
	_, ok := got[0].Attributes["unknown"]
	assert.False(t, ok)
}

func TestDuplicateIDKeepsLast(t *testing.T) {
	schema := testSchema()
	docs := []model.Document{
		{ID: 5, Attributes: map[string]model.Value{"title": model.String("old")}},
		{ID: 5, Attributes: map[string]model.Value{"title": model.String("new")}},
	}
	data, err := Write(schema, docs, DefaultWriteOptions)
	require.NoError(t, err)
	seg, err := Open(data)
	require.NoError(t, err)
	assert.Equal(t, 1, seg.RowCount())

	got, err := seg.ReadByIDs([]model.DocID{5}, []string{"title"}, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.String("new"), got[0].Attributes["title"])
}

func TestProjection(t *testing.T) {
	schema := testSchema()
	data, err := Write(schema, testDocs(), DefaultWriteOptions)
	require.NoError(t, err)
	seg, err := Open(data)
	require.NoError(t, err)

	got, err := seg.ReadByIDs([]model.DocID{3}, []string{"rank"}, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Vector)
	assert.Equal(t, map[string]model.Value{"rank": model.Int(30)}, got[0].Attributes)

	// Empty (non-nil) projection means no attributes at all.
	got, err = seg.ReadByIDs([]model.DocID{3}, []string{}, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Attributes)
}

func TestReadByIDsSkipsMissing(t *testing.T) {
	schema := testSchema()
	data, err := Write(schema, testDocs(), DefaultWriteOptions)
	require.NoError(t, err)
	seg, err := Open(data)
	require.NoError(t, err)

	got, err := seg.ReadByIDs([]model.DocID{2, 42}, []string{}, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.DocID(2), got[0].ID)
}

func TestReadColumn(t *testing.T) {
	schema := testSchema()
	data, err := Write(schema, testDocs(), DefaultWriteOptions)
	require.NoError(t, err)
	seg, err := Open(data)
	require.NoError(t, err)

	values, err := seg.ReadColumn("rank")
	require.NoError(t, err)
	// Row order is ascending id: 1, 2, 3.
	require.Len(t, values, 3)
	assert.Equal(t, model.Int(10), values[0])
	assert.True(t, values[1].IsNull())
	assert.Equal(t, model.Int(30), values[2])
}

func TestFooterProbesWithoutColumnDecode(t *testing.T) {
	schema := testSchema()
	data, err := Write(schema, testDocs(), DefaultWriteOptions)
	require.NoError(t, err)

	n, err := RowCount(data)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	minID, maxID, err := IDRange(data)
	require.NoError(t, err)
	assert.Equal(t, model.DocID(1), minID)
	assert.Equal(t, model.DocID(3), maxID)
}

func TestOpenRejectsGarbage(t *testing.T) {
	_, err := Open([]byte("not a segment at all, truly"))
	assert.Error(t, err)

	_, err = Open(nil)
	assert.Error(t, err)
}

func TestVectorAt(t *testing.T) {
	schema := testSchema()
	data, err := Write(schema, testDocs(), DefaultWriteOptions)
	require.NoError(t, err)
	seg, err := Open(data)
	require.NoError(t, err)

	row, ok := seg.RowOf(2)
	require.True(t, ok)
	vec, present, err := seg.VectorAt(row)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, model.Vector{1, 0, 0, 0}, vec)

	row, ok = seg.RowOf(1)
	require.True(t, ok)
	_, present, err = seg.VectorAt(row)
	require.NoError(t, err)
	assert.False(t, present, "doc 1 has no vector")
}

package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueJSONRoundTrip(t *testing.T) {
	cases := []Value{
		String("hello"),
		Int(42),
		Int(-7),
		Float(2.5),
		Bool(true),
		Bool(false),
		Strings("a", "b"),
		{},
	}
	for _, v := range cases {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		var back Value
		require.NoError(t, json.Unmarshal(data, &back))
		if v.Kind == KindStringArray && v.A == nil {
			continue
		}
		assert.Equal(t, v, back, "value %+v", v)
	}
}

func TestValueJSONNumbers(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte("3"), &v))
	assert.Equal(t, Int(3), v, "whole numbers decode as int64")

	require.NoError(t, json.Unmarshal([]byte("3.25"), &v))
	assert.Equal(t, Float(3.25), v)
}

func TestValueEqualNumeric(t *testing.T) {
	assert.True(t, Int(3).Equal(Float(3)))
	assert.True(t, Float(3).Equal(Int(3)))
	assert.False(t, Int(3).Equal(Float(3.5)))
	assert.False(t, Int(3).Equal(String("3")))
	assert.True(t, Strings("a").Equal(Strings("a")))
	assert.False(t, Strings("a").Equal(Strings("a", "b")))
	assert.True(t, Value{}.Equal(Value{}))
	assert.False(t, Value{}.Equal(Int(0)))
}

func TestMetricJSON(t *testing.T) {
	for _, m := range []Metric{MetricCosine, MetricL2, MetricDot} {
		data, err := json.Marshal(m)
		require.NoError(t, err)
		var back Metric
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, m, back)
	}
	var m Metric
	assert.Error(t, json.Unmarshal([]byte(`"manhattan"`), &m))
}

func TestSchemaValidate(t *testing.T) {
	schema := Schema{
		VectorDim:    3,
		VectorMetric: MetricCosine,
		Attributes: map[string]AttributeSchema{
			"title": {Type: TypeString, FullText: SimpleFullText()},
		},
	}
	require.NoError(t, schema.Validate())

	bad := schema
	bad.VectorDim = 0
	assert.Error(t, bad.Validate())

	ftOnInt := Schema{
		VectorDim:    3,
		VectorMetric: MetricCosine,
		Attributes: map[string]AttributeSchema{
			"n": {Type: TypeInt, FullText: SimpleFullText()},
		},
	}
	assert.Error(t, ftOnInt.Validate(), "full_text requires a string attribute")
}

func TestValidateDocument(t *testing.T) {
	schema := Schema{
		VectorDim:    2,
		VectorMetric: MetricL2,
		Attributes: map[string]AttributeSchema{
			"rank": {Type: TypeInt},
		},
	}

	ok := Document{ID: 1, Vector: Vector{1, 2}, Attributes: map[string]Value{"rank": Int(1)}}
	require.NoError(t, schema.ValidateDocument(&ok))

	badDim := Document{ID: 1, Vector: Vector{1}}
	assert.Error(t, schema.ValidateDocument(&badDim))

	badType := Document{ID: 1, Attributes: map[string]Value{"rank": String("x")}}
	assert.Error(t, schema.ValidateDocument(&badType))

	// Int values are accepted for float columns (whole JSON numbers).
	floatSchema := Schema{VectorDim: 2, VectorMetric: MetricL2,
		Attributes: map[string]AttributeSchema{"score": {Type: TypeFloat}}}
	intoFloat := Document{ID: 1, Attributes: map[string]Value{"score": Int(3)}}
	assert.NoError(t, floatSchema.ValidateDocument(&intoFloat))

	// Undeclared keys are not a validation error; ingest drops them.
	undeclared := Document{ID: 1, Attributes: map[string]Value{"mystery": Int(1)}}
	require.NoError(t, schema.ValidateDocument(&undeclared))
	schema.DropUndeclared(&undeclared)
	assert.Empty(t, undeclared.Attributes)
}

func TestFullTextJSONShapes(t *testing.T) {
	var attr AttributeSchema
	require.NoError(t, json.Unmarshal([]byte(`{"type":"string","full_text":true}`), &attr))
	assert.True(t, attr.FullText.Enabled)
	assert.Equal(t, "english", attr.FullText.Language)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"string","full_text":false}`), &attr))
	assert.False(t, attr.FullText.Enabled)

	require.NoError(t, json.Unmarshal([]byte(`{
		"type":"string",
		"full_text":{"enabled":true,"language":"de","stemming":true,"max_token_length":20}
	}`), &attr))
	assert.True(t, attr.FullText.Enabled)
	assert.Equal(t, "de", attr.FullText.Language)
	assert.True(t, attr.FullText.Stemming)
	assert.Equal(t, 20, attr.FullText.MaxTokenLength)
}

func TestAttributeTypeAliases(t *testing.T) {
	for _, alias := range []string{"int64", "int", "integer"} {
		typ, err := ParseAttributeType(alias)
		require.NoError(t, err)
		assert.Equal(t, TypeInt, typ)
	}
	for _, alias := range []string{"[]string", "array<string>", "list-of-string"} {
		typ, err := ParseAttributeType(alias)
		require.NoError(t, err)
		assert.Equal(t, TypeStringArray, typ)
	}
	_, err := ParseAttributeType("decimal")
	assert.Error(t, err)
}

func TestSegmentEntryTombstones(t *testing.T) {
	e := SegmentEntry{MinID: 1, MaxID: 10, RowCount: 10, Tombstones: []DocID{3, 5, 9}}
	assert.True(t, e.IsTombstoned(3))
	assert.True(t, e.IsTombstoned(9))
	assert.False(t, e.IsTombstoned(4))
	assert.False(t, e.IsTombstoned(11))
	assert.Equal(t, 7, e.LiveCount())
	assert.True(t, e.Contains(10))
	assert.False(t, e.Contains(11))
}

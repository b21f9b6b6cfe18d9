package s3

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqhl/elacsym/blobstore"
	"github.com/lqhl/elacsym/manifest"
	"github.com/lqhl/elacsym/model"
)

// fakeDDB implements DDBClient in memory with the conditional-write
// semantics the pointer store relies on.
type fakeDDB struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(item map[string]types.AttributeValue) string {
	return item["pointer_key"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	key := itemKey(in.Item)
	cur, exists := f.items[key]

	switch cond := aws.ToString(in.ConditionExpression); cond {
	case "":
	case "attribute_not_exists(pointer_key)":
		if exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case "etag = :etag":
		want := in.ExpressionAttributeValues[":etag"].(*types.AttributeValueMemberS).Value
		if !exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
		}
		got := cur["etag"].(*types.AttributeValueMemberS).Value
		if got != want {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("etag mismatch")}
		}
	default:
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("unknown condition")}
	}

	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	key := in.Key["pointer_key"].(*types.AttributeValueMemberS).Value
	item, ok := f.items[key]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDDB) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	key := in.Key["pointer_key"].(*types.AttributeValueMemberS).Value
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func newPointerHarness() (*PointerStore, *blobstore.MemoryStore) {
	inner := blobstore.NewMemoryStore()
	return NewPointerStore(inner, newFakeDDB(), "elacsym-pointers"), inner
}

func TestPointerStorePassThrough(t *testing.T) {
	ctx := context.Background()
	store, inner := newPointerHarness()

	require.NoError(t, store.Put(ctx, "ns/segments/s1/rows.bin", []byte("rows")))

	// Non-pointer keys land in the inner store untouched.
	got, err := inner.Get(ctx, "ns/segments/s1/rows.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("rows"), got)

	got, err = store.Get(ctx, "ns/segments/s1/rows.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("rows"), got)
}

func TestPointerStoreCAS(t *testing.T) {
	ctx := context.Background()
	store, inner := newPointerHarness()
	key := "ns/manifests/current.txt"

	etag, err := store.PutIf(ctx, key, []byte("v1"), blobstore.Condition{IfNoneMatch: true})
	require.NoError(t, err)
	require.NotEmpty(t, etag)

	_, err = store.PutIf(ctx, key, []byte("v1b"), blobstore.Condition{IfNoneMatch: true})
	assert.ErrorIs(t, err, blobstore.ErrPreconditionFailed)

	etag2, err := store.PutIf(ctx, key, []byte("v2"), blobstore.Condition{IfMatch: etag})
	require.NoError(t, err)

	_, err = store.PutIf(ctx, key, []byte("v3"), blobstore.Condition{IfMatch: etag})
	assert.ErrorIs(t, err, blobstore.ErrPreconditionFailed, "stale etag must fail")

	_, err = store.PutIf(ctx, key, []byte("v3"), blobstore.Condition{IfMatch: etag2})
	require.NoError(t, err)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v3"), got)

	// The authoritative pointer lives in DynamoDB, not in the bucket.
	_, err = inner.Get(ctx, key)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	info, err := store.Head(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size)
	assert.NotEmpty(t, info.ETag)
}

func TestPointerStoreDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newPointerHarness()
	key := "ns/manifests/current.txt"

	_, err := store.PutIf(ctx, key, []byte("v1"), blobstore.Condition{IfNoneMatch: true})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

// The whole publication protocol must work over DynamoDB CAS.
func TestPointerStoreBacksManifestPublication(t *testing.T) {
	ctx := context.Background()
	store, _ := newPointerHarness()

	schema := model.Schema{VectorDim: 4, VectorMetric: model.MetricCosine}
	writerA := manifest.NewStore(store, nil, nil)
	writerB := manifest.NewStore(store, nil, nil)

	m := manifest.New("tenant", schema)
	require.NoError(t, writerA.Create(ctx, m))

	_, err := writerB.Load(ctx, "tenant", manifest.Strong)
	require.NoError(t, err)

	fromA := m.Clone()
	fromA.Version = 2
	require.NoError(t, writerA.Publish(ctx, fromA))

	// B derived version 2 from version 1 as well; the swap must lose.
	fromB := m.Clone()
	fromB.Version = 2
	err = writerB.Publish(ctx, fromB)
	assert.Error(t, err)

	loaded, err := writerB.Load(ctx, "tenant", manifest.Strong)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.Version)
}

package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cespare/xxhash/v2"

	"github.com/lqhl/elacsym/blobstore"
)

// DDBClient is the subset of the DynamoDB API the pointer store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// PointerStore layers DynamoDB compare-and-swap over an object store for
// the small mutable pointer objects (`manifests/current.txt`). Every
// other key passes through unchanged. Use it when the bucket (or an
// S3-compatible provider) does not honor PutObject preconditions.
//
// Table schema: partition key `pointer_key` (string); attributes `content`
// (binary) and `etag` (string).
type PointerStore struct {
	inner     blobstore.Store
	ddb       DDBClient
	tableName string
	// isPointer selects the keys routed through DynamoDB.
	isPointer func(key string) bool
}

// NewPointerStore wraps inner, routing pointer keys through DynamoDB CAS.
func NewPointerStore(inner blobstore.Store, ddb DDBClient, tableName string) *PointerStore {
	return &PointerStore{
		inner:     inner,
		ddb:       ddb,
		tableName: tableName,
		isPointer: func(key string) bool {
			return strings.HasSuffix(key, "/current.txt")
		},
	}
}

func ddbETag(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

func (s *PointerStore) getPointer(ctx context.Context, key string) ([]byte, string, error) {
	resp, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"pointer_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, "", fmt.Errorf("ddb get pointer: %w", err)
	}
	if resp.Item == nil {
		return nil, "", fmt.Errorf("%w: %s", blobstore.ErrNotFound, key)
	}
	content, _ := resp.Item["content"].(*types.AttributeValueMemberB)
	etag, _ := resp.Item["etag"].(*types.AttributeValueMemberS)
	if content == nil || etag == nil {
		return nil, "", fmt.Errorf("ddb pointer item for %s is malformed", key)
	}
	return content.Value, etag.Value, nil
}

func (s *PointerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.isPointer(key) {
		return s.inner.Get(ctx, key)
	}
	data, _, err := s.getPointer(ctx, key)
	return data, err
}

func (s *PointerStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if !s.isPointer(key) {
		return s.inner.GetRange(ctx, key, offset, length)
	}
	data, _, err := s.getPointer(ctx, key)
	if err != nil {
		return nil, err
	}
	end := int64(len(data))
	if length >= 0 && offset+length < end {
		end = offset + length
	}
	if offset < 0 || offset > int64(len(data)) {
		return nil, fmt.Errorf("range offset %d out of bounds (size %d)", offset, len(data))
	}
	return data[offset:end], nil
}

func (s *PointerStore) Put(ctx context.Context, key string, data []byte) error {
	if !s.isPointer(key) {
		return s.inner.Put(ctx, key, data)
	}
	_, err := s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      s.pointerItem(key, data),
	})
	return err
}

func (s *PointerStore) pointerItem(key string, data []byte) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pointer_key": &types.AttributeValueMemberS{Value: key},
		"content":     &types.AttributeValueMemberB{Value: data},
		"etag":        &types.AttributeValueMemberS{Value: ddbETag(data)},
	}
}

func (s *PointerStore) PutIf(ctx context.Context, key string, data []byte, cond blobstore.Condition) (string, error) {
	if !s.isPointer(key) {
		return s.inner.PutIf(ctx, key, data, cond)
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      s.pointerItem(key, data),
	}
	switch {
	case cond.IfNoneMatch:
		in.ConditionExpression = aws.String("attribute_not_exists(pointer_key)")
	case cond.IfMatch != "":
		in.ConditionExpression = aws.String("etag = :etag")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":etag": &types.AttributeValueMemberS{Value: cond.IfMatch},
		}
	}

	_, err := s.ddb.PutItem(ctx, in)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return "", fmt.Errorf("%w: %s", blobstore.ErrPreconditionFailed, key)
		}
		return "", err
	}
	return ddbETag(data), nil
}

func (s *PointerStore) Head(ctx context.Context, key string) (*blobstore.ObjectInfo, error) {
	if !s.isPointer(key) {
		return s.inner.Head(ctx, key)
	}
	data, etag, err := s.getPointer(ctx, key)
	if err != nil {
		return nil, err
	}
	return &blobstore.ObjectInfo{Key: key, Size: int64(len(data)), ETag: etag}, nil
}

func (s *PointerStore) Delete(ctx context.Context, key string) error {
	if !s.isPointer(key) {
		return s.inner.Delete(ctx, key)
	}
	_, err := s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"pointer_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	return err
}

func (s *PointerStore) List(ctx context.Context, prefix string) ([]string, error) {
	// Pointer keys live in DynamoDB and are not enumerable here; callers
	// resolve pointers by key, never by listing.
	return s.inner.List(ctx, prefix)
}

var _ blobstore.Store = (*PointerStore)(nil)

package s3

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/TileDB-Inc/TileDB-SOMA/blobstore"
)

// currentBlobBase matches the group manifest pointer blob by base name.
const currentBlobBase = "CURRENT"

// ErrConcurrentModification is returned when two writers race on the same
// group manifest pointer.
var ErrConcurrentModification = errors.New("s3: concurrent modification detected")

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CommitStore wraps an S3 backend with a DynamoDB commit log for group
// manifest pointers. S3 has no compare-and-swap, so the pointer blob alone
// cannot serialize concurrent writers; the commit store routes pointer reads
// and writes through DynamoDB conditional puts instead, keyed by the
// pointer's blob name.
//
// All other blobs (manifests, chunks, descriptors) go straight to S3: they
// are immutable once written and need no coordination.
//
// Table schema: partition key pointer_name (S), sort key version (N), with a
// content (S) attribute holding the pointer payload.
type CommitStore struct {
	*Backend
	ddb   DDBClient
	table string
}

// NewCommitStore wraps backend with a DynamoDB commit log in the given table.
func NewCommitStore(backend *Backend, ddb DDBClient, table string) *CommitStore {
	return &CommitStore{Backend: backend, ddb: ddb, table: table}
}

// Put writes a blob. Manifest pointer writes become conditional DynamoDB
// puts; everything else passes through to S3.
func (s *CommitStore) Put(ctx context.Context, name string, data []byte) error {
	if path.Base(name) != currentBlobBase {
		return s.Backend.Put(ctx, name, data)
	}

	version, _, err := s.latest(ctx, name)
	if err != nil {
		return err
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"pointer_name": &types.AttributeValueMemberS{Value: name},
			"version":      &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", version+1)},
			"content":      &types.AttributeValueMemberS{Value: string(data)},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("s3: commit pointer %s: %w", name, err)
	}
	return nil
}

// Open opens a blob. Manifest pointer reads come from the latest committed
// DynamoDB item.
func (s *CommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if path.Base(name) != currentBlobBase {
		return s.Backend.Open(ctx, name)
	}
	version, content, err := s.latest(ctx, name)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return &pointerBlob{content: content}, nil
}

// Stat returns the size of a blob, reading pointer blobs from DynamoDB.
func (s *CommitStore) Stat(ctx context.Context, name string) (int64, error) {
	if path.Base(name) != currentBlobBase {
		return s.Backend.Stat(ctx, name)
	}
	version, content, err := s.latest(ctx, name)
	if err != nil {
		return 0, err
	}
	if version == 0 {
		return 0, blobstore.ErrNotFound
	}
	return int64(len(content)), nil
}

func (s *CommitStore) latest(ctx context.Context, name string) (uint64, []byte, error) {
	resp, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("pointer_name = :name"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: name},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, nil, fmt.Errorf("s3: query commit log: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, nil, nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil, errors.New("s3: commit log item missing version")
	}
	contentAttr, ok := item["content"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, nil, errors.New("s3: commit log item missing content")
	}
	var version uint64
	if _, err := fmt.Sscanf(versionAttr.Value, "%d", &version); err != nil {
		return 0, nil, fmt.Errorf("s3: parse commit version: %w", err)
	}
	return version, []byte(contentAttr.Value), nil
}

type pointerBlob struct {
	content []byte
}

func (b *pointerBlob) Close() error { return nil }

func (b *pointerBlob) Size() int64 { return int64(len(b.content)) }

func (b *pointerBlob) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.content)) {
		return 0, nil
	}
	return copy(p, b.content[off:]), nil
}

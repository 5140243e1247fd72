package s3

import (
	"context"
	"sort"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TileDB-Inc/TileDB-SOMA/blobstore"
)

type fakeDDBItem struct {
	version uint64
	content string
}

// fakeDDB implements DDBClient in memory with conditional-put semantics.
type fakeDDB struct {
	items        map[string][]fakeDDBItem // pointer_name -> committed versions
	conflictOnce bool                     // fail the next conditional put
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{items: make(map[string][]fakeDDBItem)}
}

func (f *fakeDDB) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	name := params.Item["pointer_name"].(*types.AttributeValueMemberS).Value
	version, err := strconv.ParseUint(params.Item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
	if err != nil {
		return nil, err
	}
	content := params.Item["content"].(*types.AttributeValueMemberS).Value

	if f.conflictOnce {
		f.conflictOnce = false
		return nil, &types.ConditionalCheckFailedException{}
	}
	for _, item := range f.items[name] {
		if item.version == version {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	f.items[name] = append(f.items[name], fakeDDBItem{version: version, content: content})
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	name := params.ExpressionAttributeValues[":name"].(*types.AttributeValueMemberS).Value
	items := f.items[name]
	if len(items) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}

	sorted := make([]fakeDDBItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].version > sorted[j].version })

	latest := sorted[0]
	return &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{{
			"pointer_name": &types.AttributeValueMemberS{Value: name},
			"version":      &types.AttributeValueMemberN{Value: strconv.FormatUint(latest.version, 10)},
			"content":      &types.AttributeValueMemberS{Value: latest.content},
		}},
	}, nil
}

func TestCommitStorePointerRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewCommitStore(nil, newFakeDDB(), "soma-commits")

	const name = "a/__meta/CURRENT"

	_, err := store.Open(ctx, name)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	_, err = store.Stat(ctx, name)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Put(ctx, name, []byte("__meta/MANIFEST-000001")))

	data, err := blobstore.ReadAll(ctx, store, name)
	require.NoError(t, err)
	assert.Equal(t, []byte("__meta/MANIFEST-000001"), data)

	size, err := store.Stat(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(len("__meta/MANIFEST-000001")), size)

	// A second commit supersedes the first.
	require.NoError(t, store.Put(ctx, name, []byte("__meta/MANIFEST-000002")))
	data, err = blobstore.ReadAll(ctx, store, name)
	require.NoError(t, err)
	assert.Equal(t, []byte("__meta/MANIFEST-000002"), data)
}

func TestCommitStoreIsolatesPointers(t *testing.T) {
	ctx := context.Background()
	store := NewCommitStore(nil, newFakeDDB(), "soma-commits")

	require.NoError(t, store.Put(ctx, "a/__meta/CURRENT", []byte("one")))
	require.NoError(t, store.Put(ctx, "b/__meta/CURRENT", []byte("two")))

	data, err := blobstore.ReadAll(ctx, store, "a/__meta/CURRENT")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)

	data, err = blobstore.ReadAll(ctx, store, "b/__meta/CURRENT")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func TestCommitStoreDetectsRace(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDB()
	store := NewCommitStore(nil, ddb, "soma-commits")

	const name = "g/__meta/CURRENT"
	require.NoError(t, store.Put(ctx, name, []byte("v1")))

	// Another writer lands its conditional put first.
	ddb.conflictOnce = true
	err := store.Put(ctx, name, []byte("loser"))
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

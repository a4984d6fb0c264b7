package s3

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blockfs/imagestore"
)

// fakeDDBClient is an in-memory DynamoDB fake honoring the conditional
// write the registry relies on.
type fakeDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDDBClient() *fakeDDBClient {
	return &fakeDDBClient{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set := params.Item["image_set"].(*types.AttributeValueMemberS).Value
	version := params.Item["version"].(*types.AttributeValueMemberN).Value
	key := set + ":" + version

	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(version)" {
		if _, exists := f.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}

	f.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	set := params.ExpressionAttributeValues[":set"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range f.items {
		if item["image_set"].(*types.AttributeValueMemberS).Value == set {
			items = append(items, item)
		}
	}

	// Sort by numeric version, descending, as DynamoDB would with
	// ScanIndexForward=false.
	sort.Slice(items, func(i, j int) bool {
		vi := items[i]["version"].(*types.AttributeValueMemberN).Value
		vj := items[j]["version"].(*types.AttributeValueMemberN).Value
		if len(vi) != len(vj) {
			return len(vi) > len(vj)
		}
		return vi > vj
	})

	if params.Limit != nil && int32(len(items)) > *params.Limit {
		items = items[:*params.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func TestRegistryCommitAndLatest(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newFakeDDBClient(), "blockfs-snapshots", "prod-partition")

	_, _, err := registry.Latest(ctx)
	assert.ErrorIs(t, err, imagestore.ErrNotFound)

	v1, err := registry.Commit(ctx, "snap-0001.img")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v1)

	v2, err := registry.Commit(ctx, "snap-0002.img")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2)

	version, name, err := registry.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)
	assert.Equal(t, "snap-0002.img", name)
}

func TestRegistryConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDBClient()

	a := NewRegistry(ddb, "blockfs-snapshots", "prod-partition")
	b := NewRegistry(ddb, "blockfs-snapshots", "prod-partition")

	// Two registries over one table: a commits version 1.
	_, err := a.Commit(ctx, "from-a.img")
	require.NoError(t, err)

	// b reads a's commit and takes version 2.
	_, err = b.Commit(ctx, "from-b.img")
	require.NoError(t, err)

	// Force the conflict directly: a second conditional put of version 2
	// must fail, which is the check Commit relies on.
	_, err = ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String("blockfs-snapshots"),
		Item: map[string]types.AttributeValue{
			"image_set": &types.AttributeValueMemberS{Value: "prod-partition"},
			"version":   &types.AttributeValueMemberN{Value: "2"},
			"image":     &types.AttributeValueMemberS{Value: "dup.img"},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	var condErr *types.ConditionalCheckFailedException
	assert.ErrorAs(t, err, &condErr)

	// Registries in separate image sets never conflict.
	other := NewRegistry(ddb, "blockfs-snapshots", "staging-partition")
	v, err := other.Commit(ctx, "staging.img")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
}

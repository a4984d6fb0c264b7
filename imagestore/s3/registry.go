package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/blockfs/imagestore"
)

// Registry tracks the latest committed snapshot image per partition in
// DynamoDB. S3 has no compare-and-swap, so the latest pointer lives in a
// table with conditional writes; concurrent committers race safely and
// the loser's Commit fails with ErrConcurrentCommit. Commit does not retry.
//
// Table schema:
//   - Partition key: image_set (string) - a name for the partition
//   - Sort key: version (number) - monotonically increasing commit version
//
// Create with:
//
//	aws dynamodb create-table \
//	  --table-name blockfs-snapshots \
//	  --attribute-definitions AttributeName=image_set,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=image_set,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type Registry struct {
	ddb      DDBClient
	table    string
	imageSet string
}

// DDBClient is the subset of the DynamoDB API the registry uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ErrConcurrentCommit is returned when another writer committed the same
// version first; the caller should re-read Latest and retry.
var ErrConcurrentCommit = errors.New("s3: concurrent snapshot commit detected")

// NewRegistry creates a snapshot registry for one partition image set.
func NewRegistry(ddb DDBClient, table, imageSet string) *Registry {
	return &Registry{
		ddb:      ddb,
		table:    table,
		imageSet: imageSet,
	}
}

// Latest returns the most recently committed version and image name.
// A registry with no commits returns imagestore.ErrNotFound.
func (r *Registry) Latest(ctx context.Context) (uint64, string, error) {
	version, name, err := r.latest(ctx)
	if err != nil {
		return 0, "", err
	}
	if version == 0 {
		return 0, "", imagestore.ErrNotFound
	}
	return version, name, nil
}

// Commit records name as the next snapshot version using a conditional
// write. It returns the committed version number.
func (r *Registry) Commit(ctx context.Context, name string) (uint64, error) {
	current, _, err := r.latest(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1

	_, err = r.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item: map[string]types.AttributeValue{
			"image_set": &types.AttributeValueMemberS{Value: r.imageSet},
			"version":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", next)},
			"image":     &types.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, ErrConcurrentCommit
		}
		return 0, fmt.Errorf("commit snapshot version: %w", err)
	}
	return next, nil
}

// latest queries the highest committed version, returning zero when the
// image set has no commits.
func (r *Registry) latest(ctx context.Context) (uint64, string, error) {
	resp, err := r.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("image_set = :set"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":set": &types.AttributeValueMemberS{Value: r.imageSet},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query snapshot registry: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: invalid version attribute in snapshot registry")
	}
	imageAttr, ok := item["image"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: invalid image attribute in snapshot registry")
	}

	var version uint64
	if _, err := fmt.Sscanf(versionAttr.Value, "%d", &version); err != nil {
		return 0, "", fmt.Errorf("parse snapshot version: %w", err)
	}
	return version, imageAttr.Value, nil
}

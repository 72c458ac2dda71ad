// Package dynamokv implements kv.Backend on two DynamoDB tables.
//
// The records table (hash key "pk") holds one item per hash key: its fields
// in the map attribute "f" and a write counter in "version". Index keys get a
// fields-less item there too, so they can be watched like any other key.
// Deleting a stored hash key leaves a tombstone carrying the bumped version
// and an "expires" attribute, so a table with TTL enabled on it (CreateTables
// does this) reclaims tombstones after Config.TombstoneTTL. Deleting a key
// that was never stored writes nothing.
//
// The index table (hash key "ikey", range key "member") holds one item per
// index member. Its local secondary index "rank-index" orders members by a
// string encoding of score then member, which RangeQuery walks.
//
// Commits are single TransactWriteItems calls. Writes to watched keys are
// conditioned on the version seen by Watch. Writes to unwatched hash keys are
// conditioned on the version read at commit time; unwatched index keys are
// bumped unconditionally.
package dynamokv

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/hashdoc/kv"
)

// Attribute and index names.
const (
	AttrPK       = "pk"
	AttrFields   = "f"
	AttrVersion  = "version"
	AttrExpires  = "expires"
	AttrIndexKey = "ikey"
	AttrMember   = "member"
	AttrScore    = "score"
	AttrRank     = "rank"

	RankIndex = "rank-index"
)

// maxTransactItems is DynamoDB's limit on actions per TransactWriteItems call.
const maxTransactItems = 100

// ErrTooManyWrites is returned by Commit when a transaction needs more
// actions than one TransactWriteItems call allows.
var ErrTooManyWrites = errors.New("dynamokv: transaction exceeds 100 items")

// API is the subset of the DynamoDB client dynamokv uses.
// *dynamodb.Client satisfies it.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Config holds the table names.
type Config struct {
	// RecordsTable holds hash keys and version counters.
	// Default: "hashdoc_records"
	RecordsTable string

	// IndexTable holds ordered index members.
	// Default: "hashdoc_index"
	IndexTable string

	// TombstoneTTL is how long a deleted key's tombstone is kept. A watch
	// held longer than this may miss a delete followed by a recreate.
	// Default: 24h
	TombstoneTTL time.Duration
}

// DefaultConfig returns the default table names.
func DefaultConfig() Config {
	return Config{
		RecordsTable: "hashdoc_records",
		IndexTable:   "hashdoc_index",
		TombstoneTTL: 24 * time.Hour,
	}
}

func (c *Config) validate() {
	if c.RecordsTable == "" {
		c.RecordsTable = "hashdoc_records"
	}
	if c.IndexTable == "" {
		c.IndexTable = "hashdoc_index"
	}
	if c.TombstoneTTL <= 0 {
		c.TombstoneTTL = 24 * time.Hour
	}
}

// Backend is a kv.Backend on DynamoDB.
type Backend struct {
	client API
	config Config
	now    func() time.Time
}

var _ kv.Backend = (*Backend)(nil)

// New creates a Backend. Empty table names fall back to DefaultConfig.
func New(client API, config Config) *Backend {
	config.validate()
	return &Backend{client: client, config: config, now: time.Now}
}

// Config returns the effective configuration.
func (b *Backend) Config() Config {
	return b.config
}

// Close is a no-op; the DynamoDB client has nothing to release.
func (b *Backend) Close() error {
	return nil
}

// recordItem is the records-table item for one key.
type recordItem struct {
	PK      string            `dynamodbav:"pk"`
	Fields  map[string]string `dynamodbav:"f,omitempty"`
	Version int64             `dynamodbav:"version"`
	Expires int64             `dynamodbav:"expires,omitempty"`
}

// indexItem is the index-table item for one member.
type indexItem struct {
	IndexKey string  `dynamodbav:"ikey"`
	Member   string  `dynamodbav:"member"`
	Score    float64 `dynamodbav:"score"`
	Rank     string  `dynamodbav:"rank"`
}

func (b *Backend) readItem(ctx context.Context, key string) (recordItem, error) {
	result, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.config.RecordsTable),
		Key:            recordKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return recordItem{}, fmt.Errorf("dynamokv: get %q: %w", key, err)
	}
	item := recordItem{PK: key}
	if result.Item == nil {
		return item, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return recordItem{}, fmt.Errorf("dynamokv: unmarshal %q: %w", key, err)
	}
	return item, nil
}

// ReadAllFields implements kv.Backend.
func (b *Backend) ReadAllFields(ctx context.Context, key string) (map[string]string, error) {
	item, err := b.readItem(ctx, key)
	if err != nil {
		return nil, err
	}
	if item.Fields == nil {
		return map[string]string{}, nil
	}
	return item.Fields, nil
}

// ListFieldNames implements kv.Backend.
func (b *Backend) ListFieldNames(ctx context.Context, key string) ([]string, error) {
	item, err := b.readItem(ctx, key)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(item.Fields))
	for name := range item.Fields {
		names = append(names, name)
	}
	return names, nil
}

// RangeQuery implements kv.Backend.
func (b *Backend) RangeQuery(ctx context.Context, indexKey string, start, stop int64, reverse bool) ([]string, error) {
	if start < 0 || stop < start {
		return nil, nil
	}
	paginator := dynamodb.NewQueryPaginator(b.client, &dynamodb.QueryInput{
		TableName:                aws.String(b.config.IndexTable),
		IndexName:                aws.String(RankIndex),
		KeyConditionExpression:   aws.String("#ik = :ik"),
		ProjectionExpression:     aws.String("#m"),
		ExpressionAttributeNames: map[string]string{"#ik": AttrIndexKey, "#m": AttrMember},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ik": &types.AttributeValueMemberS{Value: indexKey},
		},
		ScanIndexForward: aws.Bool(!reverse),
		ConsistentRead:   aws.Bool(true),
	})

	var members []string
	var rank int64
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamokv: range %q: %w", indexKey, err)
		}
		for _, raw := range page.Items {
			if rank > stop {
				return members, nil
			}
			if rank >= start {
				if v, ok := raw[AttrMember].(*types.AttributeValueMemberS); ok {
					members = append(members, v.Value)
				}
			}
			rank++
		}
	}
	return members, nil
}

// IndexSize implements kv.Backend.
func (b *Backend) IndexSize(ctx context.Context, indexKey string) (int64, error) {
	paginator := dynamodb.NewQueryPaginator(b.client, &dynamodb.QueryInput{
		TableName:                aws.String(b.config.IndexTable),
		KeyConditionExpression:   aws.String("#ik = :ik"),
		ExpressionAttributeNames: map[string]string{"#ik": AttrIndexKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ik": &types.AttributeValueMemberS{Value: indexKey},
		},
		Select:         types.SelectCount,
		ConsistentRead: aws.Bool(true),
	})

	var n int64
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("dynamokv: size %q: %w", indexKey, err)
		}
		n += int64(page.Count)
	}
	return n, nil
}

// Watch implements kv.Backend. It reads each key's current item with a
// consistent read.
func (b *Backend) Watch(ctx context.Context, keys ...string) (kv.Txn, error) {
	watched := make(map[string]recordItem, len(keys))
	for _, key := range keys {
		item, err := b.readItem(ctx, key)
		if err != nil {
			return nil, err
		}
		watched[key] = item
	}
	return &txn{backend: b, watched: watched}, nil
}

func recordKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: key},
	}
}

func memberKey(indexKey, member string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrIndexKey: &types.AttributeValueMemberS{Value: indexKey},
		AttrMember:   &types.AttributeValueMemberS{Value: member},
	}
}

// rank encodes score then member so that string order matches index order.
func rank(score float64, member string) string {
	bits := math.Float64bits(score)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return fmt.Sprintf("%016x", bits) + member
}

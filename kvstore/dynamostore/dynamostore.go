// Package dynamostore implements kvstore.Store on a DynamoDB table.
//
// Table schema:
//   - Partition key: vat (string) - one partition per vat
//   - Sort key: k (string) - the store key, prefixed with "#" because
//     DynamoDB rejects empty key attributes
//   - Attribute v (string) - the value
//
// String sort keys compare by UTF-8 bytes, so GetNextKey is a strongly
// consistent Query with k > prior and Limit 1.
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name vatstore \
//	  --attribute-definitions AttributeName=vat,AttributeType=S AttributeName=k,AttributeType=S \
//	  --key-schema AttributeName=vat,KeyType=HASH AttributeName=k,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/vatstore/kvstore"
)

const keyPrefix = "#"

// ErrMalformedItem is returned when an item lacks the expected attributes.
var ErrMalformedItem = errors.New("dynamostore: malformed item")

// DDBClient is the subset of the DynamoDB API used by Store.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// Store is a kvstore.Store backed by DynamoDB.
type Store struct {
	client    DDBClient
	tableName string
	partition string
}

var _ kvstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPartition sets the partition key value. Default "default".
func WithPartition(p string) Option {
	return func(s *Store) { s.partition = p }
}

// New creates a store on tableName.
func New(client DDBClient, tableName string, opts ...Option) *Store {
	s := &Store{client: client, tableName: tableName, partition: "default"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromDefaultConfig loads the default AWS configuration chain.
func NewFromDefaultConfig(ctx context.Context, tableName string, opts ...Option) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("dynamostore: load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), tableName, opts...), nil
}

func (s *Store) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"vat": &types.AttributeValueMemberS{Value: s.partition},
		"k":   &types.AttributeValueMemberS{Value: keyPrefix + key},
	}
}

// Get implements kvstore.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("dynamostore: get %q: %w", key, err)
	}
	if len(resp.Item) == 0 {
		return "", false, nil
	}
	v, ok := resp.Item["v"].(*types.AttributeValueMemberS)
	if !ok {
		return "", false, fmt.Errorf("%w: %q", ErrMalformedItem, key)
	}
	return v.Value, true, nil
}

// Set implements kvstore.Store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	item := s.itemKey(key)
	item["v"] = &types.AttributeValueMemberS{Value: value}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamostore: set %q: %w", key, err)
	}
	return nil
}

// Delete implements kvstore.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("dynamostore: delete %q: %w", key, err)
	}
	return nil
}

// GetNextKey implements kvstore.Store.
func (s *Store) GetNextKey(ctx context.Context, prior string) (string, bool, error) {
	resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("#p = :vat AND #k > :prior"),
		ExpressionAttributeNames: map[string]string{
			"#p": "vat",
			"#k": "k",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":vat":   &types.AttributeValueMemberS{Value: s.partition},
			":prior": &types.AttributeValueMemberS{Value: keyPrefix + prior},
		},
		ProjectionExpression: aws.String("#k"),
		ScanIndexForward:     aws.Bool(true),
		ConsistentRead:       aws.Bool(true),
		Limit:                aws.Int32(1),
	})
	if err != nil {
		return "", false, fmt.Errorf("dynamostore: next key after %q: %w", prior, err)
	}
	if len(resp.Items) == 0 {
		return "", false, nil
	}
	k, ok := resp.Items[0]["k"].(*types.AttributeValueMemberS)
	if !ok || !strings.HasPrefix(k.Value, keyPrefix) {
		return "", false, ErrMalformedItem
	}
	return strings.TrimPrefix(k.Value, keyPrefix), true, nil
}

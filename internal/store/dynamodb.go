package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
)

// DynamoDBAPI is the subset of *dynamodb.Client used by DynamoDBStore.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBStore keeps entries in a single table keyed by PK/SK and relies on
// the table's TTL attribute for cleanup. DynamoDB sweeps expired items late,
// so reads compare the TTL themselves.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
	now       func() time.Time
}

func NewDynamoDBStore(client DynamoDBAPI, tableName string, logger *logrus.Logger) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *DynamoDBStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      s.item(key, value, ttl),
	})
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to store key in DynamoDB")
		return fmt.Errorf("dynamodb put: %w", err)
	}

	return nil
}

func (s *DynamoDBStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                s.item(key, value, ttl),
		ConditionExpression: aws.String("attribute_not_exists(PK) OR #ttl <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		s.logger.WithError(err).WithField("key", key).Error("Failed to conditionally store key in DynamoDB")
		return false, fmt.Errorf("dynamodb conditional put: %w", err)
	}

	return true, nil
}

func (s *DynamoDBStore) Get(ctx context.Context, key string) (string, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("dynamodb get: %w", err)
	}

	if result.Item == nil {
		return "", ErrNotFound
	}

	ttlAttr, ok := result.Item["TTL"].(*types.AttributeValueMemberN)
	if !ok {
		return "", fmt.Errorf("dynamodb get: item %q has no TTL", key)
	}
	expiresAt, err := strconv.ParseInt(ttlAttr.Value, 10, 64)
	if err != nil {
		return "", fmt.Errorf("dynamodb get: parse TTL: %w", err)
	}
	if expiresAt <= s.now().Unix() {
		return "", ErrNotFound
	}

	valueAttr, ok := result.Item["Value"].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamodb get: item %q has no value", key)
	}

	return valueAttr.Value, nil
}

func (s *DynamoDBStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(key),
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete: %w", err)
	}

	return nil
}

func (s *DynamoDBStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *DynamoDBStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(key),
		ConditionExpression: aws.String("#value = :value AND #ttl > :now"),
		ExpressionAttributeNames: map[string]string{
			"#value": "Value",
			"#ttl":   "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": &types.AttributeValueMemberS{Value: value},
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, fmt.Errorf("dynamodb conditional delete: %w", err)
	}

	return true, nil
}

func (s *DynamoDBStore) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "KV#" + key},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

// TTL is whole seconds, so ttl is rounded up to keep short entries alive.
func (s *DynamoDBStore) item(key, value string, ttl time.Duration) map[string]types.AttributeValue {
	now := s.now()
	expiresAt := now.Add(ttl).Unix()
	if now.Add(ttl).After(time.Unix(expiresAt, 0)) {
		expiresAt++
	}

	item := s.key(key)
	item["Value"] = &types.AttributeValueMemberS{Value: value}
	item["CreatedAt"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)}
	item["TTL"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)}
	return item
}

var _ Store = (*DynamoDBStore)(nil)

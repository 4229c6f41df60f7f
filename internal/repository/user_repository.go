package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/baobao/baobao-user/internal/models"
	"github.com/sirupsen/logrus"
)

// DynamoDBAPI is the subset of *dynamodb.Client used by UserRepository.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoUserRepository keeps users in a single table. Each user is a
// USER#<id> item plus a PHONE#<phone> item that reserves the number; both
// are written in one transaction so a phone can never map to two users.
type DynamoUserRepository struct {
	client    DynamoDBAPI
	tableName string
	logger    *logrus.Logger
}

func NewDynamoUserRepository(client DynamoDBAPI, tableName string, logger *logrus.Logger) *DynamoUserRepository {
	return &DynamoUserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

type phoneItem struct {
	UserID string `dynamodbav:"user_id"`
}

func (r *DynamoUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{ID: id}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(user.GetPK(), user.GetSK()),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var dbUser models.User
	if err := attributevalue.UnmarshalMap(result.Item, &dbUser); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &dbUser, nil
}

func (r *DynamoUserRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	user := &models.User{Phone: phone}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(user.PhonePK(), user.GetSK()),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get phone reservation from DynamoDB")
		return nil, fmt.Errorf("failed to get user by phone: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var ref phoneItem
	if err := attributevalue.UnmarshalMap(result.Item, &ref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal phone reservation: %w", err)
	}

	return r.GetByID(ctx, ref.UserID)
}

func (r *DynamoUserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: user.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: user.GetSK()}

	ref, err := attributevalue.MarshalMap(phoneItem{UserID: user.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal phone reservation: %w", err)
	}
	ref["PK"] = &types.AttributeValueMemberS{Value: user.PhonePK()}
	ref["SK"] = &types.AttributeValueMemberS{Value: user.GetSK()}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                ref,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) && phoneTaken(canceled) {
			return ErrDuplicatePhone
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *DynamoUserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	updateExpression := "SET nickname = :nickname, updated_at = :updated_at"
	expressionAttributeValues := map[string]types.AttributeValue{
		":nickname":   &types.AttributeValueMemberS{Value: user.Nickname},
		":updated_at": &types.AttributeValueMemberS{Value: user.UpdatedAt.Format(time.RFC3339Nano)},
	}
	if user.DueDate != nil {
		updateExpression += ", due_date = :due_date"
		expressionAttributeValues[":due_date"] = &types.AttributeValueMemberS{Value: user.DueDate.Format(time.RFC3339)}
	} else {
		updateExpression += " REMOVE due_date"
	}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       itemKey(user.GetPK(), user.GetSK()),
		UpdateExpression:          aws.String(updateExpression),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: expressionAttributeValues,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrUserNotFound
		}
		r.logger.WithError(err).Error("Failed to update user in DynamoDB")
		return fmt.Errorf("failed to update user: %w", err)
	}

	return nil
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// phoneTaken reports whether the phone reservation, the first item of the
// create transaction, failed its condition.
func phoneTaken(err *types.TransactionCanceledException) bool {
	if len(err.CancellationReasons) == 0 {
		return false
	}
	code := err.CancellationReasons[0].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

var _ UserRepository = (*DynamoUserRepository)(nil)

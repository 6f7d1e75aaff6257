package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

type DynamoDBConfig struct {
	Region string
	Table  string
	// Endpoint overrides the AWS endpoint, e.g. for DynamoDB Local
	Endpoint string
}

// DynamoDB is a Store keeping one item per key in a table whose partition
// key is the string attribute "k". Update is a conditional put on the
// item's version and is safe across processes.
type DynamoDB struct {
	client dynamodbiface.DynamoDBAPI
	table  string
}

var (
	_ Store   = &DynamoDB{}
	_ Updater = &DynamoDB{}
)

// dynamoItem is the shape of an item in the table
type dynamoItem struct {
	Key     string `json:"k"`
	Value   []byte `json:"v"`
	Version int64  `json:"ver"`
}

func NewDynamoDB(config *DynamoDBConfig) (*DynamoDB, error) {
	if config == nil || config.Table == "" {
		return nil, errors.New("kv: must provide dynamodb table")
	}
	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, err
	}
	return NewDynamoDBWithClient(dynamodb.New(sess), config.Table), nil
}

func NewDynamoDBWithClient(client dynamodbiface.DynamoDBAPI, table string) *DynamoDB {
	return &DynamoDB{
		client: client,
		table:  table,
	}
}

func (s *DynamoDB) keyAttr(key string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"k": {S: aws.String(key)},
	}
}

// getItem returns nil item if the key doesn't exist
func (s *DynamoDB) getItem(ctx context.Context, key string) (*dynamoItem, error) {
	res, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("kv: dynamodb get '%s' failed with '%w'", key, err)
	}
	if len(res.Item) == 0 {
		return nil, nil
	}
	var item dynamoItem
	if err = dynamodbattribute.UnmarshalMap(res.Item, &item); err != nil {
		return nil, fmt.Errorf("kv: dynamodb item '%s' is malformed: '%w'", key, err)
	}
	return &item, nil
}

func (s *DynamoDB) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	item, err := s.getItem(ctx, key)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return item.Value, nil
}

func (s *DynamoDB) putItem(ctx context.Context, item *dynamoItem, condition string, values map[string]*dynamodb.AttributeValue) error {
	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("kv: failed to marshal dynamodb item: %w", err)
	}
	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}
	if condition != "" {
		in.ConditionExpression = aws.String(condition)
		in.ExpressionAttributeValues = values
	}
	_, err = s.client.PutItemWithContext(ctx, in)
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
		return ErrConflict
	}
	return err
}

func (s *DynamoDB) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	item := &dynamoItem{
		Key:   key,
		Value: value,
	}
	return s.putItem(ctx, item, "", nil)
}

func (s *DynamoDB) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return retryOnConflict(ctx, func() error {
		item, err := s.getItem(ctx, key)
		if err != nil {
			return err
		}
		var old []byte
		var ver int64
		if item != nil {
			old, ver = item.Value, item.Version
		}
		v, err := fn(old)
		if err != nil {
			return err
		}
		next := &dynamoItem{
			Key:     key,
			Value:   v,
			Version: ver + 1,
		}
		if item == nil {
			return s.putItem(ctx, next, "attribute_not_exists(k)", nil)
		}
		values := map[string]*dynamodb.AttributeValue{
			":ver": {N: aws.String(strconv.FormatInt(ver, 10))},
		}
		return s.putItem(ctx, next, "ver = :ver", values)
	})
}

package kv

import (
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

type fakeItem struct {
	Value   []byte
	Version int64
}

// fakeDynamo implements the two calls DynamoDB store makes, including
// the two condition expressions it uses
type fakeDynamo struct {
	dynamodbiface.DynamoDBAPI

	mu        sync.Mutex
	items     map[string]*fakeItem
	beforePut func()
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		items: map[string]*fakeItem{},
	}
}

func (f *fakeDynamo) GetItemWithContext(ctx aws.Context, in *dynamodb.GetItemInput, opts ...request.Option) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.StringValue(in.Key["k"].S)
	it, ok := f.items[key]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	av, err := dynamodbattribute.MarshalMap(&dynamoItem{Key: key, Value: it.Value, Version: it.Version})
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: av}, nil
}

func (f *fakeDynamo) PutItemWithContext(ctx aws.Context, in *dynamodb.PutItemInput, opts ...request.Option) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beforePut != nil {
		f.beforePut()
	}
	var item dynamoItem
	if err := dynamodbattribute.UnmarshalMap(in.Item, &item); err != nil {
		return nil, err
	}
	cur, exists := f.items[item.Key]
	failed := awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
	switch aws.StringValue(in.ConditionExpression) {
	case "":
	case "attribute_not_exists(k)":
		if exists {
			return nil, failed
		}
	case "ver = :ver":
		want := aws.StringValue(in.ExpressionAttributeValues[":ver"].N)
		if !exists || want != strconv.FormatInt(cur.Version, 10) {
			return nil, failed
		}
	default:
		panic("unsupported condition " + aws.StringValue(in.ConditionExpression))
	}
	f.items[item.Key] = &fakeItem{Value: item.Value, Version: item.Version}
	return &dynamodb.PutItemOutput{}, nil
}

package sink

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Batos41/cloud-computing-hw/failure"
	"github.com/Batos41/cloud-computing-hw/widget"
)

type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoSink stores each widget as one item whose partition key is "id".
// Attributes are flattened into top-level item attributes.
type DynamoSink struct {
	client dynamoAPI

	table    string
	tablePtr *string
}

func NewDynamoSink(client dynamoAPI, table string) *DynamoSink {
	if client == nil {
		panic("dynamodb client is required")
	}
	if strings.TrimSpace(table) == "" {
		panic("table is required")
	}
	s := &DynamoSink{client: client, table: table}
	s.tablePtr = &s.table
	return s
}

// Item returns the DynamoDB item written for w.
func (s *DynamoSink) Item(w widget.Widget) (map[string]ddbtypes.AttributeValue, error) {
	return attributevalue.MarshalMap(w.Fields())
}

func (s *DynamoSink) Write(ctx context.Context, w widget.Widget) error {
	if w.ID == "" {
		return failure.Malformedf("put item", "", "widget has no id")
	}
	item, err := s.Item(w)
	if err != nil {
		return failure.New(failure.Malformed, "marshal item", w.ID, err)
	}

	// PutItem replaces any existing item with the same key.
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: s.tablePtr,
		Item:      item,
	}); err != nil {
		return failure.Classify("put item", w.ID, err)
	}
	return nil
}

func (s *DynamoSink) Delete(ctx context.Context, w widget.Widget) error {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    s.tablePtr,
		Key:          map[string]ddbtypes.AttributeValue{widget.FieldID: &ddbtypes.AttributeValueMemberS{Value: w.ID}},
		ReturnValues: ddbtypes.ReturnValueAllOld,
	})
	if err != nil {
		return failure.Classify("delete item", w.ID, err)
	}
	if len(out.Attributes) == 0 {
		return failure.New(failure.NotFound, "delete item", w.ID, nil)
	}
	return nil
}

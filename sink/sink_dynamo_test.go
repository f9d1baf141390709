package sink

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Batos41/cloud-computing-hw/failure"
	"github.com/Batos41/cloud-computing-hw/widget"
)

var _ Sinkr = (*DynamoSink)(nil)

type fakeDynamo struct {
	mu sync.Mutex

	items map[string]map[string]ddbtypes.AttributeValue

	putCalls    int
	deleteCalls int
	lastTable   string

	putErr error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]ddbtypes.AttributeValue)}
}

func idOf(t *testing.T, m map[string]ddbtypes.AttributeValue) string {
	t.Helper()
	s, ok := m["id"].(*ddbtypes.AttributeValueMemberS)
	require.True(t, ok, "id must be a string attribute")
	return s.Value
}

type fakeDynamoT struct {
	*fakeDynamo
	t *testing.T
}

func (f fakeDynamoT) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	f.lastTable = aws.ToString(in.TableName)
	if f.putErr != nil {
		err := f.putErr
		f.putErr = nil
		return nil, err
	}
	f.items[idOf(f.t, in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f fakeDynamoT) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	id := idOf(f.t, in.Key)
	old, ok := f.items[id]
	delete(f.items, id)
	out := &dynamodb.DeleteItemOutput{}
	if ok && in.ReturnValues == ddbtypes.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

func TestDynamoSink_Write_FlattensAttributes(t *testing.T) {
	f := newFakeDynamo()
	s := NewDynamoSink(fakeDynamoT{f, t}, "test-widget-table")

	w := testWidget()
	require.NoError(t, s.Write(context.Background(), w))

	assert.Equal(t, "test-widget-table", f.lastTable)
	item := f.items[w.ID]
	require.NotNil(t, item)
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "Mary Matthews"}, item["owner"])
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "JWJYY"}, item["label"])
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "cm"}, item["width-unit"])
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "2.580677"}, item["rating"])
	assert.NotContains(t, item, "description")
	assert.NotContains(t, item, "otherAttributes")
}

func TestDynamoSink_Write_NumbersAreNumeric(t *testing.T) {
	f := newFakeDynamo()
	s := NewDynamoSink(fakeDynamoT{f, t}, "tbl")

	w := testWidget()
	w.Attributes = append(w.Attributes, widget.Attribute{Name: "size", Value: int64(5)})
	item, err := s.Item(w)
	require.NoError(t, err)
	assert.Equal(t, &ddbtypes.AttributeValueMemberN{Value: "5"}, item["size"])
}

func TestDynamoSink_Write_IsIdempotent(t *testing.T) {
	f := newFakeDynamo()
	s := NewDynamoSink(fakeDynamoT{f, t}, "tbl")

	require.NoError(t, s.Write(context.Background(), testWidget()))
	first := f.items[testWidget().ID]
	require.NoError(t, s.Write(context.Background(), testWidget()))

	assert.Len(t, f.items, 1)
	assert.Equal(t, first, f.items[testWidget().ID])
}

func TestDynamoSink_Write_ClassifiesErrors(t *testing.T) {
	f := newFakeDynamo()
	f.putErr = &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException"}
	s := NewDynamoSink(fakeDynamoT{f, t}, "tbl")

	err := s.Write(context.Background(), testWidget())
	assert.True(t, errors.Is(err, failure.ErrTransient))

	f.putErr = &smithy.GenericAPIError{Code: "AccessDeniedException"}
	err = s.Write(context.Background(), testWidget())
	assert.True(t, errors.Is(err, failure.ErrPermission))
}

func TestDynamoSink_Delete(t *testing.T) {
	f := newFakeDynamo()
	s := NewDynamoSink(fakeDynamoT{f, t}, "tbl")
	w := testWidget()

	require.NoError(t, s.Write(context.Background(), w))
	require.NoError(t, s.Delete(context.Background(), w))
	assert.Empty(t, f.items)

	err := s.Delete(context.Background(), w)
	assert.True(t, errors.Is(err, failure.ErrNotFound))
	assert.Equal(t, 2, f.deleteCalls)
}

func TestNewDynamoSink_Panics(t *testing.T) {
	assert.Panics(t, func() { NewDynamoSink(nil, "tbl") })
	assert.Panics(t, func() { NewDynamoSink(fakeDynamoT{newFakeDynamo(), t}, "") })
}

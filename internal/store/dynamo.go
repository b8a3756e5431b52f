package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the ledger and record store
// need.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

var _ DynamoAPI = (*dynamodb.Client)(nil)

// DynamoRecordStore implements RecordStore on a DynamoDB table keyed by id.
// PutItem replaces the whole item, which is exactly the upsert contract.
type DynamoRecordStore struct {
	client DynamoAPI
	table  string
}

func NewDynamoRecordStore(client DynamoAPI, table string) *DynamoRecordStore {
	return &DynamoRecordStore{client: client, table: table}
}

func (d *DynamoRecordStore) Upsert(ctx context.Context, rec StudentRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &d.table,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	return nil
}

// DynamoLedger implements Ledger on a DynamoDB table keyed by id (the object
// name). The create is guarded by attribute_not_exists so concurrent callers
// race on the condition, not on the read.
type DynamoLedger struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

func NewDynamoLedger(client DynamoAPI, table string) *DynamoLedger {
	return &DynamoLedger{client: client, table: table, now: time.Now}
}

func (d *DynamoLedger) TryBegin(ctx context.Context, id string, meta BeginMeta) (BeginResult, error) {
	key := map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}

	resp, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &d.table,
		Key:            key,
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return 0, fmt.Errorf("ledger read %s: %w", id, err)
	}

	existing := ""
	if len(resp.Item) > 0 {
		var row ProcessingStatus
		if err := attributevalue.UnmarshalMap(resp.Item, &row); err != nil {
			return 0, fmt.Errorf("ledger decode %s: %w", id, err)
		}
		existing = row.Status
	}

	switch existing {
	case StatusProcessed:
		return AlreadyProcessed, nil
	case StatusProcessing:
		return AlreadyInProgress, nil
	}

	row := ProcessingStatus{
		ID:          id,
		Status:      StatusProcessing,
		ClassName:   meta.ClassName,
		SubjectName: meta.SubjectName,
		TeacherName: meta.TeacherName,
		StartedAt:   d.now(),
	}
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return 0, fmt.Errorf("ledger encode %s: %w", id, err)
	}

	input := &dynamodb.PutItemInput{
		TableName: &d.table,
		Item:      item,
	}
	if existing == StatusFailed {
		// Take over a failed row only while it is still failed.
		input.ConditionExpression = strPtr("#s = :failed")
		input.ExpressionAttributeNames = map[string]string{"#s": "status"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
		}
	} else {
		input.ConditionExpression = strPtr("attribute_not_exists(id)")
	}

	_, err = d.client.PutItem(ctx, input)
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			// Lost the race: another attempt claimed the row between
			// our read and create.
			return AlreadyInProgress, nil
		}
		return 0, fmt.Errorf("ledger begin %s: %w", id, err)
	}
	return Began, nil
}

func (d *DynamoLedger) Complete(ctx context.Context, id string, out Outcome) error {
	ts := d.now().UTC().Format(time.RFC3339)

	var expr string
	names := map[string]string{"#s": "status", "#e": "error"}
	values := map[string]types.AttributeValue{
		":s": &types.AttributeValueMemberS{Value: out.Status},
		":t": &types.AttributeValueMemberS{Value: ts},
	}
	switch out.Status {
	case StatusProcessed:
		expr = "SET #s = :s, #pt = :t REMOVE #e"
		names["#pt"] = "processedAt"
	case StatusFailed:
		expr = "SET #s = :s, #ft = :t, #e = :e"
		names["#ft"] = "failedAt"
		values[":e"] = &types.AttributeValueMemberS{Value: out.Error}
	default:
		return fmt.Errorf("ledger complete %s: invalid terminal status %q", id, out.Status)
	}

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &d.table,
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:          &expr,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("ledger complete %s: %w", id, err)
	}
	return nil
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }

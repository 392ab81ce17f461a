package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/aws"
)

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // default TTL window when creating entries
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: default TTL window (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

func (s *Store) TableName() string { return s.tableName }

// NewRecord builds an IN_PROGRESS record for key without writing it.
// Callers put it inside their own transaction guarded by ClaimCondition.
func (s *Store) NewRecord(key, customerID, orderID, requestHash string) IdempotencyRecord {
	now := s.nowFunc().UTC()
	return IdempotencyRecord{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		OrderID:        orderID,
		CustomerID:     customerID,
		RequestHash:    requestHash,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}
}

// ClaimCondition only lets the first writer of a key succeed.
const ClaimCondition = "attribute_not_exists(idempotency_key)"

// ClaimPut is the transaction item that claims rec.IdempotencyKey.
func (s *Store) ClaimPut(rec IdempotencyRecord) (types.TransactWriteItem, error) {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal record: %w", err)
	}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(ClaimCondition),
	}}, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	input := &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: awsBool(true),
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec IdempotencyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone sets status to DONE and stores the response replayed to retries.
// Business failures (e.g. insufficient funds) are DONE too: a retry with the
// same key gets the same answer.
func (s *Store) MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: awsString("SET #s = :done, response_body = :rb, response_status = :rs, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":rb":   &types.AttributeValueMemberS{Value: responseBody},
			":rs":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", responseStatus)},
			":ua":   &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString("attribute_exists(idempotency_key)"),
		ReturnValues:        types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// MarkFailed marks the idempotency record as FAILED and stores a note.
// Used for infrastructure failures where the outcome is unknown.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: awsString("SET #s = :failed, note = :n, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
			":ua":     &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString("attribute_exists(idempotency_key)"),
		ReturnValues:        types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

// RequestHash fingerprints a purchase so a reused key with a different body
// can be told apart from a genuine retry. Game order does not matter.
func RequestHash(customerID, paymentMethod string, gameIDs []string) string {
	ids := append([]string(nil), gameIDs...)
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(customerID + "\n" + paymentMethod + "\n" + strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:])
}

// Helper
func awsString(s string) *string { return &s }

func awsBool(v bool) *bool { return &v }

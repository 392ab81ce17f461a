package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/dynamotest"
)

func TestClaim_Get_MarkDone_MarkFailed(t *testing.T) {
	mock := dynamotest.New()
	mock.CreateTable("idempotency-table", "idempotency_key")
	s := NewStore(mock, "idempotency-table", 48*time.Hour)

	ctx := context.Background()
	key := "test-key-1"
	orderID := "order-123"

	rec := s.NewRecord(key, "cust-1", orderID, RequestHash("cust-1", "Wallet", []string{"g1"}))
	put, err := s.ClaimPut(rec)
	if err != nil {
		t.Fatalf("ClaimPut error: %v", err)
	}
	if _, err := mock.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{put}}); err != nil {
		t.Fatalf("first claim should succeed: %v", err)
	}

	// second claim of the same key must be cancelled
	if _, err := mock.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{put}}); err == nil {
		t.Fatalf("expected duplicate claim to fail")
	}

	// Get the record
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got == nil {
		t.Fatalf("expected record, got nil")
	}
	if got.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", got.Status)
	}
	if got.OrderID != orderID {
		t.Fatalf("order id mismatch")
	}
	if got.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("expected TTL in the future, got %d", got.ExpiresAt)
	}

	// Mark done
	if err := s.MarkDone(ctx, key, "{\"ok\":true}", 201); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	got, _ = s.Get(ctx, key)
	if got.Status != StatusDone || got.ResponseBody != "{\"ok\":true}" || got.ResponseStatus != 201 {
		t.Fatalf("record not marked done correctly: %+v", got)
	}

	// MarkFailed (should overwrite status)
	if err := s.MarkFailed(ctx, key, "failed-reason"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	got, _ = s.Get(ctx, key)
	if got.Status != StatusFailed || got.Note != "failed-reason" {
		t.Fatalf("record not marked failed correctly: %+v", got)
	}
}

func TestGet_Missing(t *testing.T) {
	mock := dynamotest.New()
	mock.CreateTable("idempotency-table", "idempotency_key")
	s := NewStore(mock, "idempotency-table", time.Hour)

	rec, err := s.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", rec, err)
	}
	if err := s.MarkDone(context.Background(), "nope", "{}", 200); err == nil {
		t.Fatalf("expected MarkDone on a missing key to fail")
	}
}

func TestRequestHash_OrderInsensitive(t *testing.T) {
	a := RequestHash("c1", "Wallet", []string{"g1", "g2"})
	b := RequestHash("c1", "Wallet", []string{"g2", "g1"})
	c := RequestHash("c1", "PayPal", []string{"g1", "g2"})
	if a != b {
		t.Fatalf("hash should not depend on game order")
	}
	if a == c {
		t.Fatalf("hash should depend on payment method")
	}
}

func TestAttributevalueMarshal_Unmarshal(t *testing.T) {
	// ensure our types marshal/unmarshal cleanly
	rec := IdempotencyRecord{
		IdempotencyKey: "k1",
		Status:         StatusInProgress,
		OrderID:        "o1",
		CreatedAt:      time.Now().Round(time.Second),
		UpdatedAt:      time.Now().Round(time.Second),
		ExpiresAt:      time.Now().Add(24 * time.Hour).Unix(),
	}
	m, err := attributevalue.MarshalMap(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out IdempotencyRecord
	if err := attributevalue.UnmarshalMap(m, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.IdempotencyKey != rec.IdempotencyKey {
		t.Fatalf("unmarshal mismatch")
	}
}

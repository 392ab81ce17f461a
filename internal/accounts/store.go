// Package accounts is the customer side of the account store: lookups and
// atomic wallet movements. Registration and credentials live elsewhere.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/aws"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/errs"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/money"
)

type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
	StatusBanned   Status = "Banned"
)

// Customer is the item stored in the customers table.
type Customer struct {
	CustomerID string      `dynamodbav:"customer_id" json:"customer_id"` // PK
	Email      string      `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Balance    money.Money `dynamodbav:"balance" json:"balance"`
	Status     Status      `dynamodbav:"account_status" json:"status"`
	CreatedAt  time.Time   `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `dynamodbav:"updated_at" json:"updated_at"`
}

func (c *Customer) Active() bool { return c.Status == StatusActive }

type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// GetCustomer returns the customer or an errs NotFound failure.
func (s *Store) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyOf(customerID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, errs.NotFound("customer %s", customerID)
	}
	var c Customer
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal customer: %w", err)
	}
	return &c, nil
}

// DebitWallet atomically decrements the balance when it covers amount.
// The check and the decrement are one conditional update, so concurrent
// debits can never drive the balance negative.
func (s *Store) DebitWallet(ctx context.Context, customerID string, amount money.Money) error {
	if amount < 0 {
		return errs.BadRequest("debit amount must not be negative")
	}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(customerID),
		UpdateExpression:    awsString("SET balance = balance - :amt, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(customer_id) AND balance >= :amt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":amt": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", amount)},
			":ua":  &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return fmt.Errorf("debit wallet: %w", err)
	}
	if _, gerr := s.GetCustomer(ctx, customerID); gerr != nil {
		return gerr
	}
	return errs.New(errs.KindInsufficientFunds, "balance does not cover %s", amount)
}

// CreditWallet adds amount back to the balance. Used to compensate a debit
// whose order could not be committed.
func (s *Store) CreditWallet(ctx context.Context, customerID string, amount money.Money) error {
	if amount < 0 {
		return errs.BadRequest("credit amount must not be negative")
	}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(customerID),
		UpdateExpression:    awsString("SET balance = balance + :amt, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(customer_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":amt": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", amount)},
			":ua":  &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return errs.NotFound("customer %s", customerID)
		}
		return fmt.Errorf("credit wallet: %w", err)
	}
	return nil
}

func keyOf(customerID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"customer_id": &types.AttributeValueMemberS{Value: customerID},
	}
}

func awsString(s string) *string { return &s }

func awsBool(v bool) *bool { return &v }
